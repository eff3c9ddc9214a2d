package repository

import (
	"context"
	"sync"

	"github.com/ColaBD/Backend-ColaBD/internal/models"
)

// MemoryStore keeps cell lists in process memory. Used for local runs
// without a database and in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	cells  map[string][]models.Cell
	saves  map[string]int
	savers map[string]string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cells:  make(map[string][]models.Cell),
		saves:  make(map[string]int),
		savers: make(map[string]string),
	}
}

// Load returns a copy of the stored cells
func (s *MemoryStore) Load(_ context.Context, schemaID string) ([]models.Cell, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cells, ok := s.cells[schemaID]
	if !ok {
		return nil, false, nil
	}
	return models.CloneCells(cells), true, nil
}

// Save replaces the stored cells with a copy
func (s *MemoryStore) Save(ctx context.Context, schemaID string, cells []models.Cell, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cells[schemaID] = models.CloneCells(cells)
	s.saves[schemaID]++
	s.savers[schemaID] = userID
	return nil
}

// Saves returns how many times schemaID was saved and by whom last
func (s *MemoryStore) Saves(schemaID string) (int, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.saves[schemaID], s.savers[schemaID]
}
