package repository

import (
	"context"

	"github.com/ColaBD/Backend-ColaBD/internal/models"
	"github.com/ColaBD/Backend-ColaBD/internal/telemetry"
	"github.com/charmbracelet/log"
)

// CellStore is the load/save contract every backend here satisfies
type CellStore interface {
	Load(ctx context.Context, schemaID string) ([]models.Cell, bool, error)
	Save(ctx context.Context, schemaID string, cells []models.Cell, userID string) error
}

// CellCache is a best-effort cache of saved cell lists
type CellCache interface {
	Get(ctx context.Context, schemaID string) ([]models.Cell, bool, error)
	Set(ctx context.Context, schemaID string, cells []models.Cell) error
	Delete(ctx context.Context, schemaID string) error
}

// CachedStore puts a read-through, write-through cache in front of a store.
// Cache failures are logged and never fail a load or save.
type CachedStore struct {
	store CellStore
	cache CellCache
}

// NewCachedStore wraps store with cache
func NewCachedStore(store CellStore, cache CellCache) *CachedStore {
	return &CachedStore{store: store, cache: cache}
}

// Load answers from the cache, falling back to the store and filling the
// cache on a miss
func (s *CachedStore) Load(ctx context.Context, schemaID string) ([]models.Cell, bool, error) {
	cells, ok, err := s.cache.Get(ctx, schemaID)
	switch {
	case err != nil:
		log.Warn("Cache: lookup failed, reading store", "schema", schemaID, "err", err)
	case ok:
		telemetry.CacheHitsTotal.Inc()
		return cells, true, nil
	}
	telemetry.CacheMissesTotal.Inc()

	cells, found, err := s.store.Load(ctx, schemaID)
	if err != nil || !found {
		return cells, found, err
	}

	if err := s.cache.Set(ctx, schemaID, cells); err != nil {
		log.Warn("Cache: fill failed", "schema", schemaID, "err", err)
	}
	return cells, true, nil
}

// Save writes the store first; the cache is refreshed only after the store
// accepted the cells and is dropped if refreshing fails
func (s *CachedStore) Save(ctx context.Context, schemaID string, cells []models.Cell, userID string) error {
	if err := s.store.Save(ctx, schemaID, cells, userID); err != nil {
		return err
	}

	// The store already holds these cells; a canceled caller must not leave
	// the previous entry behind
	cacheCtx := context.WithoutCancel(ctx)
	if err := s.cache.Set(cacheCtx, schemaID, cells); err != nil {
		log.Warn("Cache: refresh failed, invalidating", "schema", schemaID, "err", err)
		if err := s.cache.Delete(cacheCtx, schemaID); err != nil {
			log.Error("Cache: invalidation failed, entry may be stale", "schema", schemaID, "err", err)
		}
	}
	return nil
}
