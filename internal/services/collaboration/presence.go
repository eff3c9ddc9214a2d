package collaboration

import (
	"sort"
	"sync"
	"time"

	"github.com/ColaBD/Backend-ColaBD/internal/models"
)

// PresenceTracker keeps the latest cursor of every user per room.
// Learning: presence is ephemeral, last write wins and nothing is persisted.
type PresenceTracker struct {
	now func() time.Time

	mu    sync.Mutex
	rooms map[string]*presenceRoom
}

type presenceRoom struct {
	mu      sync.RWMutex
	cursors map[string]models.CursorPosition // user id -> cursor
}

// NewPresenceTracker creates an empty tracker
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		now:   time.Now,
		rooms: make(map[string]*presenceRoom),
	}
}

func (p *PresenceTracker) room(schemaID string, create bool) *presenceRoom {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.rooms[schemaID]
	if r == nil && create {
		r = &presenceRoom{cursors: make(map[string]models.CursorPosition)}
		p.rooms[schemaID] = r
	}
	return r
}

// Update records userID's cursor in schemaID and returns the stamped position
func (p *PresenceTracker) Update(userID, userName string, x, y float64, color, schemaID string) models.CursorPosition {
	cursor := models.NewCursorPosition(userID, userName, x, y, color, p.now())

	r := p.room(schemaID, true)
	r.mu.Lock()
	r.cursors[userID] = cursor
	r.mu.Unlock()

	return cursor
}

// Remove drops userID's cursor and reports whether one existed
func (p *PresenceTracker) Remove(userID, schemaID string) bool {
	r := p.room(schemaID, false)
	if r == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.cursors[userID]
	delete(r.cursors, userID)
	return ok
}

// RemoveAll drops userID's presence in schemaID on disconnect. A user has a
// single cursor per room.
func (p *PresenceTracker) RemoveAll(userID, schemaID string) bool {
	return p.Remove(userID, schemaID)
}

// Cursors lists the cursors of schemaID except excludeUserID's, ordered by
// user id
func (p *PresenceTracker) Cursors(schemaID, excludeUserID string) []models.CursorPosition {
	r := p.room(schemaID, false)
	if r == nil {
		return []models.CursorPosition{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	cursors := make([]models.CursorPosition, 0, len(r.cursors))
	for userID, c := range r.cursors {
		if userID == excludeUserID {
			continue
		}
		cursors = append(cursors, c)
	}

	sort.Slice(cursors, func(i, j int) bool { return cursors[i].UserID < cursors[j].UserID })
	return cursors
}

// CloseRoom forgets every cursor of schemaID
func (p *PresenceTracker) CloseRoom(schemaID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.rooms, schemaID)
}
