package collaboration

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ColaBD/Backend-ColaBD/internal/models"
	"github.com/ColaBD/Backend-ColaBD/internal/telemetry"
	"github.com/charmbracelet/log"
)

/*
LEARNING: ADVISORY LOCKS WITH TTL

A lock tells other editors "someone is working on this table" - nothing stops
a write at the storage layer. Each element is either Unlocked or
LockedBy(user):

  acquire on free element        -> LockedBy(me)
  acquire on expired lock        -> release it, then acquire (one retry)
  acquire on my own lock         -> refresh expiry
  acquire on someone else's lock -> refused, reply names the owner
  release by non-owner           -> refused, no forced takeover

Expired locks disappear lazily (on the next access) and through a reaper
goroutine per room, so a crashed client can never hold an element forever.
Everything for one room is serialized behind that room's mutex.
*/

const (
	msgLockAcquired = "lock acquired"
	msgLockRenewed  = "lock renewed"
	msgLockHeld     = "element is being edited by another user"
	msgLockMissing  = "lock does not exist or was already released"
	msgLockNotOwner = "only the user holding the lock can release it"
	msgLockReleased = "lock released"
)

// ExpireFunc is called with the locks a reaper sweep removed
type ExpireFunc func(schemaID string, expired []models.Lock)

// LockConfig configures a LockManager
type LockConfig struct {
	TTL          time.Duration    // default lock lifetime
	ReapInterval time.Duration    // how often each room is swept
	Now          func() time.Time // clock, time.Now when nil
	OnExpire     ExpireFunc       // optional reaper notification
}

// LockManager owns the lock tables of every room that has seen a lock
type LockManager struct {
	cfg LockConfig

	mu    sync.Mutex
	rooms map[string]*lockRoom

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type lockRoom struct {
	mu     sync.Mutex
	locks  map[string]*models.Lock        // element id -> lock
	byUser map[string]map[string]struct{} // user id -> element ids
	cancel context.CancelFunc
}

// NewLockManager creates a lock manager; reapers start lazily per room
func NewLockManager(cfg LockConfig) *LockManager {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LockManager{
		cfg:    cfg,
		rooms:  make(map[string]*lockRoom),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetOnExpire installs the reaper notification. Call before the first Acquire.
func (m *LockManager) SetOnExpire(fn ExpireFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg.OnExpire = fn
}

// TTL returns the default lock lifetime
func (m *LockManager) TTL() time.Duration {
	return m.cfg.TTL
}

// room returns the lock table of schemaID, creating it and starting its
// reaper when create is set
func (m *LockManager) room(schemaID string, create bool) *lockRoom {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.rooms[schemaID]
	if r != nil || !create || m.ctx.Err() != nil {
		return r
	}

	ctx, cancel := context.WithCancel(m.ctx)
	r = &lockRoom{
		locks:  make(map[string]*models.Lock),
		byUser: make(map[string]map[string]struct{}),
		cancel: cancel,
	}
	m.rooms[schemaID] = r

	m.wg.Add(1)
	go m.reap(ctx, schemaID, r, m.cfg.OnExpire)

	log.Debug("Locks: reaper started", "schema", schemaID)
	return r
}

// Acquire locks elementID for userID. A ttl <= 0 uses the default.
func (m *LockManager) Acquire(elementID, userID, schemaID string, ttl time.Duration) models.LockResult {
	if ttl <= 0 {
		ttl = m.cfg.TTL
	}

	r := m.room(schemaID, true)
	if r == nil {
		return models.LockResult{ElementID: elementID, UserID: userID, Message: ErrManagerClosed.Error()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := m.cfg.Now()

	// An expired lock is released and the acquisition retried once; the
	// second pass always finds the slot free.
	for attempt := 0; attempt < 2; attempt++ {
		existing, ok := r.locks[elementID]
		if !ok {
			lock := models.NewLock(elementID, userID, schemaID, now, ttl)
			r.locks[elementID] = lock
			r.track(userID, elementID)

			telemetry.LockRequests.WithLabelValues("acquire", "acquired").Inc()
			log.Debug("Locks: acquired", "schema", schemaID, "element", elementID, "user", userID)
			return granted(lock, msgLockAcquired)
		}

		if existing.Expired(now) {
			log.Info("Locks: dropping expired lock", "schema", schemaID, "element", elementID, "owner", existing.UserID)
			r.remove(existing)
			continue
		}

		if existing.UserID == userID {
			existing.Refresh(now, ttl)
			telemetry.LockRequests.WithLabelValues("acquire", "renewed").Inc()
			return granted(existing, msgLockRenewed)
		}

		telemetry.LockRequests.WithLabelValues("acquire", "refused").Inc()
		expires := existing.ExpiresAt
		return models.LockResult{
			Success:      false,
			ElementID:    elementID,
			UserID:       existing.UserID,
			LockedByUser: false,
			Message:      msgLockHeld,
			ExpiresAt:    &expires,
		}
	}

	// unreachable: the second iteration always takes the free-slot branch
	return models.LockResult{ElementID: elementID, UserID: userID, Message: msgLockHeld}
}

func granted(lock *models.Lock, message string) models.LockResult {
	expires := lock.ExpiresAt
	return models.LockResult{
		Success:      true,
		ElementID:    lock.ElementID,
		UserID:       lock.UserID,
		LockedByUser: true,
		Message:      message,
		ExpiresAt:    &expires,
	}
}

// Release unlocks elementID if userID holds it
func (m *LockManager) Release(elementID, userID, schemaID string) models.LockResult {
	r := m.room(schemaID, false)
	if r == nil {
		telemetry.LockRequests.WithLabelValues("release", "missing").Inc()
		return models.LockResult{ElementID: elementID, UserID: userID, Message: msgLockMissing}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.release(elementID, userID)
}

func (r *lockRoom) release(elementID, userID string) models.LockResult {
	lock, ok := r.locks[elementID]
	if !ok {
		telemetry.LockRequests.WithLabelValues("release", "missing").Inc()
		return models.LockResult{ElementID: elementID, UserID: userID, Message: msgLockMissing}
	}

	if lock.UserID != userID {
		telemetry.LockRequests.WithLabelValues("release", "refused").Inc()
		log.Warn("Locks: release by non-owner refused", "element", elementID, "user", userID, "owner", lock.UserID)
		return models.LockResult{ElementID: elementID, UserID: lock.UserID, Message: msgLockNotOwner}
	}

	r.remove(lock)
	telemetry.LockRequests.WithLabelValues("release", "released").Inc()
	return models.LockResult{
		Success:      true,
		ElementID:    elementID,
		UserID:       userID,
		LockedByUser: true,
		Message:      msgLockReleased,
	}
}

func (r *lockRoom) track(userID, elementID string) {
	elements := r.byUser[userID]
	if elements == nil {
		elements = make(map[string]struct{})
		r.byUser[userID] = elements
	}
	elements[elementID] = struct{}{}
}

func (r *lockRoom) remove(lock *models.Lock) {
	delete(r.locks, lock.ElementID)
	if elements := r.byUser[lock.UserID]; elements != nil {
		delete(elements, lock.ElementID)
		if len(elements) == 0 {
			delete(r.byUser, lock.UserID)
		}
	}
}

// LockInfo returns the active lock on elementID as seen by userID
func (m *LockManager) LockInfo(elementID, userID, schemaID string) (models.LockedElement, bool) {
	r := m.room(schemaID, false)
	if r == nil {
		return models.LockedElement{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[elementID]
	if !ok {
		return models.LockedElement{}, false
	}
	if lock.Expired(m.cfg.Now()) {
		r.remove(lock)
		return models.LockedElement{}, false
	}

	return models.LockedElement{
		ElementID:    elementID,
		UserID:       lock.UserID,
		LockedByUser: lock.UserID == userID,
		ExpiresAt:    lock.ExpiresAt,
	}, true
}

// RoomLocks lists the active locks of a room as seen by viewerID, evicting
// expired ones on the way. Results are ordered by element id.
func (m *LockManager) RoomLocks(schemaID, viewerID string) []models.LockedElement {
	r := m.room(schemaID, false)
	if r == nil {
		return []models.LockedElement{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := m.cfg.Now()
	active := make([]models.LockedElement, 0, len(r.locks))
	for _, lock := range r.locks {
		if lock.Expired(now) {
			r.remove(lock)
			continue
		}
		active = append(active, models.LockedElement{
			ElementID:    lock.ElementID,
			UserID:       lock.UserID,
			LockedByUser: viewerID != "" && lock.UserID == viewerID,
			ExpiresAt:    lock.ExpiresAt,
		})
	}

	sort.Slice(active, func(i, j int) bool { return active[i].ElementID < active[j].ElementID })
	return active
}

// ReleaseAll drops every lock userID holds in schemaID and returns the
// element ids that were released
func (m *LockManager) ReleaseAll(userID, schemaID string) []string {
	r := m.room(schemaID, false)
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	elements := r.byUser[userID]
	released := make([]string, 0, len(elements))
	for elementID := range elements {
		if res := r.release(elementID, userID); res.Success {
			released = append(released, elementID)
		}
	}
	delete(r.byUser, userID)

	sort.Strings(released)
	if len(released) > 0 {
		log.Info("Locks: released all for user", "schema", schemaID, "user", userID, "count", len(released))
	}
	return released
}

// Sweep removes every expired lock of a room and returns them
func (m *LockManager) Sweep(schemaID string) []models.Lock {
	r := m.room(schemaID, false)
	if r == nil {
		return nil
	}
	return r.sweep(m.cfg.Now())
}

func (r *lockRoom) sweep(now time.Time) []models.Lock {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []models.Lock
	for _, lock := range r.locks {
		if lock.Expired(now) {
			expired = append(expired, *lock)
			r.remove(lock)
		}
	}
	return expired
}

// reap sweeps one room on a fixed interval until the room is closed
func (m *LockManager) reap(ctx context.Context, schemaID string, r *lockRoom, onExpire ExpireFunc) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("Locks: reaper stopped", "schema", schemaID)
			return
		case <-ticker.C:
			expired := r.sweep(m.cfg.Now())
			if len(expired) == 0 {
				continue
			}
			telemetry.LocksReaped.Add(float64(len(expired)))
			log.Info("Locks: reaper removed expired locks", "schema", schemaID, "count", len(expired))
			// Called without the room mutex held
			if onExpire != nil {
				onExpire(schemaID, expired)
			}
		}
	}
}

// CloseRoom stops the reaper of schemaID and forgets its locks
func (m *LockManager) CloseRoom(schemaID string) {
	m.mu.Lock()
	r := m.rooms[schemaID]
	delete(m.rooms, schemaID)
	m.mu.Unlock()

	if r != nil {
		r.cancel()
		log.Debug("Locks: room closed", "schema", schemaID)
	}
}

// Close stops every reaper and waits for them to exit
func (m *LockManager) Close() {
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	m.rooms = make(map[string]*lockRoom)
	m.mu.Unlock()
}
