package collaboration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ColaBD/Backend-ColaBD/internal/telemetry"
	"github.com/charmbracelet/log"
)

/*
LEARNING: DEBOUNCED, CANCELABLE PERSISTENCE

Writing the whole cell list on every keystroke would hammer the store, so a
room is only flushed after it has been quiet for the save delay.

  edit ──> Notify ──> cancel pending task, WAIT for it to exit ──> arm new timer
                                                                    │
                                         quiet for delay ───────────┘
                                                │
                                    snapshot ──> store.Save

Waiting for the superseded task to exit is what guarantees at most one flush
per room is in flight, and that flushes see non-decreasing snapshots. If the
timer had already fired, the in-flight Save sees its context canceled.
*/

// SaveScheduler flushes room documents to the DocumentStore after edits quiesce
type SaveScheduler struct {
	store DocumentStore
	docs  *Documents
	delay time.Duration

	mu    sync.Mutex
	rooms map[string]*saveState

	settled func(roomID string, err error)

	ctx    context.Context
	cancel context.CancelFunc
}

type saveState struct {
	mu     sync.Mutex // serializes timer transitions of one room
	task   *saveTask
	userID string
	saved  atomic.Uint64 // document version of the last successful save
}

type saveTask struct {
	userID string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSaveScheduler creates a scheduler flushing docs into store after delay
func NewSaveScheduler(store DocumentStore, docs *Documents, delay time.Duration) *SaveScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &SaveScheduler{
		store:  store,
		docs:   docs,
		delay:  delay,
		rooms:  make(map[string]*saveState),
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnSettled registers fn to run after every timer-driven save that was not
// superseded. fn runs on its own goroutine. Set it before the first Notify.
func (s *SaveScheduler) OnSettled(fn func(roomID string, err error)) {
	s.settled = fn
}

func (s *SaveScheduler) state(roomID string, create bool) *saveState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.rooms[roomID]
	if st == nil && create {
		st = &saveState{}
		s.rooms[roomID] = st
	}
	return st
}

// Notify (re)arms the room's save timer after an applied operation
func (s *SaveScheduler) Notify(roomID, userID string) {
	st := s.state(roomID, true)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.task != nil {
		st.task.stop()
	}

	if s.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	task := &saveTask{userID: userID, cancel: cancel, done: make(chan struct{})}
	st.task = task
	st.userID = userID

	go s.run(ctx, roomID, st, task)
}

func (t *saveTask) stop() {
	t.cancel()
	<-t.done
}

func (t *saveTask) running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (s *SaveScheduler) run(ctx context.Context, roomID string, st *saveState, task *saveTask) {
	defer close(task.done)

	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		log.Debug("Save: superseded before firing", "schema", roomID)
		return
	case <-timer.C:
	}

	err := s.save(ctx, roomID, task.userID, st)
	if errors.Is(err, context.Canceled) {
		log.Debug("Save: superseded while writing", "schema", roomID)
		return
	}
	if err != nil {
		log.Error("Save: flush failed, will retry", "schema", roomID, "err", err)
	}
	if s.settled != nil {
		go s.settled(roomID, err)
	}
}

func (s *SaveScheduler) save(ctx context.Context, roomID, userID string, st *saveState) error {
	if strings.TrimSpace(roomID) == "" {
		telemetry.SavesTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("save: schema id is empty")
	}
	if strings.TrimSpace(userID) == "" {
		telemetry.SavesTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("save: user id is empty for schema %s", roomID)
	}

	cells, version, ok := s.docs.Snapshot(roomID)
	if !ok {
		telemetry.SavesTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("save: %w: %s", ErrRoomNotLive, roomID)
	}

	start := time.Now()
	err := s.store.Save(ctx, roomID, cells, userID)
	telemetry.SaveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.SavesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("save schema %s: %w", roomID, err)
	}

	st.saved.Store(version)
	telemetry.SavesTotal.WithLabelValues("ok").Inc()
	log.Info("Save: schema persisted", "schema", roomID, "cells", len(cells), "user", userID)
	return nil
}

// Flush cancels the room's pending timer and saves right away if the
// document changed since the last successful save
func (s *SaveScheduler) Flush(ctx context.Context, roomID string) error {
	st := s.state(roomID, false)
	if st == nil {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.task != nil {
		st.task.stop()
		st.task = nil
	}

	doc := s.docs.Get(roomID)
	if doc == nil || doc.Version() == st.saved.Load() {
		return nil
	}

	return s.save(ctx, roomID, st.userID, st)
}

// Retry re-arms the room's timer on behalf of the last editor
func (s *SaveScheduler) Retry(roomID string) {
	st := s.state(roomID, false)
	if st == nil {
		return
	}

	st.mu.Lock()
	userID := st.userID
	st.mu.Unlock()

	if userID != "" {
		s.Notify(roomID, userID)
	}
}

// Pending reports whether a save timer is armed or a save is in flight
func (s *SaveScheduler) Pending(roomID string) bool {
	st := s.state(roomID, false)
	if st == nil {
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	return st.task != nil && st.task.running()
}

// Forget drops the bookkeeping of a room after it has been torn down.
// Call Flush first; a pending task is canceled without saving.
func (s *SaveScheduler) Forget(roomID string) {
	s.mu.Lock()
	st := s.rooms[roomID]
	delete(s.rooms, roomID)
	s.mu.Unlock()

	if st == nil {
		return
	}

	st.mu.Lock()
	if st.task != nil {
		st.task.stop()
		st.task = nil
	}
	st.mu.Unlock()
}

// Stop cancels every pending task and waits for them to exit
func (s *SaveScheduler) Stop() {
	s.cancel()

	s.mu.Lock()
	states := make([]*saveState, 0, len(s.rooms))
	for _, st := range s.rooms {
		states = append(states, st)
	}
	s.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		if st.task != nil {
			<-st.task.done
		}
		st.mu.Unlock()
	}
}
