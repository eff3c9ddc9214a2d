package collaboration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ColaBD/Backend-ColaBD/internal/middleware"
	"github.com/ColaBD/Backend-ColaBD/internal/models"
	"github.com/ColaBD/Backend-ColaBD/internal/telemetry"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

/*
LEARNING: ROOM-SCOPED SESSION COORDINATOR

Every schema being edited is a "room". The coordinator binds connections to
rooms and routes their frames to the engine parts:

  document ops      -> Documents.Apply -> SaveScheduler.Notify -> broadcast
  lock / unlock     -> LockManager     -> reply + notify the room
  cursor move/leave -> PresenceTracker -> broadcast
  disconnect        -> release locks + cursor -> notify the room

Each room has ONE mutex (the room's mutation section). Applying an op,
re-arming its save timer and queueing the broadcast happen inside it, so
every member sees the room's edits in the same order. Different rooms never
contend with each other.

Lock order, when both are needed: SessionManager.mu before room.mu.

Room lifecycle:
  first join  -> hydrate document from storage
  last leave  -> drop locks and cursors, flush pending save, evict document
A join that arrives while a room is being torn down waits for the teardown
to finish and then hydrates a fresh copy.

If the final save fails the document is NOT evicted. It stays resident with
its save timer re-armed until a save succeeds, and a join in the meantime
picks up the resident copy instead of the stale stored one.
*/

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // must be below pongWait

	maxMessageSize = 1 << 20
	teardownWait   = 10 * time.Second
)

// Options tunes the session manager
type Options struct {
	SaveDelay        time.Duration // quiet period before a room is persisted
	LockTTL          time.Duration // default lifetime of an element lock
	LockReapInterval time.Duration // how often expired locks are swept
	SendBuffer       int           // outbound frames queued per connection
	IdleTimeout      time.Duration // connections silent for longer are closed, 0 disables
}

func (o *Options) withDefaults() {
	if o.SaveDelay <= 0 {
		o.SaveDelay = 2 * time.Second
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 30 * time.Second
	}
	if o.LockReapInterval <= 0 {
		o.LockReapInterval = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
}

// SessionManager coordinates every live room and connection
type SessionManager struct {
	opts Options

	docs     *Documents
	saver    *SaveScheduler
	locks    *LockManager
	presence *PresenceTracker

	mu      sync.Mutex
	rooms   map[string]*room
	closing map[string]chan struct{} // rooms being torn down
	closed  bool
	stopped atomic.Bool // set with closed; read under room.mu

	now  func() time.Time
	done chan struct{}
	wg   sync.WaitGroup
}

type room struct {
	id string

	mu       sync.Mutex // the room's mutation section
	sessions map[*Session]struct{}

	refs int // joined sessions plus joins in progress, guarded by SessionManager.mu
}

// Session is one WebSocket connection bound to a room
type Session struct {
	*models.Session
	Conn *websocket.Conn
	Send chan []byte // buffered outbound frames

	manager    *SessionManager
	room       *room
	lastActive atomic.Int64      // unix nanos
	origin     trace.SpanContext // handshake span, linked from every frame span

	closeOnce sync.Once
	closed    chan struct{}
	leaveOnce sync.Once
}

// NewSessionManager wires the engine parts around store
func NewSessionManager(store DocumentStore, opts Options) *SessionManager {
	opts.withDefaults()

	docs := NewDocuments(store)
	m := &SessionManager{
		opts:     opts,
		docs:     docs,
		saver:    NewSaveScheduler(store, docs, opts.SaveDelay),
		presence: NewPresenceTracker(),
		rooms:    make(map[string]*room),
		closing:  make(map[string]chan struct{}),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	m.locks = NewLockManager(LockConfig{
		TTL:          opts.LockTTL,
		ReapInterval: opts.LockReapInterval,
		OnExpire:     m.onLocksExpired,
	})
	m.saver.OnSettled(m.onSaveSettled)
	return m
}

// NewSession wraps a connection for userID in schemaID
func (m *SessionManager) NewSession(conn *websocket.Conn, schemaID, userID string) *Session {
	s := &Session{
		Session: models.NewSession(schemaID, userID),
		Conn:    conn,
		Send:    make(chan []byte, m.opts.SendBuffer),
		manager: m,
		closed:  make(chan struct{}),
	}
	s.touch()
	return s
}

// Start launches the idle connection sweeper
func (m *SessionManager) Start() {
	if m.opts.IdleTimeout <= 0 {
		log.Info("🔄 Session manager started", "idle_timeout", "disabled")
		return
	}

	m.wg.Add(1)
	go m.cleanupLoop()

	log.Info("🔄 Session manager started", "idle_timeout", m.opts.IdleTimeout)
}

// Join binds s to its room, hydrating the room on first use, and pushes the
// current schema state to s
func (m *SessionManager) Join(ctx context.Context, s *Session) error {
	roomID := s.SchemaID

	r, err := m.reserve(roomID)
	if err != nil {
		return err
	}

	m.docs.Hydrate(ctx, roomID)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s] = struct{}{}
	s.room = r

	state := m.roomState(roomID, s.UserID)
	if msg, err := encodeMessage(models.MessageSchemaState, state); err == nil {
		s.enqueue(msg)
	} else {
		log.Error("Join: failed to encode schema state", "schema", roomID, "err", err)
	}

	m.broadcast(r, models.MessageUserJoined, userNotice{UserID: s.UserID, SessionID: s.ID}, s)

	telemetry.ActiveConnections.Inc()
	log.Info("Join: session joined room", "schema", roomID, "session", s.ID, "user", s.UserID, "members", len(r.sessions))
	return nil
}

// reserve returns the live room of roomID, creating it if needed, and counts
// one more reference on it. It waits for a teardown in progress.
func (m *SessionManager) reserve(roomID string) (*room, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrManagerClosed
		}

		if wait, ok := m.closing[roomID]; ok {
			m.mu.Unlock()
			<-wait
			continue
		}

		r := m.rooms[roomID]
		if r == nil {
			r = &room{id: roomID, sessions: make(map[*Session]struct{})}
			m.rooms[roomID] = r
			telemetry.ActiveRooms.Inc()
		}
		r.refs++
		m.mu.Unlock()
		return r, nil
	}
}

// Leave unbinds s from its room, releasing the user's locks and cursor. The
// last session out tears the room down. Safe to call more than once.
func (m *SessionManager) Leave(s *Session) {
	s.leaveOnce.Do(func() {
		r := s.room
		if r == nil {
			return
		}

		r.mu.Lock()
		delete(r.sessions, s)

		for _, elementID := range m.locks.ReleaseAll(s.UserID, r.id) {
			m.broadcast(r, models.MessageElementUnlocked, lockNotice{ElementID: elementID, UserID: s.UserID}, nil)
		}
		if m.presence.RemoveAll(s.UserID, r.id) {
			m.broadcast(r, models.MessageCursorLeft, cursorLeft{UserID: s.UserID}, nil)
		}
		m.broadcast(r, models.MessageUserLeft, userNotice{UserID: s.UserID, SessionID: s.ID}, nil)
		remaining := len(r.sessions)
		r.mu.Unlock()

		telemetry.ActiveConnections.Dec()
		log.Info("Leave: session left room", "schema", r.id, "session", s.ID, "user", s.UserID, "remaining", remaining)

		m.release(r)
	})
}

// release drops one reference on r and tears the room down when it was the
// last one
func (m *SessionManager) release(r *room) {
	m.mu.Lock()
	r.refs--
	if r.refs > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, r.id)
	wait := make(chan struct{})
	m.closing[r.id] = wait
	m.mu.Unlock()

	m.teardown(r.id, wait)
	telemetry.ActiveRooms.Dec()
}

// teardown closes an idle room and lets waiting joins through. The caller
// registered wait in m.closing.
func (m *SessionManager) teardown(roomID string, wait chan struct{}) {
	defer func() {
		m.mu.Lock()
		delete(m.closing, roomID)
		m.mu.Unlock()
		close(wait)
	}()

	m.locks.CloseRoom(roomID)
	m.presence.CloseRoom(roomID)

	ctx, cancel := context.WithTimeout(context.Background(), teardownWait)
	defer cancel()

	if err := m.saver.Flush(ctx, roomID); err != nil {
		log.Error("Teardown: final save failed, keeping document resident", "schema", roomID, "err", err)
		m.saver.Retry(roomID)
		return
	}
	m.saver.Forget(roomID)
	m.docs.Evict(roomID)

	log.Info("Teardown: room closed", "schema", roomID)
}

// onSaveSettled finishes closing a room that no session holds anymore but
// whose document was kept resident after a failed final save
func (m *SessionManager) onSaveSettled(roomID string, err error) {
	m.mu.Lock()
	_, live := m.rooms[roomID]
	_, busy := m.closing[roomID]
	if m.closed || live || busy || !m.docs.Live(roomID) {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.saver.Retry(roomID)
		return
	}
	wait := make(chan struct{})
	m.closing[roomID] = wait
	m.mu.Unlock()

	m.teardown(roomID, wait)
}

// HandleMessage routes one inbound frame of s
func (m *SessionManager) HandleMessage(ctx context.Context, s *Session, raw []byte) error {
	s.touch()

	r := s.room
	if r == nil {
		log.Warn("HandleMessage: session has no room, dropping frame", "session", s.ID)
		return fmt.Errorf("%w: session %s", ErrRoomNotLive, s.ID)
	}

	env, err := decodeEnvelope(raw)
	if err != nil {
		m.replyError(s, err)
		return err
	}

	// Each frame is its own trace; the handshake span ended long ago
	ctx, span := middleware.StartRootSpan(ctx, "Collaboration.HandleMessage", s.origin,
		attribute.String("schema.id", r.id),
		attribute.String("session.id", s.ID),
		attribute.String("message.type", string(env.Type)),
	)
	defer span.End()

	if err := m.dispatch(r, s, env); err != nil {
		middleware.AddSpanError(ctx, err)
		if errors.Is(err, ErrUnknownMessage) {
			log.Warn("HandleMessage: unknown frame dropped", "schema", r.id, "type", env.Type)
		} else {
			log.Warn("HandleMessage: frame rejected", "schema", r.id, "type", env.Type, "err", err)
			m.replyError(s, err)
		}
		return err
	}
	return nil
}

func (m *SessionManager) dispatch(r *room, s *Session, env Envelope) error {
	switch env.Type {
	case models.MessageCreateElement, models.MessageDeleteElement,
		models.MessageUpdateElement, models.MessageMoveElement:
		return m.applyOperation(r, s, env)

	case models.MessageLockElement:
		ref, err := decodeElementRef(env)
		if err != nil {
			return err
		}
		r.mu.Lock()
		defer r.mu.Unlock()

		res := m.locks.Acquire(ref.ElementID, s.UserID, r.id, 0)
		m.reply(s, models.MessageLockResult, res)
		if res.Success {
			m.broadcast(r, models.MessageElementLocked, lockNotice{ElementID: res.ElementID, UserID: res.UserID, ExpiresAt: res.ExpiresAt}, s)
		}
		return nil

	case models.MessageUnlockElement:
		ref, err := decodeElementRef(env)
		if err != nil {
			return err
		}
		r.mu.Lock()
		defer r.mu.Unlock()

		res := m.locks.Release(ref.ElementID, s.UserID, r.id)
		m.reply(s, models.MessageUnlockResult, res)
		if res.Success {
			m.broadcast(r, models.MessageElementUnlocked, lockNotice{ElementID: res.ElementID, UserID: res.UserID}, s)
		}
		return nil

	case models.MessageListLocks:
		m.reply(s, models.MessageLockedElements, lockedElements{LockedElements: m.locks.RoomLocks(r.id, s.UserID)})
		return nil

	case models.MessageCursorMove:
		var move cursorMove
		if err := decodeInto(env, &move); err != nil {
			return err
		}
		// The connection's identity wins over any user_id in the payload
		cursor := m.presence.Update(s.UserID, move.UserName, move.X, move.Y, move.Color, r.id)

		r.mu.Lock()
		defer r.mu.Unlock()
		m.broadcast(r, models.MessageCursorUpdate, cursor, s)
		return nil

	case models.MessageCursorLeave:
		m.presence.Remove(s.UserID, r.id)

		r.mu.Lock()
		defer r.mu.Unlock()
		m.broadcast(r, models.MessageCursorLeft, cursorLeft{UserID: s.UserID}, s)
		return nil
	}

	return fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
}

func (m *SessionManager) applyOperation(r *room, s *Session, env Envelope) error {
	op, payload, err := decodeOperation(env.Type, env.Data)
	if err != nil {
		return err
	}
	relayed, _ := env.Type.BroadcastType()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Shutdown has flushed or is flushing this room
	if m.stopped.Load() {
		return ErrManagerClosed
	}
	if err := m.docs.Apply(r.id, op); err != nil {
		return err
	}
	m.saver.Notify(r.id, s.UserID)
	m.broadcast(r, relayed, enrich(payload, s.UserID, m.now()), s)

	telemetry.OperationsApplied.WithLabelValues(string(op.Kind())).Inc()
	log.Debug("Operation applied", "schema", r.id, "kind", op.Kind(), "element", op.ElementID(), "user", s.UserID)
	return nil
}

func decodeElementRef(env Envelope) (elementRef, error) {
	var ref elementRef
	if err := decodeInto(env, &ref); err != nil {
		return ref, err
	}
	if ref.ElementID == "" {
		return ref, fmt.Errorf("%w: %s without element_id", ErrMalformedMessage, env.Type)
	}
	return ref, nil
}

func decodeInto(env Envelope, v any) error {
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedMessage, env.Type, err)
	}
	return nil
}

// onLocksExpired tells a room about locks the reaper removed. Runs on the
// reaper goroutine without any lock-table mutex held.
func (m *SessionManager) onLocksExpired(schemaID string, expired []models.Lock) {
	m.mu.Lock()
	r := m.rooms[schemaID]
	m.mu.Unlock()
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, lock := range expired {
		// Someone may have taken the element again since the sweep
		if _, held := m.locks.LockInfo(lock.ElementID, "", schemaID); held {
			continue
		}
		m.broadcast(r, models.MessageElementUnlocked, lockNotice{ElementID: lock.ElementID, UserID: lock.UserID}, nil)
	}
}

// broadcast queues a frame to every member of r except skip. Callers hold r.mu.
func (m *SessionManager) broadcast(r *room, t models.MessageType, data any, skip *Session) {
	msg, err := encodeMessage(t, data)
	if err != nil {
		log.Error("Broadcast: encode failed", "schema", r.id, "type", t, "err", err)
		return
	}

	for s := range r.sessions {
		if s == skip {
			continue
		}
		s.enqueue(msg)
	}
}

func (m *SessionManager) reply(s *Session, t models.MessageType, data any) {
	msg, err := encodeMessage(t, data)
	if err != nil {
		log.Error("Reply: encode failed", "session", s.ID, "type", t, "err", err)
		return
	}
	s.enqueue(msg)
}

func (m *SessionManager) replyError(s *Session, err error) {
	m.reply(s, models.MessageError, errorMessage{Message: err.Error()})
}

// RoomState returns the live state of schemaID as seen by viewerID
func (m *SessionManager) RoomState(schemaID, viewerID string) (SchemaState, bool) {
	if m.docs.Get(schemaID) == nil {
		return SchemaState{}, false
	}
	return m.roomState(schemaID, viewerID), true
}

func (m *SessionManager) roomState(schemaID, viewerID string) SchemaState {
	cells, _, ok := m.docs.Snapshot(schemaID)
	if !ok || cells == nil {
		cells = []models.Cell{}
	}
	return SchemaState{
		SchemaID:       schemaID,
		Cells:          cells,
		LockedElements: m.locks.RoomLocks(schemaID, viewerID),
		Cursors:        m.presence.Cursors(schemaID, viewerID),
	}
}

// Flush persists a live room right away if it has unsaved edits
func (m *SessionManager) Flush(ctx context.Context, schemaID string) error {
	if m.docs.Get(schemaID) == nil {
		return fmt.Errorf("%w: %s", ErrRoomNotLive, schemaID)
	}
	return m.saver.Flush(ctx, schemaID)
}

// Locks exposes the lock manager
func (m *SessionManager) Locks() *LockManager {
	return m.locks
}

// Presence exposes the presence tracker
func (m *SessionManager) Presence() *PresenceTracker {
	return m.presence
}

// cleanupLoop periodically closes connections that went silent
func (m *SessionManager) cleanupLoop() {
	defer m.wg.Done()

	interval := m.opts.IdleTimeout / 2
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup kicks sessions idle for longer than the idle timeout
func (m *SessionManager) cleanup() {
	cutoff := m.now().Add(-m.opts.IdleTimeout).UnixNano()

	for _, s := range m.sessions() {
		if s.lastActive.Load() < cutoff {
			log.Info("Cleanup: closing idle session", "schema", s.SchemaID, "session", s.ID, "user", s.UserID)
			s.kick()
		}
	}
}

func (m *SessionManager) sessions() []*Session {
	m.mu.Lock()
	rooms := make([]*room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	var all []*Session
	for _, r := range rooms {
		r.mu.Lock()
		for s := range r.sessions {
			all = append(all, s)
		}
		r.mu.Unlock()
	}
	return all
}

// Shutdown closes every connection, flushes every live room and stops the
// background workers. New joins are refused from the first call on.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	log.Info("🛑 Shutting down session manager...")

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopped.Store(true)
	close(m.done)
	m.mu.Unlock()

	// sessions() takes every room.mu, so an edit in progress lands before
	// the flush below and later ones see stopped
	for _, s := range m.sessions() {
		s.kick()
	}

	var errs []error
	for _, roomID := range m.docs.LiveRooms() {
		if err := m.saver.Flush(ctx, roomID); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", roomID, err))
		}
	}

	m.wg.Wait()
	m.saver.Stop()
	m.locks.Close()

	if err := errors.Join(errs...); err != nil {
		log.Error("Session manager shutdown with unsaved rooms", "err", err)
		return err
	}
	log.Info("✓ Session manager shutdown complete")
	return nil
}

// Session methods

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// Done is closed once the session has been kicked
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// enqueue queues msg without blocking. A full buffer means the client cannot
// keep up, and the session is closed.
func (s *Session) enqueue(msg []byte) bool {
	select {
	case <-s.closed:
		return false
	default:
	}

	select {
	case s.Send <- msg:
		return true
	default:
		telemetry.DroppedMessages.Inc()
		log.Warn("⚠️  Session buffer full, closing connection", "session", s.ID, "schema", s.SchemaID)
		s.kick()
		return false
	}
}

// kick asks the session to close; WritePump sends the close frame
func (s *Session) kick() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

// ReadPump reads frames until the connection drops, then leaves the room
// Learning: Each session has its own goroutine reading from the WebSocket
func (s *Session) ReadPump(ctx context.Context) {
	defer func() {
		s.manager.Leave(s)
		s.kick()
		s.Conn.Close()
	}()

	s.Conn.SetReadLimit(maxMessageSize)
	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		s.touch()
		return nil
	})

	for {
		_, message, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn("ReadPump: connection error", "session", s.ID, "err", err)
			}
			return
		}

		// Errors were already logged and answered
		_ = s.manager.HandleMessage(ctx, s, message)
	}
}

// WritePump writes queued frames and keeps the connection alive with pings
// Learning: Separate goroutine for writing prevents blocking on slow clients
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case <-s.closed:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug("WritePump: write failed", "session", s.ID, "err", err)
				s.kick()
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.kick()
				return
			}
		}
	}
}
