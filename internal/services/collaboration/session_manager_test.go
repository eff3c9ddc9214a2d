package collaboration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ColaBD/Backend-ColaBD/internal/models"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, store *fakeStore, opts Options) *SessionManager {
	t.Helper()

	m := NewSessionManager(store, opts)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

// join connects userID to schema s1 and consumes its schema_state
func join(t *testing.T, m *SessionManager, userID string) (*Session, SchemaState) {
	t.Helper()

	s := m.NewSession(nil, "s1", userID)
	require.NoError(t, m.Join(context.Background(), s))

	var state SchemaState
	expectFrame(t, s, models.MessageSchemaState).decode(t, &state)
	return s, state
}

func send(t *testing.T, m *SessionManager, s *Session, typ models.MessageType, data any) error {
	t.Helper()
	return m.HandleMessage(context.Background(), s, message(t, typ, data))
}

func TestSessionManager_JoinPushesState(t *testing.T) {
	store := newFakeStore()
	store.stored["s1"] = []models.Cell{tableCell("t1")}
	m := newTestManager(t, store, Options{SaveDelay: time.Hour})

	alice, state := join(t, m, "alice")
	require.Equal(t, "s1", state.SchemaID)
	require.Equal(t, []string{"t1"}, ids(state.Cells))
	require.Empty(t, state.LockedElements)
	require.Empty(t, state.Cursors)

	require.NoError(t, send(t, m, alice, models.MessageLockElement, map[string]any{"element_id": "t1"}))
	require.NoError(t, send(t, m, alice, models.MessageCursorMove, map[string]any{"user_name": "Alice", "x": 5, "y": 6, "color": "#f00"}))
	drain(alice)

	bob, state := join(t, m, "bob")
	require.Len(t, state.LockedElements, 1)
	require.Equal(t, "alice", state.LockedElements[0].UserID)
	require.False(t, state.LockedElements[0].LockedByUser)
	require.Len(t, state.Cursors, 1)
	require.Equal(t, "alice", state.Cursors[0].UserID)

	joined := expectFrame(t, alice, models.MessageUserJoined).object(t)
	require.Equal(t, "bob", joined["user_id"])
	require.Equal(t, bob.ID, joined["session_id"])
	requireNoFrame(t, bob)
}

func TestSessionManager_OperationIsRelayedAndSaved(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, Options{SaveDelay: 20 * time.Millisecond})

	alice, state := join(t, m, "alice")
	require.Empty(t, state.Cells)
	bob, _ := join(t, m, "bob")
	drain(alice)

	before := time.Now().UnixMilli()
	require.NoError(t, send(t, m, alice, models.MessageCreateElement, tableCell("t1")))

	created := expectFrame(t, bob, models.MessageElementCreated).object(t)
	require.Equal(t, "t1", created["id"])
	require.Equal(t, "table", created["type"])
	require.Equal(t, "alice", created["user_id"])
	require.GreaterOrEqual(t, int64(created["timestamp"].(float64)), before)
	requireNoFrame(t, alice)

	live, ok := m.RoomState("s1", "bob")
	require.True(t, ok)
	require.Equal(t, []string{"t1"}, ids(live.Cells))

	require.Eventually(t, func() bool { return len(store.saveCalls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	saved := store.saveCalls()[0]
	require.Equal(t, "s1", saved.SchemaID)
	require.Equal(t, "alice", saved.UserID)
	require.Equal(t, []string{"t1"}, ids(saved.Cells))
}

func TestSessionManager_EditsKeepOneOrderPerRoom(t *testing.T) {
	m := newTestManager(t, newFakeStore(), Options{SaveDelay: time.Hour})

	observer, _ := join(t, m, "observer")
	writers := make([]*Session, 2)
	for i := range writers {
		writers[i], _ = join(t, m, fmt.Sprintf("writer-%d", i))
	}
	drain(observer)

	var wg sync.WaitGroup
	for i, w := range writers {
		wg.Add(1)
		go func(i int, w *Session) {
			defer wg.Done()
			for n := 0; n < 20; n++ {
				_ = send(t, m, w, models.MessageCreateElement, tableCell(fmt.Sprintf("w%d-%d", i, n)))
			}
		}(i, w)
	}
	wg.Wait()

	var relayed []string
	for len(relayed) < 40 {
		f := expectFrame(t, observer, models.MessageElementCreated)
		relayed = append(relayed, f.object(t)["id"].(string))
	}

	state, ok := m.RoomState("s1", "observer")
	require.True(t, ok)
	require.Equal(t, ids(state.Cells), relayed)
}

func TestSessionManager_LockNotifications(t *testing.T) {
	m := newTestManager(t, newFakeStore(), Options{SaveDelay: time.Hour})

	alice, _ := join(t, m, "alice")
	bob, _ := join(t, m, "bob")
	drain(alice)

	require.NoError(t, send(t, m, alice, models.MessageLockElement, map[string]any{"element_id": "t1"}))

	var res models.LockResult
	expectFrame(t, alice, models.MessageLockResult).decode(t, &res)
	require.True(t, res.Success)
	require.True(t, res.LockedByUser)

	locked := expectFrame(t, bob, models.MessageElementLocked).object(t)
	require.Equal(t, "t1", locked["element_id"])
	require.Equal(t, "alice", locked["user_id"])

	require.NoError(t, send(t, m, bob, models.MessageLockElement, map[string]any{"element_id": "t1"}))
	expectFrame(t, bob, models.MessageLockResult).decode(t, &res)
	require.False(t, res.Success)
	require.Equal(t, "alice", res.UserID)
	requireNoFrame(t, alice)

	require.NoError(t, send(t, m, bob, models.MessageListLocks, nil))
	var list lockedElements
	expectFrame(t, bob, models.MessageLockedElements).decode(t, &list)
	require.Len(t, list.LockedElements, 1)
	require.False(t, list.LockedElements[0].LockedByUser)

	require.NoError(t, send(t, m, bob, models.MessageUnlockElement, map[string]any{"element_id": "t1"}))
	expectFrame(t, bob, models.MessageUnlockResult).decode(t, &res)
	require.False(t, res.Success)

	require.NoError(t, send(t, m, alice, models.MessageUnlockElement, map[string]any{"element_id": "t1"}))
	expectFrame(t, alice, models.MessageUnlockResult).decode(t, &res)
	require.True(t, res.Success)
	unlocked := expectFrame(t, bob, models.MessageElementUnlocked).object(t)
	require.Equal(t, "t1", unlocked["element_id"])
}

func TestSessionManager_CursorUsesConnectionIdentity(t *testing.T) {
	m := newTestManager(t, newFakeStore(), Options{SaveDelay: time.Hour})

	alice, _ := join(t, m, "alice")
	bob, _ := join(t, m, "bob")
	drain(alice)

	require.NoError(t, send(t, m, alice, models.MessageCursorMove, map[string]any{
		"user_id": "mallory", "user_name": "Alice", "x": 10.5, "y": 20, "color": "#00f",
	}))

	var cursor models.CursorPosition
	expectFrame(t, bob, models.MessageCursorUpdate).decode(t, &cursor)
	require.Equal(t, "alice", cursor.UserID)
	require.Equal(t, 10.5, cursor.X)
	require.NotZero(t, cursor.Timestamp)
	requireNoFrame(t, alice)

	require.NoError(t, send(t, m, alice, models.MessageCursorLeave, nil))
	left := expectFrame(t, bob, models.MessageCursorLeft).object(t)
	require.Equal(t, "alice", left["user_id"])
	require.Empty(t, m.Presence().Cursors("s1", ""))
}

func TestSessionManager_DisconnectReleasesLocksAndPresence(t *testing.T) {
	m := newTestManager(t, newFakeStore(), Options{SaveDelay: time.Hour})

	alice, _ := join(t, m, "alice")
	bob, _ := join(t, m, "bob")
	drain(alice)

	for _, id := range []string{"A", "B"} {
		require.NoError(t, send(t, m, alice, models.MessageLockElement, map[string]any{"element_id": id}))
	}
	require.NoError(t, send(t, m, alice, models.MessageCursorMove, map[string]any{"user_name": "Alice", "x": 1, "y": 1, "color": "#f00"}))
	drain(bob)

	m.Leave(alice)
	m.Leave(alice)

	var got []string
	for i := 0; i < 4; i++ {
		f := nextFrame(t, bob)
		obj := f.object(t)
		require.Equal(t, "alice", obj["user_id"])
		if f.Type == models.MessageElementUnlocked {
			got = append(got, obj["element_id"].(string))
			continue
		}
		got = append(got, string(f.Type))
	}
	require.Equal(t, []string{"A", "B", string(models.MessageCursorLeft), string(models.MessageUserLeft)}, got)
	requireNoFrame(t, bob)

	require.Empty(t, m.Presence().Cursors("s1", ""))
	for _, id := range []string{"A", "B"} {
		require.True(t, m.Locks().Acquire(id, "bob", "s1", 0).Success)
	}
}

func TestSessionManager_BadFrames(t *testing.T) {
	m := newTestManager(t, newFakeStore(), Options{SaveDelay: time.Hour})
	alice, _ := join(t, m, "alice")

	err := m.HandleMessage(context.Background(), alice, []byte("{not json"))
	require.ErrorIs(t, err, ErrMalformedMessage)
	require.NotEmpty(t, expectFrame(t, alice, models.MessageError).object(t)["message"])

	err = send(t, m, alice, models.MessageLockElement, map[string]any{})
	require.ErrorIs(t, err, ErrMalformedMessage)
	expectFrame(t, alice, models.MessageError)

	err = send(t, m, alice, models.MessageMoveElement, map[string]any{"id": "t1"})
	require.ErrorIs(t, err, ErrMalformedMessage)
	expectFrame(t, alice, models.MessageError)

	err = send(t, m, alice, "teleport_element", map[string]any{"id": "t1"})
	require.ErrorIs(t, err, ErrUnknownMessage)
	requireNoFrame(t, alice)

	stranger := m.NewSession(nil, "s1", "stranger")
	require.ErrorIs(t, send(t, m, stranger, models.MessageListLocks, nil), ErrRoomNotLive)
}

func TestSessionManager_LastLeaveFlushesAndRejoinReloads(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, Options{SaveDelay: time.Hour})

	alice, _ := join(t, m, "alice")
	require.NoError(t, send(t, m, alice, models.MessageCreateElement, tableCell("t1")))
	require.NoError(t, send(t, m, alice, models.MessageLockElement, map[string]any{"element_id": "t1"}))

	m.Leave(alice)

	saves := store.saveCalls()
	require.Len(t, saves, 1)
	require.Equal(t, []string{"t1"}, ids(saves[0].Cells))
	_, live := m.RoomState("s1", "alice")
	require.False(t, live)
	require.ErrorIs(t, m.Flush(context.Background(), "s1"), ErrRoomNotLive)

	_, state := join(t, m, "bob")
	require.Equal(t, []string{"t1"}, ids(state.Cells))
	require.Empty(t, state.LockedElements)
	require.Equal(t, 2, store.loadCount())
}

func TestSessionManager_FailedFinalSaveKeepsDocumentResident(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errors.New("connection refused")
	m := newTestManager(t, store, Options{SaveDelay: 20 * time.Millisecond})

	alice, _ := join(t, m, "alice")
	require.NoError(t, send(t, m, alice, models.MessageCreateElement, tableCell("t1")))
	m.Leave(alice)

	require.True(t, m.docs.Live("s1"))
	require.Eventually(t, func() bool { return len(store.saveCalls()) >= 2 }, 2*time.Second, 10*time.Millisecond)

	// A join while the store is down gets the unsaved edits, not a reload
	bob, state := join(t, m, "bob")
	require.Equal(t, []string{"t1"}, ids(state.Cells))
	require.Equal(t, 1, store.loadCount())
	m.Leave(bob)
	require.True(t, m.docs.Live("s1"))

	store.set(func(f *fakeStore) { f.saveErr = nil })
	require.Eventually(t, func() bool { return !m.docs.Live("s1") }, 2*time.Second, 10*time.Millisecond)

	var stored []models.Cell
	store.set(func(f *fakeStore) { stored = f.stored["s1"] })
	require.Equal(t, []string{"t1"}, ids(stored))

	_, state = join(t, m, "carol")
	require.Equal(t, []string{"t1"}, ids(state.Cells))
	require.Equal(t, 2, store.loadCount())
}

func TestSessionManager_FlushPersistsLiveRoom(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, Options{SaveDelay: time.Hour})

	alice, _ := join(t, m, "alice")
	require.NoError(t, send(t, m, alice, models.MessageCreateElement, tableCell("t1")))

	require.NoError(t, m.Flush(context.Background(), "s1"))
	require.Len(t, store.saveCalls(), 1)
}

func TestSessionManager_ReaperBroadcastsExpiredLocks(t *testing.T) {
	m := newTestManager(t, newFakeStore(), Options{
		SaveDelay:        time.Hour,
		LockTTL:          30 * time.Millisecond,
		LockReapInterval: 10 * time.Millisecond,
	})

	alice, _ := join(t, m, "alice")
	bob, _ := join(t, m, "bob")
	drain(alice)

	require.NoError(t, send(t, m, alice, models.MessageLockElement, map[string]any{"element_id": "t1"}))
	expectFrame(t, bob, models.MessageElementLocked)

	unlocked := expectFrame(t, bob, models.MessageElementUnlocked).object(t)
	require.Equal(t, "t1", unlocked["element_id"])
	require.Equal(t, "alice", unlocked["user_id"])
	require.Empty(t, m.Locks().RoomLocks("s1", ""))
}

func TestSessionManager_SlowConsumerIsKicked(t *testing.T) {
	m := newTestManager(t, newFakeStore(), Options{SaveDelay: time.Hour, SendBuffer: 1})

	// schema_state fills alice's buffer and is never read
	alice := m.NewSession(nil, "s1", "alice")
	require.NoError(t, m.Join(context.Background(), alice))

	bob := m.NewSession(nil, "s1", "bob")
	require.NoError(t, m.Join(context.Background(), bob))

	select {
	case <-alice.Done():
	case <-time.After(time.Second):
		t.Fatal("slow session was not closed")
	}

	select {
	case <-bob.Done():
		t.Fatal("healthy session was closed")
	default:
	}
}

func TestSessionManager_IdleSessionsAreClosed(t *testing.T) {
	m := newTestManager(t, newFakeStore(), Options{SaveDelay: time.Hour, IdleTimeout: time.Minute})

	alice, _ := join(t, m, "alice")
	bob, _ := join(t, m, "bob")

	alice.lastActive.Store(time.Now().Add(-2 * time.Minute).UnixNano())
	m.cleanup()

	select {
	case <-alice.Done():
	default:
		t.Fatal("idle session was not closed")
	}
	select {
	case <-bob.Done():
		t.Fatal("active session was closed")
	default:
	}
}

func TestSessionManager_ShutdownFlushesAndRefusesJoins(t *testing.T) {
	store := newFakeStore()
	m := NewSessionManager(store, Options{SaveDelay: time.Hour})

	alice, _ := join(t, m, "alice")
	require.NoError(t, send(t, m, alice, models.MessageCreateElement, tableCell("t1")))

	require.NoError(t, m.Shutdown(context.Background()))
	require.Len(t, store.saveCalls(), 1)

	select {
	case <-alice.Done():
	default:
		t.Fatal("session survived shutdown")
	}

	// A frame read before the kick took effect is refused, not lost
	require.ErrorIs(t, send(t, m, alice, models.MessageCreateElement, tableCell("t2")), ErrManagerClosed)
	require.Len(t, store.saveCalls(), 1)
	require.Equal(t, []string{"t1"}, ids(store.saveCalls()[0].Cells))

	late := m.NewSession(nil, "s1", "bob")
	require.ErrorIs(t, m.Join(context.Background(), late), ErrManagerClosed)
	require.NoError(t, m.Shutdown(context.Background()))
}
