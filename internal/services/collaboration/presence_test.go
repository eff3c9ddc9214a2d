package collaboration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPresenceTracker_UpdateIsUpsert(t *testing.T) {
	clock := newFakeClock()
	p := NewPresenceTracker()
	p.now = clock.Now

	first := p.Update("u1", "Ana", 1, 2, "#f00", "s1")
	require.Equal(t, clock.Now().UnixMilli(), first.Timestamp)

	clock.Advance(time.Second)
	p.Update("u1", "Ana", 5, 6, "#f00", "s1")
	p.Update("u2", "Bia", 0, 0, "#0f0", "s1")

	cursors := p.Cursors("s1", "")
	require.Len(t, cursors, 2)
	require.Equal(t, "u1", cursors[0].UserID)
	require.Equal(t, 5.0, cursors[0].X)
	require.Equal(t, clock.Now().UnixMilli(), cursors[0].Timestamp)

	others := p.Cursors("s1", "u1")
	require.Len(t, others, 1)
	require.Equal(t, "u2", others[0].UserID)
}

func TestPresenceTracker_RemoveIsIdempotent(t *testing.T) {
	p := NewPresenceTracker()
	p.Update("u1", "Ana", 1, 2, "#f00", "s1")

	require.True(t, p.RemoveAll("u1", "s1"))
	require.False(t, p.RemoveAll("u1", "s1"))
	require.False(t, p.Remove("u1", "elsewhere"))
	require.Empty(t, p.Cursors("s1", ""))
}

func TestPresenceTracker_RoomsAreIndependent(t *testing.T) {
	p := NewPresenceTracker()
	p.Update("u1", "Ana", 1, 2, "#f00", "s1")
	p.Update("u1", "Ana", 3, 4, "#f00", "s2")

	p.CloseRoom("s1")
	require.Empty(t, p.Cursors("s1", ""))
	require.Len(t, p.Cursors("s2", ""), 1)
}
