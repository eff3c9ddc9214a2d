package collaboration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ColaBD/Backend-ColaBD/internal/models"
	"github.com/stretchr/testify/require"
)

type savedCall struct {
	SchemaID string
	Cells    []models.Cell
	UserID   string
	At       time.Time
}

// fakeStore records every save. Block makes Save wait for its context.
type fakeStore struct {
	mu      sync.Mutex
	stored  map[string][]models.Cell
	saves   []savedCall
	loadErr error
	saveErr error
	block   bool
	loads   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{stored: make(map[string][]models.Cell)}
}

func (f *fakeStore) Load(_ context.Context, schemaID string) ([]models.Cell, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.loads++
	if f.loadErr != nil {
		return nil, false, f.loadErr
	}
	cells, ok := f.stored[schemaID]
	return models.CloneCells(cells), ok, nil
}

func (f *fakeStore) Save(ctx context.Context, schemaID string, cells []models.Cell, userID string) error {
	f.mu.Lock()
	block, saveErr := f.block, f.saveErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.saves = append(f.saves, savedCall{SchemaID: schemaID, Cells: models.CloneCells(cells), UserID: userID, At: time.Now()})
	if saveErr != nil {
		return saveErr
	}
	f.stored[schemaID] = models.CloneCells(cells)
	return nil
}

func (f *fakeStore) set(fn func(f *fakeStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeStore) saveCalls() []savedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]savedCall(nil), f.saves...)
}

func (f *fakeStore) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func tableCell(id string) models.Cell {
	return models.Cell{
		"id":       id,
		"type":     models.CellTypeTable,
		"position": map[string]any{"x": 0.0, "y": 0.0},
		"size":     map[string]any{"width": 100.0, "height": 50.0},
		"attrs":    map[string]any{},
	}
}

func linkCell(id, source, target string) models.Cell {
	return models.Cell{
		"id":     id,
		"type":   models.CellTypeLink,
		"source": map[string]any{"id": source},
		"target": map[string]any{"id": target},
		"labels": []any{map[string]any{"attrs": map[string]any{"text": map[string]any{"text": "1:N"}}}},
		"attrs":  map[string]any{},
	}
}

// frame is a decoded outbound message
type frame struct {
	Type models.MessageType `json:"type"`
	Data json.RawMessage    `json:"data"`
}

func (f frame) object(t *testing.T) map[string]any {
	t.Helper()
	var obj map[string]any
	require.NoError(t, json.Unmarshal(f.Data, &obj))
	return obj
}

func (f frame) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(f.Data, v))
}

// nextFrame waits for the next frame queued to s
func nextFrame(t *testing.T, s *Session) frame {
	t.Helper()
	select {
	case raw := <-s.Send:
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame queued for session %s", s.ID)
		return frame{}
	}
}

// expectFrame skips frames until one of type t arrives
func expectFrame(t *testing.T, s *Session, typ models.MessageType) frame {
	t.Helper()
	for {
		f := nextFrame(t, s)
		if f.Type == typ {
			return f
		}
	}
}

// requireNoFrame asserts nothing is queued to s
func requireNoFrame(t *testing.T, s *Session) {
	t.Helper()
	select {
	case raw := <-s.Send:
		t.Fatalf("unexpected frame for session %s: %s", s.ID, raw)
	default:
	}
}

func drain(s *Session) {
	for {
		select {
		case <-s.Send:
		default:
			return
		}
	}
}

func message(t *testing.T, typ models.MessageType, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"type": typ, "data": data})
	require.NoError(t, err)
	return raw
}
