package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/ColaBD/Backend-ColaBD/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	entries map[string][]models.Cell
	getErr  error
	setErr  error
	deleted []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]models.Cell)}
}

func (c *fakeCache) Get(_ context.Context, schemaID string) ([]models.Cell, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	cells, ok := c.entries[schemaID]
	return cells, ok, nil
}

// Set and Delete fail on a canceled context like a network client would
func (c *fakeCache) Set(ctx context.Context, schemaID string, cells []models.Cell) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[schemaID] = cells
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, schemaID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.deleted = append(c.deleted, schemaID)
	delete(c.entries, schemaID)
	return nil
}

type failingStore struct{ err error }

func (f failingStore) Load(context.Context, string) ([]models.Cell, bool, error) {
	return nil, false, f.err
}

func (f failingStore) Save(context.Context, string, []models.Cell, string) error {
	return f.err
}

// committedStore finishes the write even when the caller has gone away
type committedStore struct{ *MemoryStore }

func (s committedStore) Save(ctx context.Context, schemaID string, cells []models.Cell, userID string) error {
	return s.MemoryStore.Save(context.WithoutCancel(ctx), schemaID, cells, userID)
}

func TestCachedStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, "s1", []models.Cell{table("t1", 1)}, "u1"))

	cache := newFakeCache()
	cached := NewCachedStore(store, cache)

	cells, found, err := cached.Load(ctx, "s1")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, cells, 1)
	require.Contains(t, cache.entries, "s1")

	// Second load is answered by the cache even if the store changes
	require.NoError(t, store.Save(ctx, "s1", nil, "u2"))
	cells, _, err = cached.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, cells, 1)
}

func TestCachedStore_MissIsNotCached(t *testing.T) {
	cache := newFakeCache()
	cached := NewCachedStore(NewMemoryStore(), cache)

	_, found, err := cached.Load(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, found)
	require.Empty(t, cache.entries)
}

func TestCachedStore_CacheErrorsFallBackToStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, "s1", []models.Cell{table("t1", 1)}, "u1"))

	cache := newFakeCache()
	cache.getErr = errors.New("redis down")
	cache.setErr = errors.New("redis down")
	cached := NewCachedStore(store, cache)

	cells, found, err := cached.Load(ctx, "s1")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, cells, 1)

	require.NoError(t, cached.Save(ctx, "s1", nil, "u1"))
	require.Equal(t, []string{"s1"}, cache.deleted)
}

func TestCachedStore_StoreFailureLeavesCacheAlone(t *testing.T) {
	cache := newFakeCache()
	cache.entries["s1"] = []models.Cell{table("old", 0)}
	cached := NewCachedStore(failingStore{err: errors.New("db down")}, cache)

	err := cached.Save(context.Background(), "s1", []models.Cell{table("new", 0)}, "u1")
	require.Error(t, err)
	require.Equal(t, "old", cache.entries["s1"][0].ID())
}

func TestCachedStore_RefreshSurvivesCanceledCaller(t *testing.T) {
	cache := newFakeCache()
	cache.entries["s1"] = []models.Cell{table("old", 0)}
	cached := NewCachedStore(committedStore{NewMemoryStore()}, cache)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, cached.Save(ctx, "s1", []models.Cell{table("new", 0)}, "u1"))
	require.Equal(t, "new", cache.entries["s1"][0].ID())

	cells, found, err := cached.Load(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "new", cells[0].ID())
}

func TestMemoryStore_CopiesOnSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	cells := []models.Cell{table("t1", 1)}
	require.NoError(t, store.Save(ctx, "s1", cells, "u1"))
	cells[0]["id"] = "mutated"

	loaded, found, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "t1", loaded[0].ID())

	loaded[0]["id"] = "mutated-again"
	again, _, _ := store.Load(ctx, "s1")
	require.Equal(t, "t1", again[0].ID())

	count, by := store.Saves("s1")
	require.Equal(t, 1, count)
	require.Equal(t, "u1", by)
}
