package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ColaBD/Backend-ColaBD/internal/models"

	goredis "github.com/redis/go-redis/v9"
)

const defaultCellsTTL = time.Hour

// CellsCache keeps the last saved cell list of each schema in Redis
type CellsCache struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewCellsCache connects to a Redis URL such as redis://localhost:6379/0
func NewCellsCache(ctx context.Context, redisURL string, ttl time.Duration) (*CellsCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}

	if ttl <= 0 {
		ttl = defaultCellsTTL
	}
	return &CellsCache{client: client, ttl: ttl}, nil
}

func cellsKey(schemaID string) string {
	return fmt.Sprintf("schema:%s:cells", schemaID)
}

// Get returns the cached cells of a schema; found is false on a miss
func (c *CellsCache) Get(ctx context.Context, schemaID string) ([]models.Cell, bool, error) {
	data, err := c.client.Get(ctx, cellsKey(schemaID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var cells []models.Cell
	if err := json.Unmarshal(data, &cells); err != nil {
		return nil, false, fmt.Errorf("redis cache: corrupt entry for %s: %w", schemaID, err)
	}
	return cells, true, nil
}

// Set stores the cells of a schema for the cache TTL
func (c *CellsCache) Set(ctx context.Context, schemaID string, cells []models.Cell) error {
	data, err := json.Marshal(cells)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cellsKey(schemaID), data, c.ttl).Err()
}

// Delete drops the cached cells of a schema
func (c *CellsCache) Delete(ctx context.Context, schemaID string) error {
	return c.client.Del(ctx, cellsKey(schemaID)).Err()
}

// Close closes the Redis client
func (c *CellsCache) Close() error {
	return c.client.Close()
}
