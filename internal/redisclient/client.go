package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"pizzeria-service/internal/models"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

const menuKey = "catalog:menu"

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetMenu retrieves the cached catalog. Returns nil with no error on a cache
// miss.
func (c *Client) GetMenu(ctx context.Context) ([]models.Pizza, error) {
	data, err := c.rdb.Get(ctx, menuKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var pizzas []models.Pizza
	if err := json.Unmarshal(data, &pizzas); err != nil {
		return nil, fmt.Errorf("failed to decode cached menu: %w", err)
	}
	return pizzas, nil
}

// SetMenu caches the catalog with a TTL
func (c *Client) SetMenu(ctx context.Context, pizzas []models.Pizza, ttl time.Duration) error {
	data, err := json.Marshal(pizzas)
	if err != nil {
		return fmt.Errorf("failed to encode menu: %w", err)
	}
	return c.rdb.Set(ctx, menuKey, data, ttl).Err()
}

// InvalidateMenu drops the cached catalog
func (c *Client) InvalidateMenu(ctx context.Context) error {
	return c.rdb.Del(ctx, menuKey).Err()
}

// AcquireLock acquires a distributed lock holding the given token.
// Returns false if another holder has it.
func (c *Client) AcquireLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
}

// ReleaseLock releases a distributed lock, but only if the stored token still
// matches: a lock that expired and was re-acquired elsewhere is left alone.
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
