// Package redis provides a Redis implementation of lifecycle.BlockStatusCache.
// The block predicate is consulted on every tenant-scoped request, so it is
// cached with a short TTL and invalidated on every lifecycle transition.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache implements lifecycle.BlockStatusCache using Redis.
type Cache struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis cache configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "billingkit:block:")
	KeyPrefix string

	// TTL bounds staleness when an invalidation is lost (default: 5m)
	TTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "billingkit:block:",
		TTL:       5 * time.Minute,
	}
}

// New creates a new Redis cache adapter.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Cache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "billingkit:block:"
	}
	if config.TTL == 0 {
		config.TTL = 5 * time.Minute
	}

	return &Cache{client: client, config: config}, nil
}

func (c *Cache) key(tenantID string) string {
	return c.config.KeyPrefix + tenantID
}

// Get implements lifecycle.BlockStatusCache. A cache miss is (false, false, nil).
func (c *Cache) Get(ctx context.Context, tenantID string) (bool, bool, error) {
	val, err := c.client.Get(ctx, c.key(tenantID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to read block status: %w", err)
	}
	return val == "1", true, nil
}

// Set implements lifecycle.BlockStatusCache.
func (c *Cache) Set(ctx context.Context, tenantID string, blocked bool) error {
	val := "0"
	if blocked {
		val = "1"
	}
	if err := c.client.Set(ctx, c.key(tenantID), val, c.config.TTL).Err(); err != nil {
		return fmt.Errorf("failed to cache block status: %w", err)
	}
	return nil
}

// Invalidate implements lifecycle.BlockStatusCache.
func (c *Cache) Invalidate(ctx context.Context, tenantID string) error {
	if err := c.client.Del(ctx, c.key(tenantID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate block status: %w", err)
	}
	return nil
}
