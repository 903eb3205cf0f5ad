package lifecycle

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process BlockStatusCache with TTL expiry and an
// injected clock. Suitable for single-instance deployments; multi-instance
// deployments should use the redis adapter so invalidations are shared.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryCacheEntry struct {
	blocked   bool
	expiresAt time.Time
}

// NewMemoryCache creates a cache with the given TTL (default: 1 minute).
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &MemoryCache{
		entries: make(map[string]memoryCacheEntry),
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the cache clock. Intended for tests.
func (c *MemoryCache) SetNow(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *MemoryCache) Get(ctx context.Context, tenantID string) (bool, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[tenantID]
	now := c.now()
	c.mu.RUnlock()

	if !ok || now.After(entry.expiresAt) {
		return false, false, nil
	}
	return entry.blocked, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, tenantID string, blocked bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tenantID] = memoryCacheEntry{
		blocked:   blocked,
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tenantID)
	return nil
}
