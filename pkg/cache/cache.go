// Package cache provides a keyed store with a fixed time-to-live per cache.
// Entries are only ever evicted by age, never by size pressure; the key space
// is small and bounded (a few hundred live combinations per device).
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pricehelm/pricehelm/pkg/log"
)

type entry[V any] struct {
	value     V
	createdAt time.Time
}

// Cache is a TTL cache. The zero value is not usable; use New.
type Cache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry[V]
	now     func() time.Time
}

// New creates a cache whose entries expire after ttl.
func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		ttl:     ttl,
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// Get returns the value for key if it exists and has not exceeded the TTL.
// Stale entries that have not been swept yet are treated as misses.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.createdAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key, resetting its age.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, createdAt: c.now()}
}

// Sweep removes every entry whose age exceeds the TTL and returns how many
// were evicted.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	evicted := 0
	for k, e := range c.entries {
		if now.Sub(e.createdAt) >= c.ttl {
			delete(c.entries, k)
			evicted++
		}
	}
	return evicted
}

// Clear drops every entry regardless of age.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of entries currently stored, including stale ones
// that have not been swept yet.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TTL returns the cache's time-to-live.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

// Run sweeps once per TTL period until the context is canceled. Lookups
// already treat stale entries as misses, so the sweep only reclaims memory.
func (c *Cache[V]) Run(ctx context.Context) {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := c.Sweep(); evicted > 0 {
				log.Ctx(ctx).DebugContext(ctx, "cache sweep evicted entries", slog.Int("evicted", evicted))
			}
		}
	}
}
