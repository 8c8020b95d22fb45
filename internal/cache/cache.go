// Package cache provides the gateway's two-tier TTL cache: a fast in-memory
// map in front of an optional SQLite persistent store that survives restarts.
package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type entry struct {
	value     []byte
	expiresAt time.Time
	storedAt  time.Time
}

// Cache is a thread-safe TTL key-value store. When a persistent store is
// attached, misses fall through to it and writes propagate to it.
type Cache struct {
	mu     sync.RWMutex
	items  map[string]entry
	store  *Store
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a cache. store may be nil for memory-only operation.
func New(store *Store, logger zerolog.Logger) *Cache {
	return &Cache{
		items:  make(map[string]entry),
		store:  store,
		now:    time.Now,
		logger: logger.With().Str("component", "cache").Logger(),
	}
}

// Set stores a value with the given TTL in both tiers.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	now := c.now()
	c.mu.Lock()
	c.items[key] = entry{value: value, expiresAt: now.Add(ttl), storedAt: now}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Put(key, value, now, now.Add(ttl)); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("persistent cache write failed")
		}
	}
}

// Get returns a fresh value. The second result is false when the key is
// missing or expired in both tiers.
func (c *Cache) Get(key string) ([]byte, bool) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if ok && now.Before(e.expiresAt) {
		return e.value, true
	}

	if c.store == nil {
		return nil, false
	}
	value, storedAt, expiresAt, err := c.store.Get(key)
	if err != nil || now.After(expiresAt) {
		return nil, false
	}

	// Promote to the memory tier.
	c.mu.Lock()
	c.items[key] = entry{value: value, expiresAt: expiresAt, storedAt: storedAt}
	c.mu.Unlock()
	return value, true
}

// GetStale returns a value even past its TTL, with its age. Used as the
// last-resort fallback when a vendor is rate limiting and the deadline does
// not allow waiting. The second result is false only when the key was never
// stored.
func (c *Cache) GetStale(key string) ([]byte, time.Duration, bool) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if ok {
		return e.value, now.Sub(e.storedAt), true
	}

	if c.store == nil {
		return nil, 0, false
	}
	value, storedAt, _, err := c.store.Get(key)
	if err != nil {
		return nil, 0, false
	}
	return value, now.Sub(storedAt), true
}

// PurgeExpired removes expired entries from both tiers and returns the count
// removed from the memory tier. Stale entries are only purged from memory
// when a persistent tier exists to serve the rate-limit fallback; in
// memory-only mode they are retained.
func (c *Cache) PurgeExpired() int {
	now := c.now()
	removed := 0

	if c.store != nil {
		c.mu.Lock()
		for key, e := range c.items {
			if now.After(e.expiresAt) {
				delete(c.items, key)
				removed++
			}
		}
		c.mu.Unlock()

		if n, err := c.store.DeleteExpiredBefore(now.Add(-24 * time.Hour)); err != nil {
			c.logger.Warn().Err(err).Msg("persistent cache purge failed")
		} else if n > 0 {
			c.logger.Debug().Int64("rows", n).Msg("purged persistent cache entries")
		}
	}

	return removed
}

// Len returns the number of entries in the memory tier, expired included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
