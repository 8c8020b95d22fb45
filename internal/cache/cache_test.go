package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGet(t *testing.T) {
	c := New(nil, zerolog.Nop())

	c.Set("quote:AAPL", []byte(`{"price":180.5}`), time.Minute)

	value, ok := c.Get("quote:AAPL")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"price":180.5}`), value)

	_, ok = c.Get("quote:MSFT")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := New(nil, zerolog.Nop())
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("k", []byte("v"), 10*time.Second)

	now = now.Add(5 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	now = now.Add(6 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry past TTL should miss")
}

func TestCacheGetStale(t *testing.T) {
	c := New(nil, zerolog.Nop())
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("k", []byte("v"), time.Second)
	now = now.Add(time.Minute)

	_, ok := c.Get("k")
	assert.False(t, ok)

	value, age, ok := c.GetStale("k")
	require.True(t, ok, "stale read should still find the entry")
	assert.Equal(t, []byte("v"), value)
	assert.Equal(t, time.Minute, age)
}

func TestCachePersistentTier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := OpenStore(path)
	require.NoError(t, err)
	defer store.Close()

	c1 := New(store, zerolog.Nop())
	c1.Set("fundamentals:AAPL", []byte(`{"pe":28.1}`), time.Hour)

	// A fresh cache over the same store must hit via the persistent tier.
	c2 := New(store, zerolog.Nop())
	value, ok := c2.Get("fundamentals:AAPL")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"pe":28.1}`), value)
	assert.Equal(t, 1, c2.Len(), "hit should promote into the memory tier")
}

func TestCachePurgeExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := OpenStore(path)
	require.NoError(t, err)
	defer store.Close()

	c := New(store, zerolog.Nop())
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("fresh", []byte("a"), time.Hour)
	c.Set("expired", []byte("b"), time.Second)

	now = now.Add(time.Minute)
	removed := c.PurgeExpired()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())

	// Recently expired entries stay in the store for the stale fallback.
	_, _, ok := c.GetStale("expired")
	assert.True(t, ok)
}

func TestCachePurgeMemoryOnlyRetainsStale(t *testing.T) {
	c := New(nil, zerolog.Nop())
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("k", []byte("v"), time.Second)
	now = now.Add(time.Minute)

	removed := c.PurgeExpired()
	assert.Equal(t, 0, removed, "memory-only mode keeps stale entries for fallback")

	_, _, ok := c.GetStale("k")
	assert.True(t, ok)
}
