// Package cache provides the in-memory credential field cache shared by
// the store and the resolver. Entries are per-process only; cross-process
// coherence is bounded by the TTL, which is acceptable for this system.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL is the expiry applied to database-sourced entries.
const DefaultTTL = 5 * time.Minute

type entry struct {
	fields   map[string]string
	cachedAt time.Time
	// pinned entries never expire; used for environment-sourced
	// resolutions, which only change via explicit refresh or restart.
	pinned bool
}

// Cache is a thread-safe TTL map from provider key to resolved fields.
// It is an optimization, never a source of truth: mutating operations
// must bypass it and invalidate afterwards.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache with the given TTL for unpinned entries.
// A non-positive ttl falls back to DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// NewWithClock creates a cache with an injected clock for tests.
func NewWithClock(ttl time.Duration, now func() time.Time) *Cache {
	c := New(ttl)
	c.now = now
	return c
}

// Get returns a copy of the cached fields for key, if present and fresh.
func (c *Cache) Get(key string) (map[string]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.pinned && c.now().Sub(e.cachedAt) > c.ttl {
		return nil, false
	}
	return copyFields(e.fields), true
}

// Put stores fields for key with TTL expiry.
func (c *Cache) Put(key string, fields map[string]string) {
	c.set(key, fields, false)
}

// Pin stores fields for key without expiry. The entry lives until
// explicitly invalidated.
func (c *Cache) Pin(key string, fields map[string]string) {
	c.set(key, fields, true)
}

func (c *Cache) set(key string, fields map[string]string, pinned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		fields:   copyFields(fields),
		cachedAt: c.now(),
		pinned:   pinned,
	}
}

// Invalidate removes the entry for key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateAll clears the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len returns the number of entries, including stale ones not yet
// evicted by a Get.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func copyFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
