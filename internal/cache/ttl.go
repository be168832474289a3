package cache

import (
	"sync"
	"time"
)

// DefaultTTL is how long a composed response stays fresh
const DefaultTTL = 30 * time.Minute

type entry[V any] struct {
	value     V
	createdAt time.Time
}

// TTLCache memoizes values per exact key for a fixed time window.
// Expired entries are only removed when they are looked up again.
type TTLCache[V any] struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
	entries map[string]entry[V]
}

// Option configures a TTLCache.
type Option[V any] func(*TTLCache[V])

// WithClock replaces time.Now, mainly for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *TTLCache[V]) {
		if now != nil {
			c.now = now
		}
	}
}

func New[V any](ttl time.Duration, opts ...Option[V]) *TTLCache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &TTLCache[V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry[V]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value stored under key if it is younger than the TTL.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.createdAt) <= c.ttl {
		return e.value, true
	}

	c.mu.Lock()
	// A concurrent Put may have refreshed the entry meanwhile.
	if cur, ok := c.entries[key]; ok && cur.createdAt.Equal(e.createdAt) {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return zero, false
}

// Put stores value under key, replacing any previous entry.
func (c *TTLCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, createdAt: c.now()}
}

// Len reports the number of stored entries, fresh or not.
func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// TTL returns the configured freshness window.
func (c *TTLCache[V]) TTL() time.Duration { return c.ttl }
