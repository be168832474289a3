package cache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/knowledge-engine/siteqa/internal/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCache(clock *fakeClock) *cache.TTLCache[string] {
	return cache.New[string](30*time.Minute, cache.WithClock[string](clock.Now))
}

func TestTTLCache_HitWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := newCache(clock)

	c.Put("fire", "answer")
	clock.Advance(29 * time.Minute)

	v, ok := c.Get("fire")
	assert.True(t, ok)
	assert.Equal(t, "answer", v)
}

func TestTTLCache_ExpiredIsMiss(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := newCache(clock)

	c.Put("fire", "answer")
	clock.Advance(31 * time.Minute)

	v, ok := c.Get("fire")
	assert.False(t, ok)
	assert.Empty(t, v)
	assert.Equal(t, 0, c.Len())
}

func TestTTLCache_KeysAreExact(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newCache(clock)

	c.Put("fire ", "with space")
	c.Put("fire", "without space")

	v, _ := c.Get("fire ")
	assert.Equal(t, "with space", v)
	v, _ = c.Get("fire")
	assert.Equal(t, "without space", v)
	_, ok := c.Get("Fire")
	assert.False(t, ok)
}

func TestTTLCache_PutOverwritesAndRefreshes(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newCache(clock)

	c.Put("q", "old")
	clock.Advance(20 * time.Minute)
	c.Put("q", "new")
	clock.Advance(20 * time.Minute)

	v, ok := c.Get("q")
	assert.True(t, ok)
	assert.Equal(t, "new", v)
}

func TestTTLCache_DefaultTTL(t *testing.T) {
	c := cache.New[int](0)
	assert.Equal(t, cache.DefaultTTL, c.TTL())
}

func TestTTLCache_ConcurrentAccess(t *testing.T) {
	c := cache.New[int](time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Put("k", i)
			c.Get("k")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, c.Len())
}
