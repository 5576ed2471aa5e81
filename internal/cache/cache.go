// Package cache provides a bounded TTL-LRU cache shared by the pipeline
// stages to avoid redundant collaborator calls.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Stats is a point-in-time snapshot of the cache.
type Stats struct {
	Size       int   `json:"size"`
	MaxSize    int   `json:"max_size"`
	TTLSeconds int64 `json:"ttl_seconds"`
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// Cache is a thread-safe LRU cache with per-entry expiry measured from
// insertion. Expiry is lazy: expired entries are removed on the Get that
// observes them, there is no background sweep. A Get hit promotes the entry
// to most recently used.
//
// Callers share one cache across key namespaces by prefixing keys; the cache
// itself treats keys as opaque.
type Cache[V any] struct {
	mu      sync.Mutex
	lru     *simplelru.LRU[string, entry[V]]
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache bounded at maxSize entries with the given TTL.
func New[V any](maxSize int, ttl time.Duration) *Cache[V] {
	// simplelru only errors on a non-positive size.
	if maxSize < 1 {
		maxSize = 1
	}
	lru, _ := simplelru.NewLRU[string, entry[V]](maxSize, nil)
	return &Cache[V]{
		lru:     lru,
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().Sub(e.insertedAt) > c.ttl {
		c.lru.Remove(key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, evicting the least recently used entry when
// the cache is at capacity. Re-setting a key resets its expiry.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry[V]{value: value, insertedAt: c.now()})
}

// Delete removes key, reporting whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Stats returns the current size and the cache's configured bounds.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:       c.lru.Len(),
		MaxSize:    c.maxSize,
		TTLSeconds: int64(c.ttl / time.Second),
	}
}
