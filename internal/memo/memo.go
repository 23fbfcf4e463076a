// Package memo provides an explicit memoization cache keyed by comparable
// (usually composite struct) keys. A lookup never creates entries.
package memo

import "sync"

// Cache is a concurrency-safe map from K to V.
type Cache[K comparable, V any] struct {
	mu     sync.RWMutex
	items  map[K]V
	hits   int64
	misses int64
}

// New creates an empty Cache.
func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{items: make(map[K]V)}
}

// Get returns the cached value and true, or the zero value and false on a miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Put stores value under key, replacing any previous value.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	c.items[key] = value
	c.mu.Unlock()
}

// GetOrCompute returns the cached value for key, computing and storing it on
// a miss. Errors from compute are returned and nothing is stored.
func (c *Cache[K, V]) GetOrCompute(key K, compute func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Put(key, v)
	return v, nil
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns the hit and miss counters.
func (c *Cache[K, V]) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}
