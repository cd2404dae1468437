// Package validator drives metric resolution for one validation run: it
// expands dependency closures, resolves them level by level through an
// execution engine and memoises results in a per-run cache.
package validator

import (
	"sync"

	"duck-expect/internal/metric"
)

// Cache is the per-run resolution cache. Entries are written once; the first
// writer for a key wins and later writes are ignored. Failed computations are
// never stored.
type Cache struct {
	mu     sync.RWMutex
	values map[metric.Key]any
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{values: map[metric.Key]any{}}
}

// Get returns the cached value for key.
func (c *Cache) Get(key metric.Key) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Put stores value under key unless the key is already present. It reports
// whether the value was stored.
func (c *Cache) Put(key metric.Key, value any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.values[key]; exists {
		return false
	}
	c.values[key] = value
	return true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// Snapshot returns a copy of the cache contents.
func (c *Cache) Snapshot() map[metric.Key]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[metric.Key]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}
