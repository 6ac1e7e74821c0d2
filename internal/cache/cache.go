// Package cache provides a small concurrent-safe in-memory key-value
// store, used by the db layer to keep property-index reads off the hot
// path between writes.
package cache

import "sync"

// InMemoryCache is a mutex-guarded map of string keys to arbitrary values.
type InMemoryCache struct {
	mu    sync.RWMutex
	items map[string]any
}

// NewInMemoryCache creates an empty cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{items: make(map[string]any)}
}

// Get returns the value for key and whether it was present.
func (c *InMemoryCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, found := c.items[key]
	return item, found
}

// Set stores or replaces the value for key.
func (c *InMemoryCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
}

// Delete removes key from the cache. Deleting an absent key is a no-op.
func (c *InMemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear drops every entry, e.g. after a property reset.
func (c *InMemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]any)
}

// Len returns the number of cached entries.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
