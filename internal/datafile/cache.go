package datafile

import "sync"

// Cache stores one CacheEntry per SDK key. Set replaces the whole entry.
type Cache interface {
	Get(key string) (CacheEntry, bool)
	Set(key string, entry CacheEntry)
}

// MemoryCache is an in-process Cache. Shared between managers it lets a
// restarted manager in the same process start from the last datafile.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]CacheEntry)}
}

func (c *MemoryCache) Get(key string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *MemoryCache) Set(key string, entry CacheEntry) {
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}
