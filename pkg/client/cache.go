package client

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// Cache is the key-addressed query cache the invalidation router acts
// on. Keys are opaque strings such as "tickets" or "ticket/42".
type Cache interface {
	// Invalidate marks one key stale.
	Invalidate(key string)

	// InvalidatePrefix marks every key with the given prefix stale.
	InvalidatePrefix(prefix string)
}

// QueryCache is an LRU-backed Cache implementation for Go consumers of
// the realtime client. Invalidation simply evicts, so the next Get
// misses and the caller refetches.
type QueryCache struct {
	mu    sync.Mutex
	items *lru.TwoQueueCache
}

// NewQueryCache creates a query cache holding up to capacity entries.
func NewQueryCache(capacity int) (*QueryCache, error) {
	items, err := lru.New2Q(capacity)
	if err != nil {
		return nil, err
	}
	return &QueryCache{items: items}, nil
}

// Get returns the cached value for a key.
func (c *QueryCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Get(key)
}

// Set stores a value under a key.
func (c *QueryCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Add(key, value)
}

// Invalidate implements Cache.
func (c *QueryCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Remove(key)
}

// InvalidatePrefix implements Cache.
func (c *QueryCache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.items.Keys() {
		if key, ok := k.(string); ok && strings.HasPrefix(key, prefix) {
			c.items.Remove(k)
		}
	}
}
