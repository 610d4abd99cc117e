package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	entry     Entry
	pending   bool
	expiresAt time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]memoryItem
}

// NewMemoryCache creates a cache whose entries expire after ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{ttl: ttl, now: time.Now, items: make(map[string]memoryItem)}
}

func (c *MemoryCache) lookup(key string) (memoryItem, bool) {
	item, ok := c.items[key]
	if ok && c.now().After(item.expiresAt) {
		delete(c.items, key)
		return memoryItem{}, false
	}
	return item, ok
}

func (c *MemoryCache) Get(_ context.Context, key string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.lookup(key)
	if !ok {
		return Entry{}, false, nil
	}
	if item.pending {
		return Entry{}, false, ErrInProgress
	}
	return item.entry, true, nil
}

func (c *MemoryCache) Reserve(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookup(key); ok {
		return false, nil
	}
	c.items[key] = memoryItem{pending: true, expiresAt: c.now().Add(c.ttl)}
	return true, nil
}

func (c *MemoryCache) Complete(_ context.Context, key string, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = memoryItem{entry: entry, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}
