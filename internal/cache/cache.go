// Package cache is a small in-memory TTL cache used to memoize computed results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

type Item[V any] struct {
	Value     V
	ExpiresAt time.Time
}

type Cache[V any] struct {
	mu    sync.RWMutex
	items map[string]Item[V]
	now   func() time.Time
}

func New[V any]() *Cache[V] {
	return &Cache[V]{
		items: make(map[string]Item[V]),
		now:   time.Now,
	}
}

func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = Item[V]{
		Value:     value,
		ExpiresAt: c.now().Add(ttl),
	}
}

// Get returns the value for key unless it is missing or expired. Expired
// entries are left for cleanup.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	item, exists := c.items[key]
	if !exists || !c.now().Before(item.ExpiresAt) {
		return zero, false
	}
	return item.Value, true
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear drops every entry, e.g. after an ingestion cycle changed the data.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]Item[V])
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// GenerateKey hashes the parts into a stable key.
func GenerateKey(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}

// Run removes expired entries every interval until ctx is done.
func (c *Cache[V]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *Cache[V]) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if !now.Before(item.ExpiresAt) {
			delete(c.items, key)
		}
	}
}
