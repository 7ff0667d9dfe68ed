// Package cache provides the process-local LRU+TTL caches used for endpoint
// metadata and offer materialization, plus a byte store abstraction with
// memory and redis backends.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// LRU is a concurrent-safe LRU cache with TTL expiration.
type LRU[V any] struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front=newest, back=oldest
	maxEntries int
	ttl        time.Duration
	hits       atomic.Int64
	misses     atomic.Int64

	nowFunc func() time.Time
}

type lruEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewLRU creates an LRU with the given capacity and default TTL.
func NewLRU[V any](maxEntries int, ttl time.Duration) *LRU[V] {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &LRU[V]{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		nowFunc:    time.Now,
	}
}

// Get returns the cached value. Expired entries are evicted and reported as a miss.
func (c *LRU[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return zero, false
	}

	entry := el.Value.(*lruEntry[V])
	if !entry.expiresAt.IsZero() && !c.nowFunc().Before(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, key)
		c.misses.Add(1)
		return zero, false
	}

	c.order.MoveToFront(el)
	c.hits.Add(1)
	return entry.value, true
}

// Put stores a value with the default TTL.
func (c *LRU[V]) Put(key string, value V) {
	c.PutTTL(key, value, c.ttl)
}

// PutTTL stores a value with an explicit TTL. A non-positive ttl never expires.
// The least recently used entry is evicted when the cache is full.
func (c *LRU[V]) PutTTL(key string, value V, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.nowFunc().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value = &lruEntry[V]{key: key, value: value, expiresAt: expiresAt}
		c.order.MoveToFront(el)
		return
	}

	for len(c.entries) >= c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*lruEntry[V]).key)
	}

	c.entries[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value, expiresAt: expiresAt})
}

// Delete removes a key.
func (c *LRU[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Len returns the number of entries, expired ones included.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache performance statistics.
func (c *LRU[V]) Stats() Stats {
	entries := c.Len()
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}
