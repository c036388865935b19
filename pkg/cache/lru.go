// Package cache provides a small thread-safe LRU cache used to keep compiled
// XPath expressions and compiled function programs across executions.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// Statistics reports cache effectiveness.
type Statistics struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

type lruEntry[V any] struct {
	key   string
	value V
}

// LRU is a least-recently-used cache keyed by string.
type LRU[V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewLRU creates an LRU cache holding at most maxSize entries.
func NewLRU[V any](maxSize int) (*LRU[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewLRU", "max size must be positive")
	}
	return &LRU[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}, nil
}

// Get returns the cached value and marks it as recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		c.hits.Add(1)
		return el.Value.(*lruEntry[V]).value, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Set stores a value, evicting the least recently used entry when full.
// Returns true if a new entry was created.
func (c *LRU[V]) Set(key string, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(el)
		return false
	}

	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry[V]).key)
		c.evictions.Add(1)
	}
	return true
}

// GetOrCreate returns the cached value for key or builds, caches and returns it.
// Build errors are not cached.
func (c *LRU[V]) GetOrCreate(key string, build func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := build()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

// Delete removes a key. Returns true if it existed.
func (c *LRU[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.items, key)
	return true
}

// Size returns the number of cached entries.
func (c *LRU[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of cache statistics.
func (c *LRU[V]) Stats() Statistics {
	return Statistics{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Size(),
	}
}
