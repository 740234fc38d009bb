// Package cache provides the L1/L2 caches and the per data class cache strategy.
package cache

import (
	"container/list"
	"context"
	"errors"
	"path"
	"sync"
	"time"
)

// ErrNamespaceRequired is returned when a key is used without a namespace.
var ErrNamespaceRequired = errors.New("cache namespace is required")

// LRUCache is a thread-safe LRU cache with TTL support.
// Used as the Community tier cache and as L1 in two-phase caching.
type LRUCache struct {
	mu       sync.Mutex
	maxSize  int
	items    map[string]*list.Element
	order    *list.List
	counters map[string]*counterEntry
}

type cacheEntry struct {
	namespace string
	key       string
	value     []byte
	expiresAt time.Time
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*counterEntry),
	}
}

// Get retrieves a value from cache. A miss returns nil, nil.
func (c *LRUCache) Get(ctx context.Context, namespace string, key string) ([]byte, error) {
	if namespace == "" {
		return nil, ErrNamespaceRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[fullKey(namespace, key)]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	return entry.value, nil
}

// Set stores a value with TTL, replacing any previous value whole.
func (c *LRUCache) Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error {
	if namespace == "" {
		return ErrNamespaceRequired
	}

	k := fullKey(namespace, key)
	expiresAt := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[k]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		return nil
	}

	elem := c.order.PushFront(&cacheEntry{
		namespace: namespace,
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	})
	c.items[k] = elem

	for c.order.Len() > c.maxSize {
		c.removeOldest()
	}

	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, namespace string, key string) error {
	if namespace == "" {
		return ErrNamespaceRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey(namespace, key)]; ok {
		c.removeElement(elem)
	}
	return nil
}

// DeletePattern removes every key in the namespace matching a glob pattern
// (path.Match syntax, e.g. "CA:*").
func (c *LRUCache) DeletePattern(ctx context.Context, namespace string, pattern string) (int, error) {
	if namespace == "" {
		return 0, ErrNamespaceRequired
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*cacheEntry)
		if entry.namespace == namespace {
			if ok, _ := path.Match(pattern, entry.key); ok {
				c.removeElement(elem)
				removed++
			}
		}
		elem = next
	}
	return removed, nil
}

// IncrementCounter atomically increments a fixed-window counter.
func (c *LRUCache) IncrementCounter(ctx context.Context, namespace string, key string, window time.Duration) (int64, error) {
	if namespace == "" {
		return 0, ErrNamespaceRequired
	}

	k := fullKey(namespace, "counter:"+key)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	entry, ok := c.counters[k]
	if !ok || now.After(entry.expiresAt) {
		c.counters[k] = &counterEntry{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}

	entry.count++
	return entry.count, nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.counters = make(map[string]*counterEntry)
	return nil
}

// Stats returns the current size and capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

func fullKey(namespace, key string) string {
	return namespace + "|" + key
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, fullKey(entry.namespace, entry.key))
}

func (c *LRUCache) removeOldest() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
	}
}
