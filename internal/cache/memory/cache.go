// Package memory provides an in-memory cache implementation.
// This is suitable for single-node deployments where Redis is not available.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/prn-tf/blog-accounts/internal/repository"
)

// Cache implements repository.Cache using in-memory storage with
// least-recently-used eviction once maxEntries is reached.
// This is NOT suitable for distributed deployments.
type Cache struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List
	maxEntries int
	now        func() time.Time
	stopCh     chan struct{}
	stopped    bool
}

// cacheItem represents a single cached item.
type cacheItem struct {
	key       string
	value     []byte
	expiresAt time.Time
	noExpiry  bool
}

func (i *cacheItem) isExpired(now time.Time) bool {
	if i.noExpiry {
		return false
	}
	return now.After(i.expiresAt)
}

// NewCache creates a new in-memory cache holding at most maxEntries items.
// A non-positive maxEntries means unbounded.
func NewCache(maxEntries int) *Cache {
	c := &Cache{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}

	// Start cleanup goroutine.
	go c.cleanupLoop()

	return c
}

// cleanupLoop periodically removes expired items.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup removes expired items.
func (c *Cache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, el := range c.items {
		if el.Value.(*cacheItem).isExpired(now) {
			c.removeElement(el)
		}
	}
}

// Stop stops the cleanup goroutine.
func (c *Cache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stopped {
		close(c.stopCh)
		c.stopped = true
	}
}

// Len returns the number of stored items, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// lookup returns the live element for key, dropping it if expired.
// Callers must hold mu.
func (c *Cache) lookup(key string) (*list.Element, bool) {
	el, exists := c.items[key]
	if !exists {
		return nil, false
	}
	if el.Value.(*cacheItem).isExpired(c.now()) {
		c.removeElement(el)
		return nil, false
	}
	return el, true
}

func (c *Cache) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*cacheItem).key)
}

// store inserts or replaces key and evicts the oldest entries over capacity.
// Callers must hold mu.
func (c *Cache) store(key string, value []byte, ttl time.Duration) {
	// Make a copy of the value.
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	item := &cacheItem{
		key:   key,
		value: valueCopy,
	}

	if ttl > 0 {
		item.expiresAt = c.now().Add(ttl)
	} else {
		item.noExpiry = true
	}

	if el, exists := c.items[key]; exists {
		el.Value = item
		c.order.MoveToFront(el)
		return
	}

	c.items[key] = c.order.PushFront(item)

	for c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		c.removeElement(c.order.Back())
	}
}

// Get retrieves a value by key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.lookup(key)
	if !ok {
		return nil, repository.ErrCacheMiss
	}
	c.order.MoveToFront(el)

	// Return a copy to prevent mutation.
	value := el.Value.(*cacheItem).value
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Set stores a value with an optional TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store(key, value, ttl)
	return nil
}

// SetNX sets a value only if the key doesn't exist.
func (c *Cache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lookup(key); ok {
		return false, nil
	}

	c.store(key, value, ttl)
	return true, nil
}

// Take retrieves and removes a value.
func (c *Cache) Take(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.lookup(key)
	if !ok {
		return nil, repository.ErrCacheMiss
	}
	c.removeElement(el)

	return el.Value.(*cacheItem).value, nil
}

// Delete removes a value by key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, exists := c.items[key]; exists {
		c.removeElement(el)
	}
	return nil
}

// Ensure Cache implements repository.Cache.
var _ repository.Cache = (*Cache)(nil)
