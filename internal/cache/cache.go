// Package cache implements the Bytecode Cache: a bounded, content-addressed
// LRU mapping used to deduplicate evaluated sources across calls. Per the
// spec's design decision, the "value" stored is the shaped source string
// itself, not opaque bytecode — the cache enforces dedup bookkeeping and
// LRU recency, not compilation avoidance.
package cache

import (
	"crypto/sha256"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Key is a 256-bit digest of shaped source bytes.
type Key = [32]byte

// Store is the surface the Evaluator and cmd/evalserver depend on,
// satisfied by *Cache directly or by *RedisMirror when the distributed
// cache-warm mirror (§4.3.1) is enabled, so callers can hold either one
// interchangeably without knowing which is behind it.
type Store interface {
	Get(key Key) (string, bool)
	Insert(key Key, value string)
	Len() int
}

// Sum computes the Cache Key for shaped source text.
func Sum(shapedSource string) Key {
	return sha256.Sum256([]byte(shapedSource))
}

// Cache is a bounded LRU keyed by Key, storing shaped source strings.
// Concurrent readers and writers are serialized behind a single mutex;
// no operation blocks longer than a single map update.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  *orderedmap.OrderedMap[Key, string]
}

// New constructs a Cache with the given capacity. Capacity 0 is silently
// treated as 1.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		entries:  orderedmap.New[Key, string](),
	}
}

// Get returns the cached value for key, if present, promoting it to
// most-recently-used.
func (c *Cache) Get(key Key) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries.Get(key)
	if !ok {
		return "", false
	}
	c.entries.Delete(key)
	c.entries.Set(key, v)
	return v, true
}

// Insert inserts or replaces the entry for key, evicting the
// least-recently-used entry if capacity would be exceeded.
func (c *Cache) Insert(key Key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries.Get(key); exists {
		c.entries.Delete(key)
	}
	c.entries.Set(key, value)

	for c.entries.Len() > c.capacity {
		oldest := c.entries.Oldest()
		if oldest == nil {
			break
		}
		c.entries.Delete(oldest.Key)
	}
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = orderedmap.New[Key, string]()
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Capacity returns the configured capacity.
func (c *Cache) Capacity() int {
	return c.capacity
}
