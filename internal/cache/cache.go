// Package cache provides the TTL-bounded result cache used for search and listing responses.
//
// Eviction is by insertion order, not recency: reads never refresh an entry's
// position, so the first-inserted live entry is the one dropped when the cache is full.
// This keeps the cache simple and predictable; it is not an LRU.
package cache

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultFalsePositiveRate = 0.001
	// the bloom filter cannot forget keys, so it is rebuilt after this many
	// insertions per slot of capacity
	bloomRebuildFactor = 4
)

// Eviction reasons reported to the Observer.
const (
	EvictCapacity = "capacity"
	EvictExpired  = "expired"
)

// Observer receives cache measurements.
type Observer interface {
	ObserveLookup(cache string, hit bool)
	ObserveEviction(cache, reason string)
}

type nopObserver struct{}

func (nopObserver) ObserveLookup(string, bool)     {}
func (nopObserver) ObserveEviction(string, string) {}

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// Cache is a thread-safe TTL cache with a hard entry limit.
type Cache[V any] struct {
	name       string
	entries    *lru.Cache[string, entry[V]]
	bloom      *bloom.BloomFilter
	mutex      sync.Mutex
	maxEntries int
	ttl        time.Duration
	inserts    int
	observer   Observer
}

// New creates a cache holding at most maxEntries values for ttl each.
func New[V any](name string, maxEntries int, ttl time.Duration) *Cache[V] {
	if maxEntries <= 0 || maxEntries > int(^uint(0)>>1) {
		panic("maxEntries value out of range")
	}
	entries, _ := lru.New[string, entry[V]](maxEntries)

	return &Cache[V]{
		name:       name,
		entries:    entries,
		bloom:      newBloom(maxEntries),
		maxEntries: maxEntries,
		ttl:        ttl,
		observer:   nopObserver{},
	}
}

// SetObserver installs a metrics observer. Nil restores the no-op observer.
func (c *Cache[V]) SetObserver(o Observer) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if o == nil {
		o = nopObserver{}
	}
	c.observer = o
}

// Get returns the value stored under key. An expired entry is removed and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var zero V
	if !c.bloom.TestString(key) {
		c.observer.ObserveLookup(c.name, false)
		return zero, false
	}

	// Peek keeps insertion order intact
	e, ok := c.entries.Peek(key)
	if !ok {
		c.observer.ObserveLookup(c.name, false)
		return zero, false
	}

	if time.Since(e.insertedAt) > c.ttl {
		c.entries.Remove(key)
		c.observer.ObserveEviction(c.name, EvictExpired)
		c.observer.ObserveLookup(c.name, false)
		return zero, false
	}

	c.observer.ObserveLookup(c.name, true)
	return e.value, true
}

// Put stores value under key. Re-putting a key counts as a fresh insertion.
func (c *Cache[V]) Put(key string, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries.Remove(key)
	if c.entries.Len() >= c.maxEntries {
		c.evictOldest()
	}

	c.entries.Add(key, entry[V]{value: value, insertedAt: time.Now()})
	c.bloom.AddString(key)

	c.inserts++
	if c.inserts >= c.maxEntries*bloomRebuildFactor {
		c.rebuildBloom()
	}
}

// Len returns the number of stored entries, expired ones included until they are read.
func (c *Cache[V]) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.entries.Len()
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries.Purge()
	c.bloom = newBloom(c.maxEntries)
	c.inserts = 0
}

func (c *Cache[V]) evictOldest() {
	oldestKey, _, ok := c.entries.GetOldest()
	if !ok {
		return
	}
	c.entries.Remove(oldestKey)
	c.observer.ObserveEviction(c.name, EvictCapacity)
}

func (c *Cache[V]) rebuildBloom() {
	c.bloom = newBloom(c.maxEntries)
	for _, key := range c.entries.Keys() {
		c.bloom.AddString(key)
	}
	c.inserts = 0
}

func newBloom(maxEntries int) *bloom.BloomFilter {
	return bloom.NewWithEstimates(uint(maxEntries), defaultFalsePositiveRate)
}
