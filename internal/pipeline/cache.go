package pipeline

import (
	"sync"
	"time"
)

// CacheKey identifies one run's inputs: the raw source snapshot plus the
// configuration version. Any change to either yields a different key.
type CacheKey struct {
	SnapshotID    string
	ConfigVersion string
}

type cacheEntry struct {
	result   Result
	storedAt time.Time
}

// Cache holds run results for callers that poll faster than sources
// update. Expiry is driven by the injected clock, so it is deterministic
// under test. The pipeline itself never consults the cache.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   Clock
	entries map[CacheKey]cacheEntry
}

// NewCache constructs a cache with the given freshness window.
func NewCache(ttl time.Duration, clock Clock) *Cache {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Cache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[CacheKey]cacheEntry),
	}
}

// Get returns a cached result if present and fresh.
func (c *Cache) Get(key CacheKey) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	if c.ttl > 0 && c.clock.Now().Sub(entry.storedAt) >= c.ttl {
		delete(c.entries, key)
		return Result{}, false
	}
	return entry.result, true
}

// Put stores a run result.
func (c *Cache) Put(key CacheKey, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: result, storedAt: c.clock.Now()}
}
