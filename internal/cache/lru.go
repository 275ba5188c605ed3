package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// LRUCache is a size-bounded in-process cache backed by ristretto.
type LRUCache struct {
	cache      *ristretto.Cache
	defaultTTL time.Duration
}

// NewLRU creates an in-process cache.
// maxSizeMB bounds the total payload bytes held, maxEntries the entry
// count, and defaultTTL applies to Set calls that pass a zero TTL.
func NewLRU(maxSizeMB int64, maxEntries int64, defaultTTL time.Duration) (*LRUCache, error) {
	// NumCounters should be ~10x the entry cap per the ristretto docs.
	numCounters := maxEntries * 10
	if numCounters < 1000 {
		numCounters = 1000
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxSizeMB * 1024 * 1024,
		BufferItems: 64,
		Metrics:     true, // Stats reads these counters
	})
	if err != nil {
		return nil, err
	}

	return &LRUCache{
		cache:      c,
		defaultTTL: defaultTTL,
	}, nil
}

// Get retrieves a value from the cache by key.
func (c *LRUCache) Get(key string) ([]byte, bool) {
	val, found := c.cache.Get(key)
	if !found {
		return nil, false
	}

	data, ok := val.([]byte)
	if !ok {
		// Not one of ours, drop it.
		c.cache.Del(key)
		return nil, false
	}
	return data, true
}

// Set stores a value in the cache with the given key and TTL.
// Ristretto admits entries asynchronously; Wait makes the entry visible
// to an immediate Get, which read-through callers rely on.
func (c *LRUCache) Set(key string, value []byte, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	// Cost is the payload size in bytes. Ristretto may still refuse
	// admission under pressure; that only costs us a future miss.
	_ = c.cache.SetWithTTL(key, value, int64(len(value)), ttl)
	c.cache.Wait()
}

// Delete removes a value from the cache.
func (c *LRUCache) Delete(key string) {
	c.cache.Del(key)
}

// Clear removes all values from the cache.
func (c *LRUCache) Clear() {
	c.cache.Clear()
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() Stats {
	m := c.cache.Metrics
	return Stats{
		Hits:      m.Hits(),
		Misses:    m.Misses(),
		KeysAdded: m.KeysAdded(),
		Evictions: m.KeysEvicted(),
		Size:      int64(m.CostAdded() - m.CostEvicted()),
		Items:     int64(m.KeysAdded() - m.KeysEvicted()),
	}
}

// Close releases the cache's internal goroutines.
func (c *LRUCache) Close() {
	c.cache.Close()
}
