// Package cache provides TTL caching for serialized responses: layout
// frames, graph documents, and rendered exports. The default backend is
// an in-process ristretto cache; setting REDIS_ADDR switches to a shared
// Redis cache so replicas behind a load balancer serve the same entries.
package cache

import "time"

// Cache is the interface for caching serialized data with TTL.
type Cache interface {
	// Get retrieves a value from the cache by key.
	// Returns the value and true if found and not expired, otherwise nil and false.
	Get(key string) ([]byte, bool)

	// Set stores a value in the cache with the given key and TTL.
	// TTL of 0 means use the default cache TTL.
	Set(key string, value []byte, ttl time.Duration)

	// Delete removes a value from the cache.
	Delete(key string)

	// Clear removes all values from the cache.
	Clear()

	// Stats returns cache statistics.
	Stats() Stats
}

// Stats represents cache statistics.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	KeysAdded uint64 `json:"keys_added"`
	Evictions uint64 `json:"evictions"`
	Size      int64  `json:"size_bytes"` // approximate payload bytes held
	Items     int64  `json:"items"`
}
