package cache

import "time"

// noopCache satisfies Cache without storing anything, for deployments that
// turn response caching off. Every Get is a miss.
type noopCache struct{}

// Noop returns the disabled cache backend.
func Noop() Cache {
	return noopCache{}
}

func (noopCache) Get(key string) ([]byte, bool) { return nil, false }

func (noopCache) Set(key string, value []byte, ttl time.Duration) {}

func (noopCache) Delete(key string) {}

func (noopCache) Clear() {}

func (noopCache) Stats() Stats { return Stats{} }
