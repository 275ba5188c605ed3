package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/exocortex-initiative/forcefield/internal/logger"
)

// keyPrefix namespaces entries so Clear cannot touch foreign keys in a
// shared Redis database.
const keyPrefix = "forcefield:cache:"

const redisOpTimeout = 3 * time.Second

// RedisCache is a Cache backed by a shared Redis instance. Hit and miss
// counts are tracked client-side because the server's INFO stats would
// mix in other tenants of the same database.
type RedisCache struct {
	client     *redis.Client
	defaultTTL time.Duration
	log        *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
	adds   atomic.Uint64
}

// NewRedis connects to addr and verifies the connection with a ping.
func NewRedis(addr, password string, db int, defaultTTL time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}

	return &RedisCache{
		client:     client,
		defaultTTL: defaultTTL,
		log:        logger.WithComponent("cache"),
	}, nil
}

// Get retrieves a value from the cache by key. A flaky Redis degrades
// to misses rather than failing the request.
func (c *RedisCache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	val, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		c.misses.Add(1)
		return nil, false
	}
	if err != nil {
		c.log.Warn("redis get failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return val, true
}

// Set stores a value with the given TTL. Redis handles expiry natively.
func (c *RedisCache) Set(key string, value []byte, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := c.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		c.log.Warn("redis set failed", "key", key, "error", err)
		return
	}
	c.adds.Add(1)
}

// Delete removes a value from the cache.
func (c *RedisCache) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := c.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		c.log.Warn("redis delete failed", "key", key, "error", err)
	}
}

// Clear removes every entry under the cache prefix, leaving the rest of
// the database alone.
func (c *RedisCache) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			c.client.Del(ctx, batch...)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		c.client.Del(ctx, batch...)
	}
	if err := iter.Err(); err != nil {
		c.log.Warn("redis clear failed", "error", err)
	}
}

// Stats returns cache statistics. Items is counted with a prefix scan,
// so it is a point-in-time approximation.
func (c *RedisCache) Stats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	var items int64
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		items++
	}

	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		KeysAdded: c.adds.Load(),
		Items:     items,
	}
}

// Close releases the client's connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
