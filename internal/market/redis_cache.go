package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const redisKeyPrefix = "confluence:feed:"

// redisOpTimeout caps every cache round trip so a slow Redis never
// stalls the fetch fan-out.
const redisOpTimeout = 500 * time.Millisecond

// RedisCache is the shared FeedCache tier for multi-instance
// deployments. All failures degrade to cache misses.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps a Redis client as a FeedCache. Returns nil when
// client is nil so callers can fall back to the in-memory tier.
func NewRedisCache(client *redis.Client) *RedisCache {
	if client == nil {
		return nil
	}
	return &RedisCache{client: client}
}

// Get decodes the cached value into out. Errors are treated as misses.
func (c *RedisCache) Get(ctx context.Context, key string, out interface{}) bool {
	if c == nil || c.client == nil {
		return false
	}
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	cached, err := c.client.Get(opCtx, redisKeyPrefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("Redis get error, treating as cache miss")
		}
		return false
	}
	if err := json.Unmarshal([]byte(cached), out); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to unmarshal cached feed value")
		return false
	}
	return true
}

// Set stores the value with the given TTL. Failures are logged, not
// surfaced: a dead cache must not fail a fetch.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to marshal feed value for cache")
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := c.client.Set(opCtx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache feed value")
	}
}

// Clear removes every feed cache entry.
func (c *RedisCache) Clear(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	iter := c.client.Scan(opCtx, 0, redisKeyPrefix+"*", 0).Iterator()
	count := 0
	for iter.Next(opCtx) {
		if err := c.client.Del(opCtx, iter.Val()).Err(); err != nil {
			log.Warn().Err(err).Str("key", iter.Val()).Msg("Failed to delete cache key")
		} else {
			count++
		}
	}
	if err := iter.Err(); err != nil {
		log.Warn().Err(err).Msg("Feed cache scan error during clear")
		return
	}
	log.Info().Int("keys_deleted", count).Msg("Cleared feed cache")
}

// Tier names this cache for the operation metrics.
func (c *RedisCache) Tier() string {
	return "redis"
}

// Health pings Redis.
func (c *RedisCache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}
	opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.client.Ping(opCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
