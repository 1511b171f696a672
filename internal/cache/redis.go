// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/metrics"
)

const (
	// opTimeout bounds single-key operations so a slow Redis cannot stall
	// a booking command.
	opTimeout = 2 * time.Second
	// scanTimeout bounds a whole pattern invalidation sweep.
	scanTimeout = 5 * time.Second

	scanCount    = 256
	delBatchSize = 128
)

// RedisCache is the Redis-backed Cache. The client is shared with the lock
// manager; callers own its lifecycle.
type RedisCache struct {
	client *redis.Client
	logger zerolog.Logger
	stats  struct {
		hits      atomic.Int64
		misses    atomic.Int64
		sets      atomic.Int64
		evictions atomic.Int64
	}
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client: client,
		logger: log.WithComponent("cache"),
	}
}

func (c *RedisCache) Get(ctx context.Context, key string, dest any) bool {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.stats.misses.Add(1)
		metrics.RecordCacheRequest("miss")
		return false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str(log.FieldCacheKey, key).Msg("cache.get_failed")
		c.stats.misses.Add(1)
		metrics.RecordCacheRequest("error")
		return false
	}

	if err := json.Unmarshal(val, dest); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldCacheKey, key).Msg("cache.decode_failed")
		c.stats.misses.Add(1)
		metrics.RecordCacheRequest("error")
		return false
	}

	c.stats.hits.Add(1)
	metrics.RecordCacheRequest("hit")
	return true
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().Err(err).Str(log.FieldCacheKey, key).Msg("cache.encode_failed")
		return
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldCacheKey, key).Msg("cache.set_failed")
		return
	}

	c.stats.sets.Add(1)
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Strs("keys", keys).Msg("cache.delete_failed")
		metrics.RecordCacheInvalidation("error")
		return
	}
	metrics.RecordCacheInvalidation("ok")
}

// DeletePattern walks the keyspace with SCAN and deletes matches in batches.
// It logs failures and returns; invalidation is best effort and the stale
// entries age out by TTL anyway.
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	iter := c.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	batch := make([]string, 0, delBatchSize)
	deleted := 0

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= delBatchSize {
			deleted += c.deleteBatch(ctx, batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldCachePattern, pattern).Msg("cache.scan_failed")
		metrics.RecordCacheInvalidation("error")
		return
	}
	if len(batch) > 0 {
		deleted += c.deleteBatch(ctx, batch)
	}

	c.stats.evictions.Add(int64(deleted))
	metrics.RecordCacheInvalidation("ok")
	if deleted > 0 {
		c.logger.Debug().
			Str(log.FieldCachePattern, pattern).
			Int("deleted", deleted).
			Msg("cache.pattern_invalidated")
	}
}

func (c *RedisCache) deleteBatch(ctx context.Context, keys []string) int {
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Int("keys", len(keys)).Msg("cache.delete_failed")
		return 0
	}
	return len(keys)
}

// Clear flushes the current Redis database.
func (c *RedisCache) Clear(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	if err := c.client.FlushDB(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("cache.flush_failed")
	}
}

func (c *RedisCache) Stats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	size, err := c.client.DBSize(ctx).Result()
	if err != nil {
		c.logger.Warn().Err(err).Msg("cache.dbsize_failed")
		size = 0
	}

	return Stats{
		Hits:        c.stats.hits.Load(),
		Misses:      c.stats.misses.Load(),
		Sets:        c.stats.sets.Load(),
		Evictions:   c.stats.evictions.Load(),
		CurrentSize: int(size),
	}
}

// HealthCheck reports whether Redis responds.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var _ Cache = (*RedisCache)(nil)
