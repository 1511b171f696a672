// SPDX-License-Identifier: MIT

package locks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while the caller's token still owns it.
// The compare and the delete must be one atomic step; a GET/DEL pair would
// race with expiry followed by re-acquisition.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisManager implements Manager on a shared Redis, which makes the locks
// hold across engine instances.
type RedisManager struct {
	client *redis.Client
}

// NewRedisManager wraps an existing Redis client.
func NewRedisManager(client *redis.Client) *RedisManager {
	return &RedisManager{client: client}
}

// Acquire implements Manager via SET NX PX with a random owner token.
func (m *RedisManager) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	logger := log.WithComponentFromContext(ctx, "locks")
	token := uuid.NewString()

	for attempt := 1; attempt <= acquireAttempts; attempt++ {
		ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			logger.Warn().
				Err(err).
				Str(log.FieldLockKey, key).
				Int("attempt", attempt).
				Str(log.FieldEvent, "lock.acquire_error").
				Msg("lock backend error")
			metrics.RecordLockAcquire("error")
			return "", err
		}
		if ok {
			metrics.RecordLockAcquire("acquired")
			return token, nil
		}
		if attempt < acquireAttempts {
			if err := sleepCtx(ctx, acquireBackoff); err != nil {
				metrics.RecordLockAcquire("canceled")
				return "", err
			}
		}
	}

	logger.Debug().
		Str(log.FieldLockKey, key).
		Str(log.FieldEvent, "lock.contended").
		Msg("lock held by another owner past bounded wait")
	metrics.RecordLockAcquire("contended")
	return "", ErrNotAcquired
}

// Release implements Manager. Only the holding token deletes the key.
func (m *RedisManager) Release(ctx context.Context, key, token string) error {
	deleted, err := releaseScript.Run(ctx, m.client, []string{key}, token).Int()
	if err != nil {
		logger := log.WithComponentFromContext(ctx, "locks")
		logger.Warn().
			Err(err).
			Str(log.FieldLockKey, key).
			Str(log.FieldEvent, "lock.release_error").
			Msg("lock release failed")
		return err
	}
	if deleted == 0 {
		// Expired and possibly re-acquired elsewhere; nothing to free.
		logger := log.WithComponentFromContext(ctx, "locks")
		logger.Debug().
			Str(log.FieldLockKey, key).
			Str(log.FieldEvent, "lock.release_stale").
			Msg("release skipped, token no longer owns key")
	}
	return nil
}
