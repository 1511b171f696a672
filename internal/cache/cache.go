// SPDX-License-Identifier: MIT

// Package cache provides read-model caching for resolved bookings, session
// listings and aggregates. Values are stored JSON-serialized so every backend
// returns the same shape, and invalidation works on exact keys or glob
// patterns. Cache failures are absorbed: a broken cache degrades to a miss,
// it never fails the calling command.
package cache

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"time"

	"github.com/prepstack/bookd/internal/metrics"
)

// Cache is the read-model cache. Get decodes the stored JSON into dest and
// reports whether the key was present. Writes and invalidations never return
// errors; backends log failures and the caller proceeds as on a miss.
type Cache interface {
	Get(ctx context.Context, key string, dest any) bool
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
	// DeletePattern removes every key matching the glob pattern,
	// e.g. "session:901:*".
	DeletePattern(ctx context.Context, pattern string)
	Clear(ctx context.Context)
	Stats() Stats
}

// Stats holds cache performance counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Evictions   int64
	CurrentSize int
}

// entry is a cached JSON document with its expiry.
type entry struct {
	data       []byte
	expiration time.Time
}

// memoryCache keeps entries in-process. It serializes values to JSON like the
// Redis backend so callers see identical decode behavior either way.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	stats   Stats
	janitor *janitor
	now     func() time.Time
}

// NewMemoryCache creates an in-process cache. A positive cleanupInterval
// starts a janitor goroutine that drops expired entries; Stop ends it.
func NewMemoryCache(cleanupInterval time.Duration) *memoryCache {
	c := &memoryCache{
		entries: make(map[string]*entry),
		now:     time.Now,
	}

	if cleanupInterval > 0 {
		c.janitor = &janitor{
			interval: cleanupInterval,
			stop:     make(chan struct{}),
		}
		go c.janitor.run(c)
	}

	return c
}

func (c *memoryCache) Get(_ context.Context, key string, dest any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found || c.now().After(e.expiration) {
		c.stats.Misses++
		metrics.RecordCacheRequest("miss")
		return false
	}

	if err := json.Unmarshal(e.data, dest); err != nil {
		c.stats.Misses++
		metrics.RecordCacheRequest("error")
		return false
	}

	c.stats.Hits++
	metrics.RecordCacheRequest("hit")
	return true
}

func (c *memoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{
		data:       data,
		expiration: c.now().Add(ttl),
	}
	c.stats.Sets++
}

func (c *memoryCache) Delete(_ context.Context, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	metrics.RecordCacheInvalidation("ok")
}

func (c *memoryCache) DeletePattern(_ context.Context, pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		// Keys never contain '/', so path globbing matches Redis globbing.
		ok, err := path.Match(pattern, key)
		if err != nil {
			metrics.RecordCacheInvalidation("error")
			return
		}
		if ok {
			delete(c.entries, key)
			c.stats.Evictions++
		}
	}
	metrics.RecordCacheInvalidation("ok")
}

func (c *memoryCache) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

func (c *memoryCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.CurrentSize = len(c.entries)
	return stats
}

// deleteExpired removes all expired entries and returns how many went.
func (c *memoryCache) deleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, e := range c.entries {
		if c.now().After(e.expiration) {
			delete(c.entries, key)
			count++
		}
	}

	c.stats.Evictions += int64(count)
	return count
}

// Stop ends the janitor goroutine.
func (c *memoryCache) Stop() {
	if c.janitor != nil {
		c.janitor.stop <- struct{}{}
	}
}

type janitor struct {
	interval time.Duration
	stop     chan struct{}
}

func (j *janitor) run(c *memoryCache) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-j.stop:
			return
		}
	}
}

// noOpCache disables caching entirely; every read is a miss.
type noOpCache struct{}

// NewNoOpCache returns a cache that stores nothing.
func NewNoOpCache() Cache {
	return &noOpCache{}
}

func (c *noOpCache) Get(context.Context, string, any) bool            { return false }
func (c *noOpCache) Set(context.Context, string, any, time.Duration) {}
func (c *noOpCache) Delete(context.Context, ...string)               {}
func (c *noOpCache) DeletePattern(context.Context, string)           {}
func (c *noOpCache) Clear(context.Context)                           {}
func (c *noOpCache) Stats() Stats                                    { return Stats{} }

var _ Cache = (*memoryCache)(nil)
