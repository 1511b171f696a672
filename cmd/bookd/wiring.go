// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/prepstack/bookd/internal/activator"
	"github.com/prepstack/bookd/internal/api"
	"github.com/prepstack/bookd/internal/booking"
	"github.com/prepstack/bookd/internal/cache"
	"github.com/prepstack/bookd/internal/config"
	"github.com/prepstack/bookd/internal/counter"
	"github.com/prepstack/bookd/internal/credits"
	"github.com/prepstack/bookd/internal/crm"
	"github.com/prepstack/bookd/internal/faststore"
	"github.com/prepstack/bookd/internal/health"
	"github.com/prepstack/bookd/internal/locks"
	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/reconcile"
	"github.com/prepstack/bookd/internal/resolver"
	"github.com/prepstack/bookd/internal/sessions"
	"github.com/prepstack/bookd/internal/syncer"
	"github.com/prepstack/bookd/internal/version"
)

// engine bundles the wired components and owns their shutdown order.
type engine struct {
	store      *faststore.SQL
	redis      *redis.Client
	cache      cache.Cache
	pool       *syncer.Pool
	activator  *activator.Worker
	reconciler *reconcile.Worker
	health     *health.Manager
	api        *api.Server
}

// buildEngine wires every component from configuration. Redis is optional:
// without an address, locks and cache run in process and the engine must not
// be scaled past one instance.
func buildEngine(cfg config.Config) (*engine, error) {
	store, err := faststore.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open fast store: %w", err)
	}

	var (
		rdb     *redis.Client
		lockMgr locks.Manager
		c       cache.Cache
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		lockMgr = locks.NewRedisManager(rdb)
		c = cache.NewRedisCache(rdb)
	} else {
		warnLog := log.WithComponent("daemon")
		warnLog.Warn().
			Msg("no redis configured, locks and cache are in-process (single instance only)")
		lockMgr = locks.NewMemoryManager()
		c = cache.NewMemoryCache(time.Minute)
	}

	crmClient := crm.NewClient(cfg.CRM.BaseURL, crm.Options{
		Token:          cfg.CRM.Token,
		Timeout:        cfg.CRM.Timeout,
		MaxRetries:     cfg.CRM.Retries,
		RateLimit:      rate.Limit(cfg.CRM.RateLimit),
		RateLimitBurst: cfg.CRM.Burst,
		UserAgent:      "bookd/" + version.Version,
	})

	pool := syncer.New(cfg.Syncer.Workers, cfg.Syncer.QueueSize)
	pool.Start()

	res := resolver.New(store, crmClient, pool)
	ledger := credits.New(crmClient, store, lockMgr, cfg.Coordinator.ContactLockTTL)
	ctr := counter.New(store, crmClient, cfg.Coordinator.CounterFallback)

	inventory := sessions.New(store, crmClient, res, c,
		sessions.WithTTL(cfg.Cache.Listing),
		sessions.WithBatchSize(cfg.Coordinator.BatchSize),
	)

	coord := booking.New(booking.Deps{
		Locks:    lockMgr,
		Resolver: res,
		Credits:  ledger,
		Counter:  ctr,
		CRM:      crmClient,
		Store:    store,
		Cache:    c,
		Pool:     pool,
	}, booking.Config{
		SessionLockTTL:    cfg.Coordinator.SessionLockTTL,
		IdempotencyBucket: cfg.Coordinator.IdempotencyBucket,
		CacheTTLUpcoming:  cfg.Cache.Upcoming,
		CacheTTLDefault:   cfg.Cache.Default,
	})

	act := activator.New(store, inventory,
		activator.WithTick(cfg.Coordinator.ActivationTick),
		activator.WithLimit(cfg.Coordinator.BatchSize),
	)

	rec := reconcile.New(store, ctr, ledger, crmClient, lockMgr, c,
		reconcile.WithTick(cfg.Reconcile.Tick),
		reconcile.WithLimit(cfg.Coordinator.BatchSize),
		reconcile.WithLockTTL(cfg.Coordinator.SessionLockTTL),
		reconcile.WithMaxRetries(cfg.Reconcile.MaxAttempts),
	)

	hm := health.NewManager(version.Version)
	hm.Register(health.NewPingChecker("faststore", store.HealthCheck))
	if cfg.CRM.BaseURL != "" {
		hm.Register(health.NewPingChecker("crm", crmClient.HealthCheck))
	}
	if rdb != nil {
		hm.Register(health.NewOptionalChecker("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}

	host := api.New(api.Config{
		Token:            cfg.APIToken,
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimitRPS:     cfg.RateLimit.GlobalRPS,
		RateLimitBurst:   cfg.RateLimit.Burst,
	}, api.Deps{
		Engine:     coord,
		Inventory:  inventory,
		Activator:  act,
		Reconciler: rec,
		Health:     hm,
	})

	return &engine{
		store:      store,
		redis:      rdb,
		cache:      c,
		pool:       pool,
		activator:  act,
		reconciler: rec,
		health:     hm,
		api:        host,
	}, nil
}

// Close releases resources in reverse dependency order: drain the sync pool
// first so projection writes still have a store to land in.
func (e *engine) Close() {
	logger := log.WithComponent("daemon")
	e.pool.Stop()
	if stopper, ok := e.cache.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			logger.Warn().Err(err).Msg("redis close failed")
		}
	}
	if err := e.store.Close(); err != nil {
		logger.Warn().Err(err).Msg("fast store close failed")
	}
}
