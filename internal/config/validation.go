// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"time"
)

// Validate rejects configurations the engine cannot run with.
func Validate(cfg Config) error {
	if cfg.Coordinator.SessionLockTTL < time.Second {
		return fmt.Errorf("session_lock_ttl_ms must be at least 1000, got %d", cfg.Coordinator.SessionLockTTL/time.Millisecond)
	}
	if cfg.Coordinator.ContactLockTTL < time.Second {
		return fmt.Errorf("contact_lock_ttl_ms must be at least 1000, got %d", cfg.Coordinator.ContactLockTTL/time.Millisecond)
	}
	if cfg.Coordinator.IdempotencyBucket < time.Second {
		return fmt.Errorf("idempotency_bucket_ms must be at least 1000, got %d", cfg.Coordinator.IdempotencyBucket/time.Millisecond)
	}
	if cfg.Coordinator.BatchSize < 1 || cfg.Coordinator.BatchSize > 100 {
		return fmt.Errorf("batch_size must be in [1,100], got %d", cfg.Coordinator.BatchSize)
	}
	if cfg.Coordinator.ActivationTick < time.Second {
		return fmt.Errorf("activation_tick_ms must be at least 1000, got %d", cfg.Coordinator.ActivationTick/time.Millisecond)
	}
	if cfg.Cache.Upcoming <= 0 || cfg.Cache.Default <= 0 || cfg.Cache.Listing <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	switch cfg.Store.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("store_driver must be postgres or sqlite, got %q", cfg.Store.Driver)
	}
	if cfg.Store.DSN == "" {
		return fmt.Errorf("store_dsn must not be empty")
	}
	if cfg.CRM.RateLimit <= 0 {
		return fmt.Errorf("crm_rate_limit must be positive, got %v", cfg.CRM.RateLimit)
	}
	if cfg.CRM.Burst < 1 {
		return fmt.Errorf("crm_burst must be at least 1, got %d", cfg.CRM.Burst)
	}
	if cfg.CRM.Retries < 0 {
		return fmt.Errorf("crm_retries must not be negative, got %d", cfg.CRM.Retries)
	}
	if cfg.Syncer.Workers < 1 {
		return fmt.Errorf("sync_workers must be at least 1, got %d", cfg.Syncer.Workers)
	}
	if cfg.Syncer.QueueSize < 1 {
		return fmt.Errorf("sync_queue must be at least 1, got %d", cfg.Syncer.QueueSize)
	}
	if cfg.Reconcile.MaxAttempts < 1 {
		return fmt.Errorf("reconcile_max_attempts must be at least 1, got %d", cfg.Reconcile.MaxAttempts)
	}
	switch cfg.Telemetry.Exporter {
	case "", "none", "grpc", "http":
	default:
		return fmt.Errorf("otel_exporter must be none, grpc or http, got %q", cfg.Telemetry.Exporter)
	}
	if cfg.Telemetry.SampleRate < 0 || cfg.Telemetry.SampleRate > 1 {
		return fmt.Errorf("otel_sample_rate must be in [0,1], got %v", cfg.Telemetry.SampleRate)
	}
	return nil
}
