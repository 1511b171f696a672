// SPDX-License-Identifier: MIT

// Command configgen emits a starter bookd configuration with every supported
// option at its built-in default, ready to edit. The output parses under the
// engine's strict loader, so a freshly generated file always boots.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prepstack/bookd/internal/config"
)

func main() {
	out := flag.String("o", "", "write to file instead of stdout")
	force := flag.Bool("force", false, "overwrite an existing file")
	flag.Parse()

	starter := render(config.Default())

	if *out == "" {
		fmt.Print(starter)
		return
	}

	if !*force {
		if _, err := os.Stat(*out); err == nil {
			fail(fmt.Errorf("%s exists, use -force to overwrite", *out))
		}
	}
	if err := os.WriteFile(*out, []byte(starter), 0o600); err != nil {
		fail(fmt.Errorf("write %s: %w", *out, err))
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", *out)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
	os.Exit(1)
}

// render lays out every option in the strict loader's key set. Secrets and
// connection strings with no safe default stay commented out.
func render(cfg config.Config) string {
	var b strings.Builder

	b.WriteString("# bookd configuration.\n")
	b.WriteString("# File values override built-in defaults; BOOKD_* environment\n")
	b.WriteString("# variables override both.\n\n")

	fmt.Fprintf(&b, "log_level: %s\n", cfg.LogLevel)
	fmt.Fprintf(&b, "listen: %q\n", cfg.Listen)
	b.WriteString("# api_token: prefer BOOKD_API_TOKEN over a token on disk\n\n")

	b.WriteString("# Booking coordinator.\n")
	fmt.Fprintf(&b, "session_lock_ttl_ms: %d\n", ms(cfg.Coordinator.SessionLockTTL))
	fmt.Fprintf(&b, "contact_lock_ttl_ms: %d\n", ms(cfg.Coordinator.ContactLockTTL))
	fmt.Fprintf(&b, "idempotency_bucket_ms: %d\n", ms(cfg.Coordinator.IdempotencyBucket))
	fmt.Fprintf(&b, "batch_size: %d\n", cfg.Coordinator.BatchSize)
	fmt.Fprintf(&b, "activation_tick_ms: %d\n", ms(cfg.Coordinator.ActivationTick))
	fmt.Fprintf(&b, "counter_fallback_enabled: %t\n\n", cfg.Coordinator.CounterFallback)

	b.WriteString("# Cache lifetimes.\n")
	fmt.Fprintf(&b, "cache_ttl_upcoming_ms: %d\n", ms(cfg.Cache.Upcoming))
	fmt.Fprintf(&b, "cache_ttl_default_ms: %d\n", ms(cfg.Cache.Default))
	fmt.Fprintf(&b, "cache_ttl_listing_ms: %d\n\n", ms(cfg.Cache.Listing))

	b.WriteString("# Redis backs locks and the cache. Without it both fall back\n")
	b.WriteString("# to in-process implementations (single instance only).\n")
	b.WriteString("# redis_addr: \"localhost:6379\"\n")
	b.WriteString("# redis_password: \"\"\n")
	b.WriteString("# redis_db: 0\n\n")

	b.WriteString("# Fast store: sqlite or postgres.\n")
	fmt.Fprintf(&b, "store_driver: %s\n", cfg.Store.Driver)
	fmt.Fprintf(&b, "store_dsn: %s\n\n", cfg.Store.DSN)

	b.WriteString("# CRM of record.\n")
	b.WriteString("# crm_base_url: \"https://crm.example.com\"\n")
	b.WriteString("# crm_token: prefer BOOKD_CRM_TOKEN over a token on disk\n")
	fmt.Fprintf(&b, "crm_timeout_ms: %d\n", ms(cfg.CRM.Timeout))
	fmt.Fprintf(&b, "crm_rate_limit: %g\n", cfg.CRM.RateLimit)
	fmt.Fprintf(&b, "crm_burst: %d\n", cfg.CRM.Burst)
	fmt.Fprintf(&b, "crm_retries: %d\n\n", cfg.CRM.Retries)

	b.WriteString("# Fire-and-forget CRM projection pool.\n")
	fmt.Fprintf(&b, "sync_workers: %d\n", cfg.Syncer.Workers)
	fmt.Fprintf(&b, "sync_queue: %d\n\n", cfg.Syncer.QueueSize)

	b.WriteString("# Drift repair job.\n")
	fmt.Fprintf(&b, "reconcile_tick_ms: %d\n", ms(cfg.Reconcile.Tick))
	fmt.Fprintf(&b, "reconcile_max_attempts: %d\n\n", cfg.Reconcile.MaxAttempts)

	b.WriteString("# HTTP ingress limits, keyed by client IP.\n")
	fmt.Fprintf(&b, "rate_limit_enabled: %t\n", cfg.RateLimit.Enabled)
	fmt.Fprintf(&b, "rate_limit_rps: %d\n", cfg.RateLimit.GlobalRPS)
	fmt.Fprintf(&b, "rate_limit_burst: %d\n\n", cfg.RateLimit.Burst)

	b.WriteString("# Tracing: none, grpc, or http.\n")
	fmt.Fprintf(&b, "otel_exporter: %s\n", cfg.Telemetry.Exporter)
	b.WriteString("# otel_endpoint: \"localhost:4317\"\n")
	fmt.Fprintf(&b, "otel_sample_rate: %g\n", cfg.Telemetry.SampleRate)

	return b.String()
}

func ms(d time.Duration) int64 { return d.Milliseconds() }
