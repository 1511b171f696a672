// SPDX-License-Identifier: MIT

// Package config loads bookd configuration with precedence ENV > file > defaults.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the effective runtime configuration.
type Config struct {
	LogLevel string
	Listen   string
	APIToken string

	Coordinator Coordinator
	Cache       CacheTTLs
	Redis       Redis
	Store       Store
	CRM         CRM
	Syncer      Syncer
	Reconcile   Reconcile
	RateLimit   RateLimit
	Telemetry   Telemetry
}

// Coordinator carries the booking engine option set.
type Coordinator struct {
	SessionLockTTL    time.Duration
	ContactLockTTL    time.Duration
	IdempotencyBucket time.Duration
	BatchSize         int
	ActivationTick    time.Duration
	CounterFallback   bool
}

// CacheTTLs carries per-namespace cache lifetimes.
type CacheTTLs struct {
	Upcoming time.Duration
	Default  time.Duration
	Listing  time.Duration
}

// Redis selects the lock and cache backend. An empty Addr switches both to
// the in-process implementations.
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Store selects the fast-store backend.
type Store struct {
	Driver string // "postgres" | "sqlite"
	DSN    string
}

// CRM configures the CRM-of-record client.
type CRM struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit float64 // requests per second
	Burst     int
	Retries   int
}

// Syncer bounds the fire-and-forget projection pool.
type Syncer struct {
	Workers   int
	QueueSize int
}

// Reconcile configures the drift repair job.
type Reconcile struct {
	Tick        time.Duration
	MaxAttempts int
}

// RateLimit configures the HTTP ingress limiter.
type RateLimit struct {
	Enabled   bool
	GlobalRPS int
	Burst     int
}

// Telemetry configures the OTLP trace exporter.
type Telemetry struct {
	Exporter   string // "none" | "grpc" | "http"
	Endpoint   string
	SampleRate float64
}

// Default returns the documented option set defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Listen:   ":8080",
		Coordinator: Coordinator{
			SessionLockTTL:    15 * time.Second,
			ContactLockTTL:    10 * time.Second,
			IdempotencyBucket: 5 * time.Minute,
			BatchSize:         100,
			ActivationTick:    time.Minute,
			CounterFallback:   true,
		},
		Cache: CacheTTLs{
			Upcoming: 30 * time.Second,
			Default:  180 * time.Second,
			Listing:  120 * time.Second,
		},
		Store: Store{
			Driver: "sqlite",
			DSN:    "bookd.db",
		},
		CRM: CRM{
			Timeout:   10 * time.Second,
			RateLimit: 8,
			Burst:     4,
			Retries:   3,
		},
		Syncer: Syncer{
			Workers:   4,
			QueueSize: 256,
		},
		Reconcile: Reconcile{
			Tick:        15 * time.Minute,
			MaxAttempts: 5,
		},
		RateLimit: RateLimit{
			Enabled:   true,
			GlobalRPS: 50,
			Burst:     100,
		},
		Telemetry: Telemetry{
			Exporter:   "none",
			SampleRate: 0.1,
		},
	}
}

// Load builds the effective config: defaults, then the optional YAML file,
// then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		fileCfg, err := loadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		mergeFile(&cfg, fileCfg)
	}

	mergeEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// FileConfig mirrors Config with optional fields so absent keys do not
// clobber defaults. Option names match the documented ms-suffixed set.
type FileConfig struct {
	LogLevel *string `yaml:"log_level"`
	Listen   *string `yaml:"listen"`
	APIToken *string `yaml:"api_token"`

	SessionLockTTLMS     *int  `yaml:"session_lock_ttl_ms"`
	ContactLockTTLMS     *int  `yaml:"contact_lock_ttl_ms"`
	IdempotencyBucketMS  *int  `yaml:"idempotency_bucket_ms"`
	BatchSize            *int  `yaml:"batch_size"`
	ActivationTickMS     *int  `yaml:"activation_tick_ms"`
	CacheTTLUpcomingMS   *int  `yaml:"cache_ttl_upcoming_ms"`
	CacheTTLDefaultMS    *int  `yaml:"cache_ttl_default_ms"`
	CacheTTLListingMS    *int  `yaml:"cache_ttl_listing_ms"`
	CounterFallback      *bool `yaml:"counter_fallback_enabled"`
	ReconcileTickMS      *int  `yaml:"reconcile_tick_ms"`
	ReconcileMaxAttempts *int  `yaml:"reconcile_max_attempts"`

	RedisAddr     *string `yaml:"redis_addr"`
	RedisPassword *string `yaml:"redis_password"`
	RedisDB       *int    `yaml:"redis_db"`

	StoreDriver *string `yaml:"store_driver"`
	StoreDSN    *string `yaml:"store_dsn"`

	CRMBaseURL   *string  `yaml:"crm_base_url"`
	CRMToken     *string  `yaml:"crm_token"`
	CRMTimeoutMS *int     `yaml:"crm_timeout_ms"`
	CRMRateLimit *float64 `yaml:"crm_rate_limit"`
	CRMBurst     *int     `yaml:"crm_burst"`
	CRMRetries   *int     `yaml:"crm_retries"`

	SyncWorkers *int `yaml:"sync_workers"`
	SyncQueue   *int `yaml:"sync_queue"`

	RateLimitEnabled *bool `yaml:"rate_limit_enabled"`
	RateLimitRPS     *int  `yaml:"rate_limit_rps"`
	RateLimitBurst   *int  `yaml:"rate_limit_burst"`

	OTELExporter   *string  `yaml:"otel_exporter"`
	OTELEndpoint   *string  `yaml:"otel_endpoint"`
	OTELSampleRate *float64 `yaml:"otel_sample_rate"`
}

// loadFile parses a YAML config file with STRICT parsing. Unknown fields are
// rejected to prevent silent misconfiguration.
func loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if err == io.EOF {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}

	return &fileCfg, nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func mergeFile(cfg *Config, f *FileConfig) {
	if f.LogLevel != nil {
		cfg.LogLevel = *f.LogLevel
	}
	if f.Listen != nil {
		cfg.Listen = *f.Listen
	}
	if f.APIToken != nil {
		cfg.APIToken = *f.APIToken
	}
	if f.SessionLockTTLMS != nil {
		cfg.Coordinator.SessionLockTTL = ms(*f.SessionLockTTLMS)
	}
	if f.ContactLockTTLMS != nil {
		cfg.Coordinator.ContactLockTTL = ms(*f.ContactLockTTLMS)
	}
	if f.IdempotencyBucketMS != nil {
		cfg.Coordinator.IdempotencyBucket = ms(*f.IdempotencyBucketMS)
	}
	if f.BatchSize != nil {
		cfg.Coordinator.BatchSize = *f.BatchSize
	}
	if f.ActivationTickMS != nil {
		cfg.Coordinator.ActivationTick = ms(*f.ActivationTickMS)
	}
	if f.CounterFallback != nil {
		cfg.Coordinator.CounterFallback = *f.CounterFallback
	}
	if f.CacheTTLUpcomingMS != nil {
		cfg.Cache.Upcoming = ms(*f.CacheTTLUpcomingMS)
	}
	if f.CacheTTLDefaultMS != nil {
		cfg.Cache.Default = ms(*f.CacheTTLDefaultMS)
	}
	if f.CacheTTLListingMS != nil {
		cfg.Cache.Listing = ms(*f.CacheTTLListingMS)
	}
	if f.ReconcileTickMS != nil {
		cfg.Reconcile.Tick = ms(*f.ReconcileTickMS)
	}
	if f.ReconcileMaxAttempts != nil {
		cfg.Reconcile.MaxAttempts = *f.ReconcileMaxAttempts
	}
	if f.RedisAddr != nil {
		cfg.Redis.Addr = *f.RedisAddr
	}
	if f.RedisPassword != nil {
		cfg.Redis.Password = *f.RedisPassword
	}
	if f.RedisDB != nil {
		cfg.Redis.DB = *f.RedisDB
	}
	if f.StoreDriver != nil {
		cfg.Store.Driver = *f.StoreDriver
	}
	if f.StoreDSN != nil {
		cfg.Store.DSN = *f.StoreDSN
	}
	if f.CRMBaseURL != nil {
		cfg.CRM.BaseURL = *f.CRMBaseURL
	}
	if f.CRMToken != nil {
		cfg.CRM.Token = *f.CRMToken
	}
	if f.CRMTimeoutMS != nil {
		cfg.CRM.Timeout = ms(*f.CRMTimeoutMS)
	}
	if f.CRMRateLimit != nil {
		cfg.CRM.RateLimit = *f.CRMRateLimit
	}
	if f.CRMBurst != nil {
		cfg.CRM.Burst = *f.CRMBurst
	}
	if f.CRMRetries != nil {
		cfg.CRM.Retries = *f.CRMRetries
	}
	if f.SyncWorkers != nil {
		cfg.Syncer.Workers = *f.SyncWorkers
	}
	if f.SyncQueue != nil {
		cfg.Syncer.QueueSize = *f.SyncQueue
	}
	if f.RateLimitEnabled != nil {
		cfg.RateLimit.Enabled = *f.RateLimitEnabled
	}
	if f.RateLimitRPS != nil {
		cfg.RateLimit.GlobalRPS = *f.RateLimitRPS
	}
	if f.RateLimitBurst != nil {
		cfg.RateLimit.Burst = *f.RateLimitBurst
	}
	if f.OTELExporter != nil {
		cfg.Telemetry.Exporter = *f.OTELExporter
	}
	if f.OTELEndpoint != nil {
		cfg.Telemetry.Endpoint = *f.OTELEndpoint
	}
	if f.OTELSampleRate != nil {
		cfg.Telemetry.SampleRate = *f.OTELSampleRate
	}
}

// mergeEnv applies BOOKD_* environment overrides on top of cfg.
func mergeEnv(cfg *Config) {
	cfg.LogLevel = ParseString("BOOKD_LOG_LEVEL", cfg.LogLevel)
	cfg.Listen = ParseString("BOOKD_LISTEN", cfg.Listen)
	cfg.APIToken = ParseString("BOOKD_API_TOKEN", cfg.APIToken)

	cfg.Coordinator.SessionLockTTL = ms(ParseInt("BOOKD_SESSION_LOCK_TTL_MS", int(cfg.Coordinator.SessionLockTTL/time.Millisecond)))
	cfg.Coordinator.ContactLockTTL = ms(ParseInt("BOOKD_CONTACT_LOCK_TTL_MS", int(cfg.Coordinator.ContactLockTTL/time.Millisecond)))
	cfg.Coordinator.IdempotencyBucket = ms(ParseInt("BOOKD_IDEMPOTENCY_BUCKET_MS", int(cfg.Coordinator.IdempotencyBucket/time.Millisecond)))
	cfg.Coordinator.BatchSize = ParseInt("BOOKD_BATCH_SIZE", cfg.Coordinator.BatchSize)
	cfg.Coordinator.ActivationTick = ms(ParseInt("BOOKD_ACTIVATION_TICK_MS", int(cfg.Coordinator.ActivationTick/time.Millisecond)))
	cfg.Coordinator.CounterFallback = ParseBool("BOOKD_COUNTER_FALLBACK_ENABLED", cfg.Coordinator.CounterFallback)

	cfg.Cache.Upcoming = ms(ParseInt("BOOKD_CACHE_TTL_UPCOMING_MS", int(cfg.Cache.Upcoming/time.Millisecond)))
	cfg.Cache.Default = ms(ParseInt("BOOKD_CACHE_TTL_DEFAULT_MS", int(cfg.Cache.Default/time.Millisecond)))
	cfg.Cache.Listing = ms(ParseInt("BOOKD_CACHE_TTL_LISTING_MS", int(cfg.Cache.Listing/time.Millisecond)))

	cfg.Reconcile.Tick = ms(ParseInt("BOOKD_RECONCILE_TICK_MS", int(cfg.Reconcile.Tick/time.Millisecond)))
	cfg.Reconcile.MaxAttempts = ParseInt("BOOKD_RECONCILE_MAX_ATTEMPTS", cfg.Reconcile.MaxAttempts)

	cfg.Redis.Addr = ParseString("BOOKD_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = ParseString("BOOKD_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = ParseInt("BOOKD_REDIS_DB", cfg.Redis.DB)

	cfg.Store.Driver = ParseString("BOOKD_STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DSN = ParseString("BOOKD_STORE_DSN", cfg.Store.DSN)

	cfg.CRM.BaseURL = ParseString("BOOKD_CRM_BASE_URL", cfg.CRM.BaseURL)
	cfg.CRM.Token = ParseString("BOOKD_CRM_TOKEN", cfg.CRM.Token)
	cfg.CRM.Timeout = ms(ParseInt("BOOKD_CRM_TIMEOUT_MS", int(cfg.CRM.Timeout/time.Millisecond)))
	cfg.CRM.RateLimit = ParseFloat("BOOKD_CRM_RATE_LIMIT", cfg.CRM.RateLimit)
	cfg.CRM.Burst = ParseInt("BOOKD_CRM_BURST", cfg.CRM.Burst)
	cfg.CRM.Retries = ParseInt("BOOKD_CRM_RETRIES", cfg.CRM.Retries)

	cfg.Syncer.Workers = ParseInt("BOOKD_SYNC_WORKERS", cfg.Syncer.Workers)
	cfg.Syncer.QueueSize = ParseInt("BOOKD_SYNC_QUEUE", cfg.Syncer.QueueSize)

	cfg.RateLimit.Enabled = ParseBool("BOOKD_RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.GlobalRPS = ParseInt("BOOKD_RATE_LIMIT_RPS", cfg.RateLimit.GlobalRPS)
	cfg.RateLimit.Burst = ParseInt("BOOKD_RATE_LIMIT_BURST", cfg.RateLimit.Burst)

	cfg.Telemetry.Exporter = ParseString("BOOKD_OTEL_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = ParseString("BOOKD_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SampleRate = ParseFloat("BOOKD_OTEL_SAMPLE_RATE", cfg.Telemetry.SampleRate)
}
