// SPDX-License-Identifier: MIT

// Command bookd runs the mock-exam booking engine: the HTTP command host,
// the activation scheduler, the reconciler, and the CRM sync pool.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prepstack/bookd/internal/audit"
	"github.com/prepstack/bookd/internal/config"
	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/telemetry"
	"github.com/prepstack/bookd/internal/version"
)

// bootGrace bounds how long worker startup waits for dependencies before
// running anyway. Readiness keeps traffic away either way.
const bootGrace = 30 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("bookd %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalLog := log.WithComponent("daemon")
		fatalLog.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	// The logger self-initialises at import with env defaults; the config
	// level is applied on top once it is known.
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		warnLog := log.WithComponent("daemon")
		warnLog.Warn().Err(err).Msg("invalid log level in config, keeping default")
	}
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:    "bookd",
		ServiceVersion: version.Version,
		Environment:    config.ParseString("BOOKD_ENV", "production"),
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialise tracing")
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	eng, err := buildEngine(cfg)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "wiring.failed").
			Msg("failed to wire the engine")
	}
	defer eng.Close()

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.Listen).
		Str("store", cfg.Store.Driver).
		Bool("redis", cfg.Redis.Addr != "").
		Msg("starting bookd")
	if cfg.APIToken == "" {
		logger.Warn().
			Str("security", "fail_closed").
			Msg("no API token configured, mutations will be refused until BOOKD_API_TOKEN is set")
	}
	if cfg.CRM.BaseURL == "" {
		logger.Warn().Msg("no CRM base URL configured, record-of-truth writes will fail")
	}

	server := eng.api.HTTPServer(cfg.Listen)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.Listen).Msg("http host listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	// The probe endpoints come up first; the workers hold their first pass
	// until the dependencies answer, so boot does not burn CRM retries
	// against a backend that is still starting.
	g.Go(func() error {
		waitCtx, cancel := context.WithTimeout(gctx, bootGrace)
		defer cancel()
		if err := eng.health.WaitReady(waitCtx, time.Second); err != nil && gctx.Err() == nil {
			logger.Warn().Err(err).Msg("dependencies still down after boot grace, workers starting anyway")
		}
		if gctx.Err() != nil {
			return gctx.Err()
		}

		workers, wctx := errgroup.WithContext(gctx)
		workers.Go(func() error { return eng.activator.Run(wctx) })
		workers.Go(func() error { return eng.reconciler.Run(wctx) })
		return workers.Wait()
	})

	g.Go(func() error { return handleSighup(gctx, *configPath) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon exited with error")
	}
	logger.Info().Msg("bookd exiting")
}

// handleSighup re-reads the config on SIGHUP and applies what can change at
// runtime, which is the log level. Everything else needs a restart.
func handleSighup(ctx context.Context, configPath string) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	logger := log.WithComponent("daemon")
	auditor := audit.NewLogger()
	for {
		select {
		case <-hup:
			cfg, err := config.Load(configPath)
			if err != nil {
				logger.Error().
					Err(err).
					Str("event", "config.reload_failed").
					Msg("config re-read failed, keeping current settings")
				auditor.ConfigReload("failure", map[string]string{"error": err.Error()})
				continue
			}
			if err := log.SetLevel(cfg.LogLevel); err != nil {
				logger.Warn().Err(err).Msg("log level unchanged")
				auditor.ConfigReload("failure", map[string]string{"error": err.Error()})
				continue
			}
			logger.Info().
				Str("event", "config.reloaded").
				Str("log_level", cfg.LogLevel).
				Msg("config re-read, log level applied; other changes need a restart")
			auditor.ConfigReload("success", map[string]string{"log_level": cfg.LogLevel})
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
