// SPDX-License-Identifier: MIT

// Package api hosts the booking engine over HTTP: JSON commands behind a
// uniform outcome envelope, bearer-token auth on every mutation, and the
// operational endpoints (health, readiness, metrics).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/prepstack/bookd/internal/activator"
	"github.com/prepstack/bookd/internal/audit"
	"github.com/prepstack/bookd/internal/booking"
	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/faststore"
	"github.com/prepstack/bookd/internal/health"
	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/reconcile"
	"github.com/prepstack/bookd/internal/sessions"
)

// Engine is the booking command surface the host exposes.
// *booking.Coordinator satisfies it.
type Engine interface {
	Create(ctx context.Context, req booking.CreateRequest) (*booking.CreateResult, error)
	Cancel(ctx context.Context, req booking.CancelRequest) (*booking.CancelResult, error)
	Rebook(ctx context.Context, req booking.RebookRequest) (*booking.RebookResult, error)
	ListBookings(ctx context.Context, contactID string, rng faststore.BookingRange, page, limit int) (*booking.BookingsPage, error)
	GetCredits(ctx context.Context, contactID string, mt domain.MockType) (*booking.CreditSummary, error)
}

// Inventory is the session store surface. *sessions.Service satisfies it.
type Inventory interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
	Search(ctx context.Context, f sessions.Filter) (*sessions.Page, error)
	Create(ctx context.Context, s *domain.Session) error
	Update(ctx context.Context, s *domain.Session) error
	Delete(ctx context.Context, id string) error
	Clone(ctx context.Context, id string, ov sessions.CloneOverrides) (*domain.Session, error)
	Aggregates(ctx context.Context, f sessions.AggregatesFilter) (*faststore.Aggregates, error)
}

// Activator flips due scheduled sessions on demand, outside the tick loop.
type Activator interface {
	ActivateDue(ctx context.Context) (activator.Summary, error)
}

// Reconciler runs one repair sweep on demand.
type Reconciler interface {
	Reconcile(ctx context.Context) (reconcile.Result, error)
}

// Config tunes the HTTP host.
type Config struct {
	// Token guards mutating endpoints. Empty fails closed: mutations are
	// refused until a token is configured.
	Token string

	RateLimitEnabled bool
	RateLimitRPS     int
	RateLimitBurst   int
}

// Deps carries the host's collaborators.
type Deps struct {
	Engine     Engine
	Inventory  Inventory
	Activator  Activator
	Reconciler Reconciler
	Health     *health.Manager
}

// Server hosts the engine.
type Server struct {
	cfg   Config
	deps  Deps
	log   zerolog.Logger
	audit *audit.Logger
}

// New wires the HTTP host.
func New(cfg Config, deps Deps) *Server {
	return &Server{
		cfg:   cfg,
		deps:  deps,
		log:   log.WithComponent("api"),
		audit: audit.NewLogger(),
	}
}

// Handler assembles the router. Operational endpoints stay public, reads sit
// behind rate limiting only, mutations additionally require the bearer token.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.recoverer)
	r.Use(requestLogger)
	r.Use(httpMetrics)

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.cfg.RateLimitEnabled {
			r.Use(rateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst)...)
		}

		r.Get("/bookings", s.handleListBookings)
		r.Get("/contacts/{contactID}/credits", s.handleGetCredits)
		r.Get("/sessions", s.handleSearchSessions)
		r.Get("/sessions/aggregates", s.handleAggregates)
		r.Get("/sessions/{sessionID}", s.handleGetSession)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)
			r.Use(s.auditTrail)

			r.Post("/bookings", s.handleCreateBooking)
			r.Post("/bookings/{ref}/cancel", s.handleCancelBooking)
			r.Post("/bookings/{ref}/rebook", s.handleRebookBooking)

			r.Post("/sessions", s.handleCreateSession)
			r.Put("/sessions/{sessionID}", s.handleUpdateSession)
			r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
			r.Post("/sessions/{sessionID}/clone", s.handleCloneSession)

			r.Post("/activate", s.handleActivate)
			r.Post("/reconcile", s.handleReconcile)
		})
	})

	return r
}

// HTTPServer wraps the handler in a server with production timeouts and
// request tracing.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(s.Handler(), "bookd.api"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
