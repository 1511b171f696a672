// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/prepstack/bookd/internal/auth"
	"github.com/prepstack/bookd/internal/booking"
	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/metrics"
)

// maxBodyBytes caps request bodies; no command payload comes near this.
const maxBodyBytes = 1 << 20

// requestLogger tags every request with an id, injects a request-scoped
// logger, and writes one access line on completion. Inbound X-Request-ID is
// honored so call chains share one id.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}

		ctx := log.ContextWithRequestID(r.Context(), id)
		logger := log.Base().With().Str("request_id", id).Logger()
		ctx = logger.WithContext(ctx)
		w.Header().Set("X-Request-ID", id)

		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(sw, r.WithContext(ctx))

		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.Status()).
			Int("bytes", sw.bytes).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

// recoverer converts handler panics into a logged 500 outcome.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.FromContext(r.Context()).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("handler panic")
				writeKind(w, booking.KindInternal, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// httpMetrics records duration and response size against chi route patterns
// so label cardinality stays bounded.
func httpMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTPInFlight()
		defer metrics.DecHTTPInFlight()

		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(sw, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		metrics.ObserveHTTPRequest(r.Method, path, strconv.Itoa(sw.Status()), time.Since(start).Seconds())
		metrics.ObserveHTTPResponseSize(r.Method, path, sw.bytes)
	})
}

// rateLimiter stacks a per-second spike cap over a sustained per-minute
// budget, both keyed by client IP.
func rateLimiter(rps, burst int) []func(http.Handler) http.Handler {
	var mws []func(http.Handler) http.Handler
	if burst > 0 {
		mws = append(mws, httprate.Limit(burst, time.Second,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(tooManyRequests(1)),
		))
	}
	if rps > 0 {
		mws = append(mws, httprate.Limit(rps*60, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(tooManyRequests(60)),
		))
	}
	return mws
}

func tooManyRequests(retryAfter int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusTooManyRequests, outcome{
			Success: false,
			Code:    "RATE_LIMITED",
			Error:   "too many requests",
		})
	}
}

// requireToken guards mutations. A missing server-side token fails closed.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := log.RequestIDFromContext(r.Context())

		if s.cfg.Token == "" {
			log.FromContext(r.Context()).Error().
				Str("event", "auth.fail_closed").
				Msg("no api token configured, refusing mutation")
			s.audit.AuthFailure(r.RemoteAddr, r.URL.Path, "server token not configured", reqID)
			writeKind(w, booking.KindUnauthorized, "api token not configured")
			return
		}

		token := auth.ExtractToken(r)
		if token == "" {
			log.FromContext(r.Context()).Warn().
				Str("event", "auth.missing_token").
				Str("remote", r.RemoteAddr).
				Msg("mutation without token")
			s.audit.AuthMissing(r.RemoteAddr, r.URL.Path, reqID)
			writeKind(w, booking.KindUnauthorized, "invalid or missing api token")
			return
		}
		if !auth.AuthorizeToken(token, s.cfg.Token) {
			log.FromContext(r.Context()).Warn().
				Str("event", "auth.invalid_token").
				Str("remote", r.RemoteAddr).
				Msg("mutation with invalid token")
			s.audit.AuthFailure(r.RemoteAddr, r.URL.Path, "invalid token", reqID)
			writeKind(w, booking.KindUnauthorized, "invalid or missing api token")
			return
		}

		logger := log.FromContext(r.Context()).With().
			Str("caller", auth.CallerID(token)).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

// auditTrail records every authenticated mutation in the audit stream. It
// sits inside requireToken, so denials never reach it; those are audited by
// the auth middleware itself.
func (s *Server) auditTrail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		resource := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				resource = pattern
			}
		}
		s.audit.Mutation(
			auth.CallerID(auth.ExtractToken(r)),
			r.Method,
			resource,
			sw.Status(),
			r.RemoteAddr,
			log.RequestIDFromContext(r.Context()),
		)
	})
}

// statusWriter captures status and size for logs and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Status reports the written status, defaulting to 200 for handlers that
// never call WriteHeader.
func (w *statusWriter) Status() int {
	if !w.wrote {
		return http.StatusOK
	}
	return w.status
}
