// SPDX-License-Identifier: MIT

// Package crm speaks to the CRM of record. Every mutation the engine makes
// lands here first; the fast store is only a projection. The client owns
// retries, rate limiting, and the circuit breaker so callers see one atomic
// attempt per operation.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/metrics"
	"github.com/prepstack/bookd/internal/telemetry"
)

// API is the CRM surface the coordinators and the resolver depend on.
type API interface {
	GetContact(ctx context.Context, id string) (*domain.Contact, error)
	UpdateContactCredit(ctx context.Context, id string, field domain.CreditField, value int) error

	GetSession(ctx context.Context, id string) (*domain.Session, error)
	CreateSession(ctx context.Context, s *domain.Session) (string, error)
	UpdateSession(ctx context.Context, s *domain.Session) error
	UpdateSessionStates(ctx context.Context, ids []string, state domain.SessionState) error
	UpdateSessionCounter(ctx context.Context, id string, booked int) error
	DeleteSession(ctx context.Context, id string) error

	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	CreateBooking(ctx context.Context, b *domain.Booking) (string, error)
	AssociateBooking(ctx context.Context, bookingID, contactID, sessionID string) error
	UpdateBookingState(ctx context.Context, id string, state domain.BookingState) error
	DeleteBooking(ctx context.Context, id string) error
	ReassociateBookingSession(ctx context.Context, bookingID, oldSessionID, newSessionID string) error
	ContactBookings(ctx context.Context, contactID string) ([]domain.Booking, error)

	HealthCheck(ctx context.Context) error
}

// CRM object collections.
const (
	objectContacts = "contacts"
	objectSessions = "mock-exams"
	objectBookings = "bookings"
)

const (
	defaultTimeout          = 10 * time.Second
	defaultRetries          = 3
	defaultBackoff          = 250 * time.Millisecond
	defaultMaxBackoff       = 4 * time.Second
	defaultRateLimit        = 8
	defaultRateLimitBurst   = 4
	defaultBreakerThreshold = 5
	defaultBreakerReset     = 30 * time.Second

	// maxRetryAfter caps how long a Retry-After header can stall a retry.
	maxRetryAfter = 30 * time.Second

	// errBodyLimit bounds how much of an error body is kept for diagnostics.
	errBodyLimit = 512
)

// Options configures the CRM client behavior.
type Options struct {
	Token                 string
	Timeout               time.Duration
	ResponseHeaderTimeout time.Duration
	MaxRetries            int
	Backoff               time.Duration
	MaxBackoff            time.Duration
	UserAgent             string
	RateLimit             rate.Limit
	RateLimitBurst        int
	BreakerThreshold      int
	BreakerReset          time.Duration
}

// Client is the HTTP implementation of API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	token      string
	limiter    *rate.Limiter
	breaker    *Breaker
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	userAgent  string
	rnd        *rand.Rand
	mu         sync.Mutex
}

var _ API = (*Client)(nil)

// NewClient creates a CRM client with explicit options.
func NewClient(baseURL string, opts Options) *Client {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")

	nopts := normalizeOptions(opts)
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: nopts.ResponseHeaderTimeout,
		TLSHandshakeTimeout:   5 * time.Second,
	}

	return &Client{
		BaseURL: trimmed,
		HTTPClient: &http.Client{
			Timeout:   nopts.Timeout,
			Transport: transport,
		},
		token:      nopts.Token,
		limiter:    rate.NewLimiter(nopts.RateLimit, nopts.RateLimitBurst),
		breaker:    NewBreaker("crm", nopts.BreakerThreshold, nopts.BreakerReset),
		maxRetries: nopts.MaxRetries,
		backoff:    nopts.Backoff,
		maxBackoff: nopts.MaxBackoff,
		userAgent:  nopts.UserAgent,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only
	}
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ResponseHeaderTimeout <= 0 {
		opts.ResponseHeaderTimeout = opts.Timeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(defaultRateLimit)
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = defaultBreakerThreshold
	}
	if opts.BreakerReset <= 0 {
		opts.BreakerReset = defaultBreakerReset
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "bookd/1.0"
	}
	return opts
}

// GetContact fetches a contact with its credit balances.
func (c *Client) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	var o object
	if err := c.call(ctx, "get_contact", http.MethodGet, objectPath(objectContacts, id), nil, nil, &o); err != nil {
		return nil, err
	}
	contact, err := contactFromObject(o)
	if err != nil {
		return nil, &Error{Sentinel: ErrBadResponse, Operation: "get_contact", Err: err}
	}
	return contact, nil
}

// UpdateContactCredit writes a single credit pool. Callers hold the contact
// lock, so a targeted write never clobbers a concurrent change to another
// pool.
func (c *Client) UpdateContactCredit(ctx context.Context, id string, field domain.CreditField, value int) error {
	body := propertiesBody{Properties: map[string]string{string(field): strconv.Itoa(value)}}
	return c.call(ctx, "update_contact_credit", http.MethodPatch, objectPath(objectContacts, id), nil, body, nil)
}

// GetSession fetches a session ("Mock Exam" in CRM terms).
func (c *Client) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var o object
	if err := c.call(ctx, "get_session", http.MethodGet, objectPath(objectSessions, id), nil, nil, &o); err != nil {
		return nil, err
	}
	session, err := sessionFromObject(o)
	if err != nil {
		return nil, &Error{Sentinel: ErrBadResponse, Operation: "get_session", Err: err}
	}
	return session, nil
}

// CreateSession creates a session record and returns the CRM id.
func (c *Client) CreateSession(ctx context.Context, s *domain.Session) (string, error) {
	var o object
	body := propertiesBody{Properties: sessionProperties(s)}
	if err := c.call(ctx, "create_session", http.MethodPost, objectPath(objectSessions, ""), nil, body, &o); err != nil {
		return "", err
	}
	if o.ID == "" {
		return "", &Error{Sentinel: ErrBadResponse, Operation: "create_session", Err: fmt.Errorf("create returned no id")}
	}
	return o.ID, nil
}

// UpdateSession rewrites the full session property set.
func (c *Client) UpdateSession(ctx context.Context, s *domain.Session) error {
	id := s.CRMID
	if id == "" {
		id = s.UUID
	}
	body := propertiesBody{Properties: sessionProperties(s)}
	return c.call(ctx, "update_session", http.MethodPatch, objectPath(objectSessions, id), nil, body, nil)
}

// UpdateSessionStates flips is_active on a batch of sessions in one call.
// Callers chunk the id list; the CRM rejects oversized batches.
func (c *Client) UpdateSessionStates(ctx context.Context, ids []string, state domain.SessionState) error {
	if len(ids) == 0 {
		return nil
	}
	body := batchBody{Inputs: make([]batchInput, 0, len(ids))}
	for _, id := range ids {
		body.Inputs = append(body.Inputs, batchInput{
			ID:         id,
			Properties: map[string]string{"is_active": state.String()},
		})
	}
	return c.call(ctx, "update_session_states", http.MethodPost, objectPath(objectSessions, "")+"/batch/update", nil, body, nil)
}

// UpdateSessionCounter mirrors total_bookings to the CRM.
func (c *Client) UpdateSessionCounter(ctx context.Context, id string, booked int) error {
	body := propertiesBody{Properties: map[string]string{"total_bookings": strconv.Itoa(booked)}}
	return c.call(ctx, "update_session_counter", http.MethodPatch, objectPath(objectSessions, id), nil, body, nil)
}

// DeleteSession removes a session record.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.call(ctx, "delete_session", http.MethodDelete, objectPath(objectSessions, id), nil, nil, nil)
}

// GetBooking fetches a booking by CRM id.
func (c *Client) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	var o object
	if err := c.call(ctx, "get_booking", http.MethodGet, objectPath(objectBookings, id), nil, nil, &o); err != nil {
		return nil, err
	}
	booking, err := bookingFromObject(o)
	if err != nil {
		return nil, &Error{Sentinel: ErrBadResponse, Operation: "get_booking", Err: err}
	}
	return booking, nil
}

// CreateBooking creates a booking record and returns the CRM id. Only
// booking-owned properties are written; session-derived ones appear once
// the session association lands.
func (c *Client) CreateBooking(ctx context.Context, b *domain.Booking) (string, error) {
	var o object
	body := propertiesBody{Properties: bookingCreateProperties(b)}
	if err := c.call(ctx, "create_booking", http.MethodPost, objectPath(objectBookings, ""), nil, body, &o); err != nil {
		return "", err
	}
	if o.ID == "" {
		return "", &Error{Sentinel: ErrBadResponse, Operation: "create_booking", Err: fmt.Errorf("create returned no id")}
	}
	return o.ID, nil
}

// AssociateBooking links a booking to its contact and session. The two
// links are one success/warning unit: the first failure is returned and
// the booking itself stays in place.
func (c *Client) AssociateBooking(ctx context.Context, bookingID, contactID, sessionID string) error {
	if err := c.call(ctx, "associate_booking_contact", http.MethodPut,
		associationPath(bookingID, objectContacts, contactID), nil, nil, nil); err != nil {
		return err
	}
	return c.call(ctx, "associate_booking_session", http.MethodPut,
		associationPath(bookingID, objectSessions, sessionID), nil, nil, nil)
}

// UpdateBookingState writes only the booking lifecycle property.
func (c *Client) UpdateBookingState(ctx context.Context, id string, state domain.BookingState) error {
	body := propertiesBody{Properties: map[string]string{"is_active": state.String()}}
	return c.call(ctx, "update_booking_state", http.MethodPatch, objectPath(objectBookings, id), nil, body, nil)
}

// DeleteBooking removes a booking record. Used by create compensation to
// take back a half-created booking inside the lock window.
func (c *Client) DeleteBooking(ctx context.Context, id string) error {
	return c.call(ctx, "delete_booking", http.MethodDelete, objectPath(objectBookings, id), nil, nil, nil)
}

// ReassociateBookingSession swaps the session association on a rebook:
// drop the old link, create the new one.
func (c *Client) ReassociateBookingSession(ctx context.Context, bookingID, oldSessionID, newSessionID string) error {
	if err := c.call(ctx, "dissociate_booking_session", http.MethodDelete,
		associationPath(bookingID, objectSessions, oldSessionID), nil, nil, nil); err != nil {
		return err
	}
	return c.call(ctx, "associate_booking_session", http.MethodPut,
		associationPath(bookingID, objectSessions, newSessionID), nil, nil, nil)
}

// ContactBookings lists the bookings associated with a contact.
func (c *Client) ContactBookings(ctx context.Context, contactID string) ([]domain.Booking, error) {
	query := url.Values{}
	query.Set("contact", contactID)

	var page objectPage
	if err := c.call(ctx, "contact_bookings", http.MethodGet, objectPath(objectBookings, ""), query, nil, &page); err != nil {
		return nil, err
	}

	bookings := make([]domain.Booking, 0, len(page.Results))
	for _, o := range page.Results {
		b, err := bookingFromObject(o)
		if err != nil {
			return nil, &Error{Sentinel: ErrBadResponse, Operation: "contact_bookings", Err: err}
		}
		bookings = append(bookings, *b)
	}
	return bookings, nil
}

// HealthCheck verifies the CRM answers at all.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.call(ctx, "ping", http.MethodGet, "/api/v1/ping", nil, nil, nil)
}

func objectPath(objType, id string) string {
	p := "/api/v1/objects/" + objType
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

func associationPath(bookingID, toType, toID string) string {
	return objectPath(objectBookings, bookingID) + "/associations/" + toType + "/" + url.PathEscape(toID)
}

// call runs one logical CRM operation: marshal, retry loop, classification.
// The breaker counts only outage-class failures; a 404 is a healthy CRM
// saying no.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return &Error{Sentinel: ErrUnavailable, Operation: op, Err: fmt.Errorf("invalid base URL: %w", err)}
	}
	u.Path = path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return &Error{Sentinel: ErrBadResponse, Operation: op, Err: err}
		}
	}

	var opErr error
	breakerErr := c.breaker.Execute(func() error {
		opErr = c.roundTrip(ctx, op, method, u.String(), payload, out)
		if opErr != nil && (errors.Is(opErr, ErrUnavailable) || errors.Is(opErr, ErrRateLimited)) {
			return opErr
		}
		return nil
	})
	if errors.Is(breakerErr, ErrCircuitOpen) {
		metrics.RecordCRMRequest(op, "breaker_open")
		return &Error{Sentinel: ErrUnavailable, Operation: op, Err: ErrCircuitOpen}
	}
	return opErr
}

// roundTrip sends the request (with retries) and turns the outcome into a
// classified error or a decoded body.
func (c *Client) roundTrip(ctx context.Context, op, method, rawURL string, payload []byte, out any) error {
	start := time.Now()
	resp, err := c.send(ctx, op, method, rawURL, payload)
	metrics.ObserveCRMRequest(op, time.Since(start).Seconds())
	if err != nil {
		metrics.RecordCRMRequest(op, "transport_error")
		return &Error{Sentinel: ErrUnavailable, Operation: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	metrics.RecordCRMRequest(op, strconv.Itoa(resp.StatusCode))

	if sentinel := classify(resp.StatusCode); sentinel != nil {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		return &Error{Sentinel: sentinel, Operation: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Sentinel: ErrBadResponse, Operation: op, Status: resp.StatusCode, Err: err}
	}
	return nil
}

// classify maps a final status code to a sentinel; nil means success.
func classify(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= http.StatusInternalServerError:
		return ErrUnavailable
	default:
		return ErrBadResponse
	}
}

// send runs the retry loop. 429 and 5xx responses and transport errors are
// retried with exponential backoff plus jitter; a Retry-After header can
// stretch (but never shrink) the wait.
func (c *Client) send(ctx context.Context, op, method, rawURL string, payload []byte) (*http.Response, error) {
	tracer := telemetry.Tracer("bookd.crm")
	route, urlLabel := traceLabels(rawURL)
	ctx, span := tracer.Start(ctx, "bookd.crm."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String(telemetry.HTTPMethodKey, method),
		attribute.String(telemetry.HTTPRouteKey, route),
		attribute.String(telemetry.HTTPURLKey, urlLabel),
	)
	defer span.End()

	maxAttempts := c.maxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, attemptSpan := tracer.Start(ctx, "bookd.crm.request.attempt", trace.WithSpanKind(trace.SpanKindClient))
		attemptSpan.SetAttributes(
			attribute.Int("attempt", attempt),
			attribute.Bool("retry", attempt > 1),
		)

		if c.limiter != nil {
			if err := c.limiter.Wait(attemptCtx); err != nil {
				attemptSpan.RecordError(err)
				attemptSpan.SetStatus(codes.Error, err.Error())
				attemptSpan.End()
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(attemptCtx, method, rawURL, reqBody)
		if err != nil {
			attemptSpan.RecordError(err)
			attemptSpan.SetStatus(codes.Error, err.Error())
			attemptSpan.End()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		c.applyHeaders(req, payload != nil)
		otel.GetTextMapPropagator().Inject(attemptCtx, propagation.HeaderCarrier(req.Header))

		resp, err := c.HTTPClient.Do(req)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}

		attemptSpan.SetAttributes(telemetry.HTTPAttributes(method, route, urlLabel, status)...)
		if err != nil {
			attemptSpan.RecordError(err)
		}
		if err != nil || status >= http.StatusBadRequest {
			statusText := http.StatusText(status)
			if statusText == "" {
				statusText = "request failed"
			}
			attemptSpan.SetStatus(codes.Error, statusText)
		} else {
			attemptSpan.SetStatus(codes.Ok, "")
		}
		attemptSpan.End()

		retryable := err != nil || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError

		if !retryable || attempt == maxAttempts {
			span.SetAttributes(telemetry.HTTPAttributes(method, route, urlLabel, status)...)
			switch {
			case err != nil:
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			case status >= http.StatusBadRequest:
				span.SetStatus(codes.Error, http.StatusText(status))
			default:
				span.SetStatus(codes.Ok, "")
			}
			return resp, nil
		}

		wait := c.backoffFor(attempt - 1)
		if ra := retryAfter(resp); ra > wait {
			wait = ra
		}

		// Drain before retrying so the connection is reusable.
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		metrics.IncCRMRetry()
		if err := sleepWithContext(ctx, wait); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	return nil, fmt.Errorf("request failed")
}

func (c *Client) applyHeaders(req *http.Request, hasBody bool) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// retryAfter reads a Retry-After header in seconds, capped so a confused
// upstream cannot stall the lock window indefinitely.
func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

func (c *Client) backoffFor(attempt int) time.Duration {
	wait := c.backoff * time.Duration(1<<attempt)
	if wait > c.maxBackoff {
		wait = c.maxBackoff
	}
	jitter := time.Duration(c.randInt63n(int64(wait/5 + 1)))
	return wait + jitter
}

func (c *Client) randInt63n(n int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rnd.Int63n(n)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func traceLabels(rawURL string) (string, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, rawURL
	}
	route := u.Path
	if route == "" {
		route = "/"
	}
	urlLabel := route
	if u.RawQuery != "" {
		urlLabel += "?"
	}
	return route, urlLabel
}
