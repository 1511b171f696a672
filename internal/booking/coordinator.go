// SPDX-License-Identifier: MIT

// Package booking is the coordination engine: create, cancel, and rebook
// commands plus the contact-facing reads. Commands run under session-scoped
// locks, write the CRM first, and treat the fast store and caches as
// projections that may lag or fail without failing the command.
package booking

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prepstack/bookd/internal/cache"
	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/faststore"
	"github.com/prepstack/bookd/internal/ident"
	"github.com/prepstack/bookd/internal/locks"
	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/syncer"
)

// Warning tokens carried in command results. Warnings accompany success:
// the seat is held, but an auxiliary step needs operator attention.
const (
	WarnAssociationsIncomplete = "ASSOCIATIONS_INCOMPLETE"
	WarnCounterIncrement       = "COUNTER_INCREMENT_FAILED"
	WarnCounterDecrement       = "COUNTER_DECREMENT_FAILED"
	WarnCreditRefund           = "CREDIT_REFUND_FAILED"
	WarnCRMSyncIncomplete      = "CRM_SYNC_INCOMPLETE"
)

// repairRetryDelay spaces the first retry of a queued refund repair.
const repairRetryDelay = 15 * time.Minute

// Resolver reads entities fast-store-first with CRM fallback.
type Resolver interface {
	Contact(ctx context.Context, id string) (*domain.Contact, error)
	Session(ctx context.Context, id string) (*domain.Session, error)
	Booking(ctx context.Context, ref string) (*domain.Booking, error)
}

// Ledger moves credits under the contact lock.
type Ledger interface {
	Deduct(ctx context.Context, contactID string, field domain.CreditField) (domain.CreditBalance, error)
	Restore(ctx context.Context, contactID string, field domain.CreditField) (domain.CreditBalance, error)
}

// Counter mutates the per-session seat count.
type Counter interface {
	Increment(ctx context.Context, sessionID string, delta int) (int, error)
	Decrement(ctx context.Context, sessionID string, delta int) (int, error)
}

// CRM is the record-of-truth surface the coordinator writes.
type CRM interface {
	CreateBooking(ctx context.Context, b *domain.Booking) (string, error)
	AssociateBooking(ctx context.Context, bookingID, contactID, sessionID string) error
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	UpdateBookingState(ctx context.Context, id string, state domain.BookingState) error
	DeleteBooking(ctx context.Context, id string) error
	ReassociateBookingSession(ctx context.Context, bookingID, oldSessionID, newSessionID string) error
}

// Store is the fast-store surface the coordinator queries and projects onto.
type Store interface {
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.Booking, error)
	ActiveByBookingID(ctx context.Context, bookingID string) (*domain.Booking, error)
	GetSession(ctx context.Context, uuid string) (*domain.Session, error)
	PutBooking(ctx context.Context, b *domain.Booking) error
	BookingsForContact(ctx context.Context, f faststore.BookingFilter) ([]domain.Booking, int, error)
	EnqueueRepair(ctx context.Context, r *faststore.RefundRepair) error
}

// Submitter queues fire-and-forget work. *syncer.Pool satisfies it.
type Submitter interface {
	Submit(t syncer.Task) bool
}

// Deps are the coordinator's collaborators.
type Deps struct {
	Locks    locks.Manager
	Resolver Resolver
	Credits  Ledger
	Counter  Counter
	CRM      CRM
	Store    Store
	Cache    cache.Cache
	Pool     Submitter
}

// Config carries the coordinator tunables.
type Config struct {
	SessionLockTTL    time.Duration
	IdempotencyBucket time.Duration
	CacheTTLUpcoming  time.Duration
	CacheTTLDefault   time.Duration

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

func (c *Config) defaults() {
	if c.SessionLockTTL <= 0 {
		c.SessionLockTTL = 15 * time.Second
	}
	if c.IdempotencyBucket <= 0 {
		c.IdempotencyBucket = 5 * time.Minute
	}
	if c.CacheTTLUpcoming <= 0 {
		c.CacheTTLUpcoming = 30 * time.Second
	}
	if c.CacheTTLDefault <= 0 {
		c.CacheTTLDefault = 180 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Coordinator serializes booking work per session and keeps the CRM, the
// fast store, the seat counters, and the credit ledger in agreement.
type Coordinator struct {
	locks    locks.Manager
	resolver Resolver
	credits  Ledger
	counter  Counter
	crm      CRM
	store    Store
	cache    cache.Cache
	pool     Submitter

	sessionTTL  time.Duration
	bucket      time.Duration
	upcomingTTL time.Duration
	defaultTTL  time.Duration
	now         func() time.Time

	log zerolog.Logger
}

// New wires the coordinator.
func New(d Deps, cfg Config) *Coordinator {
	cfg.defaults()
	return &Coordinator{
		locks:       d.Locks,
		resolver:    d.Resolver,
		credits:     d.Credits,
		counter:     d.Counter,
		crm:         d.CRM,
		store:       d.Store,
		cache:       d.Cache,
		pool:        d.Pool,
		sessionTTL:  cfg.SessionLockTTL,
		bucket:      cfg.IdempotencyBucket,
		upcomingTTL: cfg.CacheTTLUpcoming,
		defaultTTL:  cfg.CacheTTLDefault,
		now:         cfg.Clock,
		log:         log.WithComponent("booking"),
	}
}

// outcomeLabel names the command result for metrics.
func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return string(KindOf(err))
}

// release frees a session lock. Releasing a lapsed lock is a no-op inside
// the manager, so double release on error paths is harmless.
func (c *Coordinator) release(ctx context.Context, key, token string) {
	if err := c.locks.Release(ctx, key, token); err != nil {
		c.log.Warn().Err(err).Str(log.FieldLockKey, key).Msg("lock release failed")
	}
}

// submitTask queues fire-and-forget work; a full queue drops it with a
// counter, never blocking the command path.
func (c *Coordinator) submitTask(name string, fn func(context.Context) error) {
	if c.pool == nil {
		return
	}
	c.pool.Submit(syncer.Task{Name: name, Run: fn})
}

// invalidateAfterWrite drops every read model a booking write can touch.
func (c *Coordinator) invalidateAfterWrite(ctx context.Context, contactID string, sessionIDs ...string) {
	c.cache.DeletePattern(ctx, ident.ContactBookingsPattern(contactID))
	for _, id := range sessionIDs {
		c.cache.DeletePattern(ctx, ident.SessionPattern(id))
	}
	c.cache.DeletePattern(ctx, ident.SessionsListPattern())
	c.cache.DeletePattern(ctx, ident.AggregatesPattern())
}

// validEmail is a shape check, not verification; the CRM is the authority.
func validEmail(s string) bool {
	at := strings.IndexByte(s, '@')
	return at > 0 && at < len(s)-1
}
