// SPDX-License-Identifier: MIT

// Package reconcile repairs the slow drift a warning-tolerant coordinator
// accumulates: seat counters that disagree with the bookings table, session
// rows whose counter never reached the CRM, and credit refunds that failed
// during cancellation.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/prepstack/bookd/internal/cache"
	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/faststore"
	"github.com/prepstack/bookd/internal/ident"
	"github.com/prepstack/bookd/internal/locks"
	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/metrics"
)

const (
	defaultTick    = 15 * time.Minute
	defaultLimit   = 100
	defaultLockTTL = 15 * time.Second

	// repairBase is the first retry delay for a queued refund; each retry
	// doubles it up to repairCap.
	repairBase        = 15 * time.Minute
	repairCap         = 6 * time.Hour
	defaultMaxRetries = 8
)

// Store is the fast-store surface the reconciler reads and repairs.
type Store interface {
	CounterDrifts(ctx context.Context) ([]faststore.CounterDrift, error)
	GetSession(ctx context.Context, uuid string) (*domain.Session, error)
	CountActive(ctx context.Context, sessionID string) (int, error)
	UnsyncedSessions(ctx context.Context, limit int) ([]domain.Session, error)
	MarkSessionSynced(ctx context.Context, uuid string) error
	DueRepairs(ctx context.Context, now time.Time, limit int) ([]faststore.RefundRepair, error)
	MarkRepairAttempt(ctx context.Context, id int64, attempts int, lastError string, next time.Time) error
	ResolveRepair(ctx context.Context, id int64) error
}

// Counter overwrites seat counts; reconciliation is its only caller.
type Counter interface {
	Set(ctx context.Context, sessionID string, value int) error
}

// Ledger restores credits that leaked during cancellation.
type Ledger interface {
	Restore(ctx context.Context, contactID string, field domain.CreditField) (domain.CreditBalance, error)
}

// Mirror pushes a seat count to the CRM session record.
type Mirror interface {
	UpdateSessionCounter(ctx context.Context, id string, booked int) error
}

type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Result summarizes one reconciliation pass.
type Result struct {
	DriftsRepaired   int `json:"drifts_repaired"`
	SessionsSynced   int `json:"sessions_synced"`
	RefundsRestored  int `json:"refunds_restored"`
	RefundsAbandoned int `json:"refunds_abandoned"`
}

func (r Result) empty() bool {
	return r.DriftsRepaired == 0 && r.SessionsSynced == 0 &&
		r.RefundsRestored == 0 && r.RefundsAbandoned == 0
}

// Worker runs the repair pass on a jittered tick and on demand.
type Worker struct {
	store      Store
	counter    Counter
	credits    Ledger
	mirror     Mirror
	locks      locks.Manager
	cache      cache.Cache
	tick       time.Duration
	limit      int
	lockTTL    time.Duration
	maxRetries int
	clock      clock
	rnd        *rand.Rand
	log        zerolog.Logger
}

// Option tunes the worker.
type Option func(*Worker)

// WithTick overrides the pass interval.
func WithTick(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.tick = d
		}
	}
}

// WithLimit caps rows handled per kind per pass.
func WithLimit(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.limit = n
		}
	}
}

// WithLockTTL overrides the session lock TTL taken for counter repairs.
func WithLockTTL(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.lockTTL = d
		}
	}
}

// WithMaxRetries overrides the attempt budget before a refund repair is
// abandoned.
func WithMaxRetries(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxRetries = n
		}
	}
}

// WithClock substitutes the time source in tests.
func WithClock(c interface{ Now() time.Time }) Option {
	return func(w *Worker) { w.clock = c }
}

// New wires the reconciler.
func New(store Store, counter Counter, credits Ledger, mirror Mirror, lm locks.Manager, c cache.Cache, opts ...Option) *Worker {
	w := &Worker{
		store:      store,
		counter:    counter,
		credits:    credits,
		mirror:     mirror,
		locks:      lm,
		cache:      c,
		tick:       defaultTick,
		limit:      defaultLimit,
		lockTTL:    defaultLockTTL,
		maxRetries: defaultMaxRetries,
		clock:      realClock{},
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		log:        log.WithComponent("reconcile"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run executes passes until the context ends.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Dur("tick", w.tick).Int("limit", w.limit).Msg("reconciler started")
	timer := time.NewTimer(w.jittered())
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			res, err := w.Reconcile(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("reconcile pass incomplete")
			}
			if !res.empty() {
				w.log.Info().
					Int("drifts_repaired", res.DriftsRepaired).
					Int("sessions_synced", res.SessionsSynced).
					Int("refunds_restored", res.RefundsRestored).
					Int("refunds_abandoned", res.RefundsAbandoned).
					Msg("reconcile pass repaired state")
			}
			timer.Reset(w.jittered())
		case <-ctx.Done():
			w.log.Info().Msg("reconciler stopped")
			return ctx.Err()
		}
	}
}

// Reconcile runs one full pass. The three repairs are independent; an error
// in one does not stop the others.
func (w *Worker) Reconcile(ctx context.Context) (Result, error) {
	var res Result
	var errs []error

	if n, err := w.repairCounterDrift(ctx); err != nil {
		errs = append(errs, fmt.Errorf("counter drift: %w", err))
	} else {
		res.DriftsRepaired = n
	}

	if n, err := w.pushUnsyncedSessions(ctx); err != nil {
		errs = append(errs, fmt.Errorf("session sync: %w", err))
	} else {
		res.SessionsSynced = n
	}

	restored, abandoned, err := w.drainRefundRepairs(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("refund repairs: %w", err))
	}
	res.RefundsRestored = restored
	res.RefundsAbandoned = abandoned

	return res, errors.Join(errs...)
}

// repairCounterDrift recounts Active bookings per session and overwrites
// counters that disagree. Each repair runs under the session lock and
// re-measures there, so a booking racing the pass is never clobbered.
func (w *Worker) repairCounterDrift(ctx context.Context) (int, error) {
	drifts, err := w.store.CounterDrifts(ctx)
	if err != nil {
		return 0, err
	}
	if len(drifts) > w.limit {
		drifts = drifts[:w.limit]
	}

	repaired := 0
	for _, d := range drifts {
		key := locks.SessionKey(d.SessionID)
		token, err := w.locks.Acquire(ctx, key, w.lockTTL)
		if err != nil {
			if errors.Is(err, locks.ErrNotAcquired) {
				w.log.Debug().
					Str(log.FieldSessionID, d.SessionID).
					Msg("session busy, drift retried next pass")
				continue
			}
			return repaired, err
		}

		fixed, err := w.repairOneCounter(ctx, d.SessionID)
		if relErr := w.locks.Release(ctx, key, token); relErr != nil {
			w.log.Warn().Err(relErr).Str(log.FieldLockKey, key).Msg("lock release failed")
		}
		if err != nil {
			w.log.Error().Err(err).
				Str(log.FieldSessionID, d.SessionID).
				Msg("counter drift repair failed")
			continue
		}
		if fixed {
			repaired++
			metrics.RecordReconcileRepair("counter_drift")
			w.cache.DeletePattern(ctx, ident.SessionPattern(d.SessionID))
		}
	}
	if repaired > 0 {
		w.cache.DeletePattern(ctx, ident.SessionsListPattern())
		w.cache.DeletePattern(ctx, ident.AggregatesPattern())
	}
	return repaired, nil
}

func (w *Worker) repairOneCounter(ctx context.Context, sessionID string) (bool, error) {
	sess, err := w.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	actual, err := w.store.CountActive(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if sess.Booked == actual {
		// The drift healed between measurement and lock.
		return false, nil
	}
	if err := w.counter.Set(ctx, sessionID, actual); err != nil {
		return false, err
	}
	w.log.Info().
		Str(log.FieldSessionID, sessionID).
		Int("recorded", sess.Booked).
		Int("actual", actual).
		Msg("seat counter repaired")
	return true, nil
}

// pushUnsyncedSessions retries the CRM counter mirror for rows that are
// still dirty, oldest first.
func (w *Worker) pushUnsyncedSessions(ctx context.Context) (int, error) {
	sessions, err := w.store.UnsyncedSessions(ctx, w.limit)
	if err != nil {
		return 0, err
	}
	pushed := 0
	for _, sess := range sessions {
		if err := w.mirror.UpdateSessionCounter(ctx, sess.UUID, sess.Booked); err != nil {
			w.log.Warn().Err(err).
				Str(log.FieldSessionID, sess.UUID).
				Int(log.FieldCounter, sess.Booked).
				Msg("CRM counter push failed, row stays dirty")
			continue
		}
		if err := w.store.MarkSessionSynced(ctx, sess.UUID); err != nil {
			w.log.Warn().Err(err).
				Str(log.FieldSessionID, sess.UUID).
				Msg("could not mark session synced")
			continue
		}
		pushed++
		metrics.RecordReconcileRepair("session_sync")
	}
	return pushed, nil
}

// drainRefundRepairs retries queued refunds with doubling backoff and gives
// up loudly after the attempt cap.
func (w *Worker) drainRefundRepairs(ctx context.Context) (restored, abandoned int, err error) {
	now := w.clock.Now().UTC()
	due, err := w.store.DueRepairs(ctx, now, w.limit)
	if err != nil {
		return 0, 0, err
	}
	for _, r := range due {
		_, restoreErr := w.credits.Restore(ctx, r.ContactID, r.Field)
		if restoreErr == nil {
			if err := w.store.ResolveRepair(ctx, r.ID); err != nil {
				w.log.Warn().Err(err).
					Int64("repair_id", r.ID).
					Msg("refund restored but repair row not resolved")
				continue
			}
			restored++
			metrics.RecordReconcileRepair("refund_retry")
			w.log.Info().
				Str(log.FieldBookingUUID, r.BookingUUID).
				Str(log.FieldContactID, r.ContactID).
				Str(log.FieldCreditField, string(r.Field)).
				Int("attempts", r.Attempts+1).
				Msg("queued refund restored")
			continue
		}

		attempts := r.Attempts + 1
		if attempts >= w.maxRetries {
			if err := w.store.ResolveRepair(ctx, r.ID); err != nil {
				w.log.Warn().Err(err).Int64("repair_id", r.ID).Msg("could not resolve abandoned repair")
				continue
			}
			abandoned++
			metrics.RecordReconcileRepair("refund_gave_up")
			w.log.Error().
				Str(log.FieldBookingUUID, r.BookingUUID).
				Str(log.FieldContactID, r.ContactID).
				Str(log.FieldCreditField, string(r.Field)).
				Int("attempts", attempts).
				Str("last_error", restoreErr.Error()).
				Msg("refund repair abandoned, restore the credit manually")
			continue
		}
		next := now.Add(backoff(attempts))
		if err := w.store.MarkRepairAttempt(ctx, r.ID, attempts, restoreErr.Error(), next); err != nil {
			w.log.Warn().Err(err).Int64("repair_id", r.ID).Msg("could not record repair attempt")
		}
	}
	return restored, abandoned, nil
}

// backoff doubles per attempt from repairBase up to repairCap.
func backoff(attempts int) time.Duration {
	d := repairBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= repairCap {
			return repairCap
		}
	}
	return d
}

// jittered spreads ticks across instances by ±10%.
func (w *Worker) jittered() time.Duration {
	return w.tick - w.tick/10 + time.Duration(w.rnd.Int63n(int64(w.tick/5+1)))
}
