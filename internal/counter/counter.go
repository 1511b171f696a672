// SPDX-License-Identifier: MIT

// Package counter keeps per-session seat counts consistent between the fast
// store and the CRM. The fast store owns the atomic primitive; the post-value
// is mirrored to the CRM so external automations see the same number the
// engine reported.
package counter

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/faststore"
	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/metrics"
)

// fallbackAttempts bounds the fetch-update-set loop. The caller holds the
// session lock, so the retries only cover transient store errors.
const fallbackAttempts = 3

// Store is the fast-store surface the counter needs.
type Store interface {
	IncrementBooked(ctx context.Context, uuid string, delta int) (int, error)
	GetSession(ctx context.Context, uuid string) (*domain.Session, error)
	SetBooked(ctx context.Context, uuid string, value int) error
	MarkSessionSynced(ctx context.Context, uuid string) error
}

// Mirror pushes a post-value to the CRM session record.
type Mirror interface {
	UpdateSessionCounter(ctx context.Context, id string, booked int) error
}

// Service implements the counter contract. Callers hold the session lock for
// the whole coordinator transaction; the service itself takes no locks.
type Service struct {
	store    Store
	mirror   Mirror
	fallback bool
	log      zerolog.Logger
}

// New wires the counter over the fast store and the CRM mirror.
// fallbackEnabled permits the fetch-update-set path when the atomic
// primitive errors out.
func New(store Store, mirror Mirror, fallbackEnabled bool) *Service {
	return &Service{
		store:    store,
		mirror:   mirror,
		fallback: fallbackEnabled,
		log:      log.WithComponent("counter"),
	}
}

// Increment adds delta to the session's seat count and returns the post-value.
func (s *Service) Increment(ctx context.Context, sessionID string, delta int) (int, error) {
	return s.apply(ctx, "increment", sessionID, delta)
}

// Decrement subtracts delta from the seat count, clamped at zero.
func (s *Service) Decrement(ctx context.Context, sessionID string, delta int) (int, error) {
	return s.apply(ctx, "decrement", sessionID, -delta)
}

func (s *Service) apply(ctx context.Context, op, sessionID string, delta int) (int, error) {
	count, err := s.store.IncrementBooked(ctx, sessionID, delta)
	switch {
	case err == nil:
		metrics.RecordCounterOp(op, "atomic")
	case errors.Is(err, faststore.ErrNotFound):
		return 0, err
	case s.fallback:
		count, err = s.fetchUpdateSet(ctx, sessionID, delta)
		if err != nil {
			return 0, err
		}
		metrics.RecordCounterOp(op, "fallback")
	default:
		return 0, fmt.Errorf("counter %s on session %s: %w", op, sessionID, err)
	}

	s.mirrorCount(ctx, sessionID, count)
	return count, nil
}

// fetchUpdateSet is the degraded path: read, compute, write. It is only
// correct because the caller holds the session lock.
func (s *Service) fetchUpdateSet(ctx context.Context, sessionID string, delta int) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= fallbackAttempts; attempt++ {
		sess, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, faststore.ErrNotFound) {
				return 0, err
			}
			lastErr = err
			continue
		}

		next := sess.Booked + delta
		if next < 0 {
			next = 0
		}
		if err := s.store.SetBooked(ctx, sessionID, next); err != nil {
			lastErr = err
			continue
		}
		return next, nil
	}
	return 0, fmt.Errorf("counter fallback on session %s: %w", sessionID, lastErr)
}

// mirrorCount pushes the post-value to the CRM. A failed mirror leaves the
// row dirty (synced_at behind updated_at) and the reconciler pushes it later,
// so the caller's transaction does not fail here.
func (s *Service) mirrorCount(ctx context.Context, sessionID string, count int) {
	if err := s.mirror.UpdateSessionCounter(ctx, sessionID, count); err != nil {
		s.log.Warn().
			Err(err).
			Str(log.FieldSessionID, sessionID).
			Int(log.FieldCounter, count).
			Str(log.FieldEvent, "counter.mirror_failed").
			Msg("seat count not mirrored to CRM, row left dirty")
		return
	}
	if err := s.store.MarkSessionSynced(ctx, sessionID); err != nil {
		s.log.Warn().
			Err(err).
			Str(log.FieldSessionID, sessionID).
			Msg("could not mark session synced")
	}
}

// Set overwrites the seat count outright. Reconciliation only: the CRM write
// comes first so the externally visible value never trails the repair, and a
// failure here is retried on the next reconcile pass.
func (s *Service) Set(ctx context.Context, sessionID string, value int) error {
	if value < 0 {
		value = 0
	}
	if err := s.mirror.UpdateSessionCounter(ctx, sessionID, value); err != nil {
		return fmt.Errorf("counter set on session %s: %w", sessionID, err)
	}
	if err := s.store.SetBooked(ctx, sessionID, value); err != nil {
		return fmt.Errorf("counter set on session %s: %w", sessionID, err)
	}
	metrics.RecordCounterOp("set", "atomic")

	if err := s.store.MarkSessionSynced(ctx, sessionID); err != nil {
		s.log.Warn().
			Err(err).
			Str(log.FieldSessionID, sessionID).
			Msg("could not mark session synced")
	}
	return nil
}
