// SPDX-License-Identifier: MIT

package booking

import (
	"context"
	"errors"
	"time"

	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/faststore"
	"github.com/prepstack/bookd/internal/locks"
	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/metrics"
)

// CancelRequest identifies a booking to release. Ref accepts the local UUID
// or the CRM id.
type CancelRequest struct {
	Ref    string `json:"booking_ref"`
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`

	// RefundTokens defaults to true; admins can cancel without refunding.
	RefundTokens *bool `json:"refund_tokens,omitempty"`
}

func (r CancelRequest) refund() bool {
	return r.RefundTokens == nil || *r.RefundTokens
}

// CancelResult is the success payload of the cancel command.
type CancelResult struct {
	Booking         *domain.Booking `json:"booking"`
	Refunded        bool            `json:"refunded"`
	AlreadyTerminal bool            `json:"already_terminal,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
}

// Cancel releases a booked seat. The CRM write is the point of no return:
// once the booking is cancelled there, refund or counter trouble degrades to
// warnings and queued repairs rather than failing the command.
func (c *Coordinator) Cancel(ctx context.Context, req CancelRequest) (res *CancelResult, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordBookingCommand("cancel", outcomeLabel(err))
		metrics.ObserveBookingCommand("cancel", time.Since(start).Seconds())
	}()
	return c.cancel(ctx, req)
}

func (c *Coordinator) cancel(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	if req.Ref == "" {
		return nil, E(KindValidation, "booking_ref is required")
	}

	b, err := c.resolver.Booking(ctx, req.Ref)
	if err != nil {
		return nil, classify(err, KindBookingNotFound, "load booking %s", req.Ref)
	}
	if b.Terminal() {
		return &CancelResult{Booking: b, AlreadyTerminal: true}, nil
	}

	lockKey := locks.SessionKey(b.SessionID)
	token, err := c.locks.Acquire(ctx, lockKey, c.sessionTTL)
	if err != nil {
		if errors.Is(err, locks.ErrNotAcquired) {
			return nil, wrap(KindLockFailed, err, "session %s is busy", b.SessionID)
		}
		return nil, wrap(KindInternal, err, "acquire session lock")
	}
	released := false
	defer func() {
		if !released {
			c.release(ctx, lockKey, token)
		}
	}()

	// Re-read under the lock; a racing cancel may have finished first.
	current, err := c.resolver.Booking(ctx, b.UUID)
	if err == nil {
		b = current
		if b.Terminal() {
			return &CancelResult{Booking: b, AlreadyTerminal: true}, nil
		}
	}

	crmRef := b.CRMID
	if crmRef == "" {
		crmRef = b.UUID
	}
	if err := c.crm.UpdateBookingState(ctx, crmRef, domain.BookingCancelled); err != nil {
		return nil, classify(err, KindBookingNotFound, "cancel booking %s", b.BookingID)
	}

	now := c.now().UTC()
	b.State = domain.BookingCancelled
	b.UpdatedAt = now
	b.SyncedAt = now
	if err := c.store.PutBooking(ctx, b); err != nil {
		c.log.Warn().Err(err).
			Str(log.FieldBookingUUID, b.UUID).
			Msg("cancel projection failed, retrying async")
		snapshot := *b
		c.submitTask("project:booking:"+b.UUID, func(ctx context.Context) error {
			return c.store.PutBooking(ctx, &snapshot)
		})
	}

	var warnings []string
	refunded := false
	if req.refund() && b.TokenUsed != "" {
		if _, err := c.credits.Restore(ctx, b.ContactID, b.TokenUsed); err != nil {
			warnings = append(warnings, WarnCreditRefund)
			c.log.Error().Err(err).
				Str(log.FieldBookingID, b.BookingID).
				Str(log.FieldContactID, b.ContactID).
				Str(log.FieldCreditField, string(b.TokenUsed)).
				Msg("CREDIT_REFUND_FAILED")
			c.enqueueRefundRepair(ctx, b, err, now)
		} else {
			refunded = true
		}
	}

	if _, err := c.counter.Decrement(ctx, b.SessionID, 1); err != nil {
		warnings = append(warnings, WarnCounterDecrement)
		c.log.Error().Err(err).
			Str(log.FieldSessionID, b.SessionID).
			Str(log.FieldBookingID, b.BookingID).
			Msg("seat counter decrement failed, reconciler will repair")
	}

	c.release(ctx, lockKey, token)
	released = true

	contactID, sessionID := b.ContactID, b.SessionID
	c.submitTask("invalidate:cancel:"+b.UUID, func(ctx context.Context) error {
		c.invalidateAfterWrite(ctx, contactID, sessionID)
		return nil
	})

	c.log.Info().
		Str(log.FieldBookingID, b.BookingID).
		Str(log.FieldBookingUUID, b.UUID).
		Str(log.FieldContactID, b.ContactID).
		Str(log.FieldSessionID, b.SessionID).
		Str("actor", req.Actor).
		Bool("refunded", refunded).
		Msg("booking cancelled")

	return &CancelResult{Booking: b, Refunded: refunded, Warnings: warnings}, nil
}

// enqueueRefundRepair records a failed refund for the reconciler. If even the
// queue write fails the credit is recoverable only from logs, so that failure
// is loud.
func (c *Coordinator) enqueueRefundRepair(ctx context.Context, b *domain.Booking, cause error, now time.Time) {
	repair := &faststore.RefundRepair{
		BookingUUID:   b.UUID,
		ContactID:     b.ContactID,
		Field:         b.TokenUsed,
		LastError:     cause.Error(),
		NextAttemptAt: now.Add(repairRetryDelay),
		CreatedAt:     now,
	}
	if err := c.store.EnqueueRepair(ctx, repair); err != nil {
		c.log.Error().Err(err).
			Str(log.FieldBookingUUID, b.UUID).
			Str(log.FieldContactID, b.ContactID).
			Str(log.FieldCreditField, string(b.TokenUsed)).
			Msg("refund repair enqueue failed, credit must be restored manually")
	}
}
