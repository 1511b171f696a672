// SPDX-License-Identifier: MIT

package booking

import (
	"context"
	"errors"
	"time"

	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/faststore"
	"github.com/prepstack/bookd/internal/ident"
	"github.com/prepstack/bookd/internal/locks"
	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/metrics"
)

// RebookRequest moves an existing booking onto another session.
type RebookRequest struct {
	Ref          string `json:"booking_ref"`
	NewSessionID string `json:"new_session_id"`
}

// RebookResult is the success payload of the rebook command.
type RebookResult struct {
	Booking      *domain.Booking `json:"booking"`
	OldSessionID string          `json:"old_session_id"`
	NewSessionID string          `json:"new_session_id"`
	Warnings     []string        `json:"warnings,omitempty"`
}

// Rebook moves a live booking to a different session of the same mock type.
// It is capacity neutral: the seat travels with the booking, no counters or
// credits move. The fast store is written first; the CRM swap is best effort
// and surfaces as a warning when it fails.
func (c *Coordinator) Rebook(ctx context.Context, req RebookRequest) (res *RebookResult, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordBookingCommand("rebook", outcomeLabel(err))
		metrics.ObserveBookingCommand("rebook", time.Since(start).Seconds())
	}()
	return c.rebook(ctx, req)
}

func (c *Coordinator) rebook(ctx context.Context, req RebookRequest) (*RebookResult, error) {
	if req.Ref == "" {
		return nil, E(KindValidation, "booking_ref is required")
	}
	if req.NewSessionID == "" {
		return nil, E(KindValidation, "new_session_id is required")
	}

	b, err := c.resolver.Booking(ctx, req.Ref)
	if err != nil {
		return nil, classify(err, KindBookingNotFound, "load booking %s", req.Ref)
	}
	switch b.State {
	case domain.BookingCancelled:
		return nil, E(KindBookingCancelled, "booking %s is cancelled", b.BookingID)
	case domain.BookingCompleted:
		return nil, E(KindValidation, "booking %s is completed and cannot move", b.BookingID)
	}
	if b.SessionID == req.NewSessionID {
		return &RebookResult{Booking: b, OldSessionID: b.SessionID, NewSessionID: b.SessionID}, nil
	}

	// The target must already be projected locally; a session the engine
	// has never seen is not a rebook target.
	target, err := c.store.GetSession(ctx, req.NewSessionID)
	if err != nil {
		if errors.Is(err, faststore.ErrNotFound) {
			return nil, wrap(KindExamNotFound, err, "target session %s", req.NewSessionID)
		}
		return nil, wrap(KindInternal, err, "load target session %s", req.NewSessionID)
	}
	if target.State != domain.SessionActive {
		return nil, E(KindExamNotActive, "target session %s is %s", target.UUID, target.State)
	}
	now := c.now().UTC()
	if target.IsPast(now) {
		return nil, E(KindPastDate, "target session %s ran on %s", target.UUID, target.ExamDate)
	}
	if target.MockType != b.MockType {
		return nil, E(KindTypeMismatch, "booking is %s, target session runs %s", b.MockType, target.MockType)
	}

	lockKey := locks.SessionKey(target.UUID)
	token, err := c.locks.Acquire(ctx, lockKey, c.sessionTTL)
	if err != nil {
		if errors.Is(err, locks.ErrNotAcquired) {
			return nil, wrap(KindLockFailed, err, "session %s is busy", target.UUID)
		}
		return nil, wrap(KindInternal, err, "acquire session lock")
	}
	released := false
	defer func() {
		if !released {
			c.release(ctx, lockKey, token)
		}
	}()

	oldSessionID := b.SessionID
	b.SessionID = target.UUID
	b.ExamDate = target.ExamDate
	b.StartTime = target.StartTime
	b.EndTime = target.EndTime
	b.UpdatedAt = now

	// Local write is authoritative for rebook; the CRM follows.
	if err := c.store.PutBooking(ctx, b); err != nil {
		return nil, wrap(KindInternal, err, "move booking %s to session %s", b.BookingID, target.UUID)
	}

	var warnings []string
	crmRef := b.CRMID
	if crmRef == "" {
		crmRef = b.UUID
	}
	if err := c.crm.ReassociateBookingSession(ctx, crmRef, oldSessionID, target.CRMID); err != nil {
		warnings = append(warnings, WarnCRMSyncIncomplete)
		c.log.Error().Err(err).
			Str(log.FieldBookingID, b.BookingID).
			Str(log.FieldSessionID, target.UUID).
			Str("old_session_id", oldSessionID).
			Msg("CRM session swap failed, booking moved locally only")
	} else {
		b.SyncedAt = c.now().UTC()
		if err := c.store.PutBooking(ctx, b); err != nil {
			c.log.Warn().Err(err).
				Str(log.FieldBookingUUID, b.UUID).
				Msg("synced_at stamp failed after rebook")
		}
	}

	c.release(ctx, lockKey, token)
	released = true

	contactID := b.ContactID
	newSessionID := target.UUID
	c.submitTask("invalidate:rebook:"+b.UUID, func(ctx context.Context) error {
		c.cache.DeletePattern(ctx, ident.ContactBookingsPattern(contactID))
		c.cache.DeletePattern(ctx, ident.SessionPattern(oldSessionID))
		c.cache.DeletePattern(ctx, ident.SessionPattern(newSessionID))
		return nil
	})

	c.log.Info().
		Str(log.FieldBookingID, b.BookingID).
		Str(log.FieldBookingUUID, b.UUID).
		Str("old_session_id", oldSessionID).
		Str(log.FieldSessionID, target.UUID).
		Msg("booking moved")

	return &RebookResult{
		Booking:      b,
		OldSessionID: oldSessionID,
		NewSessionID: target.UUID,
		Warnings:     warnings,
	}, nil
}
