// SPDX-License-Identifier: MIT

package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/prepstack/bookd/internal/credits"
	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/faststore"
	"github.com/prepstack/bookd/internal/ident"
	"github.com/prepstack/bookd/internal/locks"
	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/metrics"
)

// CreateRequest carries everything needed to hold a seat.
type CreateRequest struct {
	ContactID string          `json:"contact_id"`
	SessionID string          `json:"session_id"`
	StudentID string          `json:"student_id"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	MockType  domain.MockType `json:"mock_type"`
	ExamDate  string          `json:"exam_date"`

	// DominantHand is required for Clinical Skills, AttendingLocation for
	// Situational Judgment and Mini-mock.
	DominantHand      string `json:"dominant_hand,omitempty"`
	AttendingLocation string `json:"attending_location,omitempty"`

	// IdempotencyKey is derived from the request fingerprint when the
	// client does not supply one.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Validate rejects requests the coordinator should never lock a session for.
func (r CreateRequest) Validate() error {
	if r.ContactID == "" {
		return E(KindValidation, "contact_id is required")
	}
	if r.SessionID == "" {
		return E(KindValidation, "session_id is required")
	}
	if r.StudentID == "" {
		return E(KindValidation, "student_id is required")
	}
	if r.Name == "" {
		return E(KindValidation, "name is required")
	}
	if !validEmail(r.Email) {
		return E(KindValidation, "email %q is not valid", r.Email)
	}
	if !r.MockType.IsValid() {
		return E(KindValidation, "unknown mock type %q", r.MockType)
	}
	if _, err := domain.ParseExamDate(r.ExamDate); err != nil {
		return E(KindValidation, "exam_date: %v", err)
	}
	if r.MockType.RequiresDominantHand() {
		if r.DominantHand != "true" && r.DominantHand != "false" {
			return E(KindValidation, "dominant_hand must be \"true\" or \"false\" for %s", r.MockType)
		}
	}
	if r.MockType.RequiresAttendingLocation() {
		if r.AttendingLocation == "" {
			return E(KindValidation, "attending_location is required for %s", r.MockType)
		}
		if !domain.IsValidLocation(r.AttendingLocation) {
			return E(KindValidation, "unknown attending_location %q", r.AttendingLocation)
		}
	}
	return nil
}

// CreditsAfter reports the contact's balances once the command settled.
type CreditsAfter struct {
	Field    domain.CreditField `json:"token_used"`
	Specific int                `json:"specific_after"`
	Shared   int                `json:"shared_after"`
}

// CreateResult is the success payload of the create command.
type CreateResult struct {
	Booking          *domain.Booking `json:"booking"`
	Credits          *CreditsAfter   `json:"credits,omitempty"`
	IdempotencyKey   string          `json:"idempotency_key"`
	IdempotentReplay bool            `json:"idempotent_request,omitempty"`
	Warnings         []string        `json:"warnings,omitempty"`
}

// Create books a seat for a contact on a session. The command is idempotent
// per key, serialized per session, and compensates half-applied work inside
// the lock window.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (res *CreateResult, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordBookingCommand("create", outcomeLabel(err))
		metrics.ObserveBookingCommand("create", time.Since(start).Seconds())
	}()
	return c.create(ctx, req)
}

func (c *Coordinator) create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := c.now().UTC()

	key := req.IdempotencyKey
	if key == "" {
		key = ident.NewKey(req.ContactID, req.SessionID, req.ExamDate, req.MockType, now, c.bucket)
	}

	// Fast path: a replay answered here never contends for the lock. The
	// in-lock check below stays authoritative for racing duplicates.
	res, key, err := c.replayOrRetryKey(ctx, req, key, now)
	if err != nil || res != nil {
		return res, err
	}

	lockKey := locks.SessionKey(req.SessionID)
	token, err := c.locks.Acquire(ctx, lockKey, c.sessionTTL)
	if err != nil {
		if errors.Is(err, locks.ErrNotAcquired) {
			return nil, wrap(KindLockFailed, err, "session %s is busy", req.SessionID)
		}
		return nil, wrap(KindInternal, err, "acquire session lock")
	}
	acquired := time.Now()
	released := false
	defer func() {
		if !released {
			c.release(ctx, lockKey, token)
		}
	}()

	// Authoritative replay check now that we hold the lock: a parallel
	// send that won the lock first has already projected its booking.
	res, key, err = c.replayOrRetryKey(ctx, req, key, now)
	if err != nil || res != nil {
		return res, err
	}

	sess, err := c.resolver.Session(ctx, req.SessionID)
	if err != nil {
		return nil, classify(err, KindExamNotFound, "load session %s", req.SessionID)
	}
	if sess.State != domain.SessionActive {
		return nil, E(KindExamNotActive, "session %s is %s", req.SessionID, sess.State)
	}
	if sess.MockType != req.MockType {
		return nil, E(KindTypeMismatch, "session %s runs %s, not %s", req.SessionID, sess.MockType, req.MockType)
	}
	if sess.ExamDate != req.ExamDate {
		return nil, E(KindValidation, "session %s runs on %s, not %s", req.SessionID, sess.ExamDate, req.ExamDate)
	}
	if sess.IsFull() {
		return nil, E(KindExamFull, "session %s is full (%d/%d)", req.SessionID, sess.Booked, sess.Capacity)
	}

	contact, err := c.resolver.Contact(ctx, req.ContactID)
	if err != nil {
		return nil, classify(err, KindContactNotFound, "load contact %s", req.ContactID)
	}
	field, err := credits.ResolveField(req.MockType, contact.Credits)
	if err != nil {
		return nil, classify(err, KindContactNotFound, "resolve credit for %s", req.ContactID)
	}

	bookingID, err := ident.BookingID(req.MockType, req.Name, req.ExamDate)
	if err != nil {
		return nil, wrap(KindValidation, err, "derive booking id")
	}
	// Cancelled homonyms are fine; only a live booking blocks the id.
	if existing, err := c.store.ActiveByBookingID(ctx, bookingID); err == nil && existing != nil {
		return nil, E(KindDuplicateBooking, "an active booking %s already exists", bookingID)
	} else if err != nil && !errors.Is(err, faststore.ErrNotFound) {
		// Fail closed: an unreadable guard cannot prove uniqueness.
		return nil, wrap(KindInternal, err, "duplicate check for %s", bookingID)
	}

	b := &domain.Booking{
		UUID:              uuid.New().String(),
		BookingID:         bookingID,
		SessionID:         sess.UUID,
		ContactID:         req.ContactID,
		StudentID:         req.StudentID,
		Name:              req.Name,
		Email:             domain.NormalizeEmail(req.Email),
		MockType:          sess.MockType,
		ExamDate:          sess.ExamDate,
		StartTime:         sess.StartTime,
		EndTime:           sess.EndTime,
		State:             domain.BookingActive,
		DominantHand:      req.DominantHand,
		AttendingLocation: req.AttendingLocation,
		TokenUsed:         field,
		IdempotencyKey:    key,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	crmID, err := c.crm.CreateBooking(ctx, b)
	if err != nil {
		return nil, classify(err, KindExamNotFound, "create booking %s", bookingID)
	}
	b.CRMID = crmID

	var warnings []string
	if err := c.crm.AssociateBooking(ctx, crmID, contact.CRMID, sess.CRMID); err != nil {
		warnings = append(warnings, WarnAssociationsIncomplete)
		c.log.Error().Err(err).
			Str(log.FieldBookingID, bookingID).
			Str(log.FieldCRMID, crmID).
			Msg("booking associations incomplete")
	}

	incremented := false
	if _, err := c.counter.Increment(ctx, sess.UUID, 1); err != nil {
		warnings = append(warnings, WarnCounterIncrement)
		c.log.Error().Err(err).
			Str(log.FieldSessionID, sess.UUID).
			Str(log.FieldBookingID, bookingID).
			Msg("seat counter increment failed, reconciler will repair")
	} else {
		incremented = true
	}

	balance, err := c.credits.Deduct(ctx, req.ContactID, field)
	if err != nil {
		if cleanupErr := c.compensate(ctx, b, incremented); cleanupErr != nil {
			return nil, wrap(KindCleanupFailed, errors.Join(err, cleanupErr),
				"debit failed and cleanup failed for %s", bookingID)
		}
		return nil, classify(err, KindContactNotFound, "debit %s for %s", field, req.ContactID)
	}

	// If the lock lapsed mid-flight another writer may have run over us.
	// Confirm our write survived before reporting success.
	if time.Since(acquired) >= c.sessionTTL {
		verified, err := c.crm.GetBooking(ctx, crmID)
		if err != nil || verified.State != domain.BookingActive {
			c.log.Error().Err(err).
				Str(log.FieldBookingID, bookingID).
				Str(log.FieldCRMID, crmID).
				Msg("session lock lapsed and booking did not verify")
			return nil, wrap(KindInternal, err, "lock lapsed, booking %s state uncertain", bookingID)
		}
	}

	// Project inside the lock window so the replay check above observes
	// completed bookings. Failure degrades to an async retry.
	b.SyncedAt = c.now().UTC()
	if err := c.store.PutBooking(ctx, b); err != nil {
		c.log.Warn().Err(err).
			Str(log.FieldBookingUUID, b.UUID).
			Msg("booking projection failed, retrying async")
		snapshot := *b
		c.submitTask("project:booking:"+b.UUID, func(ctx context.Context) error {
			return c.store.PutBooking(ctx, &snapshot)
		})
	}

	c.release(ctx, lockKey, token)
	released = true

	contactID, sessionID := req.ContactID, sess.UUID
	c.submitTask("invalidate:booking:"+b.UUID, func(ctx context.Context) error {
		c.invalidateAfterWrite(ctx, contactID, sessionID)
		return nil
	})

	c.log.Info().
		Str(log.FieldBookingID, bookingID).
		Str(log.FieldBookingUUID, b.UUID).
		Str(log.FieldCRMID, crmID).
		Str(log.FieldContactID, req.ContactID).
		Str(log.FieldSessionID, sess.UUID).
		Str(log.FieldCreditField, string(field)).
		Str(log.FieldIdempotencyKey, key).
		Msg("booking created")

	return &CreateResult{
		Booking:        b,
		IdempotencyKey: key,
		Warnings:       warnings,
		Credits: &CreditsAfter{
			Field:    field,
			Specific: balance.Get(req.MockType.PrimaryCreditField()),
			Shared:   balance.Get(domain.CreditShared),
		},
	}, nil
}

// replayOrRetryKey answers a repeat send from the completed booking, or, when
// the booking under the key was cancelled, hands back the retry key so a
// fresh attempt can proceed.
func (c *Coordinator) replayOrRetryKey(ctx context.Context, req CreateRequest, key string, now time.Time) (*CreateResult, string, error) {
	existing, err := c.store.FindByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, faststore.ErrNotFound) {
			return nil, key, nil
		}
		return nil, "", wrap(KindInternal, err, "idempotency lookup")
	}
	if existing.State == domain.BookingActive || existing.State == domain.BookingCompleted {
		metrics.IncIdempotentReplay()
		c.log.Info().
			Str(log.FieldBookingID, existing.BookingID).
			Str(log.FieldIdempotencyKey, key).
			Msg("idempotent replay")
		return &CreateResult{
			Booking:          existing,
			Credits:          c.creditsSnapshot(ctx, req.ContactID, req.MockType),
			IdempotencyKey:   key,
			IdempotentReplay: true,
		}, key, nil
	}
	// The previous attempt under this key was cancelled. Move to the retry
	// key so the new attempt books again instead of replaying a tombstone.
	retry := ident.RetryKey(req.ContactID, req.SessionID, req.ExamDate, req.MockType, now, c.bucket)
	if retry == key {
		return nil, key, nil
	}
	return nil, retry, nil
}

// creditsSnapshot is best effort; a replay answer without balances beats a
// failed replay.
func (c *Coordinator) creditsSnapshot(ctx context.Context, contactID string, mt domain.MockType) *CreditsAfter {
	contact, err := c.resolver.Contact(ctx, contactID)
	if err != nil {
		return nil
	}
	field, err := credits.ResolveField(mt, contact.Credits)
	if err != nil {
		field = mt.PrimaryCreditField()
	}
	return &CreditsAfter{
		Field:    field,
		Specific: contact.Credits.Get(mt.PrimaryCreditField()),
		Shared:   contact.Credits.Get(domain.CreditShared),
	}
}

// compensate undoes a half-created booking after a debit failure: the CRM
// record is deleted and, when the seat counter moved, it is moved back.
func (c *Coordinator) compensate(ctx context.Context, b *domain.Booking, incremented bool) error {
	var errs []error
	if err := c.crm.DeleteBooking(ctx, b.CRMID); err != nil {
		errs = append(errs, err)
	}
	if incremented {
		if _, err := c.counter.Decrement(ctx, b.SessionID, 1); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		metrics.RecordCleanup("failed")
		c.log.Error().Err(err).
			Str(log.FieldBookingID, b.BookingID).
			Str(log.FieldCRMID, b.CRMID).
			Str(log.FieldSessionID, b.SessionID).
			Msg("CLEANUP_FAILED")
		return err
	}
	metrics.RecordCleanup("performed")
	c.log.Warn().
		Str(log.FieldBookingID, b.BookingID).
		Str(log.FieldCRMID, b.CRMID).
		Str(log.FieldSessionID, b.SessionID).
		Msg("CLEANUP_PERFORMED")
	return nil
}
