// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepstack/bookd/internal/booking"
	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/faststore"
)

func TestCreateBooking(t *testing.T) {
	h := newTestHost(t)
	h.engine.createRes = &booking.CreateResult{
		Booking: &domain.Booking{
			UUID:      "b-1",
			BookingID: "BK-20260901-0001",
			SessionID: "s-1",
			ContactID: "c-1",
		},
		IdempotencyKey: "k-1",
		Warnings:       []string{booking.WarnAssociationsIncomplete},
	}

	body := `{
		"contact_id": "c-1",
		"session_id": "s-1",
		"student_id": "st-1",
		"name": "Dana Ross",
		"email": "dana@example.com",
		"mock_type": "Clinical Skills",
		"exam_date": "2026-09-01",
		"dominant_hand": "true"
	}`
	rec := h.do(t, http.MethodPost, "/v1/bookings", body, true)

	require.Equal(t, http.StatusCreated, rec.Code)
	out := decodeOutcome(t, rec)
	assert.True(t, out.Success)
	assert.Equal(t, []string{booking.WarnAssociationsIncomplete}, out.Warnings)

	assert.Equal(t, "c-1", h.engine.lastCreate.ContactID)
	assert.Equal(t, "s-1", h.engine.lastCreate.SessionID)
	assert.Equal(t, domain.MockTypeClinicalSkills, h.engine.lastCreate.MockType)
	assert.Equal(t, "true", h.engine.lastCreate.DominantHand)
}

func TestCreateBookingReplayReturnsOK(t *testing.T) {
	h := newTestHost(t)
	h.engine.createRes = &booking.CreateResult{
		Booking:          &domain.Booking{UUID: "b-1", BookingID: "BK-1"},
		IdempotencyKey:   "k-1",
		IdempotentReplay: true,
	}

	rec := h.do(t, http.MethodPost, "/v1/bookings", `{"contact_id":"c-1","session_id":"s-1"}`, true)

	assert.Equal(t, http.StatusOK, rec.Code, "a replayed create is not a new resource")
	out := decodeOutcome(t, rec)
	assert.True(t, out.Success)
}

func TestCreateBookingErrorStatus(t *testing.T) {
	tests := []struct {
		kind       booking.ErrorKind
		wantStatus int
		wantRetry  string
	}{
		{booking.KindValidation, http.StatusBadRequest, ""},
		{booking.KindExamNotFound, http.StatusNotFound, ""},
		{booking.KindContactNotFound, http.StatusNotFound, ""},
		{booking.KindBookingNotFound, http.StatusNotFound, ""},
		{booking.KindExamNotActive, http.StatusConflict, ""},
		{booking.KindExamFull, http.StatusConflict, ""},
		{booking.KindInsufficientCredits, http.StatusConflict, ""},
		{booking.KindDuplicateBooking, http.StatusConflict, ""},
		{booking.KindBookingCancelled, http.StatusConflict, ""},
		{booking.KindTypeMismatch, http.StatusConflict, ""},
		{booking.KindPastDate, http.StatusConflict, ""},
		{booking.KindLockFailed, http.StatusServiceUnavailable, "1"},
		{booking.KindCRMUnavailable, http.StatusServiceUnavailable, "5"},
		{booking.KindCleanupFailed, http.StatusInternalServerError, ""},
		{booking.KindInternal, http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			h := newTestHost(t)
			h.engine.createErr = booking.E(tt.kind, "refused")

			rec := h.do(t, http.MethodPost, "/v1/bookings", `{"contact_id":"c-1","session_id":"s-1"}`, true)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantRetry, rec.Header().Get("Retry-After"))

			out := decodeOutcome(t, rec)
			assert.False(t, out.Success)
			assert.Equal(t, string(tt.kind), out.Code)
		})
	}
}

func TestInternalErrorsAreMasked(t *testing.T) {
	h := newTestHost(t)
	h.engine.createErr = booking.E(booking.KindInternal, "pgx: connection refused on 10.0.0.7")

	rec := h.do(t, http.MethodPost, "/v1/bookings", `{"contact_id":"c-1"}`, true)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	out := decodeOutcome(t, rec)
	assert.Equal(t, "internal error", out.Error)
	assert.NotContains(t, rec.Body.String(), "10.0.0.7")
}

func TestCreateBookingRejectsBadJSON(t *testing.T) {
	h := newTestHost(t)

	rec := h.do(t, http.MethodPost, "/v1/bookings", `{"contact_id":`, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, h.engine.createCalls)
}

func TestCreateBookingRejectsUnknownFields(t *testing.T) {
	h := newTestHost(t)

	rec := h.do(t, http.MethodPost, "/v1/bookings", `{"contact":"c-1"}`, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, h.engine.createCalls, "typoed fields must not reach the engine")
}

func TestCancelBookingEmptyBodyDefaults(t *testing.T) {
	h := newTestHost(t)
	h.engine.cancelRes = &booking.CancelResult{
		Booking:  &domain.Booking{BookingID: "BK-1"},
		Refunded: true,
	}

	rec := h.do(t, http.MethodPost, "/v1/bookings/BK-1/cancel", "", true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BK-1", h.engine.lastCancel.Ref)
	assert.Nil(t, h.engine.lastCancel.RefundTokens, "empty body keeps the refund default")
	assert.Empty(t, h.engine.lastCancel.Actor)
}

func TestCancelBookingBodyOverridesDefaults(t *testing.T) {
	h := newTestHost(t)
	h.engine.cancelRes = &booking.CancelResult{Booking: &domain.Booking{BookingID: "BK-1"}}

	body := `{"actor":"admin","reason":"student request","refund_tokens":false}`
	rec := h.do(t, http.MethodPost, "/v1/bookings/BK-1/cancel", body, true)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, h.engine.lastCancel.RefundTokens)
	assert.False(t, *h.engine.lastCancel.RefundTokens)
	assert.Equal(t, "admin", h.engine.lastCancel.Actor)
	assert.Equal(t, "student request", h.engine.lastCancel.Reason)
}

func TestCancelBookingRefComesFromURL(t *testing.T) {
	h := newTestHost(t)
	h.engine.cancelRes = &booking.CancelResult{Booking: &domain.Booking{BookingID: "BK-7"}}

	rec := h.do(t, http.MethodPost, "/v1/bookings/BK-7/cancel", `{"booking_ref":"BK-999"}`, true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BK-7", h.engine.lastCancel.Ref, "path ref wins over body ref")
}

func TestRebookBooking(t *testing.T) {
	h := newTestHost(t)
	h.engine.rebookRes = &booking.RebookResult{
		Booking:      &domain.Booking{BookingID: "BK-1", SessionID: "s-2"},
		OldSessionID: "s-1",
		NewSessionID: "s-2",
	}

	rec := h.do(t, http.MethodPost, "/v1/bookings/BK-1/rebook", `{"new_session_id":"s-2"}`, true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BK-1", h.engine.lastRebook.Ref)
	assert.Equal(t, "s-2", h.engine.lastRebook.NewSessionID)
}

func TestRebookBookingTypeMismatch(t *testing.T) {
	h := newTestHost(t)
	h.engine.rebookErr = booking.E(booking.KindTypeMismatch, "cannot rebook across mock types")

	rec := h.do(t, http.MethodPost, "/v1/bookings/BK-1/rebook", `{"new_session_id":"s-9"}`, true)

	assert.Equal(t, http.StatusConflict, rec.Code)
	out := decodeOutcome(t, rec)
	assert.Equal(t, string(booking.KindTypeMismatch), out.Code)
}

func TestListBookingsPassesFilter(t *testing.T) {
	h := newTestHost(t)
	h.engine.listRes = &booking.BookingsPage{Page: 2, Limit: 10}

	rec := h.do(t, http.MethodGet, "/v1/bookings?contact_id=c-1&filter=upcoming&page=2&limit=10", "", false)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c-1", h.engine.lastContact)
	assert.Equal(t, faststore.RangeUpcoming, h.engine.lastRange)
	assert.Equal(t, 2, h.engine.lastPage)
	assert.Equal(t, 10, h.engine.lastLimit)
}

func TestListBookingsDefaultsPaging(t *testing.T) {
	h := newTestHost(t)
	h.engine.listRes = &booking.BookingsPage{Page: 1, Limit: 20}

	rec := h.do(t, http.MethodGet, "/v1/bookings?contact_id=c-1", "", false)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.engine.lastPage)
	assert.Equal(t, 20, h.engine.lastLimit)
}

func TestListBookingsRejectsBadPaging(t *testing.T) {
	h := newTestHost(t)

	rec := h.do(t, http.MethodGet, "/v1/bookings?contact_id=c-1&page=x", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/bookings?contact_id=c-1&limit=ten", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 0, h.engine.listCalls)
}

func TestGetCredits(t *testing.T) {
	h := newTestHost(t)
	h.engine.creditsRes = &booking.CreditSummary{
		MockType:  domain.MockTypeClinicalSkills,
		Field:     domain.CreditCS,
		Specific:  2,
		Available: 2,
	}

	rec := h.do(t, http.MethodGet, "/v1/contacts/c-1/credits?mock_type=Clinical+Skills", "", false)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c-1", h.engine.lastCreditsContact)
	assert.Equal(t, domain.MockTypeClinicalSkills, h.engine.lastCreditsType)
}

func TestGetCreditsRejectsUnknownMockType(t *testing.T) {
	h := newTestHost(t)

	rec := h.do(t, http.MethodGet, "/v1/contacts/c-1/credits?mock_type=Essay", "", false)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, h.engine.creditsCalls)
}
