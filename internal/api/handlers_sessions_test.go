// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepstack/bookd/internal/booking"
	"github.com/prepstack/bookd/internal/crm"
	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/faststore"
	"github.com/prepstack/bookd/internal/sessions"
)

func TestSearchSessionsPassesFilter(t *testing.T) {
	h := newTestHost(t)
	h.inventory.searchRes = &sessions.Page{Total: 3, Page: 2, Limit: 10}

	rec := h.do(t, http.MethodGet,
		"/v1/sessions?page=2&limit=10&sort_by=exam_date&sort_order=desc&location=Toronto&mock_type=Mini-mock&status=active&date_from=2026-09-01&date_to=2026-09-30",
		"", false)

	require.Equal(t, http.StatusOK, rec.Code)

	f := h.inventory.lastFilter
	assert.Equal(t, 2, f.Page)
	assert.Equal(t, 10, f.Limit)
	assert.Equal(t, "exam_date", f.SortBy)
	assert.Equal(t, "desc", f.SortOrder)
	assert.Equal(t, "Toronto", f.Location)
	assert.Equal(t, "Mini-mock", f.MockType)
	assert.Equal(t, sessions.StatusActive, f.Status)
	assert.Equal(t, "2026-09-01", f.DateFrom)
	assert.Equal(t, "2026-09-30", f.DateTo)
}

func TestSearchSessionsBadFilterRejected(t *testing.T) {
	h := newTestHost(t)
	h.inventory.searchErr = fmt.Errorf("%w: sort_by %q", sessions.ErrBadFilter, "color")

	rec := h.do(t, http.MethodGet, "/v1/sessions?sort_by=color", "", false)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	out := decodeOutcome(t, rec)
	assert.Equal(t, string(booking.KindValidation), out.Code)
}

func TestGetSessionNotFound(t *testing.T) {
	h := newTestHost(t)
	h.inventory.getErr = fmt.Errorf("session s-404: %w", faststore.ErrNotFound)

	rec := h.do(t, http.MethodGet, "/v1/sessions/s-404", "", false)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	out := decodeOutcome(t, rec)
	assert.Equal(t, string(booking.KindExamNotFound), out.Code)
	assert.Equal(t, "s-404", h.inventory.lastGet)
}

func TestCreateSession(t *testing.T) {
	h := newTestHost(t)

	body := `{
		"mock_type": "Clinical Skills",
		"exam_date": "2026-10-01",
		"start_time": "09:00",
		"end_time": "12:00",
		"location": "Toronto",
		"capacity": 12,
		"is_active": "false"
	}`
	rec := h.do(t, http.MethodPost, "/v1/sessions", body, true)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, h.inventory.created)
	assert.Equal(t, domain.MockTypeClinicalSkills, h.inventory.created.MockType)
	assert.Equal(t, 12, h.inventory.created.Capacity)
	assert.Equal(t, domain.SessionInactive, h.inventory.created.State)
}

func TestCreateSessionInvalidRejected(t *testing.T) {
	h := newTestHost(t)
	h.inventory.createErr = fmt.Errorf("%w: capacity must be in [1,100], got 0", sessions.ErrInvalidSession)

	rec := h.do(t, http.MethodPost, "/v1/sessions", `{"mock_type":"Mini-mock"}`, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	out := decodeOutcome(t, rec)
	assert.Equal(t, string(booking.KindValidation), out.Code)
}

func TestUpdateSessionIDComesFromURL(t *testing.T) {
	h := newTestHost(t)

	rec := h.do(t, http.MethodPut, "/v1/sessions/s-1", `{"uuid":"s-999","capacity":15}`, true)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, h.inventory.updated)
	assert.Equal(t, "s-1", h.inventory.updated.UUID, "path id wins over body id")
	assert.Equal(t, 15, h.inventory.updated.Capacity)
}

func TestUpdateSessionInvalidTransition(t *testing.T) {
	h := newTestHost(t)
	h.inventory.updateErr = fmt.Errorf("%w: active to scheduled", sessions.ErrInvalidTransition)

	rec := h.do(t, http.MethodPut, "/v1/sessions/s-1", `{"is_active":"scheduled"}`, true)

	assert.Equal(t, http.StatusConflict, rec.Code)
	out := decodeOutcome(t, rec)
	assert.Equal(t, string(booking.KindValidation), out.Code)
}

func TestDeleteSession(t *testing.T) {
	h := newTestHost(t)

	rec := h.do(t, http.MethodDelete, "/v1/sessions/s-1", "", true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s-1", h.inventory.lastDelete)
	out := decodeOutcome(t, rec)
	assert.True(t, out.Success)
}

func TestDeleteSessionWithActiveBookings(t *testing.T) {
	h := newTestHost(t)
	h.inventory.deleteErr = fmt.Errorf("%w: 3 active", sessions.ErrActiveBookings)

	rec := h.do(t, http.MethodDelete, "/v1/sessions/s-1", "", true)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCloneSessionEmptyBody(t *testing.T) {
	h := newTestHost(t)
	h.inventory.cloneRes = &domain.Session{UUID: "s-2"}

	rec := h.do(t, http.MethodPost, "/v1/sessions/s-1/clone", "", true)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "s-1", h.inventory.lastCloneID)
	assert.Equal(t, sessions.CloneOverrides{}, h.inventory.lastOverrides, "empty body clones verbatim")
}

func TestCloneSessionOverrides(t *testing.T) {
	h := newTestHost(t)
	h.inventory.cloneRes = &domain.Session{UUID: "s-2"}

	body := `{
		"exam_date": "2026-11-01",
		"capacity": 20,
		"is_active": "scheduled",
		"scheduled_activation_datetime": "2026-10-25T09:00:00Z"
	}`
	rec := h.do(t, http.MethodPost, "/v1/sessions/s-1/clone", body, true)

	require.Equal(t, http.StatusCreated, rec.Code)

	ov := h.inventory.lastOverrides
	assert.Equal(t, "2026-11-01", ov.ExamDate)
	assert.Equal(t, 20, ov.Capacity)
	assert.Equal(t, domain.SessionScheduled, ov.State)
	require.NotNil(t, ov.ScheduledActivation)
	assert.Equal(t, time.Date(2026, 10, 25, 9, 0, 0, 0, time.UTC), ov.ScheduledActivation.UTC())
}

func TestAggregates(t *testing.T) {
	h := newTestHost(t)
	h.inventory.aggRes = &faststore.Aggregates{Sessions: 4, Capacity: 48, Booked: 17}

	rec := h.do(t, http.MethodGet, "/v1/sessions/aggregates?date_from=2026-09-01&date_to=2026-09-30", "", false)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2026-09-01", h.inventory.lastAggFilter.DateFrom)
	assert.Equal(t, "2026-09-30", h.inventory.lastAggFilter.DateTo)
}

func TestSessionCRMOutageIsRetryable(t *testing.T) {
	h := newTestHost(t)
	h.inventory.createErr = fmt.Errorf("create session: %w", crm.ErrUnavailable)

	rec := h.do(t, http.MethodPost, "/v1/sessions", `{"mock_type":"Mini-mock"}`, true)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	out := decodeOutcome(t, rec)
	assert.Equal(t, string(booking.KindCRMUnavailable), out.Code)
}
