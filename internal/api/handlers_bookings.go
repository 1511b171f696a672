// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/prepstack/bookd/internal/booking"
	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/faststore"
)

// handleCreateBooking books a seat. A replay of an already-completed attempt
// returns 200 instead of 201.
func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req booking.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, booking.KindValidation, "invalid request body: "+err.Error())
		return
	}

	res, err := s.deps.Engine.Create(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.IdempotentReplay {
		status = http.StatusOK
	}
	writeData(w, status, res, res.Warnings)
}

// handleCancelBooking releases a seat. The body is optional; an empty body
// cancels with defaults (refund on, no actor).
func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	var req booking.CancelRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, booking.KindValidation, "invalid request body: "+err.Error())
		return
	}
	req.Ref = chi.URLParam(r, "ref")

	res, err := s.deps.Engine.Cancel(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res, res.Warnings)
}

// handleRebookBooking moves a booking onto another session.
func (s *Server) handleRebookBooking(w http.ResponseWriter, r *http.Request) {
	var req booking.RebookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, booking.KindValidation, "invalid request body: "+err.Error())
		return
	}
	req.Ref = chi.URLParam(r, "ref")

	res, err := s.deps.Engine.Rebook(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res, res.Warnings)
}

// handleListBookings pages through one contact's bookings.
// GET /v1/bookings?contact_id=&filter=all|upcoming|past&page=&limit=
func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := queryInt(q.Get("page"), 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, booking.KindValidation, "page must be an integer")
		return
	}
	limit, err := queryInt(q.Get("limit"), 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, booking.KindValidation, "limit must be an integer")
		return
	}

	res, err := s.deps.Engine.ListBookings(r.Context(),
		q.Get("contact_id"), faststore.BookingRange(q.Get("filter")), page, limit)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res, nil)
}

// handleGetCredits reports a contact's balance breakdown for one mock type.
// GET /v1/contacts/{contactID}/credits?mock_type=
func (s *Server) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	mt, err := domain.ParseMockType(r.URL.Query().Get("mock_type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, booking.KindValidation, err.Error())
		return
	}

	res, err := s.deps.Engine.GetCredits(r.Context(), chi.URLParam(r, "contactID"), mt)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res, nil)
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
