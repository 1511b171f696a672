// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prepstack/bookd/internal/booking"
	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/sessions"
)

// handleSearchSessions lists sessions for the filter vocabulary.
// GET /v1/sessions?page=&limit=&sort_by=&sort_order=&location=&mock_type=&status=&date_from=&date_to=
func (s *Server) handleSearchSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := queryInt(q.Get("page"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, booking.KindValidation, "page must be an integer")
		return
	}
	limit, err := queryInt(q.Get("limit"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, booking.KindValidation, "limit must be an integer")
		return
	}

	res, err := s.deps.Inventory.Search(r.Context(), sessions.Filter{
		Page:      page,
		Limit:     limit,
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
		Location:  q.Get("location"),
		MockType:  q.Get("mock_type"),
		Status:    sessions.Status(q.Get("status")),
		DateFrom:  q.Get("date_from"),
		DateTo:    q.Get("date_to"),
	})
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res, nil)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Inventory.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res, nil)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var sess domain.Session
	if err := decodeJSON(w, r, &sess); err != nil {
		writeError(w, http.StatusBadRequest, booking.KindValidation, "invalid request body: "+err.Error())
		return
	}

	if err := s.deps.Inventory.Create(r.Context(), &sess); err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, sess, nil)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var sess domain.Session
	if err := decodeJSON(w, r, &sess); err != nil {
		writeError(w, http.StatusBadRequest, booking.KindValidation, "invalid request body: "+err.Error())
		return
	}
	sess.UUID = chi.URLParam(r, "sessionID")

	if err := s.deps.Inventory.Update(r.Context(), &sess); err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sess, nil)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Inventory.Delete(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nil, nil)
}

// cloneRequest selects the fields a cloned session replaces. Absent fields
// keep the source value; an empty body clones verbatim.
type cloneRequest struct {
	ExamDate            string     `json:"exam_date,omitempty"`
	StartTime           string     `json:"start_time,omitempty"`
	EndTime             string     `json:"end_time,omitempty"`
	Location            string     `json:"location,omitempty"`
	Capacity            int        `json:"capacity,omitempty"`
	State               string     `json:"is_active,omitempty"`
	ScheduledActivation *time.Time `json:"scheduled_activation_datetime,omitempty"`
}

func (s *Server) handleCloneSession(w http.ResponseWriter, r *http.Request) {
	var req cloneRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, booking.KindValidation, "invalid request body: "+err.Error())
		return
	}

	clone, err := s.deps.Inventory.Clone(r.Context(), chi.URLParam(r, "sessionID"), sessions.CloneOverrides{
		ExamDate:            req.ExamDate,
		StartTime:           req.StartTime,
		EndTime:             req.EndTime,
		Location:            req.Location,
		Capacity:            req.Capacity,
		State:               domain.SessionState(req.State),
		ScheduledActivation: req.ScheduledActivation,
	})
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, clone, nil)
}

// handleAggregates rolls up the session inventory for dashboards.
// GET /v1/sessions/aggregates?date_from=&date_to=
func (s *Server) handleAggregates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	res, err := s.deps.Inventory.Aggregates(r.Context(), sessions.AggregatesFilter{
		DateFrom: q.Get("date_from"),
		DateTo:   q.Get("date_to"),
	})
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res, nil)
}
