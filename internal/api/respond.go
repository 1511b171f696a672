// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prepstack/bookd/internal/booking"
	"github.com/prepstack/bookd/internal/crm"
	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/sessions"
)

// outcome is the uniform response envelope. Code carries the engine error
// kind on failure; Data carries the entity or page on success.
type outcome struct {
	Success  bool     `json:"success"`
	Code     string   `json:"code,omitempty"`
	Error    string   `json:"error,omitempty"`
	Data     any      `json:"data,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeData writes a success envelope.
func writeData(w http.ResponseWriter, status int, data any, warnings []string) {
	writeJSON(w, status, outcome{Success: true, Data: data, Warnings: warnings})
}

// writeError writes a failure envelope with an explicit status.
func writeError(w http.ResponseWriter, status int, code booking.ErrorKind, msg string) {
	writeJSON(w, status, outcome{Success: false, Code: string(code), Error: msg})
}

// writeKind writes a failure envelope with the kind's canonical status.
func writeKind(w http.ResponseWriter, kind booking.ErrorKind, msg string) {
	setRetryAfter(w, kind)
	writeError(w, statusForKind(kind), kind, msg)
}

// writeEngineError puts a classified coordinator error on the wire. Internal
// detail stays in the logs; callers get the kind and a generic message.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := booking.KindOf(err)
	msg := err.Error()

	switch kind {
	case booking.KindInternal:
		log.FromContext(r.Context()).Error().Err(err).Msg("command failed")
		msg = "internal error"
	case booking.KindCleanupFailed:
		log.FromContext(r.Context()).Error().Err(err).Msg("command failed with partial state")
		msg = "booking cleanup failed"
	}
	writeKind(w, kind, msg)
}

// writeSessionError classifies a session-store error onto the wire.
func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sessions.ErrBadFilter),
		errors.Is(err, sessions.ErrInvalidSession):
		writeError(w, http.StatusBadRequest, booking.KindValidation, err.Error())
	case errors.Is(err, sessions.ErrInvalidTransition),
		errors.Is(err, sessions.ErrActiveBookings):
		writeError(w, http.StatusConflict, booking.KindValidation, err.Error())
	case sessions.IsNotFound(err):
		writeError(w, http.StatusNotFound, booking.KindExamNotFound, err.Error())
	case errors.Is(err, crm.ErrUnavailable),
		errors.Is(err, crm.ErrRateLimited),
		errors.Is(err, crm.ErrCircuitOpen):
		writeKind(w, booking.KindCRMUnavailable, err.Error())
	default:
		log.FromContext(r.Context()).Error().Err(err).Msg("session command failed")
		writeKind(w, booking.KindInternal, "internal error")
	}
}

func statusForKind(k booking.ErrorKind) int {
	switch {
	case k == booking.KindValidation:
		return http.StatusBadRequest
	case k == booking.KindUnauthorized:
		return http.StatusUnauthorized
	case k.NotFound():
		return http.StatusNotFound
	case k == booking.KindExamNotActive,
		k == booking.KindExamFull,
		k == booking.KindInsufficientCredits,
		k == booking.KindDuplicateBooking,
		k == booking.KindBookingCancelled,
		k == booking.KindTypeMismatch,
		k == booking.KindPastDate:
		return http.StatusConflict
	case k == booking.KindLockFailed, k == booking.KindCRMUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// setRetryAfter advertises a retry hint on transient failures: lock
// contention clears within one lease, the CRM breaker within its reset
// window.
func setRetryAfter(w http.ResponseWriter, k booking.ErrorKind) {
	switch k {
	case booking.KindLockFailed:
		w.Header().Set("Retry-After", "1")
	case booking.KindCRMUnavailable:
		w.Header().Set("Retry-After", "5")
	}
}

// decodeJSON reads a bounded JSON body. Unknown fields are rejected so field
// name typos surface instead of silently applying defaults.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}
