// SPDX-License-Identifier: MIT

package booking

import (
	"errors"
	"fmt"

	"github.com/prepstack/bookd/internal/credits"
	"github.com/prepstack/bookd/internal/crm"
	"github.com/prepstack/bookd/internal/locks"
	"github.com/prepstack/bookd/internal/resolver"
)

// ErrorKind is the engine-level failure taxonomy. HTTP hosts map kinds onto
// status codes; the coordinator itself never deals in transport terms.
type ErrorKind string

const (
	KindValidation          ErrorKind = "VALIDATION_ERROR"
	KindUnauthorized        ErrorKind = "UNAUTHORIZED"
	KindExamNotFound        ErrorKind = "EXAM_NOT_FOUND"
	KindContactNotFound     ErrorKind = "CONTACT_NOT_FOUND"
	KindBookingNotFound     ErrorKind = "BOOKING_NOT_FOUND"
	KindExamNotActive       ErrorKind = "EXAM_NOT_ACTIVE"
	KindExamFull            ErrorKind = "EXAM_FULL"
	KindInsufficientCredits ErrorKind = "INSUFFICIENT_CREDITS"
	KindDuplicateBooking    ErrorKind = "DUPLICATE_BOOKING"
	KindBookingCancelled    ErrorKind = "BOOKING_CANCELLED"
	KindTypeMismatch        ErrorKind = "EXAM_TYPE_MISMATCH"
	KindPastDate            ErrorKind = "EXAM_PAST_DATE"
	KindLockFailed          ErrorKind = "LOCK_ACQUISITION_FAILED"
	KindCRMUnavailable      ErrorKind = "CRM_UNAVAILABLE"
	KindCleanupFailed       ErrorKind = "CLEANUP_FAILED"
	KindInternal            ErrorKind = "INTERNAL_ERROR"
)

// NotFound reports whether the kind is one of the not-found family, which
// hosts collapse onto a single status.
func (k ErrorKind) NotFound() bool {
	return k == KindExamNotFound || k == KindContactNotFound || k == KindBookingNotFound
}

// Transient reports whether the caller should retry the command end-to-end.
func (k ErrorKind) Transient() bool {
	return k == KindLockFailed || k == KindCRMUnavailable
}

// Error is a classified coordinator failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error without a cause.
func E(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// wrap builds a classified error around a cause.
func wrap(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from a coordinator error; anything unclassified is
// an internal error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// classify maps collaborator errors onto kinds. notFound names the kind used
// when the underlying record is missing, since that depends on which entity
// the caller was touching.
func classify(err error, notFound ErrorKind, format string, args ...any) *Error {
	kind := KindInternal
	switch {
	case errors.Is(err, locks.ErrNotAcquired):
		kind = KindLockFailed
	case errors.Is(err, credits.ErrInsufficient):
		kind = KindInsufficientCredits
	case errors.Is(err, credits.ErrContactNotFound):
		kind = KindContactNotFound
	case errors.Is(err, resolver.ErrNotFound), errors.Is(err, crm.ErrNotFound):
		kind = notFound
	case errors.Is(err, crm.ErrUnavailable),
		errors.Is(err, crm.ErrRateLimited),
		errors.Is(err, crm.ErrCircuitOpen):
		kind = KindCRMUnavailable
	}
	return wrap(kind, err, format, args...)
}
