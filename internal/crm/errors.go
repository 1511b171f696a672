// SPDX-License-Identifier: MIT

package crm

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotFound     = errors.New("crm: record not found")
	ErrUnauthorized = errors.New("crm: request rejected by auth")
	ErrRateLimited  = errors.New("crm: rate limited after retries")
	ErrUnavailable  = errors.New("crm: unreachable or transport failure")
	ErrBadResponse  = errors.New("crm: invalid request or malformed response")
)

// Error is a rich error type that wraps the sentinel errors with call context.
type Error struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // nested lower-level error (e.g. net.Error)
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("crm: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Sentinel
}
