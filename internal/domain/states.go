// SPDX-License-Identifier: MIT

package domain

import (
	"encoding/json"
	"fmt"
)

// SessionState is the stringly-typed activation tri-state carried verbatim
// from the CRM: "true", "false" or "scheduled".
type SessionState string

const (
	SessionActive    SessionState = "true"
	SessionInactive  SessionState = "false"
	SessionScheduled SessionState = "scheduled"
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	return string(s)
}

// IsValid checks whether the session state is defined.
func (s SessionState) IsValid() bool {
	switch s {
	case SessionActive, SessionInactive, SessionScheduled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the state change is permitted:
// scheduled→true, true↔false, scheduled→false. true→scheduled is allowed
// only with a fresh future activation datetime, which the session store
// checks separately.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	if s == next {
		return true
	}
	switch s {
	case SessionScheduled:
		return next == SessionActive || next == SessionInactive
	case SessionActive:
		return next == SessionInactive || next == SessionScheduled
	case SessionInactive:
		return next == SessionActive
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (s SessionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SessionState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	st := SessionState(str)
	if !st.IsValid() {
		return fmt.Errorf("invalid session state: %q", str)
	}
	*s = st
	return nil
}

// ParseSessionState parses a string into a SessionState.
func ParseSessionState(s string) (SessionState, error) {
	st := SessionState(s)
	if !st.IsValid() {
		return "", fmt.Errorf("invalid session state: %q", s)
	}
	return st, nil
}

// BookingState is the booking lifecycle state carried verbatim from the CRM:
// "Active", "Cancelled" or "Completed".
type BookingState string

const (
	BookingActive    BookingState = "Active"
	BookingCancelled BookingState = "Cancelled"
	BookingCompleted BookingState = "Completed"
)

// String implements fmt.Stringer.
func (s BookingState) String() string {
	return string(s)
}

// IsValid checks whether the booking state is defined.
func (s BookingState) IsValid() bool {
	switch s {
	case BookingActive, BookingCancelled, BookingCompleted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state admits no further transitions.
func (s BookingState) IsTerminal() bool {
	return s == BookingCancelled || s == BookingCompleted
}

// MarshalJSON implements json.Marshaler.
func (s BookingState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *BookingState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	st := BookingState(str)
	if !st.IsValid() {
		return fmt.Errorf("invalid booking state: %q", str)
	}
	*s = st
	return nil
}

// ParseBookingState parses a string into a BookingState.
func ParseBookingState(s string) (BookingState, error) {
	st := BookingState(s)
	if !st.IsValid() {
		return "", fmt.Errorf("invalid booking state: %q", s)
	}
	return st, nil
}
