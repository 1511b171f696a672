// SPDX-License-Identifier: MIT

package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Attendance marks whether the student showed up. Unset until finalized.
type Attendance string

const (
	AttendanceUnset Attendance = ""
	AttendanceYes   Attendance = "Yes"
	AttendanceNo    Attendance = "No"
)

// IsValid checks whether the attendance value is defined.
func (a Attendance) IsValid() bool {
	switch a {
	case AttendanceUnset, AttendanceYes, AttendanceNo:
		return true
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (a Attendance) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(a))
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Attendance) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	at := Attendance(str)
	if !at.IsValid() {
		return fmt.Errorf("invalid attendance: %q", str)
	}
	*a = at
	return nil
}

// Booking is a held seat. Bookings are created locally and synced to the CRM,
// so the local UUID is the primary key and the CRM id may lag behind.
type Booking struct {
	UUID      string `json:"uuid"`
	CRMID     string `json:"hubspot_id,omitempty"`
	BookingID string `json:"booking_id"`

	SessionID string `json:"associated_session"`
	ContactID string `json:"associated_contact"`

	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`

	// MockType and ExamDate are copied from the session at creation for
	// query locality; rebook refreshes them.
	MockType  MockType `json:"mock_type"`
	ExamDate  string   `json:"exam_date"`
	StartTime string   `json:"start_time,omitempty"`
	EndTime   string   `json:"end_time,omitempty"`

	State             BookingState `json:"is_active"`
	Attendance        Attendance   `json:"attendance,omitempty"`
	AttendingLocation string       `json:"attending_location,omitempty"`
	DominantHand      string       `json:"dominant_hand,omitempty"` // "true"|"false", Clinical Skills only
	TokenUsed         CreditField  `json:"token_used,omitempty"`
	IdempotencyKey    string       `json:"idempotency_key"`

	Extra map[string]string `json:"extra,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	SyncedAt  time.Time `json:"synced_at"`
}

// Terminal reports whether the booking can no longer change state.
func (b Booking) Terminal() bool {
	return b.State.IsTerminal()
}

// Validate enforces the booking invariants.
func (b Booking) Validate() error {
	if b.UUID == "" {
		return fmt.Errorf("booking uuid must not be empty")
	}
	if b.BookingID == "" {
		return fmt.Errorf("booking_id must not be empty")
	}
	if b.SessionID == "" || b.ContactID == "" {
		return fmt.Errorf("booking must reference a session and a contact")
	}
	if !b.MockType.IsValid() {
		return fmt.Errorf("invalid mock type: %q", b.MockType)
	}
	if _, err := ParseExamDate(b.ExamDate); err != nil {
		return err
	}
	if !b.State.IsValid() {
		return fmt.Errorf("invalid booking state: %q", b.State)
	}
	if !b.Attendance.IsValid() {
		return fmt.Errorf("invalid attendance: %q", b.Attendance)
	}
	if b.TokenUsed != "" && !b.TokenUsed.IsValid() {
		return fmt.Errorf("invalid token_used: %q", b.TokenUsed)
	}
	if b.DominantHand != "" && b.DominantHand != "true" && b.DominantHand != "false" {
		return fmt.Errorf("dominant_hand must be \"true\" or \"false\", got %q", b.DominantHand)
	}
	return nil
}
