// SPDX-License-Identifier: MIT

package domain

import (
	"fmt"
	"time"
)

// Locations enumerates the sites sessions run at. "Online" sessions have no
// physical seat map but the same capacity rules.
var Locations = []string{"Toronto", "Vancouver", "Montreal", "Online"}

// IsValidLocation reports whether the location is in the configured set.
func IsValidLocation(loc string) bool {
	for _, l := range Locations {
		if l == loc {
			return true
		}
	}
	return false
}

// DateLayout is the wire format for exam dates: no time portion.
const DateLayout = "2006-01-02"

// TimeLayout is the wire format for start/end times, 24-hour clock.
const TimeLayout = "15:04"

// ParseExamDate parses a YYYY-MM-DD date into midnight UTC.
func ParseExamDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("exam_date %q is not YYYY-MM-DD: %w", s, err)
	}
	return t, nil
}

// ValidClockTime reports whether s is a valid HH:MM 24-hour time.
func ValidClockTime(s string) bool {
	_, err := time.Parse(TimeLayout, s)
	return err == nil
}

// Session is a scheduled occurrence of a mock exam. The CRM calls this object
// a "Mock Exam"; the engine calls it a session throughout.
type Session struct {
	UUID      string       `json:"uuid"`
	CRMID     string       `json:"hubspot_id"`
	MockType  MockType     `json:"mock_type"`
	ExamDate  string       `json:"exam_date"`  // YYYY-MM-DD
	StartTime string       `json:"start_time"` // HH:MM
	EndTime   string       `json:"end_time"`   // HH:MM, after StartTime
	Location  string       `json:"location"`
	Capacity  int          `json:"capacity"`
	Booked    int          `json:"total_bookings"`
	State     SessionState `json:"is_active"`

	// ScheduledActivation is required iff State is "scheduled".
	ScheduledActivation *time.Time `json:"scheduled_activation_datetime,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	SyncedAt  time.Time `json:"synced_at"`
}

// Validate enforces the session invariants at creation and update time.
// now anchors the "activation datetime must not be in the past" check.
func (s Session) Validate(now time.Time) error {
	if !s.MockType.IsValid() {
		return fmt.Errorf("invalid mock type: %q", s.MockType)
	}
	if _, err := ParseExamDate(s.ExamDate); err != nil {
		return err
	}
	if !ValidClockTime(s.StartTime) {
		return fmt.Errorf("start_time %q is not HH:MM", s.StartTime)
	}
	if !ValidClockTime(s.EndTime) {
		return fmt.Errorf("end_time %q is not HH:MM", s.EndTime)
	}
	if s.EndTime <= s.StartTime {
		return fmt.Errorf("end_time %s must be after start_time %s", s.EndTime, s.StartTime)
	}
	if !IsValidLocation(s.Location) {
		return fmt.Errorf("unknown location: %q", s.Location)
	}
	if s.Capacity < 1 || s.Capacity > 100 {
		return fmt.Errorf("capacity must be in [1,100], got %d", s.Capacity)
	}
	if s.Booked < 0 {
		return fmt.Errorf("total_bookings must not be negative, got %d", s.Booked)
	}
	if !s.State.IsValid() {
		return fmt.Errorf("invalid session state: %q", s.State)
	}
	if s.State == SessionScheduled {
		if s.ScheduledActivation == nil {
			return fmt.Errorf("scheduled sessions require scheduled_activation_datetime")
		}
		if s.ScheduledActivation.Before(now.Truncate(24 * time.Hour)) {
			return fmt.Errorf("scheduled_activation_datetime %s is in the past", s.ScheduledActivation.Format(time.RFC3339))
		}
	}
	return nil
}

// IsFull reports whether the session has no free seats.
func (s Session) IsFull() bool {
	return s.Booked >= s.Capacity
}

// IsPast reports whether the exam date lies strictly before now's date.
func (s Session) IsPast(now time.Time) bool {
	d, err := ParseExamDate(s.ExamDate)
	if err != nil {
		return false
	}
	return d.Before(now.UTC().Truncate(24 * time.Hour))
}
