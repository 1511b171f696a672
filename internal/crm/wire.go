// SPDX-License-Identifier: MIT

package crm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prepstack/bookd/internal/domain"
)

// object is the CRM wire envelope: a record id plus a flat property bag.
type object struct {
	ID         string                     `json:"id"`
	Properties map[string]json.RawMessage `json:"properties"`
	CreatedAt  string                     `json:"createdAt,omitempty"`
	UpdatedAt  string                     `json:"updatedAt,omitempty"`
}

// objectPage is the envelope returned by list endpoints.
type objectPage struct {
	Results []object `json:"results"`
	Total   int      `json:"total"`
}

// propertiesBody is the request body for create and update calls.
type propertiesBody struct {
	Properties map[string]string `json:"properties"`
}

// batchBody is the request body for batch property updates.
type batchBody struct {
	Inputs []batchInput `json:"inputs"`
}

type batchInput struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

// FlexString decodes property values that arrive as "42", 42, or true.
// Which shape a property takes depends on the CRM workflow that last wrote
// it, so every property is read through this type.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}

	// JSON string: "42"
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}

	// JSON bool: true / false
	if bytes.Equal(b, []byte("true")) || bytes.Equal(b, []byte("false")) {
		*s = FlexString(b)
		return nil
	}

	// Otherwise treat as number: 42 (or 42.0, etc.)
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("invalid json value: %s", string(b))
	}

	// Prefer integer string if possible
	if i, err := n.Int64(); err == nil {
		*s = FlexString(strconv.FormatInt(i, 10))
		return nil
	}

	*s = FlexString(n.String())
	return nil
}

// decodeProps flattens a raw property bag into canonical strings.
func decodeProps(raw map[string]json.RawMessage) (map[string]string, error) {
	props := make(map[string]string, len(raw))
	for k, v := range raw {
		var s FlexString
		if err := s.UnmarshalJSON(v); err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		props[k] = string(s)
	}
	return props, nil
}

// propInt parses a numeric property; blanks and garbage read as 0 so a
// mangled credit field denies instead of crashing.
func propInt(props map[string]string, key string) int {
	v, ok := props[key]
	if !ok {
		return 0
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return i
}

// parseCRMTime accepts RFC3339 or the epoch-millisecond strings older CRM
// workflows write into datetime properties.
func parseCRMTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}

// normalizeDate canonicalizes exam dates to YYYY-MM-DD. The CRM exports
// dates as plain strings, RFC3339 timestamps, or epoch milliseconds.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if _, err := time.Parse(domain.DateLayout, s); err == nil {
		return s
	}
	if t, err := parseCRMTime(s); err == nil && !t.IsZero() {
		return t.UTC().Format(domain.DateLayout)
	}
	return s
}

// extraProps keeps unknown properties so round-trips never drop data.
func extraProps(props map[string]string, known map[string]struct{}) map[string]string {
	var extra map[string]string
	for k, v := range props {
		if _, ok := known[k]; ok {
			continue
		}
		if extra == nil {
			extra = make(map[string]string)
		}
		extra[k] = v
	}
	return extra
}

var contactKeys = map[string]struct{}{
	"email": {}, "firstname": {}, "lastname": {}, "student_id": {},
	"sj": {}, "cs": {}, "sjmini": {}, "mock_discussion": {}, "shared": {},
}

func contactFromObject(o object) (*domain.Contact, error) {
	props, err := decodeProps(o.Properties)
	if err != nil {
		return nil, fmt.Errorf("contact %s: %w", o.ID, err)
	}
	c := &domain.Contact{
		UUID:      o.ID,
		CRMID:     o.ID,
		Email:     props["email"],
		FirstName: props["firstname"],
		LastName:  props["lastname"],
		StudentID: props["student_id"],
		Credits: domain.CreditBalance{
			SJ:             propInt(props, "sj"),
			CS:             propInt(props, "cs"),
			SJMini:         propInt(props, "sjmini"),
			MockDiscussion: propInt(props, "mock_discussion"),
			Shared:         propInt(props, "shared"),
		},
		Extra: extraProps(props, contactKeys),
	}
	c.CreatedAt, _ = parseCRMTime(o.CreatedAt)
	c.UpdatedAt, _ = parseCRMTime(o.UpdatedAt)
	return c, nil
}

var sessionKeys = map[string]struct{}{
	"mock_type": {}, "exam_date": {}, "start_time": {}, "end_time": {},
	"location": {}, "capacity": {}, "total_bookings": {}, "is_active": {},
	"scheduled_activation_datetime": {},
}

func sessionFromObject(o object) (*domain.Session, error) {
	props, err := decodeProps(o.Properties)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", o.ID, err)
	}
	s := &domain.Session{
		UUID:      o.ID,
		CRMID:     o.ID,
		MockType:  domain.MockType(props["mock_type"]),
		ExamDate:  normalizeDate(props["exam_date"]),
		StartTime: props["start_time"],
		EndTime:   props["end_time"],
		Location:  props["location"],
		Capacity:  propInt(props, "capacity"),
		Booked:    propInt(props, "total_bookings"),
		State:     domain.SessionState(props["is_active"]),
		Extra:     extraProps(props, sessionKeys),
	}
	if v := props["scheduled_activation_datetime"]; v != "" {
		t, err := parseCRMTime(v)
		if err != nil {
			return nil, fmt.Errorf("session %s: scheduled_activation_datetime: %w", o.ID, err)
		}
		s.ScheduledActivation = &t
	}
	s.CreatedAt, _ = parseCRMTime(o.CreatedAt)
	s.UpdatedAt, _ = parseCRMTime(o.UpdatedAt)
	return s, nil
}

// sessionProperties encodes the full session property set. The engine owns
// every session property, unlike bookings where the CRM computes the
// session-derived ones.
func sessionProperties(s *domain.Session) map[string]string {
	props := make(map[string]string, len(s.Extra)+9)
	for k, v := range s.Extra {
		props[k] = v
	}
	props["mock_type"] = string(s.MockType)
	props["exam_date"] = s.ExamDate
	props["start_time"] = s.StartTime
	props["end_time"] = s.EndTime
	props["location"] = s.Location
	props["capacity"] = strconv.Itoa(s.Capacity)
	props["total_bookings"] = strconv.Itoa(s.Booked)
	props["is_active"] = s.State.String()
	if s.ScheduledActivation != nil {
		props["scheduled_activation_datetime"] = s.ScheduledActivation.UTC().Format(time.RFC3339)
	}
	return props
}

var bookingKeys = map[string]struct{}{
	"booking_id": {}, "associated_session": {}, "associated_contact": {},
	"student_id": {}, "name": {}, "email": {}, "mock_type": {}, "exam_date": {},
	"start_time": {}, "end_time": {}, "is_active": {}, "attendance": {},
	"attending_location": {}, "dominant_hand": {}, "token_used": {},
	"idempotency_key": {},
}

func bookingFromObject(o object) (*domain.Booking, error) {
	props, err := decodeProps(o.Properties)
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", o.ID, err)
	}
	b := &domain.Booking{
		UUID:              o.ID,
		CRMID:             o.ID,
		BookingID:         props["booking_id"],
		SessionID:         props["associated_session"],
		ContactID:         props["associated_contact"],
		StudentID:         props["student_id"],
		Name:              props["name"],
		Email:             props["email"],
		MockType:          domain.MockType(props["mock_type"]),
		ExamDate:          normalizeDate(props["exam_date"]),
		StartTime:         props["start_time"],
		EndTime:           props["end_time"],
		State:             domain.BookingState(props["is_active"]),
		Attendance:        domain.Attendance(props["attendance"]),
		AttendingLocation: props["attending_location"],
		DominantHand:      props["dominant_hand"],
		TokenUsed:         domain.CreditField(props["token_used"]),
		IdempotencyKey:    props["idempotency_key"],
		Extra:             extraProps(props, bookingKeys),
	}
	b.CreatedAt, _ = parseCRMTime(o.CreatedAt)
	b.UpdatedAt, _ = parseCRMTime(o.UpdatedAt)
	return b, nil
}

// bookingCreateProperties encodes only the booking-owned properties. The
// CRM computes mock_type, exam_date, times, and location from the session
// association, so writing them here would fight the CRM's own pipeline.
func bookingCreateProperties(b *domain.Booking) map[string]string {
	props := map[string]string{
		"booking_id":      b.BookingID,
		"name":            b.Name,
		"email":           b.Email,
		"token_used":      string(b.TokenUsed),
		"idempotency_key": b.IdempotencyKey,
	}
	if b.DominantHand != "" {
		props["dominant_hand"] = b.DominantHand
	}
	if b.AttendingLocation != "" {
		props["attending_location"] = b.AttendingLocation
	}
	return props
}
