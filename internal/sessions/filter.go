// SPDX-License-Identifier: MIT

package sessions

import (
	"fmt"

	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/faststore"
)

// Status filters sessions by activation state. "all" disables the filter.
type Status string

const (
	StatusAll       Status = "all"
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusScheduled Status = "scheduled"
)

// statusStates maps the filter vocabulary onto stored states. StatusAll is
// absent on purpose: it selects everything.
var statusStates = map[Status]domain.SessionState{
	StatusActive:    domain.SessionActive,
	StatusInactive:  domain.SessionInactive,
	StatusScheduled: domain.SessionScheduled,
}

var sortFields = map[string]bool{
	"exam_date":      true,
	"start_time":     true,
	"capacity":       true,
	"total_bookings": true,
	"location":       true,
	"mock_type":      true,
	"is_active":      true,
	"created_at":     true,
	"updated_at":     true,
}

// Filter is the enumerated search option set. Field names double as the
// cache-key material, so the JSON tags stay stable.
type Filter struct {
	Page      int    `json:"page"`
	Limit     int    `json:"limit"`
	SortBy    string `json:"sort_by"`
	SortOrder string `json:"sort_order"`
	Location  string `json:"filter_location,omitempty"`
	MockType  string `json:"filter_mock_type,omitempty"`
	Status    Status `json:"filter_status"`
	DateFrom  string `json:"filter_date_from,omitempty"`
	DateTo    string `json:"filter_date_to,omitempty"`
}

// normalize applies defaults and bounds before validation, so a zero Filter
// is always usable.
func (f *Filter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.SortBy == "" {
		f.SortBy = "exam_date"
	}
	if f.SortOrder == "" {
		f.SortOrder = "asc"
	}
	if f.Status == "" {
		f.Status = StatusAll
	}
}

func (f Filter) validate() error {
	if !sortFields[f.SortBy] {
		return fmt.Errorf("%w: sort_by %q", ErrBadFilter, f.SortBy)
	}
	if f.SortOrder != "asc" && f.SortOrder != "desc" {
		return fmt.Errorf("%w: sort_order %q", ErrBadFilter, f.SortOrder)
	}
	if f.Status != StatusAll {
		if _, ok := statusStates[f.Status]; !ok {
			return fmt.Errorf("%w: filter_status %q", ErrBadFilter, f.Status)
		}
	}
	if f.Location != "" && !domain.IsValidLocation(f.Location) {
		return fmt.Errorf("%w: filter_location %q", ErrBadFilter, f.Location)
	}
	if f.MockType != "" {
		if _, err := domain.ParseMockType(f.MockType); err != nil {
			return fmt.Errorf("%w: filter_mock_type %q", ErrBadFilter, f.MockType)
		}
	}
	if err := validateDate(f.DateFrom, "filter_date_from"); err != nil {
		return err
	}
	if err := validateDate(f.DateTo, "filter_date_to"); err != nil {
		return err
	}
	if f.DateFrom != "" && f.DateTo != "" && f.DateTo < f.DateFrom {
		return fmt.Errorf("%w: filter_date_to before filter_date_from", ErrBadFilter)
	}
	return nil
}

// toStore translates the validated filter into the fast-store query shape.
func (f Filter) toStore() faststore.SessionFilter {
	sf := faststore.SessionFilter{
		Location: f.Location,
		DateFrom: f.DateFrom,
		DateTo:   f.DateTo,
		SortBy:   f.SortBy,
		SortDesc: f.SortOrder == "desc",
		Page:     f.Page,
		Limit:    f.Limit,
	}
	if f.MockType != "" {
		mt, _ := domain.ParseMockType(f.MockType)
		sf.MockType = &mt
	}
	if st, ok := statusStates[f.Status]; ok {
		sf.State = &st
	}
	return sf
}
