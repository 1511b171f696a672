// SPDX-License-Identifier: MIT

// Package faststore is the local persistence layer: a queryable projection of
// CRM state (sessions, bookings, contacts) plus engine-owned tables (refund
// repairs). The CRM stays the source of truth; this store exists so reads and
// capacity checks do not pay a CRM round trip.
package faststore

import (
	"context"
	"errors"
	"time"

	"github.com/prepstack/bookd/internal/domain"
)

// ErrNotFound is returned by every Get-style method when the row is absent.
// Callers distinguish entities by the wrapping message.
var ErrNotFound = errors.New("not found")

// SessionFilter narrows a session search. Zero fields are ignored.
type SessionFilter struct {
	MockType *domain.MockType
	State    *domain.SessionState
	Location string
	DateFrom string // YYYY-MM-DD inclusive
	DateTo   string // YYYY-MM-DD inclusive

	// SortBy names a column from the whitelisted set; anything else falls
	// back to exam_date. Sorting happens in SQL because it must precede
	// pagination.
	SortBy   string
	SortDesc bool

	Page  int
	Limit int
}

// normalize applies pagination defaults and bounds.
func (f *SessionFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
}

// BookingRange selects which slice of a contact's bookings to list.
type BookingRange string

const (
	RangeAll      BookingRange = "all"
	RangeUpcoming BookingRange = "upcoming"
	RangePast     BookingRange = "past"
)

// IsValid reports whether the range is one of the enumerated values.
func (r BookingRange) IsValid() bool {
	switch r {
	case RangeAll, RangeUpcoming, RangePast:
		return true
	default:
		return false
	}
}

// BookingFilter narrows a contact booking listing. Today anchors the
// upcoming/past split so the store itself stays clock-free.
type BookingFilter struct {
	ContactID string
	Range     BookingRange
	Today     string // YYYY-MM-DD
	Page      int
	Limit     int
}

func (f *BookingFilter) normalize() {
	if f.Range == "" {
		f.Range = RangeAll
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
}

// AggregateFilter bounds session aggregates by exam date.
type AggregateFilter struct {
	DateFrom string
	DateTo   string
}

// Aggregates summarizes the session inventory.
type Aggregates struct {
	Sessions   int            `json:"sessions"`
	Capacity   int            `json:"capacity"`
	Booked     int            `json:"total_bookings"`
	ByState    map[string]int `json:"by_state"`
	ByMockType map[string]int `json:"by_mock_type"`
}

// CounterDrift is a session whose stored seat counter disagrees with the
// count of its Active bookings.
type CounterDrift struct {
	SessionID string
	Recorded  int
	Actual    int
}

// RefundRepair is a queued credit refund that failed during cancellation and
// gets retried by reconciliation.
type RefundRepair struct {
	ID            int64
	BookingUUID   string
	ContactID     string
	Field         domain.CreditField
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// SessionStore persists sessions and their seat counters.
type SessionStore interface {
	GetSession(ctx context.Context, uuid string) (*domain.Session, error)
	PutSession(ctx context.Context, s *domain.Session) error
	DeleteSession(ctx context.Context, uuid string) error
	SearchSessions(ctx context.Context, f SessionFilter) ([]domain.Session, int, error)
	// DueScheduled lists scheduled sessions whose activation datetime has
	// arrived, oldest first.
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Session, error)
	// IncrementBooked atomically adds delta to the seat counter, clamping
	// at zero, and returns the new value.
	IncrementBooked(ctx context.Context, uuid string, delta int) (int, error)
	SetBooked(ctx context.Context, uuid string, value int) error
	Aggregates(ctx context.Context, f AggregateFilter) (*Aggregates, error)
}

// BookingStore persists bookings.
type BookingStore interface {
	GetBooking(ctx context.Context, uuid string) (*domain.Booking, error)
	PutBooking(ctx context.Context, b *domain.Booking) error
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.Booking, error)
	// ActiveBooking returns the contact's Active booking on the session,
	// or ErrNotFound.
	ActiveBooking(ctx context.Context, sessionID, contactID string) (*domain.Booking, error)
	BookingsForContact(ctx context.Context, f BookingFilter) ([]domain.Booking, int, error)
	// BookingsForSession returns the Active roster, sorted by name.
	BookingsForSession(ctx context.Context, sessionID string) ([]domain.Booking, error)
	CountActive(ctx context.Context, sessionID string) (int, error)
	CounterDrifts(ctx context.Context) ([]CounterDrift, error)
}

// ContactStore persists the contact projection.
type ContactStore interface {
	GetContact(ctx context.Context, uuid string) (*domain.Contact, error)
	PutContact(ctx context.Context, c *domain.Contact) error
	UpdateCredits(ctx context.Context, uuid string, balance domain.CreditBalance) error
}

// RepairStore queues refund repairs for reconciliation.
type RepairStore interface {
	EnqueueRepair(ctx context.Context, r *RefundRepair) error
	DueRepairs(ctx context.Context, now time.Time, limit int) ([]RefundRepair, error)
	MarkRepairAttempt(ctx context.Context, id int64, attempts int, lastError string, next time.Time) error
	ResolveRepair(ctx context.Context, id int64) error
}

// Store is the full persistence surface.
type Store interface {
	SessionStore
	BookingStore
	ContactStore
	RepairStore

	HealthCheck(ctx context.Context) error
	Close() error
}
