// SPDX-License-Identifier: MIT

package booking

import (
	"context"

	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/faststore"
	"github.com/prepstack/bookd/internal/ident"
)

// BookingsPage is one page of a contact's bookings.
type BookingsPage struct {
	Bookings []domain.Booking `json:"bookings"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
}

// ListBookings pages through a contact's bookings. Upcoming listings cache
// briefly because students watch them right after booking; the rest can
// tolerate the default TTL.
func (c *Coordinator) ListBookings(ctx context.Context, contactID string, rng faststore.BookingRange, page, limit int) (*BookingsPage, error) {
	if contactID == "" {
		return nil, E(KindValidation, "contact_id is required")
	}
	if rng == "" {
		rng = faststore.RangeAll
	}
	if !rng.IsValid() {
		return nil, E(KindValidation, "unknown booking range %q", rng)
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	key := ident.ContactBookingsKey(contactID, string(rng), page, limit)
	var cached BookingsPage
	if c.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	bookings, total, err := c.store.BookingsForContact(ctx, faststore.BookingFilter{
		ContactID: contactID,
		Range:     rng,
		Today:     c.now().UTC().Format(domain.DateLayout),
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		return nil, wrap(KindInternal, err, "list bookings for %s", contactID)
	}

	result := &BookingsPage{Bookings: bookings, Total: total, Page: page, Limit: limit}
	ttl := c.defaultTTL
	if rng == faststore.RangeUpcoming {
		ttl = c.upcomingTTL
	}
	c.cache.Set(ctx, key, result, ttl)
	return result, nil
}

// CreditSummary reports what a contact could spend on a mock type.
type CreditSummary struct {
	MockType  domain.MockType    `json:"mock_type"`
	Field     domain.CreditField `json:"field"`
	Specific  int                `json:"specific"`
	Shared    int                `json:"shared"`
	Available int                `json:"available"`

	// SharedEligible marks types whose bookings may fall through to the
	// shared pool when the specific pool is empty.
	SharedEligible bool `json:"shared_eligible"`
}

// GetCredits reports the contact's balance breakdown for one mock type.
func (c *Coordinator) GetCredits(ctx context.Context, contactID string, mt domain.MockType) (*CreditSummary, error) {
	if contactID == "" {
		return nil, E(KindValidation, "contact_id is required")
	}
	if !mt.IsValid() {
		return nil, E(KindValidation, "unknown mock type %q", mt)
	}

	contact, err := c.resolver.Contact(ctx, contactID)
	if err != nil {
		return nil, classify(err, KindContactNotFound, "load contact %s", contactID)
	}

	field := mt.PrimaryCreditField()
	specific := contact.Credits.Get(field)
	shared := contact.Credits.Get(domain.CreditShared)
	eligible := mt.UsesSharedPool()
	available := specific
	if eligible {
		available += shared
	}

	return &CreditSummary{
		MockType:       mt,
		Field:          field,
		Specific:       specific,
		Shared:         shared,
		Available:      available,
		SharedEligible: eligible,
	}, nil
}
