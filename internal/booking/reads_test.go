// SPDX-License-Identifier: MIT

package booking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/faststore"
)

func TestListBookingsCachesPerFilter(t *testing.T) {
	e := newEnv(t, Config{})
	e.store.list = []domain.Booking{*activeBooking("b-1", "crm-b1")}
	e.store.total = 1

	first, err := e.co.ListBookings(context.Background(), "c-1", faststore.RangeUpcoming, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Total)
	assert.Equal(t, 1, e.store.listCalls)
	assert.Equal(t, "2026-08-25", e.store.lastFilter.Today, "range anchors on the engine clock")

	second, err := e.co.ListBookings(context.Background(), "c-1", faststore.RangeUpcoming, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, e.store.listCalls, "repeat read must come from cache")
	assert.Equal(t, first.Bookings[0].UUID, second.Bookings[0].UUID)

	_, err = e.co.ListBookings(context.Background(), "c-1", faststore.RangePast, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, e.store.listCalls, "a different range is a different cache key")
}

func TestListBookingsAppliesDefaults(t *testing.T) {
	e := newEnv(t, Config{})

	res, err := e.co.ListBookings(context.Background(), "c-1", "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 20, res.Limit)
	assert.Equal(t, faststore.RangeAll, e.store.lastFilter.Range)

	_, err = e.co.ListBookings(context.Background(), "c-1", faststore.RangeAll, 3, 500)
	require.NoError(t, err)
	assert.Equal(t, 100, e.store.lastFilter.Limit, "limit is capped")
}

func TestListBookingsValidation(t *testing.T) {
	e := newEnv(t, Config{})

	_, err := e.co.ListBookings(context.Background(), "", faststore.RangeAll, 1, 20)
	requireKind(t, err, KindValidation)

	_, err = e.co.ListBookings(context.Background(), "c-1", "someday", 1, 20)
	requireKind(t, err, KindValidation)
}

func TestGetCreditsBreakdown(t *testing.T) {
	e := newEnv(t, Config{})
	c := testContact("c-1")
	c.Credits = domain.CreditBalance{}
	c.Credits.Set(domain.CreditSJ, 2)
	c.Credits.Set(domain.CreditCS, 0)
	c.Credits.Set(domain.CreditMockDiscussion, 1)
	c.Credits.Set(domain.CreditShared, 3)
	e.res.contacts["c-1"] = c

	sj, err := e.co.GetCredits(context.Background(), "c-1", domain.MockTypeSituationalJudgment)
	require.NoError(t, err)
	assert.Equal(t, domain.CreditSJ, sj.Field)
	assert.Equal(t, 2, sj.Specific)
	assert.Equal(t, 3, sj.Shared)
	assert.Equal(t, 5, sj.Available)
	assert.True(t, sj.SharedEligible)

	// Clinical Skills falls through to shared even with zero specific.
	cs, err := e.co.GetCredits(context.Background(), "c-1", domain.MockTypeClinicalSkills)
	require.NoError(t, err)
	assert.Equal(t, 0, cs.Specific)
	assert.Equal(t, 3, cs.Available)
	assert.True(t, cs.SharedEligible)

	// Mock Discussion never borrows from the shared pool.
	md, err := e.co.GetCredits(context.Background(), "c-1", domain.MockTypeMockDiscussion)
	require.NoError(t, err)
	assert.Equal(t, 1, md.Specific)
	assert.Equal(t, 1, md.Available)
	assert.False(t, md.SharedEligible)
}

func TestGetCreditsUnknownContact(t *testing.T) {
	e := newEnv(t, Config{})

	_, err := e.co.GetCredits(context.Background(), "ghost", domain.MockTypeSituationalJudgment)
	requireKind(t, err, KindContactNotFound)

	_, err = e.co.GetCredits(context.Background(), "c-1", "Viva")
	requireKind(t, err, KindValidation)
}
