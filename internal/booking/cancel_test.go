// SPDX-License-Identifier: MIT

package booking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepstack/bookd/internal/crm"
	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/locks"
)

func seedCancellable(e *env) *domain.Booking {
	b := activeBooking("b-1", "crm-b1")
	e.res.bookings["b-1"] = b
	e.res.bookings["crm-b1"] = b
	e.crm.bookings["crm-b1"] = b
	e.store.seed(b)
	return b
}

func TestCancelReleasesSeat(t *testing.T) {
	e := newEnv(t, Config{})
	seedCancellable(e)

	res, err := e.co.Cancel(context.Background(), CancelRequest{Ref: "b-1", Actor: "student"})
	require.NoError(t, err)

	assert.True(t, res.Refunded)
	assert.False(t, res.AlreadyTerminal)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, domain.BookingCancelled, res.Booking.State)
	assert.Equal(t, testNow, res.Booking.UpdatedAt)

	assert.Equal(t, domain.BookingCancelled, e.crm.states["crm-b1"], "CRM is written first")
	stored := e.store.get("b-1")
	require.NotNil(t, stored)
	assert.Equal(t, domain.BookingCancelled, stored.State)

	assert.Equal(t, []string{"c-1/sj"}, e.ledger.restores)
	assert.Equal(t, []string{"s-1"}, e.counter.decs)
	assert.Equal(t, []string{locks.SessionKey("s-1")}, e.locks.acquires)
	assert.Equal(t, e.locks.acquires, e.locks.releases)
	e.pool.drain(t)
}

func TestCancelByCRMID(t *testing.T) {
	e := newEnv(t, Config{})
	seedCancellable(e)

	res, err := e.co.Cancel(context.Background(), CancelRequest{Ref: "crm-b1"})
	require.NoError(t, err)
	assert.Equal(t, "b-1", res.Booking.UUID)
	assert.Equal(t, domain.BookingCancelled, e.crm.states["crm-b1"])
}

func TestCancelUnknownBooking(t *testing.T) {
	e := newEnv(t, Config{})

	_, err := e.co.Cancel(context.Background(), CancelRequest{Ref: "nope"})
	requireKind(t, err, KindBookingNotFound)
	assert.Zero(t, e.locks.acquireCount())
}

func TestCancelTerminalIsIdempotent(t *testing.T) {
	e := newEnv(t, Config{})
	b := activeBooking("b-1", "crm-b1")
	b.State = domain.BookingCancelled
	e.res.bookings["b-1"] = b

	res, err := e.co.Cancel(context.Background(), CancelRequest{Ref: "b-1"})
	require.NoError(t, err)
	assert.True(t, res.AlreadyTerminal)
	assert.False(t, res.Refunded)
	assert.Zero(t, e.locks.acquireCount(), "terminal cancel takes no lock")
	assert.Empty(t, e.crm.states)
	assert.Empty(t, e.ledger.restores)
	assert.Empty(t, e.counter.decs)
}

func TestCancelRacingCancelSettlesIdempotently(t *testing.T) {
	e := newEnv(t, Config{})
	b := seedCancellable(e)

	// The lookup by CRM id still sees an active booking; the re-read by
	// UUID under the lock finds another instance already cancelled it.
	active := *b
	e.res.bookings["crm-b1"] = &active
	cancelled := *b
	cancelled.State = domain.BookingCancelled
	e.res.bookings["b-1"] = &cancelled

	res, err := e.co.Cancel(context.Background(), CancelRequest{Ref: "crm-b1"})
	require.NoError(t, err)
	assert.True(t, res.AlreadyTerminal)
	assert.Empty(t, e.crm.states, "no second CRM write")
	assert.Empty(t, e.ledger.restores, "no double refund")
}

func TestCancelCRMFailureFatal(t *testing.T) {
	e := newEnv(t, Config{})
	seedCancellable(e)
	e.crm.stateErr = crm.ErrUnavailable

	_, err := e.co.Cancel(context.Background(), CancelRequest{Ref: "b-1"})
	requireKind(t, err, KindCRMUnavailable)

	stored := e.store.get("b-1")
	require.NotNil(t, stored)
	assert.Equal(t, domain.BookingActive, stored.State, "local state must not run ahead of the CRM")
	assert.Empty(t, e.ledger.restores)
	assert.Empty(t, e.counter.decs)
}

func TestCancelRefundFailureWarnsAndQueuesRepair(t *testing.T) {
	e := newEnv(t, Config{})
	seedCancellable(e)
	e.ledger.restoreErr = errors.New("contact lock busy")

	res, err := e.co.Cancel(context.Background(), CancelRequest{Ref: "b-1"})
	require.NoError(t, err, "refund failure must not fail the cancellation")

	assert.False(t, res.Refunded)
	assert.Contains(t, res.Warnings, WarnCreditRefund)
	assert.Equal(t, domain.BookingCancelled, e.crm.states["crm-b1"])

	require.Len(t, e.store.repairs, 1)
	repair := e.store.repairs[0]
	assert.Equal(t, "b-1", repair.BookingUUID)
	assert.Equal(t, "c-1", repair.ContactID)
	assert.Equal(t, domain.CreditSJ, repair.Field)
	assert.Equal(t, testNow.Add(repairRetryDelay), repair.NextAttemptAt)
}

func TestCancelWithoutRefund(t *testing.T) {
	e := newEnv(t, Config{})
	seedCancellable(e)

	noRefund := false
	res, err := e.co.Cancel(context.Background(), CancelRequest{Ref: "b-1", RefundTokens: &noRefund})
	require.NoError(t, err)
	assert.False(t, res.Refunded)
	assert.Empty(t, res.Warnings)
	assert.Empty(t, e.ledger.restores)
	assert.Equal(t, []string{"s-1"}, e.counter.decs, "the seat still frees up")
}

func TestCancelCounterFailureIsWarning(t *testing.T) {
	e := newEnv(t, Config{})
	seedCancellable(e)
	e.counter.decErr = errors.New("redis: connection refused")

	res, err := e.co.Cancel(context.Background(), CancelRequest{Ref: "b-1"})
	require.NoError(t, err)
	assert.Contains(t, res.Warnings, WarnCounterDecrement)
	assert.True(t, res.Refunded)
}

func TestCancelLockContention(t *testing.T) {
	e := newEnv(t, Config{})
	seedCancellable(e)
	e.locks.fail[locks.SessionKey("s-1")] = true

	_, err := e.co.Cancel(context.Background(), CancelRequest{Ref: "b-1"})
	requireKind(t, err, KindLockFailed)
	assert.Empty(t, e.crm.states)
}
