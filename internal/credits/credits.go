// SPDX-License-Identifier: MIT

// Package credits is the credit ledger. Every debit and refund runs under the
// contact lock and lands in the CRM before the fast-store projection, so the
// pool recorded as token_used on a booking can always be reversed exactly.
package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prepstack/bookd/internal/crm"
	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/faststore"
	"github.com/prepstack/bookd/internal/locks"
	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/metrics"
)

// ErrInsufficient is returned when every legal pool for the request is empty.
// Callers surface it as INSUFFICIENT_CREDITS.
var ErrInsufficient = errors.New("credits: insufficient balance")

// ErrContactNotFound is returned when neither store knows the contact.
var ErrContactNotFound = errors.New("credits: contact not found")

// ResolveField picks the pool a booking of the given type debits under the
// current balance: the primary pool while it has credit, then the shared pool
// for the types that may draw on it. ErrInsufficient when every legal pool
// is empty.
func ResolveField(mockType domain.MockType, balance domain.CreditBalance) (domain.CreditField, error) {
	primary := mockType.PrimaryCreditField()
	if primary == "" {
		return "", fmt.Errorf("unknown mock type: %q", mockType)
	}
	if balance.Get(primary) > 0 {
		return primary, nil
	}
	if mockType.UsesSharedPool() && balance.Get(domain.CreditShared) > 0 {
		return domain.CreditShared, nil
	}
	return "", fmt.Errorf("no credit in %s for %s: %w", primary, mockType, ErrInsufficient)
}

// Store is the fast-store surface the ledger projects onto.
type Store interface {
	GetContact(ctx context.Context, uuid string) (*domain.Contact, error)
	PutContact(ctx context.Context, c *domain.Contact) error
	UpdateCredits(ctx context.Context, uuid string, balance domain.CreditBalance) error
}

// CRM is the ledger of record for balances.
type CRM interface {
	GetContact(ctx context.Context, id string) (*domain.Contact, error)
	UpdateContactCredit(ctx context.Context, id string, field domain.CreditField, value int) error
}

// Ledger moves single credits between pools and stores.
type Ledger struct {
	crm     CRM
	store   Store
	locks   locks.Manager
	lockTTL time.Duration
	log     zerolog.Logger
}

// New wires the ledger. lockTTL bounds how long a stuck debit can hold a
// contact.
func New(crmClient CRM, store Store, lockMgr locks.Manager, lockTTL time.Duration) *Ledger {
	return &Ledger{
		crm:     crmClient,
		store:   store,
		locks:   lockMgr,
		lockTTL: lockTTL,
		log:     log.WithComponent("credits"),
	}
}

// Deduct takes one credit from the named pool and returns the post-balance.
// ErrInsufficient when the pool is already empty; nothing is written then.
func (l *Ledger) Deduct(ctx context.Context, contactID string, field domain.CreditField) (domain.CreditBalance, error) {
	return l.adjust(ctx, "deduct", contactID, field, -1)
}

// Restore puts one credit back into the named pool, ceilinged at the maximum
// balance, and returns the post-balance.
func (l *Ledger) Restore(ctx context.Context, contactID string, field domain.CreditField) (domain.CreditBalance, error) {
	return l.adjust(ctx, "restore", contactID, field, +1)
}

func (l *Ledger) adjust(ctx context.Context, op, contactID string, field domain.CreditField, delta int) (domain.CreditBalance, error) {
	var zero domain.CreditBalance
	if !field.IsValid() {
		return zero, fmt.Errorf("invalid credit field: %q", field)
	}

	token, err := l.locks.Acquire(ctx, locks.ContactKey(contactID), l.lockTTL)
	if err != nil {
		return zero, err
	}
	defer func() {
		if rerr := l.locks.Release(ctx, locks.ContactKey(contactID), token); rerr != nil {
			l.log.Warn().
				Err(rerr).
				Str(log.FieldContactID, contactID).
				Msg("contact lock release failed, TTL will reclaim")
		}
	}()

	contact, err := l.contact(ctx, contactID)
	if err != nil {
		return zero, err
	}

	current := contact.Credits.Get(field)
	next := current + delta
	switch {
	case delta < 0 && current <= 0:
		metrics.RecordCreditOp(op, string(field), "insufficient")
		return zero, fmt.Errorf("pool %s on contact %s is empty: %w", field, contactID, ErrInsufficient)
	case next > domain.MaxCreditValue:
		// A refund above the ceiling is silently absorbed; flag it so the
		// lost credit is at least visible to operators.
		l.log.Warn().
			Str(log.FieldContactID, contactID).
			Str(log.FieldCreditField, string(field)).
			Int("balance", current).
			Msg("restore clamped at ceiling")
		next = domain.MaxCreditValue
	}

	if err := l.crm.UpdateContactCredit(ctx, contactID, field, next); err != nil {
		metrics.RecordCreditOp(op, string(field), "crm_error")
		return zero, fmt.Errorf("credit %s on contact %s: %w", op, contactID, err)
	}

	balance := contact.Credits
	balance.Set(field, next)
	if err := l.store.UpdateCredits(ctx, contact.UUID, balance); err != nil {
		// The CRM already holds the truth; a stale projection heals on the
		// next resolver backfill.
		l.log.Warn().
			Err(err).
			Str(log.FieldContactID, contactID).
			Str(log.FieldCreditField, string(field)).
			Msg("credit projection failed")
	}

	metrics.RecordCreditOp(op, string(field), "ok")
	l.log.Info().
		Str(log.FieldContactID, contactID).
		Str(log.FieldCreditField, string(field)).
		Int("balance", next).
		Str(log.FieldEvent, "credits."+op).
		Msg("credit " + op)
	return balance, nil
}

// contact reads the freshest balance the engine can see: the fast store under
// the contact-lock discipline reflects every prior engine write, and the CRM
// serves misses with an opportunistic backfill.
func (l *Ledger) contact(ctx context.Context, id string) (*domain.Contact, error) {
	c, err := l.store.GetContact(ctx, id)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, faststore.ErrNotFound) {
		l.log.Warn().
			Err(err).
			Str(log.FieldContactID, id).
			Msg("fast store contact read failed, falling back to CRM")
	}

	c, err = l.crm.GetContact(ctx, id)
	if err != nil {
		if errors.Is(err, crm.ErrNotFound) {
			return nil, fmt.Errorf("contact %s: %w", id, ErrContactNotFound)
		}
		return nil, fmt.Errorf("contact %s: %w", id, err)
	}

	if perr := l.store.PutContact(ctx, c); perr != nil {
		l.log.Warn().
			Err(perr).
			Str(log.FieldContactID, id).
			Msg("contact backfill failed")
	}
	return c, nil
}
