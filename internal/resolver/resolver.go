// SPDX-License-Identifier: MIT

// Package resolver is the uniform read path for contacts, sessions, and
// bookings: fast store first, CRM on a miss, opportunistic backfill so the
// next read is local. Concurrent misses on the same record collapse into one
// CRM call.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/prepstack/bookd/internal/crm"
	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/faststore"
	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/metrics"
	"github.com/prepstack/bookd/internal/syncer"
)

// ErrNotFound is returned when neither the fast store nor the CRM knows the
// record.
var ErrNotFound = errors.New("resolver: not found")

// Store is the local read surface plus the upserts backfill needs.
type Store interface {
	GetContact(ctx context.Context, uuid string) (*domain.Contact, error)
	GetSession(ctx context.Context, uuid string) (*domain.Session, error)
	GetBooking(ctx context.Context, uuid string) (*domain.Booking, error)
	GetBookingByCRMID(ctx context.Context, crmID string) (*domain.Booking, error)
	PutContact(ctx context.Context, c *domain.Contact) error
	PutSession(ctx context.Context, s *domain.Session) error
	PutBooking(ctx context.Context, b *domain.Booking) error
}

// CRM is the fallback read surface.
type CRM interface {
	GetContact(ctx context.Context, id string) (*domain.Contact, error)
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
}

// Submitter queues fire-and-forget backfills. *syncer.Pool satisfies it.
type Submitter interface {
	Submit(t syncer.Task) bool
}

// Resolver serves reads with a stable shape regardless of which store
// answered. Value normalization happens at the CRM client boundary, so both
// sources return identical records.
type Resolver struct {
	store Store
	crm   CRM
	pool  Submitter
	group singleflight.Group
	log   zerolog.Logger
}

// New wires the resolver. pool may be nil, which disables backfill.
func New(store Store, crmClient CRM, pool Submitter) *Resolver {
	return &Resolver{
		store: store,
		crm:   crmClient,
		pool:  pool,
		log:   log.WithComponent("resolver"),
	}
}

// Contact resolves a contact by id.
func (r *Resolver) Contact(ctx context.Context, id string) (*domain.Contact, error) {
	c, err := r.store.GetContact(ctx, id)
	if err == nil {
		metrics.RecordResolverLookup("contact", "fast_store")
		return c, nil
	}
	r.noteStoreError("contact", id, err)

	v, err, _ := r.group.Do("contact:"+id, func() (interface{}, error) {
		return r.crm.GetContact(ctx, id)
	})
	if err != nil {
		return nil, r.classifyMiss("contact", id, err)
	}

	contact := v.(*domain.Contact)
	metrics.RecordResolverLookup("contact", "crm")
	r.backfill("contact:"+id, func(ctx context.Context) error {
		return r.store.PutContact(ctx, contact)
	})
	return contact, nil
}

// Session resolves a session by id.
func (r *Resolver) Session(ctx context.Context, id string) (*domain.Session, error) {
	s, err := r.store.GetSession(ctx, id)
	if err == nil {
		metrics.RecordResolverLookup("session", "fast_store")
		return s, nil
	}
	r.noteStoreError("session", id, err)

	v, err, _ := r.group.Do("session:"+id, func() (interface{}, error) {
		return r.crm.GetSession(ctx, id)
	})
	if err != nil {
		return nil, r.classifyMiss("session", id, err)
	}

	session := v.(*domain.Session)
	metrics.RecordResolverLookup("session", "crm")
	r.backfill("session:"+id, func(ctx context.Context) error {
		return r.store.PutSession(ctx, session)
	})
	return session, nil
}

// Booking resolves a booking by local uuid or CRM id, in that order.
func (r *Resolver) Booking(ctx context.Context, ref string) (*domain.Booking, error) {
	b, err := r.store.GetBooking(ctx, ref)
	if err == nil {
		metrics.RecordResolverLookup("booking", "fast_store")
		return b, nil
	}
	if errors.Is(err, faststore.ErrNotFound) {
		b, err = r.store.GetBookingByCRMID(ctx, ref)
		if err == nil {
			metrics.RecordResolverLookup("booking", "fast_store")
			return b, nil
		}
	}
	r.noteStoreError("booking", ref, err)

	v, err, _ := r.group.Do("booking:"+ref, func() (interface{}, error) {
		return r.crm.GetBooking(ctx, ref)
	})
	if err != nil {
		return nil, r.classifyMiss("booking", ref, err)
	}

	booking := v.(*domain.Booking)
	metrics.RecordResolverLookup("booking", "crm")
	r.backfill("booking:"+ref, func(ctx context.Context) error {
		return r.store.PutBooking(ctx, booking)
	})
	return booking, nil
}

// noteStoreError logs degraded-store reads; plain misses are the normal path.
func (r *Resolver) noteStoreError(entity, id string, err error) {
	if errors.Is(err, faststore.ErrNotFound) {
		return
	}
	r.log.Warn().
		Err(err).
		Str("entity", entity).
		Str("id", id).
		Msg("fast store read failed, falling back to CRM")
}

func (r *Resolver) classifyMiss(entity, id string, err error) error {
	if errors.Is(err, crm.ErrNotFound) {
		metrics.RecordResolverLookup(entity, "miss")
		return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", entity, id, err)
}

func (r *Resolver) backfill(name string, fn func(ctx context.Context) error) {
	if r.pool == nil {
		return
	}
	r.pool.Submit(syncer.Task{Name: "backfill:" + name, Run: fn})
}
