// SPDX-License-Identifier: MIT

// Package sessions is the session store: a thin command layer over the CRM
// session object with a fast-store projection and cached read models. Writes
// go to the CRM first; the projection and cache invalidation follow, and a
// failed projection degrades to a slower read instead of a failed command.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/rs/zerolog"

	"github.com/prepstack/bookd/internal/cache"
	"github.com/prepstack/bookd/internal/crm"
	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/faststore"
	"github.com/prepstack/bookd/internal/ident"
	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/metrics"
	"github.com/prepstack/bookd/internal/resolver"
)

var (
	// ErrInvalidTransition rejects a state change outside the permitted
	// matrix, or a reactivation without a fresh activation datetime.
	ErrInvalidTransition = errors.New("sessions: state transition not permitted")

	// ErrActiveBookings refuses a delete while active bookings still
	// reference the session.
	ErrActiveBookings = errors.New("sessions: active bookings reference this session")

	// ErrBadFilter rejects a search outside the enumerated option set.
	ErrBadFilter = errors.New("sessions: invalid filter")

	// ErrInvalidSession rejects a create or update that breaks the session
	// invariants.
	ErrInvalidSession = errors.New("sessions: invalid session")
)

// Store is the fast-store surface the service projects onto.
type Store interface {
	GetSession(ctx context.Context, uuid string) (*domain.Session, error)
	PutSession(ctx context.Context, s *domain.Session) error
	DeleteSession(ctx context.Context, uuid string) error
	SearchSessions(ctx context.Context, f faststore.SessionFilter) ([]domain.Session, int, error)
	Aggregates(ctx context.Context, f faststore.AggregateFilter) (*faststore.Aggregates, error)
	CountActive(ctx context.Context, sessionID string) (int, error)
}

// CRM is the record-of-truth write surface.
type CRM interface {
	CreateSession(ctx context.Context, s *domain.Session) (string, error)
	UpdateSession(ctx context.Context, s *domain.Session) error
	UpdateSessionStates(ctx context.Context, ids []string, state domain.SessionState) error
	DeleteSession(ctx context.Context, id string) error
}

// Reader resolves single sessions, fast store first with CRM fallback.
// *resolver.Resolver satisfies it.
type Reader interface {
	Session(ctx context.Context, id string) (*domain.Session, error)
}

// Service coordinates session reads and writes.
type Service struct {
	store  Store
	crm    CRM
	reader Reader
	cache  cache.Cache
	ttl    time.Duration
	batch  int
	now    func() time.Time
	log    zerolog.Logger
}

// Option tunes a Service.
type Option func(*Service)

// WithTTL overrides the read-model cache lifetime.
func WithTTL(d time.Duration) Option {
	return func(s *Service) { s.ttl = d }
}

// WithBatchSize overrides the activation chunk size.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batch = n
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New wires the session store.
func New(store Store, crmClient CRM, reader Reader, c cache.Cache, opts ...Option) *Service {
	s := &Service{
		store:  store,
		crm:    crmClient,
		reader: reader,
		cache:  c,
		ttl:    120 * time.Second,
		batch:  100,
		now:    time.Now,
		log:    log.WithComponent("sessions"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns one session, serving from cache when the detail record is warm.
func (s *Service) Get(ctx context.Context, id string) (*domain.Session, error) {
	key := ident.SessionDetailKey(id)

	var cached domain.Session
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	sess, err := s.reader.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, sess, s.ttl)
	return sess, nil
}

// Page is one slice of a filtered session listing.
type Page struct {
	Sessions []domain.Session `json:"sessions"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
}

// Search lists sessions for the filter, serving repeated identical filters
// from cache.
func (s *Service) Search(ctx context.Context, f Filter) (*Page, error) {
	f.normalize()
	if err := f.validate(); err != nil {
		return nil, err
	}

	key := ident.SessionsListKey(ident.FilterHash(f))
	var cached Page
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	found, total, err := s.store.SearchSessions(ctx, f.toStore())
	if err != nil {
		return nil, fmt.Errorf("search sessions: %w", err)
	}

	page := Page{Sessions: found, Total: total, Page: f.Page, Limit: f.Limit}
	s.cache.Set(ctx, key, page, s.ttl)
	return &page, nil
}

// Create registers a new session: CRM first, then projection. The CRM id
// becomes both uuid and crm_id, matching every other CRM-origin record.
func (s *Service) Create(ctx context.Context, sess *domain.Session) error {
	now := s.now().UTC()
	if err := sess.Validate(now); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSession, err)
	}

	id, err := s.crm.CreateSession(ctx, sess)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	sess.CRMID = id
	if sess.UUID == "" {
		sess.UUID = id
	}
	sess.CreatedAt = now
	sess.UpdatedAt = now
	sess.SyncedAt = now

	s.project(ctx, sess)
	s.invalidateListings(ctx)

	s.log.Info().
		Str(log.FieldSessionID, sess.UUID).
		Str("mock_type", sess.MockType.String()).
		Str("exam_date", sess.ExamDate).
		Str("state", sess.State.String()).
		Msg("session created")
	return nil
}

// Update rewrites a session's properties. The seat counter is owned by the
// counter service and is never written here; state changes must stay inside
// the permitted transition matrix.
func (s *Service) Update(ctx context.Context, sess *domain.Session) error {
	current, err := s.reader.Session(ctx, sess.UUID)
	if err != nil {
		return err
	}

	if !current.State.CanTransitionTo(sess.State) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.State, sess.State)
	}
	if sess.State == domain.SessionScheduled && current.State != domain.SessionScheduled {
		// Re-scheduling an active session needs a fresh future datetime;
		// Validate below checks presence and pastness against now.
		if sess.ScheduledActivation == nil {
			return fmt.Errorf("%w: %s to scheduled without activation datetime", ErrInvalidTransition, current.State)
		}
	}

	now := s.now().UTC()
	sess.CRMID = current.CRMID
	sess.Booked = current.Booked
	sess.CreatedAt = current.CreatedAt
	if err := sess.Validate(now); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSession, err)
	}

	if err := s.crm.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("update session %s: %w", sess.UUID, err)
	}
	sess.UpdatedAt = now
	sess.SyncedAt = now

	s.project(ctx, sess)
	s.invalidateSession(ctx, sess.UUID)
	s.invalidateListings(ctx)
	return nil
}

// Delete removes a session from the CRM and the projection. Sessions with
// active bookings are protected; cancel or rebook those first.
func (s *Service) Delete(ctx context.Context, id string) error {
	active, err := s.store.CountActive(ctx, id)
	if err != nil {
		return fmt.Errorf("delete guard for session %s: %w", id, err)
	}
	if active > 0 {
		return fmt.Errorf("%w: %d active", ErrActiveBookings, active)
	}

	if err := s.crm.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}

	if err := s.store.DeleteSession(ctx, id); err != nil && !errors.Is(err, faststore.ErrNotFound) {
		s.log.Warn().Err(err).Str(log.FieldSessionID, id).Msg("session projection delete failed")
	}

	s.invalidateSession(ctx, id)
	s.invalidateListings(ctx)

	s.log.Info().Str(log.FieldSessionID, id).Msg("session deleted")
	return nil
}

// ActivateBatch flips scheduled sessions to active in CRM batches. Chunks
// fail independently: a CRM error in one chunk does not stop the rest, and
// the ids that did flip are returned alongside the joined error so the
// caller can retry only what is left.
func (s *Service) ActivateBatch(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var activated []string
	var errs []error
	for start := 0; start < len(ids); start += s.batch {
		end := min(start+s.batch, len(ids))
		chunk := ids[start:end]

		if err := s.crm.UpdateSessionStates(ctx, chunk, domain.SessionActive); err != nil {
			metrics.RecordActivation("failed", len(chunk))
			errs = append(errs, fmt.Errorf("activate %d sessions: %w", len(chunk), err))
			continue
		}
		metrics.RecordActivation("activated", len(chunk))

		for _, id := range chunk {
			s.projectActivated(ctx, id)
			activated = append(activated, id)
		}
	}

	if len(activated) > 0 {
		s.invalidateListings(ctx)
	}
	return activated, errors.Join(errs...)
}

// CloneOverrides selects the fields a cloned session replaces. Zero values
// keep the source value.
type CloneOverrides struct {
	ExamDate            string
	StartTime           string
	EndTime             string
	Location            string
	Capacity            int
	State               domain.SessionState
	ScheduledActivation *time.Time
}

// Clone duplicates a session under a new identity with zeroed counters,
// applying the overrides. The clone goes through the normal Create path.
func (s *Service) Clone(ctx context.Context, id string, ov CloneOverrides) (*domain.Session, error) {
	src, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	clone := *src
	clone.UUID = ""
	clone.CRMID = ""
	clone.Booked = 0
	clone.Extra = maps.Clone(src.Extra)
	clone.CreatedAt = time.Time{}
	clone.UpdatedAt = time.Time{}
	clone.SyncedAt = time.Time{}

	if ov.ExamDate != "" {
		clone.ExamDate = ov.ExamDate
	}
	if ov.StartTime != "" {
		clone.StartTime = ov.StartTime
	}
	if ov.EndTime != "" {
		clone.EndTime = ov.EndTime
	}
	if ov.Location != "" {
		clone.Location = ov.Location
	}
	if ov.Capacity > 0 {
		clone.Capacity = ov.Capacity
	}
	if ov.State != "" {
		clone.State = ov.State
	}
	if ov.ScheduledActivation != nil {
		clone.ScheduledActivation = ov.ScheduledActivation
	}

	if err := s.Create(ctx, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

// AggregatesFilter bounds an aggregates rollup by exam date.
type AggregatesFilter struct {
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
}

// Aggregates returns inventory totals for dashboards, cached per filter.
func (s *Service) Aggregates(ctx context.Context, f AggregatesFilter) (*faststore.Aggregates, error) {
	if err := validateDate(f.DateFrom, "date_from"); err != nil {
		return nil, err
	}
	if err := validateDate(f.DateTo, "date_to"); err != nil {
		return nil, err
	}

	key := ident.AggregatesKey(ident.FilterHash(f))
	var cached faststore.Aggregates
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	agg, err := s.store.Aggregates(ctx, faststore.AggregateFilter{DateFrom: f.DateFrom, DateTo: f.DateTo})
	if err != nil {
		return nil, fmt.Errorf("session aggregates: %w", err)
	}
	s.cache.Set(ctx, key, agg, s.ttl)
	return agg, nil
}

// project writes the fast-store row. The CRM write already landed, so a
// failed projection only costs read latency until backfill repairs it.
func (s *Service) project(ctx context.Context, sess *domain.Session) {
	if err := s.store.PutSession(ctx, sess); err != nil {
		s.log.Warn().Err(err).Str(log.FieldSessionID, sess.UUID).Msg("session projection failed")
	}
}

// projectActivated flips the local copy of one activated session.
func (s *Service) projectActivated(ctx context.Context, id string) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		s.log.Warn().Err(err).Str(log.FieldSessionID, id).Msg("activated session not in fast store")
		return
	}
	sess.State = domain.SessionActive
	now := s.now().UTC()
	sess.UpdatedAt = now
	sess.SyncedAt = now
	s.project(ctx, sess)
	s.invalidateSession(ctx, id)
}

func (s *Service) invalidateSession(ctx context.Context, id string) {
	s.cache.DeletePattern(ctx, ident.SessionPattern(id))
}

func (s *Service) invalidateListings(ctx context.Context) {
	s.cache.DeletePattern(ctx, ident.SessionsListPattern())
	s.cache.DeletePattern(ctx, ident.AggregatesPattern())
}

// IsNotFound reports whether err means the session does not exist in either
// store.
func IsNotFound(err error) bool {
	return errors.Is(err, faststore.ErrNotFound) ||
		errors.Is(err, crm.ErrNotFound) ||
		errors.Is(err, resolver.ErrNotFound)
}

func validateDate(v, name string) error {
	if v == "" {
		return nil
	}
	if _, err := domain.ParseExamDate(v); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrBadFilter, name, err)
	}
	return nil
}
