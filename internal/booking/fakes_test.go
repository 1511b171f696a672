// SPDX-License-Identifier: MIT

package booking

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prepstack/bookd/internal/cache"
	"github.com/prepstack/bookd/internal/crm"
	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/faststore"
	"github.com/prepstack/bookd/internal/locks"
	"github.com/prepstack/bookd/internal/resolver"
	"github.com/prepstack/bookd/internal/syncer"
)

var testNow = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

// fakeLocks hands out per-key mutexes so concurrent commands serialize the
// way the Redis manager serializes them.
type fakeLocks struct {
	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
	fail     map[string]bool
	seq      int
	acquires []string
	releases []string
}

var _ locks.Manager = (*fakeLocks)(nil)

func newFakeLocks() *fakeLocks {
	return &fakeLocks{keyLocks: map[string]*sync.Mutex{}, fail: map[string]bool{}}
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	if f.fail[key] {
		f.mu.Unlock()
		return "", locks.ErrNotAcquired
	}
	kl, ok := f.keyLocks[key]
	if !ok {
		kl = &sync.Mutex{}
		f.keyLocks[key] = kl
	}
	f.seq++
	token := fmt.Sprintf("tok-%d", f.seq)
	f.acquires = append(f.acquires, key)
	f.mu.Unlock()

	kl.Lock()
	return token, nil
}

func (f *fakeLocks) Release(ctx context.Context, key, token string) error {
	f.mu.Lock()
	kl := f.keyLocks[key]
	f.releases = append(f.releases, key)
	f.mu.Unlock()
	if kl != nil {
		kl.Unlock()
	}
	return nil
}

func (f *fakeLocks) acquireCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acquires)
}

type fakeResolver struct {
	mu         sync.Mutex
	contacts   map[string]*domain.Contact
	sessions   map[string]*domain.Session
	bookings   map[string]*domain.Booking
	contactErr error
	sessionErr error
	bookingErr error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		contacts: map[string]*domain.Contact{},
		sessions: map[string]*domain.Session{},
		bookings: map[string]*domain.Booking{},
	}
}

func (f *fakeResolver) Contact(ctx context.Context, id string) (*domain.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contactErr != nil {
		return nil, f.contactErr
	}
	c, ok := f.contacts[id]
	if !ok {
		return nil, fmt.Errorf("contact %s: %w", id, resolver.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeResolver) Session(ctx context.Context, id string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, resolver.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeResolver) Booking(ctx context.Context, ref string) (*domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bookingErr != nil {
		return nil, f.bookingErr
	}
	b, ok := f.bookings[ref]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", ref, resolver.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

type fakeLedger struct {
	mu         sync.Mutex
	balance    domain.CreditBalance
	deductErr  error
	restoreErr error
	deducts    []string
	restores   []string
}

func (f *fakeLedger) Deduct(ctx context.Context, contactID string, field domain.CreditField) (domain.CreditBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deductErr != nil {
		return domain.CreditBalance{}, f.deductErr
	}
	f.deducts = append(f.deducts, contactID+"/"+string(field))
	return f.balance, nil
}

func (f *fakeLedger) Restore(ctx context.Context, contactID string, field domain.CreditField) (domain.CreditBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restoreErr != nil {
		return domain.CreditBalance{}, f.restoreErr
	}
	f.restores = append(f.restores, contactID+"/"+string(field))
	return f.balance, nil
}

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int
	incErr error
	decErr error
	incs   []string
	decs   []string
	onInc  func(sessionID string, count int)
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: map[string]int{}}
}

func (f *fakeCounter) Increment(ctx context.Context, sessionID string, delta int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incErr != nil {
		return 0, f.incErr
	}
	f.counts[sessionID] += delta
	f.incs = append(f.incs, sessionID)
	if f.onInc != nil {
		f.onInc(sessionID, f.counts[sessionID])
	}
	return f.counts[sessionID], nil
}

func (f *fakeCounter) Decrement(ctx context.Context, sessionID string, delta int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decErr != nil {
		return 0, f.decErr
	}
	f.counts[sessionID] -= delta
	if f.counts[sessionID] < 0 {
		f.counts[sessionID] = 0
	}
	f.decs = append(f.decs, sessionID)
	return f.counts[sessionID], nil
}

type fakeCRM struct {
	mu           sync.Mutex
	seq          int
	createErr    error
	associateErr error
	stateErr     error
	deleteErr    error
	reassocErr   error
	getErr       error
	created      []domain.Booking
	bookings     map[string]*domain.Booking
	deleted      []string
	states       map[string]domain.BookingState
	associations [][3]string
	reassoc      [][3]string
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		bookings: map[string]*domain.Booking{},
		states:   map[string]domain.BookingState{},
	}
}

func (f *fakeCRM) CreateBooking(ctx context.Context, b *domain.Booking) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.seq++
	id := fmt.Sprintf("crm-b%d", f.seq)
	cp := *b
	cp.CRMID = id
	f.created = append(f.created, cp)
	f.bookings[id] = &cp
	return id, nil
}

func (f *fakeCRM) AssociateBooking(ctx context.Context, bookingID, contactID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.associateErr != nil {
		return f.associateErr
	}
	f.associations = append(f.associations, [3]string{bookingID, contactID, sessionID})
	return nil
}

func (f *fakeCRM) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, crm.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (f *fakeCRM) UpdateBookingState(ctx context.Context, id string, state domain.BookingState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return f.stateErr
	}
	f.states[id] = state
	if b, ok := f.bookings[id]; ok {
		b.State = state
	}
	return nil
}

func (f *fakeCRM) DeleteBooking(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	delete(f.bookings, id)
	return nil
}

func (f *fakeCRM) ReassociateBookingSession(ctx context.Context, bookingID, oldSessionID, newSessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reassocErr != nil {
		return f.reassocErr
	}
	f.reassoc = append(f.reassoc, [3]string{bookingID, oldSessionID, newSessionID})
	return nil
}

func (f *fakeCRM) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeStore struct {
	mu         sync.Mutex
	byUUID     map[string]*domain.Booking
	byKey      map[string]*domain.Booking
	sessions   map[string]*domain.Session
	repairs    []faststore.RefundRepair
	putErr     error
	findErr    error
	dupErr     error
	listErr    error
	repairErr  error
	putCalls   int
	listCalls  int
	lastFilter faststore.BookingFilter
	list       []domain.Booking
	total      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byUUID:   map[string]*domain.Booking{},
		byKey:    map[string]*domain.Booking{},
		sessions: map[string]*domain.Session{},
	}
}

func (f *fakeStore) seed(b *domain.Booking) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *b
	f.byUUID[cp.UUID] = &cp
	if cp.IdempotencyKey != "" {
		f.byKey[cp.IdempotencyKey] = &cp
	}
}

func (f *fakeStore) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	b, ok := f.byKey[key]
	if !ok {
		return nil, fmt.Errorf("booking idem %s: %w", key, faststore.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) ActiveByBookingID(ctx context.Context, bookingID string) (*domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dupErr != nil {
		return nil, f.dupErr
	}
	for _, b := range f.byUUID {
		if b.BookingID == bookingID && b.State == domain.BookingActive {
			cp := *b
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("booking %s: %w", bookingID, faststore.ErrNotFound)
}

func (f *fakeStore) GetSession(ctx context.Context, uuid string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[uuid]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", uuid, faststore.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) PutBooking(ctx context.Context, b *domain.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if f.putErr != nil {
		return f.putErr
	}
	cp := *b
	f.byUUID[cp.UUID] = &cp
	if cp.IdempotencyKey != "" {
		f.byKey[cp.IdempotencyKey] = &cp
	}
	return nil
}

func (f *fakeStore) BookingsForContact(ctx context.Context, filter faststore.BookingFilter) ([]domain.Booking, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	f.lastFilter = filter
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	return append([]domain.Booking(nil), f.list...), f.total, nil
}

func (f *fakeStore) EnqueueRepair(ctx context.Context, r *faststore.RefundRepair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.repairErr != nil {
		return f.repairErr
	}
	f.repairs = append(f.repairs, *r)
	return nil
}

func (f *fakeStore) get(uuid string) *domain.Booking {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.byUUID[uuid]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

type fakePool struct {
	mu     sync.Mutex
	tasks  []syncer.Task
	reject bool
}

func (f *fakePool) Submit(t syncer.Task) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false
	}
	f.tasks = append(f.tasks, t)
	return true
}

func (f *fakePool) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.tasks))
	for i, t := range f.tasks {
		out[i] = t.Name
	}
	return out
}

func (f *fakePool) drain(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	tasks := f.tasks
	f.tasks = nil
	f.mu.Unlock()
	for _, task := range tasks {
		if err := task.Run(context.Background()); err != nil {
			t.Fatalf("task %s: %v", task.Name, err)
		}
	}
}

type env struct {
	locks   *fakeLocks
	res     *fakeResolver
	ledger  *fakeLedger
	counter *fakeCounter
	crm     *fakeCRM
	store   *fakeStore
	pool    *fakePool
	cache   cache.Cache
	co      *Coordinator
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	e := &env{
		locks:   newFakeLocks(),
		res:     newFakeResolver(),
		ledger:  &fakeLedger{},
		counter: newFakeCounter(),
		crm:     newFakeCRM(),
		store:   newFakeStore(),
		pool:    &fakePool{},
		cache:   cache.NewMemoryCache(0),
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return testNow }
	}
	e.co = New(Deps{
		Locks:    e.locks,
		Resolver: e.res,
		Credits:  e.ledger,
		Counter:  e.counter,
		CRM:      e.crm,
		Store:    e.store,
		Cache:    e.cache,
		Pool:     e.pool,
	}, cfg)
	return e
}

func activeSession(id string) *domain.Session {
	return &domain.Session{
		UUID:      id,
		CRMID:     id,
		MockType:  domain.MockTypeSituationalJudgment,
		ExamDate:  "2026-09-12",
		StartTime: "09:00",
		EndTime:   "12:00",
		Location:  "Toronto",
		Capacity:  10,
		Booked:    3,
		State:     domain.SessionActive,
	}
}

func testContact(id string) *domain.Contact {
	c := &domain.Contact{
		UUID:      id,
		CRMID:     "crm-" + id,
		StudentID: "STU100",
		Email:     "jane.doe@example.com",
		FirstName: "Jane",
		LastName:  "Doe",
	}
	c.Credits.Set(domain.CreditSJ, 2)
	c.Credits.Set(domain.CreditShared, 1)
	return c
}

func validCreate() CreateRequest {
	return CreateRequest{
		ContactID:         "c-1",
		SessionID:         "s-1",
		StudentID:         "STU100",
		Name:              "Jane Doe",
		Email:             "jane.doe@example.com",
		MockType:          domain.MockTypeSituationalJudgment,
		ExamDate:          "2026-09-12",
		AttendingLocation: "Toronto",
	}
}

func activeBooking(uuid, crmID string) *domain.Booking {
	return &domain.Booking{
		UUID:      uuid,
		CRMID:     crmID,
		BookingID: "Situational Judgment-Jane Doe - September 12, 2026",
		SessionID: "s-1",
		ContactID: "c-1",
		StudentID: "STU100",
		Name:      "Jane Doe",
		Email:     "jane.doe@example.com",
		MockType:  domain.MockTypeSituationalJudgment,
		ExamDate:  "2026-09-12",
		StartTime: "09:00",
		EndTime:   "12:00",
		State:     domain.BookingActive,
		TokenUsed: domain.CreditSJ,
		CreatedAt: testNow.Add(-time.Hour),
		UpdatedAt: testNow.Add(-time.Hour),
	}
}
