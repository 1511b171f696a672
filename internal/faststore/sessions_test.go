// SPDX-License-Identifier: MIT

package faststore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/prepstack/bookd/internal/domain"
)

func testSession(uuid string, mut ...func(*domain.Session)) *domain.Session {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	s := &domain.Session{
		UUID:      uuid,
		CRMID:     "crm-" + uuid,
		MockType:  domain.MockTypeSituationalJudgment,
		ExamDate:  "2026-10-15",
		StartTime: "09:00",
		EndTime:   "12:00",
		Location:  "Toronto",
		Capacity:  30,
		Booked:    0,
		State:     domain.SessionActive,
		Extra:     map[string]string{"cohort": "2026-fall"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, m := range mut {
		m(s)
	}
	return s
}

func TestSession_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	activation := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	in := testSession("s-1", func(s *domain.Session) {
		s.State = domain.SessionScheduled
		s.ScheduledActivation = &activation
	})
	if err := store.PutSession(ctx, in); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(*in, *got); diff != "" {
		t.Errorf("session round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSession(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSession_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutSession(ctx, testSession("s-1")); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteSession(ctx, "s-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetSession(ctx, "s-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete = %v, want ErrNotFound", err)
	}
	if err := store.DeleteSession(ctx, "s-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete = %v, want ErrNotFound", err)
	}
}

func TestSearchSessions_Filters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []*domain.Session{
		testSession("s-1"),
		testSession("s-2", func(s *domain.Session) {
			s.MockType = domain.MockTypeClinicalSkills
			s.ExamDate = "2026-10-20"
		}),
		testSession("s-3", func(s *domain.Session) {
			s.State = domain.SessionInactive
			s.Location = "Online"
		}),
		testSession("s-4", func(s *domain.Session) {
			s.ExamDate = "2026-11-05"
			s.Location = "Vancouver"
		}),
	}
	for _, s := range seed {
		if err := store.PutSession(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	mt := domain.MockTypeSituationalJudgment
	active := domain.SessionActive

	tests := []struct {
		name      string
		filter    SessionFilter
		wantIDs   []string
		wantTotal int
	}{
		{"all", SessionFilter{}, []string{"s-1", "s-3", "s-2", "s-4"}, 4},
		{"by type", SessionFilter{MockType: &mt}, []string{"s-1", "s-3", "s-4"}, 3},
		{"by state", SessionFilter{State: &active}, []string{"s-1", "s-2", "s-4"}, 3},
		{"by location", SessionFilter{Location: "Online"}, []string{"s-3"}, 1},
		{"date window", SessionFilter{DateFrom: "2026-10-16", DateTo: "2026-10-31"}, []string{"s-2"}, 1},
		{"combined", SessionFilter{MockType: &mt, State: &active}, []string{"s-1", "s-4"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := store.SearchSessions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
			ids := make([]string, 0, len(got))
			for _, s := range got {
				ids = append(ids, s.UUID)
			}
			if diff := cmp.Diff(tt.wantIDs, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSearchSessions_Sorting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []*domain.Session{
		testSession("s-1", func(s *domain.Session) { s.Capacity = 10 }),
		testSession("s-2", func(s *domain.Session) { s.Capacity = 40 }),
		testSession("s-3", func(s *domain.Session) { s.Capacity = 25 }),
	}
	for _, s := range seed {
		if err := store.PutSession(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		filter  SessionFilter
		wantIDs []string
	}{
		{"capacity desc", SessionFilter{SortBy: "capacity", SortDesc: true}, []string{"s-2", "s-3", "s-1"}},
		{"capacity asc", SessionFilter{SortBy: "capacity"}, []string{"s-1", "s-3", "s-2"}},
		{"unknown column falls back to exam_date", SessionFilter{SortBy: "1; DROP TABLE sessions"}, []string{"s-1", "s-2", "s-3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := store.SearchSessions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			ids := make([]string, 0, len(got))
			for _, s := range got {
				ids = append(ids, s.UUID)
			}
			if diff := cmp.Diff(tt.wantIDs, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSearchSessions_Pagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s := testSession("s-"+string(rune('a'+i)), func(s *domain.Session) {
			s.ExamDate = "2026-10-1" + string(rune('0'+i))
		})
		if err := store.PutSession(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	page1, total, err := store.SearchSessions(ctx, SessionFilter{Page: 1, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(page1) != 2 {
		t.Fatalf("page1: total=%d len=%d", total, len(page1))
	}

	page3, _, err := store.SearchSessions(ctx, SessionFilter{Page: 3, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page3) != 1 {
		t.Fatalf("page3 len = %d, want 1", len(page3))
	}
	if page3[0].UUID == page1[0].UUID {
		t.Error("pages overlap")
	}
}

func TestDueScheduled(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	mkScheduled := func(uuid string, at time.Time) *domain.Session {
		return testSession(uuid, func(s *domain.Session) {
			s.State = domain.SessionScheduled
			s.ScheduledActivation = &at
		})
	}

	past := now.Add(-time.Hour)
	exact := now
	future := now.Add(time.Hour)

	for _, s := range []*domain.Session{
		mkScheduled("s-past", past),
		mkScheduled("s-exact", exact),
		mkScheduled("s-future", future),
		testSession("s-active"),
	} {
		if err := store.PutSession(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	due, err := store.DueScheduled(ctx, now, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 {
		t.Fatalf("due = %d sessions, want 2", len(due))
	}
	if due[0].UUID != "s-past" || due[1].UUID != "s-exact" {
		t.Errorf("order: %s, %s", due[0].UUID, due[1].UUID)
	}

	due, err = store.DueScheduled(ctx, now, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("limit ignored: %d", len(due))
	}
}

func TestIncrementBooked(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutSession(ctx, testSession("s-1")); err != nil {
		t.Fatal(err)
	}

	n, err := store.IncrementBooked(ctx, "s-1", 1)
	if err != nil || n != 1 {
		t.Fatalf("incr: n=%d err=%v", n, err)
	}
	n, err = store.IncrementBooked(ctx, "s-1", 1)
	if err != nil || n != 2 {
		t.Fatalf("incr: n=%d err=%v", n, err)
	}
	n, err = store.IncrementBooked(ctx, "s-1", -1)
	if err != nil || n != 1 {
		t.Fatalf("decr: n=%d err=%v", n, err)
	}

	// Decrements clamp at zero instead of going negative.
	n, err = store.IncrementBooked(ctx, "s-1", -5)
	if err != nil || n != 0 {
		t.Fatalf("clamped decr: n=%d err=%v", n, err)
	}

	if _, err := store.IncrementBooked(ctx, "ghost", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing session err = %v, want ErrNotFound", err)
	}
}

func TestSetBooked(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutSession(ctx, testSession("s-1")); err != nil {
		t.Fatal(err)
	}

	if err := store.SetBooked(ctx, "s-1", 7); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetSession(ctx, "s-1")
	if err != nil || got.Booked != 7 {
		t.Fatalf("booked = %d err = %v", got.Booked, err)
	}

	// Negative writes clamp to zero.
	if err := store.SetBooked(ctx, "s-1", -3); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetSession(ctx, "s-1")
	if got.Booked != 0 {
		t.Fatalf("booked = %d, want 0", got.Booked)
	}

	if err := store.SetBooked(ctx, "ghost", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing session err = %v, want ErrNotFound", err)
	}
}

func TestAggregates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, s := range []*domain.Session{
		testSession("s-1", func(s *domain.Session) { s.Capacity = 10; s.Booked = 4 }),
		testSession("s-2", func(s *domain.Session) {
			s.Capacity = 20
			s.Booked = 5
			s.MockType = domain.MockTypeClinicalSkills
		}),
		testSession("s-3", func(s *domain.Session) {
			s.Capacity = 15
			s.State = domain.SessionInactive
			s.ExamDate = "2026-12-01"
		}),
	} {
		if err := store.PutSession(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	agg, err := store.Aggregates(ctx, AggregateFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if agg.Sessions != 3 || agg.Capacity != 45 || agg.Booked != 9 {
		t.Errorf("totals: %+v", agg)
	}
	if agg.ByState["true"] != 2 || agg.ByState["false"] != 1 {
		t.Errorf("by state: %+v", agg.ByState)
	}
	if agg.ByMockType[string(domain.MockTypeSituationalJudgment)] != 2 || agg.ByMockType[string(domain.MockTypeClinicalSkills)] != 1 {
		t.Errorf("by type: %+v", agg.ByMockType)
	}

	// Date-bounded aggregates only see the window.
	agg, err = store.Aggregates(ctx, AggregateFilter{DateFrom: "2026-11-01"})
	if err != nil {
		t.Fatal(err)
	}
	if agg.Sessions != 1 || agg.Capacity != 15 {
		t.Errorf("windowed totals: %+v", agg)
	}

	// Empty window returns zeroes, not an error.
	agg, err = store.Aggregates(ctx, AggregateFilter{DateFrom: "2030-01-01"})
	if err != nil {
		t.Fatal(err)
	}
	if agg.Sessions != 0 || agg.Capacity != 0 || agg.Booked != 0 {
		t.Errorf("empty window: %+v", agg)
	}
}
