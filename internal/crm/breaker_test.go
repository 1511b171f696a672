// SPDX-License-Identifier: MIT

package crm

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBoom = errors.New("boom")

func failing() error { return errBoom }
func healthy() error { return nil }

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute, WithClock(newFakeClock()))

	for i := 0; i < 2; i++ {
		if err := b.Execute(failing); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: expected underlying error, got %v", i, err)
		}
		if got := b.State(); got != string(StateClosed) {
			t.Fatalf("call %d: expected closed, got %s", i, got)
		}
	}

	if err := b.Execute(failing); !errors.Is(err, errBoom) {
		t.Fatalf("third failure should still surface the cause, got %v", err)
	}
	if got := b.State(); got != string(StateOpen) {
		t.Fatalf("expected open after threshold, got %s", got)
	}
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	clk := newFakeClock()
	b := NewBreaker("test", 1, time.Minute, WithClock(clk))

	_ = b.Execute(failing)

	calls := 0
	err := b.Execute(func() error { calls++; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Fatal("open breaker must not invoke the function")
	}
}

func TestBreakerHalfOpenProbeSuccessCloses(t *testing.T) {
	clk := newFakeClock()
	b := NewBreaker("test", 1, time.Minute, WithClock(clk))

	_ = b.Execute(failing)
	clk.Advance(61 * time.Second)

	if err := b.Execute(healthy); err != nil {
		t.Fatalf("probe should run after reset timeout, got %v", err)
	}
	if got := b.State(); got != string(StateClosed) {
		t.Fatalf("expected closed after successful probe, got %s", got)
	}
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	clk := newFakeClock()
	b := NewBreaker("test", 1, time.Minute, WithClock(clk))

	_ = b.Execute(failing)
	clk.Advance(61 * time.Second)

	if err := b.Execute(failing); !errors.Is(err, errBoom) {
		t.Fatalf("expected probe failure to surface, got %v", err)
	}
	if got := b.State(); got != string(StateOpen) {
		t.Fatalf("expected open after failed probe, got %s", got)
	}

	// Still rejecting before the next reset window.
	if err := b.Execute(healthy); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("test", 2, time.Minute, WithClock(newFakeClock()))

	_ = b.Execute(failing)
	_ = b.Execute(healthy)
	_ = b.Execute(failing)

	if got := b.State(); got != string(StateClosed) {
		t.Fatalf("interleaved success should reset the count, got %s", got)
	}
}

func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker("test", 0, 0)
	if b.threshold != 5 {
		t.Errorf("expected default threshold 5, got %d", b.threshold)
	}
	if b.resetTimeout != 30*time.Second {
		t.Errorf("expected default reset timeout 30s, got %s", b.resetTimeout)
	}
	if got := b.State(); got != string(StateClosed) {
		t.Errorf("new breaker should start closed, got %s", got)
	}
}
