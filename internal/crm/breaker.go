// SPDX-License-Identifier: MIT

package crm

import (
	"errors"
	"sync"
	"time"

	"github.com/prepstack/bookd/internal/metrics"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrCircuitOpen is returned when calls are rejected without reaching the CRM.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Breaker trips after consecutive CRM outages so a struggling upstream is
// not hammered with doomed retry storms. Business failures such as 404s
// never count against it; only outage-class errors do.
type Breaker struct {
	mu           sync.Mutex
	name         string // component name for metrics
	state        State
	failures     int
	threshold    int
	resetTimeout time.Duration
	openedAt     time.Time
	clock        clock
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithClock injects a fake clock for tests.
func WithClock(c clock) BreakerOption {
	return func(b *Breaker) { b.clock = c }
}

// NewBreaker creates a circuit breaker named for metrics.
func NewBreaker(name string, threshold int, resetTimeout time.Duration, opts ...BreakerOption) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	b := &Breaker{
		name:         name,
		state:        StateClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		clock:        realClock{},
	}

	for _, opt := range opts {
		opt(b)
	}

	metrics.SetCircuitBreakerState(b.name, string(b.state))
	return b
}

// Execute runs fn respecting the breaker state. A non-nil return from fn
// counts as one failure, a nil return resets the failure count.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	if err := fn(); err != nil {
		b.recordFailure()
		return err
	}

	b.recordSuccess()
	return nil
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		return true
	}

	if b.state == StateOpen {
		if b.clock.Now().Sub(b.openedAt) > b.resetTimeout {
			b.transitionTo(StateHalfOpen)
			return true
		}
		return false
	}

	// StateHalfOpen: let the probe through.
	return true
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++

	if b.state == StateHalfOpen {
		// Failed probe
		metrics.RecordCircuitBreakerTrip(b.name, "half_open_failure")
		b.transitionTo(StateOpen)
		return
	}

	if b.state == StateClosed && b.failures >= b.threshold {
		metrics.RecordCircuitBreakerTrip(b.name, "threshold_exceeded")
		b.transitionTo(StateOpen)
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != StateClosed {
		b.transitionTo(StateClosed)
	}
}

// transitionTo handles state transitions and updates metrics.
// Caller must hold the lock.
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}
	b.state = newState
	if newState == StateOpen {
		b.openedAt = b.clock.Now()
	}
	metrics.SetCircuitBreakerState(b.name, string(newState))
}

// State returns the current state.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.state)
}
