// SPDX-License-Identifier: MIT

// Package activator flips scheduled sessions to active once their activation
// time arrives. It is a single background loop: each tick pulls due sessions
// from the fast store and hands them to the session store in batches.
// Sessions that fail to flip stay scheduled and come due again next tick, so
// a tick is always safe to repeat.
package activator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/prepstack/bookd/internal/domain"
	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/metrics"
)

const (
	defaultTick  = time.Minute
	defaultLimit = 500
)

// Store finds sessions whose activation time has passed.
type Store interface {
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Session, error)
}

// Sessions performs the batched state flip. *sessions.Service satisfies it.
type Sessions interface {
	ActivateBatch(ctx context.Context, ids []string) ([]string, error)
}

// clock abstracts time for tests.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Worker is the activation loop.
type Worker struct {
	store    Store
	sessions Sessions
	tick     time.Duration
	limit    int
	clock    clock
	rnd      *rand.Rand
	log      zerolog.Logger
}

// Option tunes a Worker.
type Option func(*Worker)

// WithTick overrides the loop interval.
func WithTick(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.tick = d
		}
	}
}

// WithLimit caps how many due sessions one tick pulls.
func WithLimit(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.limit = n
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(c clock) Option {
	return func(w *Worker) { w.clock = c }
}

// New wires the activation worker.
func New(store Store, sessions Sessions, opts ...Option) *Worker {
	w := &Worker{
		store:    store,
		sessions: sessions,
		tick:     defaultTick,
		limit:    defaultLimit,
		clock:    realClock{},
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		log:      log.WithComponent("activator"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run loops until the context ends. Ticks are jittered so multiple instances
// sharing a CRM do not fire in lockstep.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Dur("tick", w.tick).Msg("activation worker started")

	timer := time.NewTimer(w.jittered())
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			w.runOnce(ctx)
			timer.Reset(w.jittered())
		case <-ctx.Done():
			w.log.Info().Msg("activation worker stopped")
			return ctx.Err()
		}
	}
}

// runOnce processes one tick.
func (w *Worker) runOnce(ctx context.Context) {
	metrics.IncActivationTick()

	sum, err := w.ActivateDue(ctx)
	if err != nil {
		if sum.Total == 0 {
			w.log.Error().Err(err).Msg("due-session query failed")
			return
		}
		w.log.Warn().
			Err(err).
			Int("due", sum.Total).
			Int("activated", sum.Activated).
			Msg("activation incomplete, remainder retries next tick")
	}
}

// Summary counts one activation sweep.
type Summary struct {
	Activated int `json:"activated"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// ActivateDue flips every scheduled session whose activation time has
// arrived. The loop and the manual HTTP trigger share this path; a partial
// failure returns the counts alongside the joined error so the leftovers can
// be retried.
func (w *Worker) ActivateDue(ctx context.Context) (Summary, error) {
	now := w.clock.Now().UTC()
	due, err := w.store.DueScheduled(ctx, now, w.limit)
	if err != nil {
		return Summary{}, fmt.Errorf("due sessions: %w", err)
	}
	if len(due) == 0 {
		return Summary{}, nil
	}

	ids := make([]string, 0, len(due))
	for _, s := range due {
		ids = append(ids, s.UUID)
	}

	activated, err := w.sessions.ActivateBatch(ctx, ids)
	sum := Summary{
		Activated: len(activated),
		Failed:    len(ids) - len(activated),
		Total:     len(ids),
	}
	if len(activated) > 0 {
		w.log.Info().
			Int("activated", sum.Activated).
			Int("failed", sum.Failed).
			Time("due_at", now).
			Msg("sessions activated")
	}
	return sum, err
}

func (w *Worker) jittered() time.Duration {
	jitter := time.Duration(w.rnd.Int63n(int64(w.tick/5 + 1)))
	return w.tick - w.tick/10 + jitter
}
