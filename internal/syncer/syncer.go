// SPDX-License-Identifier: MIT

// Package syncer runs the fire-and-forget half of every command: fast-store
// projections and cache invalidations that must not block or fail the caller.
// Tasks carry their own state, so the queue never dedupes; a newer projection
// must not be dropped in favor of an older one.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prepstack/bookd/internal/log"
	"github.com/prepstack/bookd/internal/metrics"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256

	// taskTimeout bounds a single projection; a hung CRM or store must not
	// pin a worker forever.
	taskTimeout = 10 * time.Second

	// drainTimeout bounds how long Stop waits for queued tasks before
	// aborting the stragglers.
	drainTimeout = 15 * time.Second
)

// Task is one unit of deferred work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool is a bounded worker pool. When the queue is full, Submit drops the
// task and reports it; callers treat projections as best-effort and the
// reconciler repairs whatever was dropped.
type Pool struct {
	tasks   chan Task
	workers int

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	wg       sync.WaitGroup
	once     sync.Once
	stopOnce sync.Once
	log      zerolog.Logger
}

// New sizes the pool. Zero values select the defaults.
func New(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		tasks:   make(chan Task, queueSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		log:     log.WithComponent("syncer"),
	}
}

// Start launches the workers. Safe to call more than once.
func (p *Pool) Start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				for t := range p.tasks {
					p.run(t)
				}
			}()
		}
		p.log.Info().
			Int("workers", p.workers).
			Int("queue_size", cap(p.tasks)).
			Msg("sync pool started")
	})
}

// Stop closes the queue and drains it, aborting stragglers after a bounded
// wait. Submit returns false afterwards.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(drainTimeout):
			p.cancel()
			<-done
		}
		p.cancel()
		metrics.SetSyncQueueDepth(0)
	})
}

// Submit queues a task. It never blocks: a full queue drops the task, and a
// stopped pool rejects it.
func (p *Pool) Submit(t Task) bool {
	if t.Run == nil {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case p.tasks <- t:
		metrics.SetSyncQueueDepth(len(p.tasks))
		return true
	default:
		metrics.RecordSyncTask("dropped")
		p.log.Warn().
			Str("task", t.Name).
			Msg("sync queue full, task dropped")
		return false
	}
}

func (p *Pool) run(t Task) {
	ctx, cancel := context.WithTimeout(p.ctx, taskTimeout)
	defer cancel()

	start := time.Now()
	err := t.Run(ctx)
	metrics.SetSyncQueueDepth(len(p.tasks))
	if err != nil {
		metrics.RecordSyncTask("error")
		p.log.Warn().
			Err(err).
			Str("task", t.Name).
			Dur("elapsed", time.Since(start)).
			Msg("sync task failed")
		return
	}
	metrics.RecordSyncTask("ok")
}
