// SPDX-License-Identifier: MIT

package locks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prepstack/bookd/internal/metrics"
)

type lockState struct {
	token string
	exp   time.Time
}

// MemoryManager implements Manager in-process. Suitable for single-instance
// deployments and tests; the locks do not hold across processes.
type MemoryManager struct {
	mu    sync.Mutex
	locks map[string]lockState
	now   func() time.Time
}

// NewMemoryManager returns an empty in-process lock table.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		locks: make(map[string]lockState),
		now:   time.Now,
	}
}

func (m *MemoryManager) tryAcquire(key, token string, ttl time.Duration) bool {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	st, held := m.locks[key]
	if held && now.After(st.exp) {
		delete(m.locks, key)
		held = false
	}
	if held {
		return false
	}
	m.locks[key] = lockState{token: token, exp: now.Add(ttl)}
	return true
}

// Acquire implements Manager.
func (m *MemoryManager) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	for attempt := 1; attempt <= acquireAttempts; attempt++ {
		if m.tryAcquire(key, token, ttl) {
			metrics.RecordLockAcquire("acquired")
			return token, nil
		}
		if attempt < acquireAttempts {
			if err := sleepCtx(ctx, acquireBackoff); err != nil {
				metrics.RecordLockAcquire("canceled")
				return "", err
			}
		}
	}
	metrics.RecordLockAcquire("contended")
	return "", ErrNotAcquired
}

// Release implements Manager. Only the holding token deletes the entry.
func (m *MemoryManager) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.locks[key]; ok && st.token == token {
		delete(m.locks, key)
	}
	return nil
}
