// SPDX-License-Identifier: MIT

// Package locks provides TTL-bounded exclusive locks keyed per session and
// per contact. Holders receive a random owner token and may release only with
// that token, so a lapsed holder cannot free a lock someone else re-acquired.
package locks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotAcquired is returned when the key stays held by another owner past
// the bounded wait. Callers surface this as LOCK_ACQUISITION_FAILED and retry
// the request end-to-end.
var ErrNotAcquired = errors.New("lock not acquired")

const (
	// acquireAttempts bounds the in-call wait; there is no queue.
	acquireAttempts = 3
	acquireBackoff  = 150 * time.Millisecond
)

// Manager hands out exclusive TTL locks.
type Manager interface {
	// Acquire obtains the key for ttl and returns the owner token.
	// It retries a few times over a short bounded interval, then fails
	// with ErrNotAcquired.
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Release frees the key if token still owns it. Releasing a lock lost
	// to TTL expiry is a no-op, not an error.
	Release(ctx context.Context, key, token string) error
}

// SessionKey names the lock serializing all booking work on one session.
// Locks live in their own namespace so cache pattern deletes never touch them.
func SessionKey(sessionID string) string {
	return fmt.Sprintf("lock:session:%s", sessionID)
}

// ContactKey names the lock serializing credit work on one contact.
func ContactKey(contactID string) string {
	return fmt.Sprintf("lock:contact:%s", contactID)
}

// sleepCtx waits d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
