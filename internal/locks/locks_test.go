// SPDX-License-Identifier: MIT

package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedisManager(t *testing.T) (*miniredis.Miniredis, *RedisManager) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewRedisManager(client)
}

func TestKeyNamespaces(t *testing.T) {
	if got := SessionKey("901"); got != "lock:session:901" {
		t.Errorf("SessionKey = %q", got)
	}
	if got := ContactKey("42"); got != "lock:contact:42" {
		t.Errorf("ContactKey = %q", got)
	}
}

func TestRedisAcquireRelease(t *testing.T) {
	_, m := setupRedisManager(t)
	ctx := context.Background()

	token, err := m.Acquire(ctx, SessionKey("s1"), 15*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if token == "" {
		t.Fatal("token must not be empty")
	}

	// Held key fails for a second acquirer within the bounded wait.
	if _, err := m.Acquire(ctx, SessionKey("s1"), 15*time.Second); err != ErrNotAcquired {
		t.Fatalf("second acquire error = %v, want ErrNotAcquired", err)
	}

	if err := m.Release(ctx, SessionKey("s1"), token); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Free again.
	if _, err := m.Acquire(ctx, SessionKey("s1"), 15*time.Second); err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
}

func TestRedisReleaseRequiresOwnership(t *testing.T) {
	mr, m := setupRedisManager(t)
	ctx := context.Background()

	token, err := m.Acquire(ctx, SessionKey("s1"), 15*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// A stranger's token must not free the lock.
	if err := m.Release(ctx, SessionKey("s1"), "not-the-token"); err != nil {
		t.Fatalf("foreign release errored: %v", err)
	}
	if !mr.Exists(SessionKey("s1")) {
		t.Fatal("foreign token must not delete the lock")
	}

	if err := m.Release(ctx, SessionKey("s1"), token); err != nil {
		t.Fatalf("owner release: %v", err)
	}
	if mr.Exists(SessionKey("s1")) {
		t.Fatal("owner release must delete the lock")
	}
}

func TestRedisLockExpiresByTTL(t *testing.T) {
	mr, m := setupRedisManager(t)
	ctx := context.Background()

	oldToken, err := m.Acquire(ctx, SessionKey("s1"), 10*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	mr.FastForward(11 * time.Second)

	newToken, err := m.Acquire(ctx, SessionKey("s1"), 10*time.Second)
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}

	// The lapsed holder's release must not free the new holder's lock.
	if err := m.Release(ctx, SessionKey("s1"), oldToken); err != nil {
		t.Fatalf("stale release errored: %v", err)
	}
	if !mr.Exists(SessionKey("s1")) {
		t.Fatal("stale token released the new holder's lock")
	}
	_ = newToken
}

func TestMemoryAcquireRelease(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()

	token, err := m.Acquire(ctx, ContactKey("c1"), 10*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := m.Acquire(ctx, ContactKey("c1"), 10*time.Second); err != ErrNotAcquired {
		t.Fatalf("second acquire error = %v, want ErrNotAcquired", err)
	}

	// Wrong token: no-op.
	if err := m.Release(ctx, ContactKey("c1"), "bogus"); err != nil {
		t.Fatalf("foreign release errored: %v", err)
	}
	if _, err := m.Acquire(ctx, ContactKey("c1"), 10*time.Second); err != ErrNotAcquired {
		t.Fatal("foreign token must not free the lock")
	}

	if err := m.Release(ctx, ContactKey("c1"), token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := m.Acquire(ctx, ContactKey("c1"), 10*time.Second); err != nil {
		t.Fatalf("reacquire: %v", err)
	}
}

func TestMemoryLockExpiry(t *testing.T) {
	m := NewMemoryManager()
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := m.Acquire(ctx, SessionKey("s1"), 10*time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	now = now.Add(11 * time.Second)
	if _, err := m.Acquire(ctx, SessionKey("s1"), 10*time.Second); err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
}

func TestMemoryConcurrentAcquireSingleWinner(t *testing.T) {
	m := NewMemoryManager()

	const goroutines = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	// One-shot contexts so losers do not wait out the backoff.
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			if _, err := m.Acquire(ctx, SessionKey("hot"), 10*time.Second); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, SessionKey("s1"), 10*time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := m.Acquire(canceled, SessionKey("s1"), 10*time.Second); err != context.Canceled {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
