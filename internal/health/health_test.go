// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func TestReadyAllHealthy(t *testing.T) {
	m := NewManager("test")
	m.Register(NewPingChecker("faststore", ok))
	m.Register(NewPingChecker("crm", ok))

	resp := m.Ready(context.Background())

	if !resp.Ready {
		t.Fatal("all dependencies up, want ready")
	}
	if resp.Status != StatusHealthy {
		t.Fatalf("status = %s, want healthy", resp.Status)
	}
	if len(resp.Checks) != 2 {
		t.Fatalf("checks = %v, want two entries", resp.Checks)
	}
}

func TestReadyRequiredDependencyDown(t *testing.T) {
	m := NewManager("test")
	m.Register(NewPingChecker("faststore", ok))
	m.Register(NewPingChecker("crm", down))

	resp := m.Ready(context.Background())

	if resp.Ready {
		t.Fatal("required dependency down, want not ready")
	}
	if resp.Status != StatusUnhealthy {
		t.Fatalf("status = %s, want unhealthy", resp.Status)
	}
	if resp.Checks["crm"].Error == "" {
		t.Error("failing check must carry the error text")
	}
}

func TestReadyOptionalDependencyDegrades(t *testing.T) {
	m := NewManager("test")
	m.Register(NewPingChecker("faststore", ok))
	m.Register(NewOptionalChecker("redis", down))

	resp := m.Ready(context.Background())

	if !resp.Ready {
		t.Fatal("optional dependency down must not fail readiness")
	}
	if resp.Status != StatusDegraded {
		t.Fatalf("status = %s, want degraded", resp.Status)
	}
}

func TestServeReadyStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		ping func(context.Context) error
		want int
	}{
		{"up", ok, http.StatusOK},
		{"down", down, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager("test")
			m.Register(NewPingChecker("faststore", tc.ping))

			rec := httptest.NewRecorder()
			m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			var resp ReadinessResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("body is not JSON: %v", err)
			}
			if resp.Ready != (tc.want == http.StatusOK) {
				t.Errorf("ready = %v, want %v", resp.Ready, tc.want == http.StatusOK)
			}
		})
	}
}

func TestServeHealthIgnoresDependencies(t *testing.T) {
	m := NewManager("1.2.3")
	m.Register(NewPingChecker("crm", down))

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("liveness = %d, want 200 regardless of dependencies", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", resp.Version)
	}
}

func TestPingCheckerBoundsDeadline(t *testing.T) {
	m := NewManager("test")
	m.Register(NewPingChecker("slow", func(ctx context.Context) error {
		deadline, has := ctx.Deadline()
		if !has {
			t.Error("ping context must carry a deadline")
		}
		if remaining := time.Until(deadline); remaining > checkTimeout {
			t.Errorf("deadline %v out, want at most %v", remaining, checkTimeout)
		}
		return nil
	}))

	m.Ready(context.Background())
}

func TestWaitReadyRecovers(t *testing.T) {
	var calls atomic.Int32
	m := NewManager("test")
	m.Register(NewPingChecker("faststore", func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("still starting")
		}
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.WaitReady(ctx, time.Millisecond); err != nil {
		t.Fatalf("WaitReady() = %v, want success after recovery", err)
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", calls.Load())
	}
}

func TestWaitReadyGivesUpOnContext(t *testing.T) {
	m := NewManager("test")
	m.Register(NewPingChecker("faststore", down))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.WaitReady(ctx, 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitReady() = %v, want deadline exceeded", err)
	}
}
