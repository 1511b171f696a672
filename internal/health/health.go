// SPDX-License-Identifier: MIT

// Package health serves liveness and readiness probes. Liveness only proves
// the process is running; readiness pings every registered dependency so
// traffic arrives only after the fast store, the lock backend, and the CRM
// all answer.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prepstack/bookd/internal/log"
)

// checkTimeout bounds a single dependency ping so one stuck backend cannot
// stall the whole probe.
const checkTimeout = 2 * time.Second

// Status grades a component check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one component's verdict.
type CheckResult struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Checker answers one dependency's readiness question.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// PingChecker adapts a ping function into a Checker. Optional dependencies
// grade a failure as degraded instead of unhealthy, so readiness survives
// the loss of backends the engine can serve without.
type PingChecker struct {
	name     string
	optional bool
	ping     func(ctx context.Context) error
}

// NewPingChecker builds a required dependency check.
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

// NewOptionalChecker builds a check whose failure degrades readiness without
// failing it.
func NewOptionalChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, optional: true, ping: ping}
}

// Name identifies the dependency in probe output.
func (c *PingChecker) Name() string { return c.name }

// Check pings the dependency under a bounded deadline.
func (c *PingChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := c.ping(ctx); err != nil {
		status := StatusUnhealthy
		if c.optional {
			status = StatusDegraded
		}
		return CheckResult{Status: status, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse is the readiness payload with per-dependency detail.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Manager runs the registered checks and serves the probe endpoints.
type Manager struct {
	version  string
	checkers []Checker
}

// NewManager builds an empty manager stamped with the build version.
func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// Register adds a dependency check.
func (m *Manager) Register(c Checker) {
	m.checkers = append(m.checkers, c)
}

// Health reports liveness. Dependencies are never pinged here: a CRM outage
// must not get the process restarted.
func (m *Manager) Health() HealthResponse {
	return HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	}
}

// Ready runs every registered check. One unhealthy required dependency fails
// readiness; degraded dependencies are reported but do not.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{
		Ready:     true,
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
	}
	if len(m.checkers) == 0 {
		return resp
	}

	resp.Checks = make(map[string]CheckResult, len(m.checkers))
	for _, c := range m.checkers {
		result := c.Check(ctx)
		resp.Checks[c.Name()] = result

		switch result.Status {
		case StatusUnhealthy:
			resp.Ready = false
			resp.Status = StatusUnhealthy
		case StatusDegraded:
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		}
	}
	return resp
}

// ServeHealth handles the liveness probe. Always 200 while the process runs.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	resp := m.Health()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.FromContext(r.Context()).Error().Err(err).Msg("health response encode failed")
	}
}

// ServeReady handles the readiness probe: 200 when ready, 503 otherwise.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.FromContext(r.Context()).Error().Err(err).Msg("readiness response encode failed")
	}

	if !resp.Ready {
		log.WithComponentFromContext(r.Context(), "health").Warn().
			Interface("checks", resp.Checks).
			Msg("readiness probe failed")
	}
}
