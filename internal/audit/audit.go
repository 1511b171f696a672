// SPDX-License-Identifier: MIT

// Package audit emits a dedicated log stream for security-sensitive
// operations: auth decisions, booking and session mutations, and config
// reloads. Every line carries log_type=audit so collectors can split the
// stream from operational logs.
package audit

import (
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/prepstack/bookd/internal/log"
)

// EventType classifies an audit event.
type EventType string

const (
	// Authentication events
	EventAuthFailure EventType = "auth.failure"
	EventAuthMissing EventType = "auth.missing"

	// State-changing API calls
	EventMutation EventType = "api.mutation"

	// Configuration events
	EventConfigReload      EventType = "config.reload"
	EventConfigReloadError EventType = "config.reload.error"
)

// Event is one audit record: who did what to which resource, and how it
// turned out.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	Type       EventType         `json:"type"`
	Actor      string            `json:"actor"`  // caller id, remote address, or "system"
	Action     string            `json:"action"` // human-readable action
	Resource   string            `json:"resource"`
	Result     string            `json:"result"` // success, failure, denied
	RemoteAddr string            `json:"remote_addr,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// Logger writes audit events through the service logger.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger returns a logger whose events carry the audit marker.
func NewLogger() *Logger {
	auditLogger := log.WithComponent("audit").With().
		Str("log_type", "audit").
		Logger()

	return &Logger{logger: auditLogger}
}

// Log writes one audit event. A zero timestamp is stamped with now.
func (l *Logger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	logEvent := l.logger.Info().
		Time("timestamp", event.Timestamp).
		Str("event_type", string(event.Type)).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("resource", event.Resource).
		Str("result", event.Result)

	if event.RemoteAddr != "" {
		logEvent.Str("remote_addr", event.RemoteAddr)
	}
	if event.RequestID != "" {
		logEvent.Str("request_id", event.RequestID)
	}
	for key, value := range event.Details {
		logEvent.Str(key, value)
	}

	logEvent.Msg("audit event")
}

// AuthMissing records a mutation attempt that carried no credentials.
func (l *Logger) AuthMissing(remoteAddr, resource, requestID string) {
	l.Log(Event{
		Type:       EventAuthMissing,
		Actor:      remoteAddr,
		Action:     "mutation without credentials",
		Resource:   resource,
		Result:     "denied",
		RemoteAddr: remoteAddr,
		RequestID:  requestID,
	})
}

// AuthFailure records a rejected credential.
func (l *Logger) AuthFailure(remoteAddr, resource, reason, requestID string) {
	l.Log(Event{
		Type:       EventAuthFailure,
		Actor:      remoteAddr,
		Action:     "authentication failed",
		Resource:   resource,
		Result:     "denied",
		RemoteAddr: remoteAddr,
		RequestID:  requestID,
		Details: map[string]string{
			"reason": reason,
		},
	})
}

// Mutation records a completed state-changing API call. The resource should
// be the route pattern, not the raw path, so the resource set stays bounded.
func (l *Logger) Mutation(actor, method, resource string, status int, remoteAddr, requestID string) {
	result := "success"
	if status >= 400 {
		result = "failure"
	}

	l.Log(Event{
		Type:       EventMutation,
		Actor:      actor,
		Action:     method + " " + resource,
		Resource:   resource,
		Result:     result,
		RemoteAddr: remoteAddr,
		RequestID:  requestID,
		Details: map[string]string{
			"method":      method,
			"status_code": strconv.Itoa(status),
		},
	})
}

// ConfigReload records the outcome of a config re-read.
func (l *Logger) ConfigReload(result string, details map[string]string) {
	eventType := EventConfigReload
	if result != "success" {
		eventType = EventConfigReloadError
	}

	l.Log(Event{
		Type:     eventType,
		Actor:    "system",
		Action:   "re-read configuration",
		Resource: "config",
		Result:   result,
		Details:  details,
	})
}
