// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys so spans stay queryable across components.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Booking command attributes
	CommandKey        = "command.name"
	CommandOutcomeKey = "command.outcome"

	// Entity attributes
	SessionIDKey = "session.id"
	ContactIDKey = "contact.id"
	BookingIDKey = "booking.id"
	MockTypeKey  = "session.mock_type"

	// Background job attributes
	JobTypeKey     = "job.type"
	JobStatusKey   = "job.status"
	JobBatchKey    = "job.batch_size"
	JobDurationKey = "job.duration_ms"

	// Error attributes
	ErrorKey     = "error"
	ErrorKindKey = "error.kind"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// CommandAttributes creates span attributes for coordinator commands.
func CommandAttributes(command, outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CommandKey, command),
		attribute.String(CommandOutcomeKey, outcome),
	}
}

// BookingAttributes creates span attributes identifying a booking attempt.
// Empty values are omitted so spans stay compact.
func BookingAttributes(sessionID, contactID, mockType string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	if contactID != "" {
		attrs = append(attrs, attribute.String(ContactIDKey, contactID))
	}
	if mockType != "" {
		attrs = append(attrs, attribute.String(MockTypeKey, mockType))
	}
	return attrs
}

// JobAttributes creates span attributes for background jobs.
func JobAttributes(jobType, status string, batchSize int, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobTypeKey, jobType),
		attribute.String(JobStatusKey, status),
		attribute.Int(JobBatchKey, batchSize),
		attribute.Int64(JobDurationKey, durationMS),
	}
}

// ErrorAttributes creates error span attributes from a classified kind.
func ErrorAttributes(kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorKindKey, kind),
	}
}
