// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldBookingID     = "booking_id"
	FieldBookingUUID   = "booking_uuid"
	FieldContactID     = "contact_id"
	FieldSessionID     = "session_id"
	FieldStudentID     = "student_id"
	FieldCRMID         = "crm_id"
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldJobID         = "job_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldOperation = "operation"

	// Coordination fields
	FieldLockKey        = "lock_key"
	FieldLockToken      = "lock_token"
	FieldIdempotencyKey = "idempotency_key"
	FieldCreditField    = "credit_field"
	FieldCounter        = "total_bookings"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Session fields
	FieldMockType = "mock_type"
	FieldExamDate = "exam_date"
	FieldCapacity = "capacity"

	// Cache fields
	FieldCacheKey     = "cache_key"
	FieldCachePattern = "cache_pattern"
)
