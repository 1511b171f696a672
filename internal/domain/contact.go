// SPDX-License-Identifier: MIT

package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var studentIDPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// Contact is a student as the engine sees them. The CRM owns the record; the
// fast store holds a projection keyed on UUID.
type Contact struct {
	UUID      string        `json:"uuid"`
	CRMID     string        `json:"hubspot_id"`
	StudentID string        `json:"student_id"`
	Email     string        `json:"email"`
	FirstName string        `json:"first_name"`
	LastName  string        `json:"last_name"`
	Credits   CreditBalance `json:"credits"`

	// Extra carries CRM properties the engine does not model. They are
	// round-tripped untouched on every write.
	Extra map[string]string `json:"extra,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	SyncedAt  time.Time `json:"synced_at"`
}

// FullName joins the name parts for booking-id derivation.
func (c Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Validate enforces the contact invariants.
func (c Contact) Validate() error {
	if c.StudentID == "" || !studentIDPattern.MatchString(c.StudentID) {
		return fmt.Errorf("student_id must match ^[A-Z0-9]+$, got %q", c.StudentID)
	}
	if !strings.Contains(c.Email, "@") {
		return fmt.Errorf("email %q is not an address", c.Email)
	}
	return c.Credits.Validate()
}

// NormalizeEmail lower-cases an address for the case-insensitive uniqueness
// rule.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
