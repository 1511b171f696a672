// SPDX-License-Identifier: MIT

// Package domain defines the typed records the engine coordinates: contacts,
// sessions, bookings, and their credit accounting. CRM property bags map onto
// these structs at the client boundary; unknown properties round-trip through
// the Extra field.
package domain

import (
	"encoding/json"
	"fmt"
)

// MockType identifies the kind of mock examination a session runs.
type MockType string

const (
	MockTypeSituationalJudgment MockType = "Situational Judgment"
	MockTypeClinicalSkills      MockType = "Clinical Skills"
	MockTypeMiniMock            MockType = "Mini-mock"
	MockTypeMockDiscussion      MockType = "Mock Discussion"
)

// String implements fmt.Stringer.
func (m MockType) String() string {
	return string(m)
}

// IsValid checks whether the mock type is defined.
func (m MockType) IsValid() bool {
	switch m {
	case MockTypeSituationalJudgment, MockTypeClinicalSkills, MockTypeMiniMock, MockTypeMockDiscussion:
		return true
	default:
		return false
	}
}

// PrimaryCreditField returns the credit pool debited first for this mock type.
func (m MockType) PrimaryCreditField() CreditField {
	switch m {
	case MockTypeSituationalJudgment:
		return CreditSJ
	case MockTypeClinicalSkills:
		return CreditCS
	case MockTypeMiniMock:
		return CreditSJMini
	case MockTypeMockDiscussion:
		return CreditMockDiscussion
	default:
		return ""
	}
}

// UsesSharedPool reports whether the shared pool backs this mock type when
// the primary pool is exhausted. Mini-mock and Mock Discussion never draw
// from the shared pool.
func (m MockType) UsesSharedPool() bool {
	switch m {
	case MockTypeSituationalJudgment, MockTypeClinicalSkills:
		return true
	default:
		return false
	}
}

// RequiresDominantHand reports whether bookings of this type must carry the
// dominant-hand attribute.
func (m MockType) RequiresDominantHand() bool {
	return m == MockTypeClinicalSkills
}

// RequiresAttendingLocation reports whether bookings of this type must carry
// an attending location.
func (m MockType) RequiresAttendingLocation() bool {
	return m == MockTypeSituationalJudgment || m == MockTypeMiniMock
}

// MarshalJSON implements json.Marshaler.
func (m MockType) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(m))
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *MockType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	mt := MockType(str)
	if !mt.IsValid() {
		return fmt.Errorf("invalid mock type: %q", str)
	}
	*m = mt
	return nil
}

// ParseMockType parses a string into a MockType.
func ParseMockType(s string) (MockType, error) {
	mt := MockType(s)
	if !mt.IsValid() {
		return "", fmt.Errorf("invalid mock type: %q", s)
	}
	return mt, nil
}

// AllMockTypes returns all defined mock types.
func AllMockTypes() []MockType {
	return []MockType{
		MockTypeSituationalJudgment,
		MockTypeClinicalSkills,
		MockTypeMiniMock,
		MockTypeMockDiscussion,
	}
}
