// SPDX-License-Identifier: MIT

package domain

import (
	"encoding/json"
	"fmt"
)

// CreditField names a credit pool on a contact. The values are the verbatim
// CRM property names so refunds always reverse the pool that was consumed.
type CreditField string

const (
	CreditSJ             CreditField = "sj"
	CreditCS             CreditField = "cs"
	CreditSJMini         CreditField = "sjmini"
	CreditMockDiscussion CreditField = "mock_discussion"
	CreditShared         CreditField = "shared"
)

// MaxCreditValue bounds restore operations; balances above this are rejected
// as input errors.
const MaxCreditValue = 9999

// String implements fmt.Stringer.
func (f CreditField) String() string {
	return string(f)
}

// IsValid checks whether the credit field is defined.
func (f CreditField) IsValid() bool {
	switch f {
	case CreditSJ, CreditCS, CreditSJMini, CreditMockDiscussion, CreditShared:
		return true
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (f CreditField) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(f))
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *CreditField) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	cf := CreditField(str)
	if !cf.IsValid() {
		return fmt.Errorf("invalid credit field: %q", str)
	}
	*f = cf
	return nil
}

// ParseCreditField parses a string into a CreditField.
func ParseCreditField(s string) (CreditField, error) {
	cf := CreditField(s)
	if !cf.IsValid() {
		return "", fmt.Errorf("invalid credit field: %q", s)
	}
	return cf, nil
}

// AllCreditFields returns all defined credit fields.
func AllCreditFields() []CreditField {
	return []CreditField{CreditSJ, CreditCS, CreditSJMini, CreditMockDiscussion, CreditShared}
}

// CreditBalance is a contact's credit record. All fields are non-negative.
type CreditBalance struct {
	SJ             int `json:"sj"`
	CS             int `json:"cs"`
	SJMini         int `json:"sjmini"`
	MockDiscussion int `json:"mock_discussion"`
	Shared         int `json:"shared"`
}

// Get returns the balance of the named pool.
func (b CreditBalance) Get(f CreditField) int {
	switch f {
	case CreditSJ:
		return b.SJ
	case CreditCS:
		return b.CS
	case CreditSJMini:
		return b.SJMini
	case CreditMockDiscussion:
		return b.MockDiscussion
	case CreditShared:
		return b.Shared
	default:
		return 0
	}
}

// Set overwrites the balance of the named pool.
func (b *CreditBalance) Set(f CreditField, v int) {
	switch f {
	case CreditSJ:
		b.SJ = v
	case CreditCS:
		b.CS = v
	case CreditSJMini:
		b.SJMini = v
	case CreditMockDiscussion:
		b.MockDiscussion = v
	case CreditShared:
		b.Shared = v
	}
}

// Validate rejects negative or absurd balances.
func (b CreditBalance) Validate() error {
	for _, f := range AllCreditFields() {
		v := b.Get(f)
		if v < 0 {
			return fmt.Errorf("credit field %s is negative: %d", f, v)
		}
		if v > MaxCreditValue {
			return fmt.Errorf("credit field %s exceeds %d: %d", f, MaxCreditValue, v)
		}
	}
	return nil
}
