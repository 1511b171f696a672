// SPDX-License-Identifier: MIT

package ident

import (
	"strings"
	"testing"
	"time"

	"github.com/prepstack/bookd/internal/domain"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Jane Doe", "Jane Doe"},
		{"extra whitespace", "  jane   doe ", "Jane Doe"},
		{"digits and symbols stripped", "Jane_Doe 3rd <script>", "Janedoe Rd Script"},
		{"apostrophe kept", "o'brien", "O'brien"},
		{"hyphen kept", "smith-jones", "Smith-jones"},
		{"unicode stripped", "Ana María", "Ana Mara"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeName(tt.in); got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBookingID(t *testing.T) {
	got, err := BookingID(domain.MockTypeSituationalJudgment, "jane doe", "2026-10-15")
	if err != nil {
		t.Fatalf("BookingID: %v", err)
	}
	want := "Situational Judgment-Jane Doe - October 15, 2026"
	if got != want {
		t.Errorf("BookingID = %q, want %q", got, want)
	}

	// Day without leading zero.
	got, err = BookingID(domain.MockTypeMiniMock, "Bob Ng", "2026-03-05")
	if err != nil {
		t.Fatalf("BookingID: %v", err)
	}
	if !strings.HasSuffix(got, "March 5, 2026") {
		t.Errorf("day must not carry a leading zero: %q", got)
	}

	if _, err := BookingID(domain.MockTypeMiniMock, "Bob", "15-10-2026"); err == nil {
		t.Error("malformed exam date must be rejected")
	}
	if _, err := BookingID(domain.MockTypeMiniMock, "123 456", "2026-10-15"); err == nil {
		t.Error("name that sanitizes to nothing must be rejected")
	}
}

func TestIdempotencyKeyShape(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	key := NewKey("c1", "s1", "2026-10-15", domain.MockTypeClinicalSkills, now, 5*time.Minute)

	if !strings.HasPrefix(key, "idem_") {
		t.Errorf("key %q must carry the idem_ prefix", key)
	}
	if len(key) != len("idem_")+32 {
		t.Errorf("key %q must be prefix + 32 hex chars", key)
	}
	for _, r := range key[len("idem_"):] {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Errorf("non-hex rune %q in key %q", r, key)
		}
	}
}

func TestIdempotencyKeyStableWithinBucket(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	bucket := 5 * time.Minute

	k1 := NewKey("c1", "s1", "2026-10-15", domain.MockTypeSituationalJudgment, base, bucket)
	k2 := NewKey("c1", "s1", "2026-10-15", domain.MockTypeSituationalJudgment, base.Add(4*time.Minute), bucket)
	if k1 != k2 {
		t.Error("keys inside one bucket must collide")
	}

	k3 := NewKey("c1", "s1", "2026-10-15", domain.MockTypeSituationalJudgment, base.Add(6*time.Minute), bucket)
	if k1 == k3 {
		t.Error("keys across buckets must differ")
	}
}

func TestIdempotencyKeySensitivity(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	bucket := 5 * time.Minute
	base := NewKey("c1", "s1", "2026-10-15", domain.MockTypeSituationalJudgment, now, bucket)

	if base == NewKey("c2", "s1", "2026-10-15", domain.MockTypeSituationalJudgment, now, bucket) {
		t.Error("contact id must enter the fingerprint")
	}
	if base == NewKey("c1", "s2", "2026-10-15", domain.MockTypeSituationalJudgment, now, bucket) {
		t.Error("session id must enter the fingerprint")
	}
	if base == NewKey("c1", "s1", "2026-10-16", domain.MockTypeSituationalJudgment, now, bucket) {
		t.Error("exam date must enter the fingerprint")
	}
	if base == NewKey("c1", "s1", "2026-10-15", domain.MockTypeClinicalSkills, now, bucket) {
		t.Error("mock type must enter the fingerprint")
	}
}

func TestRetryKeyDiffersInsideSameBucket(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	bucket := 5 * time.Minute

	plain := NewKey("c1", "s1", "2026-10-15", domain.MockTypeMiniMock, now, bucket)
	retry := RetryKey("c1", "s1", "2026-10-15", domain.MockTypeMiniMock, now, bucket)
	if plain == retry {
		t.Error("retry key must differ from the plain key in the same bucket")
	}

	// The retry key must also not collide with the plain key of the next
	// bucket, because the discriminator enters the fingerprint.
	next := NewKey("c1", "s1", "2026-10-15", domain.MockTypeMiniMock, now.Add(bucket), bucket)
	if retry == next {
		t.Error("retry key must differ from the next bucket's plain key")
	}
}

func TestCacheKeys(t *testing.T) {
	if got := ContactBookingsKey("c9", "upcoming", 2, 20); got != "bookings:contact:c9:upcoming:page2:limit20" {
		t.Errorf("ContactBookingsKey = %q", got)
	}
	if got := ContactBookingsPattern("c9"); got != "bookings:contact:c9:*" {
		t.Errorf("ContactBookingsPattern = %q", got)
	}
	if got := SessionBookingsKey("s3"); got != "session:s3:bookings" {
		t.Errorf("SessionBookingsKey = %q", got)
	}
	if got := SessionPattern("s3"); got != "session:s3:*" {
		t.Errorf("SessionPattern = %q", got)
	}
	if got := SessionsListPattern(); got != "sessions:list:*" {
		t.Errorf("SessionsListPattern = %q", got)
	}
	if got := AggregatesPattern(); got != "sessions:aggregates:*" {
		t.Errorf("AggregatesPattern = %q", got)
	}
}

func TestFilterHashDeterminism(t *testing.T) {
	a := map[string]any{"location": "Toronto", "status": "active"}
	b := map[string]any{"status": "active", "location": "Toronto"}
	if FilterHash(a) != FilterHash(b) {
		t.Error("map key order must not change the hash")
	}
	if len(FilterHash(a)) != 16 {
		t.Errorf("hash length = %d, want 16", len(FilterHash(a)))
	}
	c := map[string]any{"location": "Montreal", "status": "active"}
	if FilterHash(a) == FilterHash(c) {
		t.Error("different filters must hash differently")
	}
}
