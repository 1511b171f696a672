// SPDX-License-Identifier: MIT

// Package ident derives the deterministic identifiers the engine keys on:
// human-meaningful booking ids, idempotency fingerprints, and cache keys.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prepstack/bookd/internal/domain"
)

// IdempotencyPrefix marks engine-derived idempotency keys.
const IdempotencyPrefix = "idem_"

// SanitizeName normalizes a student name for booking-id derivation: strip
// anything outside letters, apostrophes, hyphens and spaces, collapse runs of
// whitespace, and title-case the words.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '\'', r == '-', r == ' ':
			b.WriteRune(r)
		}
	}
	words := strings.Fields(b.String())
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// BookingID derives the duplicate-detection identifier:
// "{mock_type}-{sanitized_name} - {Month D, YYYY}". Cancelled homonyms are
// ignored by the duplicate check, so the id does not need a discriminator.
func BookingID(mockType domain.MockType, name, examDate string) (string, error) {
	d, err := domain.ParseExamDate(examDate)
	if err != nil {
		return "", err
	}
	sanitized := SanitizeName(name)
	if sanitized == "" {
		return "", fmt.Errorf("name %q sanitizes to nothing", name)
	}
	return fmt.Sprintf("%s-%s - %s", mockType, sanitized, d.Format("January 2, 2006")), nil
}

// Fingerprint is the payload an idempotency key is derived from. Fields are
// declared in lexicographic order so the JSON encoding is canonical.
type Fingerprint struct {
	Bucket           int64           `json:"bucket"`
	ContactID        string          `json:"contact_id"`
	ExamDate         string          `json:"exam_date"`
	MockType         domain.MockType `json:"mock_type"`
	RetryAfterCancel bool            `json:"retry_after_cancel,omitempty"`
	SessionID        string          `json:"session_id"`
}

// Bucket computes the idempotency time bucket for now.
func Bucket(now time.Time, width time.Duration) int64 {
	return now.UnixMilli() / width.Milliseconds()
}

// IdempotencyKey derives "idem_" + the first 32 hex chars of SHA-256 over the
// canonical fingerprint JSON.
func IdempotencyKey(fp Fingerprint) string {
	payload, _ := json.Marshal(fp)
	sum := sha256.Sum256(payload)
	return IdempotencyPrefix + hex.EncodeToString(sum[:])[:32]
}

// NewKey derives the idempotency key for a create attempt at now.
func NewKey(contactID, sessionID, examDate string, mockType domain.MockType, now time.Time, bucket time.Duration) string {
	return IdempotencyKey(Fingerprint{
		Bucket:    Bucket(now, bucket),
		ContactID: contactID,
		ExamDate:  examDate,
		MockType:  mockType,
		SessionID: sessionID,
	})
}

// RetryKey derives the replacement key used when the prior booking under the
// plain key turned out cancelled or failed: the bucket advances by one and a
// retry discriminator enters the fingerprint, so a fresh booking is possible
// inside the same wall-clock bucket.
func RetryKey(contactID, sessionID, examDate string, mockType domain.MockType, now time.Time, bucket time.Duration) string {
	return IdempotencyKey(Fingerprint{
		Bucket:           Bucket(now, bucket) + 1,
		ContactID:        contactID,
		ExamDate:         examDate,
		MockType:         mockType,
		RetryAfterCancel: true,
		SessionID:        sessionID,
	})
}
