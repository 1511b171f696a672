// SPDX-License-Identifier: MIT

package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Cache key namespaces. Invalidation deletes whole namespaces by pattern, so
// every key builder has a matching pattern builder.
const (
	nsContactBookings = "bookings:contact"
	nsSession         = "session"
	nsSessionsList    = "sessions:list"
	nsAggregates      = "sessions:aggregates"
)

// FilterHash condenses an arbitrary filter set into the first 16 hex chars of
// its canonical JSON digest. Go maps marshal with sorted keys, so identical
// filters always hash identically.
func FilterHash(filters any) string {
	payload, _ := json.Marshal(filters)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16]
}

// ContactBookingsKey keys one page of a contact's booking list.
func ContactBookingsKey(contactID, filter string, page, limit int) string {
	return fmt.Sprintf("%s:%s:%s:page%d:limit%d", nsContactBookings, contactID, filter, page, limit)
}

// ContactBookingsPattern matches every cached page for the contact.
func ContactBookingsPattern(contactID string) string {
	return fmt.Sprintf("%s:%s:*", nsContactBookings, contactID)
}

// SessionBookingsKey keys the booking list of one session.
func SessionBookingsKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:bookings", nsSession, sessionID)
}

// SessionDetailKey keys one session's detail record.
func SessionDetailKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:detail", nsSession, sessionID)
}

// SessionPattern matches everything cached under one session.
func SessionPattern(sessionID string) string {
	return fmt.Sprintf("%s:%s:*", nsSession, sessionID)
}

// SessionsListKey keys one filtered session listing.
func SessionsListKey(hash string) string {
	return fmt.Sprintf("%s:%s", nsSessionsList, hash)
}

// SessionsListPattern matches every cached session listing.
func SessionsListPattern() string {
	return nsSessionsList + ":*"
}

// AggregatesKey keys one filtered aggregates rollup.
func AggregatesKey(hash string) string {
	return fmt.Sprintf("%s:%s", nsAggregates, hash)
}

// AggregatesPattern matches every cached aggregates rollup.
func AggregatesPattern() string {
	return nsAggregates + ":*"
}
