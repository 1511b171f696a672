// SPDX-License-Identifier: MIT

// Package auth validates the bearer token that guards mutating API calls.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ExtractToken pulls the API token from the request, preferring the
// Authorization header. X-API-Token is kept for callers that cannot set
// Authorization.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if t := r.Header.Get("X-API-Token"); t != "" {
		return t
	}
	return ""
}

// AuthorizeToken reports whether got matches expected using a constant-time
// comparison. Empty tokens never authorize.
func AuthorizeToken(got, expected string) bool {
	if strings.TrimSpace(expected) == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// AuthorizeRequest extracts a token from r and validates it against expected.
func AuthorizeRequest(r *http.Request, expected string) bool {
	if r == nil {
		return false
	}
	return AuthorizeToken(ExtractToken(r), expected)
}
