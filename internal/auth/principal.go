// SPDX-License-Identifier: MIT

package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// CallerID derives a stable, loggable identifier from a raw token so audit
// trails can correlate calls without ever recording the token itself.
func CallerID(token string) string {
	if token == "" {
		return "anonymous"
	}
	sum := sha256.Sum256([]byte(token))
	return "t_" + hex.EncodeToString(sum[:])[:16]
}
