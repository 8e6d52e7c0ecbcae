// Package identity issues and validates durable visitor identifiers.
//
// Identifiers are generated client side on first contact and are untrusted
// thereafter. A candidate that is well formed is kept as is; anything else is
// replaced by a freshly minted random UUID. The caller is never rejected.
package identity

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MaxLength bounds accepted candidate identifiers
const MaxLength = 64

// Accepts UUIDs as well as shorter client tokens such as base36 session ids.
// Only unreserved URL characters, so ids embed in a path segment unescaped.
var wellFormed = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Valid reports whether candidate can be used as a visitor id
func Valid(candidate string) bool {
	if candidate == "" || len(candidate) > MaxLength {
		return false
	}
	return wellFormed.MatchString(candidate)
}

// New mints a fresh identifier (UUIDv4, 122 random bits)
func New() string {
	return uuid.NewString()
}

// EnsureIdentity returns candidate when it is well formed, normalising UUIDs
// to their canonical lower-case form, and a new identifier otherwise.
func EnsureIdentity(candidate string) string {
	candidate = strings.TrimSpace(candidate)
	if !Valid(candidate) {
		return New()
	}
	if len(candidate) == 36 {
		if u, err := uuid.Parse(candidate); err == nil {
			return u.String()
		}
	}
	return candidate
}
