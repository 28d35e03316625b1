// Package key provides API key value types and pure validation
// functions for resolving the subject behind a request.
package key

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Key represents a subject's API key (immutable value type). Only the
// bcrypt hash is stored; the plaintext prefix allows candidate lookup.
type Key struct {
	ID        string
	Subject   string
	Hash      []byte // bcrypt hash of the full raw key
	Prefix    string // First 12 chars for lookup
	Name      string
	RevokedAt *time.Time // nil = not revoked
	CreatedAt time.Time
	LastUsed  *time.Time
}

// Reasons for validation failure.
const (
	ReasonNotFound  = "key_not_found"
	ReasonRevoked   = "key_revoked"
	ReasonBadFormat = "invalid_format"
)

// Generate creates a new API key with the given prefix (e.g. "ug_").
// Returns the raw key (shown to the user once) and the Key to store.
func Generate(prefix string, now time.Time) (rawKey string, k Key) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}

	rawKey = prefix + hex.EncodeToString(randomBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("bcrypt failed: %v", err))
	}

	idBytes := make([]byte, 8)
	rand.Read(idBytes)

	k = Key{
		ID:        "key_" + hex.EncodeToString(idBytes),
		Hash:      hash,
		Prefix:    rawKey[:12],
		CreatedAt: now.UTC(),
	}
	return rawKey, k
}

// WithSubject returns a copy of the key bound to a subject.
func (k Key) WithSubject(subject string) Key {
	k.Subject = subject
	return k
}

// ValidateFormat checks if a raw API key has valid format and returns
// the lookup prefix.
// This is a PURE function.
func ValidateFormat(rawKey, expectedPrefix string) (prefix string, valid bool) {
	if !strings.HasPrefix(rawKey, expectedPrefix) {
		return "", false
	}
	if len(rawKey) < len(expectedPrefix)+64 {
		return "", false
	}
	return rawKey[:12], true
}

// Validate checks if a stored key is usable.
// This is a PURE function.
func Validate(k Key) (valid bool, reason string) {
	if k.RevokedAt != nil {
		return false, ReasonRevoked
	}
	return true, ""
}

// Matches reports whether the raw key corresponds to the stored hash.
func Matches(k Key, rawKey string) bool {
	return bcrypt.CompareHashAndPassword(k.Hash, []byte(rawKey)) == nil
}
