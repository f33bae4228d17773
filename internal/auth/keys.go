// Package auth holds helpers for the orchestrator's shared-secret auth.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashKey returns the hex SHA-256 of the trimmed key.
func HashKey(key string) string {
	sum := digest(key)
	return hex.EncodeToString(sum[:])
}

// TokenMatches compares a presented token to the configured secret in
// constant time. Both are hashed first so the comparison does not depend
// on their lengths. An empty secret never matches.
func TokenMatches(token, secret string) bool {
	if strings.TrimSpace(secret) == "" {
		return false
	}
	a, b := digest(token), digest(secret)
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

func digest(key string) [sha256.Size]byte {
	return sha256.Sum256([]byte(strings.TrimSpace(key)))
}
