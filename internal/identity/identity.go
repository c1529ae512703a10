// Package identity computes the two hashes the ingestion core is built on:
// the content hash identifying a batch and the dedupe key identifying a
// logical record. Both are pure functions with no I/O.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashBytes returns the hex SHA-256 of the raw file content. Two
// byte-identical files produce the same hash regardless of name or path.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DedupeKey computes the stable identity of a record within a source system.
// Name and email are normalized before hashing, so casing and stray
// whitespace never split one logical record into two. A missing email is
// treated as the empty string. The source system participates in the hash:
// identical records from different vendors are never merged implicitly.
func DedupeKey(sourceSystem, name, email string) string {
	payload := sourceSystem + "|" + Normalize(name) + "|" + Normalize(email)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Normalize lowercases, trims, and collapses internal whitespace runs to a
// single space.
func Normalize(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	return strings.Join(strings.Fields(value), " ")
}
