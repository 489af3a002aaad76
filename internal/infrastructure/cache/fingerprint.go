package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Delimiter separates fingerprint components
const Delimiter = "|"

// Normalize trims, lowercases and collapses runs of whitespace
func Normalize(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}

// Fingerprint returns the lowercase hex SHA-256 of
// normalized content, each param in order, then codeVersion.
func Fingerprint(content, codeVersion string, params ...string) string {
	parts := make([]string, 0, len(params)+2)
	parts = append(parts, Normalize(content))
	parts = append(parts, params...)
	parts = append(parts, codeVersion)

	sum := sha256.Sum256([]byte(strings.Join(parts, Delimiter)))
	return hex.EncodeToString(sum[:])
}
