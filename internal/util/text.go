package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Min returns the smaller of two ints.
func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Truncate shortens s to at most max runes, appending an ellipsis when
// anything was cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}

// ContentHash returns the hex sha256 of s. Used for embedding cache keys
// and lease-lock key derivation.
func ContentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
