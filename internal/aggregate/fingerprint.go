package aggregate

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint computes the stable identity key that deduplicates a finding
// across repeated scans of the same target. Title normalization keeps
// cosmetic rewording from splitting a known vulnerability into a new row.
func Fingerprint(target, category, location, title string) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(target)),
		strings.ToUpper(strings.TrimSpace(category)),
		strings.TrimSpace(location),
		normalizeTitle(title),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// normalizeTitle lowercases and collapses runs of whitespace.
func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}
