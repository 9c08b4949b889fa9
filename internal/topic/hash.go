package topic

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeHash returns a short stable fingerprint of text: sha256 hex
// truncated to 16 characters.
func ComputeHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// SourceHash picks the fingerprint for a merged source. A provider-supplied
// content hash wins (first one found, in source order) because it lets
// refresh detect unchanged topics without re-fetching full text; otherwise
// the merged blob is hashed.
func SourceHash(sources []RawTopicData, merged string) string {
	for _, s := range sources {
		if s.ContentHash != "" {
			return s.ContentHash
		}
	}
	return ComputeHash(merged)
}
