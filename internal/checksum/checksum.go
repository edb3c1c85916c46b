// Package checksum computes content digests used for change detection.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/starford/runebook/internal/models"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Snapshot returns the digest of the canonical JSON encoding of s.
// Timestamps are normalized to UTC so equal instants hash equally.
func Snapshot(s models.Snapshot) string {
	norm := s.Clone()
	for i := range norm.Documents {
		norm.Documents[i].LastModifiedAt = norm.Documents[i].LastModifiedAt.UTC()
	}
	data, err := json.Marshal(norm)
	if err != nil {
		return ""
	}
	return Sum(data)
}
