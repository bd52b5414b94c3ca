package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// hashPayload is the canonical input for content hashing. Field order is
// fixed and encoding/json emits map keys sorted, so serialization is
// deterministic for any attribute bag.
type hashPayload struct {
	Type       Type           `json:"type"`
	Attributes map[string]any `json:"attributes"`
	Timestamp  string         `json:"timestamp"`
}

// ComputeContentHash returns the hex-encoded SHA-256 of the canonical
// serialization of (type, attributes, timestamp). The timestamp is
// normalized to UTC RFC 3339 with nanoseconds so the hash survives a
// round trip through any storage backend.
func ComputeContentHash(typ Type, attributes map[string]any, ts time.Time) (string, error) {
	payload := hashPayload{
		Type:       typ,
		Attributes: attributes,
		Timestamp:  CanonicalTimestamp(ts),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", &HashError{Cause: err}
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalTimestamp normalizes a timestamp for hashing: UTC, RFC 3339,
// nanosecond precision.
func CanonicalTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// VerifyContentHash recomputes the entity's content hash from its stored
// fields and reports whether it matches the stored value.
func VerifyContentHash(e *Entity) (bool, error) {
	recomputed, err := ComputeContentHash(e.Type, e.Attributes, e.UpdatedAt)
	if err != nil {
		return false, err
	}
	return recomputed == e.ContentHash, nil
}
