package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// idLength is the number of hex characters in an entity ID.
// 32 hex chars (128 bits) is collision-free in practice given the
// timestamp and random salt mixed into the digest.
const idLength = 32

// NewID derives a fresh entity ID from the creation payload, the creation
// timestamp, and a random salt. The salt makes IDs unique even for
// identical payloads created in the same nanosecond.
func NewID(typ Type, attributes map[string]any, ts time.Time) (string, error) {
	payload, err := json.Marshal(hashPayload{
		Type:       typ,
		Attributes: attributes,
		Timestamp:  CanonicalTimestamp(ts),
	})
	if err != nil {
		return "", &HashError{Cause: err}
	}

	salt := uuid.New()

	h := sha256.New()
	h.Write(payload)
	h.Write(salt[:])
	sum := h.Sum(nil)

	return hex.EncodeToString(sum)[:idLength], nil
}
