package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"castellan-hq/portcullis/pkg/entity"
	"castellan-hq/portcullis/pkg/policy"
)

// GenesisHash is the previous-hash sentinel of the first event.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// eventPayload is the canonical hashed form of an event. The receipt is
// deliberately absent: it is attached after sealing.
type eventPayload struct {
	ID        string                `json:"id"`
	Seq       int64                 `json:"seq"`
	EntityID  string                `json:"entity_id"`
	Kind      Kind                  `json:"kind"`
	Context   policy.RequestContext `json:"context"`
	Decision  policy.Decision       `json:"decision"`
	Timestamp string                `json:"timestamp"`
}

// ComputeEventHash returns the hex-encoded SHA-256 hash of the event's
// canonical payload concatenated with the previous event hash.
func ComputeEventHash(event *Event, previousHash string) (string, error) {
	payload := eventPayload{
		ID:        event.ID,
		Seq:       event.Seq,
		EntityID:  event.EntityID,
		Kind:      event.Kind,
		Context:   event.Context,
		Decision:  event.Decision,
		Timestamp: entity.CanonicalTimestamp(event.Timestamp),
	}

	serialized, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to serialize event payload: %w", err)
	}

	h := sha256.New()
	h.Write(serialized)
	h.Write([]byte(previousHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}
