package access

import (
	"errors"
	"fmt"

	"castellan-hq/portcullis/pkg/ledger"
	"castellan-hq/portcullis/pkg/policy"
)

// Type is the direction of a requested passage.
type Type string

const (
	// TypeEntry requests passage into the facility.
	TypeEntry Type = "entry"

	// TypeExit requests passage out of the facility.
	TypeExit Type = "exit"
)

// Validate checks that the access type is one of the known directions.
func (t Type) Validate() error {
	switch t {
	case TypeEntry, TypeExit:
		return nil
	default:
		return fmt.Errorf("unknown access type %q", t)
	}
}

// eventKind maps the requested direction to the ledger event kind for a
// permitted passage.
func (t Type) eventKind() ledger.Kind {
	if t == TypeExit {
		return ledger.KindExit
	}
	return ledger.KindEntry
}

// Request describes one access attempt at a gate.
type Request struct {
	// EntityID identifies the subject requesting passage.
	EntityID string

	// Access is the requested direction.
	Access Type

	// Context is the request context evaluated by the policy engine and
	// persisted verbatim in the resulting event.
	Context policy.RequestContext

	// Actor is who triggered the attempt (operator, device account).
	Actor string

	// Device is the gate or terminal the attempt came from.
	Device string
}

// Outcome is the result of a processed access attempt.
type Outcome struct {
	// EventID identifies the sealed ledger event.
	EventID string `json:"event_id"`

	// EventHash is the chain hash of the sealed event.
	EventHash string `json:"event_hash"`

	// Decision is the policy outcome.
	Decision policy.Decision `json:"decision"`
}

// ErrEntityNotFound indicates the subject of an access attempt does not
// exist. No event is emitted for unknown entities.
var ErrEntityNotFound = errors.New("entity not found")
