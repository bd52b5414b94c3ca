package ledger

import (
	"context"
	"time"

	"castellan-hq/portcullis/pkg/policy"
)

// Kind classifies a ledger event.
type Kind string

const (
	// KindEntry records a permitted entry through the gate.
	KindEntry Kind = "entry"

	// KindExit records an exit through the gate.
	KindExit Kind = "exit"

	// KindRejection records a denied access attempt.
	KindRejection Kind = "rejection"
)

// Event is one immutable record in the access ledger.
type Event struct {
	// ID is a random identifier assigned at append time.
	ID string `json:"id"`

	// Seq is the 1-based position in the chain.
	Seq int64 `json:"seq"`

	// EntityID identifies the subject of the event.
	EntityID string `json:"entity_id"`

	Kind Kind `json:"kind"`

	// Context is the request context snapshot captured at decision time.
	Context policy.RequestContext `json:"context"`

	// Decision is the policy outcome that produced this event.
	Decision policy.Decision `json:"decision"`

	Timestamp time.Time `json:"timestamp"`

	// EventHash covers the canonical payload plus PreviousEventHash.
	EventHash string `json:"event_hash"`

	// PreviousEventHash is the hash of the preceding event, or the
	// genesis sentinel for the first event.
	PreviousEventHash string `json:"previous_event_hash"`

	// Receipt is an optional notarization receipt. It is attached after
	// the event is sealed and is not covered by EventHash.
	Receipt string `json:"receipt,omitempty"`
}

// IntegrityReport is the result of a full chain verification pass.
type IntegrityReport struct {
	// Intact is true when every event's hash and back-link check out.
	Intact bool `json:"intact"`

	// Total is the number of events examined.
	Total int64 `json:"total"`

	// FirstBrokenID is the ID of the earliest event that failed
	// verification. Empty when the chain is intact.
	FirstBrokenID string `json:"first_broken_id,omitempty"`

	// FirstBrokenSeq is the sequence number of that event.
	FirstBrokenSeq int64 `json:"first_broken_seq,omitempty"`

	// Detail describes what failed at the first broken event.
	Detail string `json:"detail,omitempty"`
}

// Err returns a ChainCorruptedError describing the first broken event,
// or nil when the chain is intact.
func (r *IntegrityReport) Err() error {
	if r.Intact {
		return nil
	}
	return NewChainCorruptedError(r.FirstBrokenID, r.FirstBrokenSeq, r.Detail)
}

// Storage is the persistence interface for ledger events.
//
// Append must reject duplicate sequence numbers so that two writers
// racing past the ledger's serialization cannot fork the chain.
type Storage interface {
	// Append persists a sealed event.
	Append(ctx context.Context, event *Event) error

	// Last returns the most recent event, or ErrEmpty when the ledger
	// has no events.
	Last(ctx context.Context) (*Event, error)

	// All returns every event in sequence order.
	All(ctx context.Context) ([]*Event, error)

	// Count returns the number of events.
	Count(ctx context.Context) (int64, error)

	// CountEntries returns the number of "entry" events for the entity
	// at or after the given instant.
	CountEntries(ctx context.Context, entityID string, since time.Time) (int, error)

	// SetReceipt attaches a notarization receipt to an existing event.
	SetReceipt(ctx context.Context, eventID, receipt string) error

	// Close releases resources held by the storage backend.
	Close() error
}
