package entity

import (
	"context"
	"time"
)

// Type classifies the subject of an access decision. The set is open:
// unknown values are accepted and matched against policy scopes verbatim.
type Type string

const (
	TypePerson        Type = "person"
	TypeVehicle       Type = "vehicle"
	TypeVisit         Type = "visit"
	TypeProvider      Type = "provider"
	TypeEmergencyUnit Type = "emergency-unit"
)

// LifecycleState is the entity lifecycle. Entities are never deleted;
// deactivation removes them from consideration while preserving history.
type LifecycleState string

const (
	StateActive   LifecycleState = "active"
	StateInactive LifecycleState = "inactive"
)

// Entity is a typed subject with a schema-flexible attribute bag.
// ContentHash is a deterministic function of (Type, Attributes, UpdatedAt);
// recomputing it from the stored fields must reproduce the stored value.
type Entity struct {
	// ID is opaque, globally unique, and immutable after creation.
	ID string `json:"id"`

	// Type is the entity kind (person, vehicle, visit, ...).
	Type Type `json:"type"`

	// Attributes is an unordered string-keyed bag of scalar or nested values.
	Attributes map[string]any `json:"attributes"`

	// ContentHash is the hash of the current attribute snapshot.
	ContentHash string `json:"content_hash"`

	// PreviousHash is the content hash this snapshot superseded.
	// Empty for the initial revision.
	PreviousHash string `json:"previous_hash"`

	// State is the lifecycle state (active or inactive).
	State LifecycleState `json:"lifecycle_state"`

	// CreatedAt is when the entity was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the current attribute snapshot was written.
	// It is the timestamp bound into ContentHash.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the entity so callers can mutate attributes
// without aliasing store-internal state.
func (e *Entity) Clone() *Entity {
	clone := *e
	clone.Attributes = cloneAttributes(e.Attributes)
	return &clone
}

// DenyListed reports whether the entity carries the deny_listed attribute.
func (e *Entity) DenyListed() bool {
	v, ok := e.Attributes["deny_listed"]
	if !ok {
		return false
	}
	flagged, ok := v.(bool)
	return ok && flagged
}

// Store defines the contract for entity persistence backends.
// Implementations must be safe for concurrent use; updates to the same
// entity are serialized through an optimistic check on the expected
// content hash.
type Store interface {
	// Create persists a new entity built from the type and attribute bag.
	// The assigned ID and initial content hash are returned on the entity.
	Create(ctx context.Context, typ Type, attributes map[string]any) (*Entity, error)

	// Get returns the entity with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Entity, error)

	// Update shallow-merges delta onto the current attribute map (right-hand
	// wins), recomputes the content hash, and shifts the old hash into
	// PreviousHash. expectedHash must match the current content hash or the
	// update fails with a ConflictError. Returns the updated entity.
	Update(ctx context.Context, id string, delta map[string]any, expectedHash string) (*Entity, error)

	// Deactivate marks the entity inactive. Idempotent.
	Deactivate(ctx context.Context, id string) error

	// Reactivate marks the entity active. Idempotent.
	Reactivate(ctx context.Context, id string) error

	// List returns all entities, optionally filtered by type ("" for all).
	List(ctx context.Context, typ Type) ([]*Entity, error)

	// Close releases any resources held by the backend.
	Close() error
}

// cloneAttributes deep-copies an attribute bag one level at a time.
func cloneAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneAttributes(nested)
			continue
		}
		out[k] = v
	}
	return out
}
