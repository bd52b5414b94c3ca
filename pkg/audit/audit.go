package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Action classifies what an audit record describes.
type Action string

const (
	ActionAccessPermitted Action = "access_permitted"
	ActionAccessDenied    Action = "access_denied"
	ActionEntityCreated   Action = "entity_created"
	ActionEntityUpdated   Action = "entity_updated"
	ActionEntityLifecycle Action = "entity_lifecycle"
)

// ErrNotFound indicates the requested audit record does not exist.
var ErrNotFound = errors.New("audit record not found")

// Record is one append-only audit trail entry.
type Record struct {
	ID string `json:"id"`

	// EventID links to the ledger event that triggered the record, if
	// any.
	EventID string `json:"event_id,omitempty"`

	// EntityID identifies the entity the record concerns, if any.
	EntityID string `json:"entity_id,omitempty"`

	// Actor is who performed the action (operator id, device account).
	Actor string `json:"actor"`

	// Device is the gate or terminal the action came from.
	Device string `json:"device,omitempty"`

	Action Action `json:"action"`

	// OldValue and NewValue are JSON snapshots of the affected state
	// before and after the action.
	OldValue json.RawMessage `json:"old_value,omitempty"`
	NewValue json.RawMessage `json:"new_value,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Trail is the persistence interface for audit records. There is no
// update or delete: records only accumulate.
type Trail interface {
	// Append persists a new audit record.
	Append(ctx context.Context, record *Record) error

	// List returns records in chronological order, newest last. A zero
	// limit returns everything.
	List(ctx context.Context, limit int) ([]*Record, error)

	// ListByEntity returns records whose snapshots concern the entity.
	ListByEntity(ctx context.Context, entityID string, limit int) ([]*Record, error)

	// Close releases resources held by the trail.
	Close() error
}

// Snapshot marshals a value into an audit snapshot.
func Snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot value: %w", err)
	}
	return data, nil
}

// StorageError indicates a trail operation failed.
type StorageError struct {
	Backend   string
	Operation string
	Cause     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("audit storage error (%s/%s): %v", e.Backend, e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Cause: cause}
}
