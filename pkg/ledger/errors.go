package ledger

import (
	"errors"
	"fmt"
)

// ErrEmpty indicates the ledger contains no events.
var ErrEmpty = errors.New("ledger is empty")

// ErrNotFound indicates the requested event does not exist.
var ErrNotFound = errors.New("event not found")

// WriteError indicates an event could not be appended.
type WriteError struct {
	EntityID string
	Cause    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to append ledger event for entity %s: %v", e.EntityID, e.Cause)
}

func (e *WriteError) Unwrap() error {
	return e.Cause
}

// NewWriteError creates a new WriteError.
func NewWriteError(entityID string, cause error) *WriteError {
	return &WriteError{EntityID: entityID, Cause: cause}
}

// ChainCorruptedError indicates verification found a broken link.
type ChainCorruptedError struct {
	EventID string
	Seq     int64
	Detail  string
}

func (e *ChainCorruptedError) Error() string {
	return fmt.Sprintf("ledger chain corrupted at event %s (seq %d): %s", e.EventID, e.Seq, e.Detail)
}

// NewChainCorruptedError creates a new ChainCorruptedError.
func NewChainCorruptedError(eventID string, seq int64, detail string) *ChainCorruptedError {
	return &ChainCorruptedError{EventID: eventID, Seq: seq, Detail: detail}
}

// StorageError indicates a storage operation failed.
type StorageError struct {
	Backend   string
	Operation string
	Cause     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger storage error (%s/%s): %v", e.Backend, e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Cause: cause}
}
