package policy

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested policy does not exist.
var ErrNotFound = errors.New("policy not found")

// MalformedConditionError indicates a condition with an unknown kind or
// missing required sub-fields. The engine skips such policies with a logged
// warning; a broken rule must never silently deny everything.
type MalformedConditionError struct {
	Kind    ConditionKind
	Message string
}

// Error returns the error message.
func (e *MalformedConditionError) Error() string {
	return fmt.Sprintf("malformed condition [kind=%s]: %s", e.Kind, e.Message)
}

// NewMalformedConditionError creates a new MalformedConditionError.
func NewMalformedConditionError(kind ConditionKind, message string) *MalformedConditionError {
	return &MalformedConditionError{Kind: kind, Message: message}
}

// StorageError represents an error from a policy storage backend.
type StorageError struct {
	Backend   string
	Operation string
	Cause     error
}

// Error returns the error message.
func (e *StorageError) Error() string {
	return fmt.Sprintf("policy storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Cause: cause}
}
