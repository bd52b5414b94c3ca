package entity

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("entity not found")

// ValidationError indicates a create or update payload failed basic shape
// validation (empty type, nil attribute bag).
type ValidationError struct {
	Field   string
	Message string
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("entity validation failed on %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ConflictError indicates an optimistic-concurrency violation: the update's
// expected content hash did not match the stored one. The caller should
// re-read the entity and retry with the current hash.
type ConflictError struct {
	EntityID     string
	ExpectedHash string
	CurrentHash  string
}

// Error returns the error message.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("entity %s: content hash conflict: expected %s, current %s",
		e.EntityID, e.ExpectedHash, e.CurrentHash)
}

// HashError indicates the attribute bag could not be canonically serialized
// for hashing (e.g., it contains a non-JSON-encodable value).
type HashError struct {
	Cause error
}

// Error returns the error message.
func (e *HashError) Error() string {
	return fmt.Sprintf("content hash failed: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *HashError) Unwrap() error {
	return e.Cause
}

// StorageError represents an error from an entity storage backend.
type StorageError struct {
	Backend   string // "sqlite", "memory"
	Operation string // "create", "get", "update", ...
	Cause     error
}

// Error returns the error message.
func (e *StorageError) Error() string {
	return fmt.Sprintf("entity storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Cause: cause}
}
