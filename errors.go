// Package strand is an event-sourcing domain layer: it persists immutable
// domain events per stream, reconstructs aggregate snapshots from those
// events, and enforces sequence-based optimistic concurrency when writing.
// Storage backends plug in through the adapters.DataStore contract.
package strand

import (
	"errors"
	"fmt"

	"github.com/strandhq/strand/adapters"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these errors.
// Storage-level sentinels are aliases to the adapters package for compatibility.
var (
	// ErrConcurrencyConflict indicates an optimistic concurrency violation.
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict

	// ErrStorageFailure indicates an opaque adapter-level failure.
	ErrStorageFailure = adapters.ErrStorageFailure

	// ErrEmptyStreamID indicates an empty stream ID was provided.
	ErrEmptyStreamID = adapters.ErrEmptyStreamID

	// ErrNoEvents indicates no events were provided for a save.
	ErrNoEvents = adapters.ErrNoEvents

	// ErrInvalidSequence indicates a negative or non-contiguous sequence.
	ErrInvalidSequence = adapters.ErrInvalidSequence

	// ErrStoreClosed indicates the data store has been closed.
	ErrStoreClosed = adapters.ErrStoreClosed

	// ErrTypeNotRegistered indicates a stored type key has no registry entry.
	// This is fatal for the read that hit it: it signals a deployment or
	// versioning bug, not a transient fault.
	ErrTypeNotRegistered = errors.New("strand: type not registered")

	// ErrNilAggregate indicates a nil aggregate was passed.
	ErrNilAggregate = errors.New("strand: nil aggregate")

	// ErrEmptyAggregateID indicates an empty aggregate ID was provided.
	ErrEmptyAggregateID = errors.New("strand: aggregate ID is required")

	// ErrSerializationFailed indicates payload encoding/decoding failed.
	ErrSerializationFailed = errors.New("strand: serialization failed")
)

// TypeNotRegisteredError provides detail about an unresolvable type key.
type TypeNotRegisteredError struct {
	TypeKey string
}

// NewTypeNotRegisteredError creates a new TypeNotRegisteredError.
func NewTypeNotRegisteredError(typeKey string) *TypeNotRegisteredError {
	return &TypeNotRegisteredError{TypeKey: typeKey}
}

// Error returns the error message.
func (e *TypeNotRegisteredError) Error() string {
	return fmt.Sprintf("strand: type key %q not registered", e.TypeKey)
}

// Is reports whether this error matches the target error.
func (e *TypeNotRegisteredError) Is(target error) bool {
	return target == ErrTypeNotRegistered
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *TypeNotRegisteredError) Unwrap() error {
	return ErrTypeNotRegistered
}

// SerializationError provides detail about a payload encode/decode failure.
type SerializationError struct {
	TypeKey   string
	Operation string // "encode" or "decode"
	Cause     error
}

// NewSerializationError creates a new SerializationError.
func NewSerializationError(typeKey, operation string, cause error) *SerializationError {
	return &SerializationError{TypeKey: typeKey, Operation: operation, Cause: cause}
}

// Error returns the error message.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("strand: failed to %s payload of type %q: %v", e.Operation, e.TypeKey, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerializationFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *SerializationError) Unwrap() error {
	return e.Cause
}
