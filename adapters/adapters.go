// Package adapters defines the storage contract for strand data stores.
//
// A DataStore persists three record shapes against a backing engine: event
// records (the immutable per-stream log), aggregate snapshot records, and the
// links tying snapshots to the events folded into them. The package also
// carries the shared optimistic-concurrency check and the sentinel errors
// every adapter must surface, so error handling stays consistent across
// backends.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for adapter implementations.
// Adapters should return these (or errors that match via errors.Is)
// to enable consistent error handling across different backends.
var (
	// ErrConcurrencyConflict is returned when the optimistic concurrency
	// check fails or the storage uniqueness constraint rejects a write.
	ErrConcurrencyConflict = errors.New("strand: concurrency conflict")

	// ErrStorageFailure is the opaque classification for adapter-level
	// transient failures (connectivity, timeouts, partial batch errors).
	ErrStorageFailure = errors.New("strand: storage operation failed")

	// ErrEmptyStreamID is returned when an empty stream ID is provided.
	ErrEmptyStreamID = errors.New("strand: stream ID is required")

	// ErrNoEvents is returned when attempting to append zero events.
	ErrNoEvents = errors.New("strand: no events to append")

	// ErrInvalidSequence is returned when a negative expected sequence or a
	// non-contiguous record batch is supplied.
	ErrInvalidSequence = errors.New("strand: invalid sequence")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("strand: store is closed")
)

// EventRecord is the storage representation of a single domain event.
// Immutable once written: created exactly once by a save operation, never
// updated or deleted.
type EventRecord struct {
	// ID uniquely identifies the event, derived from stream and sequence.
	ID string

	// StreamID is the stream this event belongs to.
	StreamID string

	// Sequence is the 1-based position within the stream. Strictly
	// increasing, no gaps.
	Sequence int64

	// TypeKey is the binding key ("name|v:version") of the payload type.
	TypeKey string

	// Payload is the serialized event body.
	Payload []byte

	// CreatedAt is when the event was written.
	CreatedAt time.Time

	// CreatedBy is the actor that wrote the event. Empty means anonymous.
	CreatedBy string
}

// SnapshotRecord is the storage representation of an aggregate snapshot.
// Created on first save or first reconstruction, mutated in place on every
// later update.
type SnapshotRecord struct {
	// AggregateID is the snapshot identity, derived from the business
	// identifier and the aggregate type version.
	AggregateID string

	// StreamID is the stream the snapshot materializes.
	StreamID string

	// TypeKey is the binding key of the aggregate type.
	TypeKey string

	// Version counts the events actually applied to this snapshot.
	Version int64

	// LatestEventSequence is the sequence of the last event considered,
	// which may exceed Version when events were filtered out or unhandled.
	LatestEventSequence int64

	// Payload is the serialized business state, bookkeeping excluded.
	Payload []byte

	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time
	UpdatedBy string
}

// EventLink records that a stored event was folded into a snapshot. Links
// answer "which events actually shaped this aggregate" independently of the
// stream's full content, which matters once type filters change over time or
// events reach the snapshot outside their originating save.
type EventLink struct {
	// AggregateID is the snapshot the event was applied to.
	AggregateID string

	// EventID is the ID of the applied event record.
	EventID string

	// AppliedAt is when the event was folded into the snapshot.
	AppliedAt time.Time
}

// TypeFilter restricts event queries to a set of binding keys.
// A nil or empty filter matches every event type.
type TypeFilter []string

// Matches reports whether the given type key passes the filter.
func (f TypeFilter) Matches(typeKey string) bool {
	if len(f) == 0 {
		return true
	}
	for _, key := range f {
		if key == typeKey {
			return true
		}
	}
	return false
}

// EventID derives the unique event identifier from stream and sequence.
func EventID(streamID string, sequence int64) string {
	return fmt.Sprintf("%s:%d", streamID, sequence)
}

// DataStore is the contract every storage backend must satisfy.
//
// All event queries return records in ascending sequence order and honor the
// optional type filter. Point lookups translate "not found" into nil results,
// never errors. Batch writes are atomic: they fully succeed or leave the
// store untouched. Methods are safe for concurrent use across streams; for a
// single stream the sequence uniqueness constraint enforced by AppendEvents
// and AppendEventsWithSnapshot is the sole coordination mechanism.
type DataStore interface {
	// GetSnapshot returns the snapshot for the aggregate, or nil if none
	// exists. Absence is not an error.
	GetSnapshot(ctx context.Context, streamID, aggregateID string) (*SnapshotRecord, error)

	// GetSnapshotEventLinks returns the links of events applied to the
	// snapshot, ordered by application time.
	GetSnapshotEventLinks(ctx context.Context, streamID, aggregateID string) ([]EventLink, error)

	// GetEvents returns all events in the stream.
	GetEvents(ctx context.Context, streamID string, filter TypeFilter) ([]EventRecord, error)

	// GetEventsByIDs returns the stream's events with the given IDs.
	GetEventsByIDs(ctx context.Context, streamID string, ids []string) ([]EventRecord, error)

	// GetEventsFromSequence returns events with sequence >= from.
	GetEventsFromSequence(ctx context.Context, streamID string, from int64, filter TypeFilter) ([]EventRecord, error)

	// GetEventsUpToSequence returns events with sequence <= to.
	GetEventsUpToSequence(ctx context.Context, streamID string, to int64, filter TypeFilter) ([]EventRecord, error)

	// GetEventsBetweenSequences returns events with from <= sequence <= to.
	GetEventsBetweenSequences(ctx context.Context, streamID string, from, to int64, filter TypeFilter) ([]EventRecord, error)

	// GetEventsFromDate returns events created at or after from.
	GetEventsFromDate(ctx context.Context, streamID string, from time.Time, filter TypeFilter) ([]EventRecord, error)

	// GetEventsUpToDate returns events created at or before to.
	GetEventsUpToDate(ctx context.Context, streamID string, to time.Time, filter TypeFilter) ([]EventRecord, error)

	// GetEventsBetweenDates returns events created within [from, to].
	GetEventsBetweenDates(ctx context.Context, streamID string, from, to time.Time, filter TypeFilter) ([]EventRecord, error)

	// GetLatestSequence returns the highest sequence in the stream, 0 when
	// the stream is empty.
	GetLatestSequence(ctx context.Context, streamID string) (int64, error)

	// AppendEvents writes a batch of event records atomically. The records
	// carry pre-assigned sequences starting at expectedSequence+1; the store
	// must reject the batch with a *ConcurrencyError when the stream has
	// moved past expectedSequence. The uniqueness constraint on
	// (streamID, sequence) is the binding guarantee, not the caller's
	// pre-check.
	AppendEvents(ctx context.Context, streamID string, records []EventRecord, expectedSequence int64) error

	// AppendEventsWithSnapshot writes events, the snapshot upsert, and the
	// event links in a single atomic unit. Snapshot upserts preserve the
	// original CreatedAt/CreatedBy of an existing row.
	AppendEventsWithSnapshot(ctx context.Context, streamID string, records []EventRecord, expectedSequence int64, snapshot SnapshotRecord, links []EventLink) error

	// SaveSnapshot upserts a snapshot and inserts its new event links in a
	// single atomic unit, preserving CreatedAt/CreatedBy on existing rows.
	SaveSnapshot(ctx context.Context, snapshot SnapshotRecord, links []EventLink) error

	// DeleteSnapshot removes a snapshot and its links. Exposed for adapters
	// and tooling; the core algorithms never delete.
	DeleteSnapshot(ctx context.Context, streamID, aggregateID string) error

	// Ping checks that the store can reach its backend.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// ConcurrencyError provides details about an optimistic concurrency conflict.
// It carries both sequence numbers so callers can re-read and retry.
type ConcurrencyError struct {
	StreamID         string
	ExpectedSequence int64
	ActualSequence   int64
}

// NewConcurrencyError creates a new ConcurrencyError.
func NewConcurrencyError(streamID string, expected, actual int64) *ConcurrencyError {
	return &ConcurrencyError{
		StreamID:         streamID,
		ExpectedSequence: expected,
		ActualSequence:   actual,
	}
}

// Error implements the error interface.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("strand: concurrency conflict on stream %q: expected sequence %d, got %d",
		e.StreamID, e.ExpectedSequence, e.ActualSequence)
}

// Is implements errors.Is compatibility with ErrConcurrencyConflict.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// StorageError wraps an adapter-level failure in an opaque classification.
// The message deliberately omits the cause; diagnostic detail is for the
// trace sink, not for calling code. The cause stays reachable via Unwrap so
// the tracing decorator can record it.
type StorageError struct {
	// Op is the store operation that failed (e.g. "GetEvents").
	Op string

	// StreamID is the stream the operation targeted, if any.
	StreamID string

	cause error
}

// NewStorageError wraps err as an opaque storage failure.
func NewStorageError(op, streamID string, err error) *StorageError {
	return &StorageError{Op: op, StreamID: streamID, cause: err}
}

// Error implements the error interface with an intentionally generic message.
func (e *StorageError) Error() string {
	if e.StreamID == "" {
		return fmt.Sprintf("strand: storage operation %s failed", e.Op)
	}
	return fmt.Sprintf("strand: storage operation %s failed on stream %q", e.Op, e.StreamID)
}

// Is implements errors.Is compatibility with ErrStorageFailure.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error {
	return e.cause
}

// CheckSequence validates an expected stream sequence against the actual
// latest sequence. This is the shared fail-fast half of the optimistic
// concurrency model; the storage uniqueness constraint on (streamID,
// sequence) remains the binding guarantee at write time.
func CheckSequence(streamID string, expected, actual int64) error {
	if expected < 0 {
		return ErrInvalidSequence
	}
	if expected != actual {
		return NewConcurrencyError(streamID, expected, actual)
	}
	return nil
}

// ValidateBatch checks that a record batch is contiguous from
// expectedSequence+1. Stores call this before writing so malformed batches
// are rejected no matter which service assembled them.
func ValidateBatch(streamID string, records []EventRecord, expectedSequence int64) error {
	if streamID == "" {
		return ErrEmptyStreamID
	}
	if len(records) == 0 {
		return ErrNoEvents
	}
	next := expectedSequence + 1
	for _, record := range records {
		if record.Sequence != next {
			return ErrInvalidSequence
		}
		next++
	}
	return nil
}
