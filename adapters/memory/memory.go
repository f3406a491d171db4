// Package memory provides an in-memory implementation of the strand data
// store. It is the reference implementation of the storage contract and is
// primarily intended for testing and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/strandhq/strand/adapters"
)

// Ensure Store implements the data store contract.
var _ adapters.DataStore = (*Store)(nil)

// Store is an in-memory implementation of adapters.DataStore.
// It is thread-safe and suitable for unit testing.
type Store struct {
	mu        sync.RWMutex
	streams   map[string][]adapters.EventRecord
	snapshots map[string]*adapters.SnapshotRecord
	links     map[string][]adapters.EventLink
	closed    bool
}

// Option configures a Store.
type Option func(*Store)

// NewStore creates a new in-memory data store.
func NewStore(opts ...Option) *Store {
	store := &Store{
		streams:   make(map[string][]adapters.EventRecord),
		snapshots: make(map[string]*adapters.SnapshotRecord),
		links:     make(map[string][]adapters.EventLink),
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// snapshotKey addresses a snapshot within its stream.
func snapshotKey(streamID, aggregateID string) string {
	return streamID + "\x00" + aggregateID
}

// GetSnapshot returns the snapshot for the aggregate, or nil if none exists.
func (s *Store) GetSnapshot(ctx context.Context, streamID, aggregateID string) (*adapters.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, adapters.ErrStoreClosed
	}
	if streamID == "" {
		return nil, adapters.ErrEmptyStreamID
	}

	snapshot, exists := s.snapshots[snapshotKey(streamID, aggregateID)]
	if !exists {
		return nil, nil
	}

	// Return a copy to prevent mutation
	copied := *snapshot
	copied.Payload = append([]byte(nil), snapshot.Payload...)
	return &copied, nil
}

// GetSnapshotEventLinks returns the links of events applied to the snapshot.
func (s *Store) GetSnapshotEventLinks(ctx context.Context, streamID, aggregateID string) ([]adapters.EventLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, adapters.ErrStoreClosed
	}
	if streamID == "" {
		return nil, adapters.ErrEmptyStreamID
	}

	stored := s.links[snapshotKey(streamID, aggregateID)]
	links := make([]adapters.EventLink, len(stored))
	copy(links, stored)
	return links, nil
}

// GetEvents returns all events in the stream.
func (s *Store) GetEvents(ctx context.Context, streamID string, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.getEvents(ctx, streamID, filter, func(adapters.EventRecord) bool { return true })
}

// GetEventsByIDs returns the stream's events with the given IDs.
func (s *Store) GetEventsByIDs(ctx context.Context, streamID string, ids []string) ([]adapters.EventRecord, error) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	return s.getEvents(ctx, streamID, nil, func(r adapters.EventRecord) bool {
		return wanted[r.ID]
	})
}

// GetEventsFromSequence returns events with sequence >= from.
func (s *Store) GetEventsFromSequence(ctx context.Context, streamID string, from int64, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.getEvents(ctx, streamID, filter, func(r adapters.EventRecord) bool {
		return r.Sequence >= from
	})
}

// GetEventsUpToSequence returns events with sequence <= to.
func (s *Store) GetEventsUpToSequence(ctx context.Context, streamID string, to int64, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.getEvents(ctx, streamID, filter, func(r adapters.EventRecord) bool {
		return r.Sequence <= to
	})
}

// GetEventsBetweenSequences returns events with from <= sequence <= to.
func (s *Store) GetEventsBetweenSequences(ctx context.Context, streamID string, from, to int64, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.getEvents(ctx, streamID, filter, func(r adapters.EventRecord) bool {
		return r.Sequence >= from && r.Sequence <= to
	})
}

// GetEventsFromDate returns events created at or after from.
func (s *Store) GetEventsFromDate(ctx context.Context, streamID string, from time.Time, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.getEvents(ctx, streamID, filter, func(r adapters.EventRecord) bool {
		return !r.CreatedAt.Before(from)
	})
}

// GetEventsUpToDate returns events created at or before to.
func (s *Store) GetEventsUpToDate(ctx context.Context, streamID string, to time.Time, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.getEvents(ctx, streamID, filter, func(r adapters.EventRecord) bool {
		return !r.CreatedAt.After(to)
	})
}

// GetEventsBetweenDates returns events created within [from, to].
func (s *Store) GetEventsBetweenDates(ctx context.Context, streamID string, from, to time.Time, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.getEvents(ctx, streamID, filter, func(r adapters.EventRecord) bool {
		return !r.CreatedAt.Before(from) && !r.CreatedAt.After(to)
	})
}

// getEvents scans a stream under the read lock. Records are stored in
// ascending sequence order, so the scan preserves it.
func (s *Store) getEvents(ctx context.Context, streamID string, filter adapters.TypeFilter, match func(adapters.EventRecord) bool) ([]adapters.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, adapters.ErrStoreClosed
	}
	if streamID == "" {
		return nil, adapters.ErrEmptyStreamID
	}

	events := make([]adapters.EventRecord, 0)
	for _, record := range s.streams[streamID] {
		if !filter.Matches(record.TypeKey) {
			continue
		}
		if match(record) {
			events = append(events, record)
		}
	}
	return events, nil
}

// GetLatestSequence returns the highest sequence in the stream, 0 when empty.
func (s *Store) GetLatestSequence(ctx context.Context, streamID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, adapters.ErrStoreClosed
	}
	if streamID == "" {
		return 0, adapters.ErrEmptyStreamID
	}

	stream := s.streams[streamID]
	if len(stream) == 0 {
		return 0, nil
	}
	return stream[len(stream)-1].Sequence, nil
}

// AppendEvents writes a batch of event records atomically with optimistic
// concurrency control.
func (s *Store) AppendEvents(ctx context.Context, streamID string, records []adapters.EventRecord, expectedSequence int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendLocked(streamID, records, expectedSequence)
}

// AppendEventsWithSnapshot writes events, the snapshot upsert, and the event
// links in a single atomic unit.
func (s *Store) AppendEventsWithSnapshot(ctx context.Context, streamID string, records []adapters.EventRecord, expectedSequence int64, snapshot adapters.SnapshotRecord, links []adapters.EventLink) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.appendLocked(streamID, records, expectedSequence); err != nil {
		return err
	}

	s.saveSnapshotLocked(snapshot, links)
	return nil
}

// SaveSnapshot upserts a snapshot and inserts its new event links atomically.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot adapters.SnapshotRecord, links []adapters.EventLink) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return adapters.ErrStoreClosed
	}
	if snapshot.StreamID == "" {
		return adapters.ErrEmptyStreamID
	}

	s.saveSnapshotLocked(snapshot, links)
	return nil
}

// DeleteSnapshot removes a snapshot and its links.
func (s *Store) DeleteSnapshot(ctx context.Context, streamID, aggregateID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return adapters.ErrStoreClosed
	}
	if streamID == "" {
		return adapters.ErrEmptyStreamID
	}

	key := snapshotKey(streamID, aggregateID)
	delete(s.snapshots, key)
	delete(s.links, key)
	return nil
}

// Ping checks if the store is healthy.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return adapters.ErrStoreClosed
	}
	return nil
}

// Close releases resources held by the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Reset clears all data. Useful for testing.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.streams = make(map[string][]adapters.EventRecord)
	s.snapshots = make(map[string]*adapters.SnapshotRecord)
	s.links = make(map[string][]adapters.EventLink)
}

// EventCount returns the total number of events stored.
func (s *Store) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, stream := range s.streams {
		count += len(stream)
	}
	return count
}

// StreamCount returns the number of streams.
func (s *Store) StreamCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams)
}

// appendLocked validates and appends a batch under the write lock. The
// sequence check against the actual stream tail is the in-memory equivalent
// of the relational uniqueness constraint: it runs inside the lock, so a
// racing writer that passed its caller-side pre-check still gets rejected
// here.
func (s *Store) appendLocked(streamID string, records []adapters.EventRecord, expectedSequence int64) error {
	if s.closed {
		return adapters.ErrStoreClosed
	}

	if err := adapters.ValidateBatch(streamID, records, expectedSequence); err != nil {
		return err
	}

	stream := s.streams[streamID]
	actual := int64(0)
	if len(stream) > 0 {
		actual = stream[len(stream)-1].Sequence
	}
	if err := adapters.CheckSequence(streamID, expectedSequence, actual); err != nil {
		return err
	}

	s.streams[streamID] = append(stream, records...)
	return nil
}

// saveSnapshotLocked upserts a snapshot, preserving the created audit fields
// of an existing row, and appends the new links.
func (s *Store) saveSnapshotLocked(snapshot adapters.SnapshotRecord, links []adapters.EventLink) {
	key := snapshotKey(snapshot.StreamID, snapshot.AggregateID)

	stored := snapshot
	stored.Payload = append([]byte(nil), snapshot.Payload...)
	if existing, exists := s.snapshots[key]; exists {
		stored.CreatedAt = existing.CreatedAt
		stored.CreatedBy = existing.CreatedBy
	}
	s.snapshots[key] = &stored

	s.links[key] = append(s.links[key], links...)
}
