package strand

import (
	"context"
	"time"

	"github.com/strandhq/strand/adapters"
)

// ReadMode selects how GetAggregate materializes an aggregate and whether the
// read may write a snapshot as a side effect.
type ReadMode int

const (
	// SnapshotOnly returns the stored snapshot as-is; a fresh empty
	// aggregate when none exists. Never writes.
	SnapshotOnly ReadMode = iota

	// SnapshotWithNewEvents reconciles the snapshot with events newer than
	// its latest observed sequence; a fresh empty aggregate when none
	// exists. Writes only when reconciliation changed the version.
	SnapshotWithNewEvents

	// SnapshotOrCreate returns the stored snapshot as-is; when none exists
	// it replays the whole stream and persists the result if at least one
	// event was handled.
	SnapshotOrCreate

	// SnapshotWithNewEventsOrCreate reconciles an existing snapshot and
	// takes the create path when none exists.
	SnapshotWithNewEventsOrCreate
)

// String returns the read mode name.
func (m ReadMode) String() string {
	switch m {
	case SnapshotOnly:
		return "snapshot-only"
	case SnapshotWithNewEvents:
		return "snapshot-with-new-events"
	case SnapshotOrCreate:
		return "snapshot-or-create"
	case SnapshotWithNewEventsOrCreate:
		return "snapshot-with-new-events-or-create"
	default:
		return "unknown"
	}
}

// Logger defines the logging interface for the service.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// noopLogger is a no-op logger implementation.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...interface{}) {}
func (l *noopLogger) Info(msg string, args ...interface{})  {}
func (l *noopLogger) Warn(msg string, args ...interface{})  {}
func (l *noopLogger) Error(msg string, args ...interface{}) {}

// Clock supplies timestamps for audit fields. Swappable for deterministic tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// ActorFunc resolves the current actor from the request context for audit
// stamping. An empty result is valid and means anonymous/system.
type ActorFunc func(ctx context.Context) string

// Service orchestrates aggregate reads and writes over a DataStore.
// It owns the read-mode policy, snapshot reconciliation, and the fail-fast
// half of optimistic concurrency; the store's uniqueness constraint on
// (streamID, sequence) remains the binding write-time guarantee.
type Service struct {
	store    adapters.DataStore
	registry *Registry
	codec    Codec
	clock    Clock
	actor    ActorFunc
	logger   Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCodec sets a custom payload codec.
func WithCodec(c Codec) Option {
	return func(s *Service) {
		s.codec = c
	}
}

// WithLogger sets a custom logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithClock sets a custom time source for audit fields.
func WithClock(c Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithActor sets the current-actor resolver for audit fields.
func WithActor(f ActorFunc) Option {
	return func(s *Service) {
		s.actor = f
	}
}

// NewService creates a Service over the given store and type registry.
func NewService(store adapters.DataStore, registry *Registry, opts ...Option) *Service {
	s := &Service{
		store:    store,
		registry: registry,
		codec:    NewJSONCodec(),
		clock:    ClockFunc(time.Now),
		actor:    func(ctx context.Context) string { return "" },
		logger:   &noopLogger{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Store returns the underlying data store.
func (s *Service) Store() adapters.DataStore {
	return s.store
}

// Registry returns the service's type registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// GetAggregate materializes an aggregate according to the read mode.
//
// Snapshot present: SnapshotOnly and SnapshotOrCreate return it as-is;
// the WithNewEvents modes reconcile it first. Snapshot absent: the OrCreate
// modes replay the whole stream and persist the result when at least one
// event was handled; the others return a fresh empty aggregate. Only the
// create path and a version-changing reconciliation ever write.
func (s *Service) GetAggregate(ctx context.Context, streamID, aggregateID string, binding Binding, mode ReadMode) (Aggregate, error) {
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}
	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}

	snapshot, err := s.store.GetSnapshot(ctx, streamID, aggregateID)
	if err != nil {
		return nil, err
	}

	if snapshot == nil {
		switch mode {
		case SnapshotOrCreate, SnapshotWithNewEventsOrCreate:
			return s.createFromStream(ctx, streamID, aggregateID, binding)
		default:
			return s.newAggregate(streamID, aggregateID, binding)
		}
	}

	switch mode {
	case SnapshotWithNewEvents, SnapshotWithNewEventsOrCreate:
		return s.reconcileSnapshot(ctx, *snapshot)
	default:
		return DecodeSnapshot(s.codec, s.registry, *snapshot)
	}
}

// ReplayOption bounds an in-memory replay.
type ReplayOption func(*replayConfig)

type replayConfig struct {
	upToSequence int64
	upToDate     time.Time
}

// ReplayUpToSequence bounds the replay to events with sequence <= n.
func ReplayUpToSequence(n int64) ReplayOption {
	return func(c *replayConfig) {
		c.upToSequence = n
	}
}

// ReplayUpToDate bounds the replay to events created at or before t.
func ReplayUpToDate(t time.Time) ReplayOption {
	return func(c *replayConfig) {
		c.upToDate = t
	}
}

// GetInMemoryAggregate reconstructs an aggregate purely by event replay,
// bypassing snapshot storage entirely. It never writes, which makes it the
// escape hatch for historical and point-in-time queries: bound the replay
// with ReplayUpToSequence or ReplayUpToDate to reconstruct past states.
func (s *Service) GetInMemoryAggregate(ctx context.Context, streamID, aggregateID string, binding Binding, opts ...ReplayOption) (Aggregate, error) {
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	config := &replayConfig{}
	for _, opt := range opts {
		opt(config)
	}

	agg, err := s.newAggregate(streamID, aggregateID, binding)
	if err != nil {
		return nil, err
	}
	filter := typeFilterOf(agg)

	var records []adapters.EventRecord
	switch {
	case config.upToSequence > 0:
		records, err = s.store.GetEventsUpToSequence(ctx, streamID, config.upToSequence, filter)
	case !config.upToDate.IsZero():
		records, err = s.store.GetEventsUpToDate(ctx, streamID, config.upToDate, filter)
	default:
		records, err = s.store.GetEvents(ctx, streamID, filter)
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.replayRecords(agg, records); err != nil {
		return nil, err
	}
	return agg, nil
}

// UpdateAggregate advances a stored snapshot past any events newer than its
// latest observed sequence. A missing snapshot yields a fresh empty
// aggregate, not an error.
func (s *Service) UpdateAggregate(ctx context.Context, streamID, aggregateID string, binding Binding) (Aggregate, error) {
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}
	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}

	snapshot, err := s.store.GetSnapshot(ctx, streamID, aggregateID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return s.newAggregate(streamID, aggregateID, binding)
	}

	return s.reconcileSnapshot(ctx, *snapshot)
}

// SaveEvents appends events to a stream under optimistic concurrency.
// Sequences expectedSequence+1..expectedSequence+len(events) are assigned in
// caller order. The pre-check fails fast with a *ConcurrencyError; the
// store's uniqueness constraint rejects the race the pre-check cannot see.
func (s *Service) SaveEvents(ctx context.Context, streamID string, events []Event, expectedSequence int64) ([]adapters.EventRecord, error) {
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}
	if len(events) == 0 {
		return nil, ErrNoEvents
	}

	latest, err := s.store.GetLatestSequence(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if err := adapters.CheckSequence(streamID, expectedSequence, latest); err != nil {
		s.logger.Warn("concurrency conflict on save",
			"streamId", streamID, "expected", expectedSequence, "actual", latest)
		return nil, err
	}

	records, err := s.encodeEvents(ctx, streamID, events, expectedSequence)
	if err != nil {
		return nil, err
	}

	if err := s.store.AppendEvents(ctx, streamID, records, expectedSequence); err != nil {
		return nil, err
	}

	s.logger.Debug("events saved", "streamId", streamID, "count", len(records))
	return records, nil
}

// SaveAggregate persists an aggregate's uncommitted events together with its
// snapshot and event links in one atomic unit. On success the aggregate's
// latest observed sequence advances to the last written event and the
// uncommitted buffer is cleared.
func (s *Service) SaveAggregate(ctx context.Context, streamID, aggregateID string, agg Aggregate, expectedSequence int64) error {
	if agg == nil {
		return ErrNilAggregate
	}
	if streamID == "" {
		return ErrEmptyStreamID
	}
	if aggregateID == "" {
		return ErrEmptyAggregateID
	}

	rt := agg.runtime()
	if len(rt.uncommitted) == 0 {
		return nil // Nothing to save
	}

	latest, err := s.store.GetLatestSequence(ctx, streamID)
	if err != nil {
		return err
	}
	if err := adapters.CheckSequence(streamID, expectedSequence, latest); err != nil {
		s.logger.Warn("concurrency conflict on aggregate save",
			"streamId", streamID, "expected", expectedSequence, "actual", latest)
		return err
	}

	rt.setIdentity(streamID, aggregateID)

	events := make([]Event, len(rt.uncommitted))
	for i, raised := range rt.uncommitted {
		events[i] = raised.event
	}
	records, err := s.encodeEvents(ctx, streamID, events, expectedSequence)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	actor := s.actor(ctx)

	// The snapshot reflects all buffered events, so the latest observed
	// sequence is the last record's.
	rt.latestEventSequence = records[len(records)-1].Sequence

	snapshot, err := EncodeSnapshot(s.codec, agg, now, actor, now, actor)
	if err != nil {
		return err
	}

	links := make([]adapters.EventLink, 0, len(records))
	for i, raised := range rt.uncommitted {
		if !raised.handled {
			continue
		}
		links = append(links, adapters.EventLink{
			AggregateID: aggregateID,
			EventID:     records[i].ID,
			AppliedAt:   now,
		})
	}

	if err := s.store.AppendEventsWithSnapshot(ctx, streamID, records, expectedSequence, snapshot, links); err != nil {
		return err
	}

	agg.ClearUncommittedEvents()
	s.logger.Debug("aggregate saved",
		"streamId", streamID, "aggregateId", aggregateID, "version", agg.Version())
	return nil
}

// reconcileSnapshot applies events newer than the snapshot's latest observed
// sequence to its decoded aggregate. No new events is the common cheap path:
// the aggregate returns unchanged without a write. When events were fetched
// but none advanced the version, the write is also skipped — the returned
// aggregate carries the advanced latest sequence in memory, but the stored
// snapshot stays put. Only a version change persists, atomically with one
// link per newly applied event.
func (s *Service) reconcileSnapshot(ctx context.Context, snapshot adapters.SnapshotRecord) (Aggregate, error) {
	agg, err := DecodeSnapshot(s.codec, s.registry, snapshot)
	if err != nil {
		return nil, err
	}

	records, err := s.store.GetEventsFromSequence(ctx, snapshot.StreamID, agg.LatestEventSequence()+1, typeFilterOf(agg))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return agg, nil
	}

	currentVersion := agg.Version()
	appliedIDs, err := s.replayRecords(agg, records)
	if err != nil {
		return nil, err
	}

	if agg.Version() == currentVersion {
		return agg, nil
	}

	now := s.clock.Now()
	actor := s.actor(ctx)
	updated, err := EncodeSnapshot(s.codec, agg, snapshot.CreatedAt, snapshot.CreatedBy, now, actor)
	if err != nil {
		return nil, err
	}

	links := make([]adapters.EventLink, len(appliedIDs))
	for i, eventID := range appliedIDs {
		links[i] = adapters.EventLink{
			AggregateID: snapshot.AggregateID,
			EventID:     eventID,
			AppliedAt:   now,
		}
	}

	if err := s.store.SaveSnapshot(ctx, updated, links); err != nil {
		return nil, err
	}

	s.logger.Debug("snapshot reconciled",
		"streamId", snapshot.StreamID, "aggregateId", snapshot.AggregateID,
		"version", agg.Version(), "latestEventSequence", agg.LatestEventSequence())
	return agg, nil
}

// createFromStream replays the whole stream into a fresh aggregate and
// persists the resulting snapshot, but only when at least one event was
// actually handled; an all-filtered stream yields an empty aggregate and no
// write.
func (s *Service) createFromStream(ctx context.Context, streamID, aggregateID string, binding Binding) (Aggregate, error) {
	agg, err := s.newAggregate(streamID, aggregateID, binding)
	if err != nil {
		return nil, err
	}

	records, err := s.store.GetEvents(ctx, streamID, typeFilterOf(agg))
	if err != nil {
		return nil, err
	}

	appliedIDs, err := s.replayRecords(agg, records)
	if err != nil {
		return nil, err
	}

	if agg.Version() == 0 {
		return agg, nil
	}

	now := s.clock.Now()
	actor := s.actor(ctx)
	snapshot, err := EncodeSnapshot(s.codec, agg, now, actor, now, actor)
	if err != nil {
		return nil, err
	}

	links := make([]adapters.EventLink, len(appliedIDs))
	for i, eventID := range appliedIDs {
		links[i] = adapters.EventLink{
			AggregateID: aggregateID,
			EventID:     eventID,
			AppliedAt:   now,
		}
	}

	if err := s.store.SaveSnapshot(ctx, snapshot, links); err != nil {
		return nil, err
	}

	s.logger.Debug("snapshot created from stream",
		"streamId", streamID, "aggregateId", aggregateID, "version", agg.Version())
	return agg, nil
}

// replayRecords decodes and folds stored events into the aggregate in
// ascending sequence order, returning the IDs of the events that were
// handled.
func (s *Service) replayRecords(agg Aggregate, records []adapters.EventRecord) ([]string, error) {
	var appliedIDs []string
	for _, record := range records {
		event, err := DecodeEvent(s.codec, s.registry, record)
		if err != nil {
			return nil, err
		}
		if applyCommitted(agg, event, record.Sequence) {
			appliedIDs = append(appliedIDs, record.ID)
		}
	}
	return appliedIDs, nil
}

// encodeEvents assigns sequences expectedSequence+1.. in caller order and
// stamps audit fields.
func (s *Service) encodeEvents(ctx context.Context, streamID string, events []Event, expectedSequence int64) ([]adapters.EventRecord, error) {
	now := s.clock.Now()
	actor := s.actor(ctx)

	records := make([]adapters.EventRecord, len(events))
	for i, event := range events {
		record, err := EncodeEvent(s.codec, streamID, expectedSequence+int64(i)+1, event, now, actor)
		if err != nil {
			return nil, err
		}
		records[i] = record
	}
	return records, nil
}

// newAggregate constructs an empty aggregate with its identity stamped.
func (s *Service) newAggregate(streamID, aggregateID string, binding Binding) (Aggregate, error) {
	agg, err := s.registry.NewAggregate(binding.Key())
	if err != nil {
		return nil, err
	}
	agg.runtime().setIdentity(streamID, aggregateID)
	return agg, nil
}

// typeFilterOf converts an aggregate's event-type filter to binding keys for
// store queries. Nil when the aggregate observes everything.
func typeFilterOf(agg Aggregate) adapters.TypeFilter {
	bindings := agg.EventTypeFilter()
	if len(bindings) == 0 {
		return nil
	}
	keys := make(adapters.TypeFilter, len(bindings))
	for i, b := range bindings {
		keys[i] = b.Key()
	}
	return keys
}
