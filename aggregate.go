package strand

// Aggregate defines the interface for event-sourced aggregates.
// An aggregate is a domain object whose state is a fold over a stream of
// events, materialized periodically into a snapshot.
//
// Concrete aggregates embed AggregateBase and implement AggregateBinding and
// ApplyEvent. ApplyEvent must not touch the version counter: the runtime
// increments it once per handled event, which is the only way it moves.
type Aggregate interface {
	// AggregateBinding returns the stable (name, version) identity of the
	// aggregate type.
	AggregateBinding() Binding

	// ApplyEvent folds a single event into the aggregate's business state and
	// reports whether the event was handled. Unhandled events are not an
	// error; streams may carry events belonging to other aggregate shapes.
	ApplyEvent(event Event) bool

	// EventTypeFilter returns the bindings of the event types this aggregate
	// wants to observe. A nil or empty filter means every event type is
	// eligible (subject to ApplyEvent's own dispatch).
	EventTypeFilter() []Binding

	// Version returns the count of events actually applied.
	Version() int64

	// LatestEventSequence returns the sequence number of the last event
	// considered, handled or not. Always >= Version.
	LatestEventSequence() int64

	// StreamID returns the stream this aggregate was hydrated from.
	StreamID() string

	// AggregateID returns the snapshot identity of this aggregate.
	AggregateID() string

	// UncommittedEvents returns events raised but not yet persisted.
	UncommittedEvents() []Event

	// ClearUncommittedEvents empties the uncommitted buffer after a
	// successful save.
	ClearUncommittedEvents()

	// runtime exposes the embedded AggregateBase to this package. Embedding
	// AggregateBase satisfies it; nothing outside the package can mutate the
	// bookkeeping fields directly.
	runtime() *AggregateBase
}

// raisedEvent pairs an uncommitted event with the outcome of its ApplyEvent
// dispatch, so save can link exactly the events that shaped the snapshot.
type raisedEvent struct {
	event   Event
	handled bool
}

// AggregateBase provides the runtime bookkeeping every aggregate needs:
// identity, version counter, latest observed sequence, and the uncommitted
// event buffer. Embed it by value in concrete aggregate types.
//
// All fields are unexported, so codecs serialize only the embedding type's
// business state; the bookkeeping travels in dedicated snapshot columns.
type AggregateBase struct {
	streamID            string
	aggregateID         string
	version             int64
	latestEventSequence int64
	uncommitted         []raisedEvent
}

// Version returns the count of events actually applied.
func (b *AggregateBase) Version() int64 {
	return b.version
}

// LatestEventSequence returns the sequence of the last event considered.
func (b *AggregateBase) LatestEventSequence() int64 {
	return b.latestEventSequence
}

// StreamID returns the stream this aggregate belongs to.
func (b *AggregateBase) StreamID() string {
	return b.streamID
}

// AggregateID returns the snapshot identity of this aggregate.
func (b *AggregateBase) AggregateID() string {
	return b.aggregateID
}

// UncommittedEvents returns events raised but not yet persisted, in order.
func (b *AggregateBase) UncommittedEvents() []Event {
	events := make([]Event, len(b.uncommitted))
	for i, raised := range b.uncommitted {
		events[i] = raised.event
	}
	return events
}

// HasUncommittedEvents reports whether events are waiting to be persisted.
func (b *AggregateBase) HasUncommittedEvents() bool {
	return len(b.uncommitted) > 0
}

// ClearUncommittedEvents empties the uncommitted buffer.
func (b *AggregateBase) ClearUncommittedEvents() {
	b.uncommitted = nil
}

// EventTypeFilter returns nil, making every event type eligible. Aggregates
// that only care about a subset of a shared stream override this.
func (b *AggregateBase) EventTypeFilter() []Binding {
	return nil
}

func (b *AggregateBase) runtime() *AggregateBase {
	return b
}

// setIdentity stamps the stream and snapshot identity during hydration.
func (b *AggregateBase) setIdentity(streamID, aggregateID string) {
	b.streamID = streamID
	b.aggregateID = aggregateID
}

// Raise records a new domain event on the aggregate and applies it to the
// in-memory state. The event joins the uncommitted buffer either way; the
// version advances only if the aggregate's ApplyEvent reports it handled.
// Business methods call this to produce state changes.
func Raise(agg Aggregate, event Event) {
	rt := agg.runtime()
	handled := agg.ApplyEvent(event)
	rt.uncommitted = append(rt.uncommitted, raisedEvent{event: event, handled: handled})
	if handled {
		rt.version++
	}
}

// HandlesEventType reports whether an event binding passes the aggregate's
// type filter. An empty filter admits every type.
func HandlesEventType(agg Aggregate, binding Binding) bool {
	filter := agg.EventTypeFilter()
	if len(filter) == 0 {
		return true
	}
	for _, allowed := range filter {
		if allowed == binding {
			return true
		}
	}
	return false
}

// applyCommitted folds an already-persisted event into the aggregate,
// advancing the version for handled events and the latest observed sequence
// unconditionally. Historical replay must supply events in ascending
// sequence order; no reordering or deduplication happens here.
func applyCommitted(agg Aggregate, event Event, sequence int64) bool {
	rt := agg.runtime()
	handled := agg.ApplyEvent(event)
	if handled {
		rt.version++
	}
	if sequence > rt.latestEventSequence {
		rt.latestEventSequence = sequence
	}
	return handled
}
