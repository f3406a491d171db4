// Package tracing provides OpenTelemetry integration for strand.
//
// The store middleware wraps a DataStore so every storage operation produces
// a span carrying the stream ID, sequence bounds, and result counts. Opaque
// storage errors stay opaque to callers; the span records the unwrapped
// cause for the trace sink.
//
// Basic usage:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer()
//	store := tracing.WrapStore(memory.NewStore(), tracer)
//	svc := strand.NewService(store, registry)
package tracing

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/strandhq/strand/adapters"
)

const (
	// TracerName is the name of the strand tracer.
	TracerName = "github.com/strandhq/strand"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "strand"
)

// Tracer wraps an OpenTelemetry tracer for strand operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a new Tracer with the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

// Ensure StoreMiddleware implements the data store contract.
var _ adapters.DataStore = (*StoreMiddleware)(nil)

// StoreMiddleware wraps a DataStore with tracing.
type StoreMiddleware struct {
	store  adapters.DataStore
	tracer *Tracer
}

// WrapStore wraps a data store with tracing.
func WrapStore(store adapters.DataStore, tracer *Tracer) *StoreMiddleware {
	return &StoreMiddleware{
		store:  store,
		tracer: tracer,
	}
}

// recordResult finishes a span with the outcome. Storage errors carry
// deliberately generic messages; the unwrapped cause is recorded on the span
// so diagnostic detail lands in the trace, not in calling code.
func recordResult(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	var storageErr *adapters.StorageError
	if errors.As(err, &storageErr) {
		if cause := storageErr.Unwrap(); cause != nil {
			span.RecordError(cause)
		}
	}
	var concurrencyErr *adapters.ConcurrencyError
	if errors.As(err, &concurrencyErr) {
		span.SetAttributes(
			attribute.Int64("strand.sequence.expected", concurrencyErr.ExpectedSequence),
			attribute.Int64("strand.sequence.actual", concurrencyErr.ActualSequence),
		)
	}
	span.SetStatus(codes.Error, err.Error())
}

// queryEvents traces a read returning event records.
func (m *StoreMiddleware) queryEvents(ctx context.Context, name, streamID string, attrs []attribute.KeyValue, query func(context.Context) ([]adapters.EventRecord, error)) ([]adapters.EventRecord, error) {
	ctx, span := m.tracer.StartSpan(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(append([]attribute.KeyValue{
		attribute.String("strand.service", m.tracer.serviceName),
		attribute.String("strand.stream_id", streamID),
	}, attrs...)...)

	events, err := query(ctx)
	if err == nil {
		span.SetAttributes(attribute.Int("strand.events.loaded", len(events)))
	}
	recordResult(span, err)
	return events, err
}

// GetSnapshot returns the snapshot for the aggregate with tracing.
func (m *StoreMiddleware) GetSnapshot(ctx context.Context, streamID, aggregateID string) (*adapters.SnapshotRecord, error) {
	ctx, span := m.tracer.StartSpan(ctx, "store.get_snapshot", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("strand.service", m.tracer.serviceName),
		attribute.String("strand.stream_id", streamID),
		attribute.String("strand.aggregate_id", aggregateID),
	)

	snapshot, err := m.store.GetSnapshot(ctx, streamID, aggregateID)
	if err == nil {
		span.SetAttributes(attribute.Bool("strand.snapshot.found", snapshot != nil))
		if snapshot != nil {
			span.SetAttributes(
				attribute.Int64("strand.snapshot.version", snapshot.Version),
				attribute.Int64("strand.snapshot.latest_event_sequence", snapshot.LatestEventSequence),
			)
		}
	}
	recordResult(span, err)
	return snapshot, err
}

// GetSnapshotEventLinks returns the snapshot's event links with tracing.
func (m *StoreMiddleware) GetSnapshotEventLinks(ctx context.Context, streamID, aggregateID string) ([]adapters.EventLink, error) {
	ctx, span := m.tracer.StartSpan(ctx, "store.get_snapshot_event_links", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("strand.service", m.tracer.serviceName),
		attribute.String("strand.stream_id", streamID),
		attribute.String("strand.aggregate_id", aggregateID),
	)

	links, err := m.store.GetSnapshotEventLinks(ctx, streamID, aggregateID)
	if err == nil {
		span.SetAttributes(attribute.Int("strand.links.loaded", len(links)))
	}
	recordResult(span, err)
	return links, err
}

// GetEvents returns all events in the stream with tracing.
func (m *StoreMiddleware) GetEvents(ctx context.Context, streamID string, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return m.queryEvents(ctx, "store.get_events", streamID, filterAttrs(filter), func(ctx context.Context) ([]adapters.EventRecord, error) {
		return m.store.GetEvents(ctx, streamID, filter)
	})
}

// GetEventsByIDs returns events by ID with tracing.
func (m *StoreMiddleware) GetEventsByIDs(ctx context.Context, streamID string, ids []string) ([]adapters.EventRecord, error) {
	attrs := []attribute.KeyValue{attribute.Int("strand.ids.count", len(ids))}
	return m.queryEvents(ctx, "store.get_events_by_ids", streamID, attrs, func(ctx context.Context) ([]adapters.EventRecord, error) {
		return m.store.GetEventsByIDs(ctx, streamID, ids)
	})
}

// GetEventsFromSequence returns events with sequence >= from, traced.
func (m *StoreMiddleware) GetEventsFromSequence(ctx context.Context, streamID string, from int64, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	attrs := append(filterAttrs(filter), attribute.Int64("strand.sequence.from", from))
	return m.queryEvents(ctx, "store.get_events_from_sequence", streamID, attrs, func(ctx context.Context) ([]adapters.EventRecord, error) {
		return m.store.GetEventsFromSequence(ctx, streamID, from, filter)
	})
}

// GetEventsUpToSequence returns events with sequence <= to, traced.
func (m *StoreMiddleware) GetEventsUpToSequence(ctx context.Context, streamID string, to int64, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	attrs := append(filterAttrs(filter), attribute.Int64("strand.sequence.to", to))
	return m.queryEvents(ctx, "store.get_events_up_to_sequence", streamID, attrs, func(ctx context.Context) ([]adapters.EventRecord, error) {
		return m.store.GetEventsUpToSequence(ctx, streamID, to, filter)
	})
}

// GetEventsBetweenSequences returns a sequence range of events, traced.
func (m *StoreMiddleware) GetEventsBetweenSequences(ctx context.Context, streamID string, from, to int64, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	attrs := append(filterAttrs(filter),
		attribute.Int64("strand.sequence.from", from),
		attribute.Int64("strand.sequence.to", to),
	)
	return m.queryEvents(ctx, "store.get_events_between_sequences", streamID, attrs, func(ctx context.Context) ([]adapters.EventRecord, error) {
		return m.store.GetEventsBetweenSequences(ctx, streamID, from, to, filter)
	})
}

// GetEventsFromDate returns events created at or after from, traced.
func (m *StoreMiddleware) GetEventsFromDate(ctx context.Context, streamID string, from time.Time, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	attrs := append(filterAttrs(filter), attribute.String("strand.date.from", from.Format(time.RFC3339)))
	return m.queryEvents(ctx, "store.get_events_from_date", streamID, attrs, func(ctx context.Context) ([]adapters.EventRecord, error) {
		return m.store.GetEventsFromDate(ctx, streamID, from, filter)
	})
}

// GetEventsUpToDate returns events created at or before to, traced.
func (m *StoreMiddleware) GetEventsUpToDate(ctx context.Context, streamID string, to time.Time, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	attrs := append(filterAttrs(filter), attribute.String("strand.date.to", to.Format(time.RFC3339)))
	return m.queryEvents(ctx, "store.get_events_up_to_date", streamID, attrs, func(ctx context.Context) ([]adapters.EventRecord, error) {
		return m.store.GetEventsUpToDate(ctx, streamID, to, filter)
	})
}

// GetEventsBetweenDates returns a date range of events, traced.
func (m *StoreMiddleware) GetEventsBetweenDates(ctx context.Context, streamID string, from, to time.Time, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	attrs := append(filterAttrs(filter),
		attribute.String("strand.date.from", from.Format(time.RFC3339)),
		attribute.String("strand.date.to", to.Format(time.RFC3339)),
	)
	return m.queryEvents(ctx, "store.get_events_between_dates", streamID, attrs, func(ctx context.Context) ([]adapters.EventRecord, error) {
		return m.store.GetEventsBetweenDates(ctx, streamID, from, to, filter)
	})
}

// GetLatestSequence returns the stream's highest sequence with tracing.
func (m *StoreMiddleware) GetLatestSequence(ctx context.Context, streamID string) (int64, error) {
	ctx, span := m.tracer.StartSpan(ctx, "store.get_latest_sequence", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("strand.service", m.tracer.serviceName),
		attribute.String("strand.stream_id", streamID),
	)

	seq, err := m.store.GetLatestSequence(ctx, streamID)
	if err == nil {
		span.SetAttributes(attribute.Int64("strand.sequence.latest", seq))
	}
	recordResult(span, err)
	return seq, err
}

// AppendEvents writes a batch of event records with tracing.
func (m *StoreMiddleware) AppendEvents(ctx context.Context, streamID string, records []adapters.EventRecord, expectedSequence int64) error {
	ctx, span := m.tracer.StartSpan(ctx, "store.append_events", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(appendAttrs(m.tracer.serviceName, streamID, records, expectedSequence)...)

	err := m.store.AppendEvents(ctx, streamID, records, expectedSequence)
	recordResult(span, err)
	return err
}

// AppendEventsWithSnapshot writes events, snapshot, and links with tracing.
func (m *StoreMiddleware) AppendEventsWithSnapshot(ctx context.Context, streamID string, records []adapters.EventRecord, expectedSequence int64, snapshot adapters.SnapshotRecord, links []adapters.EventLink) error {
	ctx, span := m.tracer.StartSpan(ctx, "store.append_events_with_snapshot", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(append(appendAttrs(m.tracer.serviceName, streamID, records, expectedSequence),
		attribute.String("strand.aggregate_id", snapshot.AggregateID),
		attribute.Int64("strand.snapshot.version", snapshot.Version),
		attribute.Int("strand.links.count", len(links)),
	)...)

	err := m.store.AppendEventsWithSnapshot(ctx, streamID, records, expectedSequence, snapshot, links)
	recordResult(span, err)
	return err
}

// SaveSnapshot upserts a snapshot with tracing.
func (m *StoreMiddleware) SaveSnapshot(ctx context.Context, snapshot adapters.SnapshotRecord, links []adapters.EventLink) error {
	ctx, span := m.tracer.StartSpan(ctx, "store.save_snapshot", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("strand.service", m.tracer.serviceName),
		attribute.String("strand.stream_id", snapshot.StreamID),
		attribute.String("strand.aggregate_id", snapshot.AggregateID),
		attribute.Int64("strand.snapshot.version", snapshot.Version),
		attribute.Int64("strand.snapshot.latest_event_sequence", snapshot.LatestEventSequence),
		attribute.Int("strand.links.count", len(links)),
	)

	err := m.store.SaveSnapshot(ctx, snapshot, links)
	recordResult(span, err)
	return err
}

// DeleteSnapshot removes a snapshot with tracing.
func (m *StoreMiddleware) DeleteSnapshot(ctx context.Context, streamID, aggregateID string) error {
	ctx, span := m.tracer.StartSpan(ctx, "store.delete_snapshot", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("strand.service", m.tracer.serviceName),
		attribute.String("strand.stream_id", streamID),
		attribute.String("strand.aggregate_id", aggregateID),
	)

	err := m.store.DeleteSnapshot(ctx, streamID, aggregateID)
	recordResult(span, err)
	return err
}

// Ping checks backend connectivity with tracing.
func (m *StoreMiddleware) Ping(ctx context.Context) error {
	ctx, span := m.tracer.StartSpan(ctx, "store.ping", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(attribute.String("strand.service", m.tracer.serviceName))

	err := m.store.Ping(ctx)
	recordResult(span, err)
	return err
}

// Close closes the underlying store.
func (m *StoreMiddleware) Close() error {
	return m.store.Close()
}

func filterAttrs(filter adapters.TypeFilter) []attribute.KeyValue {
	if len(filter) == 0 {
		return nil
	}
	return []attribute.KeyValue{attribute.StringSlice("strand.filter.type_keys", filter)}
}

func appendAttrs(serviceName, streamID string, records []adapters.EventRecord, expectedSequence int64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("strand.service", serviceName),
		attribute.String("strand.stream_id", streamID),
		attribute.Int64("strand.sequence.expected", expectedSequence),
		attribute.Int("strand.events.count", len(records)),
	}
	if len(records) > 0 {
		types := make([]string, len(records))
		for i, r := range records {
			types[i] = r.TypeKey
		}
		attrs = append(attrs, attribute.StringSlice("strand.events.types", types))
	}
	return attrs
}

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, opts...)
}

// SetError sets an error on the current span.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}
