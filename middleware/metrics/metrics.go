// Package metrics provides Prometheus metrics integration for strand.
//
// The store middleware wraps a DataStore and records operation counts,
// durations, concurrency conflicts, and event throughput.
//
// Basic usage:
//
//	m := metrics.New(metrics.WithMetricsServiceName("orders"))
//	m.MustRegister()
//
//	store := m.WrapStore(postgresStore)
//	svc := strand.NewService(store, registry)
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/strandhq/strand/adapters"
)

// Default metric labels.
const (
	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelErrorType = "error_type"
	LabelEventType = "event_type"
	LabelService   = "service"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds all Prometheus metrics for strand.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	operationsTotal      *prometheus.CounterVec
	operationDuration    *prometheus.HistogramVec
	eventsAppendedTotal  *prometheus.CounterVec
	eventsLoadedTotal    *prometheus.CounterVec
	snapshotsSavedTotal  *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec
	errorsTotal          *prometheus.CounterVec
}

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithMetricsServiceName sets the service name label.
func WithMetricsServiceName(name string) MetricsOption {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a new Metrics instance with default settings.
func New(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		namespace:   "strand",
		subsystem:   "",
		serviceName: "unknown",
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initMetrics()
	return m
}

func (m *Metrics) initMetrics() {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "store_operations_total",
			Help:      "Total number of data store operations.",
		},
		[]string{LabelService, LabelOperation, LabelStatus},
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "store_operation_duration_seconds",
			Help:      "Duration of data store operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelOperation},
	)

	m.eventsAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_appended_total",
			Help:      "Total number of events appended to streams.",
		},
		[]string{LabelService, LabelEventType},
	)

	m.eventsLoadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_loaded_total",
			Help:      "Total number of events loaded from streams.",
		},
		[]string{LabelService},
	)

	m.snapshotsSavedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "snapshots_saved_total",
			Help:      "Total number of snapshot writes.",
		},
		[]string{LabelService},
	)

	m.concurrencyConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "concurrency_conflicts_total",
			Help:      "Total number of optimistic concurrency conflicts.",
		},
		[]string{LabelService},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors by type.",
		},
		[]string{LabelService, LabelErrorType},
	)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.operationsTotal,
		m.operationDuration,
		m.eventsAppendedTotal,
		m.eventsLoadedTotal,
		m.snapshotsSavedTotal,
		m.concurrencyConflicts,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
// Panics if registration fails.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// errorTypeName classifies an error by its sentinel.
func errorTypeName(err error) string {
	switch {
	case errors.Is(err, adapters.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, adapters.ErrStorageFailure):
		return "storage_failure"
	case errors.Is(err, adapters.ErrEmptyStreamID):
		return "empty_stream_id"
	case errors.Is(err, adapters.ErrNoEvents):
		return "no_events"
	case errors.Is(err, adapters.ErrInvalidSequence):
		return "invalid_sequence"
	case errors.Is(err, adapters.ErrStoreClosed):
		return "store_closed"
	default:
		return "unknown"
	}
}

// Ensure StoreMiddleware implements the data store contract.
var _ adapters.DataStore = (*StoreMiddleware)(nil)

// StoreMiddleware wraps a DataStore with metrics.
type StoreMiddleware struct {
	store   adapters.DataStore
	metrics *Metrics
}

// WrapStore wraps a data store with metrics collection.
func (m *Metrics) WrapStore(store adapters.DataStore) *StoreMiddleware {
	return &StoreMiddleware{
		store:   store,
		metrics: m,
	}
}

// observe records the shared per-operation metrics and classifies failures.
func (sm *StoreMiddleware) observe(op string, start time.Time, err error) {
	m := sm.metrics
	m.operationDuration.WithLabelValues(m.serviceName, op).Observe(time.Since(start).Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		m.errorsTotal.WithLabelValues(m.serviceName, errorTypeName(err)).Inc()
		if errors.Is(err, adapters.ErrConcurrencyConflict) {
			m.concurrencyConflicts.WithLabelValues(m.serviceName).Inc()
		}
	}
	m.operationsTotal.WithLabelValues(m.serviceName, op, status).Inc()
}

// observeLoaded records the shared metrics plus the loaded-event count.
func (sm *StoreMiddleware) observeLoaded(op string, start time.Time, events []adapters.EventRecord, err error) {
	sm.observe(op, start, err)
	if err == nil {
		sm.metrics.eventsLoadedTotal.WithLabelValues(sm.metrics.serviceName).Add(float64(len(events)))
	}
}

// GetSnapshot returns the snapshot for the aggregate with metrics.
func (sm *StoreMiddleware) GetSnapshot(ctx context.Context, streamID, aggregateID string) (*adapters.SnapshotRecord, error) {
	start := time.Now()
	snapshot, err := sm.store.GetSnapshot(ctx, streamID, aggregateID)
	sm.observe("get_snapshot", start, err)
	return snapshot, err
}

// GetSnapshotEventLinks returns the snapshot's event links with metrics.
func (sm *StoreMiddleware) GetSnapshotEventLinks(ctx context.Context, streamID, aggregateID string) ([]adapters.EventLink, error) {
	start := time.Now()
	links, err := sm.store.GetSnapshotEventLinks(ctx, streamID, aggregateID)
	sm.observe("get_snapshot_event_links", start, err)
	return links, err
}

// GetEvents returns all events in the stream with metrics.
func (sm *StoreMiddleware) GetEvents(ctx context.Context, streamID string, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	start := time.Now()
	events, err := sm.store.GetEvents(ctx, streamID, filter)
	sm.observeLoaded("get_events", start, events, err)
	return events, err
}

// GetEventsByIDs returns events by ID with metrics.
func (sm *StoreMiddleware) GetEventsByIDs(ctx context.Context, streamID string, ids []string) ([]adapters.EventRecord, error) {
	start := time.Now()
	events, err := sm.store.GetEventsByIDs(ctx, streamID, ids)
	sm.observeLoaded("get_events_by_ids", start, events, err)
	return events, err
}

// GetEventsFromSequence returns events with sequence >= from, measured.
func (sm *StoreMiddleware) GetEventsFromSequence(ctx context.Context, streamID string, from int64, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	start := time.Now()
	events, err := sm.store.GetEventsFromSequence(ctx, streamID, from, filter)
	sm.observeLoaded("get_events_from_sequence", start, events, err)
	return events, err
}

// GetEventsUpToSequence returns events with sequence <= to, measured.
func (sm *StoreMiddleware) GetEventsUpToSequence(ctx context.Context, streamID string, to int64, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	start := time.Now()
	events, err := sm.store.GetEventsUpToSequence(ctx, streamID, to, filter)
	sm.observeLoaded("get_events_up_to_sequence", start, events, err)
	return events, err
}

// GetEventsBetweenSequences returns a sequence range of events, measured.
func (sm *StoreMiddleware) GetEventsBetweenSequences(ctx context.Context, streamID string, from, to int64, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	start := time.Now()
	events, err := sm.store.GetEventsBetweenSequences(ctx, streamID, from, to, filter)
	sm.observeLoaded("get_events_between_sequences", start, events, err)
	return events, err
}

// GetEventsFromDate returns events created at or after from, measured.
func (sm *StoreMiddleware) GetEventsFromDate(ctx context.Context, streamID string, from time.Time, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	start := time.Now()
	events, err := sm.store.GetEventsFromDate(ctx, streamID, from, filter)
	sm.observeLoaded("get_events_from_date", start, events, err)
	return events, err
}

// GetEventsUpToDate returns events created at or before to, measured.
func (sm *StoreMiddleware) GetEventsUpToDate(ctx context.Context, streamID string, to time.Time, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	start := time.Now()
	events, err := sm.store.GetEventsUpToDate(ctx, streamID, to, filter)
	sm.observeLoaded("get_events_up_to_date", start, events, err)
	return events, err
}

// GetEventsBetweenDates returns a date range of events, measured.
func (sm *StoreMiddleware) GetEventsBetweenDates(ctx context.Context, streamID string, from, to time.Time, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	start := time.Now()
	events, err := sm.store.GetEventsBetweenDates(ctx, streamID, from, to, filter)
	sm.observeLoaded("get_events_between_dates", start, events, err)
	return events, err
}

// GetLatestSequence returns the stream's highest sequence with metrics.
func (sm *StoreMiddleware) GetLatestSequence(ctx context.Context, streamID string) (int64, error) {
	start := time.Now()
	seq, err := sm.store.GetLatestSequence(ctx, streamID)
	sm.observe("get_latest_sequence", start, err)
	return seq, err
}

// AppendEvents writes a batch of event records with metrics.
func (sm *StoreMiddleware) AppendEvents(ctx context.Context, streamID string, records []adapters.EventRecord, expectedSequence int64) error {
	start := time.Now()
	err := sm.store.AppendEvents(ctx, streamID, records, expectedSequence)
	sm.observe("append_events", start, err)
	if err == nil {
		sm.countAppended(records)
	}
	return err
}

// AppendEventsWithSnapshot writes events, snapshot, and links with metrics.
func (sm *StoreMiddleware) AppendEventsWithSnapshot(ctx context.Context, streamID string, records []adapters.EventRecord, expectedSequence int64, snapshot adapters.SnapshotRecord, links []adapters.EventLink) error {
	start := time.Now()
	err := sm.store.AppendEventsWithSnapshot(ctx, streamID, records, expectedSequence, snapshot, links)
	sm.observe("append_events_with_snapshot", start, err)
	if err == nil {
		sm.countAppended(records)
		sm.metrics.snapshotsSavedTotal.WithLabelValues(sm.metrics.serviceName).Inc()
	}
	return err
}

// SaveSnapshot upserts a snapshot with metrics.
func (sm *StoreMiddleware) SaveSnapshot(ctx context.Context, snapshot adapters.SnapshotRecord, links []adapters.EventLink) error {
	start := time.Now()
	err := sm.store.SaveSnapshot(ctx, snapshot, links)
	sm.observe("save_snapshot", start, err)
	if err == nil {
		sm.metrics.snapshotsSavedTotal.WithLabelValues(sm.metrics.serviceName).Inc()
	}
	return err
}

// DeleteSnapshot removes a snapshot with metrics.
func (sm *StoreMiddleware) DeleteSnapshot(ctx context.Context, streamID, aggregateID string) error {
	start := time.Now()
	err := sm.store.DeleteSnapshot(ctx, streamID, aggregateID)
	sm.observe("delete_snapshot", start, err)
	return err
}

// Ping checks backend connectivity with metrics.
func (sm *StoreMiddleware) Ping(ctx context.Context) error {
	start := time.Now()
	err := sm.store.Ping(ctx)
	sm.observe("ping", start, err)
	return err
}

// Close closes the underlying store.
func (sm *StoreMiddleware) Close() error {
	return sm.store.Close()
}

func (sm *StoreMiddleware) countAppended(records []adapters.EventRecord) {
	for _, record := range records {
		sm.metrics.eventsAppendedTotal.WithLabelValues(sm.metrics.serviceName, record.TypeKey).Inc()
	}
}

// RecordError records a custom error.
func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.WithLabelValues(m.serviceName, errorType).Inc()
}

// OperationsTotal returns the operations counter.
func (m *Metrics) OperationsTotal() *prometheus.CounterVec {
	return m.operationsTotal
}

// OperationDuration returns the operation duration histogram.
func (m *Metrics) OperationDuration() *prometheus.HistogramVec {
	return m.operationDuration
}

// EventsAppendedTotal returns the events appended counter.
func (m *Metrics) EventsAppendedTotal() *prometheus.CounterVec {
	return m.eventsAppendedTotal
}

// EventsLoadedTotal returns the events loaded counter.
func (m *Metrics) EventsLoadedTotal() *prometheus.CounterVec {
	return m.eventsLoadedTotal
}

// SnapshotsSavedTotal returns the snapshot writes counter.
func (m *Metrics) SnapshotsSavedTotal() *prometheus.CounterVec {
	return m.snapshotsSavedTotal
}

// ConcurrencyConflicts returns the concurrency conflicts counter.
func (m *Metrics) ConcurrencyConflicts() *prometheus.CounterVec {
	return m.concurrencyConflicts
}

// ErrorsTotal returns the errors counter.
func (m *Metrics) ErrorsTotal() *prometheus.CounterVec {
	return m.errorsTotal
}
