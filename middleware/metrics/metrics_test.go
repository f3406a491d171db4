package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandhq/strand/adapters"
	"github.com/strandhq/strand/adapters/memory"
)

func record(streamID string, sequence int64, typeKey string) adapters.EventRecord {
	return adapters.EventRecord{
		ID:        adapters.EventID(streamID, sequence),
		StreamID:  streamID,
		Sequence:  sequence,
		TypeKey:   typeKey,
		Payload:   []byte(`{}`),
		CreatedAt: time.Now(),
	}
}

func TestNew(t *testing.T) {
	t.Run("registers with a custom registry", func(t *testing.T) {
		m := New(WithMetricsServiceName("orders"))
		registry := prometheus.NewRegistry()

		require.NoError(t, m.Register(registry))
		assert.Len(t, m.Collectors(), 7)
	})

	t.Run("double registration fails", func(t *testing.T) {
		m := New()
		registry := prometheus.NewRegistry()

		require.NoError(t, m.Register(registry))
		assert.Error(t, m.Register(registry))
	})

	t.Run("namespace and subsystem shape metric names", func(t *testing.T) {
		m := New(WithNamespace("acme"), WithSubsystem("billing"), WithMetricsServiceName("orders"))
		store := m.WrapStore(memory.NewStore())

		_, err := store.GetEvents(context.Background(), "cart-1", nil)
		require.NoError(t, err)

		count := testutil.CollectAndCount(m.OperationsTotal(), "acme_billing_store_operations_total")
		assert.Equal(t, 1, count)
	})
}

func TestStoreMiddlewareCounters(t *testing.T) {
	ctx := context.Background()

	t.Run("successful operations count as success", func(t *testing.T) {
		m := New(WithMetricsServiceName("orders"))
		store := m.WrapStore(memory.NewStore())

		require.NoError(t, store.AppendEvents(ctx, "cart-1", []adapters.EventRecord{
			record("cart-1", 1, "OrderCreated|v:1"),
		}, 0))

		value := testutil.ToFloat64(m.OperationsTotal().WithLabelValues("orders", "append_events", StatusSuccess))
		assert.Equal(t, float64(1), value)
	})

	t.Run("appends count per event type", func(t *testing.T) {
		m := New(WithMetricsServiceName("orders"))
		store := m.WrapStore(memory.NewStore())

		require.NoError(t, store.AppendEvents(ctx, "cart-1", []adapters.EventRecord{
			record("cart-1", 1, "OrderCreated|v:1"),
			record("cart-1", 2, "ItemAdded|v:1"),
			record("cart-1", 3, "ItemAdded|v:1"),
		}, 0))

		assert.Equal(t, float64(1),
			testutil.ToFloat64(m.EventsAppendedTotal().WithLabelValues("orders", "OrderCreated|v:1")))
		assert.Equal(t, float64(2),
			testutil.ToFloat64(m.EventsAppendedTotal().WithLabelValues("orders", "ItemAdded|v:1")))
	})

	t.Run("failed appends count nothing as appended", func(t *testing.T) {
		m := New(WithMetricsServiceName("orders"))
		store := m.WrapStore(memory.NewStore())
		require.NoError(t, store.AppendEvents(ctx, "cart-1", []adapters.EventRecord{
			record("cart-1", 1, "OrderCreated|v:1"),
		}, 0))

		err := store.AppendEvents(ctx, "cart-1", []adapters.EventRecord{
			record("cart-1", 1, "OrderCreated|v:1"),
		}, 0)
		require.ErrorIs(t, err, adapters.ErrConcurrencyConflict)

		assert.Equal(t, float64(1),
			testutil.ToFloat64(m.EventsAppendedTotal().WithLabelValues("orders", "OrderCreated|v:1")))
		assert.Equal(t, float64(1),
			testutil.ToFloat64(m.ConcurrencyConflicts().WithLabelValues("orders")))
		assert.Equal(t, float64(1),
			testutil.ToFloat64(m.ErrorsTotal().WithLabelValues("orders", "concurrency_conflict")))
		assert.Equal(t, float64(1),
			testutil.ToFloat64(m.OperationsTotal().WithLabelValues("orders", "append_events", StatusError)))
	})

	t.Run("loads count returned events", func(t *testing.T) {
		m := New(WithMetricsServiceName("orders"))
		store := m.WrapStore(memory.NewStore())
		require.NoError(t, store.AppendEvents(ctx, "cart-1", []adapters.EventRecord{
			record("cart-1", 1, "OrderCreated|v:1"),
			record("cart-1", 2, "ItemAdded|v:1"),
		}, 0))

		_, err := store.GetEvents(ctx, "cart-1", nil)
		require.NoError(t, err)
		_, err = store.GetEventsFromSequence(ctx, "cart-1", 2, nil)
		require.NoError(t, err)

		assert.Equal(t, float64(3),
			testutil.ToFloat64(m.EventsLoadedTotal().WithLabelValues("orders")))
	})

	t.Run("snapshot writes are counted", func(t *testing.T) {
		m := New(WithMetricsServiceName("orders"))
		store := m.WrapStore(memory.NewStore())
		now := time.Now()

		require.NoError(t, store.SaveSnapshot(ctx, adapters.SnapshotRecord{
			AggregateID: "cart-1|v:1", StreamID: "cart-1", TypeKey: "Cart|v:1",
			Version: 1, LatestEventSequence: 1, Payload: []byte(`{}`),
		}, nil))

		require.NoError(t, store.AppendEventsWithSnapshot(ctx, "cart-1",
			[]adapters.EventRecord{record("cart-1", 1, "OrderCreated|v:1")}, 0,
			adapters.SnapshotRecord{
				AggregateID: "cart-1|v:1", StreamID: "cart-1", TypeKey: "Cart|v:1",
				Version: 2, LatestEventSequence: 1, Payload: []byte(`{}`),
				CreatedAt: now, UpdatedAt: now,
			}, nil))

		assert.Equal(t, float64(2),
			testutil.ToFloat64(m.SnapshotsSavedTotal().WithLabelValues("orders")))
	})

	t.Run("closed store failures classify as store_closed", func(t *testing.T) {
		m := New(WithMetricsServiceName("orders"))
		store := m.WrapStore(memory.NewStore())
		require.NoError(t, store.Close())

		err := store.Ping(ctx)
		require.Error(t, err)

		assert.Equal(t, float64(1),
			testutil.ToFloat64(m.ErrorsTotal().WithLabelValues("orders", "store_closed")))
	})
}

func TestErrorTypeName(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{adapters.ErrConcurrencyConflict, "concurrency_conflict"},
		{adapters.NewConcurrencyError("s", 1, 2), "concurrency_conflict"},
		{adapters.ErrStorageFailure, "storage_failure"},
		{adapters.NewStorageError("Op", "s", errors.New("x")), "storage_failure"},
		{adapters.ErrEmptyStreamID, "empty_stream_id"},
		{adapters.ErrNoEvents, "no_events"},
		{adapters.ErrInvalidSequence, "invalid_sequence"},
		{adapters.ErrStoreClosed, "store_closed"},
		{errors.New("anything else"), "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, errorTypeName(tc.err))
		})
	}
}

func TestRecordError(t *testing.T) {
	m := New(WithMetricsServiceName("orders"))

	m.RecordError("replay_failure")
	m.RecordError("replay_failure")

	assert.Equal(t, float64(2),
		testutil.ToFloat64(m.ErrorsTotal().WithLabelValues("orders", "replay_failure")))
}

func TestMetricsOutput(t *testing.T) {
	m := New(WithMetricsServiceName("orders"))
	store := m.WrapStore(memory.NewStore())

	require.NoError(t, store.AppendEvents(context.Background(), "cart-1", []adapters.EventRecord{
		record("cart-1", 1, "OrderCreated|v:1"),
	}, 0))

	expected := fmt.Sprintf(`
		# HELP strand_events_appended_total Total number of events appended to streams.
		# TYPE strand_events_appended_total counter
		strand_events_appended_total{event_type=%q,service="orders"} 1
	`, "OrderCreated|v:1")
	assert.NoError(t, testutil.CollectAndCompare(m.EventsAppendedTotal(), strings.NewReader(expected)))
}
