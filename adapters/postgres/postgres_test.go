package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandhq/strand/adapters"
)

// getTestDB returns a database connection for testing.
// Set TEST_DATABASE_URL environment variable to run integration tests.
func getTestDB(t *testing.T) *sql.DB {
	t.Helper()
	connStr := os.Getenv("TEST_DATABASE_URL")
	if connStr == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	return db
}

// newTestStore creates a store in a throwaway schema and tears it down.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := getTestDB(t)
	schema := fmt.Sprintf("strand_test_%d", time.Now().UnixNano())
	store := NewStoreWithDB(db, WithSchema(schema))
	require.NoError(t, store.Initialize(context.Background()))
	t.Cleanup(func() {
		_, _ = db.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema))
		_ = db.Close()
	})
	return store
}

func record(streamID string, sequence int64, typeKey string, createdAt time.Time) adapters.EventRecord {
	return adapters.EventRecord{
		ID:        adapters.EventID(streamID, sequence),
		StreamID:  streamID,
		Sequence:  sequence,
		TypeKey:   typeKey,
		Payload:   []byte(fmt.Sprintf(`{"seq":%d}`, sequence)),
		CreatedAt: createdAt,
		CreatedBy: "tester",
	}
}

func seedStream(t *testing.T, store *Store, streamID string, count int) {
	t.Helper()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	records := make([]adapters.EventRecord, count)
	for i := 0; i < count; i++ {
		typeKey := "ItemAdded|v:1"
		if i%2 == 0 {
			typeKey = "OrderCreated|v:1"
		}
		records[i] = record(streamID, int64(i+1), typeKey, base.Add(time.Duration(i)*time.Minute))
	}
	require.NoError(t, store.AppendEvents(context.Background(), streamID, records, 0))
}

func sequences(records []adapters.EventRecord) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.Sequence
	}
	return out
}

func TestSchemaStatements(t *testing.T) {
	t.Run("defaults to the strand schema", func(t *testing.T) {
		store := NewStoreWithDB(nil)

		joined := strings.Join(store.SchemaStatements(), "\n")

		assert.Contains(t, joined, "CREATE SCHEMA IF NOT EXISTS strand")
		assert.Contains(t, joined, "strand.events")
		assert.Contains(t, joined, "strand.snapshots")
		assert.Contains(t, joined, "strand.snapshot_events")
		assert.Contains(t, joined, "UNIQUE(stream_id, sequence)")
	})

	t.Run("honors a custom schema", func(t *testing.T) {
		store := NewStoreWithDB(nil, WithSchema("billing"))

		joined := strings.Join(store.SchemaStatements(), "\n")

		assert.Contains(t, joined, "billing.events")
		assert.NotContains(t, joined, "strand.events")
	})
}

func TestTranslateAppendError(t *testing.T) {
	// An unreachable backend makes the best-effort tail re-read fail, so the
	// conflict falls back to the expected sequence.
	db, err := sql.Open("pgx", "postgres://127.0.0.1:1/strand")
	require.NoError(t, err)
	defer db.Close()
	store := NewStoreWithDB(db)

	t.Run("unique violations map to concurrency conflicts", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: uniqueViolation}

		err := store.translateAppendError(context.Background(), "AppendEvents", "cart-1", 3, pgErr)

		require.ErrorIs(t, err, adapters.ErrConcurrencyConflict)
		var conflict *adapters.ConcurrencyError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "cart-1", conflict.StreamID)
		assert.Equal(t, int64(3), conflict.ExpectedSequence)
		assert.Equal(t, int64(3), conflict.ActualSequence)
	})

	t.Run("other errors stay opaque storage failures", func(t *testing.T) {
		err := store.translateAppendError(context.Background(), "AppendEvents", "cart-1", 3,
			fmt.Errorf("connection reset"))

		assert.ErrorIs(t, err, adapters.ErrStorageFailure)
		assert.NotContains(t, err.Error(), "connection reset")
	})
}

func TestPostgresAppendEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("appends and reads back", func(t *testing.T) {
		seedStream(t, store, "cart-1", 3)

		records, err := store.GetEvents(ctx, "cart-1", nil)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, sequences(records))
		assert.Equal(t, "tester", records[0].CreatedBy)
	})

	t.Run("rejects a stale expected sequence", func(t *testing.T) {
		err := store.AppendEvents(ctx, "cart-1", []adapters.EventRecord{
			record("cart-1", 1, "ItemAdded|v:1", time.Now()),
		}, 0)

		require.ErrorIs(t, err, adapters.ErrConcurrencyConflict)
		var conflict *adapters.ConcurrencyError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, int64(3), conflict.ActualSequence)
	})

	t.Run("GetLatestSequence", func(t *testing.T) {
		latest, err := store.GetLatestSequence(ctx, "cart-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), latest)

		latest, err = store.GetLatestSequence(ctx, "unknown")
		require.NoError(t, err)
		assert.Equal(t, int64(0), latest)
	})
}

func TestPostgresEventQueries(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	seedStream(t, store, "cart-1", 5)

	t.Run("type filter", func(t *testing.T) {
		records, err := store.GetEvents(ctx, "cart-1", adapters.TypeFilter{"ItemAdded|v:1"})
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 4}, sequences(records))
	})

	t.Run("GetEventsByIDs", func(t *testing.T) {
		records, err := store.GetEventsByIDs(ctx, "cart-1", []string{"cart-1:4", "cart-1:1"})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 4}, sequences(records))
	})

	t.Run("sequence ranges are inclusive", func(t *testing.T) {
		records, err := store.GetEventsBetweenSequences(ctx, "cart-1", 2, 4, nil)
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3, 4}, sequences(records))
	})

	t.Run("date ranges are inclusive", func(t *testing.T) {
		records, err := store.GetEventsBetweenDates(ctx, "cart-1",
			base.Add(time.Minute), base.Add(3*time.Minute), nil)
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3, 4}, sequences(records))
	})
}

func TestPostgresSnapshots(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	snapshot := func(version int64) adapters.SnapshotRecord {
		return adapters.SnapshotRecord{
			AggregateID:         "cart-1|v:1",
			StreamID:            "cart-1",
			TypeKey:             "Cart|v:1",
			Version:             version,
			LatestEventSequence: version,
			Payload:             []byte(`{"owner":"ada"}`),
			CreatedAt:           now,
			CreatedBy:           "ada",
			UpdatedAt:           now,
			UpdatedBy:           "ada",
		}
	}

	t.Run("missing snapshot is nil", func(t *testing.T) {
		got, err := store.GetSnapshot(ctx, "cart-1", "cart-1|v:1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("save, upsert, and link accumulation", func(t *testing.T) {
		require.NoError(t, store.SaveSnapshot(ctx, snapshot(1), []adapters.EventLink{
			{AggregateID: "cart-1|v:1", EventID: "cart-1:1", AppliedAt: now},
		}))

		updated := snapshot(2)
		updated.CreatedBy = "bob"
		updated.UpdatedBy = "bob"
		require.NoError(t, store.SaveSnapshot(ctx, updated, []adapters.EventLink{
			{AggregateID: "cart-1|v:1", EventID: "cart-1:2", AppliedAt: now},
		}))

		got, err := store.GetSnapshot(ctx, "cart-1", "cart-1|v:1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(2), got.Version)
		assert.Equal(t, "ada", got.CreatedBy, "created audit fields survive the upsert")
		assert.Equal(t, "bob", got.UpdatedBy)

		links, err := store.GetSnapshotEventLinks(ctx, "cart-1", "cart-1|v:1")
		require.NoError(t, err)
		assert.Len(t, links, 2)
	})

	t.Run("DeleteSnapshot", func(t *testing.T) {
		require.NoError(t, store.DeleteSnapshot(ctx, "cart-1", "cart-1|v:1"))

		got, err := store.GetSnapshot(ctx, "cart-1", "cart-1|v:1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestPostgresAppendEventsWithSnapshot(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	t.Run("atomic write of events, snapshot, and links", func(t *testing.T) {
		err := store.AppendEventsWithSnapshot(ctx, "cart-2",
			[]adapters.EventRecord{record("cart-2", 1, "OrderCreated|v:1", now)}, 0,
			adapters.SnapshotRecord{
				AggregateID: "cart-2|v:1", StreamID: "cart-2", TypeKey: "Cart|v:1",
				Version: 1, LatestEventSequence: 1, Payload: []byte(`{}`),
				CreatedAt: now, UpdatedAt: now,
			},
			[]adapters.EventLink{{AggregateID: "cart-2|v:1", EventID: "cart-2:1", AppliedAt: now}})
		require.NoError(t, err)

		got, err := store.GetSnapshot(ctx, "cart-2", "cart-2|v:1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("a rejected append rolls back the snapshot", func(t *testing.T) {
		err := store.AppendEventsWithSnapshot(ctx, "cart-2",
			[]adapters.EventRecord{record("cart-2", 1, "OrderCreated|v:1", now)}, 0,
			adapters.SnapshotRecord{
				AggregateID: "cart-2|v:2", StreamID: "cart-2", TypeKey: "Cart|v:2",
				Version: 1, LatestEventSequence: 1, Payload: []byte(`{}`),
				CreatedAt: now, UpdatedAt: now,
			}, nil)
		require.ErrorIs(t, err, adapters.ErrConcurrencyConflict)

		got, snapErr := store.GetSnapshot(ctx, "cart-2", "cart-2|v:2")
		require.NoError(t, snapErr)
		assert.Nil(t, got)
	})
}
