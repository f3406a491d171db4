// Package sqlite provides a SQLite implementation of the strand data store.
// It runs in process with no external dependencies, which makes it a good fit
// for single-node deployments and integration tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/strandhq/strand/adapters"
)

// Sentinel errors for the sqlite store.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	ErrStoreClosed         = adapters.ErrStoreClosed
	ErrEmptyStreamID       = adapters.ErrEmptyStreamID
	ErrNoEvents            = adapters.ErrNoEvents
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict
	ErrStorageFailure      = adapters.ErrStorageFailure
)

// Ensure Store implements the data store contract.
var _ adapters.DataStore = (*Store)(nil)

// Store is a SQLite implementation of adapters.DataStore.
// Timestamps are stored as UTC unix milliseconds.
type Store struct {
	db     *sql.DB
	closed bool
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store at path and creates the tables if needed.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strand/sqlite: storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("strand/sqlite: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("strand/sqlite: ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// SchemaStatements returns the DDL that creates the store's tables.
func SchemaStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS events (
			id         TEXT PRIMARY KEY,
			stream_id  TEXT NOT NULL,
			sequence   INTEGER NOT NULL,
			type_key   TEXT NOT NULL,
			payload    BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			UNIQUE(stream_id, sequence)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_stream ON events(stream_id, sequence)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(stream_id, type_key)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created ON events(stream_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			stream_id             TEXT NOT NULL,
			aggregate_id          TEXT NOT NULL,
			type_key              TEXT NOT NULL,
			version               INTEGER NOT NULL,
			latest_event_sequence INTEGER NOT NULL,
			payload               BLOB NOT NULL,
			created_at            INTEGER NOT NULL,
			created_by            TEXT NOT NULL DEFAULT '',
			updated_at            INTEGER NOT NULL,
			updated_by            TEXT NOT NULL DEFAULT '',
			PRIMARY KEY(stream_id, aggregate_id)
		)`,
		`CREATE TABLE IF NOT EXISTS snapshot_events (
			aggregate_id TEXT NOT NULL,
			event_id     TEXT NOT NULL,
			applied_at   INTEGER NOT NULL,
			PRIMARY KEY(aggregate_id, event_id)
		)`,
	}
}

func (s *Store) initialize(ctx context.Context) error {
	for _, stmt := range SchemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("strand/sqlite: initialize schema: %w", err)
		}
	}
	return nil
}

const eventColumns = "id, stream_id, sequence, type_key, payload, created_at, created_by"

// GetSnapshot returns the snapshot for the aggregate, or nil if none exists.
func (s *Store) GetSnapshot(ctx context.Context, streamID, aggregateID string) (*adapters.SnapshotRecord, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	var snapshot adapters.SnapshotRecord
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT stream_id, aggregate_id, type_key, version, latest_event_sequence,
		       payload, created_at, created_by, updated_at, updated_by
		FROM snapshots
		WHERE stream_id = ? AND aggregate_id = ?`,
		streamID, aggregateID).Scan(
		&snapshot.StreamID,
		&snapshot.AggregateID,
		&snapshot.TypeKey,
		&snapshot.Version,
		&snapshot.LatestEventSequence,
		&snapshot.Payload,
		&createdAt,
		&snapshot.CreatedBy,
		&updatedAt,
		&snapshot.UpdatedBy,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, adapters.NewStorageError("GetSnapshot", streamID, err)
	}

	snapshot.CreatedAt = fromMillis(createdAt)
	snapshot.UpdatedAt = fromMillis(updatedAt)
	return &snapshot, nil
}

// GetSnapshotEventLinks returns the links of events applied to the snapshot.
func (s *Store) GetSnapshotEventLinks(ctx context.Context, streamID, aggregateID string) ([]adapters.EventLink, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT aggregate_id, event_id, applied_at
		FROM snapshot_events
		WHERE aggregate_id = ?
		ORDER BY applied_at, event_id`, aggregateID)
	if err != nil {
		return nil, adapters.NewStorageError("GetSnapshotEventLinks", streamID, err)
	}
	defer rows.Close()

	links := make([]adapters.EventLink, 0)
	for rows.Next() {
		var link adapters.EventLink
		var appliedAt int64
		if err := rows.Scan(&link.AggregateID, &link.EventID, &appliedAt); err != nil {
			return nil, adapters.NewStorageError("GetSnapshotEventLinks", streamID, err)
		}
		link.AppliedAt = fromMillis(appliedAt)
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, adapters.NewStorageError("GetSnapshotEventLinks", streamID, err)
	}

	return links, nil
}

// GetEvents returns all events in the stream.
func (s *Store) GetEvents(ctx context.Context, streamID string, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.queryEvents(ctx, "GetEvents", streamID, filter, "", nil)
}

// GetEventsByIDs returns the stream's events with the given IDs.
func (s *Store) GetEventsByIDs(ctx context.Context, streamID string, ids []string) ([]adapters.EventRecord, error) {
	if len(ids) == 0 {
		return []adapters.EventRecord{}, nil
	}
	condition := "AND id IN (" + placeholders(len(ids)) + ")"
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.queryEvents(ctx, "GetEventsByIDs", streamID, nil, condition, args)
}

// GetEventsFromSequence returns events with sequence >= from.
func (s *Store) GetEventsFromSequence(ctx context.Context, streamID string, from int64, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.queryEvents(ctx, "GetEventsFromSequence", streamID, filter, "AND sequence >= ?", []interface{}{from})
}

// GetEventsUpToSequence returns events with sequence <= to.
func (s *Store) GetEventsUpToSequence(ctx context.Context, streamID string, to int64, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.queryEvents(ctx, "GetEventsUpToSequence", streamID, filter, "AND sequence <= ?", []interface{}{to})
}

// GetEventsBetweenSequences returns events with from <= sequence <= to.
func (s *Store) GetEventsBetweenSequences(ctx context.Context, streamID string, from, to int64, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.queryEvents(ctx, "GetEventsBetweenSequences", streamID, filter, "AND sequence >= ? AND sequence <= ?", []interface{}{from, to})
}

// GetEventsFromDate returns events created at or after from.
func (s *Store) GetEventsFromDate(ctx context.Context, streamID string, from time.Time, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.queryEvents(ctx, "GetEventsFromDate", streamID, filter, "AND created_at >= ?", []interface{}{toMillis(from)})
}

// GetEventsUpToDate returns events created at or before to.
func (s *Store) GetEventsUpToDate(ctx context.Context, streamID string, to time.Time, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.queryEvents(ctx, "GetEventsUpToDate", streamID, filter, "AND created_at <= ?", []interface{}{toMillis(to)})
}

// GetEventsBetweenDates returns events created within [from, to].
func (s *Store) GetEventsBetweenDates(ctx context.Context, streamID string, from, to time.Time, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.queryEvents(ctx, "GetEventsBetweenDates", streamID, filter, "AND created_at >= ? AND created_at <= ?", []interface{}{toMillis(from), toMillis(to)})
}

// placeholders returns n comma-separated "?" markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// queryEvents runs a stream query with an optional range condition and type
// filter, always ordered by sequence.
func (s *Store) queryEvents(ctx context.Context, op, streamID string, filter adapters.TypeFilter, condition string, args []interface{}) ([]adapters.EventRecord, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	query := fmt.Sprintf(`SELECT %s FROM events WHERE stream_id = ? %s`, eventColumns, condition)
	queryArgs := append([]interface{}{streamID}, args...)

	if len(filter) > 0 {
		query += " AND type_key IN (" + placeholders(len(filter)) + ")"
		for _, key := range filter {
			queryArgs = append(queryArgs, key)
		}
	}
	query += " ORDER BY sequence"

	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, adapters.NewStorageError(op, streamID, err)
	}
	defer rows.Close()

	events := make([]adapters.EventRecord, 0)
	for rows.Next() {
		var record adapters.EventRecord
		var createdAt int64
		err := rows.Scan(
			&record.ID,
			&record.StreamID,
			&record.Sequence,
			&record.TypeKey,
			&record.Payload,
			&createdAt,
			&record.CreatedBy,
		)
		if err != nil {
			return nil, adapters.NewStorageError(op, streamID, err)
		}
		record.CreatedAt = fromMillis(createdAt)
		events = append(events, record)
	}
	if err := rows.Err(); err != nil {
		return nil, adapters.NewStorageError(op, streamID, err)
	}

	return events, nil
}

// GetLatestSequence returns the highest sequence in the stream, 0 when empty.
func (s *Store) GetLatestSequence(ctx context.Context, streamID string) (int64, error) {
	if s.closed {
		return 0, ErrStoreClosed
	}
	if streamID == "" {
		return 0, ErrEmptyStreamID
	}

	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM events WHERE stream_id = ?`, streamID).Scan(&seq)
	if err != nil {
		return 0, adapters.NewStorageError("GetLatestSequence", streamID, err)
	}

	if seq.Valid {
		return seq.Int64, nil
	}
	return 0, nil
}

// AppendEvents writes a batch of event records atomically with optimistic
// concurrency control.
func (s *Store) AppendEvents(ctx context.Context, streamID string, records []adapters.EventRecord, expectedSequence int64) error {
	if s.closed {
		return ErrStoreClosed
	}
	if err := adapters.ValidateBatch(streamID, records, expectedSequence); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return adapters.NewStorageError("AppendEvents", streamID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insertEventsTx(ctx, tx, streamID, records, expectedSequence); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return s.translateAppendError(ctx, "AppendEvents", streamID, expectedSequence, err)
	}
	return nil
}

// AppendEventsWithSnapshot writes events, the snapshot upsert, and the event
// links in a single transaction.
func (s *Store) AppendEventsWithSnapshot(ctx context.Context, streamID string, records []adapters.EventRecord, expectedSequence int64, snapshot adapters.SnapshotRecord, links []adapters.EventLink) error {
	if s.closed {
		return ErrStoreClosed
	}
	if err := adapters.ValidateBatch(streamID, records, expectedSequence); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return adapters.NewStorageError("AppendEventsWithSnapshot", streamID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insertEventsTx(ctx, tx, streamID, records, expectedSequence); err != nil {
		return err
	}
	if err := s.upsertSnapshotTx(ctx, tx, snapshot, links); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return s.translateAppendError(ctx, "AppendEventsWithSnapshot", streamID, expectedSequence, err)
	}
	return nil
}

// SaveSnapshot upserts a snapshot and inserts its new event links in a single
// transaction.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot adapters.SnapshotRecord, links []adapters.EventLink) error {
	if s.closed {
		return ErrStoreClosed
	}
	if snapshot.StreamID == "" {
		return ErrEmptyStreamID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return adapters.NewStorageError("SaveSnapshot", snapshot.StreamID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.upsertSnapshotTx(ctx, tx, snapshot, links); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return adapters.NewStorageError("SaveSnapshot", snapshot.StreamID, err)
	}
	return nil
}

// DeleteSnapshot removes a snapshot and its links.
func (s *Store) DeleteSnapshot(ctx context.Context, streamID, aggregateID string) error {
	if s.closed {
		return ErrStoreClosed
	}
	if streamID == "" {
		return ErrEmptyStreamID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return adapters.NewStorageError("DeleteSnapshot", streamID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshot_events WHERE aggregate_id = ?`, aggregateID); err != nil {
		return adapters.NewStorageError("DeleteSnapshot", streamID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE stream_id = ? AND aggregate_id = ?`,
		streamID, aggregateID); err != nil {
		return adapters.NewStorageError("DeleteSnapshot", streamID, err)
	}

	if err := tx.Commit(); err != nil {
		return adapters.NewStorageError("DeleteSnapshot", streamID, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.closed = true
	return s.db.Close()
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// insertEventsTx checks the stream tail under the transaction and inserts the
// batch. The UNIQUE(stream_id, sequence) constraint catches any race the
// check misses.
func (s *Store) insertEventsTx(ctx context.Context, tx *sql.Tx, streamID string, records []adapters.EventRecord, expectedSequence int64) error {
	var seq sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM events WHERE stream_id = ?`, streamID).Scan(&seq)
	if err != nil {
		return adapters.NewStorageError("AppendEvents", streamID, err)
	}

	actual := int64(0)
	if seq.Valid {
		actual = seq.Int64
	}
	if err := adapters.CheckSequence(streamID, expectedSequence, actual); err != nil {
		return err
	}

	for _, record := range records {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO events (%s)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, eventColumns),
			record.ID, record.StreamID, record.Sequence, record.TypeKey,
			record.Payload, toMillis(record.CreatedAt), record.CreatedBy)
		if err != nil {
			return s.translateAppendError(ctx, "AppendEvents", streamID, expectedSequence, err)
		}
	}
	return nil
}

// upsertSnapshotTx upserts the snapshot row, preserving created_at/created_by
// on conflict, and inserts the new links.
func (s *Store) upsertSnapshotTx(ctx context.Context, tx *sql.Tx, snapshot adapters.SnapshotRecord, links []adapters.EventLink) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots
			(stream_id, aggregate_id, type_key, version, latest_event_sequence,
			 payload, created_at, created_by, updated_at, updated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stream_id, aggregate_id) DO UPDATE SET
			type_key = excluded.type_key,
			version = excluded.version,
			latest_event_sequence = excluded.latest_event_sequence,
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by`,
		snapshot.StreamID, snapshot.AggregateID, snapshot.TypeKey,
		snapshot.Version, snapshot.LatestEventSequence, snapshot.Payload,
		toMillis(snapshot.CreatedAt), snapshot.CreatedBy,
		toMillis(snapshot.UpdatedAt), snapshot.UpdatedBy)
	if err != nil {
		return adapters.NewStorageError("SaveSnapshot", snapshot.StreamID, err)
	}

	for _, link := range links {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO snapshot_events (aggregate_id, event_id, applied_at)
			VALUES (?, ?, ?)
			ON CONFLICT (aggregate_id, event_id) DO NOTHING`,
			link.AggregateID, link.EventID, toMillis(link.AppliedAt))
		if err != nil {
			return adapters.NewStorageError("SaveSnapshot", snapshot.StreamID, err)
		}
	}
	return nil
}

// translateAppendError maps a unique violation to a concurrency conflict,
// re-reading the actual tail on a best-effort basis. Everything else becomes
// an opaque storage failure.
func (s *Store) translateAppendError(ctx context.Context, op, streamID string, expectedSequence int64, err error) error {
	if isUniqueViolation(err) {
		actual := expectedSequence
		if latest, lerr := s.GetLatestSequence(ctx, streamID); lerr == nil {
			actual = latest
		}
		return adapters.NewConcurrencyError(streamID, expectedSequence, actual)
	}
	return adapters.NewStorageError(op, streamID, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT,
			sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY,
			sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
