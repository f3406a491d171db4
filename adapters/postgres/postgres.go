// Package postgres provides a PostgreSQL implementation of the strand data store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/strandhq/strand/adapters"
)

// Sentinel errors for the postgres store.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	ErrStoreClosed         = adapters.ErrStoreClosed
	ErrEmptyStreamID       = adapters.ErrEmptyStreamID
	ErrNoEvents            = adapters.ErrNoEvents
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict
	ErrStorageFailure      = adapters.ErrStorageFailure
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// Ensure Store implements the data store contract.
var _ adapters.DataStore = (*Store)(nil)

// Store is a PostgreSQL implementation of adapters.DataStore.
//
// The UNIQUE constraint on (stream_id, sequence) in the events table is the
// binding optimistic concurrency guarantee: the transactional MAX(sequence)
// check fails fast, and any race it misses surfaces as a unique violation
// that maps to a *adapters.ConcurrencyError.
type Store struct {
	db     *sql.DB
	schema string
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithSchema sets the database schema name.
func WithSchema(schema string) Option {
	return func(s *Store) {
		s.schema = schema
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(s *Store) {
		s.db.SetMaxOpenConns(n)
	}
}

// WithMaxIdleConnections sets the maximum number of idle connections.
func WithMaxIdleConnections(n int) Option {
	return func(s *Store) {
		s.db.SetMaxIdleConns(n)
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(s *Store) {
		s.db.SetConnMaxLifetime(d)
	}
}

// NewStore creates a new PostgreSQL data store.
func NewStore(connStr string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("strand/postgres: failed to open database: %w", err)
	}

	store := &Store{
		db:     db,
		schema: "strand",
	}

	for _, opt := range opts {
		opt(store)
	}

	return store, nil
}

// NewStoreWithDB creates a new store with an existing database connection.
func NewStoreWithDB(db *sql.DB, opts ...Option) *Store {
	store := &Store{
		db:     db,
		schema: "strand",
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// SchemaStatements returns the DDL that creates the store's schema and
// tables. Exposed so tooling can print or apply it.
func (s *Store) SchemaStatements() []string {
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s.schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.events (
				id              VARCHAR(600) PRIMARY KEY,
				stream_id       VARCHAR(500) NOT NULL,
				sequence        BIGINT NOT NULL,
				type_key        VARCHAR(500) NOT NULL,
				payload         BYTEA NOT NULL,
				created_at      TIMESTAMPTZ NOT NULL,
				created_by      VARCHAR(250) NOT NULL DEFAULT '',
				UNIQUE(stream_id, sequence)
			)`, s.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_stream ON %s.events(stream_id, sequence)`, s.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_type ON %s.events(stream_id, type_key)`, s.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_created ON %s.events(stream_id, created_at)`, s.schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.snapshots (
				stream_id             VARCHAR(500) NOT NULL,
				aggregate_id          VARCHAR(600) NOT NULL,
				type_key              VARCHAR(500) NOT NULL,
				version               BIGINT NOT NULL,
				latest_event_sequence BIGINT NOT NULL,
				payload               BYTEA NOT NULL,
				created_at            TIMESTAMPTZ NOT NULL,
				created_by            VARCHAR(250) NOT NULL DEFAULT '',
				updated_at            TIMESTAMPTZ NOT NULL,
				updated_by            VARCHAR(250) NOT NULL DEFAULT '',
				PRIMARY KEY(stream_id, aggregate_id)
			)`, s.schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.snapshot_events (
				aggregate_id    VARCHAR(600) NOT NULL,
				event_id        VARCHAR(600) NOT NULL,
				applied_at      TIMESTAMPTZ NOT NULL,
				PRIMARY KEY(aggregate_id, event_id)
			)`, s.schema),
	}
}

// Initialize creates the required database schema and tables.
func (s *Store) Initialize(ctx context.Context) error {
	for _, stmt := range s.SchemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("strand/postgres: failed to initialize schema: %w", err)
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
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT stream_id, aggregate_id, type_key, version, latest_event_sequence,
		       payload, created_at, created_by, updated_at, updated_by
		FROM %s.snapshots
		WHERE stream_id = $1 AND aggregate_id = $2`, s.schema),
		streamID, aggregateID).Scan(
		&snapshot.StreamID,
		&snapshot.AggregateID,
		&snapshot.TypeKey,
		&snapshot.Version,
		&snapshot.LatestEventSequence,
		&snapshot.Payload,
		&snapshot.CreatedAt,
		&snapshot.CreatedBy,
		&snapshot.UpdatedAt,
		&snapshot.UpdatedBy,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, adapters.NewStorageError("GetSnapshot", streamID, err)
	}

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

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT aggregate_id, event_id, applied_at
		FROM %s.snapshot_events
		WHERE aggregate_id = $1
		ORDER BY applied_at, event_id`, s.schema), aggregateID)
	if err != nil {
		return nil, adapters.NewStorageError("GetSnapshotEventLinks", streamID, err)
	}
	defer rows.Close()

	links := make([]adapters.EventLink, 0)
	for rows.Next() {
		var link adapters.EventLink
		if err := rows.Scan(&link.AggregateID, &link.EventID, &link.AppliedAt); err != nil {
			return nil, adapters.NewStorageError("GetSnapshotEventLinks", streamID, err)
		}
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
	return s.queryEvents(ctx, "GetEventsByIDs", streamID, nil, "AND id = ANY($2)", []interface{}{ids})
}

// GetEventsFromSequence returns events with sequence >= from.
func (s *Store) GetEventsFromSequence(ctx context.Context, streamID string, from int64, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.queryEvents(ctx, "GetEventsFromSequence", streamID, filter, "AND sequence >= $2", []interface{}{from})
}

// GetEventsUpToSequence returns events with sequence <= to.
func (s *Store) GetEventsUpToSequence(ctx context.Context, streamID string, to int64, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.queryEvents(ctx, "GetEventsUpToSequence", streamID, filter, "AND sequence <= $2", []interface{}{to})
}

// GetEventsBetweenSequences returns events with from <= sequence <= to.
func (s *Store) GetEventsBetweenSequences(ctx context.Context, streamID string, from, to int64, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.queryEvents(ctx, "GetEventsBetweenSequences", streamID, filter, "AND sequence >= $2 AND sequence <= $3", []interface{}{from, to})
}

// GetEventsFromDate returns events created at or after from.
func (s *Store) GetEventsFromDate(ctx context.Context, streamID string, from time.Time, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.queryEvents(ctx, "GetEventsFromDate", streamID, filter, "AND created_at >= $2", []interface{}{from})
}

// GetEventsUpToDate returns events created at or before to.
func (s *Store) GetEventsUpToDate(ctx context.Context, streamID string, to time.Time, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.queryEvents(ctx, "GetEventsUpToDate", streamID, filter, "AND created_at <= $2", []interface{}{to})
}

// GetEventsBetweenDates returns events created within [from, to].
func (s *Store) GetEventsBetweenDates(ctx context.Context, streamID string, from, to time.Time, filter adapters.TypeFilter) ([]adapters.EventRecord, error) {
	return s.queryEvents(ctx, "GetEventsBetweenDates", streamID, filter, "AND created_at >= $2 AND created_at <= $3", []interface{}{from, to})
}

// queryEvents runs a stream query with an optional range condition and type
// filter, always ordered by sequence. The filter rides as the last positional
// argument when present.
func (s *Store) queryEvents(ctx context.Context, op, streamID string, filter adapters.TypeFilter, condition string, args []interface{}) ([]adapters.EventRecord, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	query := fmt.Sprintf(`SELECT %s FROM %s.events WHERE stream_id = $1 %s`,
		eventColumns, s.schema, condition)
	queryArgs := append([]interface{}{streamID}, args...)

	if len(filter) > 0 {
		query += fmt.Sprintf(" AND type_key = ANY($%d)", len(queryArgs)+1)
		queryArgs = append(queryArgs, []string(filter))
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
		err := rows.Scan(
			&record.ID,
			&record.StreamID,
			&record.Sequence,
			&record.TypeKey,
			&record.Payload,
			&record.CreatedAt,
			&record.CreatedBy,
		)
		if err != nil {
			return nil, adapters.NewStorageError(op, streamID, err)
		}
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
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT MAX(sequence) FROM %s.events WHERE stream_id = $1`, s.schema),
		streamID).Scan(&seq)
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

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s.snapshot_events WHERE aggregate_id = $1`, s.schema), aggregateID)
	if err != nil {
		return adapters.NewStorageError("DeleteSnapshot", streamID, err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s.snapshots WHERE stream_id = $1 AND aggregate_id = $2`, s.schema),
		streamID, aggregateID)
	if err != nil {
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

// Close releases the database connection.
func (s *Store) Close() error {
	s.closed = true
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Schema returns the schema name.
func (s *Store) Schema() string {
	return s.schema
}

// insertEventsTx checks the stream tail under the transaction and inserts the
// batch. The tail check fails fast; the UNIQUE(stream_id, sequence)
// constraint catches the race between the check and the commit.
func (s *Store) insertEventsTx(ctx context.Context, tx *sql.Tx, streamID string, records []adapters.EventRecord, expectedSequence int64) error {
	var seq sql.NullInt64
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT MAX(sequence) FROM %s.events WHERE stream_id = $1`, s.schema),
		streamID).Scan(&seq)
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
			INSERT INTO %s.events (%s)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.schema, eventColumns),
			record.ID, record.StreamID, record.Sequence, record.TypeKey,
			record.Payload, record.CreatedAt, record.CreatedBy)
		if err != nil {
			return s.translateAppendError(ctx, "AppendEvents", streamID, expectedSequence, err)
		}
	}
	return nil
}

// upsertSnapshotTx upserts the snapshot row, preserving created_at/created_by
// on conflict, and inserts the new links.
func (s *Store) upsertSnapshotTx(ctx context.Context, tx *sql.Tx, snapshot adapters.SnapshotRecord, links []adapters.EventLink) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.snapshots
			(stream_id, aggregate_id, type_key, version, latest_event_sequence,
			 payload, created_at, created_by, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (stream_id, aggregate_id) DO UPDATE SET
			type_key = EXCLUDED.type_key,
			version = EXCLUDED.version,
			latest_event_sequence = EXCLUDED.latest_event_sequence,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by`, s.schema),
		snapshot.StreamID, snapshot.AggregateID, snapshot.TypeKey,
		snapshot.Version, snapshot.LatestEventSequence, snapshot.Payload,
		snapshot.CreatedAt, snapshot.CreatedBy, snapshot.UpdatedAt, snapshot.UpdatedBy)
	if err != nil {
		return adapters.NewStorageError("SaveSnapshot", snapshot.StreamID, err)
	}

	for _, link := range links {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.snapshot_events (aggregate_id, event_id, applied_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (aggregate_id, event_id) DO NOTHING`, s.schema),
			link.AggregateID, link.EventID, link.AppliedAt)
		if err != nil {
			return adapters.NewStorageError("SaveSnapshot", snapshot.StreamID, err)
		}
	}
	return nil
}

// translateAppendError maps a unique violation to a concurrency conflict,
// re-reading the actual tail on a best-effort basis so the error carries both
// sequences. Everything else becomes an opaque storage failure.
func (s *Store) translateAppendError(ctx context.Context, op, streamID string, expectedSequence int64, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		actual := expectedSequence
		if latest, lerr := s.GetLatestSequence(ctx, streamID); lerr == nil {
			actual = latest
		}
		return adapters.NewConcurrencyError(streamID, expectedSequence, actual)
	}
	return adapters.NewStorageError(op, streamID, err)
}
