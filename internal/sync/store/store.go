// Package store provides the durable local queue of Operation Records.
//
// The queue lives in the application's embedded SQLite database, opened
// in WAL mode so enqueues from domain code and claims from the engine
// can proceed concurrently. All state transitions are compare-and-set
// UPDATEs guarded by the current status, which is what guarantees
// at-most-one concurrent processor per record.
//
// The same database also persists the pull checkpoint: the last server
// timestamp up to which remote changes have been applied locally.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kedarsarang7-eng/ledgersync/internal/sync/op"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	// ErrNotFound indicates no record exists with the given ID.
	ErrNotFound = errors.New("store: record not found")

	// ErrInvalidTransition indicates the requested status change is
	// not an allowed edge of the record state machine, typically
	// because another worker already moved the record.
	ErrInvalidTransition = errors.New("store: invalid status transition")
)

// Store wraps the SQLite connection holding the sync queue.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a queue store at the specified path.
//
// The database is opened in WAL mode with a busy timeout so concurrent
// readers do not block writers. The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open(".ledgersync/queue.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := st.conn.Exec(pragma); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	return st, nil
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the queue tables and indexes. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_queue (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		collection TEXT NOT NULL,
		document_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		device_id TEXT NOT NULL DEFAULT '',
		payload TEXT,
		payload_hash TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		priority INTEGER NOT NULL DEFAULT 2,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		error_kind TEXT NOT NULL DEFAULT '',
		dependency_group TEXT NOT NULL DEFAULT '',
		parent_id TEXT NOT NULL DEFAULT '',
		step_number INTEGER NOT NULL DEFAULT 0,
		total_steps INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		last_attempt_at TEXT,
		next_retry_at TEXT,
		synced_at TEXT
	);

	CREATE TABLE IF NOT EXISTS sync_checkpoint (
		owner_id TEXT PRIMARY KEY,
		last_pulled_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queue_status ON sync_queue(status);
	CREATE INDEX IF NOT EXISTS idx_queue_doc ON sync_queue(owner_id, collection, document_id);
	CREATE INDEX IF NOT EXISTS idx_queue_group ON sync_queue(dependency_group, step_number);

	-- Composite index for the claim query
	CREATE INDEX IF NOT EXISTS idx_queue_claim
	    ON sync_queue(status, priority, dependency_group, step_number, created_at);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Enqueue inserts a record in pending state.
func (s *Store) Enqueue(ctx context.Context, rec *op.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
	INSERT INTO sync_queue (
		id, type, collection, document_id, owner_id, device_id,
		payload, payload_hash, status, priority, retry_count,
		last_error, dependency_group, parent_id, step_number, total_steps,
		created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?, ?, ?, ?, ?)
	`

	_, err = s.conn.ExecContext(ctx, query,
		rec.ID,
		string(rec.Type),
		rec.Collection,
		rec.DocumentID,
		rec.OwnerID,
		rec.DeviceID,
		string(payloadJSON),
		rec.PayloadHash,
		string(op.StatusPending),
		rec.Priority,
		rec.DependencyGroup,
		rec.ParentID,
		rec.StepNumber,
		rec.TotalSteps,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue operation %s: %w", rec.ID, err)
	}
	return nil
}

// ClaimBatch atomically selects up to limit eligible records and marks
// them in_progress, returning them in dispatch order.
//
// A record is eligible when:
//   - status is pending or retry
//   - next_retry_at is unset or in the past
//   - no earlier step of its dependency group is still unsynced
//   - its document is not in the excluded (paused) set
//
// Ordering: priority asc, dependency_group, step_number asc, created_at
// asc. The selection and the status flip happen in one transaction so
// two concurrent claimers can never both own a record.
func (s *Store) ClaimBatch(ctx context.Context, limit int, excludeDocs []string) ([]*op.Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	query := `
	SELECT id FROM sync_queue q
	WHERE q.status IN ('pending', 'retry')
	  AND (q.next_retry_at IS NULL OR q.next_retry_at <= ?)
	  AND NOT EXISTS (
	      SELECT 1 FROM sync_queue e
	      WHERE e.dependency_group = q.dependency_group
	        AND q.dependency_group != ''
	        AND e.step_number < q.step_number
	        AND e.status != 'synced'
	  )
	`
	args := []interface{}{now}

	if len(excludeDocs) > 0 {
		placeholders := strings.Repeat("?,", len(excludeDocs))
		query += " AND q.document_id NOT IN (" + placeholders[:len(placeholders)-1] + ")"
		for _, d := range excludeDocs {
			args = append(args, d)
		}
	}

	query += `
	ORDER BY q.priority ASC, q.dependency_group, q.step_number ASC, q.created_at ASC
	LIMIT ?`
	args = append(args, limit)

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable records: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan record id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating claimable records: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	placeholders := strings.Repeat("?,", len(ids))
	updateQuery := `
	UPDATE sync_queue
	SET status = 'in_progress', last_attempt_at = ?
	WHERE id IN (` + placeholders[:len(placeholders)-1] + `)
	  AND status IN ('pending', 'retry')`

	updArgs := []interface{}{now}
	for _, id := range ids {
		updArgs = append(updArgs, id)
	}
	if _, err := tx.ExecContext(ctx, updateQuery, updArgs...); err != nil {
		return nil, fmt.Errorf("failed to mark records in_progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	// Read back the claimed records in dispatch order.
	records := make([]*op.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load claimed record %s: %w", id, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// MarkSynced transitions in_progress -> synced and stamps synced_at.
func (s *Store) MarkSynced(ctx context.Context, id string, at time.Time) error {
	return s.transition(ctx, id,
		`UPDATE sync_queue SET status = 'synced', synced_at = ?, last_error = '', error_kind = ''
		 WHERE id = ? AND status = 'in_progress'`,
		at.UTC().Format(time.RFC3339Nano), id)
}

// MarkRetry transitions in_progress -> retry, increments the retry
// count, and schedules the next attempt.
func (s *Store) MarkRetry(ctx context.Context, id, errMsg, kind string, nextRetryAt time.Time) error {
	return s.transition(ctx, id,
		`UPDATE sync_queue
		 SET status = 'retry', retry_count = retry_count + 1,
		     last_error = ?, error_kind = ?, next_retry_at = ?
		 WHERE id = ? AND status = 'in_progress'`,
		errMsg, kind, nextRetryAt.UTC().Format(time.RFC3339Nano), id)
}

// MarkFailed transitions in_progress -> failed. Failed records are not
// claimed automatically; they wait for manual action or a sweep (e.g.
// auth failures waiting for re-authentication, conflicts waiting for
// resolution).
func (s *Store) MarkFailed(ctx context.Context, id, errMsg, kind string) error {
	return s.transition(ctx, id,
		`UPDATE sync_queue SET status = 'failed', last_error = ?, error_kind = ?
		 WHERE id = ? AND status = 'in_progress'`,
		errMsg, kind, id)
}

// MarkDeadLetter quarantines a record from in_progress or failed.
func (s *Store) MarkDeadLetter(ctx context.Context, id, errMsg, kind string) error {
	return s.transition(ctx, id,
		`UPDATE sync_queue SET status = 'dead_letter', last_error = ?, error_kind = ?
		 WHERE id = ? AND status IN ('in_progress', 'failed')`,
		errMsg, kind, id)
}

// transition runs a guarded status UPDATE and maps a zero row count to
// ErrNotFound or ErrInvalidTransition.
func (s *Store) transition(ctx context.Context, id, query string, args ...interface{}) error {
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := s.Get(ctx, id); errors.Is(getErr, ErrNotFound) {
			return fmt.Errorf("record %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("record %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

// Release returns claimed records to pending without touching their
// retry budget. Used when a dispatch cycle claims a dependency chain
// whose earlier step fails: the unprocessed tail goes back to wait.
func (s *Store) Release(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	query := `UPDATE sync_queue SET status = 'pending'
	          WHERE id IN (` + placeholders[:len(placeholders)-1] + `) AND status = 'in_progress'`

	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to release records: %w", err)
	}
	return nil
}

// ReclaimInProgress resets records orphaned in in_progress by a prior
// process run back to pending. Called once at engine startup; safe
// because the apply protocol is idempotent (at-least-once delivery).
func (s *Store) ReclaimInProgress(ctx context.Context) (int, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE sync_queue SET status = 'pending' WHERE status = 'in_progress'`)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim in_progress records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

// ListDeadLetter returns the quarantined records for an owner, oldest
// first. Empty owner lists all owners.
func (s *Store) ListDeadLetter(ctx context.Context, owner string) ([]*op.Record, error) {
	query := selectColumns + ` FROM sync_queue WHERE status = 'dead_letter'`
	var args []interface{}
	if owner != "" {
		query += ` AND owner_id = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListConflicted returns records parked in failed state by a version
// conflict, oldest first. The engine rebuilds its open conflict set
// from these after a restart. Empty owner lists all owners.
func (s *Store) ListConflicted(ctx context.Context, owner string) ([]*op.Record, error) {
	query := selectColumns + ` FROM sync_queue WHERE status = 'failed' AND error_kind = 'conflict'`
	var args []interface{}
	if owner != "" {
		query += ` AND owner_id = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicted records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// RequeueFailed returns failed records to pending for another attempt,
// clearing their error. Used when the condition that parked them is
// gone: the conflicting remote document disappeared, or credentials
// were refreshed.
func (s *Store) RequeueFailed(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	query := `
	UPDATE sync_queue
	SET status = 'pending', next_retry_at = NULL, last_error = '', error_kind = ''
	WHERE id IN (` + placeholders[:len(placeholders)-1] + `) AND status = 'failed'`

	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to requeue failed records: %w", err)
	}
	return nil
}

// RequeueDeadLetter moves the given dead-letter records back to pending
// with a reset retry budget. This is the explicit operator action; the
// engine never takes this edge on its own.
func (s *Store) RequeueDeadLetter(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	query := `
	UPDATE sync_queue
	SET status = 'pending', retry_count = 0, next_retry_at = NULL, last_error = '', error_kind = ''
	WHERE id IN (` + placeholders[:len(placeholders)-1] + `) AND status = 'dead_letter'`

	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue dead letters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

// RescueRetryable bulk-requeues dead-letter records whose final failure
// was retryable (network or unknown). Used by the periodic sweep once
// connectivity is confirmed healthy; validation failures and superseded
// conflicts stay quarantined.
func (s *Store) RescueRetryable(ctx context.Context) (int, error) {
	res, err := s.conn.ExecContext(ctx, `
	UPDATE sync_queue
	SET status = 'pending', retry_count = 0, next_retry_at = NULL, last_error = '', error_kind = ''
	WHERE status = 'dead_letter' AND error_kind IN ('network', 'unknown')`)
	if err != nil {
		return 0, fmt.Errorf("failed to rescue dead letters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

// Get retrieves a single record by ID.
func (s *Store) Get(ctx context.Context, id string) (*op.Record, error) {
	row := s.conn.QueryRowContext(ctx, selectColumns+` FROM sync_queue WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// PendingForDocument counts unsynced records targeting a document. The
// pull path uses this to avoid clobbering local truth that has not been
// pushed yet.
func (s *Store) PendingForDocument(ctx context.Context, owner, collection, docID string) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM sync_queue
	WHERE owner_id = ? AND collection = ? AND document_id = ?
	  AND status NOT IN ('synced', 'dead_letter')`,
		owner, collection, docID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending records for document %s: %w", docID, err)
	}
	return count, nil
}

// Stats are the aggregate queue counts surfaced on the status stream.
type Stats struct {
	Pending     int `json:"pending"`
	InProgress  int `json:"in_progress"`
	Failed      int `json:"failed"`
	Retry       int `json:"retry"`
	DeadLetter  int `json:"dead_letter"`
	SyncedToday int `json:"synced_today"`
}

// Stats returns the current aggregate counts.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		switch op.Status(status) {
		case op.StatusPending:
			stats.Pending = count
		case op.StatusInProgress:
			stats.InProgress = count
		case op.StatusFailed:
			stats.Failed = count
		case op.StatusRetry:
			stats.Retry = count
		case op.StatusDeadLetter:
			stats.DeadLetter = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats: %w", err)
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour).Format(time.RFC3339Nano)
	err = s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE status = 'synced' AND synced_at >= ?`,
		midnight).Scan(&stats.SyncedToday)
	if err != nil {
		return nil, fmt.Errorf("failed to count synced today: %w", err)
	}

	return stats, nil
}

// Checkpoint returns the last pulled server timestamp for an owner, or
// the zero time if no pull has completed yet.
func (s *Store) Checkpoint(ctx context.Context, owner string) (time.Time, error) {
	var ts string
	err := s.conn.QueryRowContext(ctx,
		`SELECT last_pulled_at FROM sync_checkpoint WHERE owner_id = ?`, owner).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse checkpoint %q: %w", ts, err)
	}
	return t, nil
}

// SetCheckpoint advances the pull checkpoint for an owner.
func (s *Store) SetCheckpoint(ctx context.Context, owner string, ts time.Time) error {
	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO sync_checkpoint (owner_id, last_pulled_at) VALUES (?, ?)
	ON CONFLICT(owner_id) DO UPDATE SET last_pulled_at = excluded.last_pulled_at`,
		owner, ts.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}
	return nil
}

const selectColumns = `
SELECT id, type, collection, document_id, owner_id, device_id,
       payload, payload_hash, status, priority, retry_count,
       last_error, dependency_group, parent_id, step_number, total_steps,
       created_at, last_attempt_at, next_retry_at, synced_at`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*op.Record, error) {
	var rec op.Record
	var typ, status, payloadJSON, createdAt string
	var lastAttemptAt, nextRetryAt, syncedAt sql.NullString

	err := row.Scan(
		&rec.ID,
		&typ,
		&rec.Collection,
		&rec.DocumentID,
		&rec.OwnerID,
		&rec.DeviceID,
		&payloadJSON,
		&rec.PayloadHash,
		&status,
		&rec.Priority,
		&rec.RetryCount,
		&rec.LastError,
		&rec.DependencyGroup,
		&rec.ParentID,
		&rec.StepNumber,
		&rec.TotalSteps,
		&createdAt,
		&lastAttemptAt,
		&nextRetryAt,
		&syncedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Type = op.Type(typ)
	rec.Status = op.Status(status)

	if payloadJSON != "" && payloadJSON != "null" {
		if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload for %s: %w", rec.ID, err)
		}
	}

	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = t
	}
	rec.LastAttemptAt = nullStringToTime(lastAttemptAt)
	rec.NextRetryAt = nullStringToTime(nextRetryAt)
	rec.SyncedAt = nullStringToTime(syncedAt)

	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*op.Record, error) {
	var records []*op.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
