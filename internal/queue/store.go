package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS operations (
	id              TEXT PRIMARY KEY,
	operation_type  TEXT NOT NULL,
	entity_type     TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	payload         TEXT NOT NULL,
	status          TEXT NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	max_attempts    INTEGER NOT NULL,
	priority        INTEGER NOT NULL DEFAULT 100,
	created_at      TIMESTAMP NOT NULL,
	last_attempt_at TIMESTAMP,
	completed_at    TIMESTAMP,
	error_message   TEXT NOT NULL DEFAULT '',
	correlation_id  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_operations_status ON operations(status);
CREATE INDEX IF NOT EXISTS idx_operations_entity ON operations(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_operations_order ON operations(priority, created_at);
`

// Store persists queued operations in a local sqlite database. WAL mode
// keeps Enqueue durable across process crashes without blocking readers.
type Store struct {
	db                 *sql.DB
	logger             *slog.Logger
	defaultMaxAttempts int
	retryBackoff       time.Duration
	now                func() time.Time
}

// NewStore opens (or creates) the queue database at dbPath
func NewStore(dbPath string, defaultMaxAttempts int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "offline-queue"))

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate queue database: %w", err)
	}

	// The queue has a single writer, so any row still in processing at open
	// time belongs to a crashed run. Return them to pending (the attempt
	// was already counted by MarkProcessing) so the work is not lost.
	res, err := db.Exec(`UPDATE operations SET status = ? WHERE status = ?`,
		string(StatusPending), string(StatusProcessing))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to recover interrupted operations: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logger.Info("recovered operations interrupted by a previous crash",
			slog.Int64("count", n))
	}

	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 5
	}
	return &Store{
		db:                 db,
		logger:             logger,
		defaultMaxAttempts: defaultMaxAttempts,
		now:                time.Now,
	}, nil
}

// SetClock replaces the time source. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// SetRetryBackoff sets the minimum delay before a failed operation becomes
// eligible for another attempt. Zero disables the delay.
func (s *Store) SetRetryBackoff(d time.Duration) {
	s.retryBackoff = d
}

// Close releases the underlying database handle
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue durably records an operation before any server work is attempted.
// The insert committing is the durability point: once Enqueue returns nil
// the operation survives a crash.
func (s *Store) Enqueue(ctx context.Context, op *Operation) error {
	if op.MaxAttempts <= 0 {
		op.MaxAttempts = s.defaultMaxAttempts
	}
	if op.Status == "" {
		op.Status = StatusPending
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operations
			(id, operation_type, entity_type, entity_id, payload, status,
			 attempts, max_attempts, priority, created_at, error_message, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, string(op.OperationType), op.EntityType, op.EntityID, op.Payload,
		string(op.Status), op.Attempts, op.MaxAttempts, op.Priority,
		op.CreatedAt, op.ErrorMessage, op.CorrelationID)
	if err != nil {
		return fmt.Errorf("failed to enqueue operation %s: %w", op.ID, err)
	}
	s.logger.Debug("operation enqueued",
		slog.String("operation_id", op.ID),
		slog.String("entity_type", op.EntityType),
		slog.String("entity_id", op.EntityID),
		slog.Int("priority", op.Priority))
	return nil
}

// GetPending returns runnable operations ordered by (priority ASC,
// created_at ASC). Failed operations remain eligible until their retry
// budget is exhausted; exhausted failures are retained but excluded.
// A failed operation inside the retry backoff window is held back until
// the window passes.
func (s *Store) GetPending(ctx context.Context) ([]*Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation_type, entity_type, entity_id, payload, status,
		       attempts, max_attempts, priority, created_at, last_attempt_at,
		       completed_at, error_message, correlation_id
		FROM operations
		WHERE status = ? OR (status = ? AND attempts < max_attempts)
		ORDER BY priority ASC, created_at ASC`,
		string(StatusPending), string(StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending operations: %w", err)
	}
	defer rows.Close()

	ops, err := scanOperations(rows)
	if err != nil || s.retryBackoff <= 0 {
		return ops, err
	}
	cutoff := s.now().UTC().Add(-s.retryBackoff)
	eligible := ops[:0]
	for _, op := range ops {
		if op.Status == StatusFailed && op.LastAttemptAt != nil && op.LastAttemptAt.After(cutoff) {
			continue
		}
		eligible = append(eligible, op)
	}
	return eligible, nil
}

// Get fetches a single operation by ID, or nil when absent
func (s *Store) Get(ctx context.Context, id string) (*Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation_type, entity_type, entity_id, payload, status,
		       attempts, max_attempts, priority, created_at, last_attempt_at,
		       completed_at, error_message, correlation_id
		FROM operations WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation %s: %w", id, err)
	}
	defer rows.Close()
	ops, err := scanOperations(rows)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}
	return ops[0], nil
}

// MarkProcessing records the start of an attempt
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE operations
		SET status = ?, attempts = attempts + 1, last_attempt_at = ?
		WHERE id = ?`, string(StatusProcessing), now, id)
	if err != nil {
		return fmt.Errorf("failed to mark operation %s processing: %w", id, err)
	}
	return nil
}

// MarkCompleted records a successful attempt
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE operations SET status = ?, completed_at = ?, error_message = ''
		WHERE id = ?`, string(StatusCompleted), now, id)
	if err != nil {
		return fmt.Errorf("failed to mark operation %s completed: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed attempt with its error message. The operation
// stays retryable until attempts reaches max_attempts.
func (s *Store) MarkFailed(ctx context.Context, id string, opErr error) error {
	msg := ""
	if opErr != nil {
		msg = opErr.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE operations SET status = ?, error_message = ?
		WHERE id = ?`, string(StatusFailed), msg, id)
	if err != nil {
		return fmt.Errorf("failed to mark operation %s failed: %w", id, err)
	}
	return nil
}

// CancelByEntity cancels every non-terminal operation for an entity.
// Completed and already-cancelled operations are left untouched.
func (s *Store) CancelByEntity(ctx context.Context, entityType, entityID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE operations SET status = ?
		WHERE entity_type = ? AND entity_id = ? AND status IN (?, ?, ?)`,
		string(StatusCancelled), entityType, entityID,
		string(StatusPending), string(StatusProcessing), string(StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel operations for %s/%s: %w", entityType, entityID, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("cancelled queued operations",
			slog.String("entity_type", entityType),
			slog.String("entity_id", entityID),
			slog.Int64("count", n))
	}
	return n, nil
}

// ResetFailed returns exhausted failures to pending with a fresh retry
// budget. Used after connectivity problems clear.
func (s *Store) ResetFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE operations SET status = ?, attempts = 0, error_message = ''
		WHERE status = ?`, string(StatusPending), string(StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed operations: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("reset failed operations for retry", slog.Int64("count", n))
	}
	return n, nil
}

// Counts reports how many operations sit in each status
func (s *Store) Counts(ctx context.Context) (map[OperationStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM operations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count operations: %w", err)
	}
	defer rows.Close()
	counts := make(map[OperationStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[OperationStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanOperations(rows *sql.Rows) ([]*Operation, error) {
	var ops []*Operation
	for rows.Next() {
		var op Operation
		var opType, status string
		var lastAttempt, completed sql.NullTime
		err := rows.Scan(&op.ID, &opType, &op.EntityType, &op.EntityID,
			&op.Payload, &status, &op.Attempts, &op.MaxAttempts, &op.Priority,
			&op.CreatedAt, &lastAttempt, &completed, &op.ErrorMessage,
			&op.CorrelationID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation row: %w", err)
		}
		op.OperationType = OperationType(opType)
		op.Status = OperationStatus(status)
		if lastAttempt.Valid {
			t := lastAttempt.Time
			op.LastAttemptAt = &t
		}
		if completed.Valid {
			t := completed.Time
			op.CompletedAt = &t
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}
