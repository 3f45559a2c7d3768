// Package store is the relational store binding for the idempotency
// ledger and domain tables: pgx/pgxpool against PostgreSQL. It owns the
// write_operations table; per-table domain inserts are supplied by
// internal/processor's TableHandlers and executed against the
// transaction this package opens.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgo/writeway/internal/config"
	"github.com/forgo/writeway/internal/model"
)

// Standard errors for store operations. Use errors.Is() to check these in
// calling code.
var (
	// ErrNotFound indicates the requested operation row does not exist.
	ErrNotFound = errors.New("store: operation not found")

	// ErrDuplicateOperation indicates a second pending-insert attempt for
	// an operation_id already present in the ledger — the idempotency
	// pivot of the write protocol.
	ErrDuplicateOperation = errors.New("store: duplicate operation")

	// ErrConnection indicates a failure to reach or communicate with the
	// relational store.
	ErrConnection = errors.New("store: connection error")
)

// pgUniqueViolation is PostgreSQL's error code for a unique constraint
// violation.
const pgUniqueViolation = "23505"

// Store wraps a pgxpool.Pool with the idempotency ledger operations the
// write protocol needs.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a connection pool against cfg.DSN and verifies connectivity.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	return &Store{pool: pool}, nil
}

// NewFromPool wraps an already-constructed pool, used by tests that need
// a Store scoped to an isolated schema via the pool's search_path.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for callers (processor table handlers)
// that need to run domain inserts against the same transaction.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// BeginTx opens a transaction the caller must Commit or Rollback.
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, nil
}

// InsertPendingOperation inserts a new ledger row with status=pending
// inside tx. It returns ErrDuplicateOperation, wrapping the underlying
// unique-violation error, when operation_id is already present — the
// signal that this delivery is a repeat and should be skipped.
func (s *Store) InsertPendingOperation(ctx context.Context, tx pgx.Tx, op model.Operation) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO write_operations (operation_id, entity_table, entity_id, op_type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, op.OperationID, op.EntityTable, op.EntityID, op.OpType, model.StatusPending, op.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateOperation
		}
		return fmt.Errorf("insert pending operation: %w", err)
	}
	return nil
}

// CompleteOperation transitions operation_id to status=completed inside
// tx, the same transaction as the domain row insert.
func (s *Store) CompleteOperation(ctx context.Context, tx pgx.Tx, operationID uuid.UUID, completedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE write_operations SET status = $1, completed_at = $2 WHERE operation_id = $3
	`, model.StatusCompleted, completedAt, operationID)
	if err != nil {
		return fmt.Errorf("complete operation: %w", err)
	}
	return nil
}

// FailOperation records a terminal failure for operationID in a
// standalone statement, run after the triggering transaction has already
// been rolled back. It upserts so that a row is created even if the
// pending insert itself never committed (e.g. decode failure before a
// transaction was opened).
func (s *Store) FailOperation(ctx context.Context, op model.Operation, errMsg string, completedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO write_operations (operation_id, entity_table, entity_id, op_type, status, error, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (operation_id) DO UPDATE
		SET status = EXCLUDED.status, error = EXCLUDED.error, completed_at = EXCLUDED.completed_at
	`, op.OperationID, op.EntityTable, op.EntityID, op.OpType, model.StatusFailed, errMsg, completedAt)
	if err != nil {
		return fmt.Errorf("record failed operation: %w", err)
	}
	return nil
}

// GetOperation returns the ledger row for operationID, or ErrNotFound if
// no row exists yet (the caller — the status reader — treats that as
// status=pending, since the message may still be queued).
func (s *Store) GetOperation(ctx context.Context, operationID uuid.UUID) (*model.Operation, error) {
	var op model.Operation
	err := s.pool.QueryRow(ctx, `
		SELECT operation_id, entity_table, entity_id, op_type, status, error, created_at, completed_at
		FROM write_operations WHERE operation_id = $1
	`, operationID).Scan(
		&op.OperationID, &op.EntityTable, &op.EntityID, &op.OpType,
		&op.Status, &op.Error, &op.CreatedAt, &op.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get operation: %w", err)
	}
	return &op, nil
}

// SweepStalePending promotes pending rows older than olderThan to failed,
// answering the open question of operator-triggered reconciliation for
// operations whose processor crashed after the pending insert. Returns the
// number of rows swept.
func (s *Store) SweepStalePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE write_operations
		SET status = $1, error = $2, completed_at = now()
		WHERE status = $3 AND created_at < now() - $4::interval
	`, model.StatusFailed, "stale: no terminal transition observed", model.StatusPending, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("sweep stale pending operations: %w", err)
	}
	return tag.RowsAffected(), nil
}
