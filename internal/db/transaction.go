package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

// txKey is the key type for storing transaction in context.
type txKey struct{}

// querier is the subset of pgx shared by a pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TransactionManager implements domain.TransactionManager using PostgreSQL.
type TransactionManager struct {
	pool             *pgxpool.Pool
	lockTimeout      time.Duration
	statementTimeout time.Duration
	logger           *zap.Logger
}

// NewTransactionManager creates a new TransactionManager. lockTimeout bounds
// every row lock wait, statementTimeout every statement; zero disables either.
func NewTransactionManager(pool *pgxpool.Pool, lockTimeout, statementTimeout time.Duration, logger *zap.Logger) *TransactionManager {
	return &TransactionManager{
		pool:             pool,
		lockTimeout:      lockTimeout,
		statementTimeout: statementTimeout,
		logger:           logger,
	}
}

// WithTransaction executes the given function within a read-committed
// transaction. Row locks taken with SELECT ... FOR UPDATE serialize writers.
// If the function returns an error, or ctx ends before commit, the
// transaction is rolled back. Otherwise, the transaction is committed.
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return tm.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

// ReadSnapshot executes fn in a repeatable-read, read-only transaction so every
// query sees the same committed state.
func (tm *TransactionManager) ReadSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	return tm.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (tm *TransactionManager) run(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context) error) error {
	tx, err := tm.pool.BeginTx(ctx, opts)
	if err != nil {
		return classifyError(fmt.Errorf("failed to begin transaction: %w", err))
	}

	// Rollback is a no-op after a successful commit.
	defer func() {
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			tm.logger.Warn("failed to rollback transaction", zap.Error(err))
		}
	}()

	if err := tm.setTimeouts(ctx, tx); err != nil {
		return classifyError(err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return classifyError(err)
	}

	if err := ctx.Err(); err != nil {
		return classifyError(fmt.Errorf("transaction aborted before commit: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func (tm *TransactionManager) setTimeouts(ctx context.Context, tx pgx.Tx) error {
	// SET LOCAL does not accept bind parameters.
	if tm.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", tm.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("failed to set lock_timeout: %w", err)
		}
	}
	if tm.statementTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", tm.statementTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("failed to set statement_timeout: %w", err)
		}
	}
	return nil
}

// getTx retrieves the transaction from context.
// If no transaction is found, returns nil.
func getTx(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// conn returns the current transaction if there is one, else the pool.
func conn(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx := getTx(ctx); tx != nil {
		return tx
	}
	return pool
}

// PostgreSQL error codes recognised by classifyError.
const (
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
	codeQueryCanceled        = "57014"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeNumericOutOfRange    = "22003"
)

// classifyError maps driver errors onto the domain error kinds. Errors that
// already carry a domain kind pass through unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
			return fmt.Errorf("%w: %v", domain.ErrBusy, err)
		case codeQueryCanceled:
			return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		case codeNumericOutOfRange:
			return fmt.Errorf("%w: %v", domain.ErrInvalidAmount, err)
		default:
			return fmt.Errorf("%w: %v", domain.ErrStoreFailure, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	if domain.ErrorKind(err) != "store_failure" || errors.Is(err, domain.ErrStoreFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreFailure, err)
}
