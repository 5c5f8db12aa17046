package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

const recordColumns = `id, seq, account_id, kind, amount, balance_after, correlation_id, description, status, created_at`

// RecordRepository implements domain.RecordRepository using PostgreSQL.
// Rows are append-only: there is no UPDATE or DELETE on transaction_records.
type RecordRepository struct {
	pool *pgxpool.Pool
}

// NewRecordRepository creates a new RecordRepository.
func NewRecordRepository(pool *pgxpool.Pool) *RecordRepository {
	return &RecordRepository{
		pool: pool,
	}
}

func scanRecord(row pgx.Row) (*domain.TransactionRecord, error) {
	var r domain.TransactionRecord
	var kind, status string
	err := row.Scan(
		&r.ID,
		&r.Sequence,
		&r.AccountID,
		&kind,
		&r.Amount,
		&r.BalanceAfter,
		&r.CorrelationID,
		&r.Description,
		&status,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Kind = domain.RecordKind(kind)
	r.Status = domain.RecordStatus(status)
	return &r, nil
}

// Record persists a transaction record inside the current transaction and
// fills in its sequence number.
func (r *RecordRepository) Record(ctx context.Context, record *domain.TransactionRecord) error {
	tx := getTx(ctx)
	if tx == nil {
		return domain.ErrNoTransaction
	}
	query := `
		INSERT INTO transaction_records (
			id, account_id, kind, amount, balance_after,
			correlation_id, description, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq
	`
	err := tx.QueryRow(ctx, query,
		record.ID,
		record.AccountID,
		string(record.Kind),
		record.Amount,
		record.BalanceAfter,
		record.CorrelationID,
		record.Description,
		string(record.Status),
		record.CreatedAt,
	).Scan(&record.Sequence)
	if err != nil {
		return classifyError(fmt.Errorf("failed to insert transaction record: %w", err))
	}
	return nil
}

func (r *RecordRepository) list(ctx context.Context, query string, args ...any) ([]*domain.TransactionRecord, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to query transaction records: %w", err))
	}
	defer rows.Close()

	records := []*domain.TransactionRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, classifyError(fmt.Errorf("failed to scan transaction record: %w", err))
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}
	return records, nil
}

// ListByAccount returns records newest first.
func (r *RecordRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, filter domain.RecordFilter) ([]*domain.TransactionRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = domain.MaxPageSize
	}
	query := `
		SELECT ` + recordColumns + `
		FROM transaction_records
		WHERE account_id = $1
		  AND ($2::text = '' OR kind = $2::text)
		ORDER BY seq DESC
		LIMIT $3 OFFSET $4
	`
	return r.list(ctx, query, accountID, string(filter.Kind), limit, filter.Offset)
}

// ListInRange returns records with from <= created_at < until in commit order.
func (r *RecordRepository) ListInRange(ctx context.Context, accountID uuid.UUID, from, until time.Time) ([]*domain.TransactionRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM transaction_records
		WHERE account_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY seq
	`
	return r.list(ctx, query, accountID, from, until)
}

// LastBefore returns the newest record created before t, or nil if there is none.
func (r *RecordRepository) LastBefore(ctx context.Context, accountID uuid.UUID, t time.Time) (*domain.TransactionRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM transaction_records
		WHERE account_id = $1 AND created_at < $2
		ORDER BY seq DESC
		LIMIT 1
	`
	rec, err := scanRecord(conn(ctx, r.pool).QueryRow(ctx, query, accountID, t))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyError(fmt.Errorf("failed to get last record: %w", err))
	}
	return rec, nil
}

// ListByCorrelation returns the legs of a transfer.
func (r *RecordRepository) ListByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]*domain.TransactionRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM transaction_records
		WHERE correlation_id = $1
		ORDER BY seq
	`
	return r.list(ctx, query, correlationID)
}
