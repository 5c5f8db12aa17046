package projection

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/config"
)

// ReplacingMergeTree collapses rows of a redelivered event on merge.
const createOperationsTable = `
	CREATE TABLE IF NOT EXISTS operations (
		id              String,
		event_id        String,
		account_id      String,
		operation_type  LowCardinality(String),
		timestamp       DateTime64(6, 'UTC'),
		amount_value    Decimal(20, 2),
		amount_currency FixedString(3),
		counterparty_id String
	) ENGINE = ReplacingMergeTree
	ORDER BY (account_id, timestamp, id, operation_type)
`

// ClickHouseStore persists projected operations.
type ClickHouseStore struct {
	conn driver.Conn
}

// NewClickHouseStore connects to ClickHouse and makes sure the operations
// table exists.
func NewClickHouseStore(ctx context.Context, cfg config.ClickHouseConfig) (*ClickHouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Host},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if err := conn.Exec(ctx, createOperationsTable); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create operations table: %w", err)
	}

	return &ClickHouseStore{conn: conn}, nil
}

// InsertOperations writes the operations of one event in a single batch.
func (s *ClickHouseStore) InsertOperations(ctx context.Context, ops []*Operation) error {
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO operations (
			id, event_id, account_id, operation_type, timestamp,
			amount_value, amount_currency, counterparty_id
		)`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	defer batch.Abort()

	for _, op := range ops {
		err := batch.Append(
			op.ID,
			op.EventID,
			op.AccountID,
			string(op.OperationType),
			op.Timestamp,
			op.Amount,
			op.CurrencyCode,
			op.CounterpartyID,
		)
		if err != nil {
			return fmt.Errorf("failed to append operation %s: %w", op.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert operations: %w", err)
	}
	return nil
}

// ListAccountOperations returns the newest operations of an account.
func (s *ClickHouseStore) ListAccountOperations(ctx context.Context, accountID string, limit int) ([]*Operation, error) {
	query := `
		SELECT
			id, event_id, account_id, operation_type, timestamp,
			amount_value, amount_currency, counterparty_id
		FROM operations FINAL
		WHERE account_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`
	rows, err := s.conn.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var operations []*Operation
	for rows.Next() {
		var op Operation
		var operationType string
		err := rows.Scan(
			&op.ID,
			&op.EventID,
			&op.AccountID,
			&operationType,
			&op.Timestamp,
			&op.Amount,
			&op.CurrencyCode,
			&op.CounterpartyID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation row: %w", err)
		}
		op.OperationType = OperationType(operationType)
		operations = append(operations, &op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operation rows: %w", err)
	}
	return operations, nil
}

// Ping checks the connection.
func (s *ClickHouseStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the ClickHouse connection
func (s *ClickHouseStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
