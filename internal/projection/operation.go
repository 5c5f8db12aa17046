// Package projection keeps a per-account operations table in ClickHouse fed
// by the ledger's completed-operation events.
package projection

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/events"
)

// OperationType is the direction of an operation as seen by one account.
type OperationType string

const (
	OperationTypeDeposit     OperationType = "DEPOSIT"
	OperationTypeWithdrawal  OperationType = "WITHDRAWAL"
	OperationTypeTransferOut OperationType = "TRANSFER_OUT"
	OperationTypeTransferIn  OperationType = "TRANSFER_IN"
)

// Operation is one row of the projection.
type Operation struct {
	ID             string // Operation id; a transfer's correlation id for both legs
	EventID        string
	AccountID      string
	OperationType  OperationType
	Timestamp      time.Time
	Amount         decimal.Decimal
	CurrencyCode   string
	CounterpartyID string // Only populated for transfers
}

// OperationsFromEvent expands an event into one operation per affected
// account: a deposit or withdrawal touches one, a transfer two.
func OperationsFromEvent(e *events.OperationCompletedEvent) ([]*Operation, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	timestamp, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp: %w", err)
	}
	amount, err := decimal.NewFromString(e.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}

	op := func(accountID, counterparty string, t OperationType) *Operation {
		return &Operation{
			ID:             e.OperationID,
			EventID:        e.EventID,
			AccountID:      accountID,
			OperationType:  t,
			Timestamp:      timestamp.UTC(),
			Amount:         amount,
			CurrencyCode:   e.Amount.CurrencyCode,
			CounterpartyID: counterparty,
		}
	}

	switch e.EventType {
	case events.EventDepositCompleted:
		return []*Operation{op(e.AccountID, "", OperationTypeDeposit)}, nil
	case events.EventWithdrawalCompleted:
		return []*Operation{op(e.AccountID, "", OperationTypeWithdrawal)}, nil
	default:
		return []*Operation{
			op(e.AccountID, e.CounterpartyID, OperationTypeTransferOut),
			op(e.CounterpartyID, e.AccountID, OperationTypeTransferIn),
		}, nil
	}
}
