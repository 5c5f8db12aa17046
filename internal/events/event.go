package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

// Event types. The routing key of an event is "<exchange>.<type>".
const (
	EventDepositCompleted    = "deposit.completed"
	EventWithdrawalCompleted = "withdrawal.completed"
	EventTransferCompleted   = "transfer.completed"
)

const statusSuccess = "SUCCESS"

// OperationCompletedEvent is the payload of every committed ledger operation.
// For transfers AccountID is the sender and CounterpartyID the recipient.
type OperationCompletedEvent struct {
	EventID        string `json:"eventId"`
	EventType      string `json:"eventType"`
	EventTimestamp string `json:"eventTimestamp"`
	OperationID    string `json:"operationId"`
	AccountID      string `json:"accountId"`
	CounterpartyID string `json:"counterpartyId,omitempty"`
	Amount         Amount `json:"amount"`
	BalanceAfter   string `json:"balanceAfter,omitempty"`
	Description    string `json:"description,omitempty"`
	Status         string `json:"status"`
	Timestamp      string `json:"timestamp"`
}

// Amount carries a decimal value as a string so no precision is lost.
type Amount struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currencyCode"`
}

func newEvent(eventType, operationID, accountID, currency string, record *domain.TransactionRecord) *OperationCompletedEvent {
	return &OperationCompletedEvent{
		EventID:        uuid.NewString(),
		EventType:      eventType,
		EventTimestamp: time.Now().UTC().Format(time.RFC3339),
		OperationID:    operationID,
		AccountID:      accountID,
		Amount: Amount{
			Value:        domain.FormatAmount(record.Amount),
			CurrencyCode: currency,
		},
		Description: record.Description,
		Status:      statusSuccess,
		Timestamp:   record.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// DepositCompleted builds the event for a committed deposit record.
func DepositCompleted(currency string, record *domain.TransactionRecord) *OperationCompletedEvent {
	e := newEvent(EventDepositCompleted, record.ID.String(), record.AccountID.String(), currency, record)
	e.BalanceAfter = domain.FormatAmount(record.BalanceAfter)
	return e
}

// WithdrawalCompleted builds the event for a committed withdrawal record.
func WithdrawalCompleted(currency string, record *domain.TransactionRecord) *OperationCompletedEvent {
	e := newEvent(EventWithdrawalCompleted, record.ID.String(), record.AccountID.String(), currency, record)
	e.BalanceAfter = domain.FormatAmount(record.BalanceAfter)
	return e
}

// TransferCompleted builds the event for a committed transfer. The operation
// id is the transfer's correlation id.
func TransferCompleted(currency string, t *domain.Transfer) *OperationCompletedEvent {
	e := newEvent(EventTransferCompleted, t.CorrelationID.String(), t.FromAccountID.String(), currency, t.Out)
	e.CounterpartyID = t.ToAccountID.String()
	return e
}

// Validate checks the fields a consumer relies on.
func (e *OperationCompletedEvent) Validate() error {
	switch e.EventType {
	case EventDepositCompleted, EventWithdrawalCompleted:
	case EventTransferCompleted:
		if e.CounterpartyID == "" {
			return errors.New("counterparty ID is required for transfers")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.EventType)
	}
	if e.OperationID == "" {
		return errors.New("operation ID is required")
	}
	if e.AccountID == "" {
		return errors.New("account ID is required")
	}
	if e.Amount.Value == "" {
		return errors.New("amount value is required")
	}
	if e.Amount.CurrencyCode == "" {
		return errors.New("currency code is required")
	}
	if e.Timestamp == "" {
		return errors.New("timestamp is required")
	}
	if e.Status != statusSuccess {
		return fmt.Errorf("only SUCCESS status events are processed, got: %s", e.Status)
	}
	return nil
}
