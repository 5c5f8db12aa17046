package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountRepository defines the interface for account data access operations.
// Mutating calls must run inside TransactionManager.WithTransaction.
type AccountRepository interface {
	// Create inserts a new account.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account without locking it.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// ListByOwner returns the accounts of a user, oldest first.
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Account, error)

	// Lock reads the account and holds its row lock until the transaction
	// ends, whatever its status.
	Lock(ctx context.Context, id uuid.UUID) (*Account, error)

	// GetForUpdate is Lock plus a status check: it fails with ErrAccountFrozen
	// or ErrAccountClosed when the account must not be mutated.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Account, error)

	// ApplyDelta adds delta to the balance and returns the new balance.
	// A negative delta fails with ErrInsufficientFunds when the result would
	// drop below floor. Only valid after GetForUpdate in the same transaction.
	ApplyDelta(ctx context.Context, id uuid.UUID, delta, floor decimal.Decimal) (decimal.Decimal, error)

	// UpdateStatus changes the status of a locked account.
	UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus) error
}

// RecordFilter narrows a history listing.
type RecordFilter struct {
	Kind   RecordKind // empty means every kind
	Limit  int
	Offset int
}

// RecordRepository is the append-only transaction recorder.
type RecordRepository interface {
	// Record appends a completed record and assigns its Sequence. It fails
	// with ErrNoTransaction outside a store transaction.
	Record(ctx context.Context, record *TransactionRecord) error

	// ListByAccount returns records newest first.
	ListByAccount(ctx context.Context, accountID uuid.UUID, filter RecordFilter) ([]*TransactionRecord, error)

	// ListInRange returns records with from <= CreatedAt < until in commit order.
	ListInRange(ctx context.Context, accountID uuid.UUID, from, until time.Time) ([]*TransactionRecord, error)

	// LastBefore returns the newest record created before t, or nil.
	LastBefore(ctx context.Context, accountID uuid.UUID, t time.Time) (*TransactionRecord, error)

	// ListByCorrelation returns both legs of a transfer.
	ListByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]*TransactionRecord, error)
}

// UserRepository stores account holders.
type UserRepository interface {
	// Create fails with ErrEmailTaken when the email is already registered.
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}

// CardRepository stores payment cards.
type CardRepository interface {
	// Create fails with ErrCardNumberTaken when the number is already issued.
	Create(ctx context.Context, card *Card) error

	// GetByID returns ErrCardNotFound if the card doesn't exist.
	GetByID(ctx context.Context, id uuid.UUID) (*Card, error)

	// ListByHolder returns the holder's cards with the given status, oldest first.
	ListByHolder(ctx context.Context, holderID uuid.UUID, status CardStatus) ([]*Card, error)

	// UpdateStatus sets the status of a card and returns the updated card.
	UpdateStatus(ctx context.Context, id uuid.UUID, status CardStatus) (*Card, error)
}

// TransactionManager defines the interface for managing store transactions.
type TransactionManager interface {
	// WithTransaction executes fn within a read-write transaction.
	// If fn returns an error, or ctx is cancelled before commit, the
	// transaction is rolled back. Otherwise, the transaction is committed.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// ReadSnapshot executes fn against one consistent read-only snapshot.
	ReadSnapshot(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher publishes domain events to external systems (e.g. RabbitMQ).
// It is only ever called after commit.
type EventPublisher interface {
	PublishDepositCompleted(ctx context.Context, currency string, record *TransactionRecord) error
	PublishWithdrawalCompleted(ctx context.Context, currency string, record *TransactionRecord) error
	PublishTransferCompleted(ctx context.Context, currency string, transfer *Transfer) error
}

// StatementCache keeps statements of periods that can no longer change.
type StatementCache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, accountID uuid.UUID, period DateRange) (*Statement, error)
	Put(ctx context.Context, statement *Statement) error
}

// OperationObserver receives the outcome of every service call.
type OperationObserver interface {
	ObserveOperation(operation, outcome string, elapsed time.Duration)
}
