package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType classifies an account. It drives the overdraft policy.
type AccountType string

const (
	AccountTypeSavings    AccountType = "SAVINGS"
	AccountTypeChecking   AccountType = "CHECKING"
	AccountTypeCredit     AccountType = "CREDIT"
	AccountTypeInvestment AccountType = "INVESTMENT"
)

// ParseAccountType validates a case-insensitive account type name.
func ParseAccountType(s string) (AccountType, error) {
	switch t := AccountType(strings.ToUpper(strings.TrimSpace(s))); t {
	case AccountTypeSavings, AccountTypeChecking, AccountTypeCredit, AccountTypeInvestment:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown account type %q", ErrInvalidInput, s)
	}
}

// AccountStatus represents the lifecycle state of an account.
type AccountStatus string

const (
	// AccountStatusActive accounts accept deposits, withdrawals and transfers.
	AccountStatusActive AccountStatus = "ACTIVE"

	// AccountStatusFrozen accounts are readable but reject every mutation.
	AccountStatusFrozen AccountStatus = "FROZEN"

	// AccountStatusClosed is terminal.
	AccountStatusClosed AccountStatus = "CLOSED"
)

// ParseAccountStatus validates a case-insensitive account status name.
func ParseAccountStatus(s string) (AccountStatus, error) {
	switch st := AccountStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case AccountStatusActive, AccountStatusFrozen, AccountStatusClosed:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown account status %q", ErrInvalidInput, s)
	}
}

// Account represents a bank account in the system.
// Balance is mutated only by LedgerService, always under a row lock.
type Account struct {
	ID             uuid.UUID       // Unique identifier of the account
	Number         string          // Human readable account number
	OwnerID        uuid.UUID       // User who created the account
	Type           AccountType     // Savings, checking, credit or investment
	Currency       string          // ISO 4217 currency code
	Balance        decimal.Decimal // Current balance
	InitialBalance decimal.Decimal // Balance the account was opened with
	Status         AccountStatus   // Active, frozen or closed
	CreatedAt      time.Time       // Timestamp when the account was created
	UpdatedAt      time.Time       // Timestamp of the last account update
}

// NewAccount creates a new active Account with a fresh identifier and number.
func NewAccount(ownerID uuid.UUID, accountType AccountType, currency string, initialBalance decimal.Decimal) *Account {
	now := time.Now().UTC()
	id := uuid.New()
	return &Account{
		ID:             id,
		Number:         accountNumber(now, id),
		OwnerID:        ownerID,
		Type:           accountType,
		Currency:       currency,
		Balance:        initialBalance,
		InitialBalance: initialBalance,
		Status:         AccountStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// accountNumber formats ACC-YYYYMMDD-XXXXXXXX from the creation date and id.
func accountNumber(t time.Time, id uuid.UUID) string {
	return fmt.Sprintf("ACC-%s-%s", t.Format("20060102"), strings.ToUpper(id.String()[:8]))
}

// EnsureActive returns ErrAccountFrozen or ErrAccountClosed when the account
// must not be mutated.
func (a *Account) EnsureActive() error {
	switch a.Status {
	case AccountStatusActive:
		return nil
	case AccountStatusFrozen:
		return ErrAccountFrozen
	case AccountStatusClosed:
		return ErrAccountClosed
	default:
		return fmt.Errorf("%w: status %s", ErrAccountNotActive, a.Status)
	}
}

// RecordKind is the kind of balance change a TransactionRecord documents.
type RecordKind string

const (
	RecordKindDeposit     RecordKind = "DEPOSIT"
	RecordKindWithdrawal  RecordKind = "WITHDRAWAL"
	RecordKindTransferOut RecordKind = "TRANSFER_OUT"
	RecordKindTransferIn  RecordKind = "TRANSFER_IN"
)

// ParseRecordKind validates a case-insensitive record kind name.
func ParseRecordKind(s string) (RecordKind, error) {
	switch k := RecordKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case RecordKindDeposit, RecordKindWithdrawal, RecordKindTransferOut, RecordKindTransferIn:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown transaction type %q", ErrInvalidInput, s)
	}
}

// IsDebit reports whether the kind lowers the account balance.
func (k RecordKind) IsDebit() bool {
	return k == RecordKindWithdrawal || k == RecordKindTransferOut
}

// RecordStatus represents the possible states of a transaction record.
type RecordStatus string

const (
	// RecordStatusPending is the in-memory state before the owning store
	// transaction writes the record.
	RecordStatusPending RecordStatus = "PENDING"

	// RecordStatusCompleted records are committed together with the balance change.
	RecordStatusCompleted RecordStatus = "COMPLETED"

	// RecordStatusFailed records never reach the store.
	RecordStatusFailed RecordStatus = "FAILED"
)

// TransactionRecord is an immutable, append-only entry documenting one
// balance change and the balance that resulted from it.
type TransactionRecord struct {
	ID            uuid.UUID       // Unique identifier of the record
	AccountID     uuid.UUID       // Account whose balance changed
	Kind          RecordKind      // Deposit, withdrawal or transfer leg
	Amount        decimal.Decimal // Always positive
	BalanceAfter  decimal.Decimal // Account balance right after the change
	CorrelationID *uuid.UUID      // Links the two legs of a transfer
	Description   string          // Free text supplied by the caller
	Status        RecordStatus    // Pending, completed or failed
	Sequence      int64           // Store-assigned ordering key
	CreatedAt     time.Time       // Timestamp of the change
}

// NewRecord creates a PENDING record for a change on accountID.
func NewRecord(accountID uuid.UUID, kind RecordKind, amount, balanceAfter decimal.Decimal, description string, correlationID *uuid.UUID) *TransactionRecord {
	return &TransactionRecord{
		ID:            uuid.New(),
		AccountID:     accountID,
		Kind:          kind,
		Amount:        amount,
		BalanceAfter:  balanceAfter,
		CorrelationID: correlationID,
		Description:   description,
		Status:        RecordStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
}

// MarkCompleted finalises the record. It is called inside the store
// transaction right before the record is written, so only committed rows are
// ever observed as COMPLETED.
func (r *TransactionRecord) MarkCompleted() {
	r.Status = RecordStatusCompleted
}

// MarkFailed marks a record whose operation was rolled back.
func (r *TransactionRecord) MarkFailed() {
	r.Status = RecordStatusFailed
}

// Transfer is the logical pairing of one TRANSFER_OUT and one TRANSFER_IN
// record sharing a correlation id.
type Transfer struct {
	CorrelationID uuid.UUID
	FromAccountID uuid.UUID
	ToAccountID   uuid.UUID
	Amount        decimal.Decimal
	Description   string
	Out           *TransactionRecord
	In            *TransactionRecord
	CreatedAt     time.Time
}

// TransferFromLegs joins the two legs of a transfer. It returns
// ErrTransferNotFound unless exactly one outgoing and one incoming leg share
// the correlation id.
func TransferFromLegs(legs []*TransactionRecord) (*Transfer, error) {
	var out, in *TransactionRecord
	for _, leg := range legs {
		switch leg.Kind {
		case RecordKindTransferOut:
			if out != nil {
				return nil, fmt.Errorf("%w: duplicate outgoing leg", ErrTransferNotFound)
			}
			out = leg
		case RecordKindTransferIn:
			if in != nil {
				return nil, fmt.Errorf("%w: duplicate incoming leg", ErrTransferNotFound)
			}
			in = leg
		}
	}
	if out == nil || in == nil || out.CorrelationID == nil {
		return nil, ErrTransferNotFound
	}
	return &Transfer{
		CorrelationID: *out.CorrelationID,
		FromAccountID: out.AccountID,
		ToAccountID:   in.AccountID,
		Amount:        out.Amount,
		Description:   out.Description,
		Out:           out,
		In:            in,
		CreatedAt:     out.CreatedAt,
	}, nil
}

// Balance is the read model returned by GetBalance.
type Balance struct {
	AccountID uuid.UUID
	Currency  string
	Amount    decimal.Decimal
	Status    AccountStatus
	AsOf      time.Time
}

// User is an account holder able to authenticate against the API.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUser creates an active user. The email is stored lower-cased.
func NewUser(email, passwordHash, firstName, lastName string) *User {
	now := time.Now().UTC()
	return &User{
		ID:           uuid.New(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		FirstName:    firstName,
		LastName:     lastName,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
