package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// DefaultPageSize is used when a listing doesn't ask for a limit.
	DefaultPageSize = 50
	// MaxPageSize caps any listing.
	MaxPageSize = 200

	maxDescriptionLength = 255
)

// ValidateCurrencyCode validates that a currency code follows ISO 4217 format.
func ValidateCurrencyCode(code string) error {
	if len(code) != 3 {
		return fmt.Errorf("%w: currency code must be 3 characters (ISO 4217)", ErrInvalidInput)
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return fmt.Errorf("%w: currency code must contain only uppercase letters", ErrInvalidInput)
		}
	}
	return nil
}

func validateDescription(s string) error {
	if utf8.RuneCountInString(s) > maxDescriptionLength {
		return fmt.Errorf("%w: description longer than %d characters", ErrInvalidInput, maxDescriptionLength)
	}
	return nil
}

// NormalizePage clamps paging parameters to sane values.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// CreateAccountRequest opens a new account for the caller.
type CreateAccountRequest struct {
	Type           AccountType
	Currency       string
	InitialBalance decimal.Decimal
}

func (r *CreateAccountRequest) Validate() error {
	if _, err := ParseAccountType(string(r.Type)); err != nil {
		return err
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if err := ValidateCurrencyCode(r.Currency); err != nil {
		return err
	}
	return ValidateOpeningBalance(r.InitialBalance)
}

// DepositRequest credits an account.
type DepositRequest struct {
	AccountID   uuid.UUID
	Amount      decimal.Decimal
	Description string
}

func (r DepositRequest) Validate() error {
	if err := ValidateAmount(r.Amount); err != nil {
		return err
	}
	return validateDescription(r.Description)
}

// WithdrawalRequest debits an account.
type WithdrawalRequest struct {
	AccountID   uuid.UUID
	Amount      decimal.Decimal
	Description string
}

func (r WithdrawalRequest) Validate() error {
	if err := ValidateAmount(r.Amount); err != nil {
		return err
	}
	return validateDescription(r.Description)
}

// TransferRequest moves money between two accounts of the same currency.
type TransferRequest struct {
	FromAccountID uuid.UUID
	ToAccountID   uuid.UUID
	Amount        decimal.Decimal
	Description   string
}

func (r TransferRequest) Validate() error {
	if err := ValidateAmount(r.Amount); err != nil {
		return err
	}
	if r.FromAccountID == r.ToAccountID {
		return ErrSameAccount
	}
	return validateDescription(r.Description)
}

// HistoryQuery pages through the records of one account.
type HistoryQuery struct {
	Kind   RecordKind
	Limit  int
	Offset int
}

// TransferDirection selects outgoing or incoming transfers of an account.
type TransferDirection string

const (
	TransferOutgoing TransferDirection = "outgoing"
	TransferIncoming TransferDirection = "incoming"
)

// ParseTransferDirection defaults to outgoing for an empty string.
func ParseTransferDirection(s string) (TransferDirection, error) {
	switch d := TransferDirection(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return TransferOutgoing, nil
	case TransferOutgoing, TransferIncoming:
		return d, nil
	default:
		return "", fmt.Errorf("%w: direction must be outgoing or incoming", ErrInvalidInput)
	}
}

func (d TransferDirection) legKind() RecordKind {
	if d == TransferIncoming {
		return RecordKindTransferIn
	}
	return RecordKindTransferOut
}
