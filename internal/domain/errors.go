package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount is returned when an amount is not positive or has more
	// than two decimal places
	ErrInvalidAmount = errors.New("invalid amount: must be positive with at most 2 decimal places")

	// ErrAccountNotFound is returned when an account doesn't exist
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountNotActive is returned when the account status forbids mutation
	ErrAccountNotActive = errors.New("account is not active")

	ErrAccountFrozen = fmt.Errorf("%w: frozen", ErrAccountNotActive)
	ErrAccountClosed = fmt.Errorf("%w: closed", ErrAccountNotActive)

	// ErrInsufficientFunds is returned when a debit would take the balance
	// below the floor allowed for the account type
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSameAccount is returned when sender and recipient are the same
	ErrSameAccount = errors.New("sender and recipient must be different accounts")

	// ErrBusy is returned when a row lock could not be acquired in time.
	// Nothing was committed, the operation may be retried.
	ErrBusy = errors.New("account is busy, retry later")

	// ErrTimeout is returned when the operation ran out of time or the caller went away
	ErrTimeout = errors.New("operation timed out")

	// ErrStoreFailure is returned when the ledger store is unavailable or a
	// commit failed for infrastructural reasons
	ErrStoreFailure = errors.New("ledger store failure")

	// ErrNoTransaction is returned when a mutating repository call is made
	// outside a store transaction
	ErrNoTransaction = fmt.Errorf("%w: no active transaction", ErrStoreFailure)

	// ErrCurrencyMismatch is returned when account currencies don't match
	ErrCurrencyMismatch = errors.New("currency mismatch between accounts")

	ErrInvalidDateRange = errors.New("invalid date range: start must not be after end")
	ErrInvalidInput     = errors.New("invalid input")
	ErrForbidden        = errors.New("account does not belong to caller")
	ErrTransferNotFound = errors.New("transfer not found")
	ErrBalanceNotZero   = errors.New("account balance must be zero to close it")

	ErrCardNotFound    = errors.New("card not found")
	ErrCardNotActive   = errors.New("card is not active")
	ErrCardNumberTaken = errors.New("card number already issued")

	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrWeakPassword       = errors.New("password must be at least 8 characters and contain an uppercase letter, a digit and one of !@#$%^&*")
)

// kinds lists every sentinel with its short name, most specific first.
var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidAmount, "invalid_amount"},
	{ErrAccountNotFound, "not_found"},
	{ErrTransferNotFound, "not_found"},
	{ErrUserNotFound, "not_found"},
	{ErrCardNotFound, "not_found"},
	{ErrCardNotActive, "card_not_active"},
	{ErrAccountNotActive, "account_not_active"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrSameAccount, "same_account"},
	{ErrBusy, "busy"},
	{ErrTimeout, "timeout"},
	{ErrStoreFailure, "store_failure"},
	{ErrCurrencyMismatch, "currency_mismatch"},
	{ErrInvalidDateRange, "invalid_date_range"},
	{ErrInvalidInput, "invalid_input"},
	{ErrForbidden, "forbidden"},
	{ErrBalanceNotZero, "balance_not_zero"},
	{ErrEmailTaken, "email_taken"},
	{ErrInvalidCredentials, "invalid_credentials"},
	{ErrUnauthorized, "unauthorized"},
	{ErrWeakPassword, "weak_password"},
}

// ErrorKind returns a stable short name for err, "ok" for nil.
// Unclassified errors report as store_failure.
func ErrorKind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "store_failure"
}

// IsRetryable reports whether err is a transient contention failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrTimeout)
}

// normalizeError makes sure every failure leaving the service carries one of
// the sentinel kinds. Context errors become ErrTimeout, anything else that is
// not already classified becomes ErrStoreFailure.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrStoreFailure, err)
}
