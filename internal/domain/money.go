package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnits is the number of decimal places of every supported currency.
const MinorUnits = 2

// MaxAmount is the largest value a NUMERIC(20,2) balance column holds.
var MaxAmount = decimal.RequireFromString("999999999999999999.99")

// ParseAmount parses a decimal string such as "250.00" into a positive amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount checks that an amount is strictly positive and exact to the
// minor unit.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidAmount, amount.String())
	}
	if !hasMinorUnitPrecision(amount) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount.String(), MinorUnits)
	}
	return checkMaxAmount(amount)
}

// ValidateOpeningBalance allows zero but otherwise follows ValidateAmount.
func ValidateOpeningBalance(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: initial balance must not be negative", ErrInvalidAmount)
	}
	if !hasMinorUnitPrecision(amount) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount.String(), MinorUnits)
	}
	return checkMaxAmount(amount)
}

func checkMaxAmount(amount decimal.Decimal) error {
	if amount.Abs().GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: %s exceeds %s", ErrInvalidAmount, amount.String(), MaxAmount.StringFixed(MinorUnits))
	}
	return nil
}

func hasMinorUnitPrecision(amount decimal.Decimal) bool {
	return amount.Equal(amount.Round(MinorUnits))
}

// FormatAmount renders an amount with exactly two decimal places.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(MinorUnits)
}
