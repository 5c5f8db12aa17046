package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OverdraftPolicy maps an account type to how far below zero its balance may
// go. Types without an entry may not go below zero.
type OverdraftPolicy struct {
	limits map[AccountType]decimal.Decimal
}

// NewOverdraftPolicy copies limits into a policy. Negative limits are rejected.
func NewOverdraftPolicy(limits map[AccountType]decimal.Decimal) (OverdraftPolicy, error) {
	p := OverdraftPolicy{limits: make(map[AccountType]decimal.Decimal, len(limits))}
	for t, limit := range limits {
		if limit.IsNegative() {
			return OverdraftPolicy{}, fmt.Errorf("%w: overdraft limit for %s is negative", ErrInvalidInput, t)
		}
		p.limits[t] = limit
	}
	return p, nil
}

// ParseOverdraftPolicy reads a policy from "CREDIT=500.00,CHECKING=0".
// An empty string yields the no-overdraft policy.
func ParseOverdraftPolicy(s string) (OverdraftPolicy, error) {
	limits := make(map[AccountType]decimal.Decimal)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return OverdraftPolicy{}, fmt.Errorf("%w: overdraft entry %q must be TYPE=LIMIT", ErrInvalidInput, part)
		}
		t, err := ParseAccountType(name)
		if err != nil {
			return OverdraftPolicy{}, err
		}
		limit, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return OverdraftPolicy{}, fmt.Errorf("%w: overdraft limit %q: %v", ErrInvalidInput, value, err)
		}
		limits[t] = limit
	}
	return NewOverdraftPolicy(limits)
}

// Limit returns the overdraft allowance for t.
func (p OverdraftPolicy) Limit(t AccountType) decimal.Decimal {
	if limit, ok := p.limits[t]; ok {
		return limit
	}
	return decimal.Zero
}

// Floor is the lowest balance a debit may leave on an account of type t.
func (p OverdraftPolicy) Floor(t AccountType) decimal.Decimal {
	return p.Limit(t).Neg()
}
