package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar dates in UTC.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange truncates both ends to their UTC calendar date.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: truncateDate(start), End: truncateDate(end)}
	if r.Start.After(r.End) {
		return DateRange{}, fmt.Errorf("%w: %s > %s", ErrInvalidDateRange, r.Start.Format(dateLayout), r.End.Format(dateLayout))
	}
	return r, nil
}

// ParseDateRange parses two YYYY-MM-DD dates.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: start date %q", ErrInvalidInput, start)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: end date %q", ErrInvalidInput, end)
	}
	return NewDateRange(s, e)
}

// From is the first instant covered by the range.
func (r DateRange) From() time.Time { return r.Start }

// Until is the first instant after the range: midnight following End.
func (r DateRange) Until() time.Time { return r.End.AddDate(0, 0, 1) }

// ClosedBefore reports whether the whole range lies before now.
func (r DateRange) ClosedBefore(now time.Time) bool {
	return !r.Until().After(now)
}

func (r DateRange) String() string {
	return r.Start.Format(dateLayout) + ".." + r.End.Format(dateLayout)
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Statement summarises an account's activity over a date range.
type Statement struct {
	AccountID        uuid.UUID
	Currency         string
	StartDate        time.Time
	EndDate          time.Time
	OpeningBalance   decimal.Decimal
	ClosingBalance   decimal.Decimal
	TotalDebit       decimal.Decimal
	TotalCredit      decimal.Decimal
	TransactionCount int
}

// BuildStatement folds the records of an account into a statement.
//
// last is the most recent record strictly before the range, nil if there is
// none. inRange must hold the records inside the range in commit order.
func BuildStatement(account *Account, period DateRange, last *TransactionRecord, inRange []*TransactionRecord) *Statement {
	opening := account.InitialBalance
	if last != nil {
		opening = last.BalanceAfter
	}

	st := &Statement{
		AccountID:      account.ID,
		Currency:       account.Currency,
		StartDate:      period.Start,
		EndDate:        period.End,
		OpeningBalance: opening,
		ClosingBalance: opening,
		TotalDebit:     decimal.Zero,
		TotalCredit:    decimal.Zero,
	}
	for _, r := range inRange {
		if r.Kind.IsDebit() {
			st.TotalDebit = st.TotalDebit.Add(r.Amount)
		} else {
			st.TotalCredit = st.TotalCredit.Add(r.Amount)
		}
		st.ClosingBalance = r.BalanceAfter
		st.TransactionCount++
	}
	return st
}
