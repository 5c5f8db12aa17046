package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"lock not available", &pgconn.PgError{Code: codeLockNotAvailable}, domain.ErrBusy},
		{"deadlock", &pgconn.PgError{Code: codeDeadlockDetected}, domain.ErrBusy},
		{"serialization failure", &pgconn.PgError{Code: codeSerializationFailure}, domain.ErrBusy},
		{"statement timeout", &pgconn.PgError{Code: codeQueryCanceled}, domain.ErrTimeout},
		{"numeric overflow", fmt.Errorf("failed to apply delta: %w", &pgconn.PgError{Code: codeNumericOutOfRange}), domain.ErrInvalidAmount},
		{"other sqlstate", &pgconn.PgError{Code: "XX000"}, domain.ErrStoreFailure},
		{"deadline", context.DeadlineExceeded, domain.ErrTimeout},
		{"domain error passes through", domain.ErrInsufficientFunds, domain.ErrInsufficientFunds},
		{"plain error", errors.New("connection reset"), domain.ErrStoreFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
	if classifyError(nil) != nil {
		t.Error("nil must stay nil")
	}
}
