package grpc_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
	grpcserver "github.com/spbu-ds-practicum-2025/ledger-service/internal/grpc"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/memstore"
)

const bufSize = 1024 * 1024

// startServer serves ledger over an in-memory listener and returns a client.
func startServer(t *testing.T, ledger grpcserver.Ledger) *grpcserver.LedgerServiceClient {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	srv := grpcserver.NewServer(ledger, zap.NewNop())
	go func() {
		if err := srv.Serve(lis); err != nil {
			t.Logf("grpc server error: %v", err)
		}
	}()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial bufnet: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return grpcserver.NewLedgerServiceClient(conn)
}

func openAccount(t *testing.T, ledger *domain.LedgerService, owner uuid.UUID, currency, balance string) uuid.UUID {
	t.Helper()
	acc, err := ledger.CreateAccount(context.Background(), owner, domain.CreateAccountRequest{
		Type:           domain.AccountTypeChecking,
		Currency:       currency,
		InitialBalance: decimal.RequireFromString(balance),
	})
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	return acc.ID
}

func expectCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil", want)
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected gRPC status error, got: %v", err)
	}
	if st.Code() != want {
		t.Errorf("expected error code %v, got %v (%s)", want, st.Code(), st.Message())
	}
}

func TestLedgerService_Scenario(t *testing.T) {
	store := memstore.New(time.Second)
	ledger := domain.NewLedgerService(store.Accounts(), store.Records(), store, domain.OverdraftPolicy{})
	client := startServer(t, ledger)

	owner := uuid.New()
	a := openAccount(t, ledger, owner, "RUB", "1000.00")
	b := openAccount(t, ledger, owner, "RUB", "0")
	ctx := grpcserver.WithCallerID(context.Background(), owner)

	dep, err := client.Deposit(ctx, &grpcserver.DepositRequest{AccountID: a.String(), Amount: "500.00"})
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if dep.Balance != "1500.00" || dep.Transaction.TransactionType != "DEPOSIT" || dep.Transaction.Status != "COMPLETED" {
		t.Errorf("unexpected deposit receipt %+v", dep)
	}

	_, err = client.Withdraw(ctx, &grpcserver.WithdrawRequest{AccountID: a.String(), Amount: "1600.00"})
	expectCode(t, err, codes.FailedPrecondition)

	tr, err := client.Transfer(ctx, &grpcserver.TransferRequest{FromAccountID: a.String(), ToAccountID: b.String(), Amount: "250.00"})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if tr.Outgoing.BalanceAfter != "1250.00" || tr.Incoming.BalanceAfter != "250.00" {
		t.Errorf("unexpected transfer legs %+v / %+v", tr.Outgoing, tr.Incoming)
	}
	if tr.Outgoing.CorrelationID != tr.CorrelationID || tr.Incoming.CorrelationID != tr.CorrelationID {
		t.Errorf("legs must carry correlation id %s", tr.CorrelationID)
	}

	bal, err := client.GetBalance(ctx, &grpcserver.GetBalanceRequest{AccountID: a.String()})
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if bal.Balance != "1250.00" || bal.Currency != "RUB" {
		t.Errorf("unexpected balance %+v", bal)
	}

	hist, err := client.GetHistory(ctx, &grpcserver.GetHistoryRequest{AccountID: a.String()})
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(hist.Transactions) != 2 {
		t.Fatalf("expected 2 records, got %d", len(hist.Transactions))
	}
	if hist.Transactions[0].TransactionType != "TRANSFER_OUT" || hist.Transactions[1].TransactionType != "DEPOSIT" {
		t.Errorf("expected newest first, got %s, %s", hist.Transactions[0].TransactionType, hist.Transactions[1].TransactionType)
	}

	today := time.Now().UTC().Format(time.DateOnly)
	st, err := client.GetStatement(ctx, &grpcserver.GetStatementRequest{AccountID: a.String(), StartDate: today, EndDate: today})
	if err != nil {
		t.Fatalf("GetStatement failed: %v", err)
	}
	if st.OpeningBalance != "1000.00" || st.ClosingBalance != "1250.00" ||
		st.TotalCredit != "500.00" || st.TotalDebit != "250.00" || st.TransactionCount != 2 {
		t.Errorf("unexpected statement %+v", st)
	}
}

func TestLedgerService_RequestValidation(t *testing.T) {
	client := startServer(t, &fakeLedger{})
	ctx := grpcserver.WithCallerID(context.Background(), uuid.New())

	tests := []struct {
		name string
		call func() error
		code codes.Code
	}{
		{
			name: "missing caller id",
			call: func() error {
				_, err := client.GetBalance(context.Background(), &grpcserver.GetBalanceRequest{AccountID: uuid.NewString()})
				return err
			},
			code: codes.Unauthenticated,
		},
		{
			name: "missing account_id",
			call: func() error {
				_, err := client.Deposit(ctx, &grpcserver.DepositRequest{Amount: "1.00"})
				return err
			},
			code: codes.InvalidArgument,
		},
		{
			name: "invalid account_id format",
			call: func() error {
				_, err := client.Withdraw(ctx, &grpcserver.WithdrawRequest{AccountID: "invalid-uuid", Amount: "1.00"})
				return err
			},
			code: codes.InvalidArgument,
		},
		{
			name: "missing amount",
			call: func() error {
				_, err := client.Transfer(ctx, &grpcserver.TransferRequest{FromAccountID: uuid.NewString(), ToAccountID: uuid.NewString()})
				return err
			},
			code: codes.InvalidArgument,
		},
		{
			name: "negative amount",
			call: func() error {
				_, err := client.Deposit(ctx, &grpcserver.DepositRequest{AccountID: uuid.NewString(), Amount: "-5"})
				return err
			},
			code: codes.InvalidArgument,
		},
		{
			name: "unknown transaction type",
			call: func() error {
				_, err := client.GetHistory(ctx, &grpcserver.GetHistoryRequest{AccountID: uuid.NewString(), TransactionType: "REFUND"})
				return err
			},
			code: codes.InvalidArgument,
		},
		{
			name: "reversed date range",
			call: func() error {
				_, err := client.GetStatement(ctx, &grpcserver.GetStatementRequest{AccountID: uuid.NewString(), StartDate: "2025-03-01", EndDate: "2025-02-01"})
				return err
			},
			code: codes.InvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectCode(t, tt.call(), tt.code)
		})
	}
}

// fakeLedger fails every call with err.
type fakeLedger struct {
	err error
}

func (f *fakeLedger) Deposit(context.Context, uuid.UUID, domain.DepositRequest) (*domain.Receipt, error) {
	return nil, f.err
}

func (f *fakeLedger) Withdraw(context.Context, uuid.UUID, domain.WithdrawalRequest) (*domain.Receipt, error) {
	return nil, f.err
}

func (f *fakeLedger) Transfer(context.Context, uuid.UUID, domain.TransferRequest) (*domain.Transfer, error) {
	return nil, f.err
}

func (f *fakeLedger) GetBalance(context.Context, uuid.UUID, uuid.UUID) (*domain.Balance, error) {
	return nil, f.err
}

func (f *fakeLedger) GetHistory(context.Context, uuid.UUID, uuid.UUID, domain.HistoryQuery) ([]*domain.TransactionRecord, error) {
	return nil, f.err
}

func (f *fakeLedger) GetStatement(context.Context, uuid.UUID, uuid.UUID, domain.DateRange) (*domain.Statement, error) {
	return nil, f.err
}

func TestLedgerService_DomainErrors(t *testing.T) {
	tests := []struct {
		name         string
		domainError  error
		expectedCode codes.Code
	}{
		{"account not found", domain.ErrAccountNotFound, codes.NotFound},
		{"forbidden", domain.ErrForbidden, codes.PermissionDenied},
		{"insufficient funds", domain.ErrInsufficientFunds, codes.FailedPrecondition},
		{"frozen account", domain.ErrAccountFrozen, codes.FailedPrecondition},
		{"same account", domain.ErrSameAccount, codes.InvalidArgument},
		{"currency mismatch", domain.ErrCurrencyMismatch, codes.InvalidArgument},
		{"busy", domain.ErrBusy, codes.Unavailable},
		{"timeout", domain.ErrTimeout, codes.DeadlineExceeded},
		{"store failure", domain.ErrStoreFailure, codes.Internal},
		{"unclassified", errors.New("disk on fire"), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := startServer(t, &fakeLedger{err: tt.domainError})
			ctx := grpcserver.WithCallerID(context.Background(), uuid.New())

			_, err := client.Deposit(ctx, &grpcserver.DepositRequest{AccountID: uuid.NewString(), Amount: "10.00"})
			expectCode(t, err, tt.expectedCode)
		})
	}
}
