package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

// Ledger is the part of domain.LedgerService exposed over gRPC.
type Ledger interface {
	Deposit(ctx context.Context, callerID uuid.UUID, req domain.DepositRequest) (*domain.Receipt, error)
	Withdraw(ctx context.Context, callerID uuid.UUID, req domain.WithdrawalRequest) (*domain.Receipt, error)
	Transfer(ctx context.Context, callerID uuid.UUID, req domain.TransferRequest) (*domain.Transfer, error)
	GetBalance(ctx context.Context, callerID, accountID uuid.UUID) (*domain.Balance, error)
	GetHistory(ctx context.Context, callerID, accountID uuid.UUID, q domain.HistoryQuery) ([]*domain.TransactionRecord, error)
	GetStatement(ctx context.Context, callerID, accountID uuid.UUID, period domain.DateRange) (*domain.Statement, error)
}

// LedgerServer implements the LedgerService gRPC service.
type LedgerServer struct {
	ledger Ledger
	logger *zap.Logger
}

// NewLedgerServer creates a new LedgerServer.
func NewLedgerServer(ledger Ledger, logger *zap.Logger) *LedgerServer {
	return &LedgerServer{
		ledger: ledger,
		logger: logger,
	}
}

// NewServer creates a gRPC server with the ledger service registered.
func NewServer(ledger Ledger, logger *zap.Logger) *grpc.Server {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(LoggingInterceptor(logger)),
		grpc.MaxConcurrentStreams(1000),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 15 * time.Minute,
			Time:              5 * time.Minute,
			Timeout:           1 * time.Minute,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             30 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	RegisterLedgerService(s, NewLedgerServer(ledger, logger))
	return s
}

// LoggingInterceptor logs every call with its status code and latency.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
		}
		switch code {
		case codes.OK:
			logger.Info("grpc call", fields...)
		case codes.Internal, codes.Unknown:
			logger.Error("grpc call", append(fields, zap.Error(err))...)
		default:
			logger.Warn("grpc call", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}

// Deposit credits an account of the caller.
func (s *LedgerServer) Deposit(ctx context.Context, req *DepositRequest) (*ReceiptResponse, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	accountID, err := parseID("account_id", req.AccountID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	receipt, err := s.ledger.Deposit(ctx, caller, domain.DepositRequest{
		AccountID:   accountID,
		Amount:      amount,
		Description: req.Description,
	})
	if err != nil {
		return nil, mapDomainErrorToGRPC(err)
	}
	return toReceiptResponse(receipt), nil
}

// Withdraw debits an account of the caller.
func (s *LedgerServer) Withdraw(ctx context.Context, req *WithdrawRequest) (*ReceiptResponse, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	accountID, err := parseID("account_id", req.AccountID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	receipt, err := s.ledger.Withdraw(ctx, caller, domain.WithdrawalRequest{
		AccountID:   accountID,
		Amount:      amount,
		Description: req.Description,
	})
	if err != nil {
		return nil, mapDomainErrorToGRPC(err)
	}
	return toReceiptResponse(receipt), nil
}

// Transfer moves money between two accounts atomically.
func (s *LedgerServer) Transfer(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	fromID, err := parseID("from_account_id", req.FromAccountID)
	if err != nil {
		return nil, err
	}
	toID, err := parseID("to_account_id", req.ToAccountID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	transfer, err := s.ledger.Transfer(ctx, caller, domain.TransferRequest{
		FromAccountID: fromID,
		ToAccountID:   toID,
		Amount:        amount,
		Description:   req.Description,
	})
	if err != nil {
		return nil, mapDomainErrorToGRPC(err)
	}
	return &TransferResponse{
		CorrelationID: transfer.CorrelationID.String(),
		FromAccountID: transfer.FromAccountID.String(),
		ToAccountID:   transfer.ToAccountID.String(),
		Amount:        domain.FormatAmount(transfer.Amount),
		Outgoing:      toTransaction(transfer.Out),
		Incoming:      toTransaction(transfer.In),
		Timestamp:     formatTimestamp(transfer.CreatedAt),
	}, nil
}

// GetBalance returns the current balance of an account.
func (s *LedgerServer) GetBalance(ctx context.Context, req *GetBalanceRequest) (*BalanceResponse, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	accountID, err := parseID("account_id", req.AccountID)
	if err != nil {
		return nil, err
	}

	balance, err := s.ledger.GetBalance(ctx, caller, accountID)
	if err != nil {
		return nil, mapDomainErrorToGRPC(err)
	}
	return &BalanceResponse{
		AccountID: balance.AccountID.String(),
		Balance:   domain.FormatAmount(balance.Amount),
		Currency:  balance.Currency,
		Status:    string(balance.Status),
		Timestamp: formatTimestamp(balance.AsOf),
	}, nil
}

// GetHistory returns committed records of an account, newest first.
func (s *LedgerServer) GetHistory(ctx context.Context, req *GetHistoryRequest) (*HistoryResponse, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	accountID, err := parseID("account_id", req.AccountID)
	if err != nil {
		return nil, err
	}
	q := domain.HistoryQuery{Limit: req.Limit, Offset: req.Offset}
	if req.TransactionType != "" {
		if q.Kind, err = domain.ParseRecordKind(req.TransactionType); err != nil {
			return nil, mapDomainErrorToGRPC(err)
		}
	}

	records, err := s.ledger.GetHistory(ctx, caller, accountID, q)
	if err != nil {
		return nil, mapDomainErrorToGRPC(err)
	}
	resp := &HistoryResponse{Transactions: make([]*Transaction, 0, len(records))}
	for _, r := range records {
		resp.Transactions = append(resp.Transactions, toTransaction(r))
	}
	return resp, nil
}

// GetStatement summarises an account over an inclusive date range.
func (s *LedgerServer) GetStatement(ctx context.Context, req *GetStatementRequest) (*StatementResponse, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	accountID, err := parseID("account_id", req.AccountID)
	if err != nil {
		return nil, err
	}
	period, err := domain.ParseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, mapDomainErrorToGRPC(err)
	}

	st, err := s.ledger.GetStatement(ctx, caller, accountID, period)
	if err != nil {
		return nil, mapDomainErrorToGRPC(err)
	}
	return &StatementResponse{
		AccountID:        st.AccountID.String(),
		Currency:         st.Currency,
		StartDate:        st.StartDate.Format(time.DateOnly),
		EndDate:          st.EndDate.Format(time.DateOnly),
		OpeningBalance:   domain.FormatAmount(st.OpeningBalance),
		ClosingBalance:   domain.FormatAmount(st.ClosingBalance),
		TotalDebit:       domain.FormatAmount(st.TotalDebit),
		TotalCredit:      domain.FormatAmount(st.TotalCredit),
		TransactionCount: st.TransactionCount,
	}, nil
}

func callerID(ctx context.Context) (uuid.UUID, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(CallerIDHeader)
	if len(values) == 0 {
		return uuid.Nil, status.Error(codes.Unauthenticated, CallerIDHeader+" metadata is required")
	}
	id, err := uuid.Parse(values[0])
	if err != nil {
		return uuid.Nil, status.Errorf(codes.Unauthenticated, "invalid %s: %v", CallerIDHeader, err)
	}
	return id, nil
}

func parseID(field, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
	}
	return id, nil
}

func parseAmount(value string) (d decimal.Decimal, err error) {
	if value == "" {
		return d, status.Error(codes.InvalidArgument, "amount is required")
	}
	if d, err = domain.ParseAmount(value); err != nil {
		return d, mapDomainErrorToGRPC(err)
	}
	return d, nil
}

// mapDomainErrorToGRPC maps domain errors to gRPC status codes.
func mapDomainErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrSameAccount),
		errors.Is(err, domain.ErrCurrencyMismatch),
		errors.Is(err, domain.ErrInvalidDateRange),
		errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrTransferNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrAccountNotActive),
		errors.Is(err, domain.ErrBalanceNotZero):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrBusy):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, domain.ErrTimeout):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func toTransaction(r *domain.TransactionRecord) *Transaction {
	t := &Transaction{
		ID:              r.ID.String(),
		AccountID:       r.AccountID.String(),
		TransactionType: string(r.Kind),
		Amount:          domain.FormatAmount(r.Amount),
		BalanceAfter:    domain.FormatAmount(r.BalanceAfter),
		Description:     r.Description,
		Status:          string(r.Status),
		CreatedAt:       formatTimestamp(r.CreatedAt),
	}
	if r.CorrelationID != nil {
		t.CorrelationID = r.CorrelationID.String()
	}
	return t
}

func toReceiptResponse(r *domain.Receipt) *ReceiptResponse {
	return &ReceiptResponse{
		Balance:     domain.FormatAmount(r.Balance),
		Transaction: toTransaction(r.Record),
	}
}

// formatTimestamp formats a time.Time to ISO 8601 format.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

var _ LedgerService = (*LedgerServer)(nil)
