package domain

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/spbu-ds-practicum-2025/ledger-service/internal/domain")

const (
	// DefaultTxTimeout bounds every write transaction. A transaction still
	// open at the deadline is rolled back.
	DefaultTxTimeout = 30 * time.Second

	// DefaultCacheGrace is how long after a period ends its statement is still
	// treated as open. Records are stamped before their transaction commits,
	// so it must exceed the transaction timeout.
	DefaultCacheGrace = 2 * DefaultTxTimeout
)

// Receipt is the result of a committed deposit or withdrawal.
type Receipt struct {
	Balance decimal.Decimal
	Record  *TransactionRecord
}

// LedgerService handles the business logic for money movement.
// It coordinates between repositories and ensures transactional consistency.
type LedgerService struct {
	accounts  AccountRepository
	records   RecordRepository
	txManager TransactionManager
	policy    OverdraftPolicy

	publisher EventPublisher
	cache     StatementCache
	observer  OperationObserver
	logger    *zap.Logger
	now       func() time.Time

	txTimeout  time.Duration
	cacheGrace time.Duration
	inflight   sync.WaitGroup
}

// Option configures optional collaborators of LedgerService.
type Option func(*LedgerService)

// WithEventPublisher emits events after every committed operation.
func WithEventPublisher(p EventPublisher) Option {
	return func(s *LedgerService) { s.publisher = p }
}

// WithStatementCache caches statements of closed periods.
func WithStatementCache(c StatementCache) Option {
	return func(s *LedgerService) { s.cache = c }
}

func WithObserver(o OperationObserver) Option {
	return func(s *LedgerService) { s.observer = o }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *LedgerService) { s.logger = l }
}

// WithTxTimeout bounds write transactions. The cache grace is raised to twice
// the timeout when it would be shorter.
func WithTxTimeout(d time.Duration) Option {
	return func(s *LedgerService) { s.txTimeout = d }
}

// WithCacheGrace sets how long after a period ends its statement becomes
// cacheable.
func WithCacheGrace(d time.Duration) Option {
	return func(s *LedgerService) { s.cacheGrace = d }
}

// WithClock overrides time.Now, used to decide whether a period is closed.
func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

// NewLedgerService creates a new instance of LedgerService.
func NewLedgerService(
	accounts AccountRepository,
	records RecordRepository,
	txManager TransactionManager,
	policy OverdraftPolicy,
	opts ...Option,
) *LedgerService {
	s := &LedgerService{
		accounts:  accounts,
		records:   records,
		txManager: txManager,
		policy:    policy,
		logger:    zap.NewNop(),
		now:       time.Now,

		txTimeout:  DefaultTxTimeout,
		cacheGrace: DefaultCacheGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cacheGrace < 2*s.txTimeout {
		s.cacheGrace = 2 * s.txTimeout
	}
	return s
}

// withTransaction runs fn in a write transaction that is rolled back if it is
// still open after txTimeout.
func (s *LedgerService) withTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}
	return s.txManager.WithTransaction(ctx, fn)
}

// begin opens a span; the returned func ends it and must be deferred with a
// pointer to the named error result.
func (s *LedgerService) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "LedgerService."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		*errp = normalizeError(*errp)
		err := *errp
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, ErrorKind(err))
		}
		span.End()
		if s.observer != nil {
			s.observer.ObserveOperation(op, ErrorKind(err), time.Since(start))
		}
	}
}

// authorize checks that callerID owns the account. The owner of an account
// never changes, so this read happens outside the mutating transaction.
func (s *LedgerService) authorize(ctx context.Context, callerID, accountID uuid.UUID) (*Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.OwnerID != callerID {
		return nil, ErrForbidden
	}
	return account, nil
}

// CreateAccount opens an active account owned by callerID.
func (s *LedgerService) CreateAccount(ctx context.Context, callerID uuid.UUID, req CreateAccountRequest) (_ *Account, err error) {
	ctx, end := s.begin(ctx, "CreateAccount")
	defer end(&err)

	if err := req.Validate(); err != nil {
		return nil, err
	}
	account := NewAccount(callerID, req.Type, req.Currency, req.InitialBalance)
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	s.logger.Info("account created",
		zap.String("account_id", account.ID.String()),
		zap.String("number", account.Number),
		zap.String("type", string(account.Type)))
	return account, nil
}

// GetAccount returns one of the caller's accounts.
func (s *LedgerService) GetAccount(ctx context.Context, callerID, accountID uuid.UUID) (_ *Account, err error) {
	ctx, end := s.begin(ctx, "GetAccount")
	defer end(&err)
	return s.authorize(ctx, callerID, accountID)
}

// ListAccounts returns every account of the caller.
func (s *LedgerService) ListAccounts(ctx context.Context, callerID uuid.UUID) (_ []*Account, err error) {
	ctx, end := s.begin(ctx, "ListAccounts")
	defer end(&err)
	return s.accounts.ListByOwner(ctx, callerID)
}

// UpdateStatus freezes, unfreezes or closes an account.
// CLOSED is terminal and requires a zero balance.
func (s *LedgerService) UpdateStatus(ctx context.Context, callerID, accountID uuid.UUID, status AccountStatus) (_ *Account, err error) {
	ctx, end := s.begin(ctx, "UpdateStatus")
	defer end(&err)

	if _, err := ParseAccountStatus(string(status)); err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, callerID, accountID); err != nil {
		return nil, err
	}

	var updated *Account
	err = s.withTransaction(ctx, func(txCtx context.Context) error {
		account, err := s.accounts.Lock(txCtx, accountID)
		if err != nil {
			return err
		}
		if account.Status == AccountStatusClosed {
			return ErrAccountClosed
		}
		if status == AccountStatusClosed && !account.Balance.IsZero() {
			return ErrBalanceNotZero
		}
		if account.Status != status {
			if err := s.accounts.UpdateStatus(txCtx, accountID, status); err != nil {
				return fmt.Errorf("failed to update account status: %w", err)
			}
			account.Status = status
			account.UpdatedAt = time.Now().UTC()
		}
		updated = account
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("account status changed",
		zap.String("account_id", accountID.String()),
		zap.String("status", string(status)))
	return updated, nil
}

// Deposit credits amount to an account the caller owns.
//
// The deposit is executed atomically within a store transaction:
// lock the account, add the amount, append a DEPOSIT record, commit.
func (s *LedgerService) Deposit(ctx context.Context, callerID uuid.UUID, req DepositRequest) (_ *Receipt, err error) {
	ctx, end := s.begin(ctx, "Deposit", attribute.String("account_id", req.AccountID.String()))
	defer end(&err)

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, callerID, req.AccountID); err != nil {
		return nil, err
	}

	var (
		receipt  *Receipt
		currency string
	)
	err = s.withTransaction(ctx, func(txCtx context.Context) error {
		account, err := s.accounts.GetForUpdate(txCtx, req.AccountID)
		if err != nil {
			return err
		}
		balance, err := s.accounts.ApplyDelta(txCtx, account.ID, req.Amount, s.policy.Floor(account.Type))
		if err != nil {
			return err
		}
		record := NewRecord(account.ID, RecordKindDeposit, req.Amount, balance, req.Description, nil)
		if err := s.record(txCtx, record); err != nil {
			return err
		}
		receipt = &Receipt{Balance: balance, Record: record}
		currency = account.Currency
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(func(ctx context.Context, p EventPublisher) error {
		return p.PublishDepositCompleted(ctx, currency, receipt.Record)
	})
	return receipt, nil
}

// Withdraw debits amount from an account the caller owns. If the balance
// would fall below the overdraft floor the transaction is rolled back and no
// record is written.
func (s *LedgerService) Withdraw(ctx context.Context, callerID uuid.UUID, req WithdrawalRequest) (_ *Receipt, err error) {
	ctx, end := s.begin(ctx, "Withdraw", attribute.String("account_id", req.AccountID.String()))
	defer end(&err)

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, callerID, req.AccountID); err != nil {
		return nil, err
	}

	var (
		receipt  *Receipt
		currency string
	)
	err = s.withTransaction(ctx, func(txCtx context.Context) error {
		account, err := s.accounts.GetForUpdate(txCtx, req.AccountID)
		if err != nil {
			return err
		}
		balance, err := s.accounts.ApplyDelta(txCtx, account.ID, req.Amount.Neg(), s.policy.Floor(account.Type))
		if err != nil {
			return err
		}
		record := NewRecord(account.ID, RecordKindWithdrawal, req.Amount, balance, req.Description, nil)
		if err := s.record(txCtx, record); err != nil {
			return err
		}
		receipt = &Receipt{Balance: balance, Record: record}
		currency = account.Currency
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(func(ctx context.Context, p EventPublisher) error {
		return p.PublishWithdrawalCompleted(ctx, currency, receipt.Record)
	})
	return receipt, nil
}

// Transfer moves amount from an account the caller owns to any other active
// account of the same currency.
//
// The transfer is executed atomically within a store transaction:
//  1. Lock both accounts in ascending id order
//  2. Debit the source, failing on insufficient funds
//  3. Credit the destination
//  4. Append TRANSFER_OUT and TRANSFER_IN records sharing a correlation id
//  5. Commit
func (s *LedgerService) Transfer(ctx context.Context, callerID uuid.UUID, req TransferRequest) (_ *Transfer, err error) {
	ctx, end := s.begin(ctx, "Transfer",
		attribute.String("from_account_id", req.FromAccountID.String()),
		attribute.String("to_account_id", req.ToAccountID.String()))
	defer end(&err)

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, callerID, req.FromAccountID); err != nil {
		return nil, err
	}

	correlationID := uuid.New()
	var (
		transfer *Transfer
		currency string
	)
	err = s.withTransaction(ctx, func(txCtx context.Context) error {
		locked := make(map[uuid.UUID]*Account, 2)
		for _, id := range lockOrder(req.FromAccountID, req.ToAccountID) {
			account, err := s.accounts.GetForUpdate(txCtx, id)
			if err != nil {
				return fmt.Errorf("failed to lock account %s: %w", id, err)
			}
			locked[id] = account
		}
		from, to := locked[req.FromAccountID], locked[req.ToAccountID]
		if from.Currency != to.Currency {
			return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, from.Currency, to.Currency)
		}

		fromBalance, err := s.accounts.ApplyDelta(txCtx, from.ID, req.Amount.Neg(), s.policy.Floor(from.Type))
		if err != nil {
			return err
		}
		toBalance, err := s.accounts.ApplyDelta(txCtx, to.ID, req.Amount, s.policy.Floor(to.Type))
		if err != nil {
			return err
		}

		out := NewRecord(from.ID, RecordKindTransferOut, req.Amount, fromBalance, req.Description, &correlationID)
		in := NewRecord(to.ID, RecordKindTransferIn, req.Amount, toBalance, req.Description, &correlationID)
		for _, r := range []*TransactionRecord{out, in} {
			if err := s.record(txCtx, r); err != nil {
				return err
			}
		}
		currency = from.Currency
		transfer, err = TransferFromLegs([]*TransactionRecord{out, in})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(func(ctx context.Context, p EventPublisher) error {
		return p.PublishTransferCompleted(ctx, currency, transfer)
	})
	return transfer, nil
}

// record finalises and appends a record in the current transaction.
func (s *LedgerService) record(ctx context.Context, r *TransactionRecord) error {
	r.MarkCompleted()
	if err := s.records.Record(ctx, r); err != nil {
		r.MarkFailed()
		return fmt.Errorf("failed to record %s: %w", r.Kind, err)
	}
	return nil
}

// lockOrder returns the ids in the global lock order: ascending by bytes.
func lockOrder(a, b uuid.UUID) []uuid.UUID {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return []uuid.UUID{a, b}
	}
	return []uuid.UUID{b, a}
}

// publish sends an event asynchronously, after commit. Failures are logged and
// never affect the committed result.
func (s *LedgerService) publish(send func(ctx context.Context, p EventPublisher) error) {
	if s.publisher == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := send(ctx, s.publisher); err != nil {
			s.logger.Warn("failed to publish event", zap.Error(err))
		}
	}()
}

// Close waits for in-flight event publications. It returns ctx.Err() if ctx
// ends first. Call it after the transports stopped accepting requests and
// before the publisher is closed.
func (s *LedgerService) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetBalance returns the committed balance of an account.
func (s *LedgerService) GetBalance(ctx context.Context, callerID, accountID uuid.UUID) (_ *Balance, err error) {
	ctx, end := s.begin(ctx, "GetBalance", attribute.String("account_id", accountID.String()))
	defer end(&err)

	account, err := s.authorize(ctx, callerID, accountID)
	if err != nil {
		return nil, err
	}
	return &Balance{
		AccountID: account.ID,
		Currency:  account.Currency,
		Amount:    account.Balance,
		Status:    account.Status,
		AsOf:      account.UpdatedAt,
	}, nil
}

// GetHistory returns a page of the account's records, newest first.
func (s *LedgerService) GetHistory(ctx context.Context, callerID, accountID uuid.UUID, q HistoryQuery) (_ []*TransactionRecord, err error) {
	ctx, end := s.begin(ctx, "GetHistory", attribute.String("account_id", accountID.String()))
	defer end(&err)

	if _, err := s.authorize(ctx, callerID, accountID); err != nil {
		return nil, err
	}
	limit, offset := NormalizePage(q.Limit, q.Offset)
	return s.records.ListByAccount(ctx, accountID, RecordFilter{Kind: q.Kind, Limit: limit, Offset: offset})
}

// GetStatement aggregates the account's records over period from one
// consistent snapshot. Statements of periods that ended more than the cache
// grace before now are cached.
func (s *LedgerService) GetStatement(ctx context.Context, callerID, accountID uuid.UUID, period DateRange) (_ *Statement, err error) {
	ctx, end := s.begin(ctx, "GetStatement",
		attribute.String("account_id", accountID.String()),
		attribute.String("period", period.String()))
	defer end(&err)

	if period.Start.After(period.End) {
		return nil, ErrInvalidDateRange
	}
	if _, err := s.authorize(ctx, callerID, accountID); err != nil {
		return nil, err
	}

	cacheable := s.cache != nil && period.ClosedBefore(s.now().Add(-s.cacheGrace))
	if cacheable {
		cached, err := s.cache.Get(ctx, accountID, period)
		if err != nil {
			s.logger.Warn("statement cache read failed", zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	var statement *Statement
	err = s.txManager.ReadSnapshot(ctx, func(snapCtx context.Context) error {
		account, err := s.accounts.GetByID(snapCtx, accountID)
		if err != nil {
			return err
		}
		last, err := s.records.LastBefore(snapCtx, accountID, period.From())
		if err != nil {
			return fmt.Errorf("failed to read opening record: %w", err)
		}
		inRange, err := s.records.ListInRange(snapCtx, accountID, period.From(), period.Until())
		if err != nil {
			return fmt.Errorf("failed to read records: %w", err)
		}
		statement = BuildStatement(account, period, last, inRange)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := s.cache.Put(ctx, statement); err != nil {
			s.logger.Warn("statement cache write failed", zap.Error(err))
		}
	}
	return statement, nil
}

// GetTransfer looks up a transfer by correlation id. The caller must own one
// of its two accounts.
func (s *LedgerService) GetTransfer(ctx context.Context, callerID, correlationID uuid.UUID) (_ *Transfer, err error) {
	ctx, end := s.begin(ctx, "GetTransfer")
	defer end(&err)

	legs, err := s.records.ListByCorrelation(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	transfer, err := TransferFromLegs(legs)
	if err != nil {
		return nil, err
	}
	for _, id := range []uuid.UUID{transfer.FromAccountID, transfer.ToAccountID} {
		if _, err := s.authorize(ctx, callerID, id); err == nil {
			return transfer, nil
		}
	}
	return nil, ErrForbidden
}

// ListTransfers returns the outgoing or incoming transfers of an account,
// newest first.
func (s *LedgerService) ListTransfers(ctx context.Context, callerID, accountID uuid.UUID, direction TransferDirection, limit, offset int) (_ []*Transfer, err error) {
	ctx, end := s.begin(ctx, "ListTransfers", attribute.String("account_id", accountID.String()))
	defer end(&err)

	if _, err := s.authorize(ctx, callerID, accountID); err != nil {
		return nil, err
	}
	limit, offset = NormalizePage(limit, offset)
	legs, err := s.records.ListByAccount(ctx, accountID, RecordFilter{Kind: direction.legKind(), Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}

	transfers := make([]*Transfer, 0, len(legs))
	for _, leg := range legs {
		if leg.CorrelationID == nil {
			continue
		}
		both, err := s.records.ListByCorrelation(ctx, *leg.CorrelationID)
		if err != nil {
			return nil, err
		}
		t, err := TransferFromLegs(both)
		if err != nil {
			return nil, fmt.Errorf("%w: broken transfer %s: %v", ErrStoreFailure, *leg.CorrelationID, err)
		}
		transfers = append(transfers, t)
	}
	return transfers, nil
}
