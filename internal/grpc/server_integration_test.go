package grpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/config"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/db"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/events"
	grpcserver "github.com/spbu-ds-practicum-2025/ledger-service/internal/grpc"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/observability"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/resilience"
)

// TestLedgerIntegration is a full end-to-end integration test.
// It spins up PostgreSQL and RabbitMQ containers, runs migrations,
// starts a gRPC server, runs the deposit / withdraw / transfer scenario
// and verifies the transfer event was published to RabbitMQ.
func TestLedgerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, dbURL := startPostgresContainer(t, ctx)
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}()

	rabbitContainer, rabbitURL := startRabbitMQContainer(t, ctx)
	defer func() {
		if err := rabbitContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate rabbitmq container: %v", err)
		}
	}()

	pool := newMigratedPool(t, ctx, dbURL)

	rabbitCfg := config.RabbitMQConfig{URL: rabbitURL, Exchange: "ledger.operations"}
	publisher, err := events.NewRabbitMQPublisher(rabbitCfg, observability.NewMetrics(), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create rabbitmq publisher: %v", err)
	}
	defer publisher.Close()

	ledger := newPostgresLedger(pool, domain.WithEventPublisher(publisher))
	client := startServer(t, ledger)

	eventChan := make(chan map[string]any, 4)
	stopConsumer := startEventConsumer(t, rabbitURL, rabbitCfg.Exchange, publisher.RoutingKey(events.EventTransferCompleted), eventChan)
	defer stopConsumer()

	owner := uuid.New()
	a := openAccount(t, ledger, owner, "RUB", "1000.00")
	b := openAccount(t, ledger, owner, "RUB", "0")
	callerCtx := grpcserver.WithCallerID(ctx, owner)

	if _, err := client.Deposit(callerCtx, &grpcserver.DepositRequest{AccountID: a.String(), Amount: "500.00"}); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	_, err = client.Withdraw(callerCtx, &grpcserver.WithdrawRequest{AccountID: a.String(), Amount: "1600.00"})
	expectCode(t, err, codes.FailedPrecondition)

	resp, err := client.Transfer(callerCtx, &grpcserver.TransferRequest{FromAccountID: a.String(), ToAccountID: b.String(), Amount: "250.00"})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	for id, want := range map[uuid.UUID]string{a: "1250.00", b: "250.00"} {
		bal, err := client.GetBalance(callerCtx, &grpcserver.GetBalanceRequest{AccountID: id.String()})
		if err != nil {
			t.Fatalf("GetBalance failed: %v", err)
		}
		if bal.Balance != want {
			t.Errorf("account %s: expected balance %s, got %s", id, want, bal.Balance)
		}
	}

	hist, err := client.GetHistory(callerCtx, &grpcserver.GetHistoryRequest{AccountID: a.String()})
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(hist.Transactions) != 2 {
		t.Errorf("failed withdrawal must leave no record, got %d records", len(hist.Transactions))
	}

	select {
	case event := <-eventChan:
		if event["eventType"] != events.EventTransferCompleted {
			t.Errorf("expected eventType %s, got %v", events.EventTransferCompleted, event["eventType"])
		}
		if event["operationId"] != resp.CorrelationID {
			t.Errorf("expected operationId %s, got %v", resp.CorrelationID, event["operationId"])
		}
		if event["accountId"] != a.String() || event["counterpartyId"] != b.String() {
			t.Errorf("unexpected parties %v -> %v", event["accountId"], event["counterpartyId"])
		}
		amount, ok := event["amount"].(map[string]any)
		if !ok {
			t.Fatal("amount is not a map")
		}
		if amount["value"] != "250.00" || amount["currencyCode"] != "RUB" {
			t.Errorf("unexpected amount %v", amount)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for event to be published")
	}
}

// TestConcurrentTransfersIntegration runs crossing transfers between a ring of
// accounts. Row locks taken in id order must neither deadlock nor lose an
// update, so the total stays constant and no balance goes negative.
func TestConcurrentTransfersIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	postgresContainer, dbURL := startPostgresContainer(t, ctx)
	defer postgresContainer.Terminate(ctx)

	pool := newMigratedPool(t, ctx, dbURL)
	ledger := newPostgresLedger(pool)

	owner := uuid.New()
	accounts := make([]uuid.UUID, 4)
	for i := range accounts {
		accounts[i] = openAccount(t, ledger, owner, "RUB", "100.00")
	}

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		rng := rand.New(rand.NewSource(int64(w)))
		g.Go(func() error {
			for i := 0; i < 25; i++ {
				from := accounts[rng.Intn(len(accounts))]
				to := accounts[rng.Intn(len(accounts))]
				if from == to {
					continue
				}
				_, err := ledger.Transfer(ctx, owner, domain.TransferRequest{
					FromAccountID: from,
					ToAccountID:   to,
					Amount:        decimal.NewFromInt(int64(rng.Intn(30) + 1)),
				})
				switch {
				case err == nil, domain.IsRetryable(err):
				case errors.Is(err, domain.ErrInsufficientFunds):
				default:
					return fmt.Errorf("transfer %s -> %s: %w", from, to, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	total := decimal.Zero
	for _, id := range accounts {
		bal, err := ledger.GetBalance(ctx, owner, id)
		if err != nil {
			t.Fatalf("GetBalance failed: %v", err)
		}
		if bal.Amount.IsNegative() {
			t.Errorf("account %s went negative: %s", id, bal.Amount)
		}
		total = total.Add(bal.Amount)

		st, err := ledger.GetStatement(ctx, owner, id, today(t))
		if err != nil {
			t.Fatalf("GetStatement failed: %v", err)
		}
		if !st.ClosingBalance.Equal(bal.Amount) {
			t.Errorf("account %s: statement closes at %s, balance is %s", id, st.ClosingBalance, bal.Amount)
		}
	}
	if !total.Equal(decimal.NewFromInt(400)) {
		t.Errorf("money was created or destroyed: total %s", total)
	}
}

// fixedNumbers returns its numbers in order.
type fixedNumbers struct {
	numbers []string
	next    int
}

func (g *fixedNumbers) Generate(context.Context, domain.CardType) (string, error) {
	if g.next >= len(g.numbers) {
		return "", errors.New("no more card numbers")
	}
	n := g.numbers[g.next]
	g.next++
	return n, nil
}

func TestCardsAndAmountLimitsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	postgresContainer, dbURL := startPostgresContainer(t, ctx)
	defer postgresContainer.Terminate(ctx)

	pool := newMigratedPool(t, ctx, dbURL)
	ledger := newPostgresLedger(pool)

	user := domain.NewUser("holder@example.com", "hash", "Card", "Holder")
	if err := db.NewUserRepository(pool).Create(ctx, user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	accountID := openAccount(t, ledger, user.ID, "RUB", "100.00")

	// a credit past NUMERIC(20,2) is an invalid amount, not a store failure
	_, err := ledger.Deposit(ctx, user.ID, domain.DepositRequest{AccountID: accountID, Amount: domain.MaxAmount})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount on balance overflow, got %v", err)
	}

	gen := &fixedNumbers{numbers: []string{"4000001111111111", "4000001111111111", "4000002222222222"}}
	cards := domain.NewCardService(db.NewCardRepository(pool), db.NewAccountRepository(pool), gen, nil, zap.NewNop())

	first, err := cards.IssueCard(ctx, user.ID, domain.IssueCardRequest{AccountID: accountID, Type: domain.CardTypeDebit})
	if err != nil {
		t.Fatalf("IssueCard failed: %v", err)
	}
	second, err := cards.IssueCard(ctx, user.ID, domain.IssueCardRequest{AccountID: accountID, Type: domain.CardTypeCredit})
	if err != nil {
		t.Fatalf("IssueCard after a number collision failed: %v", err)
	}
	if second.Number != "4000002222222222" {
		t.Errorf("expected the colliding number to be skipped, got %s", second.Number)
	}

	if _, err := cards.BlockCard(ctx, uuid.New(), first.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	blocked, err := cards.BlockCard(ctx, user.ID, first.ID)
	if err != nil {
		t.Fatalf("BlockCard failed: %v", err)
	}
	if blocked.Status != domain.CardStatusBlocked || blocked.LastFour != "1111" {
		t.Errorf("unexpected blocked card %+v", blocked)
	}

	active, err := cards.ListCards(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != second.ID {
		t.Errorf("expected only the second card to be active, got %+v", active)
	}
}

func today(t *testing.T) domain.DateRange {
	now := time.Now().UTC()
	r, err := domain.NewDateRange(now, now)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func newPostgresLedger(pool *pgxpool.Pool, opts ...domain.Option) *domain.LedgerService {
	return domain.NewLedgerService(
		db.NewAccountRepository(pool),
		db.NewRecordRepository(pool),
		db.NewTransactionManager(pool, 3*time.Second, 10*time.Second, zap.NewNop()),
		domain.OverdraftPolicy{},
		opts...,
	)
}

func newMigratedPool(t *testing.T, ctx context.Context, dbURL string) *pgxpool.Pool {
	t.Helper()
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: dbURL},
		resilience.Config{MaxRetries: 5, InitialBackoff: 200 * time.Millisecond}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create database pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.Migrate(ctx, pool, zap.NewNop()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return pool
}

// startPostgresContainer starts a PostgreSQL testcontainer and returns the connection URL.
func startPostgresContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get postgres host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get postgres port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())
	return container, dbURL
}

// startRabbitMQContainer starts a RabbitMQ testcontainer and returns the AMQP URL.
func startRabbitMQContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	req := testcontainers.ContainerRequest{
		Image:        "rabbitmq:3-management",
		ExposedPorts: []string{"5672/tcp", "15672/tcp"},
		Env: map[string]string{
			"RABBITMQ_DEFAULT_USER": "guest",
			"RABBITMQ_DEFAULT_PASS": "guest",
		},
		WaitingFor: wait.ForLog("Server startup complete"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start rabbitmq container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get rabbitmq host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5672")
	if err != nil {
		t.Fatalf("failed to get rabbitmq port: %v", err)
	}

	return container, fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())
}

// startEventConsumer binds an exclusive queue to the exchange and forwards
// every decoded message to eventChan.
func startEventConsumer(t *testing.T, rabbitURL, exchange, routingKey string, eventChan chan map[string]any) func() {
	conn, err := amqp.Dial(rabbitURL)
	if err != nil {
		t.Fatalf("failed to connect to rabbitmq: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		t.Fatalf("failed to open channel: %v", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		t.Fatalf("failed to declare exchange: %v", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		t.Fatalf("failed to declare queue: %v", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		conn.Close()
		t.Fatalf("failed to bind queue: %v", err)
	}

	msgs, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	if err != nil {
		conn.Close()
		t.Fatalf("failed to start consuming: %v", err)
	}

	go func() {
		for msg := range msgs {
			var event map[string]any
			if err := json.Unmarshal(msg.Body, &event); err != nil {
				t.Logf("failed to unmarshal event: %v", err)
				continue
			}
			eventChan <- event
		}
	}()

	return func() {
		ch.Close()
		conn.Close()
	}
}
