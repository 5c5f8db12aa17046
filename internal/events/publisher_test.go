package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error { return nil }

type countingMetrics struct {
	counts map[string]int
}

func (m *countingMetrics) IncrEventPublished(event, result string) {
	m.counts[event+":"+result]++
}

func depositRecord() *domain.TransactionRecord {
	r := domain.NewRecord(uuid.New(), domain.RecordKindDeposit,
		decimal.RequireFromString("500"), decimal.RequireFromString("1500"), "salary", nil)
	r.MarkCompleted()
	return r
}

func TestPublisher_RoutesByEventType(t *testing.T) {
	ch := &fakeChannel{}
	metrics := &countingMetrics{counts: map[string]int{}}
	p := newPublisher(ch, "ledger.operations", metrics, zap.NewNop())
	ctx := context.Background()

	record := depositRecord()
	if err := p.PublishDepositCompleted(ctx, "RUB", record); err != nil {
		t.Fatalf("PublishDepositCompleted failed: %v", err)
	}

	correlationID := uuid.New()
	out := domain.NewRecord(uuid.New(), domain.RecordKindTransferOut, decimal.RequireFromString("250"), decimal.RequireFromString("1250"), "", &correlationID)
	in := domain.NewRecord(uuid.New(), domain.RecordKindTransferIn, decimal.RequireFromString("250"), decimal.RequireFromString("250"), "", &correlationID)
	transfer, err := domain.TransferFromLegs([]*domain.TransactionRecord{out, in})
	if err != nil {
		t.Fatalf("TransferFromLegs failed: %v", err)
	}
	if err := p.PublishTransferCompleted(ctx, "RUB", transfer); err != nil {
		t.Fatalf("PublishTransferCompleted failed: %v", err)
	}

	if len(ch.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(ch.sent))
	}
	if ch.sent[0].key != "ledger.operations.deposit.completed" {
		t.Errorf("unexpected deposit routing key %s", ch.sent[0].key)
	}
	if ch.sent[1].key != "ledger.operations.transfer.completed" {
		t.Errorf("unexpected transfer routing key %s", ch.sent[1].key)
	}

	var deposit OperationCompletedEvent
	if err := json.Unmarshal(ch.sent[0].msg.Body, &deposit); err != nil {
		t.Fatalf("failed to decode deposit event: %v", err)
	}
	if err := deposit.Validate(); err != nil {
		t.Errorf("deposit event invalid: %v", err)
	}
	if deposit.Amount.Value != "500.00" || deposit.BalanceAfter != "1500.00" || deposit.Amount.CurrencyCode != "RUB" {
		t.Errorf("unexpected deposit payload %+v", deposit)
	}
	if deposit.OperationID != record.ID.String() {
		t.Errorf("expected operation id %s, got %s", record.ID, deposit.OperationID)
	}

	var tr OperationCompletedEvent
	if err := json.Unmarshal(ch.sent[1].msg.Body, &tr); err != nil {
		t.Fatalf("failed to decode transfer event: %v", err)
	}
	if tr.OperationID != correlationID.String() || tr.AccountID != out.AccountID.String() || tr.CounterpartyID != in.AccountID.String() {
		t.Errorf("unexpected transfer payload %+v", tr)
	}

	if metrics.counts["deposit.completed:ok"] != 1 || metrics.counts["transfer.completed:ok"] != 1 {
		t.Errorf("unexpected counters %v", metrics.counts)
	}
}

func TestPublisher_BreakerOpensOnBrokerFailure(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	metrics := &countingMetrics{counts: map[string]int{}}
	p := newPublisher(ch, "ledger.operations", metrics, zap.NewNop())

	for i := 0; i < 5; i++ {
		if err := p.PublishWithdrawalCompleted(context.Background(), "RUB", depositRecord()); err == nil {
			t.Fatal("expected publish error")
		}
	}

	ch.err = nil
	err := p.PublishWithdrawalCompleted(context.Background(), "RUB", depositRecord())
	if err == nil {
		t.Fatal("expected open breaker to reject the call")
	}
	if len(ch.sent) != 0 {
		t.Errorf("nothing should reach the broker while the breaker is open, got %d", len(ch.sent))
	}
	if metrics.counts["withdrawal.completed:error"] != 6 {
		t.Errorf("expected 6 errors, got %v", metrics.counts)
	}
}

func TestOperationCompletedEvent_Validate(t *testing.T) {
	valid := func() *OperationCompletedEvent {
		return DepositCompleted("RUB", depositRecord())
	}
	tests := []struct {
		name    string
		mutate  func(*OperationCompletedEvent)
		wantErr bool
	}{
		{"valid deposit", func(*OperationCompletedEvent) {}, false},
		{"missing currency", func(e *OperationCompletedEvent) { e.Amount.CurrencyCode = "" }, true},
		{"transfer without counterparty", func(e *OperationCompletedEvent) { e.EventType = EventTransferCompleted }, true},
		{"unknown type", func(e *OperationCompletedEvent) { e.EventType = "card.issued" }, true},
		{"not successful", func(e *OperationCompletedEvent) { e.Status = "FAILED" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid()
			tt.mutate(e)
			if err := e.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
