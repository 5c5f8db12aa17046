package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/config"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/resilience"
)

// Counter receives one call per publish attempt.
type Counter interface {
	IncrEventPublished(event, result string)
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher implements domain.EventPublisher on a RabbitMQ topic
// exchange. Calls go through a circuit breaker.
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	ch       channel
	exchange string
	breaker  *gobreaker.CircuitBreaker
	counter  Counter
	logger   *zap.Logger
}

var _ domain.EventPublisher = (*RabbitMQPublisher)(nil)

// NewRabbitMQPublisher connects to RabbitMQ and declares the exchange.
func NewRabbitMQPublisher(cfg config.RabbitMQConfig, counter Counter, logger *zap.Logger) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("rabbitmq publisher initialized", zap.String("exchange", cfg.Exchange))

	p := newPublisher(ch, cfg.Exchange, counter, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, counter Counter, logger *zap.Logger) *RabbitMQPublisher {
	return &RabbitMQPublisher{
		ch:       ch,
		exchange: exchange,
		breaker:  resilience.NewCircuitBreaker("rabbitmq-publisher"),
		counter:  counter,
		logger:   logger,
	}
}

func (p *RabbitMQPublisher) PublishDepositCompleted(ctx context.Context, currency string, record *domain.TransactionRecord) error {
	return p.publish(ctx, DepositCompleted(currency, record))
}

func (p *RabbitMQPublisher) PublishWithdrawalCompleted(ctx context.Context, currency string, record *domain.TransactionRecord) error {
	return p.publish(ctx, WithdrawalCompleted(currency, record))
}

func (p *RabbitMQPublisher) PublishTransferCompleted(ctx context.Context, currency string, transfer *domain.Transfer) error {
	return p.publish(ctx, TransferCompleted(currency, transfer))
}

// RoutingKey returns the key an event type is published with.
func (p *RabbitMQPublisher) RoutingKey(eventType string) string {
	return p.exchange + "." + eventType
}

func (p *RabbitMQPublisher) publish(ctx context.Context, event *OperationCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return nil, p.ch.PublishWithContext(ctx,
			p.exchange,                    // exchange
			p.RoutingKey(event.EventType), // routing key
			false,                         // mandatory
			false,                         // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    event.EventID,
				Timestamp:    time.Now().UTC(),
				Body:         body,
			},
		)
	})

	result := "ok"
	if err != nil {
		result = "error"
	}
	if p.counter != nil {
		p.counter.IncrEventPublished(event.EventType, result)
	}
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.EventType, err)
	}

	p.logger.Debug("event published",
		zap.String("event_type", event.EventType),
		zap.String("operation_id", event.OperationID))
	return nil
}

// Close closes the channel and the connection.
func (p *RabbitMQPublisher) Close() error {
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			p.logger.Warn("error closing channel", zap.Error(err))
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
