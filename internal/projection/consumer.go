package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/config"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/events"
)

// OperationStore receives projected operations.
type OperationStore interface {
	InsertOperations(ctx context.Context, ops []*Operation) error
}

// Counter receives one call per handled message with result ok, invalid or error.
type Counter interface {
	IncrProjected(result string)
}

// errInvalidMessage marks messages that can never be processed.
var errInvalidMessage = errors.New("invalid message")

// Consumer consumes completed-operation events from RabbitMQ.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  config.RabbitMQConfig
	store   OperationStore
	counter Counter
	logger  *zap.Logger
}

// NewConsumer connects to RabbitMQ, declares the exchange and a durable queue
// and binds them with the configured routing key.
func NewConsumer(cfg config.RabbitMQConfig, store OperationStore, counter Counter, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	queue, err := channel.QueueDeclare(
		cfg.Queue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := channel.QueueBind(queue.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	if err := channel.Qos(32, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	logger.Info("rabbitmq consumer initialized",
		zap.String("exchange", cfg.Exchange),
		zap.String("queue", cfg.Queue),
		zap.String("routing_key", cfg.RoutingKey))

	return &Consumer{
		conn:    conn,
		channel: channel,
		config:  cfg,
		store:   store,
		counter: counter,
		logger:  logger,
	}, nil
}

// Start consumes messages until ctx is cancelled or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.config.Queue, // queue
		"",             // consumer tag (auto-generated)
		false,          // auto-ack
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("rabbitmq consumer started", zap.String("queue", c.config.Queue))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context cancelled, stopping rabbitmq consumer")
			return nil

		case msg, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}
			c.deliver(ctx, msg)
		}
	}
}

// deliver acks processed messages, drops invalid ones and requeues the rest.
func (c *Consumer) deliver(ctx context.Context, msg amqp.Delivery) {
	err := c.HandleMessage(ctx, msg.Body)
	switch {
	case err == nil:
		c.counter.IncrProjected("ok")
		msg.Ack(false)
	case errors.Is(err, errInvalidMessage):
		c.counter.IncrProjected("invalid")
		c.logger.Error("dropping invalid message", zap.Error(err))
		msg.Nack(false, false)
	default:
		c.counter.IncrProjected("error")
		c.logger.Warn("failed to project message, requeueing", zap.Error(err))
		msg.Nack(false, true)
	}
}

// HandleMessage decodes one event and stores its operations.
func (c *Consumer) HandleMessage(ctx context.Context, body []byte) error {
	var event events.OperationCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: failed to unmarshal event: %v", errInvalidMessage, err)
	}

	ops, err := OperationsFromEvent(&event)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidMessage, err)
	}

	if err := c.store.InsertOperations(ctx, ops); err != nil {
		return err
	}

	c.logger.Debug("event projected",
		zap.String("event_type", event.EventType),
		zap.String("operation_id", event.OperationID),
		zap.Int("rows", len(ops)))
	return nil
}

// Close closes the RabbitMQ connection and channel
func (c *Consumer) Close() error {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Warn("error closing channel", zap.Error(err))
		}
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
