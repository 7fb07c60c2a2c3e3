package queuemanager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bitmex-bridge/node/internal/broker"
)

// declareDurableQueue declares queueName bound to routingKey on the shared
// topic exchange, dead-lettering to the connection's DLX, and optionally
// bounded by x-expires when expiresMillis > 0 (the dynamic per-account
// queues from spec.md §4.7).
func declareDurableQueue(ch *amqp.Channel, conn *broker.Conn, queueName, routingKey string, expiresMillis int32) error {
	args := amqp.Table{"x-dead-letter-exchange": conn.DLX()}
	if expiresMillis > 0 {
		args["x-expires"] = expiresMillis
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	if err := ch.QueueBind(queueName, routingKey, conn.Exchange(), false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", queueName, routingKey, err)
	}
	return nil
}

// consume starts a consumer on queueName with a fresh UUID consumer tag and
// prefetch already set to 1 on ch (broker.Conn.Channel does this), per
// spec.md §4.7.
func consume(ch *amqp.Channel, queueName string) (<-chan amqp.Delivery, string, error) {
	tag := uuid.New().String()
	deliveries, err := ch.Consume(queueName, tag, false, false, false, false, nil)
	if err != nil {
		return nil, "", fmt.Errorf("consume %s: %w", queueName, err)
	}
	return deliveries, tag, nil
}

// teardownQueue best-effort purges, unbinds, and deletes queueName,
// tolerating "channel invalid state" errors per spec.md §4.7 — the channel
// may already be in an error state from a prior failed call in the same
// cleanup sequence.
func teardownQueue(ch *amqp.Channel, queueName, routingKey, exchange string, logger *slog.Logger) {
	if _, err := ch.QueuePurge(queueName, false); err != nil {
		logger.Warn("queue purge failed during teardown", slog.String("queue", queueName), slog.Any("error", err))
	}
	if err := ch.QueueUnbind(queueName, routingKey, exchange, nil); err != nil {
		logger.Warn("queue unbind failed during teardown", slog.String("queue", queueName), slog.Any("error", err))
	}
	if _, err := ch.QueueDelete(queueName, false, false, false); err != nil {
		logger.Warn("queue delete failed during teardown", slog.String("queue", queueName), slog.Any("error", err))
	}
}

// publishReply marshals v to JSON and publishes it to routingKey carrying
// correlationID, per spec.md §4.7's request/reply contract.
func publishReply(ctx context.Context, conn *broker.Conn, routingKey, correlationID string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	return conn.Publish(ctx, routingKey, correlationID, body)
}

// reply is the outbound result shape spec.md §6 describes: a success flag,
// an optional top-level error, optional per-leg errors, and whatever
// result payload the command produced.
type reply struct {
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
	AccountID string            `json:"accountId,omitempty"`
	OrderID   string            `json:"orderId,omitempty"`
	Orders    interface{}       `json:"orders,omitempty"`
	Positions interface{}       `json:"positions,omitempty"`
}
