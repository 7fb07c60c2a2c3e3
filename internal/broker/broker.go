// Package broker wraps the AMQP connection this node shares across its
// queue managers: one topic exchange, a dead-letter exchange for queues
// that want one, and a single long-lived channel for outbound publishes.
// Generalized from the teacher's common/broker package (same Connect/DLX
// shape) to a single configurable topic exchange instead of four fixed
// event-name exchanges.
package broker

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// dlxSuffix is appended to the node's topic exchange name to form the
// dead-letter exchange name, so multiple bindings never collide in a
// shared broker.
const dlxSuffix = ".dlx"

// Conn owns the node's AMQP connection and its outbound publish channel.
// Queue managers open their own consuming channels via Channel.
type Conn struct {
	conn     *amqp.Connection
	sendCh   *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// Connect dials amqpURL, declares the topic exchange (and its DLX), and
// opens the shared send channel. Exchange declaration happens once here so
// every submanager can assume it already exists, per spec.md §4.7.
func Connect(amqpURL, exchange string, logger *slog.Logger) (*Conn, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	sendCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open send channel: %w", err)
	}

	if err := sendCh.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		sendCh.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := sendCh.ExchangeDeclare(exchange+dlxSuffix, "fanout", true, false, false, false, nil); err != nil {
		sendCh.Close()
		conn.Close()
		return nil, fmt.Errorf("declare dlx %s: %w", exchange+dlxSuffix, err)
	}

	return &Conn{conn: conn, sendCh: sendCh, exchange: exchange, logger: logger}, nil
}

// Exchange returns the topic exchange name queue managers bind against.
func (c *Conn) Exchange() string {
	return c.exchange
}

// DLX returns the dead-letter exchange name for durable-queue declarations
// that want `x-dead-letter-exchange` set.
func (c *Conn) DLX() string {
	return c.exchange + dlxSuffix
}

// Channel opens a fresh consuming/declaring channel with prefetch 1, per
// spec.md §4.7 and §5's "prefetch 1 so work is not hoarded".
func (c *Conn) Channel() (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return ch, nil
}

// Publish sends a persistent JSON message to routingKey on the shared
// topic exchange, carrying correlationID for request/reply demultiplexing
// (spec.md §4.7/§6).
func (c *Conn) Publish(ctx context.Context, routingKey, correlationID string, body []byte) error {
	return c.publish(ctx, routingKey, correlationID, "", body)
}

// PublishExpiring is Publish with a broker-enforced message TTL in
// milliseconds, for events like the account heartbeat that should age out
// rather than queue unboundedly (spec.md §4.6/§5).
func (c *Conn) PublishExpiring(ctx context.Context, routingKey string, ttlMillis string, body []byte) error {
	return c.publish(ctx, routingKey, "", ttlMillis, body)
}

func (c *Conn) publish(ctx context.Context, routingKey, correlationID, expiration string, body []byte) error {
	return c.sendCh.PublishWithContext(ctx, c.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: correlationID,
		Expiration:    expiration,
		Headers:       InjectTraceContext(ctx),
		Body:          body,
	})
}

// Close tears down the send channel and the underlying connection, in
// that order.
func (c *Conn) Close() error {
	if err := c.sendCh.Close(); err != nil {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}
