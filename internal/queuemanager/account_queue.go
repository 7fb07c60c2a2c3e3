package queuemanager

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bitmex-bridge/node/internal/account"
	"github.com/bitmex-bridge/node/internal/broker"
	"github.com/bitmex-bridge/node/internal/bus"
	"github.com/bitmex-bridge/node/internal/domain"
	"github.com/bitmex-bridge/node/internal/metrics"
)

const createAccountQueue = "CreateBitmexAccount"

type createAccountBody struct {
	AccountID string `json:"accountId"`
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
}

type deleteAccountBody struct {
	AccountID string `json:"accountId"`
}

// AccountQueueManager implements spec.md §4.7's static account submanager:
// one fixed create queue, promoted on successful binding to a pair of
// dynamic per-account update/delete queues.
type AccountQueueManager struct {
	conn      *broker.Conn
	b         *bus.Bus
	lifecycle *account.Lifecycle
	sandbox   bool
	logger    *slog.Logger
	metric    *metrics.Metrics

	mu           sync.Mutex
	ch           *amqp.Channel
	createTag    string
	boundAccount string
}

// NewAccountQueueManager constructs the submanager without declaring or
// consuming anything yet — call Start to begin serving CreateBitmexAccount.
func NewAccountQueueManager(conn *broker.Conn, b *bus.Bus, lifecycle *account.Lifecycle, sandbox bool, logger *slog.Logger, metric *metrics.Metrics) *AccountQueueManager {
	return &AccountQueueManager{conn: conn, b: b, lifecycle: lifecycle, sandbox: sandbox, logger: logger, metric: metric}
}

func (m *AccountQueueManager) record(eventKey, outcome string, start time.Time) {
	if m.metric != nil {
		m.metric.RecordCommand(eventKey, outcome, time.Since(start))
	}
}

// Start declares and begins consuming the create-account queue. Run it
// once from bootstrap; ctx cancellation stops the consumer.
func (m *AccountQueueManager) Start(ctx context.Context) error {
	ch, err := m.conn.Channel()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.ch = ch
	m.mu.Unlock()

	if err := declareDurableQueue(ch, m.conn, createAccountQueue, cmdAccountCreate, 0); err != nil {
		return err
	}
	deliveries, tag, err := consume(ch, createAccountQueue)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.createTag = tag
	m.mu.Unlock()

	go m.consumeCreate(ctx, deliveries)
	return nil
}

func (m *AccountQueueManager) consumeCreate(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			m.handleCreate(ctx, d)
		}
	}
}

func (m *AccountQueueManager) handleCreate(ctx context.Context, d amqp.Delivery) {
	start := time.Now()
	var body createAccountBody
	if err := json.Unmarshal(d.Body, &body); err != nil || body.AccountID == "" {
		m.logger.Error("invalid create_account body", slog.Any("error", err))
		m.record(cmdAccountCreate, "invalid", start)
		m.reply(ctx, eventAccountCreated, d.CorrelationId, reply{Success: false, Error: domain.InvalidMessage{Reason: "bad create_account body"}.Error()})
		d.Nack(false, false)
		return
	}

	binding := domain.AccountBinding{AccountID: body.AccountID, APIKey: body.APIKey, APISecret: body.APISecret}
	err := m.lifecycle.CreateAccount(ctx, binding, m.sandbox)
	if err != nil {
		m.record(cmdAccountCreate, "failure", start)
		m.reply(ctx, eventAccountCreated, d.CorrelationId, reply{Success: false, AccountID: body.AccountID, Error: err.Error()})
		d.Ack(false)
		return
	}

	m.record(cmdAccountCreate, "success", start)
	m.reply(ctx, eventAccountCreated, d.CorrelationId, reply{Success: true, AccountID: body.AccountID})
	d.Ack(false)

	if err := m.promote(ctx, body.AccountID); err != nil {
		m.logger.Error("promote to per-account queues failed", slog.Any("error", err))
	}
}

// promote implements spec.md §4.7's "on successful account creation it
// unbinds and cancels that consumer, and declares per-account queues"
// step: the create queue stops serving new accounts (single-tenant node)
// and dynamic update/delete queues for this account take over.
func (m *AccountQueueManager) promote(ctx context.Context, accountID string) error {
	m.mu.Lock()
	ch := m.ch
	createTag := m.createTag
	m.boundAccount = accountID
	m.mu.Unlock()

	if err := ch.Cancel(createTag, false); err != nil {
		m.logger.Warn("cancel create consumer failed", slog.Any("error", err))
	}
	if err := ch.QueueUnbind(createAccountQueue, cmdAccountCreate, m.conn.Exchange(), nil); err != nil {
		m.logger.Warn("unbind create queue failed", slog.Any("error", err))
	}

	updateQueue := "UpdateBitmexAccount:" + accountID
	deleteQueue := "DeleteBitmexAccount:" + accountID
	if err := declareDurableQueue(ch, m.conn, updateQueue, withAccount(cmdAccountUpdate, accountID), perAccountQueueExpiryMillis); err != nil {
		return err
	}
	if err := declareDurableQueue(ch, m.conn, deleteQueue, withAccount(cmdAccountDelete, accountID), perAccountQueueExpiryMillis); err != nil {
		return err
	}

	updateDeliveries, _, err := consume(ch, updateQueue)
	if err != nil {
		return err
	}
	deleteDeliveries, _, err := consume(ch, deleteQueue)
	if err != nil {
		return err
	}
	go m.consumeUpdate(ctx, updateDeliveries)
	go m.consumeDelete(ctx, deleteDeliveries)
	return nil
}

func (m *AccountQueueManager) consumeUpdate(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			m.handleUpdate(ctx, d)
		}
	}
}

func (m *AccountQueueManager) handleUpdate(ctx context.Context, d amqp.Delivery) {
	start := time.Now()
	var body createAccountBody
	if err := json.Unmarshal(d.Body, &body); err != nil || body.AccountID == "" {
		m.record(cmdAccountUpdate, "invalid", start)
		m.reply(ctx, eventAccountUpdated, d.CorrelationId, reply{Success: false, Error: domain.InvalidMessage{Reason: "bad update_account body"}.Error()})
		d.Nack(false, false)
		return
	}

	binding := domain.AccountBinding{AccountID: body.AccountID, APIKey: body.APIKey, APISecret: body.APISecret}
	err := m.lifecycle.UpdateAccount(ctx, binding, m.sandbox)
	if err != nil {
		m.record(cmdAccountUpdate, "failure", start)
		m.reply(ctx, eventAccountUpdated, d.CorrelationId, reply{Success: false, AccountID: body.AccountID, Error: err.Error()})
	} else {
		m.record(cmdAccountUpdate, "success", start)
		m.reply(ctx, eventAccountUpdated, d.CorrelationId, reply{Success: true, AccountID: body.AccountID})
	}
	d.Ack(false)
}

func (m *AccountQueueManager) consumeDelete(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			m.handleDelete(ctx, d)
		}
	}
}

func (m *AccountQueueManager) handleDelete(ctx context.Context, d amqp.Delivery) {
	start := time.Now()
	var body deleteAccountBody
	if err := json.Unmarshal(d.Body, &body); err != nil || body.AccountID == "" {
		m.record(cmdAccountDelete, "invalid", start)
		m.reply(ctx, eventAccountDeleted, d.CorrelationId, reply{Success: false, Error: domain.InvalidMessage{Reason: "bad delete_account body"}.Error()})
		d.Nack(false, false)
		return
	}

	msgTime := d.Timestamp
	if msgTime.IsZero() {
		msgTime = time.Now()
	}
	err := m.lifecycle.DeleteAccount(ctx, body.AccountID, msgTime)
	if err != nil {
		m.record(cmdAccountDelete, "failure", start)
		m.reply(ctx, eventAccountDeleted, d.CorrelationId, reply{Success: false, AccountID: body.AccountID, Error: err.Error()})
		d.Ack(false)
		return
	}

	m.record(cmdAccountDelete, "success", start)
	m.reply(ctx, eventAccountDeleted, d.CorrelationId, reply{Success: true, AccountID: body.AccountID})
	d.Ack(false)

	if m.lifecycle.Connected() {
		// A stale delete leaves the account bound, so its queues stay.
		return
	}
	if err := m.demote(ctx, body.AccountID); err != nil {
		m.logger.Error("demote to create queue failed", slog.Any("error", err))
	}
}

// demote tears down the per-account update/delete queues and re-binds the
// create queue, per spec.md §4.7's "on account deletion it tears these
// down and re-binds the create queue".
func (m *AccountQueueManager) demote(ctx context.Context, accountID string) error {
	m.mu.Lock()
	ch := m.ch
	m.boundAccount = ""
	m.mu.Unlock()

	teardownQueue(ch, "UpdateBitmexAccount:"+accountID, withAccount(cmdAccountUpdate, accountID), m.conn.Exchange(), m.logger)
	teardownQueue(ch, "DeleteBitmexAccount:"+accountID, withAccount(cmdAccountDelete, accountID), m.conn.Exchange(), m.logger)

	if err := ch.QueueBind(createAccountQueue, cmdAccountCreate, m.conn.Exchange(), false, nil); err != nil {
		return err
	}
	deliveries, tag, err := consume(ch, createAccountQueue)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.createTag = tag
	m.mu.Unlock()
	go m.consumeCreate(ctx, deliveries)
	return nil
}

func (m *AccountQueueManager) reply(ctx context.Context, routingKey, correlationID string, r reply) {
	if err := publishReply(ctx, m.conn, routingKey, correlationID, r); err != nil {
		m.logger.Error("publish account reply failed", slog.String("routing_key", routingKey), slog.Any("error", err))
	}
}

// HeartbeatForwarder bridges bus.AccountHeartbeat ticks to the heartbeat
// routing key with the 20s broker TTL spec.md §4.6 names. metric may be nil.
func HeartbeatForwarder(ctx context.Context, conn *broker.Conn, b *bus.Bus, logger *slog.Logger, metric *metrics.Metrics) {
	b.Register(bus.AccountHeartbeat, func(payload ...interface{}) {
		if len(payload) == 0 {
			return
		}
		accountID, ok := payload[0].(string)
		if !ok {
			return
		}
		body, _ := json.Marshal(map[string]string{"accountId": accountID})
		err := conn.PublishExpiring(ctx, eventAccountHeartbeat, heartbeatTTLMillis, body)
		if err != nil {
			logger.Error("publish heartbeat failed", slog.Any("error", err))
			return
		}
		if metric != nil {
			metric.HeartbeatsTotal.Inc()
		}
	}, 0)
}
