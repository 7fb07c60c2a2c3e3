package queuemanager

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bitmex-bridge/node/internal/broker"
	"github.com/bitmex-bridge/node/internal/bus"
	"github.com/bitmex-bridge/node/internal/domain"
	"github.com/bitmex-bridge/node/internal/metrics"
	"github.com/bitmex-bridge/node/internal/orchestrator"
)

type createOrderBody struct {
	Orders struct {
		Main json.RawMessage `json:"main"`
		Stop json.RawMessage `json:"stop,omitempty"`
		Tsl  json.RawMessage `json:"tsl,omitempty"`
	} `json:"orders"`
}

type cancelOrderBody struct {
	AccountID string `json:"accountId"`
	OrderID   string `json:"orderId"`
}

// OrderQueueManager implements spec.md §4.7's dynamic order submanager:
// declared the moment an account connects, torn down the moment it
// disconnects.
type OrderQueueManager struct {
	conn   *broker.Conn
	b      *bus.Bus
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
	metric *metrics.Metrics

	mu        sync.Mutex
	ch        *amqp.Channel
	accountID string
}

// NewOrderQueueManager constructs the submanager. Call Attach once at
// bootstrap to wire its account_created_event/account_deleted_event
// listeners.
func NewOrderQueueManager(conn *broker.Conn, b *bus.Bus, orch *orchestrator.Orchestrator, logger *slog.Logger, metric *metrics.Metrics) *OrderQueueManager {
	return &OrderQueueManager{conn: conn, b: b, orch: orch, logger: logger, metric: metric}
}

// Attach registers the lifecycle listeners. ctx governs the consumer
// goroutines spawned for whichever account is currently bound.
func (m *OrderQueueManager) Attach(ctx context.Context) {
	m.b.Register(bus.AccountCreatedEvent, func(payload ...interface{}) {
		accountID, success := accountEventArgs(payload)
		if success {
			if err := m.declare(ctx, accountID); err != nil {
				m.logger.Error("declare order queues failed", slog.Any("error", err))
			}
		}
	}, 0)

	m.b.Register(bus.AccountDeletedEvent, func(payload ...interface{}) {
		accountID, success := accountEventArgs(payload)
		if success {
			m.teardown(accountID)
		}
	}, 0)
}

func accountEventArgs(payload []interface{}) (string, bool) {
	if len(payload) < 2 {
		return "", false
	}
	accountID, _ := payload[0].(string)
	success, _ := payload[1].(bool)
	return accountID, success
}

const (
	createOrderQueuePrefix = "CreateBitmexOrder:"
	updateOrderQueuePrefix = "UpdateBitmexOrder:"
	cancelOrderQueuePrefix = "CancelBitmexOrder:"
)

func (m *OrderQueueManager) declare(ctx context.Context, accountID string) error {
	ch, err := m.conn.Channel()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.ch = ch
	m.accountID = accountID
	m.mu.Unlock()

	type binding struct {
		queue      string
		routingKey string
		handle     func(context.Context, amqp.Delivery, string)
	}
	bindings := []binding{
		{createOrderQueuePrefix + accountID, withAccount(cmdOrderCreate, accountID), m.handleCreate},
		{updateOrderQueuePrefix + accountID, withAccount(cmdOrderUpdate, accountID), m.handleUpdate},
		{cancelOrderQueuePrefix + accountID, withAccount(cmdOrderCancel, accountID), m.handleCancel},
	}

	for _, b := range bindings {
		if err := declareDurableQueue(ch, m.conn, b.queue, b.routingKey, perAccountQueueExpiryMillis); err != nil {
			return err
		}
		deliveries, _, err := consume(ch, b.queue)
		if err != nil {
			return err
		}
		handle := b.handle
		go func(deliveries <-chan amqp.Delivery) {
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					handle(ctx, d, accountID)
				}
			}
		}(deliveries)
	}
	return nil
}

func (m *OrderQueueManager) teardown(accountID string) {
	m.mu.Lock()
	ch := m.ch
	m.accountID = ""
	m.mu.Unlock()
	if ch == nil {
		return
	}

	teardownQueue(ch, createOrderQueuePrefix+accountID, withAccount(cmdOrderCreate, accountID), m.conn.Exchange(), m.logger)
	teardownQueue(ch, updateOrderQueuePrefix+accountID, withAccount(cmdOrderUpdate, accountID), m.conn.Exchange(), m.logger)
	teardownQueue(ch, cancelOrderQueuePrefix+accountID, withAccount(cmdOrderCancel, accountID), m.conn.Exchange(), m.logger)
}

func decodeCompoundOrder(body []byte) (orchestrator.CompoundOrder, error) {
	var raw createOrderBody
	if err := json.Unmarshal(body, &raw); err != nil {
		return orchestrator.CompoundOrder{}, domain.InvalidMessage{Reason: "bad create_order body"}
	}
	if len(raw.Orders.Main) == 0 {
		return orchestrator.CompoundOrder{}, domain.InvalidMessage{Reason: "create_order body missing orders.main"}
	}

	main, err := domain.DecodeOrder(raw.Orders.Main)
	if err != nil {
		return orchestrator.CompoundOrder{}, err
	}
	co := orchestrator.CompoundOrder{Main: main}
	if len(raw.Orders.Stop) > 0 {
		if co.Stop, err = domain.DecodeOrder(raw.Orders.Stop); err != nil {
			return orchestrator.CompoundOrder{}, err
		}
	}
	if len(raw.Orders.Tsl) > 0 {
		if co.Tsl, err = domain.DecodeOrder(raw.Orders.Tsl); err != nil {
			return orchestrator.CompoundOrder{}, err
		}
	}
	return co, nil
}

func (m *OrderQueueManager) handleCreate(ctx context.Context, d amqp.Delivery, accountID string) {
	start := time.Now()
	co, err := decodeCompoundOrder(d.Body)
	if err != nil {
		m.record(cmdOrderCreate, "invalid", start)
		m.reply(ctx, eventOrderCreated, d.CorrelationId, reply{Success: false, Error: err.Error()})
		d.Nack(false, false)
		return
	}

	res := m.orch.CreateOrder(ctx, accountID, co)
	m.record(cmdOrderCreate, outcomeOf(res.Success), start)
	m.reply(ctx, eventOrderCreated, d.CorrelationId, reply{Success: res.Success, Errors: res.Errors, Orders: res.Legs})
	d.Ack(false)
}

func outcomeOf(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (m *OrderQueueManager) record(eventKey, outcome string, start time.Time) {
	if m.metric != nil {
		m.metric.RecordCommand(eventKey, outcome, time.Since(start))
	}
}

// handleUpdate places the replacement order the same way handleCreate
// does. The wire contract (spec.md §6) describes UpdateOrder bodies
// identically to CreateOrder and the orchestrator has no amend-in-place
// primitive, so an update is a fresh placement under the same correlation.
func (m *OrderQueueManager) handleUpdate(ctx context.Context, d amqp.Delivery, accountID string) {
	start := time.Now()
	co, err := decodeCompoundOrder(d.Body)
	if err != nil {
		m.record(cmdOrderUpdate, "invalid", start)
		m.reply(ctx, eventOrderUpdated, d.CorrelationId, reply{Success: false, Error: err.Error()})
		d.Nack(false, false)
		return
	}

	res := m.orch.CreateOrder(ctx, accountID, co)
	m.record(cmdOrderUpdate, outcomeOf(res.Success), start)
	m.reply(ctx, eventOrderUpdated, d.CorrelationId, reply{Success: res.Success, Errors: res.Errors, Orders: res.Legs})
	d.Ack(false)
}

func (m *OrderQueueManager) handleCancel(ctx context.Context, d amqp.Delivery, accountID string) {
	start := time.Now()
	var body cancelOrderBody
	if err := json.Unmarshal(d.Body, &body); err != nil || body.OrderID == "" {
		m.record(cmdOrderCancel, "invalid", start)
		m.reply(ctx, eventOrderCanceled, d.CorrelationId, reply{Success: false, Error: domain.WrongOrder{OrderID: body.OrderID}.Error()})
		d.Nack(false, false)
		return
	}

	leg, err := m.orch.CancelOrder(ctx, body.OrderID)
	if err != nil {
		m.record(cmdOrderCancel, "failure", start)
		m.reply(ctx, eventOrderCanceled, d.CorrelationId, reply{Success: false, OrderID: body.OrderID, Error: err.Error()})
		d.Ack(false)
		return
	}
	m.record(cmdOrderCancel, "success", start)
	m.reply(ctx, eventOrderCanceled, d.CorrelationId, reply{Success: true, OrderID: leg.OrderID})
	d.Ack(false)
}

func (m *OrderQueueManager) reply(ctx context.Context, routingKey, correlationID string, r reply) {
	if err := publishReply(ctx, m.conn, routingKey, correlationID, r); err != nil {
		m.logger.Error("publish order reply failed", slog.String("routing_key", routingKey), slog.Any("error", err))
	}
}
