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

type closePositionBody struct {
	Symbol  string `json:"symbol"`
	Percent int64  `json:"percent"`
}

type attachProtectionBody struct {
	Symbol              string          `json:"symbol"`
	StopPrice           json.RawMessage `json:"stop_price,omitempty"`
	StopTriggerType     string          `json:"stop_trigger_type,omitempty"`
	TrailingStopPercent json.RawMessage `json:"trailing_stop_percent,omitempty"`
}

const (
	closePositionQueuePrefix = "CloseBitmexPosition:"
	addStopQueuePrefix       = "AddStopBitmexPosition:"
	addTslQueuePrefix        = "AddTslBitmexPosition:"
)

// PositionQueueManager implements spec.md §4.7's dynamic position
// submanager, mirroring OrderQueueManager's declare-on-connect,
// teardown-on-disconnect lifecycle.
type PositionQueueManager struct {
	conn   *broker.Conn
	b      *bus.Bus
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
	metric *metrics.Metrics

	mu sync.Mutex
	ch *amqp.Channel
}

// NewPositionQueueManager constructs the submanager. Call Attach once at
// bootstrap to wire its lifecycle listeners.
func NewPositionQueueManager(conn *broker.Conn, b *bus.Bus, orch *orchestrator.Orchestrator, logger *slog.Logger, metric *metrics.Metrics) *PositionQueueManager {
	return &PositionQueueManager{conn: conn, b: b, orch: orch, logger: logger, metric: metric}
}

func (m *PositionQueueManager) record(eventKey, outcome string, start time.Time) {
	if m.metric != nil {
		m.metric.RecordCommand(eventKey, outcome, time.Since(start))
	}
}

// Attach registers the account_created_event/account_deleted_event
// listeners that declare and tear down this account's position queues.
func (m *PositionQueueManager) Attach(ctx context.Context) {
	m.b.Register(bus.AccountCreatedEvent, func(payload ...interface{}) {
		accountID, success := accountEventArgs(payload)
		if success {
			if err := m.declare(ctx, accountID); err != nil {
				m.logger.Error("declare position queues failed", slog.Any("error", err))
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

func (m *PositionQueueManager) declare(ctx context.Context, accountID string) error {
	ch, err := m.conn.Channel()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.ch = ch
	m.mu.Unlock()

	type binding struct {
		queue      string
		routingKey string
		handle     func(context.Context, amqp.Delivery, string)
	}
	bindings := []binding{
		{closePositionQueuePrefix + accountID, withAccount(cmdPositionClose, accountID), m.handleClose},
		{addStopQueuePrefix + accountID, withAccount(cmdPositionAddStop, accountID), m.handleAddStop},
		{addTslQueuePrefix + accountID, withAccount(cmdPositionAddTsl, accountID), m.handleAddTsl},
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

func (m *PositionQueueManager) teardown(accountID string) {
	m.mu.Lock()
	ch := m.ch
	m.mu.Unlock()
	if ch == nil {
		return
	}

	teardownQueue(ch, closePositionQueuePrefix+accountID, withAccount(cmdPositionClose, accountID), m.conn.Exchange(), m.logger)
	teardownQueue(ch, addStopQueuePrefix+accountID, withAccount(cmdPositionAddStop, accountID), m.conn.Exchange(), m.logger)
	teardownQueue(ch, addTslQueuePrefix+accountID, withAccount(cmdPositionAddTsl, accountID), m.conn.Exchange(), m.logger)
}

func (m *PositionQueueManager) handleClose(ctx context.Context, d amqp.Delivery, accountID string) {
	start := time.Now()
	var body closePositionBody
	if err := json.Unmarshal(d.Body, &body); err != nil || body.Symbol == "" {
		m.record(cmdPositionClose, "invalid", start)
		m.reply(ctx, eventPositionClosed, d.CorrelationId, reply{Success: false, Error: domain.InvalidMessage{Reason: "bad position_close body"}.Error()})
		d.Nack(false, false)
		return
	}

	leg, err := m.orch.ClosePosition(ctx, accountID, body.Symbol, body.Percent)
	if err != nil {
		m.record(cmdPositionClose, "failure", start)
		m.reply(ctx, eventPositionClosed, d.CorrelationId, reply{Success: false, Error: err.Error()})
		d.Ack(false)
		return
	}
	m.record(cmdPositionClose, "success", start)
	m.reply(ctx, eventPositionClosed, d.CorrelationId, reply{Success: true, OrderID: leg.OrderID})
	d.Ack(false)
}

// decodeProtectionOrder builds the partial domain.Order the orchestrator's
// placeStop/placeTsl validate, reusing domain.DecodeOrder's field parsing
// by re-wrapping the attach body into the shape it expects.
func decodeProtectionOrder(body attachProtectionBody) (*domain.Order, error) {
	symbol, err := json.Marshal(body.Symbol)
	if err != nil {
		return nil, err
	}
	wire := map[string]json.RawMessage{"symbol": symbol}
	if len(body.StopPrice) > 0 {
		wire["stop_price"] = body.StopPrice
	}
	if body.StopTriggerType != "" {
		encoded, _ := json.Marshal(body.StopTriggerType)
		wire["stop_trigger_type"] = encoded
	}
	if len(body.TrailingStopPercent) > 0 {
		wire["trailing_stop_percent"] = body.TrailingStopPercent
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	return domain.DecodeOrder(raw)
}

func (m *PositionQueueManager) handleAddStop(ctx context.Context, d amqp.Delivery, accountID string) {
	start := time.Now()
	var body attachProtectionBody
	if err := json.Unmarshal(d.Body, &body); err != nil || body.Symbol == "" || len(body.StopPrice) == 0 {
		m.record(cmdPositionAddStop, "invalid", start)
		m.reply(ctx, eventPositionAddedStop, d.CorrelationId, reply{Success: false, Error: domain.InvalidMessage{Reason: "bad position_add_stop body"}.Error()})
		d.Nack(false, false)
		return
	}

	stop, err := decodeProtectionOrder(body)
	if err != nil {
		m.record(cmdPositionAddStop, "invalid", start)
		m.reply(ctx, eventPositionAddedStop, d.CorrelationId, reply{Success: false, Error: err.Error()})
		d.Nack(false, false)
		return
	}

	leg, err := m.orch.AttachStop(ctx, accountID, body.Symbol, stop)
	if err != nil {
		m.record(cmdPositionAddStop, "failure", start)
		m.reply(ctx, eventPositionAddedStop, d.CorrelationId, reply{Success: false, Error: err.Error()})
		d.Ack(false)
		return
	}
	m.record(cmdPositionAddStop, "success", start)
	m.reply(ctx, eventPositionAddedStop, d.CorrelationId, reply{Success: true, OrderID: leg.OrderID})
	d.Ack(false)
}

func (m *PositionQueueManager) handleAddTsl(ctx context.Context, d amqp.Delivery, accountID string) {
	start := time.Now()
	var body attachProtectionBody
	if err := json.Unmarshal(d.Body, &body); err != nil || body.Symbol == "" || len(body.TrailingStopPercent) == 0 {
		m.record(cmdPositionAddTsl, "invalid", start)
		m.reply(ctx, eventPositionAddedTsl, d.CorrelationId, reply{Success: false, Error: domain.InvalidMessage{Reason: "bad position_add_tsl body"}.Error()})
		d.Nack(false, false)
		return
	}

	tsl, err := decodeProtectionOrder(body)
	if err != nil {
		m.record(cmdPositionAddTsl, "invalid", start)
		m.reply(ctx, eventPositionAddedTsl, d.CorrelationId, reply{Success: false, Error: err.Error()})
		d.Nack(false, false)
		return
	}

	leg, err := m.orch.AttachTsl(ctx, accountID, body.Symbol, tsl)
	if err != nil {
		m.record(cmdPositionAddTsl, "failure", start)
		m.reply(ctx, eventPositionAddedTsl, d.CorrelationId, reply{Success: false, Error: err.Error()})
		d.Ack(false)
		return
	}
	m.record(cmdPositionAddTsl, "success", start)
	m.reply(ctx, eventPositionAddedTsl, d.CorrelationId, reply{Success: true, OrderID: leg.OrderID})
	d.Ack(false)
}

func (m *PositionQueueManager) reply(ctx context.Context, routingKey, correlationID string, r reply) {
	if err := publishReply(ctx, m.conn, routingKey, correlationID, r); err != nil {
		m.logger.Error("publish position reply failed", slog.String("routing_key", routingKey), slog.Any("error", err))
	}
}
