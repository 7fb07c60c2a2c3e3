// Package bus implements the node's in-process typed publish/subscribe
// registry (spec.md §4.1). It replaces the teacher's module-level
// event_bus/bitmex_manager singletons with an injected component assembled
// once in bootstrap (spec.md §9).
package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Event keys, the closed set from spec.md §4.1.
const (
	CreateAccountCmd = "create_account_cmd"
	UpdateAccountCmd = "update_account_cmd"
	DeleteAccountCmd = "delete_account_cmd"
	CreateOrderCmd   = "create_order_cmd"
	UpdateOrderCmd   = "update_order_cmd"
	CancelOrderCmd   = "cancel_order_cmd"
	PositionCloseCmd = "position_close_cmd"
	PositionAddStopCmd = "position_add_stop_cmd"
	PositionAddTslCmd  = "position_add_tsl_cmd"
	AccountHeartbeat   = "account_heartbeat"

	AccountCreatedEvent    = "account_created_event"
	AccountUpdatedEvent    = "account_updated_event"
	AccountDeletedEvent    = "account_deleted_event"
	OrderCreatedEvent      = "order_created_event"
	OrderUpdatedEvent      = "order_updated_event"
	OrderCanceledEvent     = "order_canceled_event"
	PositionClosedEvent    = "position_closed_event"
	PositionAddedStopEvent = "position_added_stop_event"
	PositionAddedTslEvent  = "position_added_tsl_event"
	MarginsUpdatedEvent    = "margins_updated_event"
	PositionsUpdatedEvent  = "positions_updated_event"
	TickerUpdatedEvent     = "ticker_updated_event"
	MyTradesUpdatedEvent   = "my_trades_updated_event"
	OrderPlacedEvent       = "order_placed_event"
)

// Callback is a subscriber's delivery function. It must not block the
// publisher; the bus already runs it in its own scheduling context.
type Callback func(payload ...interface{})

// subscription is one registered listener on one event key.
type subscription struct {
	eventKey   string
	callback   Callback
	rateLimit  time.Duration

	mu            sync.Mutex
	lastDelivery  time.Time
	queue         chan []interface{}
	once          sync.Once
}

// Bus is the in-process typed pub/sub registry. Zero value is not usable;
// construct with New.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string][]*subscription
}

// New constructs an empty bus. Registration happens once during bootstrap
// wiring; there is no Unregister short of tearing down the owning
// component, matching spec.md §4.1.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[string][]*subscription),
	}
}

// Register appends a subscription for eventKey. rateLimit of zero disables
// coalescing for this subscriber. Each subscription gets its own
// single-worker queue so a subscriber's own callbacks never overlap with
// themselves, the "recommended" serialized-processor shape from spec.md §5.
func (b *Bus) Register(eventKey string, callback Callback, rateLimit time.Duration) {
	sub := &subscription{
		eventKey:  eventKey,
		callback:  callback,
		rateLimit: rateLimit,
		queue:     make(chan []interface{}, 256),
	}
	sub.once.Do(func() {
		go sub.run(b.logger)
	})

	b.mu.Lock()
	b.subs[eventKey] = append(b.subs[eventKey], sub)
	b.mu.Unlock()
}

func (s *subscription) run(logger *slog.Logger) {
	for payload := range s.queue {
		func() {
			defer func() {
				if r := recover(); r != nil && logger != nil {
					logger.Error("event bus callback panicked",
						slog.String("event_key", s.eventKey),
						slog.Any("panic", r),
					)
				}
			}()
			s.callback(payload...)
		}()
	}
}

// Publish delivers payload to every subscriber of eventKey, in registration
// order. A subscriber below its rate_limit_ms threshold has the delivery
// silently dropped (coalescing, not queueing). The publisher never blocks
// on a slow subscriber and never observes a callback error.
func (b *Bus) Publish(eventKey string, payload ...interface{}) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[eventKey]...)
	b.mu.RUnlock()

	now := time.Now()
	for _, sub := range subs {
		sub.mu.Lock()
		due := sub.rateLimit <= 0 || sub.lastDelivery.IsZero() || now.Sub(sub.lastDelivery) >= sub.rateLimit
		if due {
			sub.lastDelivery = now
		}
		sub.mu.Unlock()

		if !due {
			continue
		}

		select {
		case sub.queue <- payload:
		default:
			if b.logger != nil {
				b.logger.Warn("event bus subscriber queue full, dropping delivery",
					slog.String("event_key", eventKey),
				)
			}
		}
	}
}
