package store

import (
	"context"
	"log/slog"

	"github.com/bitmex-bridge/node/internal/bus"
	"github.com/bitmex-bridge/node/internal/domain"
)

// AttachBus registers the store as a listener on the five stream-update
// event keys it owns, per spec.md §4.2. Each handler swallows its own
// errors (logged, not propagated) since the bus never surfaces callback
// failures to the publisher.
func AttachBus(b *bus.Bus, s Store, logger *slog.Logger) {
	b.Register(bus.MarginsUpdatedEvent, func(payload ...interface{}) {
		account, margin, ok := accountAnd[domain.Margin](payload)
		if !ok {
			return
		}
		if err := s.SaveMargin(context.Background(), account, margin); err != nil {
			logger.Error("save margin failed", slog.Any("error", err))
		}
	}, 0)

	b.Register(bus.TickerUpdatedEvent, func(payload ...interface{}) {
		account, sym, ok := accountAnd[domain.Symbol](payload)
		if !ok {
			return
		}
		if err := s.SaveTicker(context.Background(), account, sym); err != nil {
			logger.Error("save ticker failed", slog.Any("error", err))
		}
	}, 0)

	b.Register(bus.PositionsUpdatedEvent, func(payload ...interface{}) {
		account, pos, ok := accountAnd[domain.Position](payload)
		if !ok {
			return
		}
		if err := s.SavePosition(context.Background(), account, pos); err != nil {
			logger.Error("save position failed", slog.Any("error", err))
		}
	}, 0)

	b.Register(bus.MyTradesUpdatedEvent, func(payload ...interface{}) {
		account, trade, ok := accountAnd[domain.OrderState](payload)
		if !ok {
			return
		}
		if err := s.SaveTrade(context.Background(), account, trade); err != nil {
			logger.Error("save trade failed", slog.Any("error", err))
		}
	}, 0)

	b.Register(bus.OrderPlacedEvent, func(payload ...interface{}) {
		account, order, ok := accountAnd[domain.OrderState](payload)
		if !ok {
			return
		}
		if err := s.SaveOrder(context.Background(), account, order); err != nil {
			logger.Error("save order failed", slog.Any("error", err))
		}
	}, 0)
}

func accountAnd[T any](payload []interface{}) (string, T, bool) {
	var zero T
	if len(payload) != 2 {
		return "", zero, false
	}
	account, ok := payload[0].(string)
	if !ok {
		return "", zero, false
	}
	value, ok := payload[1].(T)
	if !ok {
		return "", zero, false
	}
	return account, value, true
}
