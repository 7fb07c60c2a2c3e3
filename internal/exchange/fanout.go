package exchange

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/bitmex-bridge/node/internal/bus"
	"github.com/bitmex-bridge/node/internal/canonical"
	"github.com/bitmex-bridge/node/internal/domain"
	"github.com/bitmex-bridge/node/internal/metrics"
)

// Fanout runs the five stream consumer loops (spec.md §4.4), deduping
// per-entity via content-hash and emitting typed bus events. One Fanout is
// created per CONNECTED account and torn down with it.
type Fanout struct {
	account string
	bus     *bus.Bus
	logger  *slog.Logger
	metric  *metrics.Metrics

	mu          sync.Mutex
	orderHashes map[string]uint64
	posHashes   map[string]uint64
}

// NewFanout constructs a Fanout for one account's streams. metric may be
// nil, in which case per-channel stream counters are skipped.
func NewFanout(account string, b *bus.Bus, logger *slog.Logger, metric *metrics.Metrics) *Fanout {
	return &Fanout{
		account:     account,
		bus:         b,
		logger:      logger.With(slog.String("account_id", account)),
		metric:      metric,
		orderHashes: make(map[string]uint64),
		posHashes:   make(map[string]uint64),
	}
}

func (f *Fanout) recordEvent(channel string) {
	if f.metric != nil {
		f.metric.StreamEventsTotal.WithLabelValues(channel).Inc()
	}
}

func (f *Fanout) recordDedupDropped(channel string) {
	if f.metric != nil {
		f.metric.StreamDedupDropped.WithLabelValues(channel).Inc()
	}
}

// Run starts all five consumer loops and blocks until ctx is cancelled.
// Each loop survives its own decode/processing errors (logged, loop
// continues), per spec.md §4.4 — only a cancelled context stops a loop.
func (f *Fanout) Run(ctx context.Context, streams *Streams) {
	var wg sync.WaitGroup
	wg.Add(5)
	go func() { defer wg.Done(); f.consume(ctx, streams.Balance, f.handleBalance) }()
	go func() { defer wg.Done(); f.consume(ctx, streams.Positions, f.handlePositions) }()
	go func() { defer wg.Done(); f.consume(ctx, streams.Tickers, f.handleTickers) }()
	go func() { defer wg.Done(); f.consume(ctx, streams.Orders, f.handleOrders) }()
	go func() { defer wg.Done(); f.consume(ctx, streams.MyTrades, f.handleMyTrades) }()
	wg.Wait()
}

func (f *Fanout) consume(ctx context.Context, feed *feed, handle func([]byte)) {
	if feed == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-feed.Frames():
			if !ok {
				return
			}
			handle(frame)
		}
	}
}

// items splits a frame into its constituent JSON objects, accepting either
// a bare object or an array of objects — BitMEX-class streams send both
// shapes depending on the channel.
func items(frame []byte) []json.RawMessage {
	var arr []json.RawMessage
	if err := json.Unmarshal(frame, &arr); err == nil {
		return arr
	}
	return []json.RawMessage{frame}
}

func (f *Fanout) handleBalance(frame []byte) {
	for _, raw := range items(frame) {
		margin, err := domain.DecodeMargin(raw)
		if err != nil {
			f.logger.Error("decode margin failed", slog.Any("error", err))
			continue
		}
		f.recordEvent("balance")
		f.bus.Publish(bus.MarginsUpdatedEvent, f.account, *margin)
	}
}

func (f *Fanout) handleMyTrades(frame []byte) {
	for _, raw := range items(frame) {
		trade, err := domain.DecodeOrderState(raw)
		if err != nil {
			f.logger.Error("decode trade failed", slog.Any("error", err))
			continue
		}
		f.recordEvent("my_trades")
		f.bus.Publish(bus.MyTradesUpdatedEvent, f.account, *trade)
	}
}

func (f *Fanout) handleTickers(frame []byte) {
	for _, raw := range items(frame) {
		sym, err := domain.DecodeSymbol(raw)
		if err != nil {
			f.logger.Error("decode ticker failed", slog.Any("error", err))
			continue
		}
		if !sym.IsOpen() {
			continue
		}
		f.recordEvent("tickers")
		f.bus.Publish(bus.TickerUpdatedEvent, f.account, *sym)
	}
}

func (f *Fanout) handleOrders(frame []byte) {
	for _, raw := range items(frame) {
		order, err := domain.DecodeOrderState(raw)
		if err != nil {
			f.logger.Error("decode order failed", slog.Any("error", err))
			continue
		}
		if order.OrderID == "" {
			continue
		}

		hash, err := canonical.Hash(order)
		if err != nil {
			f.logger.Error("hash order failed", slog.Any("error", err))
			continue
		}

		f.mu.Lock()
		prev, seen := f.orderHashes[order.OrderID]
		f.orderHashes[order.OrderID] = hash
		f.mu.Unlock()

		if seen && prev == hash {
			f.recordDedupDropped("orders")
			continue
		}
		f.recordEvent("orders")
		f.bus.Publish(bus.OrderUpdatedEvent, f.account, *order)
	}
}

func (f *Fanout) handlePositions(frame []byte) {
	for _, raw := range items(frame) {
		pos, err := domain.DecodePosition(raw)
		if err != nil {
			f.logger.Error("decode position failed", slog.Any("error", err))
			continue
		}
		if pos.Symbol == "" {
			continue
		}

		hash, err := canonical.Hash(pos)
		if err != nil {
			f.logger.Error("hash position failed", slog.Any("error", err))
			continue
		}

		f.mu.Lock()
		prev, seen := f.posHashes[pos.Symbol]
		f.posHashes[pos.Symbol] = hash
		f.mu.Unlock()

		if seen && prev == hash {
			f.recordDedupDropped("positions")
			continue
		}
		f.recordEvent("positions")
		f.bus.Publish(bus.PositionsUpdatedEvent, f.account, *pos)
	}
}
