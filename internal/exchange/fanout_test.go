package exchange

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bitmex-bridge/node/internal/bus"
	"github.com/bitmex-bridge/node/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOrderDedupEmitsOnlyOnChange(t *testing.T) {
	b := bus.New(testLogger())
	var events int
	b.Register(bus.OrderUpdatedEvent, func(payload ...interface{}) { events++ }, 0)

	f := NewFanout("acct", b, testLogger(), nil)

	order := []byte(`{"orderID":"o1","ordStatus":"New","orderQty":100}`)
	f.handleOrders(order)
	f.handleOrders(order) // identical snapshot resent by the exchange

	time.Sleep(20 * time.Millisecond)
	if events != 1 {
		t.Fatalf("expected exactly 1 downstream event for identical snapshots, got %d", events)
	}
}

func TestOrderDedupEmitsOnChangedSnapshot(t *testing.T) {
	b := bus.New(testLogger())
	var events int
	b.Register(bus.OrderUpdatedEvent, func(payload ...interface{}) { events++ }, 0)

	f := NewFanout("acct", b, testLogger(), nil)
	f.handleOrders([]byte(`{"orderID":"o1","ordStatus":"New","orderQty":100}`))
	f.handleOrders([]byte(`{"orderID":"o1","ordStatus":"Filled","orderQty":100}`))

	time.Sleep(20 * time.Millisecond)
	if events != 2 {
		t.Fatalf("expected 2 events for distinct snapshots, got %d", events)
	}
}

func TestTickerFiltersNonOpenSymbols(t *testing.T) {
	b := bus.New(testLogger())
	var seen []domain.Symbol
	b.Register(bus.TickerUpdatedEvent, func(payload ...interface{}) {
		if len(payload) == 2 {
			if s, ok := payload[1].(domain.Symbol); ok {
				seen = append(seen, s)
			}
		}
	}, 0)

	f := NewFanout("acct", b, testLogger(), nil)
	f.handleTickers([]byte(`[{"symbol":"XBTUSD","state":"Open"},{"symbol":"XBTZ25","state":"Settled"}]`))

	time.Sleep(20 * time.Millisecond)
	if len(seen) != 1 || seen[0].Symbol != "XBTUSD" {
		t.Fatalf("expected only XBTUSD to be published, got %+v", seen)
	}
}
