package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bitmex-bridge/node/internal/bus"
	"github.com/bitmex-bridge/node/internal/domain"
	"github.com/bitmex-bridge/node/internal/exchange"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAdapter struct {
	leverageCalls []int64
	orders        []exchange.CreateOrderParams
	failOn        string // order type/side marker that should fail
	cancelled     []string
}

func echoBody(p exchange.CreateOrderParams, orderID string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"orderID":  orderID,
		"clOrdID":  p.ClOrdID,
		"ordStatus": "New",
		"orderQty": json.Number(p.Quantity),
		"symbol":   p.Symbol,
		"side":     p.Side,
		"stopPx":   p.StopPx,
	})
	return body
}

func (f *fakeAdapter) SetPositionLeverage(ctx context.Context, symbol string, leverage int64) ([]byte, error) {
	f.leverageCalls = append(f.leverageCalls, leverage)
	return []byte(`{"leverage":10}`), nil
}

func (f *fakeAdapter) CreateLimitOrder(ctx context.Context, p exchange.CreateOrderParams) ([]byte, error) {
	f.orders = append(f.orders, p)
	if f.failOn != "" && p.ExecInst == f.failOn {
		return nil, domain.TransientExchange{Message: "boom"}
	}
	return echoBody(p, fmt.Sprintf("ord-%d", len(f.orders))), nil
}

func (f *fakeAdapter) CreateMarketOrder(ctx context.Context, p exchange.CreateOrderParams) ([]byte, error) {
	f.orders = append(f.orders, p)
	return echoBody(p, fmt.Sprintf("ord-%d", len(f.orders))), nil
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, orderID string) ([]byte, error) {
	f.cancelled = append(f.cancelled, orderID)
	return []byte(fmt.Sprintf(`{"orderID":"%s","ordStatus":"Canceled"}`, orderID)), nil
}

type fakeState struct {
	margins   map[string]domain.Margin
	tickers   map[string]domain.Symbol
	positions map[string]domain.Position
}

func (f *fakeState) GetMargin(ctx context.Context, account, currency string) (domain.Margin, bool, error) {
	m, ok := f.margins[currency]
	return m, ok, nil
}

func (f *fakeState) GetTicker(ctx context.Context, account, symbol string) (domain.Symbol, bool, error) {
	s, ok := f.tickers[symbol]
	return s, ok, nil
}

func (f *fakeState) GetPosition(ctx context.Context, account, symbol string) (domain.Position, bool, error) {
	p, ok := f.positions[symbol]
	return p, ok, nil
}

func newFixture() (*fakeAdapter, *fakeState) {
	state := &fakeState{
		margins: map[string]domain.Margin{
			"XBt": {Currency: "XBt", Available: decimal.NewFromFloat(1.0)},
		},
		tickers: map[string]domain.Symbol{
			"XBTUSD": {
				Symbol:             "XBTUSD",
				State:              domain.SymbolStateOpen,
				SettleCurrency:     "XBt",
				Underlying:         "XBT",
				TickSize:           decimal.NewFromFloat(0.5),
				LastPriceProtected: decimal.NewFromInt(50000),
				MarkPrice:          decimal.NewFromInt(50000),
			},
		},
		positions: map[string]domain.Position{
			"XBTUSD": {Symbol: "XBTUSD", CurrentQuantity: decimal.NewFromInt(250000)},
		},
	}
	return &fakeAdapter{}, state
}

func TestCreateOrderPlacesMainLeg(t *testing.T) {
	adapter, state := newFixture()
	o := New(adapter, state, bus.New(testLogger()), testLogger(), nil)

	price := decimal.NewFromInt(50000)
	main := &domain.Order{
		ClientOrderID: "abc_def",
		Symbol:        "XBTUSD",
		Side:          domain.SideBuy,
		Type:          domain.OrderTypeLimit,
		Percent:       50,
		Leverage:      10,
		Price:         &price,
	}

	res := o.CreateOrder(context.Background(), "acct1", CompoundOrder{Main: main})
	if !res.Success {
		t.Fatalf("expected success, got errors: %v", res.Errors)
	}
	leg, ok := res.Legs["main"]
	if !ok {
		t.Fatalf("expected a main leg result")
	}
	if leg.OrderQty.Cmp(decimal.NewFromInt(250000)) != 0 {
		t.Fatalf("expected quantity 250000, got %s", leg.OrderQty)
	}
	if leg.ClientOrderID != "abc_def" {
		t.Fatalf("expected demangled client order id abc_def, got %s", leg.ClientOrderID)
	}
	if len(adapter.leverageCalls) != 1 || adapter.leverageCalls[0] != 10 {
		t.Fatalf("expected one SetPositionLeverage(10) call, got %v", adapter.leverageCalls)
	}
}

func TestCreateOrderWithStopAndTsl(t *testing.T) {
	adapter, state := newFixture()
	o := New(adapter, state, bus.New(testLogger()), testLogger(), nil)

	price := decimal.NewFromInt(50000)
	stopPx := decimal.NewFromInt(49000)
	tslPct := decimal.NewFromInt(2)

	co := CompoundOrder{
		Main: &domain.Order{
			ClientOrderID: "main1",
			Symbol:        "XBTUSD",
			Side:          domain.SideBuy,
			Type:          domain.OrderTypeLimit,
			Percent:       50,
			Leverage:      10,
			Price:         &price,
		},
		Stop: &domain.Order{
			ClientOrderID:   "main1",
			Symbol:          "XBTUSD",
			Side:            domain.SideSell,
			Type:            domain.OrderTypeStop,
			StopPrice:       &stopPx,
			StopTriggerType: domain.TriggerLastPrice,
		},
		Tsl: &domain.Order{
			ClientOrderID:       "main1",
			Symbol:              "XBTUSD",
			Side:                domain.SideSell,
			Type:                domain.OrderTypeStop,
			StopPrice:           &stopPx,
			StopTriggerType:     domain.TriggerLastPrice,
			TrailingStopPercent: &tslPct,
		},
	}

	res := o.CreateOrder(context.Background(), "acct1", co)
	if !res.Success {
		t.Fatalf("expected success, got errors: %v", res.Errors)
	}
	if _, ok := res.Legs["stop"]; !ok {
		t.Fatalf("expected a stop leg result")
	}
	if _, ok := res.Legs["tsl"]; !ok {
		t.Fatalf("expected a tsl leg result")
	}
	if len(adapter.orders) != 3 {
		t.Fatalf("expected 3 order submissions (main, stop, tsl), got %d", len(adapter.orders))
	}

	stopOrder := adapter.orders[1]
	if stopOrder.ExecInst != "ReduceOnly,LastPrice" {
		t.Fatalf("expected embedded stop leg to use ReduceOnly,LastPrice, got %q", stopOrder.ExecInst)
	}

	tslOrder := adapter.orders[2]
	if tslOrder.ExecInst != "ReduceOnly,LastPrice" {
		t.Fatalf("expected embedded tsl leg to use ReduceOnly,LastPrice, got %q", tslOrder.ExecInst)
	}
	if tslOrder.PegPriceType != "TrailingStopPeg" {
		t.Fatalf("expected tsl leg to use TrailingStopPeg, got %q", tslOrder.PegPriceType)
	}
	// BUY main, 2% trailing: stop trails below the reference price.
	wantStopPx := decimal.NewFromInt(49000) // 50000 * 0.98, rounded to 0.5 tick
	gotStopPx, _ := decimal.NewFromString(tslOrder.StopPx)
	if !gotStopPx.Equal(wantStopPx) {
		t.Fatalf("expected tsl stop price %s, got %s", wantStopPx, gotStopPx)
	}
}

func TestCreateOrderAbortsLegsAfterMainFailure(t *testing.T) {
	adapter, state := newFixture()
	o := New(adapter, state, bus.New(testLogger()), testLogger(), nil)

	main := &domain.Order{
		ClientOrderID: "main1",
		Symbol:        "UNKNOWN",
		Side:          domain.SideBuy,
		Type:          domain.OrderTypeLimit,
		Percent:       50,
		Leverage:      10,
	}
	stopPx := decimal.NewFromInt(49000)
	co := CompoundOrder{
		Main: main,
		Stop: &domain.Order{Symbol: "UNKNOWN", Side: domain.SideSell, Type: domain.OrderTypeStop, StopPrice: &stopPx, StopTriggerType: domain.TriggerLastPrice},
	}

	res := o.CreateOrder(context.Background(), "acct1", co)
	if res.Success {
		t.Fatalf("expected failure for unknown symbol")
	}
	if _, ok := res.Errors["main"]; !ok {
		t.Fatalf("expected a main leg error")
	}
	if _, ok := res.Legs["stop"]; ok {
		t.Fatalf("stop leg must not be attempted when main fails")
	}
	if len(adapter.orders) != 0 {
		t.Fatalf("expected no exchange calls at all, got %d", len(adapter.orders))
	}
}

func TestClosePositionReducesLong(t *testing.T) {
	adapter, state := newFixture()
	o := New(adapter, state, bus.New(testLogger()), testLogger(), nil)

	leg, err := o.ClosePosition(context.Background(), "acct1", "XBTUSD", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(adapter.orders) != 1 {
		t.Fatalf("expected one market order submitted")
	}
	if adapter.orders[0].Side != "Sell" {
		t.Fatalf("expected a long position to be closed by selling, got side %s", adapter.orders[0].Side)
	}
	_ = leg
}

func TestCancelOrderDelegatesToAdapter(t *testing.T) {
	adapter, state := newFixture()
	o := New(adapter, state, bus.New(testLogger()), testLogger(), nil)

	_, err := o.CancelOrder(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(adapter.cancelled) != 1 || adapter.cancelled[0] != "ord-1" {
		t.Fatalf("expected CancelOrder to delegate order id, got %v", adapter.cancelled)
	}
}
