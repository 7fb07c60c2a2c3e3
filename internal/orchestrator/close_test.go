package orchestrator

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bitmex-bridge/node/internal/bus"
	"github.com/bitmex-bridge/node/internal/domain"
)

func TestAttachStopUsesCloseExecInst(t *testing.T) {
	adapter, state := newFixture()
	o := New(adapter, state, bus.New(testLogger()), testLogger(), nil)

	stopPx := decimal.NewFromInt(49000)
	_, err := o.AttachStop(context.Background(), "acct1", "XBTUSD", &domain.Order{
		Symbol:          "XBTUSD",
		Side:            domain.SideSell,
		Type:            domain.OrderTypeStop,
		StopPrice:       &stopPx,
		StopTriggerType: domain.TriggerMarkPrice,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(adapter.orders) != 1 {
		t.Fatalf("expected one order submitted, got %d", len(adapter.orders))
	}
	if got := adapter.orders[0].ExecInst; got != "Close,MarkPrice" {
		t.Fatalf("expected standalone attach-stop to use Close,MarkPrice, got %q", got)
	}
}

func TestAttachTslUsesCloseExecInst(t *testing.T) {
	adapter, state := newFixture()
	o := New(adapter, state, bus.New(testLogger()), testLogger(), nil)

	tslPct := decimal.NewFromInt(2)
	_, err := o.AttachTsl(context.Background(), "acct1", "XBTUSD", &domain.Order{
		Symbol:              "XBTUSD",
		Side:                domain.SideSell,
		Type:                domain.OrderTypeStop,
		TrailingStopPercent: &tslPct,
		StopTriggerType:     domain.TriggerLastPrice,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(adapter.orders) != 1 {
		t.Fatalf("expected one order submitted, got %d", len(adapter.orders))
	}
	if got := adapter.orders[0].ExecInst; got != "Close,LastPrice" {
		t.Fatalf("expected standalone attach-tsl to use Close,LastPrice, got %q", got)
	}
}
