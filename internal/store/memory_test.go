package store

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bitmex-bridge/node/internal/domain"
)

func TestMemoryStoreMarginMergeArithmetic(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	first := domain.Margin{Currency: "XBt", Balance: decimal.NewFromFloat(1.0), Used: decimal.NewFromFloat(0.1)}
	if err := s.SaveMargin(ctx, "acct", first); err != nil {
		t.Fatal(err)
	}

	second := domain.Margin{Currency: "XBt", Balance: decimal.NewFromFloat(1.2)}
	if err := s.SaveMargin(ctx, "acct", second); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.GetMargin(ctx, "acct", "XBt")
	if err != nil || !ok {
		t.Fatalf("get margin: ok=%v err=%v", ok, err)
	}
	if !got.Balance.Equal(decimal.NewFromFloat(1.2)) {
		t.Fatalf("expected retained+updated balance 1.2, got %s", got.Balance)
	}
	if !got.Used.Equal(decimal.NewFromFloat(0.1)) {
		t.Fatalf("expected retained used 0.1, got %s", got.Used)
	}
	wantAvailable := decimal.NewFromFloat(1.1)
	if !got.Available.Equal(wantAvailable) {
		t.Fatalf("expected available %s, got %s", wantAvailable, got.Available)
	}
}

func TestMemoryStoreOrderMergeLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	first := domain.OrderState{OrderID: "o1", Status: "New", OrderQty: decimal.NewFromInt(100)}
	if err := s.SaveOrder(ctx, "acct", first); err != nil {
		t.Fatal(err)
	}
	second := domain.OrderState{OrderID: "o1", Status: "Filled"}
	if err := s.SaveOrder(ctx, "acct", second); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.GetOrder(ctx, "acct", "o1")
	if err != nil || !ok {
		t.Fatalf("get order: ok=%v err=%v", ok, err)
	}
	if got.Status != "Filled" {
		t.Fatalf("expected status Filled, got %s", got.Status)
	}
	if !got.OrderQty.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected retained order qty 100, got %s", got.OrderQty)
	}
}

func TestMemoryStoreTickerFiltersClosedSymbols(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	open := domain.Symbol{Symbol: "XBTUSD", State: domain.SymbolStateOpen}
	closed := domain.Symbol{Symbol: "XBTZ25", State: "Settled"}
	if err := s.SaveTicker(ctx, "acct", open); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveTicker(ctx, "acct", closed); err != nil {
		t.Fatal(err)
	}

	tickers, err := s.GetTickers(ctx, "acct")
	if err != nil {
		t.Fatal(err)
	}
	if len(tickers) != 1 || tickers[0].Symbol != "XBTUSD" {
		t.Fatalf("expected only XBTUSD retained, got %+v", tickers)
	}
}
