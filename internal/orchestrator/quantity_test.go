package orchestrator

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestQuantityForOrderXBTUnderlying(t *testing.T) {
	available := decimal.NewFromFloat(1.0)
	price := decimal.NewFromInt(50000)

	got := quantityForOrder(available, 50, 10, "XBTUSD", "XBT", price)
	want := decimal.NewFromInt(250000)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestQuantityForOrderNonXBTUnderlyingUsesMultiplierTable(t *testing.T) {
	available := decimal.NewFromFloat(10.0)
	price := decimal.NewFromInt(3000)

	got := quantityForOrder(available, 100, 1, "ETHUSD", "ETH", price)
	// value = price * 1e-6 = 0.003; quantity = floor(10 * 1 / 0.003)
	want := decimal.NewFromInt(3333)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestQuantityForOrderZeroPercentYieldsZero(t *testing.T) {
	got := quantityForOrder(decimal.NewFromInt(1), 0, 10, "XBTUSD", "XBT", decimal.NewFromInt(50000))
	if !got.IsZero() {
		t.Fatalf("expected zero quantity for 0%%, got %s", got)
	}
}

func TestCloseQuantityBoundsToAtLeastOneContract(t *testing.T) {
	// a tiny 1% close of a 10-contract long must still close at least 1.
	got := closeQuantity(1, decimal.NewFromInt(10))
	if !got.Equal(decimal.NewFromInt(-1)) {
		t.Fatalf("expected -1, got %s", got)
	}
}

func TestCloseQuantityShortPositionSign(t *testing.T) {
	got := closeQuantity(100, decimal.NewFromInt(-500))
	if !got.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected 500 (buy to close a short), got %s", got)
	}
}
