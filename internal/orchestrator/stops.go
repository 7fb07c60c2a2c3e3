package orchestrator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bitmex-bridge/node/internal/domain"
	"github.com/bitmex-bridge/node/internal/exchange"
)

// oppositeSide returns the side a protective leg attaches with: closing a
// long means selling, closing a short means buying.
func oppositeSide(main domain.Side) domain.Side {
	if main == domain.SideBuy {
		return domain.SideSell
	}
	return domain.SideBuy
}

// referencePrice resolves the price a stop/trailing-stop triggers against,
// per spec.md §4.5 step 5: LAST_PRICE uses the ticker's protected last
// price, MARK_PRICE uses the ticker's mark price.
func referencePrice(trig domain.StopTriggerType, ticker domain.Symbol) decimal.Decimal {
	if trig == domain.TriggerMarkPrice {
		return ticker.MarkPrice
	}
	return ticker.LastPriceProtected
}

// triggerLabel maps a StopTriggerType to the wire token the exchange expects
// as the second component of execInst. TriggerNone and an unset trigger both
// fall back to LastPrice, the exchange's own default.
func triggerLabel(trig domain.StopTriggerType) string {
	if trig == domain.TriggerMarkPrice {
		return "MarkPrice"
	}
	return "LastPrice"
}

// execInstFor builds the execInst value for a protective leg. Embedded legs
// attached in the same call as their main order (reduceOnly) must not flip
// a flat position, so they ride ReduceOnly; legs attached standalone to an
// already-open position (the add_stop/add_tsl sub-flows) use Close, per
// spec.md §4.5 step 5.
func execInstFor(reduceOnly bool, trig domain.StopTriggerType) string {
	base := "Close"
	if reduceOnly {
		base = "ReduceOnly"
	}
	return base + "," + triggerLabel(trig)
}

// placeStop implements the attach-stop sub-flow: a Stop order on the
// opposite side of main sized to close it entirely, triggered off the
// configured reference price and rounded to the symbol's tick size
// (spec.md §4.5 step 5).
func (o *Orchestrator) placeStop(ctx context.Context, account string, main, stop *domain.Order, ticker domain.Symbol, mainQty decimal.Decimal, reduceOnly bool) (LegResult, error) {
	if err := stop.Validate(); err != nil {
		return LegResult{}, err
	}
	if stop.StopPrice == nil {
		return LegResult{}, fmt.Errorf("stop leg requires stop_price")
	}

	stopPx := ticker.RoundToTick(*stop.StopPrice)

	params := exchange.CreateOrderParams{
		Symbol:   ticker.Symbol,
		Side:     string(oppositeSide(main.Side)),
		Quantity: mainQty.Abs().String(),
		StopPx:   stopPx.String(),
		ExecInst: execInstFor(reduceOnly, stop.StopTriggerType),
		ClOrdID:  mangleClOrdID(main.ClientOrderID + "_stop"),
	}

	body, err := o.adapter.CreateLimitOrder(ctx, withOrderType(params, "Stop"))
	if err != nil {
		return LegResult{}, err
	}
	return legFromEcho(body)
}

// placeTsl implements the attach-trailing-stop sub-flow: the stop price is
// derived from the reference price offset by trailing_stop_percent in the
// direction that favors the position, submitted as a TrailingStopPeg order
// per spec.md §4.5 step 5.
func (o *Orchestrator) placeTsl(ctx context.Context, account string, main, tsl *domain.Order, ticker domain.Symbol, mainQty decimal.Decimal, reduceOnly bool) (LegResult, error) {
	if err := tsl.Validate(); err != nil {
		return LegResult{}, err
	}
	if tsl.TrailingStopPercent == nil {
		return LegResult{}, fmt.Errorf("tsl leg requires trailing_stop_percent")
	}

	ref := referencePrice(tsl.StopTriggerType, ticker)
	if ref.IsZero() {
		return LegResult{}, fmt.Errorf("no reference price available for trailing stop")
	}

	pct := tsl.TrailingStopPercent.DivRound(decimal.NewFromInt(100), 8)
	var factor decimal.Decimal
	if main.Side == domain.SideBuy {
		factor = decimal.NewFromInt(1).Sub(pct)
	} else {
		factor = decimal.NewFromInt(1).Add(pct)
	}

	stopPx := ticker.RoundToTick(ref.Mul(factor))
	pegOffset := stopPx.Sub(ref).Round(ticker.FractionalDigits())

	params := exchange.CreateOrderParams{
		Symbol:         ticker.Symbol,
		Side:           string(oppositeSide(main.Side)),
		Quantity:       mainQty.Abs().String(),
		StopPx:         stopPx.String(),
		ExecInst:       execInstFor(reduceOnly, tsl.StopTriggerType),
		PegPriceType:   "TrailingStopPeg",
		PegOffsetValue: pegOffset.String(),
		ClOrdID:        mangleClOrdID(main.ClientOrderID + "_tsl"),
	}

	body, err := o.adapter.CreateLimitOrder(ctx, withOrderType(params, "Stop"))
	if err != nil {
		return LegResult{}, err
	}
	return legFromEcho(body)
}

func withOrderType(p exchange.CreateOrderParams, orderType string) exchange.CreateOrderParams {
	p.OrderType = orderType
	return p
}
