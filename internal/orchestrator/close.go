package orchestrator

import (
	"context"
	"fmt"

	"github.com/bitmex-bridge/node/internal/domain"
	"github.com/bitmex-bridge/node/internal/exchange"
)

// ClosePosition implements the position_close_cmd sub-flow (spec.md §4.5):
// reduce (or fully unwind, percent=100) the account's open position in
// symbol with a market order carrying execInst "Close", sized off
// closeQuantity's max/min-bounded formula.
func (o *Orchestrator) ClosePosition(ctx context.Context, account, symbol string, percent int64) (LegResult, error) {
	_, ticker, err := o.resolveTicker(ctx, account, symbol)
	if err != nil {
		return LegResult{}, err
	}

	position, ok, err := o.state.GetPosition(ctx, account, symbol)
	if err != nil {
		return LegResult{}, fmt.Errorf("position lookup: %w", err)
	}
	if !ok || position.CurrentQuantity.IsZero() {
		return LegResult{}, fmt.Errorf("no open position in %s", symbol)
	}

	qty := closeQuantity(percent, position.CurrentQuantity)
	side := "Sell"
	if qty.IsPositive() {
		side = "Buy"
	}

	params := exchange.CreateOrderParams{
		Symbol:   ticker.Symbol,
		Side:     side,
		Quantity: qty.Abs().String(),
		ExecInst: "Close",
	}

	body, err := o.adapter.CreateMarketOrder(ctx, params)
	if err != nil {
		return LegResult{}, err
	}
	return legFromEcho(body)
}

// positionAsMain builds the synthetic "main" leg placeStop/placeTsl key
// their sizing and side off: an already-open position rather than a leg
// just placed in the same call, for the standalone add_stop/add_tsl
// sub-flows (spec.md §4.5) that attach protection to an existing position.
func positionAsMain(position domain.Position) *domain.Order {
	return &domain.Order{
		Symbol:        position.Symbol,
		Side:          position.Side(),
		ClientOrderID: position.Symbol,
	}
}

// AttachStop implements the position_add_stop_cmd sub-flow: attach a Stop
// order to the account's existing open position in symbol, without placing
// a new entry leg.
func (o *Orchestrator) AttachStop(ctx context.Context, account, symbol string, stop *domain.Order) (LegResult, error) {
	_, ticker, err := o.resolveTicker(ctx, account, symbol)
	if err != nil {
		return LegResult{}, err
	}
	position, ok, err := o.state.GetPosition(ctx, account, symbol)
	if err != nil {
		return LegResult{}, fmt.Errorf("position lookup: %w", err)
	}
	if !ok || position.CurrentQuantity.IsZero() {
		return LegResult{}, fmt.Errorf("no open position in %s", symbol)
	}
	return o.placeStop(ctx, account, positionAsMain(position), stop, ticker, position.CurrentQuantity, false)
}

// AttachTsl implements the position_add_tsl_cmd sub-flow: attach a
// TrailingStopPeg order to the account's existing open position in symbol.
func (o *Orchestrator) AttachTsl(ctx context.Context, account, symbol string, tsl *domain.Order) (LegResult, error) {
	_, ticker, err := o.resolveTicker(ctx, account, symbol)
	if err != nil {
		return LegResult{}, err
	}
	position, ok, err := o.state.GetPosition(ctx, account, symbol)
	if err != nil {
		return LegResult{}, fmt.Errorf("position lookup: %w", err)
	}
	if !ok || position.CurrentQuantity.IsZero() {
		return LegResult{}, fmt.Errorf("no open position in %s", symbol)
	}
	return o.placeTsl(ctx, account, positionAsMain(position), tsl, ticker, position.CurrentQuantity, false)
}

// CancelOrder implements the cancel_order_cmd sub-flow: a direct pass
// through to the adapter with the exchange order id the caller supplies.
// No lookup by client order id is made; the order queue manager answers
// WrongOrder when a cancel body carries no order id.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID string) (LegResult, error) {
	body, err := o.adapter.CancelOrder(ctx, orderID)
	if err != nil {
		return LegResult{}, err
	}
	return legFromEcho(body)
}
