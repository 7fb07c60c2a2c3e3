// Package orchestrator implements the compound-order pipeline (spec.md
// §4.5): the sequencing, quantity math, and clOrdID bookkeeping that turns
// one inbound create_order_cmd into a leveraged main leg plus optional
// stop-loss and trailing-stop legs on the exchange.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bitmex-bridge/node/internal/bus"
	"github.com/bitmex-bridge/node/internal/domain"
	"github.com/bitmex-bridge/node/internal/exchange"
	"github.com/bitmex-bridge/node/internal/metrics"
)

// Adapter is the exchange surface the orchestrator drives. exchange.Client
// satisfies it; tests substitute a fake.
type Adapter interface {
	SetPositionLeverage(ctx context.Context, symbol string, leverage int64) ([]byte, error)
	CreateLimitOrder(ctx context.Context, p exchange.CreateOrderParams) ([]byte, error)
	CreateMarketOrder(ctx context.Context, p exchange.CreateOrderParams) ([]byte, error)
	CancelOrder(ctx context.Context, orderID string) ([]byte, error)
}

// StateReader is the read side of the State Store the orchestrator needs
// to resolve current margin, ticker, and position data before placing
// orders, per spec.md §4.5 steps 2-4.
type StateReader interface {
	GetMargin(ctx context.Context, account, currency string) (domain.Margin, bool, error)
	GetTicker(ctx context.Context, account, symbol string) (domain.Symbol, bool, error)
	GetPosition(ctx context.Context, account, symbol string) (domain.Position, bool, error)
}

// CompoundOrder is one inbound create_order_cmd: a required main leg plus
// optional stop and trailing-stop legs attached to the same position.
type CompoundOrder struct {
	Main *domain.Order
	Stop *domain.Order
	Tsl  *domain.Order
}

// LegResult is the projection of one exchange order echo returned to the
// caller, per spec.md §4.5's response shape. Field names and JSON tags
// follow the response projection spec.md §4.5/§102 names verbatim.
type LegResult struct {
	OrderID           string           `json:"orderId"`
	ClientOrderID     string           `json:"clOrderId"`
	ClientOrderLinkID string           `json:"clOrderLinkId"`
	Status            string           `json:"status"`
	OrderQty          decimal.Decimal  `json:"orderQty"`
	FilledQty         decimal.Decimal  `json:"filledQty"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	AvgPrice          *decimal.Decimal `json:"avgPrice,omitempty"`
	StopPrice         *decimal.Decimal `json:"stopPrice,omitempty"`
	PegOffsetValue    *decimal.Decimal `json:"pegOffsetValue,omitempty"`
	Timestamp         time.Time        `json:"timestamp"`
}

// Result is the compound order's overall outcome: Success is true only
// when every attempted leg placed; Errors holds a message per failed leg
// keyed the same way as Legs ("main", "stop", "tsl").
type Result struct {
	Success bool
	Legs    map[string]LegResult
	Errors  map[string]string
}

// Orchestrator sequences compound order placement per spec.md §4.5:
// validate -> look up ticker -> set leverage -> look up available margin
// -> place main -> attach stop -> attach tsl. A failure at or before the
// main leg stops every later step; a stop or tsl failure does not stop
// the other protective leg.
type Orchestrator struct {
	adapter Adapter
	state   StateReader
	bus     *bus.Bus
	logger  *slog.Logger
	metric  *metrics.Metrics
}

// New constructs an Orchestrator. metric may be nil, in which case per-leg
// error counts are skipped (used by tests that build an Orchestrator
// directly).
func New(adapter Adapter, state StateReader, b *bus.Bus, logger *slog.Logger, metric *metrics.Metrics) *Orchestrator {
	return &Orchestrator{adapter: adapter, state: state, bus: b, logger: logger, metric: metric}
}

// recordLegError increments OrchestratorErrors for leg.
func (o *Orchestrator) recordLegError(leg string) {
	if o.metric != nil {
		o.metric.OrchestratorErrors.WithLabelValues(leg).Inc()
	}
}

// CreateOrder runs the full compound pipeline for account against co.
// Each leg's failure is isolated in Result.Errors. A failure on the main
// leg, or on any step before it, aborts the stop and tsl legs; once main
// is placed, the stop and tsl legs are each attempted regardless of how
// the other one fared.
func (o *Orchestrator) CreateOrder(ctx context.Context, account string, co CompoundOrder) Result {
	res := Result{Success: true, Legs: map[string]LegResult{}, Errors: map[string]string{}}

	if co.Main == nil {
		res.Success = false
		res.Errors["main"] = "compound order requires a main leg"
		o.recordLegError("main")
		return res
	}
	if err := co.Main.Validate(); err != nil {
		res.Success = false
		res.Errors["main"] = err.Error()
		o.recordLegError("main")
		return res
	}

	symbol, ticker, err := o.resolveTicker(ctx, account, co.Main.Symbol)
	if err != nil {
		res.Success = false
		res.Errors["main"] = err.Error()
		o.recordLegError("main")
		return res
	}

	if co.Main.Leverage > 0 {
		if _, err := o.adapter.SetPositionLeverage(ctx, symbol, co.Main.Leverage); err != nil {
			res.Success = false
			res.Errors["main"] = fmt.Sprintf("set leverage: %v", err)
			o.recordLegError("main")
			return res
		}
	}

	mainLeg, err := o.placeMain(ctx, account, co.Main, ticker)
	if err != nil {
		res.Success = false
		res.Errors["main"] = err.Error()
		o.recordLegError("main")
		o.bus.Publish(bus.OrderPlacedEvent, account, false, err.Error())
		return res
	}
	res.Legs["main"] = mainLeg
	o.bus.Publish(bus.OrderPlacedEvent, account, true, mainLeg)

	if co.Stop != nil {
		stopLeg, err := o.placeStop(ctx, account, co.Main, co.Stop, ticker, mainLeg.OrderQty, true)
		if err != nil {
			res.Success = false
			res.Errors["stop"] = err.Error()
			o.recordLegError("stop")
		} else {
			res.Legs["stop"] = stopLeg
		}
	}

	if co.Tsl != nil {
		tslLeg, err := o.placeTsl(ctx, account, co.Main, co.Tsl, ticker, mainLeg.OrderQty, true)
		if err != nil {
			res.Success = false
			res.Errors["tsl"] = err.Error()
			o.recordLegError("tsl")
		} else {
			res.Legs["tsl"] = tslLeg
		}
	}

	return res
}

func (o *Orchestrator) resolveTicker(ctx context.Context, account, symbol string) (string, domain.Symbol, error) {
	ticker, ok, err := o.state.GetTicker(ctx, account, symbol)
	if err != nil {
		return symbol, domain.Symbol{}, fmt.Errorf("ticker lookup: %w", err)
	}
	if !ok {
		return symbol, domain.Symbol{}, fmt.Errorf("unknown symbol %s", symbol)
	}
	return symbol, ticker, nil
}

// placeMain implements spec.md §4.5 steps 2-5: resolve the spend currency
// from the symbol's settlement currency, compute quantity off available
// margin, mangle the clOrdID, and submit a LIMIT or MARKET order.
func (o *Orchestrator) placeMain(ctx context.Context, account string, main *domain.Order, ticker domain.Symbol) (LegResult, error) {
	margin, _, err := o.state.GetMargin(ctx, account, ticker.SettleCurrency)
	if err != nil {
		return LegResult{}, fmt.Errorf("margin lookup: %w", err)
	}

	price := ticker.LastPriceProtected
	if main.Price != nil {
		price = *main.Price
	}

	qty := quantityForOrder(margin.Available, main.Percent, main.Leverage, ticker.Symbol, ticker.Underlying, price)
	if qty.IsZero() {
		return LegResult{}, fmt.Errorf("computed zero order quantity")
	}

	clOrdID := mangleClOrdID(main.ClientOrderID)
	params := exchange.CreateOrderParams{
		Symbol:  ticker.Symbol,
		Side:    string(main.Side),
		ClOrdID: clOrdID,
	}

	var body []byte
	if main.Type == domain.OrderTypeMarket {
		body, err = o.adapter.CreateMarketOrder(ctx, withQuantity(params, qty))
	} else {
		roundedPrice := ticker.RoundToTick(price)
		params.Price = roundedPrice.String()
		body, err = o.adapter.CreateLimitOrder(ctx, withQuantity(params, qty))
	}
	if err != nil {
		return LegResult{}, err
	}
	return legFromEcho(body)
}

func withQuantity(p exchange.CreateOrderParams, qty decimal.Decimal) exchange.CreateOrderParams {
	p.Quantity = qty.String()
	return p
}

func legFromEcho(body []byte) (LegResult, error) {
	state, err := domain.DecodeOrderState(body)
	if err != nil {
		return LegResult{}, fmt.Errorf("decode order echo: %w", err)
	}
	return LegResult{
		OrderID:           state.OrderID,
		ClientOrderID:     demangleClOrdID(state.ClientOrderID),
		ClientOrderLinkID: state.ClientOrderLinkID,
		Status:            state.Status,
		OrderQty:          state.OrderQty,
		FilledQty:         state.FilledQty,
		Price:             state.Price,
		AvgPrice:          state.AvgPrice,
		StopPrice:         state.StopPrice,
		PegOffsetValue:    state.PegOffsetValue,
		Timestamp:         state.Timestamp,
	}, nil
}
