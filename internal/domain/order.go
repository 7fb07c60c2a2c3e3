package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the exchange order type.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeStop   OrderType = "STOP"
)

// StopTriggerType names the reference price a stop order triggers against.
type StopTriggerType string

const (
	TriggerLastPrice StopTriggerType = "LAST_PRICE"
	TriggerMarkPrice StopTriggerType = "MARK_PRICE"
	TriggerNone      StopTriggerType = "NONE"
)

// Order is the immutable request to place a single leg of a compound order.
// It is constructed from an inbound command and never mutated after
// placement; exchange echoes are tracked as Trade/OrderState instead.
type Order struct {
	ID                   string
	ClientOrderID        string
	Symbol               string
	Side                 Side
	Type                 OrderType
	CloseOrder           bool
	Percent              int64
	Leverage             int64
	Price                *decimal.Decimal
	StopPrice            *decimal.Decimal
	StopTriggerType      StopTriggerType
	TrailingStopPercent  *decimal.Decimal
}

// Validate enforces the invariants spec.md §3 states for Order: STOP orders
// require a stop price, trailing orders require a trailing percent and a
// real trigger type.
func (o Order) Validate() error {
	if o.Type == OrderTypeStop && o.StopPrice == nil {
		return fmt.Errorf("stop order requires stop_price")
	}
	if o.TrailingStopPercent != nil {
		if o.StopTriggerType == "" || o.StopTriggerType == TriggerNone {
			return fmt.Errorf("trailing order requires a valid stop_trigger_type")
		}
	}
	return nil
}

// DecodeOrder accepts either wire shape (exchange-native camelCase inbound
// from echoes, or internal snake_case inbound from AMQP commands) and
// returns a typed Order. Unrecognized/missing required fields yield an
// error rather than a best-effort partial object, per spec.md §9.
func DecodeOrder(raw []byte) (*Order, error) {
	m, err := decodeWireMap(raw)
	if err != nil {
		return nil, err
	}
	return decodeOrderFromMap(m)
}

func decodeOrderFromMap(m wireMap) (*Order, error) {
	o := &Order{
		ID:             pickString(m, "orderId", "order_id", "id"),
		ClientOrderID:  pickString(m, "clOrderId", "cl_order_id", "clientOrderId", "client_order_id"),
		Symbol:         pickString(m, "symbol"),
		Side:           Side(pickString(m, "side")),
		Type:           OrderType(pickString(m, "orderType", "order_type", "type")),
		CloseOrder:     pickBool(m, "closeOrder", "close_order"),
	}

	if percent, ok := pickInt(m, "percent"); ok {
		o.Percent = percent
	}
	if leverage, ok := pickInt(m, "leverage"); ok {
		o.Leverage = leverage
	}
	if f, ok := pickFloat(m, "price"); ok {
		d := decimal.NewFromFloat(f)
		o.Price = &d
	}
	if f, ok := pickFloat(m, "stopPrice", "stop_price"); ok {
		d := decimal.NewFromFloat(f)
		o.StopPrice = &d
	}
	if trig := pickString(m, "stopTriggerType", "stop_trigger_type", "stopTriggerPriceType"); trig != "" {
		o.StopTriggerType = StopTriggerType(trig)
	}
	if f, ok := pickFloat(m, "trailingStopPercent", "trailing_stop_percent", "tslPercent"); ok {
		d := decimal.NewFromFloat(f)
		o.TrailingStopPercent = &d
	}

	if o.Symbol == "" {
		return nil, fmt.Errorf("order missing symbol")
	}
	return o, nil
}
