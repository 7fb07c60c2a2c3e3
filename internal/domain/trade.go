package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderState (a.k.a. Trade) is the exchange's view of an order's lifecycle,
// built from its first echo and merged field-by-field from subsequent
// echoes (last-write-wins per field, see Merge).
type OrderState struct {
	OrderID             string
	Symbol              string
	Side                Side
	Type                OrderType
	Status              string
	OrderQty            decimal.Decimal
	FilledQty           decimal.Decimal
	Price               *decimal.Decimal
	AvgPrice            *decimal.Decimal
	ClientOrderID       string
	ClientOrderLinkID   string
	PegPriceType        string
	PegOffsetValue      *decimal.Decimal
	Text                string
	StopPrice           *decimal.Decimal
	Timestamp           time.Time
}

// DecodeOrderState parses a single exchange order echo, tolerating both the
// exchange-native and internal wire shapes.
func DecodeOrderState(raw []byte) (*OrderState, error) {
	m, err := decodeWireMap(raw)
	if err != nil {
		return nil, err
	}
	return decodeOrderStateFromMap(m), nil
}

func decodeOrderStateFromMap(m wireMap) *OrderState {
	t := &OrderState{
		OrderID:           pickString(m, "orderID", "orderId", "order_id"),
		Symbol:            pickString(m, "symbol"),
		Side:              Side(pickString(m, "side")),
		Type:              OrderType(pickString(m, "ordType", "orderType", "order_type")),
		Status:            pickString(m, "ordStatus", "status"),
		ClientOrderID:     pickString(m, "clOrdID", "clOrderId", "client_order_id"),
		ClientOrderLinkID: pickString(m, "clOrdLinkID", "clOrderLinkId", "client_order_link_id"),
		PegPriceType:      pickString(m, "pegPriceType", "peg_price_type"),
		Text:              pickString(m, "text"),
	}

	orderQty, hasOrderQty := pickFloat(m, "orderQty", "order_qty")
	if hasOrderQty {
		t.OrderQty = decimal.NewFromFloat(orderQty)
	}
	leavesQty, hasLeaves := pickFloat(m, "leavesQty", "leaves_qty")
	if hasOrderQty && hasLeaves {
		t.FilledQty = t.OrderQty.Sub(decimal.NewFromFloat(leavesQty))
	} else if filled, ok := pickFloat(m, "filledQty", "filled_qty"); ok {
		t.FilledQty = decimal.NewFromFloat(filled)
	}

	if f, ok := pickFloat(m, "price"); ok {
		d := decimal.NewFromFloat(f)
		t.Price = &d
	}
	if f, ok := pickFloat(m, "avgPx", "avgPrice", "avg_price"); ok {
		d := decimal.NewFromFloat(f)
		t.AvgPrice = &d
	}
	if f, ok := pickFloat(m, "pegOffsetValue", "peg_offset_value"); ok {
		d := decimal.NewFromFloat(f)
		t.PegOffsetValue = &d
	}
	if f, ok := pickFloat(m, "stopPx", "stopPrice", "stop_price"); ok {
		d := decimal.NewFromFloat(f)
		t.StopPrice = &d
	}
	if ts := pickString(m, "timestamp", "transactTime"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			t.Timestamp = parsed
		}
	}
	return t
}

// Merge applies last-write-wins field semantics: a field present in next
// overwrites the corresponding field in t; an absent/zero field in next
// leaves t's value untouched. Used by the State Store on every SaveTrades
// / SaveOrder call.
func (t OrderState) Merge(next OrderState) OrderState {
	merged := t
	if next.Symbol != "" {
		merged.Symbol = next.Symbol
	}
	if next.Side != "" {
		merged.Side = next.Side
	}
	if next.Type != "" {
		merged.Type = next.Type
	}
	if next.Status != "" {
		merged.Status = next.Status
	}
	if !next.OrderQty.IsZero() {
		merged.OrderQty = next.OrderQty
	}
	if !next.FilledQty.IsZero() {
		merged.FilledQty = next.FilledQty
	}
	if next.Price != nil {
		merged.Price = next.Price
	}
	if next.AvgPrice != nil {
		merged.AvgPrice = next.AvgPrice
	}
	if next.ClientOrderID != "" {
		merged.ClientOrderID = next.ClientOrderID
	}
	if next.ClientOrderLinkID != "" {
		merged.ClientOrderLinkID = next.ClientOrderLinkID
	}
	if next.PegPriceType != "" {
		merged.PegPriceType = next.PegPriceType
	}
	if next.PegOffsetValue != nil {
		merged.PegOffsetValue = next.PegOffsetValue
	}
	if next.Text != "" {
		merged.Text = next.Text
	}
	if next.StopPrice != nil {
		merged.StopPrice = next.StopPrice
	}
	if !next.Timestamp.IsZero() {
		merged.Timestamp = next.Timestamp
	}
	return merged
}
