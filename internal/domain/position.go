package domain

import "github.com/shopspring/decimal"

// Position is the account's exposure in a single symbol. First seen via a
// REST snapshot, merged from the stream thereafter, retained while the
// account is connected.
type Position struct {
	Symbol               string
	IsOpen               bool
	Currency             string
	Underlying           string
	QuoteCurrency        string
	Leverage             int64
	SimpleQuantity       decimal.Decimal
	CurrentQuantity      decimal.Decimal
	MarkPrice            decimal.Decimal
	Margin               decimal.Decimal
	MaintenanceMargin    decimal.Decimal
	AverageEntryPrice    decimal.Decimal
}

// Side derives the position's directional side from its signed quantity.
func (p Position) Side() Side {
	if p.CurrentQuantity.IsNegative() {
		return SideSell
	}
	return SideBuy
}

// DecodePosition parses a single position snapshot/delta from either wire
// shape.
func DecodePosition(raw []byte) (*Position, error) {
	m, err := decodeWireMap(raw)
	if err != nil {
		return nil, err
	}
	return decodePositionFromMap(m), nil
}

func decodePositionFromMap(m wireMap) *Position {
	p := &Position{
		Symbol:        pickString(m, "symbol"),
		IsOpen:        pickBool(m, "isOpen", "is_open"),
		Currency:      pickString(m, "currency"),
		Underlying:    pickString(m, "underlying"),
		QuoteCurrency: pickString(m, "quoteCurrency", "quote_currency"),
	}
	if lev, ok := pickInt(m, "leverage"); ok {
		p.Leverage = lev
	}
	if f, ok := pickFloat(m, "simpleQty", "simple_quantity"); ok {
		p.SimpleQuantity = decimal.NewFromFloat(f)
	}
	if f, ok := pickFloat(m, "currentQty", "current_quantity"); ok {
		p.CurrentQuantity = decimal.NewFromFloat(f)
	}
	if f, ok := pickFloat(m, "markPrice", "mark_price"); ok {
		p.MarkPrice = decimal.NewFromFloat(f)
	}
	if f, ok := pickFloat(m, "posMargin", "margin"); ok {
		p.Margin = decimal.NewFromFloat(f)
	}
	if f, ok := pickFloat(m, "maintMargin", "maintenance_margin"); ok {
		p.MaintenanceMargin = decimal.NewFromFloat(f)
	}
	if f, ok := pickFloat(m, "avgEntryPrice", "average_entry_price"); ok {
		p.AverageEntryPrice = decimal.NewFromFloat(f)
	}
	return p
}

// Merge applies last-write-wins field semantics, matching OrderState.Merge.
func (p Position) Merge(next Position) Position {
	merged := p
	if next.Currency != "" {
		merged.Currency = next.Currency
	}
	if next.Underlying != "" {
		merged.Underlying = next.Underlying
	}
	if next.QuoteCurrency != "" {
		merged.QuoteCurrency = next.QuoteCurrency
	}
	if next.Leverage != 0 {
		merged.Leverage = next.Leverage
	}
	if !next.SimpleQuantity.IsZero() {
		merged.SimpleQuantity = next.SimpleQuantity
	}
	if !next.CurrentQuantity.IsZero() {
		merged.CurrentQuantity = next.CurrentQuantity
		merged.IsOpen = !next.CurrentQuantity.IsZero()
	}
	if !next.MarkPrice.IsZero() {
		merged.MarkPrice = next.MarkPrice
	}
	if !next.Margin.IsZero() {
		merged.Margin = next.Margin
	}
	if !next.MaintenanceMargin.IsZero() {
		merged.MaintenanceMargin = next.MaintenanceMargin
	}
	if !next.AverageEntryPrice.IsZero() {
		merged.AverageEntryPrice = next.AverageEntryPrice
	}
	return merged
}
