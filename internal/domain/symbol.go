package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// SymbolState is the exchange instrument's lifecycle state. Only "Open"
// symbols are retained in the tickers set (spec.md §4.4).
const SymbolStateOpen = "Open"

// Symbol is a tradeable instrument (BitMEX calls it an "instrument").
type Symbol struct {
	Symbol               string
	State                string
	SettleCurrency       string
	QuoteCurrency        string
	Underlying           string
	MarkPrice            decimal.Decimal
	LotSize              decimal.Decimal
	MaxPrice             decimal.Decimal
	MaxOrderQty          decimal.Decimal
	TickSize             decimal.Decimal
	LastPriceProtected   decimal.Decimal
}

// IsOpen reports whether the symbol is currently tradeable.
func (s Symbol) IsOpen() bool {
	return s.State == SymbolStateOpen
}

// FractionalDigits derives the decimal exponent implied by TickSize, e.g.
// TickSize=0.5 → 1 digit, TickSize=0.01 → 2 digits. Clamped to [0, 8]
// because BitMEX-class exchanges never quote finer than satoshi precision.
func (s Symbol) FractionalDigits() int32 {
	tick, _ := s.TickSize.Float64()
	if tick <= 0 {
		return 0
	}
	digits := -int(math.Floor(math.Log10(tick) + 1e-9))
	if digits < 0 {
		digits = 0
	}
	if digits > 8 {
		digits = 8
	}
	return int32(digits)
}

// RoundToTick rounds price down to the nearest TickSize multiple at the
// symbol's fractional precision, per spec.md §4.5 step 5 (stopPx rounding).
func (s Symbol) RoundToTick(price decimal.Decimal) decimal.Decimal {
	if s.TickSize.IsZero() {
		return price.Round(s.FractionalDigits())
	}
	ticks := price.Div(s.TickSize).Floor()
	return ticks.Mul(s.TickSize).Round(s.FractionalDigits())
}

// DecodeSymbol parses an instrument snapshot from either wire shape.
func DecodeSymbol(raw []byte) (*Symbol, error) {
	m, err := decodeWireMap(raw)
	if err != nil {
		return nil, err
	}
	return decodeSymbolFromMap(m), nil
}

func decodeSymbolFromMap(m wireMap) *Symbol {
	s := &Symbol{
		Symbol:         pickString(m, "symbol"),
		State:          pickString(m, "state"),
		SettleCurrency: pickString(m, "settlCurrency", "settle_currency"),
		QuoteCurrency:  pickString(m, "quoteCurrency", "quote_currency"),
		Underlying:     pickString(m, "underlying"),
	}
	if f, ok := pickFloat(m, "markPrice", "mark_price"); ok {
		s.MarkPrice = decimal.NewFromFloat(f)
	}
	if f, ok := pickFloat(m, "lotSize", "lot_size"); ok {
		s.LotSize = decimal.NewFromFloat(f)
	}
	if f, ok := pickFloat(m, "maxPrice", "max_price"); ok {
		s.MaxPrice = decimal.NewFromFloat(f)
	}
	if f, ok := pickFloat(m, "maxOrderQty", "max_order_qty"); ok {
		s.MaxOrderQty = decimal.NewFromFloat(f)
	}
	if f, ok := pickFloat(m, "tickSize", "tick_size"); ok {
		s.TickSize = decimal.NewFromFloat(f)
	}
	if f, ok := pickFloat(m, "lastPriceProtected", "last_price_protected"); ok {
		s.LastPriceProtected = decimal.NewFromFloat(f)
	}
	return s
}
