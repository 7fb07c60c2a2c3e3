package domain

import "github.com/shopspring/decimal"

// satoshiScale is the divisor applied once at ingest to raw exchange
// integer units (spec.md §3: "canonical units after dividing raw
// satoshi-like units by 10^8").
var satoshiScale = decimal.New(1, 8)

// Margin is the account's balance in one settlement currency.
// Invariant: Available == Balance - Used.
type Margin struct {
	Currency  string
	Balance   decimal.Decimal
	Used      decimal.Decimal
	Available decimal.Decimal
}

// DecodeMargin parses a wallet/margin snapshot, scaling raw integer units
// down by 1e8 and rounding to 8 decimal places.
func DecodeMargin(raw []byte) (*Margin, error) {
	m, err := decodeWireMap(raw)
	if err != nil {
		return nil, err
	}
	return decodeMarginFromMap(m), nil
}

func decodeMarginFromMap(m wireMap) *Margin {
	currency := pickString(m, "currency")

	balance := decimal.Zero
	if f, ok := pickFloat(m, "availableMargin", "available_margin"); ok {
		balance = scale(f)
	} else if f, ok := pickFloat(m, "marginBalance", "margin_balance"); ok {
		balance = scale(f)
	} else if f, ok := pickFloat(m, "balance"); ok {
		balance = decimal.NewFromFloat(f).Round(8)
	}

	used := decimal.Zero
	if f, ok := pickFloat(m, "maintMargin", "maintenance_margin"); ok {
		used = scale(f)
	} else if f, ok := pickFloat(m, "used"); ok {
		used = decimal.NewFromFloat(f).Round(8)
	}

	return &Margin{
		Currency:  currency,
		Balance:   balance,
		Used:      used,
		Available: balance.Sub(used).Round(8),
	}
}

func scale(raw float64) decimal.Decimal {
	return decimal.NewFromFloat(raw).Div(satoshiScale).Round(8)
}

// Merge applies the margin-specific arithmetic merge from spec.md §4.2:
// balance is the newer of availableMargin/marginBalance; used is
// maintMargin if provided, else retained; available is recomputed.
func (m Margin) Merge(next Margin) Margin {
	merged := m
	if next.Currency != "" {
		merged.Currency = next.Currency
	}
	if !next.Balance.IsZero() {
		merged.Balance = next.Balance
	}
	if !next.Used.IsZero() {
		merged.Used = next.Used
	}
	merged.Available = merged.Balance.Sub(merged.Used).Round(8)
	return merged
}
