package orchestrator

import "github.com/shopspring/decimal"

// contractMultipliers is the fixed table spec.md §4.5 calls for, sourced
// from the original implementation's CONTRACT_VALUE_MULTIPLIERS constant:
// a symbol whose underlying isn't XBT values its contracts at
// price * multiplier rather than 1/price.
var contractMultipliers = map[string]decimal.Decimal{
	"ETHUSD": decimal.NewFromFloat(0.001).Mul(decimal.NewFromFloat(0.001)), // 1e-6
}

const defaultMultiplier = 1

// symbolValueInXBT implements spec.md §4.5 step 4's "symbol_value_in_XBT":
// 1/price when the instrument's underlying is XBT, else price*multiplier from
// the fixed table (default multiplier 1 for anything not listed).
func symbolValueInXBT(symbol, underlying string, price decimal.Decimal) decimal.Decimal {
	if underlying == "XBT" {
		if price.IsZero() {
			return decimal.Zero
		}
		return decimal.NewFromInt(1).DivRound(price, 16)
	}
	multiplier, ok := contractMultipliers[symbol]
	if !ok {
		multiplier = decimal.NewFromInt(defaultMultiplier)
	}
	return price.Mul(multiplier)
}

// quantityForOrder implements spec.md §4.5 step 4's quantity formula:
//
//	margin_to_spend = round(fraction * available_margin, 8)
//	quantity = floor(margin_to_spend * leverage / symbol_value_in_XBT)
func quantityForOrder(available decimal.Decimal, percent, leverage int64, symbol, underlying string, price decimal.Decimal) decimal.Decimal {
	if percent <= 0 {
		return decimal.Zero
	}
	fraction := decimal.NewFromInt(percent).DivRound(decimal.NewFromInt(100), 8)
	marginToSpend := fraction.Mul(available).Round(8)

	value := symbolValueInXBT(symbol, underlying, price)
	if value.IsZero() {
		return decimal.Zero
	}
	return marginToSpend.Mul(decimal.NewFromInt(leverage)).DivRound(value, 16).Floor()
}

// closeQuantity implements the close-position sub-flow's quantity formula:
// -1 * max_or_min(1, round(percent * current_quantity) / 100), using max
// for a long position and min for a short one, so at least one contract
// is always closed.
func closeQuantity(percent int64, currentQuantity decimal.Decimal) decimal.Decimal {
	raw := decimal.NewFromInt(percent).Mul(currentQuantity).Round(0).DivRound(decimal.NewFromInt(100), 8)

	one := decimal.NewFromInt(1)
	var bounded decimal.Decimal
	if currentQuantity.IsPositive() {
		bounded = decimal.Max(one, raw)
	} else {
		bounded = decimal.Min(one.Neg(), raw)
	}
	return bounded.Neg()
}
