package rules

import (
	"github.com/shopspring/decimal"
)

// FloorToIncrement rounds value down to a multiple of inc. A zero or
// negative increment returns the value unchanged.
func FloorToIncrement(value, inc decimal.Decimal) decimal.Decimal {
	if inc.Sign() <= 0 {
		return value
	}
	return value.Div(inc).Floor().Mul(inc)
}

// RoundPrice floors a price to the symbol's tick size.
func (r SymbolRules) RoundPrice(price decimal.Decimal) decimal.Decimal {
	return FloorToIncrement(price, r.TickSize)
}

// RoundQty floors a quantity to the applicable step size.
func (r SymbolRules) RoundQty(qty decimal.Decimal, isMarket bool) decimal.Decimal {
	step, _, _ := r.LotFor(isMarket)
	return FloorToIncrement(qty, step)
}
