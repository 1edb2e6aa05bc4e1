package rules

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidateQuantity floors qty to the applicable step and checks it against
// the lot-size bounds. The rounded quantity is returned so callers submit
// exactly what was validated.
func (r SymbolRules) ValidateQuantity(qty decimal.Decimal, isMarket bool) (decimal.Decimal, error) {
	if qty.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("quantity must be greater than 0")
	}
	step, min, max := r.LotFor(isMarket)
	rounded := FloorToIncrement(qty, step)
	if rounded.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("quantity %s rounds to 0 at step size %s", qty, step)
	}
	if rounded.LessThan(min) {
		return decimal.Zero, fmt.Errorf("quantity %s is below minimum %s", rounded, min)
	}
	if rounded.GreaterThan(max) {
		return decimal.Zero, fmt.Errorf("quantity %s exceeds maximum %s", rounded, max)
	}
	return rounded, nil
}

// ValidatePrice floors price to the tick size and rejects non-positive
// inputs or prices that vanish after rounding.
func (r SymbolRules) ValidatePrice(price decimal.Decimal) (decimal.Decimal, error) {
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("price must be greater than 0")
	}
	rounded := r.RoundPrice(price)
	if rounded.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("price %s rounds to 0 at tick size %s", price, r.TickSize)
	}
	return rounded, nil
}

// CheckNotional verifies price*qty clears the minimum notional.
func (r SymbolRules) CheckNotional(price, qty decimal.Decimal) error {
	notional := price.Mul(qty)
	if notional.LessThan(r.MinNotional) {
		return fmt.Errorf("notional %s is below minimum %s", notional, r.MinNotional)
	}
	return nil
}

// SuggestMinQty returns the smallest step-aligned quantity whose notional
// clears the minimum at the given price, padded 1% to survive price drift.
func (r SymbolRules) SuggestMinQty(price decimal.Decimal, isMarket bool) decimal.Decimal {
	if price.Sign() <= 0 {
		return decimal.Zero
	}
	step, _, _ := r.LotFor(isMarket)
	raw := r.MinNotional.Div(price).Mul(decimal.RequireFromString("1.01"))
	qty := FloorToIncrement(raw, step)
	for qty.Mul(price).LessThan(r.MinNotional) {
		qty = qty.Add(step)
	}
	return qty
}
