// Package rules implements symbol trading rules: the exchange-info cache,
// filter parsing, tick/step rounding, order validation, and leverage
// bracket lookup. All increment math uses shopspring/decimal so values
// round exactly the way the matching engine does.
package rules

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"futures-agent/pkg/types"
)

// Symbols the server will operate on. Everything else is rejected at the
// tool boundary.
var allowed = map[string]bool{
	"BTCUSDT": true,
	"ETHUSDT": true,
}

// NormalizeSymbol uppercases and checks the allowlist.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !allowed[s] {
		return "", fmt.Errorf("symbol %q is not supported (allowed: BTCUSDT, ETHUSDT)", symbol)
	}
	return s, nil
}

// AllowedSymbols returns the allowlist in a stable order.
func AllowedSymbols() []string {
	return []string{"BTCUSDT", "ETHUSDT"}
}

// Filter defaults used when the exchange omits a filter. Conservative
// values for the supported majors.
var (
	defaultTick        = decimal.RequireFromString("0.01")
	defaultStep        = decimal.RequireFromString("0.001")
	defaultMinQty      = decimal.RequireFromString("0.001")
	defaultMaxQty      = decimal.RequireFromString("9999999")
	defaultMinNotional = decimal.RequireFromString("5")
)

// SymbolRules is the parsed, normalized filter set for one symbol.
// Market* fields come from MARKET_LOT_SIZE and fall back to the limit
// lot size when absent.
type SymbolRules struct {
	Symbol            string
	Status            string
	PricePrecision    int
	QuantityPrecision int

	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	MinNotional decimal.Decimal

	MarketStepSize decimal.Decimal
	MarketMinQty   decimal.Decimal
	MarketMaxQty   decimal.Decimal
}

// ParseSymbolRules extracts the filter values the order tools need,
// applying defaults for anything missing or unparseable.
func ParseSymbolRules(info types.SymbolInfo) SymbolRules {
	r := SymbolRules{
		Symbol:            info.Symbol,
		Status:            info.Status,
		PricePrecision:    info.PricePrecision,
		QuantityPrecision: info.QuantityPrecision,
		TickSize:          defaultTick,
		StepSize:          defaultStep,
		MinQty:            defaultMinQty,
		MaxQty:            defaultMaxQty,
		MinNotional:       defaultMinNotional,
	}

	for _, f := range info.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			setDecimal(&r.TickSize, f.TickSize)
		case "LOT_SIZE":
			setDecimal(&r.StepSize, f.StepSize)
			setDecimal(&r.MinQty, f.MinQty)
			setDecimal(&r.MaxQty, f.MaxQty)
		case "MARKET_LOT_SIZE":
			setDecimal(&r.MarketStepSize, f.StepSize)
			setDecimal(&r.MarketMinQty, f.MinQty)
			setDecimal(&r.MarketMaxQty, f.MaxQty)
		case "MIN_NOTIONAL":
			if f.Notional != "" {
				setDecimal(&r.MinNotional, f.Notional)
			} else {
				setDecimal(&r.MinNotional, f.MinNotional)
			}
		}
	}

	if r.MarketStepSize.IsZero() {
		r.MarketStepSize = r.StepSize
	}
	if r.MarketMinQty.IsZero() {
		r.MarketMinQty = r.MinQty
	}
	if r.MarketMaxQty.IsZero() {
		r.MarketMaxQty = r.MaxQty
	}
	return r
}

// LotFor returns the step/min/max applicable to the given execution style.
func (r SymbolRules) LotFor(isMarket bool) (step, min, max decimal.Decimal) {
	if isMarket {
		return r.MarketStepSize, r.MarketMinQty, r.MarketMaxQty
	}
	return r.StepSize, r.MinQty, r.MaxQty
}

func setDecimal(dst *decimal.Decimal, raw string) {
	if raw == "" {
		return
	}
	if d, err := decimal.NewFromString(raw); err == nil && !d.IsNegative() {
		*dst = d
	}
}
