package orders

import (
	"context"

	"futures-agent/internal/rules"
	"futures-agent/pkg/types"
)

// ExchangeInfoInput names the symbol whose trading rules to read.
type ExchangeInfoInput struct {
	Symbol string `json:"symbol"`
}

// GetExchangeInfo returns the normalized trading rules for one symbol:
// increments, lot bounds, minimum notional, precisions, and the maximum
// leverage any bracket tier allows.
func (s *Service) GetExchangeInfo(ctx context.Context, in ExchangeInfoInput) types.Result {
	symbol, err := rules.NormalizeSymbol(in.Symbol)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}

	r, err := s.rules.RulesFor(ctx, symbol)
	if err != nil {
		return types.Fail(types.ErrAPI, err.Error())
	}

	data := map[string]any{
		"symbol":            r.Symbol,
		"status":            r.Status,
		"pricePrecision":    r.PricePrecision,
		"quantityPrecision": r.QuantityPrecision,
		"tickSize":          r.TickSize.String(),
		"stepSize":          r.StepSize.String(),
		"minQty":            r.MinQty.String(),
		"maxQty":            r.MaxQty.String(),
		"minNotional":       r.MinNotional.String(),
		"marketStepSize":    r.MarketStepSize.String(),
		"marketMinQty":      r.MarketMinQty.String(),
		"marketMaxQty":      r.MarketMaxQty.String(),
	}
	// Max leverage is supplementary; bracket fetch failures don't sink the read.
	if max, err := s.rules.MaxLeverage(ctx, symbol); err == nil {
		data["maxLeverage"] = max
	}

	return types.OK(data)
}

// LeverageBracketsInput reads tiers for one symbol. When Notional is set,
// the response includes the tier that notional lands in.
type LeverageBracketsInput struct {
	Symbol   string  `json:"symbol"`
	Notional float64 `json:"notional,omitempty"`
}

// GetLeverageBrackets returns the symbol's notional tiers and, when a
// notional is supplied, the applicable tier's margin parameters.
func (s *Service) GetLeverageBrackets(ctx context.Context, in LeverageBracketsInput) types.Result {
	symbol, err := rules.NormalizeSymbol(in.Symbol)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}

	tiers, err := s.rules.BracketsFor(ctx, symbol)
	if err != nil {
		return apiFail(err, nil)
	}

	maxLev := 0
	minMMR := 1.0
	rows := make([]map[string]any, 0, len(tiers))
	for _, t := range tiers {
		if t.InitialLeverage > maxLev {
			maxLev = t.InitialLeverage
		}
		if t.MaintMarginRatio < minMMR {
			minMMR = t.MaintMarginRatio
		}
		rows = append(rows, map[string]any{
			"bracket":          t.Bracket,
			"initialLeverage":  t.InitialLeverage,
			"notionalFloor":    t.NotionalFloor,
			"notionalCap":      t.NotionalCap,
			"maintMarginRatio": t.MaintMarginRatio,
			"cum":              t.Cum,
		})
	}

	data := map[string]any{
		"symbol":      symbol,
		"brackets":    rows,
		"maxLeverage": maxLev,
		"minMMR":      minMMR,
	}
	if in.Notional > 0 {
		if tier, ok := rules.TierFor(tiers, in.Notional); ok {
			data["tierForNotional"] = map[string]any{
				"notional":         in.Notional,
				"bracket":          tier.Bracket,
				"initialLeverage":  tier.InitialLeverage,
				"maintMarginRatio": tier.MaintMarginRatio,
				"cum":              tier.Cum,
			}
		}
	}
	return types.OK(data)
}
