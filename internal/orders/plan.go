package orders

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"futures-agent/internal/rules"
	"futures-agent/pkg/types"
)

// PlanTakeProfit is one take-profit leg of a plan under validation.
// Quantity and Percentage are alternatives; a zero-valued final leg takes
// the remaining entry quantity.
type PlanTakeProfit struct {
	Price      float64 `json:"price"`
	Quantity   float64 `json:"quantity,omitempty"`
	Percentage float64 `json:"percentage,omitempty"`
}

// ValidatePlanInput is a full entry/stop/take-profit plan to check before
// any order is sent.
type ValidatePlanInput struct {
	Symbol      string           `json:"symbol"`
	Side        string           `json:"side"`
	EntryPrice  float64          `json:"entry_price"`
	Quantity    float64          `json:"quantity"`
	StopLoss    float64          `json:"stop_loss,omitempty"`
	TakeProfits []PlanTakeProfit `json:"take_profits,omitempty"`
	Leverage    int              `json:"leverage,omitempty"`
}

type planIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidateOrderPlan checks a plan against the symbol's trading rules
// without placing anything. Rounding fixes are reported as adjustments;
// anything that would be rejected by the exchange is an error.
func (s *Service) ValidateOrderPlan(ctx context.Context, in ValidatePlanInput) types.Result {
	symbol, err := rules.NormalizeSymbol(in.Symbol)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}
	side, err := normalizeSide(in.Side)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}
	if in.EntryPrice <= 0 {
		return types.Fail(types.ErrValidation, "entry_price must be greater than 0")
	}
	if in.Quantity <= 0 {
		return types.Fail(types.ErrValidation, "quantity must be greater than 0")
	}

	r, err := s.rules.RulesFor(ctx, symbol)
	if err != nil {
		return types.Fail(types.ErrAPI, err.Error())
	}

	var errors []planIssue
	var adjustments []planIssue
	isLong := side == types.BUY

	// Entry price and quantity rounding.
	entry := decimalFrom(in.EntryPrice)
	entryRounded := r.RoundPrice(entry)
	if !entryRounded.Equal(entry) {
		adjustments = append(adjustments, planIssue{
			Code:    "entry_price_rounded",
			Message: fmt.Sprintf("entry price %s rounded to %s (tick %s)", entry, entryRounded, r.TickSize),
		})
	}
	qty := decimalFrom(in.Quantity)
	qtyRounded := r.RoundQty(qty, false)
	if !qtyRounded.Equal(qty) {
		adjustments = append(adjustments, planIssue{
			Code:    "quantity_step_rounding_applied",
			Message: fmt.Sprintf("quantity %s rounded to %s (step %s)", qty, qtyRounded, r.StepSize),
		})
	}
	if qtyRounded.Sign() <= 0 {
		errors = append(errors, planIssue{
			Code:    "quantity_step_rounding_applied",
			Message: fmt.Sprintf("quantity %s rounds to 0 at step size %s", qty, r.StepSize),
		})
	}

	// Notional floor, with a suggested fix.
	suggested := decimal.Zero
	if qtyRounded.Sign() > 0 && entryRounded.Mul(qtyRounded).LessThan(r.MinNotional) {
		suggested = r.SuggestMinQty(entryRounded, false)
		errors = append(errors, planIssue{
			Code: "min_notional_fail",
			Message: fmt.Sprintf("notional %s is below minimum %s; suggested quantity %s",
				entryRounded.Mul(qtyRounded), r.MinNotional, suggested),
		})
	}

	// Stop loss must be on the losing side of entry.
	slRounded := decimal.Zero
	if in.StopLoss > 0 {
		slRounded = r.RoundPrice(decimalFrom(in.StopLoss))
		if isLong && slRounded.GreaterThanOrEqual(entryRounded) {
			errors = append(errors, planIssue{
				Code:    "stop_loss_must_be_below_entry_for_long",
				Message: fmt.Sprintf("stop loss %s must be below entry %s for a long", slRounded, entryRounded),
			})
		}
		if !isLong && slRounded.LessThanOrEqual(entryRounded) {
			errors = append(errors, planIssue{
				Code:    "stop_loss_must_be_above_entry_for_short",
				Message: fmt.Sprintf("stop loss %s must be above entry %s for a short", slRounded, entryRounded),
			})
		}
	}

	// Take profits must be on the winning side, and their quantities must
	// not exceed the entry.
	tpOut := make([]map[string]any, 0, len(in.TakeProfits))
	tpTotal := decimal.Zero
	for i, tp := range in.TakeProfits {
		if tp.Price <= 0 {
			errors = append(errors, planIssue{
				Code:    fmt.Sprintf("tp_%d_price_invalid", i+1),
				Message: fmt.Sprintf("take profit %d price must be greater than 0", i+1),
			})
			continue
		}
		price := r.RoundPrice(decimalFrom(tp.Price))
		if isLong && price.LessThanOrEqual(entryRounded) {
			errors = append(errors, planIssue{
				Code:    fmt.Sprintf("tp_%d_must_be_above_entry_for_long", i+1),
				Message: fmt.Sprintf("take profit %d at %s must be above entry %s for a long", i+1, price, entryRounded),
			})
		}
		if !isLong && price.GreaterThanOrEqual(entryRounded) {
			errors = append(errors, planIssue{
				Code:    fmt.Sprintf("tp_%d_must_be_below_entry_for_short", i+1),
				Message: fmt.Sprintf("take profit %d at %s must be below entry %s for a short", i+1, price, entryRounded),
			})
		}

		tpQty := decimal.Zero
		switch {
		case tp.Quantity > 0:
			tpQty = r.RoundQty(decimalFrom(tp.Quantity), false)
		case tp.Percentage > 0:
			tpQty = r.RoundQty(qtyRounded.Mul(decimalFrom(tp.Percentage/100)), false)
		}
		tpTotal = tpTotal.Add(tpQty)
		tpOut = append(tpOut, map[string]any{
			"price":    price.String(),
			"quantity": tpQty.String(),
		})
	}
	if tpTotal.GreaterThan(qtyRounded) {
		errors = append(errors, planIssue{
			Code:    "tp_total_quantity_exceeds_entry",
			Message: fmt.Sprintf("take profit quantity %s exceeds entry quantity %s", tpTotal, qtyRounded),
		})
	}

	// Leverage against the symbol's bracket ceiling.
	if in.Leverage > 0 {
		if max, err := s.rules.MaxLeverage(ctx, symbol); err == nil && in.Leverage > max {
			errors = append(errors, planIssue{
				Code:    "leverage_exceeds_max",
				Message: fmt.Sprintf("leverage %d exceeds maximum %d for %s", in.Leverage, max, symbol),
			})
		}
	}

	data := map[string]any{
		"valid":       len(errors) == 0,
		"errors":      errors,
		"adjustments": adjustments,
		"adjusted": map[string]any{
			"entry_price":  entryRounded.String(),
			"quantity":     qtyRounded.String(),
			"stop_loss":    slRounded.String(),
			"take_profits": tpOut,
		},
		"exchange_info": map[string]any{
			"tickSize":    r.TickSize.String(),
			"stepSize":    r.StepSize.String(),
			"minQty":      r.MinQty.String(),
			"maxQty":      r.MaxQty.String(),
			"minNotional": r.MinNotional.String(),
		},
	}
	if suggested.Sign() > 0 {
		data["suggested_quantity"] = suggested.String()
	}
	return types.OK(data)
}
