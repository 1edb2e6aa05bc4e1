package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"futures-agent/internal/exchange"
	"futures-agent/internal/rules"
	"futures-agent/pkg/types"
)

// fetchPositionRisk reads position risk rows, preferring the v2 endpoint
// and falling back to v3 when v2 is unavailable.
func (s *Service) fetchPositionRisk(ctx context.Context, symbol string) ([]types.PositionRisk, json.RawMessage, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	raw, err := s.client.SignedGet(ctx, "/fapi/v2/positionRisk", params)
	if err != nil {
		s.logger.Debug("positionRisk v2 failed, trying v3", "error", err)
		raw, err = s.client.SignedGet(ctx, "/fapi/v3/positionRisk", params)
		if err != nil {
			return nil, nil, err
		}
	}
	var rows []types.PositionRisk
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, raw, fmt.Errorf("decode position risk: %w", err)
	}
	return rows, raw, nil
}

// SetLeverageInput sets the initial leverage for one symbol.
type SetLeverageInput struct {
	Symbol   string `json:"symbol"`
	Leverage int    `json:"leverage"`
}

// SetLeverage changes the symbol's leverage. Requesting the current value
// is reported as success with already_set, without touching the exchange.
func (s *Service) SetLeverage(ctx context.Context, in SetLeverageInput) types.Result {
	symbol, err := rules.NormalizeSymbol(in.Symbol)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}
	if in.Leverage < 1 || in.Leverage > 125 {
		return types.Fail(types.ErrValidation, "leverage must be between 1 and 125")
	}

	// Idempotent short-circuit: skip the call when nothing would change.
	if rows, _, err := s.fetchPositionRisk(ctx, symbol); err == nil {
		for _, row := range rows {
			if row.Symbol != symbol {
				continue
			}
			if cur, convErr := strconv.Atoi(row.Leverage); convErr == nil && cur == in.Leverage {
				return types.OK(map[string]any{
					"symbol":      symbol,
					"leverage":    in.Leverage,
					"already_set": true,
				})
			}
			break
		}
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(in.Leverage))

	raw, err := s.client.SignedPost(ctx, "/fapi/v1/leverage", params)
	if err != nil {
		if apiErr, ok := exchange.AsAPIError(err); ok {
			if apiErr.Code == exchange.CodeNoNeedToChange || strings.Contains(apiErr.Message, "No need to change") {
				return types.OK(map[string]any{
					"symbol":      symbol,
					"leverage":    in.Leverage,
					"already_set": true,
				})
			}
		}
		return apiFail(err, nil)
	}

	var ack types.LeverageAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return types.Fail(types.ErrAPI, fmt.Sprintf("decode leverage response: %v", err))
	}

	s.logger.Info("leverage set", "symbol", symbol, "leverage", ack.Leverage)
	res := types.OK(map[string]any{
		"symbol":           ack.Symbol,
		"leverage":         ack.Leverage,
		"maxNotionalValue": ack.MaxNotionalValue,
		"already_set":      false,
	})
	res.RawResponse = raw
	return res
}

// SetMarginTypeInput switches one symbol between isolated and cross margin.
type SetMarginTypeInput struct {
	Symbol     string `json:"symbol"`
	MarginType string `json:"margin_type"`
}

// SetMarginType changes the margin mode. An open position blocks the
// change and is reported as position_exists.
func (s *Service) SetMarginType(ctx context.Context, in SetMarginTypeInput) types.Result {
	symbol, err := rules.NormalizeSymbol(in.Symbol)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}

	var target types.MarginType
	switch strings.ToUpper(strings.TrimSpace(in.MarginType)) {
	case "ISOLATED":
		target = types.MarginIsolated
	case "CROSSED", "CROSS":
		target = types.MarginCrossed
	default:
		return types.Fail(types.ErrValidation, fmt.Sprintf("margin_type must be ISOLATED or CROSSED, got %q", in.MarginType))
	}

	// Idempotent short-circuit from current position state.
	if rows, _, err := s.fetchPositionRisk(ctx, symbol); err == nil {
		for _, row := range rows {
			if row.Symbol != symbol {
				continue
			}
			current := types.MarginCrossed
			if strings.EqualFold(row.MarginType, "isolated") {
				current = types.MarginIsolated
			}
			if current == target {
				return types.OK(map[string]any{
					"symbol":      symbol,
					"marginType":  string(target),
					"already_set": true,
				})
			}
			break
		}
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", string(target))

	raw, err := s.client.SignedPost(ctx, "/fapi/v1/marginType", params)
	if err != nil {
		if apiErr, ok := exchange.AsAPIError(err); ok {
			if apiErr.Code == exchange.CodeNoNeedToChange || strings.Contains(apiErr.Message, "No need to change") {
				return types.OK(map[string]any{
					"symbol":      symbol,
					"marginType":  string(target),
					"already_set": true,
				})
			}
			if apiErr.Code == exchange.CodeMarginTypeCantChange || strings.Contains(strings.ToLower(apiErr.Message), "position") {
				return types.FailWith(types.ErrPositionExists,
					"margin type cannot change while a position or open orders exist",
					map[string]any{"code": apiErr.Code})
			}
		}
		return apiFail(err, nil)
	}

	s.logger.Info("margin type set", "symbol", symbol, "marginType", target)
	res := types.OK(map[string]any{
		"symbol":      symbol,
		"marginType":  string(target),
		"already_set": false,
	})
	res.RawResponse = raw
	return res
}

// PositionRiskInput optionally narrows the read to one symbol.
type PositionRiskInput struct {
	Symbol string `json:"symbol,omitempty"`
}

// GetPositionRisk reads current positions for the supported symbols,
// normalized with direction flags.
func (s *Service) GetPositionRisk(ctx context.Context, in PositionRiskInput) types.Result {
	symbol := ""
	if in.Symbol != "" {
		var err error
		symbol, err = rules.NormalizeSymbol(in.Symbol)
		if err != nil {
			return types.Fail(types.ErrValidation, err.Error())
		}
	}

	rows, raw, err := s.fetchPositionRisk(ctx, symbol)
	if err != nil {
		return apiFail(err, nil)
	}

	positions := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if _, allowErr := rules.NormalizeSymbol(row.Symbol); allowErr != nil {
			continue
		}
		amt, _ := strconv.ParseFloat(row.PositionAmt, 64)
		entry, _ := strconv.ParseFloat(row.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(row.MarkPrice, 64)
		pnl, _ := strconv.ParseFloat(row.UnrealizedProfit, 64)
		liq, _ := strconv.ParseFloat(row.LiquidationPrice, 64)
		lev, _ := strconv.Atoi(row.Leverage)

		positions = append(positions, map[string]any{
			"symbol":           row.Symbol,
			"positionAmt":      amt,
			"entryPrice":       entry,
			"markPrice":        mark,
			"unrealizedProfit": pnl,
			"liquidationPrice": liq,
			"leverage":         lev,
			"marginType":       row.MarginType,
			"positionSide":     row.PositionSide,
			"hasPosition":      amt != 0,
			"isLong":           amt > 0,
			"isShort":          amt < 0,
			"updateTime":       row.UpdateTime,
		})
	}

	res := types.OK(map[string]any{"positions": positions})
	res.RawResponse = raw
	return res
}

// CommissionRateInput names the symbol to read fees for.
type CommissionRateInput struct {
	Symbol string `json:"symbol"`
}

// GetCommissionRate reads the account's maker/taker rates for one symbol.
func (s *Service) GetCommissionRate(ctx context.Context, in CommissionRateInput) types.Result {
	symbol, err := rules.NormalizeSymbol(in.Symbol)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	raw, err := s.client.SignedGet(ctx, "/fapi/v1/commissionRate", params)
	if err != nil {
		return apiFail(err, nil)
	}

	var rate types.CommissionRate
	if err := json.Unmarshal(raw, &rate); err != nil {
		return types.Fail(types.ErrAPI, fmt.Sprintf("decode commission rate: %v", err))
	}

	maker, _ := strconv.ParseFloat(rate.MakerCommissionRate, 64)
	taker, _ := strconv.ParseFloat(rate.TakerCommissionRate, 64)
	res := types.OK(map[string]any{
		"symbol":       rate.Symbol,
		"maker":        maker,
		"taker":        taker,
		"makerPercent": maker * 100,
		"takerPercent": taker * 100,
		"makerRaw":     rate.MakerCommissionRate,
		"takerRaw":     rate.TakerCommissionRate,
	})
	res.RawResponse = raw
	return res
}
