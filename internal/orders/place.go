package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"futures-agent/internal/rules"
	"futures-agent/pkg/types"
)

// PlaceOrderInput is the tool input for placing one order.
type PlaceOrderInput struct {
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"`
	OrderType       string  `json:"order_type"`
	Quantity        float64 `json:"quantity,omitempty"`
	Price           float64 `json:"price,omitempty"`
	StopPrice       float64 `json:"stop_price,omitempty"`
	TimeInForce     string  `json:"time_in_force,omitempty"`
	ReduceOnly      bool    `json:"reduce_only,omitempty"`
	ClosePosition   bool    `json:"close_position,omitempty"`
	PositionSide    string  `json:"position_side,omitempty"`
	ClientOrderID   string  `json:"client_order_id,omitempty"`
	PostOnly        bool    `json:"post_only,omitempty"`
	WorkingType     string  `json:"working_type,omitempty"`
	CallbackRate    float64 `json:"callback_rate,omitempty"`
	ActivationPrice float64 `json:"activation_price,omitempty"`
	PriceProtect    bool    `json:"price_protect,omitempty"`
}

var validTIF = map[types.TimeInForce]bool{
	types.TIFGoodTilCancel: true,
	types.TIFImmediate:     true,
	types.TIFFillOrKill:    true,
	types.TIFPostOnly:      true,
}

var validOrderTypes = map[types.OrderType]bool{
	types.OrderLimit:              true,
	types.OrderMarket:             true,
	types.OrderStop:               true,
	types.OrderStopMarket:         true,
	types.OrderTakeProfit:         true,
	types.OrderTakeProfitMarket:   true,
	types.OrderTrailingStopMarket: true,
}

// PlaceOrder validates, rounds and submits one order.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) types.Result {
	symbol, err := rules.NormalizeSymbol(in.Symbol)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}
	side, err := normalizeSide(in.Side)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}
	orderType := types.OrderType(strings.ToUpper(strings.TrimSpace(in.OrderType)))
	if !validOrderTypes[orderType] {
		return types.Fail(types.ErrValidation, fmt.Sprintf("unsupported order_type %q", in.OrderType))
	}
	posSide, err := normalizePositionSide(in.PositionSide)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}
	workingType, err := normalizeWorkingType(in.WorkingType)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}

	// post_only is shorthand for a GTX limit order.
	tif := types.TimeInForce(strings.ToUpper(in.TimeInForce))
	if in.PostOnly {
		if orderType != types.OrderLimit {
			return types.Fail(types.ErrValidation, "post_only requires order_type LIMIT")
		}
		tif = types.TIFPostOnly
	}
	if orderType == types.OrderLimit && tif == "" {
		tif = types.TIFGoodTilCancel
	}
	if tif != "" && !validTIF[tif] {
		return types.Fail(types.ErrValidation, fmt.Sprintf("unsupported time_in_force %q", in.TimeInForce))
	}

	symRules, err := s.rules.RulesFor(ctx, symbol)
	if err != nil {
		return types.Fail(types.ErrAPI, err.Error())
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", string(orderType))
	if posSide != "" {
		params.Set("positionSide", string(posSide))
	}
	if in.ClientOrderID != "" {
		params.Set("newClientOrderId", in.ClientOrderID)
	}
	if workingType != "" {
		params.Set("workingType", string(workingType))
	}
	if in.PriceProtect {
		params.Set("priceProtect", "TRUE")
	}

	// Price requirements per type.
	needsPrice := orderType == types.OrderLimit || orderType == types.OrderStop || orderType == types.OrderTakeProfit
	if needsPrice {
		price, err := parseDecimal("price", in.Price)
		if err != nil {
			return types.Fail(types.ErrValidation, fmt.Sprintf("%s requires a price: %v", orderType, err))
		}
		rounded, err := symRules.ValidatePrice(price)
		if err != nil {
			return types.Fail(types.ErrValidation, err.Error())
		}
		params.Set("price", rounded.String())
		if tif != "" {
			params.Set("timeInForce", string(tif))
		}
	}

	// Trigger price requirements.
	if orderType.RequiresStopPrice() && !(in.ClosePosition && in.StopPrice == 0) {
		stop, err := parseDecimal("stop_price", in.StopPrice)
		if err != nil {
			return types.Fail(types.ErrValidation, fmt.Sprintf("%s requires a stop_price: %v", orderType, err))
		}
		rounded, err := symRules.ValidatePrice(stop)
		if err != nil {
			return types.Fail(types.ErrValidation, err.Error())
		}
		params.Set("stopPrice", rounded.String())
	}

	if orderType == types.OrderTrailingStopMarket {
		if in.CallbackRate < 0.1 || in.CallbackRate > 5 {
			return types.Fail(types.ErrValidation, "callback_rate must be between 0.1 and 5")
		}
		params.Set("callbackRate", fmt.Sprintf("%g", in.CallbackRate))
		if in.ActivationPrice > 0 {
			act, err := symRules.ValidatePrice(decimalFrom(in.ActivationPrice))
			if err != nil {
				return types.Fail(types.ErrValidation, err.Error())
			}
			params.Set("activationPrice", act.String())
		}
	}

	switch {
	case in.ClosePosition:
		params.Set("closePosition", "true")
	default:
		qty, err := parseDecimal("quantity", in.Quantity)
		if err != nil {
			return types.Fail(types.ErrValidation, err.Error())
		}
		rounded, err := symRules.ValidateQuantity(qty, orderType.IsMarketFamily())
		if err != nil {
			return types.Fail(types.ErrValidation, err.Error())
		}
		// Notional is only checkable when we know the execution price.
		if needsPrice {
			price := decimalFrom(in.Price)
			if err := symRules.CheckNotional(symRules.RoundPrice(price), rounded); err != nil {
				return types.Fail(types.ErrValidation, err.Error())
			}
		}
		params.Set("quantity", rounded.String())
		if in.ReduceOnly {
			params.Set("reduceOnly", "true")
		}
	}

	raw, err := s.client.SignedPost(ctx, "/fapi/v1/order", params)
	if err != nil {
		return apiFail(err, nil)
	}

	var ack types.OrderAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return types.Fail(types.ErrAPI, fmt.Sprintf("decode order response: %v", err))
	}

	s.logger.Info("order placed",
		"symbol", symbol,
		"side", side,
		"type", orderType,
		"orderId", ack.OrderID,
	)

	res := types.OK(orderData(&ack))
	res.RawResponse = raw
	return res
}
