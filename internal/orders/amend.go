package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"futures-agent/internal/exchange"
	"futures-agent/internal/rules"
	"futures-agent/pkg/types"
)

// AmendOrderInput modifies the price and/or quantity of a resting LIMIT
// order in place, preserving its queue position where the exchange allows.
type AmendOrderInput struct {
	Symbol            string  `json:"symbol"`
	OrderID           int64   `json:"order_id,omitempty"`
	OrigClientOrderID string  `json:"orig_client_order_id,omitempty"`
	Side              string  `json:"side"`
	Price             float64 `json:"price,omitempty"`
	Quantity          float64 `json:"quantity,omitempty"`
}

// AmendOrder modifies a resting LIMIT order. Only LIMIT orders can be
// amended; the exchange requires the side to be restated.
func (s *Service) AmendOrder(ctx context.Context, in AmendOrderInput) types.Result {
	symbol, err := rules.NormalizeSymbol(in.Symbol)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}
	side, err := normalizeSide(in.Side)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}
	if in.OrderID == 0 && in.OrigClientOrderID == "" {
		return types.Fail(types.ErrValidation, "order_id or orig_client_order_id is required")
	}
	if in.Price <= 0 && in.Quantity <= 0 {
		return types.Fail(types.ErrValidation, "at least one of price or quantity is required")
	}

	symRules, err := s.rules.RulesFor(ctx, symbol)
	if err != nil {
		return types.Fail(types.ErrAPI, err.Error())
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	if in.OrderID != 0 {
		params.Set("orderId", strconv.FormatInt(in.OrderID, 10))
	}
	if in.OrigClientOrderID != "" {
		params.Set("origClientOrderId", in.OrigClientOrderID)
	}
	if in.Price > 0 {
		price, err := symRules.ValidatePrice(decimalFrom(in.Price))
		if err != nil {
			return types.Fail(types.ErrValidation, err.Error())
		}
		params.Set("price", price.String())
	}
	if in.Quantity > 0 {
		qty, err := symRules.ValidateQuantity(decimalFrom(in.Quantity), false)
		if err != nil {
			return types.Fail(types.ErrValidation, err.Error())
		}
		params.Set("quantity", qty.String())
	}

	raw, err := s.client.SignedPut(ctx, "/fapi/v1/order", params)
	if err != nil {
		return apiFail(err, map[int]string{
			exchange.CodeUnknownOrder:     types.ErrOrderNotFound,
			exchange.CodeInvalidOrderType: types.ErrInvalidOrderType,
		})
	}

	var ack types.OrderAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return types.Fail(types.ErrAPI, fmt.Sprintf("decode amend response: %v", err))
	}

	s.logger.Info("order amended", "symbol", symbol, "orderId", ack.OrderID)
	res := types.OK(orderData(&ack))
	res.RawResponse = raw
	return res
}
