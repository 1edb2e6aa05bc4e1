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

// OrderStatusInput identifies one order by exchange or client id.
type OrderStatusInput struct {
	Symbol            string `json:"symbol"`
	OrderID           int64  `json:"order_id,omitempty"`
	OrigClientOrderID string `json:"orig_client_order_id,omitempty"`
}

// GetOrderStatus reads one order and derives convenience state flags.
func (s *Service) GetOrderStatus(ctx context.Context, in OrderStatusInput) types.Result {
	symbol, err := rules.NormalizeSymbol(in.Symbol)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}
	if in.OrderID == 0 && in.OrigClientOrderID == "" {
		return types.Fail(types.ErrValidation, "order_id or orig_client_order_id is required")
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	if in.OrderID != 0 {
		params.Set("orderId", strconv.FormatInt(in.OrderID, 10))
	}
	if in.OrigClientOrderID != "" {
		params.Set("origClientOrderId", in.OrigClientOrderID)
	}

	raw, err := s.client.SignedGet(ctx, "/fapi/v1/order", params)
	if err != nil {
		return apiFail(err, map[int]string{
			exchange.CodeOrderDoesNotExist: types.ErrOrderNotFound,
		})
	}

	var ack types.OrderAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return types.Fail(types.ErrAPI, fmt.Sprintf("decode order status: %v", err))
	}

	status := types.OrderStatus(ack.Status)
	data := orderData(&ack)
	data["isPartiallyFilled"] = status == types.StatusPartiallyFilled
	data["isCancelled"] = status == types.StatusCanceled
	data["isExpired"] = status == types.StatusExpired

	res := types.OK(data)
	res.RawResponse = raw
	return res
}
