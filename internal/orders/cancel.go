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

const batchCancelMax = 10

// CancelOrderInput identifies one order by exchange or client id.
type CancelOrderInput struct {
	Symbol            string `json:"symbol"`
	OrderID           int64  `json:"order_id,omitempty"`
	OrigClientOrderID string `json:"orig_client_order_id,omitempty"`
}

// CancelOrder cancels a single open order.
func (s *Service) CancelOrder(ctx context.Context, in CancelOrderInput) types.Result {
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

	raw, err := s.client.SignedDelete(ctx, "/fapi/v1/order", params)
	if err != nil {
		return apiFail(err, map[int]string{
			exchange.CodeUnknownOrder: types.ErrOrderNotFound,
		})
	}

	var ack types.OrderAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return types.Fail(types.ErrAPI, fmt.Sprintf("decode cancel response: %v", err))
	}

	s.logger.Info("order cancelled", "symbol", symbol, "orderId", ack.OrderID)
	res := types.OK(orderData(&ack))
	res.RawResponse = raw
	return res
}

// CancelBatchInput cancels up to 10 orders in one call. Exactly one of the
// two id lists must be provided.
type CancelBatchInput struct {
	Symbol                string   `json:"symbol"`
	OrderIDList           []int64  `json:"order_id_list,omitempty"`
	OrigClientOrderIDList []string `json:"orig_client_order_id_list,omitempty"`
}

// CancelMultipleOrders cancels a batch and reports per-order outcomes.
func (s *Service) CancelMultipleOrders(ctx context.Context, in CancelBatchInput) types.Result {
	symbol, err := rules.NormalizeSymbol(in.Symbol)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}

	haveIDs := len(in.OrderIDList) > 0
	haveClientIDs := len(in.OrigClientOrderIDList) > 0
	if haveIDs == haveClientIDs {
		return types.Fail(types.ErrValidation, "provide exactly one of order_id_list or orig_client_order_id_list")
	}
	total := len(in.OrderIDList) + len(in.OrigClientOrderIDList)
	if total > batchCancelMax {
		return types.Fail(types.ErrValidation, fmt.Sprintf("at most %d orders per batch, got %d", batchCancelMax, total))
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	if haveIDs {
		ids := make([]string, len(in.OrderIDList))
		for i, id := range in.OrderIDList {
			ids[i] = strconv.FormatInt(id, 10)
		}
		// The endpoint wants a JSON array literal as the parameter value.
		params.Set("orderIdList", "["+strings.Join(ids, ",")+"]")
	} else {
		quoted := make([]string, len(in.OrigClientOrderIDList))
		for i, id := range in.OrigClientOrderIDList {
			quoted[i] = `"` + id + `"`
		}
		params.Set("origClientOrderIdList", "["+strings.Join(quoted, ",")+"]")
	}

	raw, err := s.client.SignedDelete(ctx, "/fapi/v1/batchOrders", params)
	if err != nil {
		return apiFail(err, nil)
	}

	var rows []types.OrderAck
	if err := json.Unmarshal(raw, &rows); err != nil {
		return types.Fail(types.ErrAPI, fmt.Sprintf("decode batch cancel response: %v", err))
	}

	cancelled := make([]map[string]any, 0, len(rows))
	failed := make([]map[string]any, 0)
	for _, row := range rows {
		if row.Code != 0 {
			failed = append(failed, map[string]any{"code": row.Code, "msg": row.Msg})
			continue
		}
		cancelled = append(cancelled, map[string]any{
			"orderId":       row.OrderID,
			"clientOrderId": row.ClientOrderID,
			"status":        row.Status,
		})
	}

	s.logger.Info("batch cancel finished",
		"symbol", symbol,
		"requested", total,
		"cancelled", len(cancelled),
		"failed", len(failed),
	)

	res := types.OK(map[string]any{
		"cancelled": cancelled,
		"failed":    failed,
		"summary": map[string]any{
			"totalRequested": total,
			"successCount":   len(cancelled),
			"failedCount":    len(failed),
			"allSucceeded":   len(failed) == 0,
		},
	})
	res.RawResponse = raw
	return res
}
