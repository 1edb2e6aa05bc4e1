// Package orders implements the order lifecycle tools: placement,
// amendment, cancellation (single and batch), status reads, leverage and
// margin-type changes, plan validation, and the account/metadata reads.
//
// Every tool returns a types.Result envelope. Domain failures (bad input,
// exchange rejections) are reported inside the envelope; a Go error never
// crosses the tool boundary for those.
package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"futures-agent/internal/exchange"
	"futures-agent/internal/rules"
	"futures-agent/pkg/types"
)

// Exchange is the signed REST surface the order tools need.
type Exchange interface {
	Get(ctx context.Context, path string, params url.Values, result any) (json.RawMessage, error)
	SignedGet(ctx context.Context, path string, params url.Values) (json.RawMessage, error)
	SignedPost(ctx context.Context, path string, params url.Values) (json.RawMessage, error)
	SignedPut(ctx context.Context, path string, params url.Values) (json.RawMessage, error)
	SignedDelete(ctx context.Context, path string, params url.Values) (json.RawMessage, error)
}

// Service holds the dependencies shared by all order tools.
type Service struct {
	client Exchange
	rules  *rules.Service
	logger *slog.Logger
}

// NewService creates the order tool service.
func NewService(client Exchange, rulesSvc *rules.Service, logger *slog.Logger) *Service {
	return &Service{
		client: client,
		rules:  rulesSvc,
		logger: logger.With("component", "orders"),
	}
}

// Rules exposes the rules service for orchestrators built on top.
func (s *Service) Rules() *rules.Service { return s.rules }

// apiFail maps an exchange error to the envelope, attaching the numeric
// code when one is known. kindFor lets callers override the kind for
// specific codes.
func apiFail(err error, kindFor map[int]string) types.Result {
	apiErr, ok := exchange.AsAPIError(err)
	if !ok {
		return types.Fail(types.ErrAPI, err.Error())
	}
	kind := types.ErrAPI
	if k, found := kindFor[apiErr.Code]; found {
		kind = k
	}
	return types.FailWith(kind, apiErr.Message, map[string]any{"code": apiErr.Code})
}

// parseDecimal parses a positive tool input. Field names surface in the
// validation error.
func parseDecimal(field string, v float64) (decimal.Decimal, error) {
	if v <= 0 {
		return decimal.Zero, fmt.Errorf("%s must be greater than 0", field)
	}
	return decimal.NewFromFloat(v), nil
}

func decimalFrom(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func normalizeSide(raw string) (types.Side, error) {
	switch types.Side(strings.ToUpper(strings.TrimSpace(raw))) {
	case types.BUY:
		return types.BUY, nil
	case types.SELL:
		return types.SELL, nil
	}
	return "", fmt.Errorf("side must be BUY or SELL, got %q", raw)
}

func normalizePositionSide(raw string) (types.PositionSide, error) {
	if raw == "" {
		return "", nil
	}
	switch ps := types.PositionSide(strings.ToUpper(raw)); ps {
	case types.PositionBoth, types.PositionLong, types.PositionShort:
		return ps, nil
	}
	return "", fmt.Errorf("position_side must be BOTH, LONG or SHORT, got %q", raw)
}

func normalizeWorkingType(raw string) (types.WorkingType, error) {
	if raw == "" {
		return "", nil
	}
	switch wt := types.WorkingType(strings.ToUpper(raw)); wt {
	case types.WorkingMarkPrice, types.WorkingContractPrice:
		return wt, nil
	}
	return "", fmt.Errorf("working_type must be MARK_PRICE or CONTRACT_PRICE, got %q", raw)
}

// fillPercentage renders executed/original as a percentage with two
// decimal places. Zero original yields 0.
func fillPercentage(executedQty, origQty string) float64 {
	exec, err1 := strconv.ParseFloat(executedQty, 64)
	orig, err2 := strconv.ParseFloat(origQty, 64)
	if err1 != nil || err2 != nil || orig <= 0 {
		return 0
	}
	pct := exec / orig * 100
	return float64(int(pct*100+0.5)) / 100
}

// orderData normalizes an order ack into the envelope payload.
func orderData(ack *types.OrderAck) map[string]any {
	status := types.OrderStatus(ack.Status)
	return map[string]any{
		"orderId":        ack.OrderID,
		"clientOrderId":  ack.ClientOrderID,
		"symbol":         ack.Symbol,
		"status":         ack.Status,
		"side":           ack.Side,
		"type":           ack.Type,
		"price":          ack.Price,
		"origQty":        ack.OrigQty,
		"executedQty":    ack.ExecutedQty,
		"avgPrice":       ack.AvgPrice,
		"stopPrice":      ack.StopPrice,
		"timeInForce":    ack.TimeInForce,
		"reduceOnly":     ack.ReduceOnly,
		"closePosition":  ack.ClosePosition,
		"positionSide":   ack.PositionSide,
		"workingType":    ack.WorkingType,
		"updateTime":     ack.UpdateTime,
		"isActive":       status.IsActive(),
		"isFilled":       status == types.StatusFilled,
		"fillPercentage": fillPercentage(ack.ExecutedQty, ack.OrigQty),
	}
}
