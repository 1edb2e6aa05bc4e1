package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"testing"

	"futures-agent/internal/exchange"
	"futures-agent/internal/rules"
	"futures-agent/pkg/types"
)

// fakeExchange scripts responses per method+path and records the last
// parameters each endpoint saw.
type fakeExchange struct {
	responses map[string]string
	errors    map[string]*exchange.APIError
	lastParam map[string]url.Values
}

func newFakeExchange() *fakeExchange {
	f := &fakeExchange{
		responses: make(map[string]string),
		errors:    make(map[string]*exchange.APIError),
		lastParam: make(map[string]url.Values),
	}
	f.responses["GET /fapi/v1/exchangeInfo"] = `{"symbols":[
		{"symbol":"BTCUSDT","status":"TRADING","pricePrecision":2,"quantityPrecision":3,"filters":[
			{"filterType":"PRICE_FILTER","tickSize":"0.10"},
			{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001","maxQty":"1000"},
			{"filterType":"MIN_NOTIONAL","notional":"100"}]},
		{"symbol":"ETHUSDT","status":"TRADING","filters":[]}]}`
	f.responses["SIGNED_GET /fapi/v1/leverageBracket"] = `[{"symbol":"BTCUSDT","brackets":[
		{"bracket":1,"initialLeverage":125,"notionalFloor":0,"notionalCap":50000,"maintMarginRatio":0.004},
		{"bracket":2,"initialLeverage":50,"notionalFloor":50000,"notionalCap":1000000,"maintMarginRatio":0.01}]},
		{"symbol":"ETHUSDT","brackets":[{"bracket":1,"initialLeverage":100,"notionalFloor":0,"notionalCap":50000,"maintMarginRatio":0.005}]}]`
	return f
}

func (f *fakeExchange) do(key string, params url.Values) (json.RawMessage, error) {
	f.lastParam[key] = params
	if apiErr, ok := f.errors[key]; ok {
		return nil, fmt.Errorf("%s: %w", key, apiErr)
	}
	body, ok := f.responses[key]
	if !ok {
		return nil, fmt.Errorf("no scripted response for %s", key)
	}
	return json.RawMessage(body), nil
}

func (f *fakeExchange) Get(ctx context.Context, path string, params url.Values, result any) (json.RawMessage, error) {
	raw, err := f.do("GET "+path, params)
	if err != nil {
		return nil, err
	}
	if result != nil {
		if err := json.Unmarshal(raw, result); err != nil {
			return raw, err
		}
	}
	return raw, nil
}

func (f *fakeExchange) SignedGet(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	return f.do("SIGNED_GET "+path, params)
}

func (f *fakeExchange) SignedPost(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	return f.do("SIGNED_POST "+path, params)
}

func (f *fakeExchange) SignedPut(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	return f.do("SIGNED_PUT "+path, params)
}

func (f *fakeExchange) SignedDelete(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	return f.do("SIGNED_DELETE "+path, params)
}

func testService(fake *fakeExchange) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(fake, rules.NewService(fake, logger), logger)
}

func errType(t *testing.T, res types.Result) string {
	t.Helper()
	if res.Success {
		t.Fatalf("expected failure, got success: %+v", res.Data)
	}
	if res.Error == nil {
		t.Fatal("failure without error info")
	}
	return res.Error.Type
}

// ————————————————————————————————————————————————————————————————————————
// PlaceOrder
// ————————————————————————————————————————————————————————————————————————

func TestPlaceLimitOrderRoundsAndSubmits(t *testing.T) {
	t.Parallel()
	fake := newFakeExchange()
	fake.responses["SIGNED_POST /fapi/v1/order"] = `{"orderId":100,"clientOrderId":"abc","symbol":"BTCUSDT","status":"NEW","side":"BUY","type":"LIMIT","price":"50000.10","origQty":"0.123","executedQty":"0","avgPrice":"0","timeInForce":"GTC","updateTime":1}`
	svc := testService(fake)

	res := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		Symbol:    "btcusdt",
		Side:      "buy",
		OrderType: "LIMIT",
		Price:     50000.19,
		Quantity:  0.1239,
	})
	if !res.Success {
		t.Fatalf("PlaceOrder failed: %+v", res.Error)
	}

	params := fake.lastParam["SIGNED_POST /fapi/v1/order"]
	if got := params.Get("price"); got != "50000.1" {
		t.Errorf("price = %s, want 50000.1 (floored to tick)", got)
	}
	if got := params.Get("quantity"); got != "0.123" {
		t.Errorf("quantity = %s, want 0.123 (floored to step)", got)
	}
	if got := params.Get("timeInForce"); got != "GTC" {
		t.Errorf("timeInForce = %s, want default GTC", got)
	}

	data := res.Data.(map[string]any)
	if data["orderId"].(int64) != 100 {
		t.Errorf("orderId = %v", data["orderId"])
	}
	if data["isActive"] != true {
		t.Error("NEW order should be active")
	}
}

func TestPlacePostOnlyBecomesGTX(t *testing.T) {
	t.Parallel()
	fake := newFakeExchange()
	fake.responses["SIGNED_POST /fapi/v1/order"] = `{"orderId":1,"symbol":"BTCUSDT","status":"NEW","origQty":"0.01","executedQty":"0"}`
	svc := testService(fake)

	res := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		Symbol: "BTCUSDT", Side: "SELL", OrderType: "LIMIT",
		Price: 50000, Quantity: 0.01, PostOnly: true,
	})
	if !res.Success {
		t.Fatalf("PlaceOrder failed: %+v", res.Error)
	}
	if got := fake.lastParam["SIGNED_POST /fapi/v1/order"].Get("timeInForce"); got != "GTX" {
		t.Errorf("timeInForce = %s, want GTX", got)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	t.Parallel()
	svc := testService(newFakeExchange())
	ctx := context.Background()

	cases := []struct {
		name string
		in   PlaceOrderInput
	}{
		{"unsupported symbol", PlaceOrderInput{Symbol: "DOGEUSDT", Side: "BUY", OrderType: "MARKET", Quantity: 1}},
		{"bad side", PlaceOrderInput{Symbol: "BTCUSDT", Side: "HOLD", OrderType: "MARKET", Quantity: 1}},
		{"bad type", PlaceOrderInput{Symbol: "BTCUSDT", Side: "BUY", OrderType: "ICEBERG", Quantity: 1}},
		{"post_only on market", PlaceOrderInput{Symbol: "BTCUSDT", Side: "BUY", OrderType: "MARKET", Quantity: 1, PostOnly: true}},
		{"limit without price", PlaceOrderInput{Symbol: "BTCUSDT", Side: "BUY", OrderType: "LIMIT", Quantity: 1}},
		{"stop market without trigger", PlaceOrderInput{Symbol: "BTCUSDT", Side: "SELL", OrderType: "STOP_MARKET", Quantity: 1}},
		{"trailing callback too high", PlaceOrderInput{Symbol: "BTCUSDT", Side: "SELL", OrderType: "TRAILING_STOP_MARKET", Quantity: 1, CallbackRate: 7}},
		{"no quantity", PlaceOrderInput{Symbol: "BTCUSDT", Side: "BUY", OrderType: "MARKET"}},
		{"below min notional", PlaceOrderInput{Symbol: "BTCUSDT", Side: "BUY", OrderType: "LIMIT", Price: 50000, Quantity: 0.001}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := svc.PlaceOrder(ctx, tc.in)
			if got := errType(t, res); got != types.ErrValidation {
				t.Errorf("error type = %s, want validation_error", got)
			}
		})
	}
}

func TestPlaceClosePositionSkipsQuantity(t *testing.T) {
	t.Parallel()
	fake := newFakeExchange()
	fake.responses["SIGNED_POST /fapi/v1/order"] = `{"orderId":2,"symbol":"BTCUSDT","status":"NEW","origQty":"0","executedQty":"0"}`
	svc := testService(fake)

	res := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		Symbol: "BTCUSDT", Side: "SELL", OrderType: "STOP_MARKET",
		StopPrice: 48000, ClosePosition: true,
	})
	if !res.Success {
		t.Fatalf("PlaceOrder failed: %+v", res.Error)
	}
	params := fake.lastParam["SIGNED_POST /fapi/v1/order"]
	if params.Get("closePosition") != "true" {
		t.Error("closePosition not set")
	}
	if params.Has("quantity") {
		t.Error("quantity should be omitted with closePosition")
	}
}

// ————————————————————————————————————————————————————————————————————————
// Amend / cancel / status
// ————————————————————————————————————————————————————————————————————————

func TestAmendOrderMapsErrors(t *testing.T) {
	t.Parallel()
	fake := newFakeExchange()
	fake.errors["SIGNED_PUT /fapi/v1/order"] = &exchange.APIError{Code: -2011, Message: "Unknown order sent."}
	svc := testService(fake)

	res := svc.AmendOrder(context.Background(), AmendOrderInput{
		Symbol: "BTCUSDT", OrderID: 5, Side: "BUY", Price: 49000,
	})
	if got := errType(t, res); got != types.ErrOrderNotFound {
		t.Errorf("error type = %s, want order_not_found", got)
	}

	fake.errors["SIGNED_PUT /fapi/v1/order"] = &exchange.APIError{Code: -4141, Message: "Order type can not be changed."}
	res = svc.AmendOrder(context.Background(), AmendOrderInput{
		Symbol: "BTCUSDT", OrderID: 5, Side: "BUY", Quantity: 0.01,
	})
	if got := errType(t, res); got != types.ErrInvalidOrderType {
		t.Errorf("error type = %s, want invalid_order_type", got)
	}
}

func TestAmendOrderRequiresChange(t *testing.T) {
	t.Parallel()
	svc := testService(newFakeExchange())

	res := svc.AmendOrder(context.Background(), AmendOrderInput{Symbol: "BTCUSDT", OrderID: 5, Side: "BUY"})
	if got := errType(t, res); got != types.ErrValidation {
		t.Errorf("error type = %s, want validation_error", got)
	}
	res = svc.AmendOrder(context.Background(), AmendOrderInput{Symbol: "BTCUSDT", Side: "BUY", Price: 100})
	if got := errType(t, res); got != types.ErrValidation {
		t.Errorf("missing ids: error type = %s, want validation_error", got)
	}
}

func TestCancelOrderNotFound(t *testing.T) {
	t.Parallel()
	fake := newFakeExchange()
	fake.errors["SIGNED_DELETE /fapi/v1/order"] = &exchange.APIError{Code: -2011, Message: "Unknown order sent."}
	svc := testService(fake)

	res := svc.CancelOrder(context.Background(), CancelOrderInput{Symbol: "BTCUSDT", OrderID: 9})
	if got := errType(t, res); got != types.ErrOrderNotFound {
		t.Errorf("error type = %s, want order_not_found", got)
	}
}

func TestGetOrderStatusFlags(t *testing.T) {
	t.Parallel()
	fake := newFakeExchange()
	fake.responses["SIGNED_GET /fapi/v1/order"] = `{"orderId":3,"symbol":"BTCUSDT","status":"PARTIALLY_FILLED","origQty":"1.000","executedQty":"0.250","avgPrice":"50000"}`
	svc := testService(fake)

	res := svc.GetOrderStatus(context.Background(), OrderStatusInput{Symbol: "BTCUSDT", OrderID: 3})
	if !res.Success {
		t.Fatalf("GetOrderStatus failed: %+v", res.Error)
	}
	data := res.Data.(map[string]any)
	if data["isPartiallyFilled"] != true || data["isActive"] != true {
		t.Errorf("flags = %+v", data)
	}
	if data["fillPercentage"].(float64) != 25.0 {
		t.Errorf("fillPercentage = %v, want 25", data["fillPercentage"])
	}

	fake.errors["SIGNED_GET /fapi/v1/order"] = &exchange.APIError{Code: -2013, Message: "Order does not exist."}
	res = svc.GetOrderStatus(context.Background(), OrderStatusInput{Symbol: "BTCUSDT", OrderID: 404})
	if got := errType(t, res); got != types.ErrOrderNotFound {
		t.Errorf("error type = %s, want order_not_found", got)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Batch cancel
// ————————————————————————————————————————————————————————————————————————

func TestCancelMultipleOrdersSummary(t *testing.T) {
	t.Parallel()
	fake := newFakeExchange()
	fake.responses["SIGNED_DELETE /fapi/v1/batchOrders"] = `[
		{"orderId":1,"clientOrderId":"a","symbol":"BTCUSDT","status":"CANCELED","origQty":"1","executedQty":"0"},
		{"code":-2011,"msg":"Unknown order sent."}]`
	svc := testService(fake)

	res := svc.CancelMultipleOrders(context.Background(), CancelBatchInput{
		Symbol: "BTCUSDT", OrderIDList: []int64{1, 2},
	})
	if !res.Success {
		t.Fatalf("CancelMultipleOrders failed: %+v", res.Error)
	}
	if got := fake.lastParam["SIGNED_DELETE /fapi/v1/batchOrders"].Get("orderIdList"); got != "[1,2]" {
		t.Errorf("orderIdList = %s, want [1,2]", got)
	}

	data := res.Data.(map[string]any)
	summary := data["summary"].(map[string]any)
	if summary["totalRequested"] != 2 || summary["successCount"] != 1 || summary["failedCount"] != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if summary["allSucceeded"] != false {
		t.Error("allSucceeded should be false")
	}
}

func TestCancelMultipleOrdersValidation(t *testing.T) {
	t.Parallel()
	svc := testService(newFakeExchange())
	ctx := context.Background()

	// Neither list.
	res := svc.CancelMultipleOrders(ctx, CancelBatchInput{Symbol: "BTCUSDT"})
	if got := errType(t, res); got != types.ErrValidation {
		t.Errorf("error type = %s", got)
	}
	// Both lists.
	res = svc.CancelMultipleOrders(ctx, CancelBatchInput{
		Symbol: "BTCUSDT", OrderIDList: []int64{1}, OrigClientOrderIDList: []string{"a"},
	})
	if got := errType(t, res); got != types.ErrValidation {
		t.Errorf("error type = %s", got)
	}
	// Too many.
	ids := make([]int64, 11)
	res = svc.CancelMultipleOrders(ctx, CancelBatchInput{Symbol: "BTCUSDT", OrderIDList: ids})
	if got := errType(t, res); got != types.ErrValidation {
		t.Errorf("error type = %s", got)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Leverage / margin type
// ————————————————————————————————————————————————————————————————————————

func TestSetLeverageShortCircuitsWhenUnchanged(t *testing.T) {
	t.Parallel()
	fake := newFakeExchange()
	fake.responses["SIGNED_GET /fapi/v2/positionRisk"] = `[{"symbol":"BTCUSDT","positionAmt":"0","leverage":"10","marginType":"cross"}]`
	svc := testService(fake)

	res := svc.SetLeverage(context.Background(), SetLeverageInput{Symbol: "BTCUSDT", Leverage: 10})
	if !res.Success {
		t.Fatalf("SetLeverage failed: %+v", res.Error)
	}
	if res.Data.(map[string]any)["already_set"] != true {
		t.Error("expected already_set")
	}
	if _, called := fake.lastParam["SIGNED_POST /fapi/v1/leverage"]; called {
		t.Error("leverage endpoint should not be called when unchanged")
	}
}

func TestSetLeverageNoNeedToChange(t *testing.T) {
	t.Parallel()
	fake := newFakeExchange()
	fake.responses["SIGNED_GET /fapi/v2/positionRisk"] = `[{"symbol":"BTCUSDT","positionAmt":"0","leverage":"5","marginType":"cross"}]`
	fake.errors["SIGNED_POST /fapi/v1/leverage"] = &exchange.APIError{Code: -4046, Message: "No need to change leverage."}
	svc := testService(fake)

	res := svc.SetLeverage(context.Background(), SetLeverageInput{Symbol: "BTCUSDT", Leverage: 20})
	if !res.Success {
		t.Fatalf("SetLeverage failed: %+v", res.Error)
	}
	if res.Data.(map[string]any)["already_set"] != true {
		t.Error("expected already_set on -4046")
	}
}

func TestSetLeverageBounds(t *testing.T) {
	t.Parallel()
	svc := testService(newFakeExchange())
	for _, lev := range []int{0, 126, -5} {
		res := svc.SetLeverage(context.Background(), SetLeverageInput{Symbol: "BTCUSDT", Leverage: lev})
		if got := errType(t, res); got != types.ErrValidation {
			t.Errorf("leverage %d: error type = %s", lev, got)
		}
	}
}

func TestSetMarginTypeNormalizesAndMapsPositionError(t *testing.T) {
	t.Parallel()
	fake := newFakeExchange()
	fake.responses["SIGNED_GET /fapi/v2/positionRisk"] = `[{"symbol":"BTCUSDT","positionAmt":"0.5","leverage":"10","marginType":"isolated"}]`
	fake.errors["SIGNED_POST /fapi/v1/marginType"] = &exchange.APIError{Code: -4048, Message: "Margin type cannot be changed if there exists position."}
	svc := testService(fake)

	res := svc.SetMarginType(context.Background(), SetMarginTypeInput{Symbol: "BTCUSDT", MarginType: "cross"})
	if got := errType(t, res); got != types.ErrPositionExists {
		t.Errorf("error type = %s, want position_exists", got)
	}
	if got := fake.lastParam["SIGNED_POST /fapi/v1/marginType"].Get("marginType"); got != "CROSSED" {
		t.Errorf("marginType param = %s, want CROSSED", got)
	}
}

func TestSetMarginTypeAlreadySet(t *testing.T) {
	t.Parallel()
	fake := newFakeExchange()
	fake.responses["SIGNED_GET /fapi/v2/positionRisk"] = `[{"symbol":"ETHUSDT","positionAmt":"0","leverage":"10","marginType":"isolated"}]`
	svc := testService(fake)

	res := svc.SetMarginType(context.Background(), SetMarginTypeInput{Symbol: "ETHUSDT", MarginType: "ISOLATED"})
	if !res.Success {
		t.Fatalf("SetMarginType failed: %+v", res.Error)
	}
	if res.Data.(map[string]any)["already_set"] != true {
		t.Error("expected already_set")
	}
}

// ————————————————————————————————————————————————————————————————————————
// Reads
// ————————————————————————————————————————————————————————————————————————

func TestGetPositionRiskFallsBackToV3(t *testing.T) {
	t.Parallel()
	fake := newFakeExchange()
	fake.errors["SIGNED_GET /fapi/v2/positionRisk"] = &exchange.APIError{Code: -1, Message: "gone"}
	fake.responses["SIGNED_GET /fapi/v3/positionRisk"] = `[
		{"symbol":"BTCUSDT","positionAmt":"-0.5","entryPrice":"50000","markPrice":"49000","unRealizedProfit":"500","leverage":"10","marginType":"cross","positionSide":"BOTH"},
		{"symbol":"DOGEUSDT","positionAmt":"1000","leverage":"5"}]`
	svc := testService(fake)

	res := svc.GetPositionRisk(context.Background(), PositionRiskInput{})
	if !res.Success {
		t.Fatalf("GetPositionRisk failed: %+v", res.Error)
	}
	positions := res.Data.(map[string]any)["positions"].([]map[string]any)
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1 (allowlist filtered)", len(positions))
	}
	p := positions[0]
	if p["isShort"] != true || p["hasPosition"] != true || p["isLong"] != false {
		t.Errorf("direction flags = %+v", p)
	}
}

func TestGetCommissionRate(t *testing.T) {
	t.Parallel()
	fake := newFakeExchange()
	fake.responses["SIGNED_GET /fapi/v1/commissionRate"] = `{"symbol":"BTCUSDT","makerCommissionRate":"0.0002","takerCommissionRate":"0.0005"}`
	svc := testService(fake)

	res := svc.GetCommissionRate(context.Background(), CommissionRateInput{Symbol: "BTCUSDT"})
	if !res.Success {
		t.Fatalf("GetCommissionRate failed: %+v", res.Error)
	}
	data := res.Data.(map[string]any)
	if data["maker"].(float64) != 0.0002 || data["takerPercent"].(float64) != 0.05 {
		t.Errorf("rates = %+v", data)
	}
}

func TestGetExchangeInfo(t *testing.T) {
	t.Parallel()
	svc := testService(newFakeExchange())

	res := svc.GetExchangeInfo(context.Background(), ExchangeInfoInput{Symbol: "BTCUSDT"})
	if !res.Success {
		t.Fatalf("GetExchangeInfo failed: %+v", res.Error)
	}
	data := res.Data.(map[string]any)
	if data["tickSize"] != "0.1" {
		t.Errorf("tickSize = %v", data["tickSize"])
	}
	if data["maxLeverage"] != 125 {
		t.Errorf("maxLeverage = %v, want 125", data["maxLeverage"])
	}
}

func TestGetLeverageBracketsWithNotional(t *testing.T) {
	t.Parallel()
	svc := testService(newFakeExchange())

	res := svc.GetLeverageBrackets(context.Background(), LeverageBracketsInput{Symbol: "BTCUSDT", Notional: 75000})
	if !res.Success {
		t.Fatalf("GetLeverageBrackets failed: %+v", res.Error)
	}
	data := res.Data.(map[string]any)
	tier := data["tierForNotional"].(map[string]any)
	if tier["bracket"] != 2 || tier["initialLeverage"] != 50 {
		t.Errorf("tier = %+v", tier)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Plan validation
// ————————————————————————————————————————————————————————————————————————

func planErrorCodes(t *testing.T, res types.Result) map[string]bool {
	t.Helper()
	if !res.Success {
		t.Fatalf("ValidateOrderPlan failed: %+v", res.Error)
	}
	codes := make(map[string]bool)
	for _, issue := range res.Data.(map[string]any)["errors"].([]planIssue) {
		codes[issue.Code] = true
	}
	return codes
}

func TestValidateOrderPlanHappyPath(t *testing.T) {
	t.Parallel()
	svc := testService(newFakeExchange())

	res := svc.ValidateOrderPlan(context.Background(), ValidatePlanInput{
		Symbol: "BTCUSDT", Side: "BUY", EntryPrice: 50000, Quantity: 0.1,
		StopLoss: 49000,
		TakeProfits: []PlanTakeProfit{
			{Price: 51000, Quantity: 0.05},
			{Price: 52000, Quantity: 0.05},
		},
		Leverage: 20,
	})
	if !res.Success {
		t.Fatalf("ValidateOrderPlan failed: %+v", res.Error)
	}
	data := res.Data.(map[string]any)
	if data["valid"] != true {
		t.Errorf("plan should be valid, errors: %+v", data["errors"])
	}
}

func TestValidateOrderPlanDirectionErrors(t *testing.T) {
	t.Parallel()
	svc := testService(newFakeExchange())

	res := svc.ValidateOrderPlan(context.Background(), ValidatePlanInput{
		Symbol: "BTCUSDT", Side: "BUY", EntryPrice: 50000, Quantity: 0.1,
		StopLoss:    51000, // above entry for a long
		TakeProfits: []PlanTakeProfit{{Price: 49000, Quantity: 0.05}},
	})
	codes := planErrorCodes(t, res)
	if !codes["stop_loss_must_be_below_entry_for_long"] {
		t.Errorf("missing stop loss direction error: %v", codes)
	}
	if !codes["tp_1_must_be_above_entry_for_long"] {
		t.Errorf("missing tp direction error: %v", codes)
	}
}

func TestValidateOrderPlanNotionalAndQuantity(t *testing.T) {
	t.Parallel()
	svc := testService(newFakeExchange())

	res := svc.ValidateOrderPlan(context.Background(), ValidatePlanInput{
		Symbol: "BTCUSDT", Side: "BUY", EntryPrice: 50000, Quantity: 0.001,
		TakeProfits: []PlanTakeProfit{{Price: 51000, Quantity: 0.05}},
	})
	codes := planErrorCodes(t, res)
	if !codes["min_notional_fail"] {
		t.Errorf("missing min_notional_fail: %v", codes)
	}
	if !codes["tp_total_quantity_exceeds_entry"] {
		t.Errorf("missing tp_total_quantity_exceeds_entry: %v", codes)
	}
	if _, ok := res.Data.(map[string]any)["suggested_quantity"]; !ok {
		t.Error("missing suggested_quantity")
	}
}

func TestValidateOrderPlanLeverageAndRounding(t *testing.T) {
	t.Parallel()
	svc := testService(newFakeExchange())

	res := svc.ValidateOrderPlan(context.Background(), ValidatePlanInput{
		Symbol: "BTCUSDT", Side: "SELL", EntryPrice: 50000.17, Quantity: 0.1234,
		StopLoss: 51000, Leverage: 200,
	})
	codes := planErrorCodes(t, res)
	if !codes["leverage_exceeds_max"] {
		t.Errorf("missing leverage_exceeds_max: %v", codes)
	}

	data := res.Data.(map[string]any)
	var adjCodes []string
	for _, adj := range data["adjustments"].([]planIssue) {
		adjCodes = append(adjCodes, adj.Code)
	}
	found := map[string]bool{}
	for _, c := range adjCodes {
		found[c] = true
	}
	if !found["entry_price_rounded"] || !found["quantity_step_rounding_applied"] {
		t.Errorf("adjustments = %v", adjCodes)
	}
	adjusted := data["adjusted"].(map[string]any)
	if adjusted["entry_price"] != "50000.1" || adjusted["quantity"] != "0.123" {
		t.Errorf("adjusted = %+v", adjusted)
	}
}
