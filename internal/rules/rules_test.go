package rules

import (
	"context"
	"encoding/json"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"futures-agent/pkg/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func btcInfo() types.SymbolInfo {
	return types.SymbolInfo{
		Symbol:            "BTCUSDT",
		Status:            "TRADING",
		PricePrecision:    2,
		QuantityPrecision: 3,
		Filters: []types.SymbolFilter{
			{FilterType: "PRICE_FILTER", TickSize: "0.10"},
			{FilterType: "LOT_SIZE", StepSize: "0.001", MinQty: "0.001", MaxQty: "1000"},
			{FilterType: "MARKET_LOT_SIZE", StepSize: "0.001", MinQty: "0.001", MaxQty: "120"},
			{FilterType: "MIN_NOTIONAL", Notional: "100"},
		},
	}
}

func TestNormalizeSymbol(t *testing.T) {
	t.Parallel()

	if got, err := NormalizeSymbol("btcusdt"); err != nil || got != "BTCUSDT" {
		t.Errorf("NormalizeSymbol(btcusdt) = %q, %v", got, err)
	}
	if got, err := NormalizeSymbol(" ethusdt "); err != nil || got != "ETHUSDT" {
		t.Errorf("NormalizeSymbol( ethusdt ) = %q, %v", got, err)
	}
	if _, err := NormalizeSymbol("SOLUSDT"); err == nil {
		t.Error("SOLUSDT should be rejected")
	}
	if _, err := NormalizeSymbol(""); err == nil {
		t.Error("empty symbol should be rejected")
	}
}

func TestParseSymbolRules(t *testing.T) {
	t.Parallel()
	r := ParseSymbolRules(btcInfo())

	if !r.TickSize.Equal(dec("0.10")) {
		t.Errorf("TickSize = %s, want 0.10", r.TickSize)
	}
	if !r.StepSize.Equal(dec("0.001")) {
		t.Errorf("StepSize = %s, want 0.001", r.StepSize)
	}
	if !r.MinNotional.Equal(dec("100")) {
		t.Errorf("MinNotional = %s, want 100", r.MinNotional)
	}
	if !r.MarketMaxQty.Equal(dec("120")) {
		t.Errorf("MarketMaxQty = %s, want 120", r.MarketMaxQty)
	}
}

func TestParseSymbolRulesDefaults(t *testing.T) {
	t.Parallel()
	r := ParseSymbolRules(types.SymbolInfo{Symbol: "ETHUSDT"})

	if !r.TickSize.Equal(dec("0.01")) {
		t.Errorf("default TickSize = %s, want 0.01", r.TickSize)
	}
	if !r.StepSize.Equal(dec("0.001")) {
		t.Errorf("default StepSize = %s, want 0.001", r.StepSize)
	}
	if !r.MinNotional.Equal(dec("5")) {
		t.Errorf("default MinNotional = %s, want 5", r.MinNotional)
	}
	// Market lot falls back to the limit lot when absent.
	if !r.MarketStepSize.Equal(r.StepSize) {
		t.Errorf("MarketStepSize = %s, want fallback %s", r.MarketStepSize, r.StepSize)
	}
}

func TestFloorToIncrement(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value, inc, want string
	}{
		{"50123.456", "0.10", "50123.4"},
		{"0.0019", "0.001", "0.001"},
		{"0.0009", "0.001", "0"},
		{"100", "0.01", "100"},
		{"1.005", "0.01", "1"},
	}
	for _, tt := range tests {
		got := FloorToIncrement(dec(tt.value), dec(tt.inc))
		if !got.Equal(dec(tt.want)) {
			t.Errorf("FloorToIncrement(%s, %s) = %s, want %s", tt.value, tt.inc, got, tt.want)
		}
	}
}

func TestValidateQuantity(t *testing.T) {
	t.Parallel()
	r := ParseSymbolRules(btcInfo())

	if _, err := r.ValidateQuantity(dec("0"), false); err == nil {
		t.Error("zero quantity should fail")
	}
	if _, err := r.ValidateQuantity(dec("0.0001"), false); err == nil {
		t.Error("quantity rounding to 0 should fail")
	}
	if _, err := r.ValidateQuantity(dec("2000"), false); err == nil {
		t.Error("quantity above max should fail")
	}

	got, err := r.ValidateQuantity(dec("0.1234"), false)
	if err != nil {
		t.Fatalf("ValidateQuantity: %v", err)
	}
	if !got.Equal(dec("0.123")) {
		t.Errorf("rounded qty = %s, want 0.123", got)
	}

	// Market orders use the market lot bounds.
	if _, err := r.ValidateQuantity(dec("500"), true); err == nil {
		t.Error("market quantity above market max should fail")
	}
	if _, err := r.ValidateQuantity(dec("500"), false); err != nil {
		t.Errorf("limit quantity 500 should pass: %v", err)
	}
}

func TestCheckNotional(t *testing.T) {
	t.Parallel()
	r := ParseSymbolRules(btcInfo())

	if err := r.CheckNotional(dec("50000"), dec("0.001")); err == nil {
		t.Error("notional 50 below minimum 100 should fail")
	}
	if err := r.CheckNotional(dec("50000"), dec("0.003")); err != nil {
		t.Errorf("notional 150 should pass: %v", err)
	}
}

func TestSuggestMinQty(t *testing.T) {
	t.Parallel()
	r := ParseSymbolRules(btcInfo())

	qty := r.SuggestMinQty(dec("50000"), false)
	if qty.Sign() <= 0 {
		t.Fatal("suggested qty should be positive")
	}
	if qty.Mul(dec("50000")).LessThan(r.MinNotional) {
		t.Errorf("suggested qty %s does not clear min notional", qty)
	}
	// Must be step-aligned.
	if !FloorToIncrement(qty, r.StepSize).Equal(qty) {
		t.Errorf("suggested qty %s not aligned to step %s", qty, r.StepSize)
	}
}

func TestTierFor(t *testing.T) {
	t.Parallel()
	tiers := []types.LeverageBracket{
		{Bracket: 1, InitialLeverage: 125, NotionalFloor: 0, NotionalCap: 50000, MaintMarginRatio: 0.004},
		{Bracket: 2, InitialLeverage: 100, NotionalFloor: 50000, NotionalCap: 250000, MaintMarginRatio: 0.005},
		{Bracket: 3, InitialLeverage: 50, NotionalFloor: 250000, NotionalCap: 1000000, MaintMarginRatio: 0.01},
	}

	if tier, ok := TierFor(tiers, 10000); !ok || tier.Bracket != 1 {
		t.Errorf("TierFor(10000) = %+v, %v", tier, ok)
	}
	// Floor is inclusive, cap exclusive.
	if tier, ok := TierFor(tiers, 50000); !ok || tier.Bracket != 2 {
		t.Errorf("TierFor(50000) = %+v, %v", tier, ok)
	}
	// Above the last cap still lands in the last tier.
	if tier, ok := TierFor(tiers, 5000000); !ok || tier.Bracket != 3 {
		t.Errorf("TierFor(5000000) = %+v, %v", tier, ok)
	}
}

// fakeExchange serves canned exchange-info and bracket payloads and counts
// fetches so cache behavior is observable.
type fakeExchange struct {
	infoCalls    atomic.Int64
	bracketCalls atomic.Int64
}

func (f *fakeExchange) Get(ctx context.Context, path string, params url.Values, result any) (json.RawMessage, error) {
	f.infoCalls.Add(1)
	info := types.ExchangeInfo{Symbols: []types.SymbolInfo{btcInfo(), {Symbol: "ETHUSDT"}, {Symbol: "SOLUSDT"}}}
	raw, _ := json.Marshal(info)
	if result != nil {
		_ = json.Unmarshal(raw, result)
	}
	return raw, nil
}

func (f *fakeExchange) SignedGet(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	f.bracketCalls.Add(1)
	rows := []types.LeverageBracketRow{{
		Symbol: "BTCUSDT",
		Brackets: []types.LeverageBracket{
			{Bracket: 1, InitialLeverage: 125, NotionalFloor: 0, NotionalCap: 50000},
		},
	}}
	return json.Marshal(rows)
}

func TestServiceCachesExchangeInfo(t *testing.T) {
	t.Parallel()
	fake := &fakeExchange{}
	svc := NewService(fake, discardLogger())

	for i := 0; i < 3; i++ {
		r, err := svc.RulesFor(context.Background(), "BTCUSDT")
		if err != nil {
			t.Fatalf("RulesFor: %v", err)
		}
		if !r.TickSize.Equal(dec("0.10")) {
			t.Errorf("TickSize = %s", r.TickSize)
		}
	}
	if calls := fake.infoCalls.Load(); calls != 1 {
		t.Errorf("info fetches = %d, want 1 (cached)", calls)
	}

	// Symbols outside the allowlist never get rules even if listed.
	if _, err := svc.RulesFor(context.Background(), "SOLUSDT"); err == nil {
		t.Error("SOLUSDT should have no rules")
	}
}

func TestServiceMaxLeverage(t *testing.T) {
	t.Parallel()
	fake := &fakeExchange{}
	svc := NewService(fake, discardLogger())

	max, err := svc.MaxLeverage(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("MaxLeverage: %v", err)
	}
	if max != 125 {
		t.Errorf("max leverage = %d, want 125", max)
	}
	_, _ = svc.BracketsFor(context.Background(), "BTCUSDT")
	if calls := fake.bracketCalls.Load(); calls != 1 {
		t.Errorf("bracket fetches = %d, want 1 (cached)", calls)
	}
}
