package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"futures-agent/pkg/types"
)

func tradeAt(ms int64) types.Trade {
	return types.Trade{Price: 50000, Qty: 0.1, TimestampMs: ms}
}

// fakeREST replays canned JSON per path and counts calls.
type fakeREST struct {
	calls   atomic.Int64
	handler func(path string, params url.Values) (string, error)
}

func (f *fakeREST) Get(ctx context.Context, path string, params url.Values, result any) (json.RawMessage, error) {
	f.calls.Add(1)
	body, err := f.handler(path, params)
	if err != nil {
		return nil, err
	}
	raw := json.RawMessage(body)
	if result != nil {
		if err := json.Unmarshal(raw, result); err != nil {
			return raw, err
		}
	}
	return raw, nil
}

func testCollector(handler func(path string, params url.Values) (string, error)) (*Collector, *fakeREST) {
	fake := &fakeREST{handler: handler}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCollector(fake, logger), fake
}

func TestDepthCaching(t *testing.T) {
	t.Parallel()
	c, fake := testCollector(func(path string, params url.Values) (string, error) {
		if path != "/fapi/v1/depth" {
			return "", fmt.Errorf("unexpected path %s", path)
		}
		return `{"bids":[["50000","1.0"]],"asks":[["50001","2.0"]]}`, nil
	})

	snap, hit, err := c.Depth(context.Background(), "BTCUSDT", 20)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if hit {
		t.Error("first read should miss the cache")
	}
	if bid, _, _ := snap.BestBidAsk(); bid != 50000 {
		t.Errorf("bid = %v", bid)
	}

	_, hit, err = c.Depth(context.Background(), "BTCUSDT", 20)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if !hit {
		t.Error("second read should hit the cache")
	}
	if fake.calls.Load() != 1 {
		t.Errorf("REST calls = %d, want 1", fake.calls.Load())
	}

	// Different limit is a different cache key.
	_, hit, _ = c.Depth(context.Background(), "BTCUSDT", 50)
	if hit {
		t.Error("different limit should miss the cache")
	}
}

func TestRecentTradesConversion(t *testing.T) {
	t.Parallel()
	c, _ := testCollector(func(path string, params url.Values) (string, error) {
		return `[{"a":1,"p":"50000.5","q":"0.25","T":1700000000000,"m":true}]`, nil
	})

	trades, _, err := c.RecentTrades(context.Background(), "BTCUSDT", 100)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	tr := trades[0]
	if tr.Price != 50000.5 || tr.Qty != 0.25 || !tr.IsBuyerMaker {
		t.Errorf("trade = %+v", tr)
	}
	if !tr.AggressorSell() {
		t.Error("buyer-maker trade should be an aggressor sell")
	}
}

func TestRecentTradesFeedBuffer(t *testing.T) {
	t.Parallel()
	c, fake := testCollector(func(path string, params url.Values) (string, error) {
		return `[{"a":1,"p":"50000","q":"0.1","T":1700000000000,"m":false},
			{"a":2,"p":"50001","q":"0.2","T":1700000001000,"m":true}]`, nil
	})

	if _, _, err := c.RecentTrades(context.Background(), "BTCUSDT", 100); err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if got := c.Buffer("BTCUSDT").Len(); got != 2 {
		t.Fatalf("buffer length after RecentTrades = %d, want 2", got)
	}

	// Cache hit must not duplicate what was already pushed.
	if _, hit, _ := c.RecentTrades(context.Background(), "BTCUSDT", 100); !hit {
		t.Error("second read should hit the cache")
	}
	if got := c.Buffer("BTCUSDT").Len(); got != 2 {
		t.Errorf("buffer length after cache hit = %d, want 2", got)
	}
	if fake.calls.Load() != 1 {
		t.Errorf("REST calls = %d, want 1", fake.calls.Load())
	}
}

func TestHistoricalTradesPaginates(t *testing.T) {
	t.Parallel()
	var pages atomic.Int64
	c, _ := testCollector(func(path string, params url.Values) (string, error) {
		page := pages.Add(1)
		start, _ := strconv.ParseInt(params.Get("startTime"), 10, 64)
		if page == 1 {
			// Full page: cursor must advance past the last trade.
			rows := make([]string, aggTradesPageLimit)
			for i := range rows {
				rows[i] = fmt.Sprintf(`{"a":%d,"p":"50000","q":"0.1","T":%d,"m":false}`, i, start+int64(i))
			}
			return "[" + join(rows) + "]", nil
		}
		if start != 1000+aggTradesPageLimit-1+1 {
			return "", fmt.Errorf("page 2 startTime = %d", start)
		}
		return fmt.Sprintf(`[{"a":9999,"p":"50000","q":"0.1","T":%d,"m":false}]`, start), nil
	})

	trades, err := c.HistoricalTrades(context.Background(), "BTCUSDT", 1000, 1_000_000, 0)
	if err != nil {
		t.Fatalf("HistoricalTrades: %v", err)
	}
	if len(trades) != aggTradesPageLimit+1 {
		t.Errorf("trades = %d, want %d", len(trades), aggTradesPageLimit+1)
	}
	if pages.Load() != 2 {
		t.Errorf("pages fetched = %d, want 2", pages.Load())
	}
	if got := c.Buffer("BTCUSDT").Len(); got != aggTradesPageLimit+1 {
		t.Errorf("buffer length after history fetch = %d, want %d", got, aggTradesPageLimit+1)
	}
}

func join(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func TestEnsureTradeHistoryPrefersBuffer(t *testing.T) {
	t.Parallel()
	c, fake := testCollector(func(path string, params url.Values) (string, error) {
		return `[]`, nil
	})

	buf := c.Buffer("BTCUSDT")
	base := time.Now().Add(-10 * time.Minute).UnixMilli()
	for i := 0; i < 100; i++ {
		buf.Add(tradeAt(base + int64(i)*6000))
	}

	trades, source, err := c.EnsureTradeHistory(context.Background(), "BTCUSDT", 5*time.Minute)
	if err != nil {
		t.Fatalf("EnsureTradeHistory: %v", err)
	}
	if source != "buffer" {
		t.Errorf("source = %s, want buffer", source)
	}
	if len(trades) == 0 {
		t.Error("expected buffered trades")
	}
	if fake.calls.Load() != 0 {
		t.Errorf("REST calls = %d, want 0", fake.calls.Load())
	}
}

func TestEnsureTradeHistoryFallsBackToREST(t *testing.T) {
	t.Parallel()
	c, fake := testCollector(func(path string, params url.Values) (string, error) {
		return `[{"a":1,"p":"50000","q":"0.1","T":1700000000000,"m":false}]`, nil
	})

	_, source, err := c.EnsureTradeHistory(context.Background(), "ETHUSDT", 5*time.Minute)
	if err != nil {
		t.Fatalf("EnsureTradeHistory: %v", err)
	}
	if source != "rest" {
		t.Errorf("source = %s, want rest", source)
	}
	if fake.calls.Load() == 0 {
		t.Error("expected REST fetch for empty buffer")
	}
	if c.Buffer("ETHUSDT").Len() == 0 {
		t.Error("REST history not pushed into the buffer")
	}

	// The fetched history now lives in the buffer, so the same lookback
	// must not refetch.
	after := fake.calls.Load()
	_, source, err = c.EnsureTradeHistory(context.Background(), "ETHUSDT", 5*time.Minute)
	if err != nil {
		t.Fatalf("EnsureTradeHistory: %v", err)
	}
	if source != "buffer" {
		t.Errorf("second source = %s, want buffer", source)
	}
	if fake.calls.Load() != after {
		t.Errorf("REST calls = %d, want %d", fake.calls.Load(), after)
	}
}

func TestEnsureTradeHistoryMemoizesSparseWindow(t *testing.T) {
	t.Parallel()
	// The only trade in the window printed a minute ago, so the buffer's
	// oldest timestamp alone cannot prove the 5 minute lookback is
	// covered; the coverage watermark must.
	recent := time.Now().Add(-time.Minute).UnixMilli()
	c, fake := testCollector(func(path string, params url.Values) (string, error) {
		return fmt.Sprintf(`[{"a":1,"p":"50000","q":"0.1","T":%d,"m":false}]`, recent), nil
	})

	_, source, err := c.EnsureTradeHistory(context.Background(), "BTCUSDT", 5*time.Minute)
	if err != nil {
		t.Fatalf("EnsureTradeHistory: %v", err)
	}
	if source != "rest" {
		t.Errorf("source = %s, want rest", source)
	}

	after := fake.calls.Load()
	_, source, err = c.EnsureTradeHistory(context.Background(), "BTCUSDT", 5*time.Minute)
	if err != nil {
		t.Fatalf("EnsureTradeHistory: %v", err)
	}
	if source != "buffer" {
		t.Errorf("second source = %s, want buffer", source)
	}
	if fake.calls.Load() != after {
		t.Errorf("REST calls = %d, want %d", fake.calls.Load(), after)
	}
}

func TestMarkPriceAndTickerCaching(t *testing.T) {
	t.Parallel()
	c, fake := testCollector(func(path string, params url.Values) (string, error) {
		switch path {
		case "/fapi/v1/premiumIndex":
			return `{"symbol":"BTCUSDT","markPrice":"50000.10"}`, nil
		case "/fapi/v1/ticker/24hr":
			return `{"symbol":"BTCUSDT","lastPrice":"50001.00","quoteVolume":"123456789"}`, nil
		}
		return "", fmt.Errorf("unexpected path %s", path)
	})

	mark, _, err := c.MarkPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("MarkPrice: %v", err)
	}
	if mark.MarkPrice != "50000.10" {
		t.Errorf("markPrice = %s", mark.MarkPrice)
	}
	_, hit, _ := c.MarkPrice(context.Background(), "BTCUSDT")
	if !hit {
		t.Error("second mark read should hit the cache")
	}

	tick, _, err := c.Ticker24h(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Ticker24h: %v", err)
	}
	if tick.LastPrice != "50001.00" {
		t.Errorf("lastPrice = %s", tick.LastPrice)
	}
	if fake.calls.Load() != 2 {
		t.Errorf("REST calls = %d, want 2", fake.calls.Load())
	}
}
