package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"futures-agent/pkg/types"
)

// REST cache TTLs, tuned so repeated tool calls inside one agent turn
// reuse data instead of burning rate-limit budget.
const (
	depthTTL  = 500 * time.Millisecond
	tradesTTL = 500 * time.Millisecond
	markTTL   = time.Second
	tickerTTL = 2 * time.Second
)

const (
	aggTradesPageLimit = 1000
	historyMaxTrades   = 10_000
)

// Exchange is the REST surface the collector needs.
type Exchange interface {
	Get(ctx context.Context, path string, params url.Values, result any) (json.RawMessage, error)
}

// Collector serves market data reads with short-TTL caching and owns the
// per-symbol streamed trade buffers.
type Collector struct {
	client Exchange
	cache  *ttlCache
	logger *slog.Logger

	mu      sync.Mutex
	buffers map[string]*TradeBuffer
}

// NewCollector creates a collector backed by the REST client.
func NewCollector(client Exchange, logger *slog.Logger) *Collector {
	return &Collector{
		client:  client,
		cache:   newTTLCache(),
		logger:  logger.With("component", "market"),
		buffers: make(map[string]*TradeBuffer),
	}
}

// Buffer returns the streamed trade buffer for symbol, creating it on
// first use. The stream feed writes into these.
func (c *Collector) Buffer(symbol string) *TradeBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buffers[symbol]
	if !ok {
		b = NewTradeBuffer(symbol)
		c.buffers[symbol] = b
	}
	return b
}

// PruneBuffers drops aged-out trades from every buffer.
func (c *Collector) PruneBuffers() {
	c.mu.Lock()
	bufs := make([]*TradeBuffer, 0, len(c.buffers))
	for _, b := range c.buffers {
		bufs = append(bufs, b)
	}
	c.mu.Unlock()
	now := time.Now()
	for _, b := range bufs {
		b.Prune(now)
	}
}

// Depth fetches an order book snapshot. cacheHit reports whether the
// snapshot came from the short-TTL cache.
func (c *Collector) Depth(ctx context.Context, symbol string, limit int) (*Snapshot, bool, error) {
	if limit <= 0 {
		limit = 100
	}
	key := fmt.Sprintf("depth:%s:%d", symbol, limit)
	if v, ok := c.cache.get(key); ok {
		return v.(*Snapshot), true, nil
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	var resp types.DepthResponse
	if _, err := c.client.Get(ctx, "/fapi/v1/depth", params, &resp); err != nil {
		return nil, false, fmt.Errorf("fetch depth %s: %w", symbol, err)
	}

	snap := ParseDepth(symbol, &resp)
	c.cache.set(key, snap, depthTTL)
	return snap, false, nil
}

// DepthUncached always hits the exchange. Sampling loops use it so
// consecutive samples are never served from the content cache.
func (c *Collector) DepthUncached(ctx context.Context, symbol string, limit int) (*Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	var resp types.DepthResponse
	if _, err := c.client.Get(ctx, "/fapi/v1/depth", params, &resp); err != nil {
		return nil, fmt.Errorf("fetch depth %s: %w", symbol, err)
	}
	return ParseDepth(symbol, &resp), nil
}

// RecentTrades fetches the latest aggregated trades. Fetched trades also
// feed the symbol's stream buffer so buffer-only consumers benefit.
func (c *Collector) RecentTrades(ctx context.Context, symbol string, limit int) ([]types.Trade, bool, error) {
	if limit <= 0 || limit > aggTradesPageLimit {
		limit = 500
	}
	key := fmt.Sprintf("trades:%s:%d", symbol, limit)
	if v, ok := c.cache.get(key); ok {
		return v.([]types.Trade), true, nil
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	var rows []types.AggTradeRow
	if _, err := c.client.Get(ctx, "/fapi/v1/aggTrades", params, &rows); err != nil {
		return nil, false, fmt.Errorf("fetch trades %s: %w", symbol, err)
	}

	trades := convertRows(rows)
	c.Buffer(symbol).Backfill(trades)
	c.cache.set(key, trades, tradesTTL)
	return trades, false, nil
}

// HistoricalTrades pages through aggTrades over [startMs, endMs], advancing
// the start past the last trade of each page, up to maxTrades. Every fetched
// trade also feeds the symbol's stream buffer.
func (c *Collector) HistoricalTrades(ctx context.Context, symbol string, startMs, endMs int64, maxTrades int) ([]types.Trade, error) {
	if maxTrades <= 0 {
		maxTrades = historyMaxTrades
	}
	var out []types.Trade
	cursor := startMs
	for cursor < endMs && len(out) < maxTrades {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("startTime", strconv.FormatInt(cursor, 10))
		params.Set("endTime", strconv.FormatInt(endMs, 10))
		params.Set("limit", strconv.Itoa(aggTradesPageLimit))

		var rows []types.AggTradeRow
		if _, err := c.client.Get(ctx, "/fapi/v1/aggTrades", params, &rows); err != nil {
			c.Buffer(symbol).Backfill(out)
			return out, fmt.Errorf("fetch historical trades %s: %w", symbol, err)
		}
		if len(rows) == 0 {
			break
		}
		out = append(out, convertRows(rows)...)
		last := rows[len(rows)-1].Timestamp
		if last < cursor+1 {
			break
		}
		cursor = last + 1
		if len(rows) < aggTradesPageLimit {
			break
		}
	}
	c.Buffer(symbol).Backfill(out)
	if len(out) > maxTrades {
		out = out[:maxTrades]
	}
	return out, nil
}

// EnsureTradeHistory returns trades covering the lookback window, serving
// from the stream buffer when it reaches back far enough and falling back
// to paginated REST history otherwise. source is "buffer" or "rest".
func (c *Collector) EnsureTradeHistory(ctx context.Context, symbol string, lookback time.Duration) (trades []types.Trade, source string, err error) {
	now := time.Now()
	sinceMs := now.Add(-lookback).UnixMilli()

	buf := c.Buffer(symbol)
	firstMs, _ := buf.Span()
	covered := buf.Len() > 0 && firstMs <= sinceMs
	if !covered {
		if from := buf.CoveredFrom(); from != 0 && from <= sinceMs {
			covered = true
		}
	}
	if covered {
		return buf.Since(sinceMs), "buffer", nil
	}

	trades, err = c.HistoricalTrades(ctx, symbol, sinceMs, now.UnixMilli(), 0)
	if err != nil {
		return nil, "", err
	}
	// HistoricalTrades already backfilled the buffer; remember the window
	// so the next lookback inside it is served from there. A truncated
	// fetch covers less than asked, so it is not recorded.
	if len(trades) < historyMaxTrades {
		buf.MarkCovered(sinceMs)
	}
	return trades, "rest", nil
}

// MarkPrice fetches the mark/funding snapshot.
func (c *Collector) MarkPrice(ctx context.Context, symbol string) (*types.PremiumIndex, bool, error) {
	key := "mark:" + symbol
	if v, ok := c.cache.get(key); ok {
		return v.(*types.PremiumIndex), true, nil
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	var resp types.PremiumIndex
	if _, err := c.client.Get(ctx, "/fapi/v1/premiumIndex", params, &resp); err != nil {
		return nil, false, fmt.Errorf("fetch mark price %s: %w", symbol, err)
	}
	c.cache.set(key, &resp, markTTL)
	return &resp, false, nil
}

// Ticker24h fetches the rolling 24h stats.
func (c *Collector) Ticker24h(ctx context.Context, symbol string) (*types.Ticker24h, bool, error) {
	key := "ticker24h:" + symbol
	if v, ok := c.cache.get(key); ok {
		return v.(*types.Ticker24h), true, nil
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	var resp types.Ticker24h
	if _, err := c.client.Get(ctx, "/fapi/v1/ticker/24hr", params, &resp); err != nil {
		return nil, false, fmt.Errorf("fetch 24h ticker %s: %w", symbol, err)
	}
	c.cache.set(key, &resp, tickerTTL)
	return &resp, false, nil
}

func convertRows(rows []types.AggTradeRow) []types.Trade {
	trades := make([]types.Trade, 0, len(rows))
	for _, r := range rows {
		price, _ := strconv.ParseFloat(r.Price, 64)
		qty, _ := strconv.ParseFloat(r.Qty, 64)
		trades = append(trades, types.Trade{
			AggID:        r.AggID,
			Price:        price,
			Qty:          qty,
			TimestampMs:  r.Timestamp,
			IsBuyerMaker: r.IsBuyerMaker,
		})
	}
	return trades
}
