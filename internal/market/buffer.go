package market

import (
	"sync"
	"time"

	"futures-agent/pkg/types"
)

const (
	// Buffer retention bounds. Whichever trips first wins.
	bufferMaxAge   = 360 * time.Minute
	bufferMaxCount = 500_000
)

// TradeBuffer is a bounded per-symbol buffer of trades ordered by
// aggregate trade id, fed by the stream and backfilled from REST history.
// Readers get copies so analytics can work without holding the lock.
type TradeBuffer struct {
	mu     sync.RWMutex
	symbol string
	trades []types.Trade
	// Oldest wall time the buffer is known to cover, set when a REST
	// backfill fetched a full window. Zero means stream-only.
	coveredMs int64
}

// NewTradeBuffer creates an empty buffer for symbol.
func NewTradeBuffer(symbol string) *TradeBuffer {
	return &TradeBuffer{symbol: symbol}
}

// Symbol returns the buffer's symbol.
func (b *TradeBuffer) Symbol() string { return b.symbol }

// Add appends one trade, evicting the oldest when over capacity.
func (b *TradeBuffer) Add(t types.Trade) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trades = append(b.trades, t)
	if len(b.trades) > bufferMaxCount {
		b.trades = b.trades[len(b.trades)-bufferMaxCount:]
	}
}

// Backfill merges REST-fetched trades into the buffer, deduplicating by
// aggregate trade id against what the stream already delivered. Both the
// buffer and the incoming slice are ordered by id, so a single merge pass
// preserves time order.
func (b *TradeBuffer) Backfill(trades []types.Trade) {
	if len(trades) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]types.Trade, 0, len(b.trades)+len(trades))
	i, j := 0, 0
	for i < len(b.trades) && j < len(trades) {
		switch {
		case b.trades[i].AggID == trades[j].AggID:
			merged = append(merged, b.trades[i])
			i++
			j++
		case b.trades[i].AggID < trades[j].AggID:
			merged = append(merged, b.trades[i])
			i++
		default:
			merged = append(merged, trades[j])
			j++
		}
	}
	merged = append(merged, b.trades[i:]...)
	merged = append(merged, trades[j:]...)
	if len(merged) > bufferMaxCount {
		merged = merged[len(merged)-bufferMaxCount:]
	}
	b.trades = merged
}

// MarkCovered records that history from fromMs onward has been fetched,
// so later lookbacks inside that window can be served from the buffer
// even when no trade printed right at the window edge.
func (b *TradeBuffer) MarkCovered(fromMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.coveredMs == 0 || fromMs < b.coveredMs {
		b.coveredMs = fromMs
	}
}

// CoveredFrom returns the backfill coverage watermark, zero when unset.
func (b *TradeBuffer) CoveredFrom() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.coveredMs
}

// Prune drops trades older than the retention window. Called periodically
// by the stream feed.
func (b *TradeBuffer) Prune(now time.Time) {
	cutoff := now.Add(-bufferMaxAge).UnixMilli()
	b.mu.Lock()
	defer b.mu.Unlock()
	i := 0
	for i < len(b.trades) && b.trades[i].TimestampMs < cutoff {
		i++
	}
	if i > 0 {
		b.trades = append([]types.Trade(nil), b.trades[i:]...)
	}
	// Coverage cannot reach past what retention just dropped.
	if b.coveredMs != 0 && cutoff > b.coveredMs {
		b.coveredMs = cutoff
	}
}

// Len returns the number of buffered trades.
func (b *TradeBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.trades)
}

// Since returns a copy of all trades at or after sinceMs.
func (b *TradeBuffer) Since(sinceMs int64) []types.Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()
	// Trades arrive roughly time-ordered; scan back from the tail.
	i := len(b.trades)
	for i > 0 && b.trades[i-1].TimestampMs >= sinceMs {
		i--
	}
	out := make([]types.Trade, len(b.trades)-i)
	copy(out, b.trades[i:])
	return out
}

// All returns a copy of the whole buffer.
func (b *TradeBuffer) All() []types.Trade {
	return b.Since(0)
}

// Span returns the first and last trade timestamps, or zeros when empty.
func (b *TradeBuffer) Span() (firstMs, lastMs int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.trades) == 0 {
		return 0, 0
	}
	return b.trades[0].TimestampMs, b.trades[len(b.trades)-1].TimestampMs
}
