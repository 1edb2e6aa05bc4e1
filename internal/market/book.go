// Package market provides REST market data access for the supported
// symbols: depth snapshots, aggregated trades, mark price and 24h ticker,
// plus the in-memory trade ring buffers the analytics read from.
//
// Snapshot wraps one depth response and derives the values the analytics
// layer consumes: best bid/ask, mid, spread, and parsed float levels.
package market

import (
	"strconv"
	"time"

	"futures-agent/pkg/types"
)

// Snapshot is a parsed depth snapshot for one symbol.
// Bids descend, asks ascend, as delivered by the exchange.
type Snapshot struct {
	Symbol    string
	Bids      []types.PriceLevel
	Asks      []types.PriceLevel
	EventTime int64
	Taken     time.Time
}

// ParseDepth converts the wire depth response into a Snapshot.
func ParseDepth(symbol string, resp *types.DepthResponse) *Snapshot {
	return &Snapshot{
		Symbol:    symbol,
		Bids:      parseLevels(resp.Bids),
		Asks:      parseLevels(resp.Asks),
		EventTime: resp.EventTime,
		Taken:     time.Now(),
	}
}

func parseLevels(raw [][2]string) []types.PriceLevel {
	levels := make([]types.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, _ := strconv.ParseFloat(pair[0], 64)
		qty, _ := strconv.ParseFloat(pair[1], 64)
		if price <= 0 {
			continue
		}
		levels = append(levels, types.PriceLevel{Price: price, Qty: qty})
	}
	return levels
}

// BestBidAsk returns the top of book. ok is false on an empty side.
func (s *Snapshot) BestBidAsk() (bid, ask float64, ok bool) {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return 0, 0, false
	}
	return s.Bids[0].Price, s.Asks[0].Price, true
}

// MidPrice returns (bestBid + bestAsk) / 2.
func (s *Snapshot) MidPrice() (float64, bool) {
	bid, ask, ok := s.BestBidAsk()
	if !ok || (bid == 0 && ask == 0) {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// Spread returns the absolute spread and its size in basis points of mid.
func (s *Snapshot) Spread() (abs, bps float64, ok bool) {
	bid, ask, ok := s.BestBidAsk()
	if !ok {
		return 0, 0, false
	}
	mid := (bid + ask) / 2
	if mid <= 0 {
		return 0, 0, false
	}
	abs = ask - bid
	return abs, abs / mid * 10000, true
}

// Crossed reports a bid at or above the ask, which marks the snapshot
// unusable for queue math.
func (s *Snapshot) Crossed() bool {
	bid, ask, ok := s.BestBidAsk()
	return ok && bid >= ask
}

// IsStale reports whether the snapshot is older than maxAge.
func (s *Snapshot) IsStale(maxAge time.Duration) bool {
	return s.Taken.IsZero() || time.Since(s.Taken) > maxAge
}

// DepthWithin sums quantity on each side within pct of mid.
func (s *Snapshot) DepthWithin(pct float64) (bidQty, askQty float64) {
	mid, ok := s.MidPrice()
	if !ok {
		return 0, 0
	}
	lo, hi := mid*(1-pct/100), mid*(1+pct/100)
	for _, l := range s.Bids {
		if l.Price >= lo {
			bidQty += l.Qty
		}
	}
	for _, l := range s.Asks {
		if l.Price <= hi {
			askQty += l.Qty
		}
	}
	return bidQty, askQty
}

// Imbalance returns (bidQty-askQty)/(bidQty+askQty) over the top n levels.
// Zero when both sides are empty.
func (s *Snapshot) Imbalance(n int) float64 {
	var bidQty, askQty float64
	for i, l := range s.Bids {
		if i >= n {
			break
		}
		bidQty += l.Qty
	}
	for i, l := range s.Asks {
		if i >= n {
			break
		}
		askQty += l.Qty
	}
	total := bidQty + askQty
	if total <= 0 {
		return 0
	}
	return (bidQty - askQty) / total
}
