package analytics

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"futures-agent/internal/market"
	"futures-agent/internal/rules"
	"futures-agent/pkg/types"
)

// QueueFillInput estimates time-to-fill for passive orders at the given
// price levels.
type QueueFillInput struct {
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	PriceLevels     []float64 `json:"price_levels"`
	Quantity        float64   `json:"quantity"`
	LookbackSeconds int       `json:"lookback_seconds,omitempty"`
}

const maxQueueLevels = 5

// EstimateQueueFill scores each candidate price level: queue ahead,
// consumption rate, fill probability at 30 s and 60 s, ETA percentiles
// and an adverse-selection score, plus a book-wide health section and a
// recommended level.
func (s *Service) EstimateQueueFill(ctx context.Context, in QueueFillInput) types.Result {
	symbol, err := rules.NormalizeSymbol(in.Symbol)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}
	side := types.Side(in.Side)
	if side != types.BUY && side != types.SELL {
		return types.Fail(types.ErrValidation, "side must be BUY or SELL")
	}
	if len(in.PriceLevels) == 0 || len(in.PriceLevels) > maxQueueLevels {
		return types.Fail(types.ErrValidation,
			fmt.Sprintf("price_levels must contain 1 to %d entries", maxQueueLevels))
	}
	if in.Quantity <= 0 {
		return types.Fail(types.ErrValidation, "quantity must be greater than 0")
	}
	lookback := clampInt(in.LookbackSeconds, 5, 300)

	norm := QueueFillInput{Symbol: symbol, Side: string(side), PriceLevels: in.PriceLevels,
		Quantity: in.Quantity, LookbackSeconds: lookback}
	return s.cached("estimate_queue_fill", norm, queueCacheTTL, func() types.Result {
		return s.queueFill(ctx, symbol, side, norm)
	})
}

func (s *Service) queueFill(ctx context.Context, symbol string, side types.Side, in QueueFillInput) types.Result {
	snap, _, err := s.collector.Depth(ctx, symbol, 100)
	if err != nil {
		return types.Fail(types.ErrData, "depth fetch failed: "+err.Error())
	}
	mark, _, err := s.collector.MarkPrice(ctx, symbol)
	if err != nil {
		return types.Fail(types.ErrData, "mark price fetch failed: "+err.Error())
	}
	markPrice, err := strconv.ParseFloat(mark.MarkPrice, 64)
	if err != nil {
		return types.Fail(types.ErrData, "mark price unparseable: "+mark.MarkPrice)
	}

	lookback := in.LookbackSeconds
	trades, source, err := s.collector.EnsureTradeHistory(ctx, symbol, secondsDur(lookback))
	if err != nil {
		return types.Fail(types.ErrData, "trade history fetch failed: "+err.Error())
	}

	flow := computeFlow(trades)
	lambda := opposingQty(flow, side) / float64(lookback)
	obiMean, obiStdev := obiWindows(snap)
	var flags []string
	if flow.Count() < 5 {
		flags = append(flags, "thin_trade_sample")
	}
	if source == "rest" {
		flags = append(flags, "history_from_rest")
	}

	adverse, notes := adverseScore(side, trades, obiMean, s.now().UnixMilli(), int64(lookback)*1000)

	levels := make([]map[string]any, 0, len(in.PriceLevels))
	bestIdx, bestCost := -1, math.Inf(1)
	for i, price := range in.PriceLevels {
		q := queueAhead(snap, side, price) + in.Quantity
		p60 := expFillProb(q, lambda, 60)
		lvl := map[string]any{
			"price":          price,
			"queue_qty":      round4(q),
			"queue_usd":      round2(q * markPrice),
			"lambda_qty_sec": round4(lambda),
			"fill_prob_30s":  round4(expFillProb(q, lambda, 30)),
			"fill_prob_60s":  round4(p60),
			"eta_p50_sec":    round2(etaSeconds(q, lambda, 0.50)),
			"eta_p95_sec":    round2(etaSeconds(q, lambda, 0.95)),
		}
		levels = append(levels, lvl)
		// Recommendation: trade off fill speed against adverse selection.
		cost := -p60*0.4 + adverse*0.006
		if cost < bestCost {
			bestCost, bestIdx = cost, i
		}
	}

	_, spreadBps, _ := snap.Spread()
	bidQty, askQty := top10Qty(snap)
	opposite := snap.Asks
	if side == types.SELL {
		opposite = snap.Bids
	}

	data := map[string]any{
		"symbol":     symbol,
		"side":       string(side),
		"mark_price": markPrice,
		"levels":     levels,
		"adverse_selection": map[string]any{
			"score": round2(adverse),
			"notes": notes,
		},
		"market": map[string]any{
			"micro_health":  round2(microHealth(spreadBps, bidQty+askQty, markPrice, flow.Imbalance(), obiMean)),
			"spread_bps":    round2(spreadBps),
			"obi_mean":      round4(obiMean),
			"obi_stdev":     round4(obiStdev),
			"wall_risk":     wallRisk(opposite, 20),
			"trades_seen":   flow.Count(),
			"trades_source": source,
		},
	}
	if bestIdx >= 0 {
		data["recommended_price"] = in.PriceLevels[bestIdx]
	}

	res := types.OK(data)
	res.QualityFlags = capFlags(flags)
	return res
}

// opposingQty is the aggressor flow that consumes our side of the book.
func opposingQty(f flowStats, side types.Side) float64 {
	if side == types.BUY {
		return f.SellQty
	}
	return f.BuyQty
}

// adverseScore grades the short-window conditions that fill passive
// orders at the worst moments. Additive bands, capped at 100.
func adverseScore(side types.Side, trades []types.Trade, obi float64, nowMs, lookbackMs int64) (float64, []string) {
	shortMs := lookbackMs / 3
	if shortMs > 30_000 {
		shortMs = 30_000
	}
	recent := tradesAfter(trades, nowMs-shortMs)
	if len(recent) < 5 {
		return 50, []string{"thin trade sample, defaulting to neutral risk"}
	}

	var score float64
	var notes []string
	flow := computeFlow(recent)

	// Opposing aggressor flow: fills here mean the market is coming
	// through our level.
	share := opposingShare(flow, side)
	switch {
	case share > 0.7:
		score += 40
		notes = append(notes, "aggressor flow strongly against resting side")
	case share > 0.6:
		score += 30
		notes = append(notes, "aggressor flow leaning against resting side")
	}

	against := obi
	if side == types.BUY {
		against = -obi
	}
	switch {
	case against > 0.3:
		score += 30
	case against > 0.15:
		score += 25
	}

	mom := momentumPct(recent)
	if side == types.BUY {
		mom = -mom
	}
	switch {
	case mom > 0.05:
		score += 20
		notes = append(notes, "price momentum moving through the level")
	case mom > 0.02:
		score += 15
	}

	if hasLargeOpposing(flow, side) {
		score += 15
	}
	return clampFloat(score, 0, 100), capNotes(notes, 2)
}

func opposingShare(f flowStats, side types.Side) float64 {
	total := f.TotalQty()
	if total == 0 {
		return 0
	}
	return opposingQty(f, side) / total
}

// hasLargeOpposing reports an opposing trade at least five times the
// average trade size in the window.
func hasLargeOpposing(f flowStats, side types.Side) bool {
	if f.Count() == 0 {
		return false
	}
	avg := f.TotalQty() / float64(f.Count())
	maxOpp := f.MaxSellQty
	if side == types.SELL {
		maxOpp = f.MaxBuyQty
	}
	return avg > 0 && maxOpp >= 5*avg
}

// microHealth is a 0-100 book health score: penalties for wide spread,
// thin depth, one-sided flow and skewed OBI.
func microHealth(spreadBps, depth10Qty, markPrice, flowImb, obi float64) float64 {
	score := 100.0
	switch {
	case spreadBps > 5:
		score -= 25
	case spreadBps > 2:
		score -= 10
	}
	notional := depth10Qty * markPrice
	switch {
	case notional < 100_000:
		score -= 25
	case notional < 500_000:
		score -= 10
	}
	switch abs := math.Abs(flowImb); {
	case abs > 0.5:
		score -= 25
	case abs > 0.3:
		score -= 10
	}
	switch abs := math.Abs(obi); {
	case abs > 0.4:
		score -= 25
	case abs > 0.2:
		score -= 10
	}
	return clampFloat(score, 0, 100)
}

func top10Qty(snap *market.Snapshot) (bid, ask float64) {
	for i := 0; i < 10; i++ {
		if i < len(snap.Bids) {
			bid += snap.Bids[i].Qty
		}
		if i < len(snap.Asks) {
			ask += snap.Asks[i].Qty
		}
	}
	return bid, ask
}

func capNotes(notes []string, n int) []string {
	if len(notes) > n {
		return notes[:n]
	}
	return notes
}

func capFlags(flags []string) []string {
	if len(flags) > 6 {
		return flags[:6]
	}
	return flags
}

func secondsDur(s int) time.Duration { return time.Duration(s) * time.Second }
