package analytics

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"futures-agent/internal/rules"
	"futures-agent/pkg/types"
)

// HorizonInput evaluates fill probability for passive levels across
// several time horizons under a Poisson arrival model.
type HorizonInput struct {
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	PriceLevels     []float64 `json:"price_levels"`
	Quantity        float64   `json:"quantity"`
	HorizonsSeconds []int     `json:"horizons_seconds,omitempty"`
	QueuePosition   string    `json:"queue_position,omitempty"`
	LookbackSeconds int       `json:"lookback_seconds,omitempty"`
}

const maxHorizons = 5

var defaultHorizons = []int{60, 300, 900}

// FillProbabilityHorizons runs the multi-horizon estimator. Identical
// inputs within the cache TTL return the memoized envelope.
func (s *Service) FillProbabilityHorizons(ctx context.Context, in HorizonInput) types.Result {
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
	horizons := in.HorizonsSeconds
	if len(horizons) == 0 {
		horizons = defaultHorizons
	}
	if len(horizons) > maxHorizons {
		return types.Fail(types.ErrValidation,
			fmt.Sprintf("at most %d horizons allowed", maxHorizons))
	}
	for _, h := range horizons {
		if h <= 0 {
			return types.Fail(types.ErrValidation, "horizons must be positive seconds")
		}
	}
	pos := in.QueuePosition
	if pos == "" {
		pos = "mid"
	}
	if pos != "best_case" && pos != "mid" && pos != "worst_case" {
		return types.Fail(types.ErrValidation, "queue_position must be best_case, mid or worst_case")
	}
	lookback := clampInt(in.LookbackSeconds, 30, 600)

	norm := HorizonInput{Symbol: symbol, Side: string(side), PriceLevels: in.PriceLevels,
		Quantity: in.Quantity, HorizonsSeconds: horizons, QueuePosition: pos, LookbackSeconds: lookback}
	return s.cached("fill_probability_horizons", norm, horizonCacheTTL, func() types.Result {
		return s.horizons(ctx, symbol, side, norm)
	})
}

func (s *Service) horizons(ctx context.Context, symbol string, side types.Side, in HorizonInput) types.Result {
	snap, _, err := s.collector.Depth(ctx, symbol, 100)
	if err != nil {
		return types.Fail(types.ErrData, "depth fetch failed: "+err.Error())
	}
	mark, _, err := s.collector.MarkPrice(ctx, symbol)
	if err != nil {
		return types.Fail(types.ErrData, "mark price fetch failed: "+err.Error())
	}
	markPrice, _ := strconv.ParseFloat(mark.MarkPrice, 64)

	trades, source, err := s.collector.EnsureTradeHistory(ctx, symbol, secondsDur(in.LookbackSeconds))
	if err != nil {
		return types.Fail(types.ErrData, "trade history fetch failed: "+err.Error())
	}

	flow := computeFlow(trades)
	oppQty := opposingQty(flow, side)
	oppCount := flow.SellCount
	if side == types.SELL {
		oppCount = flow.BuyCount
	}
	// Poisson works on arrival counts: convert queue qty into units of
	// the average opposing trade size.
	avgTrade := 0.0
	if oppCount > 0 {
		avgTrade = oppQty / float64(oppCount)
	}
	lambdaCount := float64(oppCount) / float64(in.LookbackSeconds)

	posFactor := map[string]float64{"best_case": 0, "mid": 0.5, "worst_case": 1}[in.QueuePosition]

	var flags []string
	if flow.Count() < 10 {
		flags = append(flags, "thin_trade_sample")
	}
	if avgTrade == 0 {
		flags = append(flags, "no_opposing_flow")
	}
	if source == "rest" {
		flags = append(flags, "history_from_rest")
	}

	adverse, reasons := horizonAdverse(side, trades, snap.Imbalance(5), s.now().UnixMilli())

	levels := make([]map[string]any, 0, len(in.PriceLevels))
	bestIdx, bestScore := -1, math.Inf(-1)
	for i, price := range in.PriceLevels {
		ahead := queueAhead(snap, side, price)*posFactor + in.Quantity
		units := 1
		if avgTrade > 0 {
			units = int(math.Ceil(ahead / avgTrade))
			if units < 1 {
				units = 1
			}
		}
		probs := make(map[string]float64, len(in.HorizonsSeconds))
		var midProb float64
		for j, h := range in.HorizonsSeconds {
			p := poissonFillProb(units, lambdaCount*float64(h))
			if avgTrade == 0 {
				p = 0
			}
			probs[fmt.Sprintf("%ds", h)] = round4(p)
			if j == len(in.HorizonsSeconds)/2 {
				midProb = p
			}
		}
		levels = append(levels, map[string]any{
			"price":       price,
			"queue_qty":   round4(ahead),
			"queue_usd":   round2(ahead * markPrice),
			"fill_probs":  probs,
			"queue_units": units,
		})
		if score := midProb*100 - adverse*0.5; score > bestScore {
			bestScore, bestIdx = score, i
		}
	}

	_, spreadBps, _ := snap.Spread()
	confidence := horizonConfidence(flow.Count(), spreadBps, bufferCoversLookback(trades, s.now().UnixMilli(), in.LookbackSeconds))

	data := map[string]any{
		"symbol":           symbol,
		"side":             string(side),
		"queue_position":   in.QueuePosition,
		"horizons_seconds": in.HorizonsSeconds,
		"levels":           levels,
		"adverse_selection": map[string]any{
			"score":   round2(adverse),
			"reasons": reasons,
		},
		"confidence":     round2(confidence),
		"lambda_per_sec": round4(lambdaCount),
		"spread_bps":     round2(spreadBps),
	}
	if bestIdx >= 0 {
		data["best_level"] = in.PriceLevels[bestIdx]
	}

	res := types.OK(data)
	res.QualityFlags = capFlags(flags)
	return res
}

// horizonAdverse grades the last 10 s of flow, momentum and book skew.
func horizonAdverse(side types.Side, trades []types.Trade, obi float64, nowMs int64) (float64, []string) {
	recent := tradesAfter(trades, nowMs-10_000)
	var score float64
	var reasons []string

	flow := computeFlow(recent)
	if share := opposingShare(flow, side); share > 0.65 && flow.Count() >= 3 {
		score += 40
		reasons = append(reasons, "recent aggressor flow against the resting side")
	}
	mom := momentumPct(recent)
	if side == types.BUY {
		mom = -mom
	}
	if mom > 0.05 {
		score += 30
		reasons = append(reasons, "price moving into the level")
	}
	against := obi
	if side == types.BUY {
		against = -obi
	}
	if against > 0.3 {
		score += 30
		reasons = append(reasons, "book imbalance against the resting side")
	}
	return clampFloat(score, 0, 100), capNotes(reasons, 3)
}

// horizonConfidence aggregates sample size, spread tightness and buffer
// coverage into [0, 1].
func horizonConfidence(tradeCount int, spreadBps float64, covered bool) float64 {
	c := 0.5
	switch {
	case tradeCount >= 100:
		c += 0.2
	case tradeCount >= 30:
		c += 0.1
	}
	switch {
	case spreadBps > 0 && spreadBps < 2:
		c += 0.2
	case spreadBps > 0 && spreadBps < 5:
		c += 0.1
	}
	if covered {
		c += 0.1
	}
	return clampFloat(c, 0, 1)
}

// bufferCoversLookback reports whether the oldest trade reaches back at
// least 90% of the requested lookback.
func bufferCoversLookback(trades []types.Trade, nowMs int64, lookbackSeconds int) bool {
	if len(trades) == 0 {
		return false
	}
	return trades[0].TimestampMs <= nowMs-int64(float64(lookbackSeconds)*0.9*1000)
}
