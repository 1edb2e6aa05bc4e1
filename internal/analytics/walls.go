package analytics

import (
	"context"
	"math"
	"sort"
	"strconv"
	"time"

	"futures-agent/internal/rules"
	"futures-agent/pkg/types"
)

// WallsInput samples the order book over a window and scores large
// resting levels for persistence versus spoofing.
type WallsInput struct {
	Symbol           string  `json:"symbol"`
	DepthLimit       int     `json:"depth_limit,omitempty"`
	WindowSeconds    int     `json:"window_seconds,omitempty"`
	SampleIntervalMs int     `json:"sample_interval_ms,omitempty"`
	TopN             int     `json:"top_n,omitempty"`
	WallThresholdUSD float64 `json:"wall_threshold_usd,omitempty"`
}

// wallTracker accumulates observations of one price level on one side.
type wallTracker struct {
	price     float64
	side      string
	notionals []float64
	firstMs   int64
	lastMs    int64
}

func (w *wallTracker) observe(notional float64, nowMs int64) {
	if len(w.notionals) == 0 {
		w.firstMs = nowMs
	}
	w.notionals = append(w.notionals, notional)
	w.lastMs = nowMs
}

// presence is the fraction of samples in which the wall was visible.
func (w *wallTracker) presence(samples int) float64 {
	if samples == 0 {
		return 0
	}
	return float64(len(w.notionals)) / float64(samples)
}

// variance is var(notional) normalized by mean², so 0.04 reads as a
// ±20% size wobble regardless of wall size.
func (w *wallTracker) variance() float64 {
	if len(w.notionals) < 2 {
		return 0
	}
	m := mean(w.notionals)
	if m == 0 {
		return 0
	}
	sd := stdev(w.notionals)
	return sd * sd / (m * m)
}

func (w *wallTracker) lifeSeconds() float64 {
	return float64(w.lastMs-w.firstMs) / 1000
}

func (w *wallTracker) persistence(samples int, windowSeconds int) float64 {
	score := 40 * w.presence(samples)
	switch v := w.variance(); {
	case v < 0.05:
		score += 30
	case v < 0.2:
		score += 20
	case v < 0.5:
		score += 10
	}
	score += 30 * math.Min(1, w.lifeSeconds()/float64(windowSeconds))
	return clampFloat(score, 0, 100)
}

// AnalyzeWalls blocks the caller for the sampling window, then reports
// persistent walls, a spoof score, magnet levels and avoid zones.
func (s *Service) AnalyzeWalls(ctx context.Context, in WallsInput) types.Result {
	symbol, err := rules.NormalizeSymbol(in.Symbol)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}
	norm := WallsInput{
		Symbol:           symbol,
		DepthLimit:       clampInt(orDefault(in.DepthLimit, 50), 10, 100),
		WindowSeconds:    clampInt(orDefault(in.WindowSeconds, 30), 10, 300),
		SampleIntervalMs: maxInt(orDefault(in.SampleIntervalMs, 1000), 500),
		TopN:             clampInt(orDefault(in.TopN, 5), 1, 10),
		WallThresholdUSD: math.Max(in.WallThresholdUSD, 10_000),
	}
	return s.cached("analyze_walls", norm, wallsCacheTTL, func() types.Result {
		return s.sampleWalls(ctx, norm)
	})
}

func (s *Service) sampleWalls(ctx context.Context, in WallsInput) types.Result {
	mark, _, err := s.collector.MarkPrice(ctx, in.Symbol)
	if err != nil {
		return types.Fail(types.ErrData, "mark price fetch failed: "+err.Error())
	}
	markPrice, _ := strconv.ParseFloat(mark.MarkPrice, 64)
	if markPrice <= 0 {
		return types.Fail(types.ErrData, "mark price unavailable")
	}

	interval := time.Duration(in.SampleIntervalMs) * time.Millisecond
	samples := in.WindowSeconds * 1000 / in.SampleIntervalMs
	if samples < 2 {
		samples = 2
	}

	trackers := make(map[string]*wallTracker)
	taken := 0
	for i := 0; i < samples; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return types.Fail(types.ErrTool, "cancelled during wall sampling")
			case <-time.After(interval):
			}
		}
		snap, err := s.collector.DepthUncached(ctx, in.Symbol, in.DepthLimit)
		if err != nil {
			continue
		}
		taken++
		nowMs := s.now().UnixMilli()
		observeSide(trackers, "bid", snap.Bids, in.TopN, markPrice, in.WallThresholdUSD, nowMs)
		observeSide(trackers, "ask", snap.Asks, in.TopN, markPrice, in.WallThresholdUSD, nowMs)
	}
	if taken == 0 {
		return types.Fail(types.ErrData, "no depth samples collected")
	}

	var walls []map[string]any
	var suspicious []*wallTracker
	bySide := map[string][]*wallTracker{}
	for _, tr := range trackers {
		bySide[tr.side] = append(bySide[tr.side], tr)
		p := tr.persistence(taken, in.WindowSeconds)
		walls = append(walls, map[string]any{
			"price":        tr.price,
			"side":         tr.side,
			"persistence":  round2(p),
			"avg_notional": round2(mean(tr.notionals)),
			"presence":     round2(tr.presence(taken)),
			"variance":     round4(tr.variance()),
			"life_sec":     round2(tr.lifeSeconds()),
		})
		if tr.variance() > 0.3 && p < 50 {
			suspicious = append(suspicious, tr)
		}
	}
	sort.Slice(walls, func(i, j int) bool {
		return walls[i]["persistence"].(float64) > walls[j]["persistence"].(float64)
	})
	if len(walls) > 8 {
		walls = walls[:8]
	}

	spoofBid := spoofScore(bySide["bid"], in.WindowSeconds)
	spoofAsk := spoofScore(bySide["ask"], in.WindowSeconds)

	magnets := magnetLevels(trackers, taken, in.WindowSeconds)
	avoid := avoidZones(suspicious)

	var notes []string
	if taken < samples {
		notes = append(notes, "some depth samples failed")
	}
	if len(trackers) == 0 {
		notes = append(notes, "no walls above threshold observed")
	}
	if (spoofBid+spoofAsk)/2 >= 50 {
		notes = append(notes, "order book shows spoof-like churn")
	}

	data := map[string]any{
		"symbol":          in.Symbol,
		"window_seconds":  in.WindowSeconds,
		"samples":         taken,
		"walls":           walls,
		"spoof_score":     round2((spoofBid + spoofAsk) / 2),
		"spoof_score_bid": round2(spoofBid),
		"spoof_score_ask": round2(spoofAsk),
		"magnet_levels":   magnets,
		"avoid_zones":     avoid,
		"notes":           capNotes(notes, 4),
	}
	return types.OK(data)
}

func observeSide(trackers map[string]*wallTracker, side string, levels []types.PriceLevel, topN int, markPrice, thresholdUSD float64, nowMs int64) {
	if topN > len(levels) {
		topN = len(levels)
	}
	for _, lvl := range levels[:topN] {
		notional := lvl.Qty * markPrice
		if notional < thresholdUSD {
			continue
		}
		key := side + ":" + strconv.FormatFloat(lvl.Price, 'f', -1, 64)
		tr, ok := trackers[key]
		if !ok {
			tr = &wallTracker{price: lvl.Price, side: side}
			trackers[key] = tr
		}
		tr.observe(notional, nowMs)
	}
}

// spoofScore grades one side 0-100: brief walls, unstable walls and
// price-jumping all add points.
func spoofScore(side []*wallTracker, windowSeconds int) float64 {
	if len(side) == 0 {
		return 0
	}
	var brief, unstable, lowObs int
	for _, tr := range side {
		if tr.lifeSeconds() < float64(windowSeconds)*0.2 {
			brief++
		}
		if tr.variance() > 0.3 {
			unstable++
		}
		if len(tr.notionals) < 2 {
			lowObs++
		}
	}
	n := float64(len(side))
	var score float64
	switch ratio := float64(brief) / n; {
	case ratio > 0.5:
		score += 40
	case ratio > 0.3:
		score += 20
	}
	switch ratio := float64(unstable) / n; {
	case ratio > 0.5:
		score += 40
	case ratio > 0.3:
		score += 20
	}
	// Many distinct prices each seen only once or twice: the wall keeps
	// repricing instead of resting.
	if len(side) >= 5 && float64(lowObs)/n > 0.5 {
		score += 20
	}
	return clampFloat(score, 0, 100)
}

// magnetLevels are high-persistence prices likely to attract traded
// volume, strongest first.
func magnetLevels(trackers map[string]*wallTracker, samples, windowSeconds int) []float64 {
	type magnet struct {
		price  float64
		weight float64
	}
	var candidates []magnet
	seen := map[float64]bool{}
	for _, tr := range trackers {
		p := tr.persistence(samples, windowSeconds)
		if p < 70 || seen[tr.price] {
			continue
		}
		seen[tr.price] = true
		candidates = append(candidates, magnet{price: tr.price, weight: p * mean(tr.notionals)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].weight > candidates[j].weight })
	if len(candidates) > 6 {
		candidates = candidates[:6]
	}
	out := make([]float64, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.price)
	}
	return out
}

// avoidZones clusters suspicious prices closer than 0.1% into spans.
func avoidZones(suspicious []*wallTracker) []map[string]float64 {
	if len(suspicious) == 0 {
		return nil
	}
	prices := make([]float64, 0, len(suspicious))
	for _, tr := range suspicious {
		prices = append(prices, tr.price)
	}
	sort.Float64s(prices)

	var zones []map[string]float64
	lo, hi := prices[0], prices[0]
	flush := func() {
		zones = append(zones, map[string]float64{"from": lo, "to": hi})
	}
	for _, p := range prices[1:] {
		if hi > 0 && (p-hi)/hi < 0.001 {
			hi = p
			continue
		}
		flush()
		lo, hi = p, p
	}
	flush()
	if len(zones) > 4 {
		zones = zones[:4]
	}
	return zones
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
