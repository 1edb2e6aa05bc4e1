package analytics

import (
	"context"
	"math"
	"sort"

	"futures-agent/internal/rules"
	"futures-agent/pkg/types"
)

// ProfileInput builds a volume profile over a trailing window.
type ProfileInput struct {
	Symbol        string  `json:"symbol"`
	WindowMinutes int     `json:"window_minutes,omitempty"`
	BinSize       float64 `json:"bin_size,omitempty"`
}

const minBufferTrades = 100

// VolumeProfile is the REST variant: trades are fetched paginated over
// the window. No cache; repeated calls pay the REST cost.
func (s *Service) VolumeProfile(ctx context.Context, in ProfileInput) types.Result {
	symbol, err := rules.NormalizeSymbol(in.Symbol)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}
	window := clampInt(orDefault(in.WindowMinutes, 60), 1, 360)

	endMs := s.now().UnixMilli()
	startMs := endMs - int64(window)*60_000
	trades, err := s.collector.HistoricalTrades(ctx, symbol, startMs, endMs, 0)
	if err != nil {
		return types.Fail(types.ErrData, "trade fetch failed: "+err.Error())
	}
	if len(trades) == 0 {
		return types.Fail(types.ErrData, "no trades in window")
	}

	data, flags := buildProfile(symbol, trades, window, in.BinSize, "rest", true)
	res := types.OK(data)
	res.QualityFlags = capFlags(flags)
	return res
}

// VolumeProfileWS is the buffer-only variant: it reads the ring buffer
// fed by the trade stream and never falls back to REST. Thin buffers
// produce a data error with stream statistics attached.
func (s *Service) VolumeProfileWS(ctx context.Context, in ProfileInput) types.Result {
	symbol, err := rules.NormalizeSymbol(in.Symbol)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}
	window := clampInt(orDefault(in.WindowMinutes, 60), 1, 360)

	norm := ProfileInput{Symbol: symbol, WindowMinutes: window, BinSize: in.BinSize}
	return s.cached("volume_profile_ws", norm, profileWSCacheTTL, func() types.Result {
		buf := s.collector.Buffer(symbol)
		sinceMs := s.now().UnixMilli() - int64(window)*60_000
		trades := buf.Since(sinceMs)
		stats := s.wsStats(buf)

		if len(trades) < minBufferTrades {
			res := types.FailWith(types.ErrData, "insufficient_trade_data",
				map[string]any{"ws_stats": stats, "buffered_trades": len(trades)})
			res.QualityFlags = []string{"insufficient_trade_data"}
			return res
		}

		data, flags := buildProfile(symbol, trades, window, norm.BinSize, "ws", s.streamConnected())
		data["ws_stats"] = stats
		res := types.OK(data)
		res.QualityFlags = capFlags(flags)
		return res
	})
}

// VolumeProfileFallback is the REST-sourced degraded variant with a
// longer cache, for use when the primary REST profile is rate-limited.
// Output is trimmed to the core levels.
func (s *Service) VolumeProfileFallback(ctx context.Context, in ProfileInput) types.Result {
	symbol, err := rules.NormalizeSymbol(in.Symbol)
	if err != nil {
		return types.Fail(types.ErrValidation, err.Error())
	}
	window := clampInt(orDefault(in.WindowMinutes, 30), 1, 360)

	norm := ProfileInput{Symbol: symbol, WindowMinutes: window, BinSize: in.BinSize}
	return s.cached("volume_profile_fallback", norm, profileFallbackCacheTTL, func() types.Result {
		endMs := s.now().UnixMilli()
		startMs := endMs - int64(window)*60_000
		trades, err := s.collector.HistoricalTrades(ctx, symbol, startMs, endMs, 0)
		if err != nil {
			return types.Fail(types.ErrData, "trade fetch failed: "+err.Error())
		}
		if len(trades) == 0 {
			return types.Fail(types.ErrData, "no trades in window")
		}
		full, flags := buildProfile(symbol, trades, window, norm.BinSize, "rest_fallback", true)
		data := map[string]any{
			"symbol":         symbol,
			"window_minutes": window,
			"source":         "rest_fallback",
			"vpoc":           full["vpoc"],
			"vah":            full["vah"],
			"val":            full["val"],
			"total_volume":   full["total_volume"],
			"delta_pct":      full["delta_pct"],
			"confidence":     full["confidence"],
		}
		res := types.OK(data)
		res.QualityFlags = capFlags(append(flags, "degraded_fallback"))
		return res
	})
}

func (s *Service) wsStats(buf interface {
	Len() int
	Span() (int64, int64)
}) map[string]any {
	first, last := buf.Span()
	return map[string]any{
		"connected":       s.streamConnected(),
		"buffered_trades": buf.Len(),
		"oldest_ms":       first,
		"newest_ms":       last,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Profile construction
// ————————————————————————————————————————————————————————————————————————

type profileBin struct {
	low        float64
	volume     float64
	buyVolume  float64
	sellVolume float64
	count      int
}

func (b profileBin) mid(binSize float64) float64 { return b.low + binSize/2 }

func buildProfile(symbol string, trades []types.Trade, windowMinutes int, binSize float64, source string, connected bool) (map[string]any, []string) {
	minPrice, maxPrice := trades[0].Price, trades[0].Price
	for _, t := range trades {
		if t.Price < minPrice {
			minPrice = t.Price
		}
		if t.Price > maxPrice {
			maxPrice = t.Price
		}
	}
	if binSize <= 0 {
		binSize = niceBinSize((maxPrice - minPrice) / 50)
	}

	lowEdge := math.Floor(minPrice/binSize) * binSize
	nBins := int(math.Ceil((maxPrice-lowEdge)/binSize)) + 1
	bins := make([]profileBin, nBins)
	for i := range bins {
		bins[i].low = lowEdge + float64(i)*binSize
	}

	var total, buyTotal, sellTotal float64
	for _, t := range trades {
		idx := int((t.Price - lowEdge) / binSize)
		if idx < 0 {
			idx = 0
		}
		if idx >= nBins {
			idx = nBins - 1
		}
		bins[idx].volume += t.Qty
		bins[idx].count++
		if t.AggressorSell() {
			bins[idx].sellVolume += t.Qty
			sellTotal += t.Qty
		} else {
			bins[idx].buyVolume += t.Qty
			buyTotal += t.Qty
		}
		total += t.Qty
	}

	// VPOC and 70% value area by greedy expansion toward the stronger
	// neighbor.
	vpocIdx := 0
	for i, b := range bins {
		if b.volume > bins[vpocIdx].volume {
			vpocIdx = i
		}
	}
	lo, hi := vpocIdx, vpocIdx
	acc := bins[vpocIdx].volume
	for acc < 0.70*total && (lo > 0 || hi < nBins-1) {
		below, above := -1.0, -1.0
		if lo > 0 {
			below = bins[lo-1].volume
		}
		if hi < nBins-1 {
			above = bins[hi+1].volume
		}
		if above >= below {
			hi++
			acc += bins[hi].volume
		} else {
			lo--
			acc += bins[lo].volume
		}
	}

	vols := make([]float64, 0, nBins)
	for _, b := range bins {
		if b.volume > 0 {
			vols = append(vols, b.volume)
		}
	}
	p75 := percentile(vols, 75)
	p25 := percentile(vols, 25)
	meanVol := mean(vols)

	hvn := topBins(bins, binSize, func(b profileBin) bool { return b.volume >= p75 && b.volume > 0 }, false, 3)
	lvn := topBins(bins, binSize, func(b profileBin) bool { return b.volume > 0 && b.volume <= p25 }, true, 3)
	singles := singlePrintZones(bins, binSize, meanVol)
	magnets := profileMagnets(bins, binSize, vpocIdx, lo, hi, meanVol)
	deltaPct := 0.0
	if total > 0 {
		deltaPct = (buyTotal - sellTotal) / total * 100
	}

	coverageMin := float64(trades[len(trades)-1].TimestampMs-trades[0].TimestampMs) / 60_000
	confidence := profileConfidence(len(trades), coverageMin, float64(windowMinutes), connected)

	var flags []string
	if len(trades) < 300 {
		flags = append(flags, "thin_trade_sample")
	}
	if coverageMin < float64(windowMinutes)*0.5 {
		flags = append(flags, "partial_window_coverage")
	}

	data := map[string]any{
		"symbol":            symbol,
		"window_minutes":    windowMinutes,
		"source":            source,
		"bin_size":          binSize,
		"trade_count":       len(trades),
		"total_volume":      round4(total),
		"delta_pct":         round2(deltaPct),
		"vpoc":              round4(bins[vpocIdx].mid(binSize)),
		"vah":               round4(bins[hi].mid(binSize)),
		"val":               round4(bins[lo].mid(binSize)),
		"hvn":               hvn,
		"lvn":               lvn,
		"single_print_zones": singles,
		"magnet_levels":     magnets,
		"avoid_zones":       lvnPrices(lvn, 3),
		"confidence":        round2(confidence),
	}
	return data, flags
}

// topBins selects bin mids matching the predicate, ordered by volume.
func topBins(bins []profileBin, binSize float64, keep func(profileBin) bool, asc bool, limit int) []float64 {
	matched := make([]profileBin, 0)
	for _, b := range bins {
		if keep(b) {
			matched = append(matched, b)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if asc {
			return matched[i].volume < matched[j].volume
		}
		return matched[i].volume > matched[j].volume
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]float64, 0, len(matched))
	for _, b := range matched {
		out = append(out, round4(b.mid(binSize)))
	}
	return out
}

// singlePrintZones finds runs of >=2 consecutive bins each under 10% of
// the mean bin volume.
func singlePrintZones(bins []profileBin, binSize, meanVol float64) []map[string]float64 {
	threshold := meanVol * 0.1
	var zones []map[string]float64
	runStart := -1
	flush := func(end int) {
		if runStart >= 0 && end-runStart >= 2 {
			zones = append(zones, map[string]float64{
				"from": round4(bins[runStart].low),
				"to":   round4(bins[end-1].low + binSize),
			})
		}
		runStart = -1
	}
	for i, b := range bins {
		if b.volume < threshold {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i)
	}
	flush(len(bins))
	if len(zones) > 3 {
		zones = zones[:3]
	}
	return zones
}

// profileMagnets are the structural levels plus unusually heavy bins
// with a strongly one-sided delta.
func profileMagnets(bins []profileBin, binSize float64, vpocIdx, lo, hi int, meanVol float64) []float64 {
	out := []float64{
		round4(bins[vpocIdx].mid(binSize)),
		round4(bins[hi].mid(binSize)),
		round4(bins[lo].mid(binSize)),
	}
	seen := map[float64]bool{out[0]: true, out[1]: true, out[2]: true}
	for _, b := range bins {
		if len(out) >= 6 {
			break
		}
		if b.volume < 1.5*meanVol || b.volume == 0 {
			continue
		}
		delta := (b.buyVolume - b.sellVolume) / b.volume * 100
		if math.Abs(delta) <= 25 {
			continue
		}
		mid := round4(b.mid(binSize))
		if !seen[mid] {
			seen[mid] = true
			out = append(out, mid)
		}
	}
	return out
}

func lvnPrices(lvn []float64, limit int) []float64 {
	if len(lvn) > limit {
		return lvn[:limit]
	}
	return lvn
}

// profileConfidence sums a trade-count band, a window-coverage band and
// a source-health band, clamped to [0, 1].
func profileConfidence(tradeCount int, coverageMin, windowMin float64, connected bool) float64 {
	var c float64
	switch {
	case tradeCount >= 1000:
		c += 0.4
	case tradeCount >= 300:
		c += 0.25
	case tradeCount >= 100:
		c += 0.1
	}
	switch ratio := coverageMin / windowMin; {
	case ratio >= 0.9:
		c += 0.3
	case ratio >= 0.5:
		c += 0.15
	}
	if connected {
		c += 0.3
	}
	return clampFloat(c, 0, 1)
}
