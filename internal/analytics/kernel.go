package analytics

import (
	"math"
	"sort"

	"futures-agent/internal/market"
	"futures-agent/pkg/types"
)

// Shared math used by the analytic kernels. Everything here is pure and
// operates on in-memory snapshots and trade slices.

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stdev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	var ss float64
	for _, v := range vals {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(vals)))
}

// percentile returns the p-th percentile (0..100) via nearest-rank on a
// sorted copy.
func percentile(vals []float64, p float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// ————————————————————————————————————————————————————————————————————————
// Trade flow
// ————————————————————————————————————————————————————————————————————————

// flowStats summarizes aggressor flow over a trade slice.
type flowStats struct {
	BuyQty     float64
	SellQty    float64
	BuyCount   int
	SellCount  int
	MaxBuyQty  float64
	MaxSellQty float64
}

func (f flowStats) TotalQty() float64 { return f.BuyQty + f.SellQty }
func (f flowStats) Count() int        { return f.BuyCount + f.SellCount }

// Imbalance is (buy − sell) / (buy + sell) in [-1, 1]; 0 when no flow.
func (f flowStats) Imbalance() float64 {
	total := f.TotalQty()
	if total == 0 {
		return 0
	}
	return (f.BuyQty - f.SellQty) / total
}

func computeFlow(trades []types.Trade) flowStats {
	var f flowStats
	for _, t := range trades {
		if t.AggressorSell() {
			f.SellQty += t.Qty
			f.SellCount++
			if t.Qty > f.MaxSellQty {
				f.MaxSellQty = t.Qty
			}
		} else {
			f.BuyQty += t.Qty
			f.BuyCount++
			if t.Qty > f.MaxBuyQty {
				f.MaxBuyQty = t.Qty
			}
		}
	}
	return f
}

// tradesAfter filters a time-ordered slice to timestamps >= sinceMs.
func tradesAfter(trades []types.Trade, sinceMs int64) []types.Trade {
	for i, t := range trades {
		if t.TimestampMs >= sinceMs {
			return trades[i:]
		}
	}
	return nil
}

// momentumPct is the signed percent move from the first to the last
// trade price; 0 with fewer than 2 trades.
func momentumPct(trades []types.Trade) float64 {
	if len(trades) < 2 {
		return 0
	}
	first, last := trades[0].Price, trades[len(trades)-1].Price
	if first == 0 {
		return 0
	}
	return (last - first) / first * 100
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// obiWindows computes the order-book imbalance over five staggered
// 5-level windows (levels 1-5, 2-6, ... 5-9) and returns mean and stdev.
func obiWindows(snap *market.Snapshot) (obiMean, obiStdev float64) {
	vals := make([]float64, 0, 5)
	for start := 0; start < 5; start++ {
		var bid, ask float64
		for i := start; i < start+5; i++ {
			if i < len(snap.Bids) {
				bid += snap.Bids[i].Qty
			}
			if i < len(snap.Asks) {
				ask += snap.Asks[i].Qty
			}
		}
		if bid+ask == 0 {
			continue
		}
		vals = append(vals, (bid-ask)/(bid+ask))
	}
	return mean(vals), stdev(vals)
}

// queueAhead sums resting qty on side at prices at least as competitive
// as price.
func queueAhead(snap *market.Snapshot, side types.Side, price float64) float64 {
	var q float64
	if side == types.BUY {
		for _, lvl := range snap.Bids {
			if lvl.Price >= price {
				q += lvl.Qty
			}
		}
	} else {
		for _, lvl := range snap.Asks {
			if lvl.Price <= price {
				q += lvl.Qty
			}
		}
	}
	return q
}

// wallRisk grades the max/mean size ratio of the top opposite levels.
func wallRisk(levels []types.PriceLevel, topN int) string {
	if len(levels) == 0 {
		return "low"
	}
	if topN > len(levels) {
		topN = len(levels)
	}
	var sum, max float64
	for _, lvl := range levels[:topN] {
		sum += lvl.Qty
		if lvl.Qty > max {
			max = lvl.Qty
		}
	}
	m := sum / float64(topN)
	if m == 0 {
		return "low"
	}
	switch ratio := max / m; {
	case ratio > 10:
		return "high"
	case ratio > 5:
		return "medium"
	default:
		return "low"
	}
}

// ————————————————————————————————————————————————————————————————————————
// Probability models
// ————————————————————————————————————————————————————————————————————————

// expFillProb is the exponential time-to-advance model: the chance that
// a queue of size q is consumed within t seconds at rate lambda.
func expFillProb(q, lambda, t float64) float64 {
	if q <= 0 {
		return 1
	}
	if lambda <= 0 {
		return 0
	}
	return 1 - math.Exp(-lambda*t/q)
}

// etaSeconds is the waiting time at percentile p under the same model.
// Returns -1 when the queue never drains.
func etaSeconds(q, lambda, p float64) float64 {
	if q <= 0 {
		return 0
	}
	if lambda <= 0 {
		return -1
	}
	return -math.Log(1-p) * q / lambda
}

// normalCDF is Φ(x) for the standard normal.
func normalCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// poissonFillProb is P(arrivals >= q) for a Poisson process with mean
// lambda·t, i.e. 1 − Σ_{k<q} e^{−λt}(λt)^k / k!. For large λt the normal
// approximation is used to avoid underflow in the term recurrence.
func poissonFillProb(q int, lambdaT float64) float64 {
	if q <= 0 {
		return 1
	}
	if lambdaT <= 0 {
		return 0
	}
	if lambdaT > 50 {
		return clampFloat(normalCDF((lambdaT-float64(q))/math.Sqrt(lambdaT)), 0, 1)
	}
	term := math.Exp(-lambdaT)
	cdf := term
	for k := 1; k < q; k++ {
		term *= lambdaT / float64(k)
		cdf += term
	}
	return clampFloat(1-cdf, 0, 1)
}

// niceBinSize snaps a raw bin width to the nearest tier from a fixed
// ladder, preferring the largest tier not exceeding the raw width.
func niceBinSize(raw float64) float64 {
	tiers := []float64{50, 10, 5, 1, 0.1, 0.01}
	for _, tier := range tiers {
		if tier <= raw {
			return tier
		}
	}
	return 0.01
}
