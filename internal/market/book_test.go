package market

import (
	"math"
	"testing"

	"futures-agent/pkg/types"
)

func testSnapshot() *Snapshot {
	return ParseDepth("BTCUSDT", &types.DepthResponse{
		Bids: [][2]string{{"50000.0", "2.0"}, {"49999.0", "3.0"}, {"49998.0", "1.0"}},
		Asks: [][2]string{{"50001.0", "1.5"}, {"50002.0", "2.5"}, {"50003.0", "4.0"}},
	})
}

func TestParseDepthSkipsBadLevels(t *testing.T) {
	t.Parallel()
	snap := ParseDepth("BTCUSDT", &types.DepthResponse{
		Bids: [][2]string{{"50000.0", "1.0"}, {"garbage", "1.0"}},
		Asks: [][2]string{{"50001.0", "1.0"}},
	})
	if len(snap.Bids) != 1 {
		t.Errorf("bids = %d, want 1 (bad level dropped)", len(snap.Bids))
	}
}

func TestBestBidAskAndMid(t *testing.T) {
	t.Parallel()
	snap := testSnapshot()

	bid, ask, ok := snap.BestBidAsk()
	if !ok {
		t.Fatal("expected top of book")
	}
	if bid != 50000.0 || ask != 50001.0 {
		t.Errorf("top of book = %v/%v", bid, ask)
	}

	mid, ok := snap.MidPrice()
	if !ok || mid != 50000.5 {
		t.Errorf("mid = %v, %v", mid, ok)
	}
}

func TestMidPriceEmptyBook(t *testing.T) {
	t.Parallel()
	snap := ParseDepth("BTCUSDT", &types.DepthResponse{})
	if _, ok := snap.MidPrice(); ok {
		t.Error("empty book should have no mid")
	}
}

func TestSpread(t *testing.T) {
	t.Parallel()
	snap := testSnapshot()

	abs, bps, ok := snap.Spread()
	if !ok {
		t.Fatal("expected spread")
	}
	if math.Abs(abs-1.0) > 1e-9 {
		t.Errorf("abs spread = %v, want 1.0", abs)
	}
	wantBps := 1.0 / 50000.5 * 10000
	if math.Abs(bps-wantBps) > 1e-9 {
		t.Errorf("spread bps = %v, want %v", bps, wantBps)
	}
}

func TestCrossed(t *testing.T) {
	t.Parallel()
	snap := ParseDepth("BTCUSDT", &types.DepthResponse{
		Bids: [][2]string{{"50002.0", "1.0"}},
		Asks: [][2]string{{"50001.0", "1.0"}},
	})
	if !snap.Crossed() {
		t.Error("bid above ask should report crossed")
	}
	if testSnapshot().Crossed() {
		t.Error("normal book should not report crossed")
	}
}

func TestImbalance(t *testing.T) {
	t.Parallel()
	snap := testSnapshot()

	// Top 3 levels: bids 6.0, asks 8.0
	got := snap.Imbalance(3)
	want := (6.0 - 8.0) / 14.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Imbalance(3) = %v, want %v", got, want)
	}

	if got := ParseDepth("BTCUSDT", &types.DepthResponse{}).Imbalance(5); got != 0 {
		t.Errorf("empty book imbalance = %v, want 0", got)
	}
}

func TestDepthWithin(t *testing.T) {
	t.Parallel()
	snap := testSnapshot()

	// 0.5% of mid covers all test levels.
	bidQty, askQty := snap.DepthWithin(0.5)
	if bidQty != 6.0 || askQty != 8.0 {
		t.Errorf("DepthWithin(0.5) = %v/%v, want 6/8", bidQty, askQty)
	}
}
