package metrics

import (
	"path/filepath"
	"testing"
	"time"

	"polylens/internal/store"
	"polylens/pkg/types"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func insertTradeAt(t *testing.T, st *store.Store, txHash string, marketID int64, side types.Side, price, size float64, when time.Time) {
	t.Helper()
	tx, err := st.BeginTx()
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	mid := marketID
	_, _, err = st.InsertTrade(tx, types.Trade{
		MarketID: &mid, TxHash: txHash, LogIndex: 0, BlockNumber: 1,
		Maker: "0xmaker", Taker: "0xtaker", Side: side, Outcome: types.OutcomeYes,
		Price: price, Size: size, TokenID: "1", Timestamp: when,
	})
	if err != nil {
		t.Fatalf("InsertTrade: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

// TestVWAPWeightsBySize checks the size weighting: a larger trade at a
// lower price should pull the average toward it.
func TestVWAPWeightsBySize(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	now := time.Now()
	insertTradeAt(t, st, "0xaaaa0000000000000000000000000000000000000000000000000000000001", 1, types.Buy, 0.60, 100, now)
	insertTradeAt(t, st, "0xaaaa0000000000000000000000000000000000000000000000000000000002", 1, types.Sell, 0.40, 300, now)

	eng := New(st)
	vwap, err := eng.VWAP(1, "1", types.Period1h)
	if err != nil {
		t.Fatalf("VWAP: %v", err)
	}
	if vwap == nil {
		t.Fatal("expected non-nil vwap")
	}
	want := (0.60*100 + 0.40*300) / (100 + 300)
	if diff := *vwap - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("VWAP = %v, want %v", *vwap, want)
	}
}

func TestVWAPNilWhenNoTrades(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	eng := New(st)
	vwap, err := eng.VWAP(1, "1", types.Period1h)
	if err != nil {
		t.Fatalf("VWAP: %v", err)
	}
	if vwap != nil {
		t.Errorf("VWAP = %v, want nil for an empty window", *vwap)
	}
}

func TestBuySellPressureNilWhenNoSells(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	now := time.Now()
	insertTradeAt(t, st, "0xaaaa0000000000000000000000000000000000000000000000000000000003", 1, types.Buy, 0.5, 100, now)

	eng := New(st)
	ratio, err := eng.BuySellPressure(1, "1", types.Period1h)
	if err != nil {
		t.Fatalf("BuySellPressure: %v", err)
	}
	if ratio != nil {
		t.Errorf("ratio = %v, want nil when sell volume is zero but buy volume isn't", *ratio)
	}
}

func TestBuySellPressureRatio(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	now := time.Now()
	insertTradeAt(t, st, "0xaaaa0000000000000000000000000000000000000000000000000000000004", 1, types.Buy, 1.0, 60, now)
	insertTradeAt(t, st, "0xaaaa0000000000000000000000000000000000000000000000000000000005", 1, types.Sell, 1.0, 20, now)

	eng := New(st)
	ratio, err := eng.BuySellPressure(1, "1", types.Period1h)
	if err != nil {
		t.Fatalf("BuySellPressure: %v", err)
	}
	if ratio == nil || *ratio != 3.0 {
		t.Fatalf("ratio = %v, want 3.0", ratio)
	}
}

func TestTraderStatsIsMaxOfDistinctMakersAndTakers(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	now := time.Now()
	tx, err := st.BeginTx()
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	mid := int64(1)
	trades := []types.Trade{
		{MarketID: &mid, TxHash: "0xcccc0000000000000000000000000000000000000000000000000000000001", Maker: "0xm1", Taker: "0xt1", Side: types.Buy, Outcome: types.OutcomeYes, Price: 0.5, Size: 10, TokenID: "1", Timestamp: now},
		{MarketID: &mid, TxHash: "0xcccc0000000000000000000000000000000000000000000000000000000002", Maker: "0xm1", Taker: "0xt2", Side: types.Buy, Outcome: types.OutcomeYes, Price: 0.5, Size: 10, TokenID: "1", Timestamp: now},
		{MarketID: &mid, TxHash: "0xcccc0000000000000000000000000000000000000000000000000000000003", Maker: "0xm2", Taker: "0xt2", Side: types.Buy, Outcome: types.OutcomeYes, Price: 0.5, Size: 10, TokenID: "1", Timestamp: now},
	}
	for i, tr := range trades {
		tr.LogIndex = int64(i)
		if _, _, err := st.InsertTrade(tx, tr); err != nil {
			t.Fatalf("InsertTrade: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	eng := New(st)
	n, err := eng.TraderStats(1, types.Period1h)
	if err != nil {
		t.Fatalf("TraderStats: %v", err)
	}
	// 2 distinct makers, 2 distinct takers -> max is 2, not the 4-address union.
	if n != 2 {
		t.Fatalf("TraderStats = %d, want 2", n)
	}
}

func TestWhaleSignalBullishWhenBuysDominate(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	mid := int64(1)
	if _, err := st.InsertWhaleTrade(types.WhaleTrade{
		TxHash: "0xeeee0000000000000000000000000000000000000000000000000000000001", MarketID: &mid,
		Trader: "0xt1", Side: types.Buy, Outcome: types.OutcomeYes, Price: 0.5, Size: 20000, USDValue: 10000, Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("InsertWhaleTrade: %v", err)
	}
	if _, err := st.InsertWhaleTrade(types.WhaleTrade{
		TxHash: "0xeeee0000000000000000000000000000000000000000000000000000000002", MarketID: &mid,
		Trader: "0xt2", Side: types.Sell, Outcome: types.OutcomeYes, Price: 0.5, Size: 4000, USDValue: 2000, Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("InsertWhaleTrade: %v", err)
	}

	eng := New(st)
	signal, err := eng.WhaleSignal(1, types.Period1h)
	if err != nil {
		t.Fatalf("WhaleSignal: %v", err)
	}
	if signal != "bullish" {
		t.Fatalf("signal = %q, want bullish (10000/12000 = 0.833 > 0.6)", signal)
	}
}

func TestWhaleSignalNeutralWithNoActivity(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	eng := New(st)
	signal, err := eng.WhaleSignal(1, types.Period1h)
	if err != nil {
		t.Fatalf("WhaleSignal: %v", err)
	}
	if signal != "neutral" {
		t.Fatalf("signal = %q, want neutral", signal)
	}
}

// TestZeroPriceTradeExcludedFromVWAPAndPressure reproduces a degenerate
// fill (tokenRaw == 0, so the indexer records price 0) and checks it is
// excluded everywhere a price average or ratio is computed. A zero row
// included in the denominator but not the numerator would silently skew
// every one of these numbers.
func TestZeroPriceTradeExcludedFromVWAPAndPressure(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	now := time.Now()
	insertTradeAt(t, st, "0xffff0000000000000000000000000000000000000000000000000000000001", 1, types.Buy, 0.50, 100, now)
	insertTradeAt(t, st, "0xffff0000000000000000000000000000000000000000000000000000000002", 1, types.Sell, 0, 5000, now)

	eng := New(st)

	vwap, err := eng.VWAP(1, "1", types.Period1h)
	if err != nil {
		t.Fatalf("VWAP: %v", err)
	}
	if vwap == nil || *vwap != 0.50 {
		t.Fatalf("VWAP = %v, want 0.50 (zero-price trade must not inflate the size denominator)", vwap)
	}

	ratio, err := eng.BuySellPressure(1, "1", types.Period1h)
	if err != nil {
		t.Fatalf("BuySellPressure: %v", err)
	}
	if ratio != nil {
		t.Fatalf("ratio = %v, want nil (zero-price trade contributes zero sell volume, not 0.5*5000=2500, leaving sell volume at zero against nonzero buy volume)", *ratio)
	}

	klines, err := eng.Klines(1, "1", types.Interval1h, now.Add(-time.Hour).Unix(), now.Add(time.Hour).Unix())
	if err != nil {
		t.Fatalf("Klines: %v", err)
	}
	if len(klines) != 1 {
		t.Fatalf("got %d klines, want 1 bucket", len(klines))
	}
	if klines[0].TradeCount != 1 {
		t.Fatalf("bucket trade count = %d, want 1 (zero-price trade excluded)", klines[0].TradeCount)
	}
	if klines[0].Low != 0.50 || klines[0].High != 0.50 {
		t.Fatalf("bucket low/high = %v/%v, want 0.50/0.50", klines[0].Low, klines[0].High)
	}
}

func TestKlinesBucketsByInterval(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	base := time.Now().Truncate(time.Hour)
	insertTradeAt(t, st, "0xdddd0000000000000000000000000000000000000000000000000000000001", 1, types.Buy, 0.5, 10, base)
	insertTradeAt(t, st, "0xdddd0000000000000000000000000000000000000000000000000000000002", 1, types.Buy, 0.6, 10, base.Add(30*time.Minute))
	insertTradeAt(t, st, "0xdddd0000000000000000000000000000000000000000000000000000000003", 1, types.Buy, 0.7, 10, base.Add(90*time.Minute))

	eng := New(st)
	klines, err := eng.Klines(1, "1", types.Interval1h, base.Add(-time.Hour).Unix(), base.Add(3*time.Hour).Unix())
	if err != nil {
		t.Fatalf("Klines: %v", err)
	}
	if len(klines) != 2 {
		t.Fatalf("got %d klines, want 2 buckets", len(klines))
	}
	if klines[0].TradeCount != 2 {
		t.Errorf("bucket 0 trade count = %d, want 2", klines[0].TradeCount)
	}
	if klines[1].TradeCount != 1 {
		t.Errorf("bucket 1 trade count = %d, want 1", klines[1].TradeCount)
	}
}
