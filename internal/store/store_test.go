package store

import (
	"path/filepath"
	"testing"
	"time"

	"polylens/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertEventThenMarket(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	eventID, err := s.UpsertEvent(types.Event{Slug: "2026-election", Title: "2026 Election", Category: "Politics"})
	if err != nil {
		t.Fatalf("UpsertEvent: %v", err)
	}

	marketID, err := s.UpsertMarket(types.Market{
		EventID:     &eventID,
		Slug:        "will-x-win",
		ConditionID: "0xabc",
		YesTokenID:  "111",
		NoTokenID:   "222",
		Status:      types.StatusActive,
		Volume:      1000,
	})
	if err != nil {
		t.Fatalf("UpsertMarket: %v", err)
	}

	got, err := s.MarketByConditionID("0xabc")
	if err != nil {
		t.Fatalf("MarketByConditionID: %v", err)
	}
	if got == nil {
		t.Fatal("expected market, got nil")
	}
	if got.ID != marketID {
		t.Errorf("ID = %d, want %d", got.ID, marketID)
	}
	if got.EventID == nil || *got.EventID != eventID {
		t.Errorf("EventID = %v, want %d", got.EventID, eventID)
	}
	// The store keeps the category it is given; inheriting the event's
	// category is done by discovery before it calls UpsertMarket.
	if got.Category != "" {
		t.Errorf("Category = %q, want empty (the store does not copy the event's category)", got.Category)
	}
}

func TestUpsertMarketPreservesUnsetFields(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if _, err := s.UpsertMarket(types.Market{ConditionID: "0xdef", Slug: "m1", Question: "Will it happen?", Volume: 100}); err != nil {
		t.Fatalf("UpsertMarket: %v", err)
	}
	// Second upsert omits Question; it must survive.
	if _, err := s.UpsertMarket(types.Market{ConditionID: "0xdef", Slug: "m1", Volume: 200}); err != nil {
		t.Fatalf("UpsertMarket (second): %v", err)
	}

	got, err := s.MarketByConditionID("0xdef")
	if err != nil {
		t.Fatalf("MarketByConditionID: %v", err)
	}
	if got.Question != "Will it happen?" {
		t.Errorf("Question was clobbered by empty update: got %q", got.Question)
	}
	if got.Volume != 200 {
		t.Errorf("Volume = %v, want 200 (always overwrites)", got.Volume)
	}
}

// TestListMarketsOrdersByVolumeAndVolume24hSeparately reproduces the
// scheduler's two distinct top-N selections: "most-voluminous" ranks by
// all-time volume, "top by volume_24h" ranks by the trailing rollup, and
// a market can lead one ranking while trailing the other.
func TestListMarketsOrdersByVolumeAndVolume24hSeparately(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if _, err := s.UpsertMarket(types.Market{ConditionID: "0xa", Slug: "a", Volume: 1000, Volume24h: 10}); err != nil {
		t.Fatalf("UpsertMarket a: %v", err)
	}
	if _, err := s.UpsertMarket(types.Market{ConditionID: "0xb", Slug: "b", Volume: 500, Volume24h: 900}); err != nil {
		t.Fatalf("UpsertMarket b: %v", err)
	}

	byVolume, err := s.ListMarkets(ListMarketsFilter{OrderByVolumeDesc: true})
	if err != nil {
		t.Fatalf("ListMarkets by volume: %v", err)
	}
	if len(byVolume) != 2 || byVolume[0].Slug != "a" {
		t.Fatalf("ListMarkets by volume order = %v, want [a, b]", slugsOf(byVolume))
	}

	byVolume24h, err := s.ListMarkets(ListMarketsFilter{OrderByVolume24hDesc: true})
	if err != nil {
		t.Fatalf("ListMarkets by volume_24h: %v", err)
	}
	if len(byVolume24h) != 2 || byVolume24h[0].Slug != "b" {
		t.Fatalf("ListMarkets by volume_24h order = %v, want [b, a]", slugsOf(byVolume24h))
	}
}

func slugsOf(markets []types.Market) []string {
	out := make([]string, len(markets))
	for i, m := range markets {
		out[i] = m.Slug
	}
	return out
}

func TestInsertTradeIsIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	marketID, _ := s.UpsertMarket(types.Market{ConditionID: "0x1", Slug: "m", YesTokenID: "1", NoTokenID: "2"})

	trade := types.Trade{
		MarketID: &marketID, TxHash: "0xtx", LogIndex: 0, BlockNumber: 100,
		Maker: "0xmaker", Taker: "0xtaker", Side: types.Buy, Outcome: types.OutcomeYes,
		Price: 0.6, Size: 50, TokenID: "1", Timestamp: time.Now().UTC(),
	}

	tx, err := s.BeginTx()
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	id1, inserted1, err := s.InsertTrade(tx, trade)
	if err != nil || !inserted1 {
		t.Fatalf("InsertTrade first: id=%d inserted=%v err=%v", id1, inserted1, err)
	}
	tx.Commit()

	tx2, _ := s.BeginTx()
	_, inserted2, err := s.InsertTrade(tx2, trade)
	if err != nil {
		t.Fatalf("InsertTrade second: %v", err)
	}
	if inserted2 {
		t.Error("expected duplicate (txHash, logIndex) insert to be ignored")
	}
	tx2.Commit()
}

func TestWhaleTradeBackfill(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	marketID, _ := s.UpsertMarket(types.Market{ConditionID: "0x2", Slug: "m2", YesTokenID: "3", NoTokenID: "4"})

	tx, _ := s.BeginTx()
	s.InsertTrade(tx, types.Trade{MarketID: &marketID, TxHash: "0xbig", LogIndex: 0, Maker: "a", Taker: "b", Side: types.Buy, Outcome: types.OutcomeYes, Price: 0.9, Size: 20000, TokenID: "3", Timestamp: time.Now()})
	s.InsertTrade(tx, types.Trade{MarketID: &marketID, TxHash: "0xsmall", LogIndex: 0, Maker: "a", Taker: "b", Side: types.Buy, Outcome: types.OutcomeYes, Price: 0.5, Size: 10, TokenID: "3", Timestamp: time.Now()})
	tx.Commit()

	n, err := s.BackfillWhaleTrades(10000)
	if err != nil {
		t.Fatalf("BackfillWhaleTrades: %v", err)
	}
	if n != 1 {
		t.Errorf("backfilled %d whale trades, want 1", n)
	}

	whales, err := s.WhaleTrades(10, 10000, nil)
	if err != nil {
		t.Fatalf("WhaleTrades: %v", err)
	}
	if len(whales) != 1 || whales[0].TxHash != "0xbig" {
		t.Errorf("unexpected whale trades: %+v", whales)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if last, err := s.Cursor(CursorTradeSync); err != nil || last != 0 {
		t.Fatalf("Cursor initial = %d, %v; want 0, nil", last, err)
	}

	tx, _ := s.BeginTx()
	if err := s.SetCursor(tx, CursorTradeSync, 42); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	tx.Commit()

	last, err := s.Cursor(CursorTradeSync)
	if err != nil || last != 42 {
		t.Fatalf("Cursor after set = %d, %v; want 42, nil", last, err)
	}
}
