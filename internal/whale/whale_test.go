package whale

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"polylens/internal/store"
	"polylens/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func insertTrade(t *testing.T, st *store.Store, txHash string, logIndex int64, price, size float64) {
	t.Helper()
	tx, err := st.BeginTx()
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	_, _, err = st.InsertTrade(tx, types.Trade{
		TxHash: txHash, LogIndex: logIndex, BlockNumber: 1,
		Maker: "0xmaker", Taker: "0xtaker", Side: types.Buy, Outcome: types.OutcomeYes,
		Price: price, Size: size, TokenID: "1", Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("InsertTrade: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

type recordingNotifier struct {
	notified []types.WhaleTrade
}

func (r *recordingNotifier) Notify(w types.WhaleTrade) { r.notified = append(r.notified, w) }

func TestBackfillFlagsTradesAboveThreshold(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	insertTrade(t, st, "0xaaaa0000000000000000000000000000000000000000000000000000000001", 0, 0.5, 30000) // $15000
	insertTrade(t, st, "0xaaaa0000000000000000000000000000000000000000000000000000000002", 0, 0.5, 100)   // $50

	det := New(st, nil, discardLogger())
	n, err := det.Backfill(10000)
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if n != 1 {
		t.Fatalf("backfilled %d trades, want 1", n)
	}

	trades, err := st.RecentWhaleTrades(10)
	if err != nil {
		t.Fatalf("RecentWhaleTrades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d whale trades, want 1", len(trades))
	}
}

// TestDetectNewOnlyConsidersTradesSinceCursor reproduces the tail
// detection scenario: a detector run only looks at trades with id >
// whale_sync cursor, and moves the cursor forward even on a quiet pass.
func TestDetectNewOnlyConsidersTradesSinceCursor(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	notifier := &recordingNotifier{}
	det := New(st, notifier, discardLogger())

	insertTrade(t, st, "0xbbbb0000000000000000000000000000000000000000000000000000000001", 0, 0.5, 100) // $50, below threshold
	n, err := det.DetectNew(10000, 100)
	if err != nil {
		t.Fatalf("first DetectNew: %v", err)
	}
	if n != 0 {
		t.Fatalf("first pass detected %d, want 0", n)
	}

	insertTrade(t, st, "0xbbbb0000000000000000000000000000000000000000000000000000000002", 0, 0.5, 40000) // $20000, above threshold
	n, err = det.DetectNew(10000, 100)
	if err != nil {
		t.Fatalf("second DetectNew: %v", err)
	}
	if n != 1 {
		t.Fatalf("second pass detected %d, want 1", n)
	}
	if len(notifier.notified) != 1 {
		t.Fatalf("notifier got %d calls, want 1", len(notifier.notified))
	}

	// A third, quiet pass over no new trades must not re-flag anything
	// and must not error.
	n, err = det.DetectNew(10000, 100)
	if err != nil {
		t.Fatalf("third DetectNew: %v", err)
	}
	if n != 0 {
		t.Fatalf("quiet pass detected %d, want 0", n)
	}
}
