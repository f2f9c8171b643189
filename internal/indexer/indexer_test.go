package indexer

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"polylens/internal/discovery"
	"polylens/internal/store"
	"polylens/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChain serves a fixed set of logs and headers without touching the
// network, so the indexer's batching/retry/checkpoint logic can be
// exercised deterministically.
type fakeChain struct {
	logs    []gethtypes.Log
	head    uint64
	filters int
}

func (f *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	f.filters++
	from := q.FromBlock.Uint64()
	to := q.ToBlock.Uint64()
	var out []gethtypes.Log
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	return &gethtypes.Header{Number: number, Time: 1700000000 + number.Uint64()}, nil
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }

func orderFilledLog(blockNumber uint64, logIndex uint, txHash string, maker, taker common.Address, makerAssetID, takerAssetID, makerAmount, takerAmount, fee *big.Int) gethtypes.Log {
	packed, err := orderFilledDataArgs.Pack(makerAssetID, takerAssetID, makerAmount, takerAmount, fee)
	if err != nil {
		panic(err)
	}
	return gethtypes.Log{
		Address: common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"),
		Topics: []common.Hash{
			orderFilledTopic,
			common.HexToHash("0xaa"),
			common.BytesToHash(maker.Bytes()),
			common.BytesToHash(taker.Bytes()),
		},
		Data:        packed,
		BlockNumber: blockNumber,
		TxHash:      common.HexToHash(txHash),
		Index:       logIndex,
	}
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

func TestScanRangeDecodesBuyAndSell(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	maker := common.HexToAddress("0x1111111111111111111111111111111111111111")
	taker := common.HexToAddress("0x2222222222222222222222222222222222222222")

	chain := &fakeChain{
		head: 10,
		logs: []gethtypes.Log{
			// makerAssetId == 0 -> BUY, tokenId = takerAssetId = 777
			orderFilledLog(5, 0, "0xaaaa000000000000000000000000000000000000000000000000000000000001",
				maker, taker, big.NewInt(0), big.NewInt(777), big.NewInt(5_000_000), big.NewInt(10_000_000), big.NewInt(10_000)),
			// makerAssetId != 0 -> SELL, tokenId = makerAssetId = 888
			orderFilledLog(5, 1, "0xaaaa000000000000000000000000000000000000000000000000000000000002",
				maker, taker, big.NewInt(888), big.NewInt(0), big.NewInt(20_000_000), big.NewInt(9_000_000), big.NewInt(5_000)),
		},
	}

	ix := New(chain, st, nil, []common.Address{common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")}, 100, discardLogger())

	n, err := ix.ScanRange(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("ScanRange: %v", err)
	}
	if n != 2 {
		t.Fatalf("ScanRange inserted %d trades, want 2", n)
	}

	trades, err := st.TradesSince(0, 10)
	if err != nil {
		t.Fatalf("TradesSince: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}
	if trades[0].Side != types.Buy {
		t.Errorf("trade 0 side = %s, want BUY", trades[0].Side)
	}
	if trades[0].TokenID != "777" {
		t.Errorf("trade 0 token id = %s, want 777", trades[0].TokenID)
	}
	if trades[1].Side != types.Sell {
		t.Errorf("trade 1 side = %s, want SELL", trades[1].Side)
	}
	if trades[1].TokenID != "888" {
		t.Errorf("trade 1 token id = %s, want 888", trades[1].TokenID)
	}

	cursor, err := st.Cursor(store.CursorTradeSync)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if cursor != 10 {
		t.Errorf("cursor = %d, want 10 (advanced to toBlock even for empty trailing blocks)", cursor)
	}
}

// TestScanRangeResumeIsIdempotent reproduces the crash-resume scenario: a
// caller re-scans a range whose logs were already committed, and the
// (tx_hash, log_index) unique key must absorb the replay without
// duplicating trades or double-counting trade_count.
func TestScanRangeResumeIsIdempotent(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	maker := common.HexToAddress("0x1111111111111111111111111111111111111111")
	taker := common.HexToAddress("0x2222222222222222222222222222222222222222")

	chain := &fakeChain{
		head: 10,
		logs: []gethtypes.Log{
			orderFilledLog(3, 0, "0xbbbb000000000000000000000000000000000000000000000000000000000001",
				maker, taker, big.NewInt(0), big.NewInt(999), big.NewInt(1_000_000), big.NewInt(2_000_000), big.NewInt(100)),
		},
	}
	exchanges := []common.Address{common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")}
	ix := New(chain, st, nil, exchanges, 100, discardLogger())

	if _, err := ix.ScanRange(context.Background(), 0, 5); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if _, err := ix.ScanRange(context.Background(), 0, 5); err != nil {
		t.Fatalf("replayed scan: %v", err)
	}

	trades, err := st.TradesSince(0, 10)
	if err != nil {
		t.Fatalf("TradesSince: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades after replay, want 1 (idempotent on tx_hash/log_index)", len(trades))
	}
}

// TestScanRangeDiscoversUnresolvableTokenOnlyOnce reproduces a scan over
// several logs that all reference the same token ID Gamma has never heard
// of: discovery is a live HTTP call, so it must fire once per scan for
// that token, not once per log.
func TestScanRangeDiscoversUnresolvableTokenOnlyOnce(t *testing.T) {
	t.Parallel()

	var marketRequests atomic.Int32
	gammaServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		marketRequests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[]"))
	}))
	t.Cleanup(gammaServer.Close)

	st := openTestStore(t)
	gamma := discovery.NewClient(gammaServer.URL, discardLogger())
	disc := discovery.NewService(gamma, st,
		common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"),
		common.HexToAddress("0x5c59534d0e1612b6b78478bf5f3Cc64b7dC60A0c"), discardLogger())

	maker := common.HexToAddress("0x1111111111111111111111111111111111111111")
	taker := common.HexToAddress("0x2222222222222222222222222222222222222222")

	chain := &fakeChain{
		head: 10,
		logs: []gethtypes.Log{
			orderFilledLog(5, 0, "0xcccc000000000000000000000000000000000000000000000000000000000001",
				maker, taker, big.NewInt(0), big.NewInt(555), big.NewInt(1_000_000), big.NewInt(2_000_000), big.NewInt(100)),
			orderFilledLog(6, 0, "0xcccc000000000000000000000000000000000000000000000000000000000002",
				maker, taker, big.NewInt(0), big.NewInt(555), big.NewInt(1_000_000), big.NewInt(2_000_000), big.NewInt(100)),
			orderFilledLog(7, 0, "0xcccc000000000000000000000000000000000000000000000000000000000003",
				maker, taker, big.NewInt(0), big.NewInt(555), big.NewInt(1_000_000), big.NewInt(2_000_000), big.NewInt(100)),
			orderFilledLog(15, 0, "0xcccc000000000000000000000000000000000000000000000000000000000004",
				maker, taker, big.NewInt(0), big.NewInt(555), big.NewInt(1_000_000), big.NewInt(2_000_000), big.NewInt(100)),
		},
	}
	ix := New(chain, st, disc, []common.Address{common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")}, 100, discardLogger())

	n, err := ix.ScanRange(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("ScanRange: %v", err)
	}
	if n != 3 {
		t.Fatalf("ScanRange inserted %d trades, want 3", n)
	}
	if got := marketRequests.Load(); got != 1 {
		t.Fatalf("gamma /markets requests = %d, want 1 (token should only be tried once per scan)", got)
	}

	trades, err := st.TradesSince(0, 10)
	if err != nil {
		t.Fatalf("TradesSince: %v", err)
	}
	for _, tr := range trades {
		if tr.MarketID != nil {
			t.Errorf("trade market id = %v, want nil (token never resolves)", *tr.MarketID)
		}
	}

	// A fresh scan resets the per-scan tried set, so the token is retried once more.
	if _, err := ix.ScanRange(context.Background(), 11, 20); err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if got := marketRequests.Load(); got != 2 {
		t.Fatalf("gamma /markets requests after second scan = %d, want 2 (retried once in the new scan)", got)
	}
}

func TestClassifyFillBuyWhenMakerAssetIsZero(t *testing.T) {
	of := orderFilled{
		MakerAssetID:      big.NewInt(0),
		TakerAssetID:      big.NewInt(42),
		MakerAmountFilled: big.NewInt(100),
		TakerAmountFilled: big.NewInt(200),
	}
	side, tokenID, usdcRaw, tokenRaw := classifyFill(of)
	if side != types.Buy || tokenID != "42" || usdcRaw.Cmp(big.NewInt(100)) != 0 || tokenRaw.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("classifyFill buy case wrong: side=%s tokenID=%s usdcRaw=%s tokenRaw=%s", side, tokenID, usdcRaw, tokenRaw)
	}
}

func TestClassifyFillSellWhenMakerAssetNonzero(t *testing.T) {
	of := orderFilled{
		MakerAssetID:      big.NewInt(42),
		TakerAssetID:      big.NewInt(0),
		MakerAmountFilled: big.NewInt(100),
		TakerAmountFilled: big.NewInt(200),
	}
	side, tokenID, usdcRaw, tokenRaw := classifyFill(of)
	if side != types.Sell || tokenID != "42" || usdcRaw.Cmp(big.NewInt(200)) != 0 || tokenRaw.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("classifyFill sell case wrong: side=%s tokenID=%s usdcRaw=%s tokenRaw=%s", side, tokenID, usdcRaw, tokenRaw)
	}
}
