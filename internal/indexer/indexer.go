// Package indexer scans the chain for CTF Exchange OrderFilled logs,
// decodes them into trades, and persists them with a per-block
// checkpoint so a crash can only ever replay the logs of the last
// partially-committed block.
package indexer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"polylens/internal/discovery"
	"polylens/internal/store"
	"polylens/pkg/types"
)

// ChainClient is the subset of ethclient.Client the indexer needs —
// narrowed to an interface so tests can substitute a fake.
type ChainClient interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Indexer scans [fromBlock, toBlock] ranges for OrderFilled logs from the
// configured exchange contracts and persists decoded trades.
type Indexer struct {
	chain       ChainClient
	store       *store.Store
	discoverer  *discovery.Service
	exchanges   []common.Address
	batchSize   uint64
	blockTimeMu map[uint64]time.Time
	triedTokens map[string]bool
	logger      *slog.Logger
}

// New builds an Indexer against the given chain client and exchange
// contract addresses (CTF_EXCHANGE, NEG_RISK_CTF_EXCHANGE).
func New(chain ChainClient, st *store.Store, discoverer *discovery.Service, exchanges []common.Address, batchSize uint64, logger *slog.Logger) *Indexer {
	if batchSize == 0 {
		batchSize = 2000
	}
	return &Indexer{
		chain:       chain,
		store:       st,
		discoverer:  discoverer,
		exchanges:   exchanges,
		batchSize:   batchSize,
		blockTimeMu: make(map[uint64]time.Time),
		logger:      logger.With("component", "indexer"),
	}
}

// SyncIncremental advances from the trade_sync cursor up to the current
// chain head and reports how many trades it inserted.
func (ix *Indexer) SyncIncremental(ctx context.Context) (int, error) {
	head, err := ix.chain.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("get chain head: %w", err)
	}
	cursor, err := ix.store.Cursor(store.CursorTradeSync)
	if err != nil {
		return 0, fmt.Errorf("read trade_sync cursor: %w", err)
	}

	from := uint64(cursor) + 1
	if cursor == 0 {
		from = 0
	}
	if from > head {
		return 0, nil
	}
	return ix.ScanRange(ctx, from, head)
}

// ScanRange implements the state machine from the spec: iterate
// [fromBlock, toBlock] in batchSize chunks, decode logs in
// (blockNumber, logIndex) order, and checkpoint once per block. It
// returns the number of trades newly inserted.
func (ix *Indexer) ScanRange(ctx context.Context, fromBlock, toBlock uint64) (int, error) {
	ix.triedTokens = make(map[string]bool)
	ix.blockTimeMu = make(map[uint64]time.Time)
	cur := fromBlock
	total := 0
	for cur <= toBlock {
		end := cur + ix.batchSize - 1
		if end > toBlock {
			end = toBlock
		}

		logs, err := ix.getLogsWithRetry(ctx, cur, end)
		if err != nil {
			return total, fmt.Errorf("get logs [%d,%d]: %w", cur, end, err)
		}

		byBlock := groupByBlock(logs)

		for b := cur; b <= end; b++ {
			n, err := ix.processBlock(ctx, b, byBlock[b])
			total += n
			if err != nil {
				return total, fmt.Errorf("process block %d: %w", b, err)
			}
		}

		cur = end + 1
	}
	return total, nil
}

// getLogsWithRetry retries a failed FilterLogs up to 3 times with
// exponential backoff (2s, 4s, 8s) to tolerate transient RPC provider
// hiccups.
func (ix *Indexer) getLogsWithRetry(ctx context.Context, from, to uint64) ([]gethtypes.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: ix.exchanges,
		Topics:    [][]common.Hash{{orderFilledTopic}},
	}

	for attempt := 0; ; attempt++ {
		logs, err := ix.chain.FilterLogs(ctx, query)
		if err == nil {
			sortLogs(logs)
			return logs, nil
		}
		if attempt == 3 {
			return nil, err
		}
		ix.logger.Warn("get_logs failed, retrying", "attempt", attempt+1, "error", err)

		backoff := time.Duration(2<<attempt) * time.Second
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// sortLogs enforces (blockNumber, logIndex) order since batched
// eth_getLogs responses make no ordering guarantee across the range.
func sortLogs(logs []gethtypes.Log) {
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}

func groupByBlock(logs []gethtypes.Log) map[uint64][]gethtypes.Log {
	out := make(map[uint64][]gethtypes.Log)
	for _, l := range logs {
		out[l.BlockNumber] = append(out[l.BlockNumber], l)
	}
	return out
}

// processBlock decodes and persists every log for one block, then
// advances the trade_sync cursor to that block in the same transaction —
// the crash-safety unit the spec requires.
func (ix *Indexer) processBlock(ctx context.Context, blockNumber uint64, logs []gethtypes.Log) (int, error) {
	ts, err := ix.blockTimestamp(ctx, blockNumber)
	if err != nil {
		return 0, fmt.Errorf("block timestamp: %w", err)
	}

	tx, err := ix.store.BeginTx()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, log := range logs {
		ok, err := ix.processLog(tx, log, ts)
		if err != nil {
			ix.logger.Warn("skip log", "tx_hash", log.TxHash.Hex(), "log_index", log.Index, "error", err)
			continue
		}
		if ok {
			inserted++
		}
	}

	if err := ix.store.SetCursor(tx, store.CursorTradeSync, int64(blockNumber)); err != nil {
		return inserted, err
	}

	return inserted, tx.Commit()
}

func (ix *Indexer) blockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	if ts, ok := ix.blockTimeMu[blockNumber]; ok {
		return ts, nil
	}
	header, err := ix.chain.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return time.Time{}, err
	}
	ts := time.Unix(int64(header.Time), 0).UTC()
	ix.blockTimeMu[blockNumber] = ts
	return ts, nil
}

// processLog decodes one OrderFilled log, resolves its market (invoking
// on-demand discovery if needed), and persists the resulting trade.
func (ix *Indexer) processLog(tx *sql.Tx, log gethtypes.Log, blockTime time.Time) (bool, error) {
	of, err := decodeOrderFilled(log)
	if err != nil {
		return false, fmt.Errorf("decode: %w", err)
	}

	side, tokenID, usdcRaw, tokenRaw := classifyFill(of)

	price := decimal.Zero
	if tokenRaw.Sign() != 0 {
		price = decimal.NewFromBigInt(usdcRaw, 0).DivRound(decimal.NewFromBigInt(tokenRaw, 0), 10)
	}
	size := decimal.NewFromBigInt(tokenRaw, -6)
	fee := decimal.NewFromBigInt(of.Fee, -6)

	priceF, _ := price.Float64()
	sizeF, _ := size.Float64()
	feeF, _ := fee.Float64()

	market, err := ix.resolveMarket(tokenID)
	if err != nil {
		return false, fmt.Errorf("resolve market for token %s: %w", tokenID, err)
	}

	var marketID *int64
	outcome := types.OutcomeUnknown
	if market != nil {
		id := market.ID
		marketID = &id
		switch tokenID {
		case market.YesTokenID:
			outcome = types.OutcomeYes
		case market.NoTokenID:
			outcome = types.OutcomeNo
		}
	}

	trade := types.Trade{
		MarketID:    marketID,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    int64(log.Index),
		BlockNumber: int64(log.BlockNumber),
		Maker:       of.Maker.Hex(),
		Taker:       of.Taker.Hex(),
		Side:        side,
		Outcome:     outcome,
		Price:       priceF,
		Size:        sizeF,
		Fee:         feeF,
		TokenID:     tokenID,
		Timestamp:   blockTime,
	}

	_, inserted, err := ix.store.InsertTrade(tx, trade)
	if err != nil {
		return false, fmt.Errorf("insert trade: %w", err)
	}
	if inserted && marketID != nil {
		if err := ix.store.IncrementTradeCount(tx, *marketID); err != nil {
			return false, fmt.Errorf("increment trade count: %w", err)
		}
	}
	return inserted, nil
}

// classifyFill applies the OrderFilled decoding rule: a makerAssetId of
// zero means the maker paid collateral (a BUY of the taker's asset),
// otherwise the maker sold their position token.
func classifyFill(of orderFilled) (side types.Side, tokenID string, usdcRaw, tokenRaw *big.Int) {
	if of.MakerAssetID.Sign() == 0 {
		return types.Buy, of.TakerAssetID.String(), of.MakerAmountFilled, of.TakerAmountFilled
	}
	return types.Sell, of.MakerAssetID.String(), of.TakerAmountFilled, of.MakerAmountFilled
}

// resolveMarket looks up the market owning tokenID, dispatching an
// on-demand Gamma lookup through the discovery service on a cache miss.
// A token already tried and missed earlier in this scan is not retried,
// since discovery is a live HTTP call and a persistently-unknown token
// would otherwise trigger one per log instead of once per scan.
func (ix *Indexer) resolveMarket(tokenID string) (*types.Market, error) {
	market, err := ix.store.MarketByTokenID(tokenID)
	if err != nil {
		return nil, err
	}
	if market != nil {
		return market, nil
	}
	if ix.triedTokens[tokenID] {
		ix.logger.Warn("token unresolved, already tried this scan", "token_id", tokenID)
		return nil, nil
	}
	if ix.discoverer == nil {
		ix.triedTokens[tokenID] = true
		return nil, nil
	}
	market, err = ix.discoverer.DiscoverByTokenID(tokenID)
	if err != nil {
		ix.logger.Warn("on-demand discovery failed", "token_id", tokenID, "error", err)
	}
	if market == nil {
		ix.triedTokens[tokenID] = true
	}
	return market, nil
}
