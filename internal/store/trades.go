package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"polylens/pkg/types"
)

// InsertTrade inserts a trade within tx, enforcing the (tx_hash, log_index)
// natural key. Returns (id, true, nil) on insert, (0, false, nil) if the
// trade already exists (idempotent re-indexing after a crash/restart).
func (s *Store) InsertTrade(tx *sql.Tx, t types.Trade) (int64, bool, error) {
	res, err := tx.Exec(`
		INSERT OR IGNORE INTO trades (
			market_id, tx_hash, log_index, block_number, maker, taker,
			side, outcome, price, size, fee, token_id, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullableInt64(t.MarketID), t.TxHash, t.LogIndex, t.BlockNumber, t.Maker, t.Taker,
		string(t.Side), string(t.Outcome),
		decimal.NewFromFloat(t.Price).String(), decimal.NewFromFloat(t.Size).String(), decimal.NewFromFloat(t.Fee).String(),
		t.TokenID, t.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, false, fmt.Errorf("insert trade %s:%d: %w", t.TxHash, t.LogIndex, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("rows affected for trade %s:%d: %w", t.TxHash, t.LogIndex, err)
	}
	if rows == 0 {
		return 0, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("last insert id for trade %s:%d: %w", t.TxHash, t.LogIndex, err)
	}
	return id, true, nil
}

// BeginTx starts a transaction for callers (the indexer) that need to
// combine a trade insert with a trade_count bump and a checkpoint advance
// atomically.
func (s *Store) BeginTx() (*sql.Tx, error) { return s.db.Begin() }

func scanTrade(row interface {
	Scan(dest ...any) error
}) (*types.Trade, error) {
	var t types.Trade
	var marketID sql.NullInt64
	var side, outcome, priceStr, sizeStr, feeStr, timestamp string
	err := row.Scan(&t.ID, &marketID, &t.TxHash, &t.LogIndex, &t.BlockNumber, &t.Maker, &t.Taker,
		&side, &outcome, &priceStr, &sizeStr, &feeStr, &t.TokenID, &timestamp, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}
	t.Side = types.Side(side)
	t.Outcome = types.Outcome(outcome)
	if marketID.Valid {
		t.MarketID = &marketID.Int64
	}
	t.Price, _ = decimal.RequireFromString(priceStr).Float64()
	t.Size, _ = decimal.RequireFromString(sizeStr).Float64()
	t.Fee, _ = decimal.RequireFromString(feeStr).Float64()
	t.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return nil, fmt.Errorf("parse trade timestamp: %w", err)
	}
	return &t, nil
}

const tradeColumns = `
	id, market_id, tx_hash, log_index, block_number, maker, taker,
	side, outcome, price, size, fee, token_id, timestamp, created_at
`

// TradesByMarket returns the most recent trades for a market, newest first.
func (s *Store) TradesByMarket(marketID int64, limit int) ([]types.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+tradeColumns+` FROM trades WHERE market_id = ? ORDER BY id DESC LIMIT ?`, marketID, limit)
	if err != nil {
		return nil, fmt.Errorf("trades by market %d: %w", marketID, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// TradesSince returns trades with id > afterID, oldest first — used by the
// whale tail detector.
func (s *Store) TradesSince(afterID int64, limit int) ([]types.Trade, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(`SELECT `+tradeColumns+` FROM trades WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("trades since %d: %w", afterID, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

func collectTrades(rows *sql.Rows) ([]types.Trade, error) {
	var out []types.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
