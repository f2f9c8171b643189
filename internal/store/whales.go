package store

import (
	"database/sql"
	"fmt"
	"time"

	"polylens/pkg/types"
)

// InsertWhaleTrade records a trade whose usdValue crossed the active
// threshold at detection time. Idempotent on (tx_hash, log_index) so the
// backfill and tail detectors never double-count a trade.
func (s *Store) InsertWhaleTrade(w types.WhaleTrade) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO whale_trades (
			tx_hash, log_index, market_id, trader, side, outcome,
			price, size, usd_value, block_number, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.TxHash, w.LogIndex, nullableInt64(w.MarketID), w.Trader, string(w.Side), string(w.Outcome),
		w.Price, w.Size, w.USDValue, w.BlockNumber, w.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("insert whale trade %s:%d: %w", w.TxHash, w.LogIndex, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for whale trade %s:%d: %w", w.TxHash, w.LogIndex, err)
	}
	return rows > 0, nil
}

// BackfillWhaleTrades copies every trade whose usdValue ≥ thresholdUSD
// into whale_trades in one statement — the startup/threshold-change
// backfill path, as opposed to the tail detector's per-trade path.
func (s *Store) BackfillWhaleTrades(thresholdUSD float64) (int64, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO whale_trades (tx_hash, log_index, market_id, trader, side, outcome, price, size, usd_value, block_number, timestamp)
		SELECT tx_hash, log_index, market_id, taker, side, outcome, price, size, price * size, block_number, timestamp
		FROM trades
		WHERE (price * size) >= ?
	`, thresholdUSD)
	if err != nil {
		return 0, fmt.Errorf("backfill whale trades: %w", err)
	}
	return res.RowsAffected()
}

const whaleColumns = `
	wt.id, wt.tx_hash, wt.log_index, wt.market_id, wt.trader, wt.side, wt.outcome,
	wt.price, wt.size, wt.usd_value, wt.block_number, wt.timestamp, wt.created_at,
	COALESCE(m.slug, ''), COALESCE(m.question, '')
`

func scanWhaleTrade(row interface {
	Scan(dest ...any) error
}) (*types.WhaleTrade, error) {
	var w types.WhaleTrade
	var marketID sql.NullInt64
	var side, outcome, timestamp string
	err := row.Scan(&w.ID, &w.TxHash, &w.LogIndex, &marketID, &w.Trader, &side, &outcome,
		&w.Price, &w.Size, &w.USDValue, &w.BlockNumber, &timestamp, &w.CreatedAt,
		&w.MarketSlug, &w.MarketQuestion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan whale trade: %w", err)
	}
	w.Side = types.Side(side)
	w.Outcome = types.Outcome(outcome)
	if marketID.Valid {
		w.MarketID = &marketID.Int64
	}
	w.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return nil, fmt.Errorf("parse whale trade timestamp: %w", err)
	}
	return &w, nil
}

// WhaleTrades returns whale trades filtered by minimum USD value and
// optional market, largest first.
func (s *Store) WhaleTrades(limit int, minUSD float64, marketID *int64) ([]types.WhaleTrade, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + whaleColumns + ` FROM whale_trades wt LEFT JOIN markets m ON m.id = wt.market_id WHERE wt.usd_value >= ?`
	args := []any{minUSD}
	if marketID != nil {
		query += ` AND wt.market_id = ?`
		args = append(args, *marketID)
	}
	query += ` ORDER BY wt.usd_value DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list whale trades: %w", err)
	}
	defer rows.Close()

	var out []types.WhaleTrade
	for rows.Next() {
		w, err := scanWhaleTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// RecentWhaleTrades returns the most recently detected whale trades,
// newest first — the feed served by the read API's /whales/recent
// endpoint.
func (s *Store) RecentWhaleTrades(limit int) ([]types.WhaleTrade, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT `+whaleColumns+` FROM whale_trades wt LEFT JOIN markets m ON m.id = wt.market_id ORDER BY wt.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent whale trades: %w", err)
	}
	defer rows.Close()

	var out []types.WhaleTrade
	for rows.Next() {
		w, err := scanWhaleTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// WhaleStats summarizes whale activity for a minimum USD value, optionally
// scoped to a single market.
type WhaleStats struct {
	Count      int64
	TotalUSD   float64
	UniqueTraders int64
}

// WhaleStatsFor computes aggregate whale stats matching the given filter.
func (s *Store) WhaleStatsFor(minUSD float64, marketID *int64) (WhaleStats, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(usd_value), 0), COUNT(DISTINCT trader) FROM whale_trades WHERE usd_value >= ?`
	args := []any{minUSD}
	if marketID != nil {
		query += ` AND market_id = ?`
		args = append(args, *marketID)
	}
	var stats WhaleStats
	if err := s.db.QueryRow(query, args...).Scan(&stats.Count, &stats.TotalUSD, &stats.UniqueTraders); err != nil {
		return WhaleStats{}, fmt.Errorf("whale stats: %w", err)
	}
	return stats, nil
}
