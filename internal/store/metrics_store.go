package store

import (
	"database/sql"
	"errors"
	"fmt"

	"polylens/pkg/types"
)

// UpsertMarketMetric records a snapshot for a market/interval in
// market_metrics. Nothing in this repository calls it: the scheduler does
// not persist snapshots. Trades remain authoritative; this is purely a cache.
func (s *Store) UpsertMarketMetric(m types.MarketMetric) error {
	_, err := s.db.Exec(`
		INSERT INTO market_metrics (
			market_id, token_id, timestamp, interval, buy_volume, sell_volume,
			buy_count, sell_count, vwap, price_high, price_low, price_open, price_close,
			unique_traders, whale_buy_volume, whale_sell_volume, whale_buy_count, whale_sell_count,
			buy_sell_ratio, net_flow
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id, token_id, interval, timestamp) DO UPDATE SET
			buy_volume = excluded.buy_volume, sell_volume = excluded.sell_volume,
			buy_count = excluded.buy_count, sell_count = excluded.sell_count,
			vwap = excluded.vwap, price_high = excluded.price_high, price_low = excluded.price_low,
			price_open = excluded.price_open, price_close = excluded.price_close,
			unique_traders = excluded.unique_traders,
			whale_buy_volume = excluded.whale_buy_volume, whale_sell_volume = excluded.whale_sell_volume,
			whale_buy_count = excluded.whale_buy_count, whale_sell_count = excluded.whale_sell_count,
			buy_sell_ratio = excluded.buy_sell_ratio, net_flow = excluded.net_flow
	`, m.MarketID, m.TokenID, m.Timestamp, string(m.Interval), m.BuyVolume, m.SellVolume,
		m.BuyCount, m.SellCount, m.VWAP, m.PriceHigh, m.PriceLow, m.PriceOpen, m.PriceClose,
		m.UniqueTraders, m.WhaleBuyVolume, m.WhaleSellVolume, m.WhaleBuyCount, m.WhaleSellCount,
		m.BuySellRatio, m.NetFlow)
	if err != nil {
		return fmt.Errorf("upsert market metric for market %d: %w", m.MarketID, err)
	}
	return nil
}

// LatestMarketMetric returns the most recent snapshot for a market at the
// given interval, or (nil, nil) if none has been written yet.
func (s *Store) LatestMarketMetric(marketID int64, interval types.Period) (*types.MarketMetric, error) {
	row := s.db.QueryRow(`
		SELECT market_id, token_id, timestamp, interval, buy_volume, sell_volume,
			buy_count, sell_count, vwap, price_high, price_low, price_open, price_close,
			unique_traders, whale_buy_volume, whale_sell_volume, whale_buy_count, whale_sell_count,
			buy_sell_ratio, net_flow, created_at
		FROM market_metrics WHERE market_id = ? AND interval = ? ORDER BY timestamp DESC LIMIT 1
	`, marketID, string(interval))

	var m types.MarketMetric
	var intervalStr string
	err := row.Scan(&m.MarketID, &m.TokenID, &m.Timestamp, &intervalStr, &m.BuyVolume, &m.SellVolume,
		&m.BuyCount, &m.SellCount, &m.VWAP, &m.PriceHigh, &m.PriceLow, &m.PriceOpen, &m.PriceClose,
		&m.UniqueTraders, &m.WhaleBuyVolume, &m.WhaleSellVolume, &m.WhaleBuyCount, &m.WhaleSellCount,
		&m.BuySellRatio, &m.NetFlow, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest market metric for market %d: %w", marketID, err)
	}
	m.Interval = types.Period(intervalStr)
	return &m, nil
}
