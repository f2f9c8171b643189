// Package metrics computes trading analytics — OHLCV klines, VWAP,
// buy/sell pressure, a whale sentiment signal, trader counts, and net
// flow — directly from the trades table. Nothing here is authoritative:
// every number can be recomputed from trades at any time, and rows in
// market_metrics are just a cache of what this package produces. The
// scheduler does not write those rows.
package metrics

import (
	"database/sql"
	"fmt"
	"time"

	"polylens/internal/store"
	"polylens/pkg/types"
)

// Engine computes analytics over a store's trades.
type Engine struct {
	db *sql.DB
}

// New builds an Engine reading from st.
func New(st *store.Store) *Engine {
	return &Engine{db: st.DB()}
}

// Klines buckets a market's trades on one token into OHLCV candles of
// the given interval width, inclusive of [from, to] (unix seconds).
func (e *Engine) Klines(marketID int64, tokenID string, interval types.KlineInterval, from, to int64) ([]types.Kline, error) {
	width, ok := types.IntervalSeconds[interval]
	if !ok {
		return nil, fmt.Errorf("unknown kline interval %q", interval)
	}

	rows, err := e.db.Query(`
		WITH bucketed AS (
			SELECT
				(CAST(strftime('%s', timestamp) AS INTEGER) / ?) * ? AS bucket,
				price, size
			FROM trades
			WHERE market_id = ? AND token_id = ? AND price > 0
				AND CAST(strftime('%s', timestamp) AS INTEGER) BETWEEN ? AND ?
		)
		SELECT
			bucket,
			MIN(price) AS low,
			MAX(price) AS high,
			SUM(price * size) AS volume,
			COUNT(*) AS trade_count
		FROM bucketed
		GROUP BY bucket
		ORDER BY bucket ASC
	`, width, width, marketID, tokenID, from, to)
	if err != nil {
		return nil, fmt.Errorf("klines for market %d token %s: %w", marketID, tokenID, err)
	}
	defer rows.Close()

	var out []types.Kline
	for rows.Next() {
		var k types.Kline
		if err := rows.Scan(&k.Timestamp, &k.Low, &k.High, &k.Volume, &k.TradeCount); err != nil {
			return nil, fmt.Errorf("scan kline: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := e.fillOpenClose(marketID, tokenID, width, out); err != nil {
		return nil, err
	}
	return out, nil
}

// fillOpenClose sets Open/Close on each bucket to the price of the
// first/last trade within it — a separate pass since SQLite has no
// FIRST()/LAST() aggregate.
func (e *Engine) fillOpenClose(marketID int64, tokenID string, width int64, buckets []types.Kline) error {
	for i := range buckets {
		b := &buckets[i]
		bucketEnd := b.Timestamp + width

		var openPrice, closePrice float64
		err := e.db.QueryRow(`
			SELECT price FROM trades
			WHERE market_id = ? AND token_id = ? AND price > 0
				AND CAST(strftime('%s', timestamp) AS INTEGER) >= ? AND CAST(strftime('%s', timestamp) AS INTEGER) < ?
			ORDER BY id ASC LIMIT 1
		`, marketID, tokenID, b.Timestamp, bucketEnd).Scan(&openPrice)
		if err != nil {
			return fmt.Errorf("bucket open price: %w", err)
		}
		err = e.db.QueryRow(`
			SELECT price FROM trades
			WHERE market_id = ? AND token_id = ? AND price > 0
				AND CAST(strftime('%s', timestamp) AS INTEGER) >= ? AND CAST(strftime('%s', timestamp) AS INTEGER) < ?
			ORDER BY id DESC LIMIT 1
		`, marketID, tokenID, b.Timestamp, bucketEnd).Scan(&closePrice)
		if err != nil {
			return fmt.Errorf("bucket close price: %w", err)
		}
		b.Open = openPrice
		b.Close = closePrice
	}
	return nil
}

// windowStart returns the start of a named period's trailing window as
// an RFC 3339 UTC timestamp string, the format trades.timestamp is stored in.
func windowStart(period types.Period) (string, error) {
	seconds, ok := types.PeriodSeconds[period]
	if !ok {
		return "", fmt.Errorf("unknown period %q", period)
	}
	return time.Now().Add(-time.Duration(seconds) * time.Second).UTC().Format(time.RFC3339Nano), nil
}

// VWAP is the volume-weighted average price over the trailing window.
// Returns (nil, nil) if there were no trades in the window.
func (e *Engine) VWAP(marketID int64, tokenID string, period types.Period) (*float64, error) {
	cutoff, err := windowStart(period)
	if err != nil {
		return nil, err
	}
	var numerator, denominator sql.NullFloat64
	err = e.db.QueryRow(`
		SELECT SUM(price * size), SUM(size) FROM trades
		WHERE market_id = ? AND token_id = ? AND price > 0 AND timestamp >= ?
	`, marketID, tokenID, cutoff).Scan(&numerator, &denominator)
	if err != nil {
		return nil, fmt.Errorf("vwap for market %d token %s: %w", marketID, tokenID, err)
	}
	if !denominator.Valid || denominator.Float64 == 0 {
		return nil, nil
	}
	v := numerator.Float64 / denominator.Float64
	return &v, nil
}

// BuySellVolume is the buy-side/sell-side USD volume split, used by
// both the pressure ratio and net flow.
type BuySellVolume struct {
	BuyVolume  float64
	SellVolume float64
	BuyCount   int64
	SellCount  int64
}

func (e *Engine) buySellVolume(marketID int64, tokenID string, cutoff string) (BuySellVolume, error) {
	var v BuySellVolume
	err := e.db.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN side = 'BUY' THEN price * size ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN side = 'SELL' THEN price * size ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN side = 'BUY' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN side = 'SELL' THEN 1 ELSE 0 END), 0)
		FROM trades WHERE market_id = ? AND token_id = ? AND price > 0 AND timestamp >= ?
	`, marketID, tokenID, cutoff).Scan(&v.BuyVolume, &v.SellVolume, &v.BuyCount, &v.SellCount)
	if err != nil {
		return BuySellVolume{}, fmt.Errorf("buy/sell volume for market %d token %s: %w", marketID, tokenID, err)
	}
	return v, nil
}

// BuySellPressure is buyVolume/sellVolume over the window. Returns nil
// whenever there has been no sell volume, whether or not there was buy
// volume (an undefined ratio, not a zero one) — mirrors the source
// system's null-on-divide.
func (e *Engine) BuySellPressure(marketID int64, tokenID string, period types.Period) (*float64, error) {
	cutoff, err := windowStart(period)
	if err != nil {
		return nil, err
	}
	v, err := e.buySellVolume(marketID, tokenID, cutoff)
	if err != nil {
		return nil, err
	}
	if v.SellVolume == 0 {
		return nil, nil
	}
	ratio := v.BuyVolume / v.SellVolume
	return &ratio, nil
}

// NetFlow is buyVolume - sellVolume in USD over the window: positive
// means net buying pressure.
func (e *Engine) NetFlow(marketID int64, tokenID string, period types.Period) (float64, error) {
	cutoff, err := windowStart(period)
	if err != nil {
		return 0, err
	}
	v, err := e.buySellVolume(marketID, tokenID, cutoff)
	if err != nil {
		return 0, err
	}
	return v.BuyVolume - v.SellVolume, nil
}

// WhaleSignal classifies sentiment from whale trade flow over the
// window: "bullish" when buy share > 0.6, "bearish" when < 0.4,
// "neutral" otherwise (including when there's no whale activity).
func (e *Engine) WhaleSignal(marketID int64, period types.Period) (string, error) {
	cutoff, err := windowStart(period)
	if err != nil {
		return "", err
	}
	var buyVol, sellVol sql.NullFloat64
	err = e.db.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN side = 'BUY' THEN usd_value ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN side = 'SELL' THEN usd_value ELSE 0 END), 0)
		FROM whale_trades WHERE market_id = ? AND timestamp >= ?
	`, marketID, cutoff).Scan(&buyVol, &sellVol)
	if err != nil {
		return "", fmt.Errorf("whale signal for market %d: %w", marketID, err)
	}
	total := buyVol.Float64 + sellVol.Float64
	if total == 0 {
		return "neutral", nil
	}
	buyShare := buyVol.Float64 / total
	switch {
	case buyShare > 0.6:
		return "bullish", nil
	case buyShare < 0.4:
		return "bearish", nil
	default:
		return "neutral", nil
	}
}

// TraderStats is the unique-trader approximation used throughout this
// system: max(distinct makers, distinct takers), not the true union —
// see the open-question note in DESIGN.md.
func (e *Engine) TraderStats(marketID int64, period types.Period) (int64, error) {
	cutoff, err := windowStart(period)
	if err != nil {
		return 0, err
	}
	var makers, takers int64
	err = e.db.QueryRow(`
		SELECT COUNT(DISTINCT maker), COUNT(DISTINCT taker) FROM trades
		WHERE market_id = ? AND price > 0 AND timestamp >= ?
	`, marketID, cutoff).Scan(&makers, &takers)
	if err != nil {
		return 0, fmt.Errorf("trader stats for market %d: %w", marketID, err)
	}
	if makers > takers {
		return makers, nil
	}
	return takers, nil
}

// Snapshot computes a full MarketMetric row for (marketID, tokenID,
// interval) on demand, as the read API's /metrics/{id} endpoint does. It
// does not persist the row, and the scheduler does not call it.
func (e *Engine) Snapshot(marketID int64, tokenID string, period types.Period) (types.MarketMetric, error) {
	cutoff, err := windowStart(period)
	if err != nil {
		return types.MarketMetric{}, err
	}

	v, err := e.buySellVolume(marketID, tokenID, cutoff)
	if err != nil {
		return types.MarketMetric{}, err
	}
	vwap, err := e.VWAP(marketID, tokenID, period)
	if err != nil {
		return types.MarketMetric{}, err
	}
	ratio, err := e.BuySellPressure(marketID, tokenID, period)
	if err != nil {
		return types.MarketMetric{}, err
	}
	traders, err := e.TraderStats(marketID, period)
	if err != nil {
		return types.MarketMetric{}, err
	}

	var priceHigh, priceLow, priceOpen, priceClose sql.NullFloat64
	err = e.db.QueryRow(`
		SELECT MAX(price), MIN(price) FROM trades WHERE market_id = ? AND token_id = ? AND price > 0 AND timestamp >= ?
	`, marketID, tokenID, cutoff).Scan(&priceHigh, &priceLow)
	if err != nil {
		return types.MarketMetric{}, fmt.Errorf("price range for market %d token %s: %w", marketID, tokenID, err)
	}
	err = e.db.QueryRow(`
		SELECT price FROM trades WHERE market_id = ? AND token_id = ? AND price > 0 AND timestamp >= ? ORDER BY id ASC LIMIT 1
	`, marketID, tokenID, cutoff).Scan(&priceOpen)
	if err != nil && err != sql.ErrNoRows {
		return types.MarketMetric{}, fmt.Errorf("price open for market %d token %s: %w", marketID, tokenID, err)
	}
	err = e.db.QueryRow(`
		SELECT price FROM trades WHERE market_id = ? AND token_id = ? AND price > 0 AND timestamp >= ? ORDER BY id DESC LIMIT 1
	`, marketID, tokenID, cutoff).Scan(&priceClose)
	if err != nil && err != sql.ErrNoRows {
		return types.MarketMetric{}, fmt.Errorf("price close for market %d token %s: %w", marketID, tokenID, err)
	}

	var whaleBuyVol, whaleSellVol sql.NullFloat64
	var whaleBuyCount, whaleSellCount int64
	err = e.db.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN side = 'BUY' THEN usd_value ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN side = 'SELL' THEN usd_value ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN side = 'BUY' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN side = 'SELL' THEN 1 ELSE 0 END), 0)
		FROM whale_trades WHERE market_id = ? AND timestamp >= ?
	`, marketID, cutoff).Scan(&whaleBuyVol, &whaleSellVol, &whaleBuyCount, &whaleSellCount)
	if err != nil {
		return types.MarketMetric{}, fmt.Errorf("whale volume for market %d: %w", marketID, err)
	}

	netFlow := v.BuyVolume - v.SellVolume

	m := types.MarketMetric{
		MarketID:        marketID,
		TokenID:         tokenID,
		Timestamp:       time.Now().Unix(),
		Interval:        period,
		BuyVolume:       v.BuyVolume,
		SellVolume:      v.SellVolume,
		BuyCount:        v.BuyCount,
		SellCount:       v.SellCount,
		VWAP:            vwap,
		UniqueTraders:   traders,
		WhaleBuyVolume:  whaleBuyVol.Float64,
		WhaleSellVolume: whaleSellVol.Float64,
		WhaleBuyCount:   whaleBuyCount,
		WhaleSellCount:  whaleSellCount,
		BuySellRatio:    ratio,
		NetFlow:         &netFlow,
	}
	if priceHigh.Valid {
		m.PriceHigh = &priceHigh.Float64
	}
	if priceLow.Valid {
		m.PriceLow = &priceLow.Float64
	}
	if priceOpen.Valid {
		m.PriceOpen = &priceOpen.Float64
	}
	if priceClose.Valid {
		m.PriceClose = &priceClose.Float64
	}
	return m, nil
}
