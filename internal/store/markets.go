package store

import (
	"database/sql"
	"fmt"

	"polylens/pkg/types"
)

// UpsertMarket inserts or merges a market by its unique conditionId. As
// with UpsertEvent, empty string fields never overwrite existing values,
// except sync_warning, which is always replaced (an empty value clears a
// stored warning); numeric rollups (volume, liquidity, ...) always
// overwrite since Gamma always reports a value (possibly zero) for them.
func (s *Store) UpsertMarket(m types.Market) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO markets (
			event_id, slug, condition_id, question_id, oracle, collateral_token,
			yes_token_id, no_token_id, neg_risk, status, question, description,
			outcomes, outcome_prices, end_date, image, icon, category,
			volume, volume_24h, liquidity, best_bid, best_ask, sync_warning, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(condition_id) DO UPDATE SET
			event_id         = COALESCE(excluded.event_id, event_id),
			slug             = COALESCE(NULLIF(excluded.slug, ''), slug),
			question_id      = COALESCE(NULLIF(excluded.question_id, ''), question_id),
			oracle           = COALESCE(NULLIF(excluded.oracle, ''), oracle),
			collateral_token = COALESCE(NULLIF(excluded.collateral_token, ''), collateral_token),
			yes_token_id     = COALESCE(NULLIF(excluded.yes_token_id, ''), yes_token_id),
			no_token_id      = COALESCE(NULLIF(excluded.no_token_id, ''), no_token_id),
			neg_risk         = excluded.neg_risk,
			status           = COALESCE(NULLIF(excluded.status, ''), status),
			question         = COALESCE(NULLIF(excluded.question, ''), question),
			description      = COALESCE(NULLIF(excluded.description, ''), description),
			outcomes         = COALESCE(NULLIF(excluded.outcomes, ''), outcomes),
			outcome_prices   = COALESCE(NULLIF(excluded.outcome_prices, ''), outcome_prices),
			end_date         = COALESCE(NULLIF(excluded.end_date, ''), end_date),
			image            = COALESCE(NULLIF(excluded.image, ''), image),
			icon             = COALESCE(NULLIF(excluded.icon, ''), icon),
			category         = COALESCE(NULLIF(excluded.category, ''), category),
			volume           = excluded.volume,
			volume_24h       = excluded.volume_24h,
			liquidity        = excluded.liquidity,
			best_bid         = COALESCE(excluded.best_bid, best_bid),
			best_ask         = COALESCE(excluded.best_ask, best_ask),
			sync_warning     = excluded.sync_warning,
			updated_at       = strftime('%Y-%m-%dT%H:%M:%fZ','now')
	`, nullableInt64(m.EventID), m.Slug, m.ConditionID, m.QuestionID, m.Oracle, m.CollateralToken,
		m.YesTokenID, m.NoTokenID, m.NegRisk, string(m.Status), m.Question, m.Description,
		m.Outcomes, m.OutcomePrices, m.EndDate, m.Image, m.Icon, m.Category,
		m.Volume, m.Volume24h, m.Liquidity, m.BestBid, m.BestAsk, m.SyncWarning)
	if err != nil {
		return 0, fmt.Errorf("upsert market %s: %w", m.ConditionID, err)
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		return id, nil
	}
	return s.marketIDByConditionID(m.ConditionID)
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func (s *Store) marketIDByConditionID(conditionID string) (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM markets WHERE condition_id = ?`, conditionID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("lookup market id for %s: %w", conditionID, err)
	}
	return id, nil
}

const marketColumns = `
	id, event_id, slug, condition_id, question_id, oracle, collateral_token,
	yes_token_id, no_token_id, neg_risk, status, question, description,
	outcomes, outcome_prices, end_date, image, icon, category,
	volume, volume_24h, liquidity, best_bid, best_ask, trade_count,
	unique_traders_24h, sync_warning, created_at, updated_at
`

func scanMarket(row interface {
	Scan(dest ...any) error
}) (*types.Market, error) {
	var m types.Market
	var eventID sql.NullInt64
	var status string
	err := row.Scan(&m.ID, &eventID, &m.Slug, &m.ConditionID, &m.QuestionID, &m.Oracle, &m.CollateralToken,
		&m.YesTokenID, &m.NoTokenID, &m.NegRisk, &status, &m.Question, &m.Description,
		&m.Outcomes, &m.OutcomePrices, &m.EndDate, &m.Image, &m.Icon, &m.Category,
		&m.Volume, &m.Volume24h, &m.Liquidity, &m.BestBid, &m.BestAsk, &m.TradeCount,
		&m.UniqueTraders24h, &m.SyncWarning, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan market: %w", err)
	}
	m.Status = types.MarketStatus(status)
	if eventID.Valid {
		m.EventID = &eventID.Int64
	}
	return &m, nil
}

// MarketByConditionID returns the market with the given condition ID, or
// (nil, nil) if it hasn't been discovered yet.
func (s *Store) MarketByConditionID(conditionID string) (*types.Market, error) {
	row := s.db.QueryRow(`SELECT `+marketColumns+` FROM markets WHERE condition_id = ?`, conditionID)
	return scanMarket(row)
}

// MarketByTokenID returns the market whose yes or no token ID matches, or
// (nil, nil) on a miss. Called by the indexer for every decoded log.
func (s *Store) MarketByTokenID(tokenID string) (*types.Market, error) {
	row := s.db.QueryRow(`SELECT `+marketColumns+` FROM markets WHERE yes_token_id = ? OR no_token_id = ?`, tokenID, tokenID)
	return scanMarket(row)
}

// MarketBySlug returns the market with the given slug, or (nil, nil) on a miss.
func (s *Store) MarketBySlug(slug string) (*types.Market, error) {
	row := s.db.QueryRow(`SELECT `+marketColumns+` FROM markets WHERE slug = ?`, slug)
	return scanMarket(row)
}

// MarketByID returns the market with the given surrogate id, or (nil, nil).
func (s *Store) MarketByID(id int64) (*types.Market, error) {
	row := s.db.QueryRow(`SELECT `+marketColumns+` FROM markets WHERE id = ?`, id)
	return scanMarket(row)
}

// ListMarketsFilter narrows ListMarkets. Zero values are "no filter".
// OrderByVolumeDesc and OrderByVolume24hDesc rank by distinct columns
// (all-time volume vs. the trailing-24h rollup) and are mutually
// exclusive; if both are set, OrderByVolumeDesc wins.
type ListMarketsFilter struct {
	Category             string
	Status               types.MarketStatus
	Limit                int
	Offset               int
	OrderByVolumeDesc    bool
	OrderByVolume24hDesc bool
}

// ListMarkets returns markets matching the filter, most recently updated
// first unless one of the OrderByVolume* flags is set.
func (s *Store) ListMarkets(f ListMarketsFilter) ([]types.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets WHERE 1=1`
	args := []any{}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	switch {
	case f.OrderByVolumeDesc:
		query += ` ORDER BY volume DESC`
	case f.OrderByVolume24hDesc:
		query += ` ORDER BY volume_24h DESC`
	default:
		query += ` ORDER BY updated_at DESC`
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	defer rows.Close()

	var out []types.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Categories returns the distinct, non-empty category values in use.
func (s *Store) Categories() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT category FROM markets WHERE category IS NOT NULL AND category != '' ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// IncrementTradeCount bumps a market's denormalized trade_count rollup by
// one, called once per newly persisted trade in the same transaction.
func (s *Store) IncrementTradeCount(tx *sql.Tx, marketID int64) error {
	_, err := tx.Exec(`UPDATE markets SET trade_count = trade_count + 1 WHERE id = ?`, marketID)
	if err != nil {
		return fmt.Errorf("increment trade_count for market %d: %w", marketID, err)
	}
	return nil
}

// RefreshUniqueTraders24h sets unique_traders_24h for the given market to
// the distinct taker count over the trailing 24h window. Mirrors the
// scheduler's periodic rollup refresh.
func (s *Store) RefreshUniqueTraders24h(marketID int64, cutoffISO string) error {
	_, err := s.db.Exec(`
		UPDATE markets SET unique_traders_24h = (
			SELECT COUNT(DISTINCT taker) FROM trades WHERE market_id = ? AND timestamp >= ?
		) WHERE id = ?
	`, marketID, cutoffISO, marketID)
	if err != nil {
		return fmt.Errorf("refresh unique_traders_24h for market %d: %w", marketID, err)
	}
	return nil
}

// UpdatePrices overwrites a market's outcome_prices/status/best bid-ask,
// called by the scheduler's periodic price refresh job.
func (s *Store) UpdatePrices(conditionID, outcomePrices string, status types.MarketStatus, bestBid, bestAsk *float64) error {
	_, err := s.db.Exec(`
		UPDATE markets SET
			outcome_prices = COALESCE(NULLIF(?, ''), outcome_prices),
			status         = COALESCE(NULLIF(?, ''), status),
			best_bid       = COALESCE(?, best_bid),
			best_ask       = COALESCE(?, best_ask),
			updated_at     = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE condition_id = ?
	`, outcomePrices, string(status), bestBid, bestAsk, conditionID)
	if err != nil {
		return fmt.Errorf("update prices for %s: %w", conditionID, err)
	}
	return nil
}
