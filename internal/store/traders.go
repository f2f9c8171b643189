package store

import "fmt"

// TraderActivity summarizes an address's locally indexed trading activity
// (as opposed to the Data API's cross-market lifetime figures).
type TraderActivity struct {
	TradeCount int64
	Volume     float64
	MarketsHit int64
}

// TraderActivityFor computes local trade stats for an address across both
// maker and taker legs.
func (s *Store) TraderActivityFor(address string) (TraderActivity, error) {
	var a TraderActivity
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(price * size), 0), COUNT(DISTINCT market_id)
		FROM trades WHERE maker = ? OR taker = ?
	`, address, address).Scan(&a.TradeCount, &a.Volume, &a.MarketsHit)
	if err != nil {
		return TraderActivity{}, fmt.Errorf("trader activity for %s: %w", address, err)
	}
	return a, nil
}

// SearchTraderAddresses returns distinct maker/taker addresses with the
// given case-insensitive prefix, for the traders search endpoint.
func (s *Store) SearchTraderAddresses(prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	like := prefix + "%"
	rows, err := s.db.Query(`
		SELECT DISTINCT addr FROM (
			SELECT maker AS addr FROM trades WHERE maker LIKE ?
			UNION
			SELECT taker AS addr FROM trades WHERE taker LIKE ?
		) LIMIT ?
	`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("search trader addresses: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}
