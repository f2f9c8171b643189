package store

import (
	"database/sql"
	"fmt"

	"polylens/pkg/types"
)

// Reserved sync_state keys.
const (
	CursorTradeSync = "trade_sync"
	CursorWhaleSync = "whale_sync"
)

// Cursor returns the named checkpoint, or (0, nil) if it has never been set.
func (s *Store) Cursor(key string) (int64, error) {
	var last int64
	err := s.db.QueryRow(`SELECT last_block FROM sync_state WHERE key = ?`, key).Scan(&last)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor %s: %w", key, err)
	}
	return last, nil
}

// SetCursor advances a named checkpoint within tx, so it commits atomically
// with the work it guards (e.g. the block range of trades just persisted).
func (s *Store) SetCursor(tx *sql.Tx, key string, value int64) error {
	_, err := tx.Exec(`
		INSERT INTO sync_state (key, last_block, updated_at) VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(key) DO UPDATE SET last_block = excluded.last_block, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("set cursor %s: %w", key, err)
	}
	return nil
}

// SetCursorNoTx is SetCursor for callers without an open transaction (the
// whale tail detector advances its cursor outside the indexer's write
// transaction).
func (s *Store) SetCursorNoTx(key string, value int64) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_state (key, last_block, updated_at) VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(key) DO UPDATE SET last_block = excluded.last_block, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("set cursor %s: %w", key, err)
	}
	return nil
}

// AllCursors returns every recorded checkpoint, for the stats/status endpoint.
func (s *Store) AllCursors() ([]types.SyncCursor, error) {
	rows, err := s.db.Query(`SELECT key, last_block, updated_at FROM sync_state ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	var out []types.SyncCursor
	for rows.Next() {
		var c types.SyncCursor
		if err := rows.Scan(&c.Key, &c.LastBlock, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
