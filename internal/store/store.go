// Package store is the persistent layer: a WAL-mode SQLite database
// holding events, markets, trades, whale trades, sync cursors, and
// periodic market metric rollups. Every write goes through typed
// upserts with COALESCE merge semantics — a field left unset on the
// incoming record never clobbers a previously stored value.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps a sql.DB opened against a single SQLite file with WAL
// journaling. A single writer (the indexer/scheduler) and many readers
// (the API) can use the same Store concurrently.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path, applies
// pending migrations, and returns a ready Store.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL allows many concurrent readers, but modernc.org/sqlite serializes
	// writers at the driver level; keep a modest pool so readers don't
	// queue behind a long-running indexer transaction.
	db.SetMaxOpenConns(8)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sql.DB for packages (metrics, scheduler) that
// need to run ad hoc read queries not worth a dedicated Store method.
func (s *Store) DB() *sql.DB { return s.db }
