package store

import (
	"database/sql"
	"fmt"

	"polylens/pkg/types"
)

// UpsertEvent inserts or merges an event by its unique slug. Zero-value
// string fields are treated as "unset" and never overwrite an existing
// column; pass the event's current state back in to force an overwrite.
func (s *Store) UpsertEvent(e types.Event) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO events (slug, title, description, category, start_date, end_date, image, icon, status, neg_risk, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(slug) DO UPDATE SET
			title       = COALESCE(NULLIF(excluded.title, ''), title),
			description = COALESCE(NULLIF(excluded.description, ''), description),
			category    = COALESCE(NULLIF(excluded.category, ''), category),
			start_date  = COALESCE(NULLIF(excluded.start_date, ''), start_date),
			end_date    = COALESCE(NULLIF(excluded.end_date, ''), end_date),
			image       = COALESCE(NULLIF(excluded.image, ''), image),
			icon        = COALESCE(NULLIF(excluded.icon, ''), icon),
			status      = COALESCE(NULLIF(excluded.status, ''), status),
			neg_risk    = excluded.neg_risk,
			updated_at  = strftime('%Y-%m-%dT%H:%M:%fZ','now')
	`, e.Slug, e.Title, e.Description, e.Category, e.StartDate, e.EndDate, e.Image, e.Icon, string(e.Status), e.NegRisk)
	if err != nil {
		return 0, fmt.Errorf("upsert event %s: %w", e.Slug, err)
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		return id, nil
	}
	return s.eventIDBySlug(e.Slug)
}

func (s *Store) eventIDBySlug(slug string) (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM events WHERE slug = ?`, slug).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("lookup event id for %s: %w", slug, err)
	}
	return id, nil
}

// EventBySlug returns the event with the given slug, or (nil, nil) if
// there is no such event.
func (s *Store) EventBySlug(slug string) (*types.Event, error) {
	row := s.db.QueryRow(`
		SELECT id, slug, title, description, category, start_date, end_date, image, icon, status, neg_risk, created_at, updated_at
		FROM events WHERE slug = ?`, slug)
	return scanEvent(row)
}

func scanEvent(row *sql.Row) (*types.Event, error) {
	var e types.Event
	var status string
	err := row.Scan(&e.ID, &e.Slug, &e.Title, &e.Description, &e.Category, &e.StartDate, &e.EndDate,
		&e.Image, &e.Icon, &status, &e.NegRisk, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.Status = types.MarketStatus(status)
	return &e, nil
}

// UpdateCategory sets the category of the one event with the given slug,
// only when that event has no category yet; an existing non-empty
// category is left unchanged, and an empty category argument is a no-op.
func (s *Store) UpdateCategory(slug, category string) error {
	if category == "" {
		return nil
	}
	_, err := s.db.Exec(`UPDATE events SET category = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE slug = ? AND (category IS NULL OR category = '')`, category, slug)
	if err != nil {
		return fmt.Errorf("update event category %s: %w", slug, err)
	}
	return nil
}
