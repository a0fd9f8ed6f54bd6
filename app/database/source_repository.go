package database

import (
	"database/sql"
	"fmt"
	"time"
)

type sourceRepository struct {
	db *DB
}

func NewSourceRepository(db *DB) SourceRepository {
	return &sourceRepository{db: db}
}

// UpsertSource registers a configured source, preserving last_run_at across
// restarts. Sources are never deleted; removed configs are disabled.
func (r *sourceRepository) UpsertSource(id, name, baseURL string, enabled bool) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(`
		INSERT INTO sources (id, name, base_url, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			base_url = excluded.base_url,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		id, name, baseURL, enabled, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert source: %w", err)
	}
	return nil
}

func (r *sourceRepository) GetSource(id string) (*Source, error) {
	var src Source
	var lastRunAt sql.NullTime

	err := r.db.QueryRow(`
		SELECT id, name, base_url, enabled, last_run_at, created_at, updated_at
		FROM sources WHERE id = ?`, id).Scan(
		&src.ID, &src.Name, &src.BaseURL, &src.Enabled, &lastRunAt,
		&src.CreatedAt, &src.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	if lastRunAt.Valid {
		t := lastRunAt.Time
		src.LastRunAt = &t
	}
	return &src, nil
}

func (r *sourceRepository) GetSourceCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM sources`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get source count: %w", err)
	}
	return count, nil
}

func (r *sourceRepository) UpdateLastRun(id string, at time.Time) error {
	_, err := r.db.Exec(`UPDATE sources SET last_run_at = ?, updated_at = ? WHERE id = ?`,
		at, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update source last run: %w", err)
	}
	return nil
}
