package database

import (
	"fmt"
)

type trendRepository struct {
	db *DB
}

func NewTrendRepository(db *DB) TrendRepository {
	return &trendRepository{db: db}
}

// ReplaceTrends swaps the stored trend summary wholesale, so recomputing
// over the same data is idempotent.
func (r *trendRepository) ReplaceTrends(trends []Trend) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin trend transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM trends`); err != nil {
		return fmt.Errorf("failed to clear trends: %w", err)
	}

	for _, trend := range trends {
		_, err := tx.Exec(`
			INSERT INTO trends (term, count, window_start, computed_at)
			VALUES (?, ?, ?, ?)`,
			trend.Term, trend.Count, trend.WindowStart, trend.ComputedAt)
		if err != nil {
			return fmt.Errorf("failed to insert trend %q: %w", trend.Term, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trends: %w", err)
	}
	return nil
}

func (r *trendRepository) GetTrends(limit int) ([]Trend, error) {
	rows, err := r.db.Query(`
		SELECT term, count, window_start, computed_at
		FROM trends ORDER BY count DESC, term ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get trends: %w", err)
	}
	defer rows.Close()

	var trends []Trend
	for rows.Next() {
		var trend Trend
		if err := rows.Scan(&trend.Term, &trend.Count, &trend.WindowStart, &trend.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trend row: %w", err)
		}
		trends = append(trends, trend)
	}
	return trends, rows.Err()
}
