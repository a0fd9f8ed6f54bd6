package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

type runRepository struct {
	db *DB
}

func NewRunRepository(db *DB) RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) CreateRun(run *Run) error {
	outcomes, err := json.Marshal(run.SourceOutcomes)
	if err != nil {
		return fmt.Errorf("failed to marshal source outcomes: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO runs (id, started_at, status, source_outcomes)
		VALUES (?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.Status, string(outcomes))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinalizeRun writes the terminal state of a run. Run records are
// append-only; a finalized run is never touched again.
func (r *runRepository) FinalizeRun(run *Run) error {
	outcomes, err := json.Marshal(run.SourceOutcomes)
	if err != nil {
		return fmt.Errorf("failed to marshal source outcomes: %w", err)
	}

	_, err = r.db.Exec(`
		UPDATE runs SET
			finished_at = ?, status = ?, source_outcomes = ?,
			fetched = ?, new_posts = ?, updated_posts = ?, analyzed = ?, errors = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, string(outcomes),
		run.Fetched, run.NewPosts, run.UpdatedPosts, run.Analyzed, run.Errors,
		run.ID)
	if err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}
	return nil
}

func (r *runRepository) GetRun(id string) (*Run, error) {
	row := r.db.QueryRow(`
		SELECT id, started_at, finished_at, status, source_outcomes,
			fetched, new_posts, updated_posts, analyzed, errors
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (r *runRepository) ListRuns(limit int) ([]Run, error) {
	rows, err := r.db.Query(`
		SELECT id, started_at, finished_at, status, source_outcomes,
			fetched, new_posts, updated_posts, analyzed, errors
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (r *runRepository) GetLastCompletedRun() (*Run, error) {
	row := r.db.QueryRow(`
		SELECT id, started_at, finished_at, status, source_outcomes,
			fetched, new_posts, updated_posts, analyzed, errors
		FROM runs
		WHERE status IN (?, ?)
		ORDER BY started_at DESC LIMIT 1`, RunCompleted, RunPartial)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last completed run: %w", err)
	}
	return run, nil
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var finishedAt sql.NullTime
	var outcomes string

	err := row.Scan(&run.ID, &run.StartedAt, &finishedAt, &run.Status, &outcomes,
		&run.Fetched, &run.NewPosts, &run.UpdatedPosts, &run.Analyzed, &run.Errors)
	if err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}

	run.SourceOutcomes = make(map[string]SourceOutcome)
	if outcomes != "" {
		if err := json.Unmarshal([]byte(outcomes), &run.SourceOutcomes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source outcomes: %w", err)
		}
	}

	return &run, nil
}
