package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type postRepository struct {
	db *DB
}

func NewPostRepository(db *DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, source_id, remote_id, url, title, body, excerpt, author, category,
	posted_at, sentiment, sentiment_confidence, analyzed_at, content_hash, first_seen_at, last_updated_at`

// Reconcile decides whether a candidate is new, updated, or already known.
// The decision and the write happen inside a single transaction keyed by
// (source_id, remote_id); the UNIQUE constraint is the backstop for races
// between retried fetches of the same post.
func (r *postRepository) Reconcile(ctx context.Context, in PostInput) (ReconcileOutcome, *Post, error) {
	// One retry after a constraint conflict: the loser of an insert race
	// re-reads and lands on the hit path.
	for attempt := 0; attempt < 2; attempt++ {
		outcome, post, err := r.reconcileOnce(ctx, in)
		if err != nil && isUniqueConstraint(err) && attempt == 0 {
			continue
		}
		return outcome, post, err
	}
	return ReconcileUnchanged, nil, &StorageError{Op: "reconcile", Err: fmt.Errorf("unreachable")}
}

func (r *postRepository) reconcileOnce(ctx context.Context, in PostInput) (ReconcileOutcome, *Post, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ReconcileUnchanged, nil, &StorageError{Op: "reconcile", Err: err}
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var existingID, existingHash string
	err = tx.QueryRowContext(ctx,
		`SELECT id, content_hash FROM posts WHERE source_id = ? AND remote_id = ?`,
		in.SourceID, in.RemoteID).Scan(&existingID, &existingHash)

	switch {
	case err == sql.ErrNoRows:
		id := uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO posts (
				id, source_id, remote_id, url, title, body, excerpt, author, category,
				posted_at, sentiment, content_hash, first_seen_at, last_updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, in.SourceID, in.RemoteID, in.URL, in.Title, in.Body, in.Excerpt,
			in.Author, in.Category, nullTime(in.PostedAt), SentimentUnanalyzed,
			in.ContentHash, now, now)
		if err != nil {
			if isUniqueConstraint(err) {
				return ReconcileUnchanged, nil, err
			}
			return ReconcileUnchanged, nil, &StorageError{Op: "reconcile insert", Err: err}
		}
		if err := tx.Commit(); err != nil {
			return ReconcileUnchanged, nil, &StorageError{Op: "reconcile commit", Err: err}
		}
		return ReconcileNew, &Post{
			ID: id, SourceID: in.SourceID, RemoteID: in.RemoteID, URL: in.URL,
			Title: in.Title, Body: in.Body, Excerpt: in.Excerpt, Author: in.Author,
			Category: in.Category, PostedAt: in.PostedAt, Sentiment: SentimentUnanalyzed,
			ContentHash: in.ContentHash, FirstSeenAt: now, LastUpdatedAt: now,
		}, nil

	case err != nil:
		return ReconcileUnchanged, nil, &StorageError{Op: "reconcile lookup", Err: err}
	}

	if existingHash == in.ContentHash {
		if err := tx.Commit(); err != nil {
			return ReconcileUnchanged, nil, &StorageError{Op: "reconcile commit", Err: err}
		}
		return ReconcileUnchanged, nil, nil
	}

	// Content changed: update fields and reset sentiment so the post is
	// re-submitted for classification.
	_, err = tx.ExecContext(ctx, `
		UPDATE posts SET
			url = ?, title = ?, body = ?, excerpt = ?, author = ?, category = ?,
			posted_at = ?, sentiment = ?, sentiment_confidence = NULL,
			analyzed_at = NULL, content_hash = ?, last_updated_at = ?
		WHERE id = ?`,
		in.URL, in.Title, in.Body, in.Excerpt, in.Author, in.Category,
		nullTime(in.PostedAt), SentimentUnanalyzed, in.ContentHash, now, existingID)
	if err != nil {
		return ReconcileUnchanged, nil, &StorageError{Op: "reconcile update", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return ReconcileUnchanged, nil, &StorageError{Op: "reconcile commit", Err: err}
	}

	return ReconcileUpdated, &Post{
		ID: existingID, SourceID: in.SourceID, RemoteID: in.RemoteID, URL: in.URL,
		Title: in.Title, Body: in.Body, Excerpt: in.Excerpt, Author: in.Author,
		Category: in.Category, PostedAt: in.PostedAt, Sentiment: SentimentUnanalyzed,
		ContentHash: in.ContentHash, LastUpdatedAt: now,
	}, nil
}

func (r *postRepository) GetPost(id string) (*Post, error) {
	row := r.db.QueryRow(`SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	post, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return post, nil
}

// GetPostsForAnalysis returns posts eligible for sentiment classification:
// never analyzed, left pending by an interrupted run, or failed previously.
func (r *postRepository) GetPostsForAnalysis(limit int) ([]Post, error) {
	rows, err := r.db.Query(`
		SELECT `+postColumns+`
		FROM posts
		WHERE sentiment IN (?, ?, ?)
		ORDER BY last_updated_at ASC
		LIMIT ?`,
		SentimentUnanalyzed, SentimentPending, SentimentFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get posts for analysis: %w", err)
	}
	defer rows.Close()

	return collectPosts(rows)
}

func (r *postRepository) GetPostsUpdatedSince(since time.Time) ([]Post, error) {
	rows, err := r.db.Query(`
		SELECT `+postColumns+`
		FROM posts
		WHERE last_updated_at >= ?
		ORDER BY last_updated_at DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get posts updated since: %w", err)
	}
	defer rows.Close()

	return collectPosts(rows)
}

func (r *postRepository) MarkPending(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE posts SET sentiment = ? WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, SentimentPending)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return &StorageError{Op: "mark pending", Err: err}
	}
	return nil
}

func (r *postRepository) ApplySentiment(ctx context.Context, id, label string, confidence float64) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE posts SET sentiment = ?, sentiment_confidence = ?, analyzed_at = ?, last_updated_at = ?
		WHERE id = ?`, label, confidence, now, now, id)
	if err != nil {
		return &StorageError{Op: "apply sentiment", Err: err}
	}
	return nil
}

func (r *postRepository) MarkFailed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE posts SET sentiment = ?, sentiment_confidence = NULL, analyzed_at = NULL WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, SentimentFailed)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return &StorageError{Op: "mark failed", Err: err}
	}
	return nil
}

func (r *postRepository) GetPostCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM posts`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get post count: %w", err)
	}
	return count, nil
}

func (r *postRepository) CountBySentiment() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT sentiment, COUNT(*) FROM posts GROUP BY sentiment`)
	if err != nil {
		return nil, fmt.Errorf("failed to count by sentiment: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var sentiment string
		var count int
		if err := rows.Scan(&sentiment, &count); err != nil {
			return nil, fmt.Errorf("failed to scan sentiment count: %w", err)
		}
		counts[sentiment] = count
	}
	return counts, rows.Err()
}

func (r *postRepository) CountBySource() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT source_id, COUNT(*) FROM posts GROUP BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to count by source: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var sourceID string
		var count int
		if err := rows.Scan(&sourceID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan source count: %w", err)
		}
		counts[sourceID] = count
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPost(row rowScanner) (*Post, error) {
	var post Post
	var postedAt, analyzedAt sql.NullTime
	var confidence sql.NullFloat64

	err := row.Scan(
		&post.ID, &post.SourceID, &post.RemoteID, &post.URL, &post.Title,
		&post.Body, &post.Excerpt, &post.Author, &post.Category,
		&postedAt, &post.Sentiment, &confidence, &analyzedAt,
		&post.ContentHash, &post.FirstSeenAt, &post.LastUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if postedAt.Valid {
		t := postedAt.Time
		post.PostedAt = &t
	}
	if analyzedAt.Valid {
		t := analyzedAt.Time
		post.AnalyzedAt = &t
	}
	if confidence.Valid {
		v := confidence.Float64
		post.SentimentConfidence = &v
	}

	return &post, nil
}

func collectPosts(rows *sql.Rows) ([]Post, error) {
	var posts []Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post row: %w", err)
		}
		posts = append(posts, *post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post rows: %w", err)
	}
	return posts, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func isUniqueConstraint(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
