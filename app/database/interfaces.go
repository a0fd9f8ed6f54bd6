package database

import (
	"context"
	"time"
)

// ReconcileOutcome reports what a reconcile call did with a candidate post.
type ReconcileOutcome int

const (
	ReconcileNew ReconcileOutcome = iota
	ReconcileUpdated
	ReconcileUnchanged
)

func (o ReconcileOutcome) String() string {
	switch o {
	case ReconcileNew:
		return "new"
	case ReconcileUpdated:
		return "updated"
	case ReconcileUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// PostInput carries a normalized candidate post into reconciliation.
type PostInput struct {
	SourceID    string
	RemoteID    string
	URL         string
	Title       string
	Body        string
	Excerpt     string
	Author      string
	Category    string
	PostedAt    *time.Time
	ContentHash string
}

type SourceRepository interface {
	UpsertSource(id, name, baseURL string, enabled bool) error
	GetSource(id string) (*Source, error)
	GetSourceCount() (int, error)
	UpdateLastRun(id string, at time.Time) error
}

type PostRepository interface {
	// Reconcile performs the atomic dedup decision for one candidate,
	// keyed by (source_id, remote_id).
	Reconcile(ctx context.Context, input PostInput) (ReconcileOutcome, *Post, error)

	GetPost(id string) (*Post, error)
	GetPostsForAnalysis(limit int) ([]Post, error)
	GetPostsUpdatedSince(since time.Time) ([]Post, error)

	MarkPending(ctx context.Context, ids []string) error
	ApplySentiment(ctx context.Context, id, label string, confidence float64) error
	MarkFailed(ctx context.Context, ids []string) error

	GetPostCount() (int, error)
	CountBySentiment() (map[string]int, error)
	CountBySource() (map[string]int, error)
}

type RunRepository interface {
	CreateRun(run *Run) error
	FinalizeRun(run *Run) error
	GetRun(id string) (*Run, error)
	ListRuns(limit int) ([]Run, error)
	GetLastCompletedRun() (*Run, error)
}

type TrendRepository interface {
	ReplaceTrends(trends []Trend) error
	GetTrends(limit int) ([]Trend, error)
}
