package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/communitypulse/forum-pulse/app/database"
	"github.com/communitypulse/forum-pulse/app/extract"
)

// mockPostRepository captures the reconcile input and plays back a canned
// outcome.
type mockPostRepository struct {
	lastInput database.PostInput
	outcome   database.ReconcileOutcome
	post      *database.Post
	err       error
}

func (m *mockPostRepository) Reconcile(_ context.Context, in database.PostInput) (database.ReconcileOutcome, *database.Post, error) {
	m.lastInput = in
	return m.outcome, m.post, m.err
}

func (m *mockPostRepository) GetPost(string) (*database.Post, error)                   { return nil, nil }
func (m *mockPostRepository) GetPostsForAnalysis(int) ([]database.Post, error)         { return nil, nil }
func (m *mockPostRepository) GetPostsUpdatedSince(time.Time) ([]database.Post, error)  { return nil, nil }
func (m *mockPostRepository) MarkPending(context.Context, []string) error              { return nil }
func (m *mockPostRepository) ApplySentiment(context.Context, string, string, float64) error {
	return nil
}
func (m *mockPostRepository) MarkFailed(context.Context, []string) error { return nil }
func (m *mockPostRepository) GetPostCount() (int, error)                 { return 0, nil }
func (m *mockPostRepository) CountBySentiment() (map[string]int, error)  { return nil, nil }
func (m *mockPostRepository) CountBySource() (map[string]int, error)     { return nil, nil }

func TestReconcilePassesNormalizedInput(t *testing.T) {
	repo := &mockPostRepository{
		outcome: database.ReconcileNew,
		post:    &database.Post{ID: "abc"},
	}
	d := NewDeduplicator(repo)

	postedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	candidate := extract.CandidatePost{
		SourceID: "src-a",
		RemoteID: "p42",
		URL:      "https://example.com/t/p42",
		Title:    "Board broken",
		Body:     "It fails to load.",
		Excerpt:  "It fails to load.",
		Author:   "jsmith",
		Category: "jira",
		PostedAt: &postedAt,
	}

	result, err := d.Reconcile(context.Background(), candidate)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if result.Outcome != database.ReconcileNew {
		t.Errorf("Expected new outcome, got %s", result.Outcome)
	}
	if result.Post == nil || result.Post.ID != "abc" {
		t.Error("Expected repository post passed through")
	}

	in := repo.lastInput
	if in.SourceID != "src-a" || in.RemoteID != "p42" {
		t.Errorf("Unexpected identity key: %s/%s", in.SourceID, in.RemoteID)
	}
	if in.ContentHash != ContentHash("Board broken", "It fails to load.") {
		t.Error("Expected content hash over title and body")
	}
	if in.PostedAt == nil || !in.PostedAt.Equal(postedAt) {
		t.Errorf("Unexpected posted_at: %v", in.PostedAt)
	}
}

func TestReconcilePropagatesError(t *testing.T) {
	wantErr := errors.New("storage down")
	repo := &mockPostRepository{err: wantErr}
	d := NewDeduplicator(repo)

	_, err := d.Reconcile(context.Background(), extract.CandidatePost{SourceID: "src-a", RemoteID: "p1"})
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected repository error, got %v", err)
	}
}

func TestContentHashSensitivity(t *testing.T) {
	base := ContentHash("Title", "Body")

	if ContentHash("Title", "Body") != base {
		t.Error("Expected hash to be deterministic")
	}
	if ContentHash("Title", "Body edited") == base {
		t.Error("Expected body change to alter hash")
	}
	if ContentHash("Title edited", "Body") == base {
		t.Error("Expected title change to alter hash")
	}

	// The separator keeps (title, body) boundaries unambiguous.
	if ContentHash("ab", "c") == ContentHash("a", "bc") {
		t.Error("Expected boundary shift to alter hash")
	}

	if len(base) != 64 {
		t.Errorf("Expected hex sha256 length 64, got %d", len(base))
	}
}
