package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/communitypulse/forum-pulse/app/database"
	"github.com/communitypulse/forum-pulse/app/extract"
)

// Result of reconciling one candidate against the identity index.
type Result struct {
	Outcome database.ReconcileOutcome
	Post    *database.Post
}

// Deduplicator decides whether a candidate is new, updated, or already
// known. The repository's transaction is the serialization point; this type
// only owns hashing and input normalization.
type Deduplicator struct {
	posts database.PostRepository
}

func NewDeduplicator(posts database.PostRepository) *Deduplicator {
	return &Deduplicator{posts: posts}
}

func (d *Deduplicator) Reconcile(ctx context.Context, candidate extract.CandidatePost) (Result, error) {
	input := database.PostInput{
		SourceID:    candidate.SourceID,
		RemoteID:    candidate.RemoteID,
		URL:         candidate.URL,
		Title:       candidate.Title,
		Body:        candidate.Body,
		Excerpt:     candidate.Excerpt,
		Author:      candidate.Author,
		Category:    candidate.Category,
		PostedAt:    candidate.PostedAt,
		ContentHash: ContentHash(candidate.Title, candidate.Body),
	}

	outcome, post, err := d.posts.Reconcile(ctx, input)
	if err != nil {
		return Result{}, err
	}

	if outcome != database.ReconcileUnchanged {
		slog.Debug("Candidate reconciled", "source", candidate.SourceID, "remote_id", candidate.RemoteID, "outcome", outcome.String())
	}

	return Result{Outcome: outcome, Post: post}, nil
}

// ContentHash covers title and body: a change to either re-triggers
// sentiment analysis.
func ContentHash(title, body string) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{'\n'})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}
