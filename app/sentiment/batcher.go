package sentiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/communitypulse/forum-pulse/app/database"
	"github.com/communitypulse/forum-pulse/app/retry"
)

type BatcherOptions struct {
	MaxItems          int // posts per inference request
	MaxPayload        int // estimated request bytes per batch
	MaxInFlight       int // concurrent batches across the whole pipeline
	RequestsPerMinute int
	SelectionLimit    int // posts considered per drain
}

// Batcher groups eligible posts into bounded inference batches and is the
// sole writer of sentiment fields. Eligibility is driven by the store
// (unanalyzed, pending, failed), which makes a drain idempotent: posts that
// already carry a label are never re-submitted unless their content changed.
type Batcher struct {
	posts      database.PostRepository
	classifier Classifier
	limiter    *rate.Limiter
	policy     retry.Policy
	opts       BatcherOptions
}

func NewBatcher(posts database.PostRepository, classifier Classifier, policy retry.Policy, opts BatcherOptions) *Batcher {
	if opts.MaxItems <= 0 {
		opts.MaxItems = 10
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = 16384
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 3
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 50
	}
	if opts.SelectionLimit <= 0 {
		opts.SelectionLimit = 500
	}

	policy.Retryable = retryableInference

	return &Batcher{
		posts:      posts,
		classifier: classifier,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerMinute)/60, 1),
		policy:     policy,
		opts:       opts,
	}
}

func retryableInference(err error) bool {
	var infErr *InferenceError
	return errors.As(err, &infErr) || retry.IsTransient(err)
}

// DrainStats summarizes one drain of the intake backlog.
type DrainStats struct {
	Batches     int
	Analyzed    map[string]int // applied results per source
	Failed      int            // posts marked failed after exhausted retries
	LeftPending int            // posts still pending: short responses and discarded labels
}

// Drain selects the analysis backlog once, assembles it into bounded
// batches, and processes them with bounded concurrency. Batch failures are
// contained: they mark their members failed and never abort the drain.
func (b *Batcher) Drain(ctx context.Context) (DrainStats, error) {
	stats := DrainStats{Analyzed: make(map[string]int)}

	posts, err := b.posts.GetPostsForAnalysis(b.opts.SelectionLimit)
	if err != nil {
		return stats, fmt.Errorf("failed to select posts for analysis: %w", err)
	}
	if len(posts) == 0 {
		slog.Debug("No posts need sentiment analysis")
		return stats, nil
	}

	batches := b.assemble(posts)
	stats.Batches = len(batches)
	slog.Info("Draining intake queue", "posts", len(posts), "batches", len(batches))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.MaxInFlight)

	var drainErr error
	for _, batch := range batches {
		// Cooperative cancellation between batches, never mid-batch.
		if gctx.Err() != nil {
			break
		}

		if err := b.posts.MarkPending(ctx, postIDs(batch)); err != nil {
			// Dispatched batches still write stats; they must settle
			// before the caller gets the maps.
			drainErr = err
			break
		}

		g.Go(func() error {
			b.processBatch(gctx, batch, &stats, &mu)
			return nil
		})
	}

	if err := g.Wait(); err != nil && drainErr == nil {
		drainErr = err
	}
	return stats, drainErr
}

// assemble cuts the backlog into batches bounded by both item count and
// estimated payload size, mirroring the inference API's request limits.
func (b *Batcher) assemble(posts []database.Post) [][]database.Post {
	var batches [][]database.Post
	var current []database.Post
	payload := 0

	for _, post := range posts {
		size := len(post.Title) + len(post.Body) + 32

		if len(current) > 0 && (len(current) >= b.opts.MaxItems || payload+size > b.opts.MaxPayload) {
			batches = append(batches, current)
			current = nil
			payload = 0
		}

		current = append(current, post)
		payload += size
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func (b *Batcher) processBatch(ctx context.Context, batch []database.Post, stats *DrainStats, mu *sync.Mutex) {
	texts := make([]string, len(batch))
	for i, post := range batch {
		texts[i] = post.Title + "\n\n" + post.Body
	}

	var results []Result
	err := b.policy.Do(ctx, "classify", func(ctx context.Context) error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		r, err := b.classifier.Classify(ctx, texts)
		if err != nil {
			return err
		}
		results = r
		return nil
	})

	// Bookkeeping must land even when the run is being cancelled.
	writeCtx := context.WithoutCancel(ctx)

	if err != nil {
		slog.Error("Batch classification failed", "size", len(batch), "error", err)
		if markErr := b.posts.MarkFailed(writeCtx, postIDs(batch)); markErr != nil {
			slog.Error("Failed to mark batch as failed", "error", markErr)
		}
		mu.Lock()
		stats.Failed += len(batch)
		mu.Unlock()
		return
	}

	applied := len(results)
	if applied > len(batch) {
		applied = len(batch)
	}

	for i := 0; i < applied; i++ {
		if !ValidLabel(results[i].Label) {
			// The post stays pending and is re-selected next drain.
			slog.Warn("Discarding invalid sentiment label", "post", batch[i].ID, "label", results[i].Label)
			mu.Lock()
			stats.LeftPending++
			mu.Unlock()
			continue
		}

		if err := b.posts.ApplySentiment(writeCtx, batch[i].ID, results[i].Label, results[i].Confidence); err != nil {
			slog.Error("Failed to apply sentiment", "post", batch[i].ID, "error", err)
			continue
		}

		mu.Lock()
		stats.Analyzed[batch[i].SourceID]++
		mu.Unlock()
	}

	if applied < len(batch) {
		// Short response: unanswered posts stay pending and are picked
		// up by the next drain.
		slog.Warn("Inference response shorter than batch", "submitted", len(batch), "answered", applied)
		mu.Lock()
		stats.LeftPending += len(batch) - applied
		mu.Unlock()
	}
}

func postIDs(posts []database.Post) []string {
	ids := make([]string, len(posts))
	for i, post := range posts {
		ids[i] = post.ID
	}
	return ids
}
