package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/communitypulse/forum-pulse/app/database"
	"github.com/communitypulse/forum-pulse/app/dedup"
	"github.com/communitypulse/forum-pulse/app/extract"
	"github.com/communitypulse/forum-pulse/app/fetch"
	"github.com/communitypulse/forum-pulse/app/metrics"
	"github.com/communitypulse/forum-pulse/app/sentiment"
	"github.com/communitypulse/forum-pulse/app/source"
)

// ErrRunActive is returned when a run is requested while one is in flight.
// At most one run executes at a time; overlapping triggers are rejected, not
// queued.
var ErrRunActive = errors.New("collection run already in progress")

type Options struct {
	Interval    time.Duration // scheduler period between runs
	WorkerCount int           // sources processed concurrently
}

// Pipeline owns the collection run lifecycle: enumerate enabled sources,
// fetch and extract their posts, reconcile against the store, drain the
// sentiment backlog, and recompute metrics. Source failures are isolated
// from each other and surface as per-source outcomes on the run record.
type Pipeline struct {
	sources    *source.Cache
	sourceRepo database.SourceRepository
	runs       database.RunRepository
	fetcher    *fetch.Fetcher
	extractor  *extract.Extractor
	dedup      *dedup.Deduplicator
	batcher    *sentiment.Batcher
	metrics    *metrics.Aggregator
	opts       Options

	runMu sync.Mutex // held for the duration of an active run

	ctxMu   sync.Mutex
	baseCtx context.Context
}

func New(
	sources *source.Cache,
	sourceRepo database.SourceRepository,
	runs database.RunRepository,
	fetcher *fetch.Fetcher,
	extractor *extract.Extractor,
	deduplicator *dedup.Deduplicator,
	batcher *sentiment.Batcher,
	aggregator *metrics.Aggregator,
	opts Options,
) *Pipeline {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Hour
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 4
	}

	return &Pipeline{
		sources:    sources,
		sourceRepo: sourceRepo,
		runs:       runs,
		fetcher:    fetcher,
		extractor:  extractor,
		dedup:      deduplicator,
		batcher:    batcher,
		metrics:    aggregator,
		opts:       opts,
	}
}

// Run executes an immediate collection run and then one per interval until
// the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	p.ctxMu.Lock()
	p.baseCtx = ctx
	p.ctxMu.Unlock()

	slog.Info("Scheduler started", "interval", p.opts.Interval, "workers", p.opts.WorkerCount)

	p.runScheduled(ctx)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return
		case <-ticker.C:
			p.runScheduled(ctx)
		}
	}
}

func (p *Pipeline) runScheduled(ctx context.Context) {
	if !p.runMu.TryLock() {
		// A manually triggered run is still going; skip this tick
		// rather than stacking runs.
		slog.Warn("Skipping scheduled run, another run is active")
		return
	}
	defer p.runMu.Unlock()

	run, err := p.createRun()
	if err != nil {
		slog.Error("Failed to create run record", "error", err)
		return
	}
	p.execute(ctx, run)
}

// TriggerRun starts a run on demand and returns its id immediately. The run
// itself proceeds in the background under the scheduler's context.
func (p *Pipeline) TriggerRun() (string, error) {
	if !p.runMu.TryLock() {
		return "", ErrRunActive
	}

	run, err := p.createRun()
	if err != nil {
		p.runMu.Unlock()
		return "", err
	}

	p.ctxMu.Lock()
	ctx := p.baseCtx
	p.ctxMu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer p.runMu.Unlock()
		p.execute(ctx, run)
	}()

	return run.ID, nil
}

func (p *Pipeline) createRun() (*database.Run, error) {
	run := &database.Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    database.RunRunning,
	}
	if err := p.runs.CreateRun(run); err != nil {
		return nil, err
	}
	return run, nil
}

func (p *Pipeline) execute(ctx context.Context, run *database.Run) {
	slog.Info("Run started", "run_id", run.ID)

	configs := p.sources.GetEnabledConfigs()
	outcomes := make(map[string]*database.SourceOutcome, len(configs))
	var omu sync.Mutex

	var g errgroup.Group
	g.SetLimit(p.opts.WorkerCount)

	for _, src := range configs {
		g.Go(func() error {
			outcome := p.processSource(ctx, src)

			omu.Lock()
			outcomes[src.Source.ID] = outcome
			omu.Unlock()

			if outcome.Status == database.SourceSuccess || outcome.Status == database.SourcePartial {
				if err := p.sourceRepo.UpdateLastRun(src.Source.ID, time.Now().UTC()); err != nil {
					slog.Error("Failed to update source last run", "source", src.Source.ID, "error", err)
				}
			}
			return nil
		})
	}
	g.Wait()

	var drainStats sentiment.DrainStats
	var drainErr error
	if ctx.Err() == nil {
		drainStats, drainErr = p.batcher.Drain(ctx)
		if drainErr != nil {
			slog.Error("Sentiment drain failed", "run_id", run.ID, "error", drainErr)
		}
	}

	for sourceID, analyzed := range drainStats.Analyzed {
		// Backlog posts may belong to sources outside this run.
		if outcome, ok := outcomes[sourceID]; ok {
			outcome.Analyzed += analyzed
		}
		run.Analyzed += analyzed
	}

	if _, err := p.metrics.Recompute(); err != nil {
		slog.Error("Metrics recompute failed", "run_id", run.ID, "error", err)
	}

	p.finalize(ctx, run, outcomes, drainErr)
}

func (p *Pipeline) finalize(ctx context.Context, run *database.Run, outcomes map[string]*database.SourceOutcome, drainErr error) {
	run.SourceOutcomes = make(map[string]database.SourceOutcome, len(outcomes))
	failed := 0
	degraded := false

	for id, outcome := range outcomes {
		run.SourceOutcomes[id] = *outcome
		run.Fetched += outcome.Fetched
		run.NewPosts += outcome.New
		run.UpdatedPosts += outcome.Updated
		run.Errors += outcome.Errors

		switch outcome.Status {
		case database.SourceFailed:
			failed++
		case database.SourcePartial, database.SourceSkipped:
			degraded = true
		}
	}

	switch {
	case ctx.Err() != nil:
		run.Status = database.RunCancelled
	case len(outcomes) > 0 && failed == len(outcomes):
		run.Status = database.RunFailed
	case failed > 0 || degraded || drainErr != nil:
		run.Status = database.RunPartial
	default:
		run.Status = database.RunCompleted
	}

	now := time.Now().UTC()
	run.FinishedAt = &now

	if err := p.runs.FinalizeRun(run); err != nil {
		slog.Error("Failed to finalize run record", "run_id", run.ID, "error", err)
		return
	}

	slog.Info("Run finished",
		"run_id", run.ID,
		"status", run.Status,
		"sources", len(outcomes),
		"fetched", run.Fetched,
		"new", run.NewPosts,
		"updated", run.UpdatedPosts,
		"analyzed", run.Analyzed,
		"errors", run.Errors,
		"duration", now.Sub(run.StartedAt).Round(time.Millisecond),
	)
}

// processSource runs fetch, extraction, and reconciliation for one source.
// Errors are counted, never propagated: a broken source degrades its own
// outcome and leaves the rest of the run alone.
func (p *Pipeline) processSource(ctx context.Context, src *source.Config) *database.SourceOutcome {
	outcome := &database.SourceOutcome{Status: database.SourceSuccess}
	if ctx.Err() != nil {
		outcome.Status = database.SourceSkipped
		return outcome
	}

	slog.Info("Processing source", "source", src.Source.ID, "mode", src.Source.Mode)

	sf := p.fetcher.ForSource(src)
	var mu sync.Mutex

	for res := range sf.ListingPages(ctx) {
		if res.Err != nil {
			slog.Warn("Listing page failed", "source", src.Source.ID, "error", res.Err)
			outcome.Errors++
			continue
		}

		if src.Source.Mode == source.ModeRSS {
			p.processFeedPage(ctx, res.Page, src, outcome, &mu)
			continue
		}
		p.processListingPage(ctx, sf, res.Page, src, outcome, &mu)
	}

	if ctx.Err() != nil {
		outcome.Status = database.SourceSkipped
		return outcome
	}

	switch {
	case outcome.Fetched == 0 && outcome.Errors > 0:
		outcome.Status = database.SourceFailed
	case outcome.Errors > 0:
		outcome.Status = database.SourcePartial
	}

	slog.Info("Source processed",
		"source", src.Source.ID,
		"status", outcome.Status,
		"fetched", outcome.Fetched,
		"new", outcome.New,
		"updated", outcome.Updated,
		"errors", outcome.Errors,
	)
	return outcome
}

func (p *Pipeline) processFeedPage(ctx context.Context, page *fetch.RawPage, src *source.Config, outcome *database.SourceOutcome, mu *sync.Mutex) {
	candidates, err := p.extractor.ListingPosts(page, src)
	if err != nil {
		slog.Warn("Feed parse failed", "source", src.Source.ID, "url", page.URL, "error", err)
		outcome.Errors++
		return
	}

	for _, candidate := range candidates {
		p.reconcile(ctx, candidate, outcome, mu)
	}
}

// processListingPage resolves an HTML listing into detail pages and
// processes them concurrently. The source fetcher's limiter and semaphore
// keep the detail fetches within the source's pacing rules.
func (p *Pipeline) processListingPage(ctx context.Context, sf *fetch.SourceFetcher, page *fetch.RawPage, src *source.Config, outcome *database.SourceOutcome, mu *sync.Mutex) {
	links, err := p.extractor.Links(page, src)
	if err != nil {
		slog.Warn("Listing parse failed", "source", src.Source.ID, "url", page.URL, "error", err)
		outcome.Errors++
		return
	}

	var g errgroup.Group
	g.SetLimit(src.Settings.MaxConcurrentFetches)

	for _, link := range links {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			detail, err := sf.Page(ctx, link)
			if err != nil {
				slog.Warn("Detail page failed", "source", src.Source.ID, "url", link, "error", err)
				mu.Lock()
				outcome.Errors++
				mu.Unlock()
				return nil
			}

			candidate, err := p.extractor.Post(detail, src)
			if err != nil {
				slog.Warn("Detail parse failed", "source", src.Source.ID, "url", link, "error", err)
				mu.Lock()
				outcome.Errors++
				mu.Unlock()
				return nil
			}
			if candidate == nil {
				return nil
			}

			p.reconcile(ctx, *candidate, outcome, mu)
			return nil
		})
	}
	g.Wait()
}

func (p *Pipeline) reconcile(ctx context.Context, candidate extract.CandidatePost, outcome *database.SourceOutcome, mu *sync.Mutex) {
	result, err := p.dedup.Reconcile(ctx, candidate)

	mu.Lock()
	defer mu.Unlock()

	if err != nil {
		slog.Error("Reconcile failed", "source", candidate.SourceID, "remote_id", candidate.RemoteID, "error", err)
		outcome.Errors++
		return
	}

	outcome.Fetched++
	switch result.Outcome {
	case database.ReconcileNew:
		outcome.New++
	case database.ReconcileUpdated:
		outcome.Updated++
	}
}
