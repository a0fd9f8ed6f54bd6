package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/communitypulse/forum-pulse/app/database"
	"github.com/communitypulse/forum-pulse/app/dedup"
	"github.com/communitypulse/forum-pulse/app/extract"
	"github.com/communitypulse/forum-pulse/app/fetch"
	"github.com/communitypulse/forum-pulse/app/metrics"
	"github.com/communitypulse/forum-pulse/app/retry"
	"github.com/communitypulse/forum-pulse/app/sentiment"
	"github.com/communitypulse/forum-pulse/app/source"
)

// forumServer serves a minimal two-post forum for integration tests.
func forumServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a class="post" href="/t/board-broken/1">Board broken</a>
			<a class="post" href="/t/great-release/2">Great release</a>
		</body></html>`)
	})
	mux.HandleFunc("/t/board-broken/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<h1>Board broken</h1>
			<div class="body">The board crashes with an error after the update.</div>
		</body></html>`)
	})
	mux.HandleFunc("/t/great-release/2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<h1>Great release</h1>
			<div class="body">Thanks, this release works great, love it.</div>
		</body></html>`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func brokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)
	return server
}

func writeSourceConfig(t *testing.T, dir, id, listingURL string) {
	t.Helper()
	content := fmt.Sprintf(`source:
  id: "%s"
  name: "%s"
  base_url: "%s"
  listing_url: "%s"
  mode: "html"

settings:
  enabled: true
  min_request_interval_ms: 1
  max_concurrent_fetches: 2
  timeout: 5

rules:
  listing_link: "a.post"
  title: "h1"
  body: "div.body"
`, id, id, listingURL, listingURL)

	if err := os.WriteFile(filepath.Join(dir, id+".yml"), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write source config: %v", err)
	}
}

type testEnv struct {
	pipeline   *Pipeline
	sourceRepo database.SourceRepository
	postRepo   database.PostRepository
	runRepo    database.RunRepository
}

func newTestEnv(t *testing.T, sourcesDir string) *testEnv {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cache := source.NewCache(sourcesDir)
	if err := cache.Run(); err != nil {
		t.Fatalf("Failed to load source configs: %v", err)
	}

	sourceRepo := database.NewSourceRepository(db)
	postRepo := database.NewPostRepository(db)
	runRepo := database.NewRunRepository(db)
	trendRepo := database.NewTrendRepository(db)

	for _, src := range cache.GetConfigs() {
		if err := sourceRepo.UpsertSource(src.Source.ID, src.Source.Name, src.Source.BaseURL, src.Settings.Enabled); err != nil {
			t.Fatalf("Failed to register source: %v", err)
		}
	}

	policy := retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	fetcher := fetch.New(&http.Client{}, "Forum Pulse Test/1.0", policy)

	batcher := sentiment.NewBatcher(postRepo, sentiment.NewKeywordClassifier(), policy, sentiment.BatcherOptions{
		MaxItems:          10,
		RequestsPerMinute: 60000,
	})
	aggregator := metrics.NewAggregator(postRepo, trendRepo, metrics.Options{})

	p := New(cache, sourceRepo, runRepo, fetcher, extract.NewExtractor(),
		dedup.NewDeduplicator(postRepo), batcher, aggregator, Options{
			Interval:    time.Hour,
			WorkerCount: 2,
		})

	return &testEnv{
		pipeline:   p,
		sourceRepo: sourceRepo,
		postRepo:   postRepo,
		runRepo:    runRepo,
	}
}

func latestRun(t *testing.T, runRepo database.RunRepository) *database.Run {
	t.Helper()
	runs, err := runRepo.ListRuns(1)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runs))
	}
	return &runs[0]
}

func TestRunCollectsAndAnalyzes(t *testing.T) {
	forum := forumServer(t)
	dir := t.TempDir()
	writeSourceConfig(t, dir, "forum-a", forum.URL+"/latest")

	env := newTestEnv(t, dir)
	env.pipeline.runScheduled(context.Background())

	run := latestRun(t, env.runRepo)
	if run.Status != database.RunCompleted {
		t.Errorf("Expected completed run, got %s", run.Status)
	}
	if run.Fetched != 2 || run.NewPosts != 2 {
		t.Errorf("Expected 2 fetched/new posts, got fetched=%d new=%d", run.Fetched, run.NewPosts)
	}
	if run.Analyzed != 2 {
		t.Errorf("Expected 2 analyzed posts, got %d", run.Analyzed)
	}
	if run.FinishedAt == nil {
		t.Error("Expected run to be finalized")
	}

	outcome, ok := run.SourceOutcomes["forum-a"]
	if !ok {
		t.Fatalf("Expected outcome for forum-a, got %v", run.SourceOutcomes)
	}
	if outcome.Status != database.SourceSuccess {
		t.Errorf("Expected source success, got %s", outcome.Status)
	}

	bySentiment, err := env.postRepo.CountBySentiment()
	if err != nil {
		t.Fatalf("CountBySentiment failed: %v", err)
	}
	labeled := bySentiment[database.SentimentPositive] +
		bySentiment[database.SentimentNeutral] +
		bySentiment[database.SentimentNegative]
	if labeled != 2 {
		t.Errorf("Expected both posts labeled, got %v", bySentiment)
	}

	src, err := env.sourceRepo.GetSource("forum-a")
	if err != nil {
		t.Fatalf("GetSource failed: %v", err)
	}
	if src.LastRunAt == nil {
		t.Error("Expected last_run_at to be recorded")
	}
}

func TestRunIsIdempotentAcrossRepeats(t *testing.T) {
	forum := forumServer(t)
	dir := t.TempDir()
	writeSourceConfig(t, dir, "forum-a", forum.URL+"/latest")

	env := newTestEnv(t, dir)
	env.pipeline.runScheduled(context.Background())
	env.pipeline.runScheduled(context.Background())

	count, err := env.postRepo.GetPostCount()
	if err != nil {
		t.Fatalf("GetPostCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 posts after repeated runs, got %d", count)
	}

	run := latestRun(t, env.runRepo)
	if run.NewPosts != 0 {
		t.Errorf("Expected no new posts on second run, got %d", run.NewPosts)
	}
	if run.Fetched != 2 {
		t.Errorf("Expected 2 unchanged posts counted as fetched, got %d", run.Fetched)
	}
}

func TestRunIsolatesFailingSource(t *testing.T) {
	forum := forumServer(t)
	broken := brokenServer(t)
	dir := t.TempDir()
	writeSourceConfig(t, dir, "forum-a", forum.URL+"/latest")
	writeSourceConfig(t, dir, "forum-b", broken.URL+"/latest")

	env := newTestEnv(t, dir)
	env.pipeline.runScheduled(context.Background())

	run := latestRun(t, env.runRepo)
	if run.Status != database.RunPartial {
		t.Errorf("Expected partial run, got %s", run.Status)
	}

	if run.SourceOutcomes["forum-a"].Status != database.SourceSuccess {
		t.Errorf("Expected forum-a success, got %s", run.SourceOutcomes["forum-a"].Status)
	}
	if run.SourceOutcomes["forum-b"].Status != database.SourceFailed {
		t.Errorf("Expected forum-b failure, got %s", run.SourceOutcomes["forum-b"].Status)
	}

	// The healthy source still landed its posts.
	count, _ := env.postRepo.GetPostCount()
	if count != 2 {
		t.Errorf("Expected 2 posts from the healthy source, got %d", count)
	}

	srcB, _ := env.sourceRepo.GetSource("forum-b")
	if srcB.LastRunAt != nil {
		t.Error("Expected no last_run_at for the failed source")
	}
}

func TestRunAllSourcesFailed(t *testing.T) {
	broken := brokenServer(t)
	dir := t.TempDir()
	writeSourceConfig(t, dir, "forum-b", broken.URL+"/latest")

	env := newTestEnv(t, dir)
	env.pipeline.runScheduled(context.Background())

	run := latestRun(t, env.runRepo)
	if run.Status != database.RunFailed {
		t.Errorf("Expected failed run, got %s", run.Status)
	}
}

func TestTriggerRunRejectsOverlap(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, dir)

	// Simulate an active run holding the lock.
	env.pipeline.runMu.Lock()
	defer env.pipeline.runMu.Unlock()

	_, err := env.pipeline.TriggerRun()
	if !errors.Is(err, ErrRunActive) {
		t.Errorf("Expected ErrRunActive, got %v", err)
	}
}

func TestTriggerRunReturnsRunID(t *testing.T) {
	forum := forumServer(t)
	dir := t.TempDir()
	writeSourceConfig(t, dir, "forum-a", forum.URL+"/latest")

	env := newTestEnv(t, dir)

	runID, err := env.pipeline.TriggerRun()
	if err != nil {
		t.Fatalf("TriggerRun failed: %v", err)
	}
	if runID == "" {
		t.Fatal("Expected a run id")
	}

	// The run proceeds in the background; poll until it finalizes.
	deadline := time.Now().Add(5 * time.Second)
	for {
		run, err := env.runRepo.GetRun(runID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if run == nil {
			t.Fatal("Expected run record to exist")
		}
		if run.Status != database.RunRunning {
			if run.Status != database.RunCompleted {
				t.Errorf("Expected completed run, got %s", run.Status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Run did not finish in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunCancelledContext(t *testing.T) {
	forum := forumServer(t)
	dir := t.TempDir()
	writeSourceConfig(t, dir, "forum-a", forum.URL+"/latest")

	env := newTestEnv(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env.pipeline.runScheduled(ctx)

	run := latestRun(t, env.runRepo)
	if run.Status != database.RunCancelled {
		t.Errorf("Expected cancelled run, got %s", run.Status)
	}
	if run.FinishedAt == nil {
		t.Error("Expected cancelled run to still be finalized")
	}
}
