package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/communitypulse/forum-pulse/app/api"
	"github.com/communitypulse/forum-pulse/app/cfg"
	"github.com/communitypulse/forum-pulse/app/database"
	"github.com/communitypulse/forum-pulse/app/dedup"
	"github.com/communitypulse/forum-pulse/app/extract"
	"github.com/communitypulse/forum-pulse/app/fetch"
	"github.com/communitypulse/forum-pulse/app/metrics"
	"github.com/communitypulse/forum-pulse/app/pipeline"
	"github.com/communitypulse/forum-pulse/app/retry"
	"github.com/communitypulse/forum-pulse/app/sentiment"
	"github.com/communitypulse/forum-pulse/app/source"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Forum Pulse", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		fatal("Failed to open database", err)
	}
	defer db.Close()

	migrationVersion, dirty, err := database.RunMigrations(db)
	if err != nil {
		fatal("Failed to run migrations", err)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "migration_version", migrationVersion, "dirty", dirty)

	configCache := source.NewCache(appCfg.SourcesDir)
	if err := configCache.Run(); err != nil {
		fatal("Failed to load source configurations", err)
	}
	slog.Info("Source configurations loaded", "dir", appCfg.SourcesDir, "count", configCache.GetConfigCount())

	sourceRepo := database.NewSourceRepository(db)
	postRepo := database.NewPostRepository(db)
	runRepo := database.NewRunRepository(db)
	trendRepo := database.NewTrendRepository(db)

	for _, sourceConfig := range configCache.GetConfigs() {
		err := sourceRepo.UpsertSource(sourceConfig.Source.ID, sourceConfig.Source.Name,
			sourceConfig.Source.BaseURL, sourceConfig.Settings.Enabled)
		if err != nil {
			slog.Warn("Failed to register source", "source", sourceConfig.Source.ID, "error", err)
			continue
		}
		slog.Debug("Source registered", "source", sourceConfig.Source.ID, "enabled", sourceConfig.Settings.Enabled)
	}

	policy := retry.Policy{
		MaxAttempts: appCfg.RetryMaxAttempts,
		BaseDelay:   time.Duration(appCfg.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(appCfg.RetryMaxDelayMs) * time.Millisecond,
	}

	fetcher := fetch.New(&http.Client{}, appCfg.UserAgent, policy)
	extractor := extract.NewExtractor()
	deduplicator := dedup.NewDeduplicator(postRepo)

	var classifier sentiment.Classifier
	if appCfg.AnthropicAPIKey != "" {
		classifier = sentiment.NewAnthropicClassifier(appCfg.AnthropicAPIKey, appCfg.AnthropicModel)
		slog.Info("Sentiment classifier ready", "model", appCfg.AnthropicModel)
	} else {
		classifier = sentiment.NewKeywordClassifier()
		slog.Warn("ANTHROPIC_API_KEY not set, falling back to keyword classifier")
	}

	batcher := sentiment.NewBatcher(postRepo, classifier, policy, sentiment.BatcherOptions{
		MaxItems:          appCfg.BatchMaxItems,
		MaxPayload:        appCfg.BatchMaxPayload,
		MaxInFlight:       appCfg.BatchMaxInFlight,
		RequestsPerMinute: appCfg.InferenceRPM,
	})

	aggregator := metrics.NewAggregator(postRepo, trendRepo, metrics.Options{
		WindowHours:  appCfg.TrendWindowHours,
		MinTermCount: appCfg.TrendMinCount,
		TopTermCount: appCfg.TrendTopCount,
	})

	collector := pipeline.New(configCache, sourceRepo, runRepo, fetcher, extractor,
		deduplicator, batcher, aggregator, pipeline.Options{
			Interval:    time.Duration(appCfg.SchedulerInterval) * time.Second,
			WorkerCount: appCfg.WorkerCount,
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go collector.Run(ctx)

	apiHandler := api.NewHandler(configCache, sourceRepo, postRepo, runRepo, trendRepo, aggregator, collector)
	server := api.NewServer(apiHandler)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
