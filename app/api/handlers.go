package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/communitypulse/forum-pulse/app/database"
	"github.com/communitypulse/forum-pulse/app/metrics"
	"github.com/communitypulse/forum-pulse/app/pipeline"
	"github.com/communitypulse/forum-pulse/app/source"
)

func NewHandler(configCache *source.Cache, sourceRepo database.SourceRepository,
	postRepo database.PostRepository, runRepo database.RunRepository,
	trendRepo database.TrendRepository, aggregator *metrics.Aggregator,
	runTrigger RunTriggerInterface) *Handler {
	return &Handler{
		configCache: configCache,
		sourceRepo:  sourceRepo,
		postRepo:    postRepo,
		runRepo:     runRepo,
		trendRepo:   trendRepo,
		aggregator:  aggregator,
		pipeline:    runTrigger,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if postCount, err := h.postRepo.GetPostCount(); err == nil {
		health["posts"] = postCount
	}

	if sourceCount, err := h.sourceRepo.GetSourceCount(); err == nil {
		health["sources"] = sourceCount
	}

	health["loaded_configurations"] = h.configCache.GetConfigCount()

	if summary := h.aggregator.Latest(); summary != nil {
		health["sentiment_coverage_percent"] = summary.Coverage
	}

	if lastRun, err := h.runRepo.GetLastCompletedRun(); err == nil && lastRun != nil && lastRun.FinishedAt != nil {
		health["last_completed_run"] = lastRun.FinishedAt.Format(time.RFC3339)
		health["last_run_age"] = time.Since(*lastRun.FinishedAt).Round(time.Second).String()
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := map[string]interface{}{}

	if total, err := h.postRepo.GetPostCount(); err == nil {
		stats["total_posts"] = total
	}

	if bySentiment, err := h.postRepo.CountBySentiment(); err == nil {
		stats["by_sentiment"] = bySentiment
	}

	if bySource, err := h.postRepo.CountBySource(); err == nil {
		stats["by_source"] = bySource
	}

	if trends, err := h.trendRepo.GetTrends(20); err == nil {
		terms := make([]map[string]interface{}, 0, len(trends))
		for _, trend := range trends {
			terms = append(terms, map[string]interface{}{
				"term":  trend.Term,
				"count": trend.Count,
			})
		}
		stats["trending_terms"] = terms
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) APITriggerRun(c *gin.Context) {
	runID, err := h.pipeline.TriggerRun()
	if err != nil {
		if errors.Is(err, pipeline.ErrRunActive) {
			c.JSON(http.StatusConflict, gin.H{"error": "A collection run is already in progress"})
			return
		}
		slog.Error("Failed to trigger run", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to trigger run"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id": runID,
		"status": database.RunRunning,
	})
}

func (h *Handler) APIGetRun(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing run id parameter"})
		return
	}

	run, err := h.runRepo.GetRun(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_run", "run_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	c.JSON(http.StatusOK, runPayload(run))
}

func (h *Handler) APIListRuns(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		limit = parsed
	}

	runs, err := h.runRepo.ListRuns(limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	payload := make([]map[string]interface{}, 0, len(runs))
	for i := range runs {
		payload = append(payload, runPayload(&runs[i]))
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"runs":  payload,
		"total": len(payload),
	})
}

func (h *Handler) APIGetMetrics(c *gin.Context) {
	summary := h.aggregator.Latest()
	if summary == nil {
		// Nothing has run yet; compute on demand instead of 404ing.
		computed, err := h.aggregator.Recompute()
		if err != nil {
			slog.Error("Metrics recompute failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute metrics"})
			return
		}
		summary = computed
	}

	c.JSON(http.StatusOK, summary)
}

func (h *Handler) APIListSources(c *gin.Context) {
	configs := h.configCache.GetConfigs()

	sources := make([]map[string]interface{}, 0, len(configs))
	for _, sourceConfig := range configs {
		info := map[string]interface{}{
			"id":       sourceConfig.Source.ID,
			"name":     sourceConfig.Source.Name,
			"base_url": sourceConfig.Source.BaseURL,
			"mode":     sourceConfig.Source.Mode,
			"category": sourceConfig.Source.Category,
			"enabled":  sourceConfig.Settings.Enabled,
			"pages":    sourceConfig.Source.Pages,
		}

		if src, err := h.sourceRepo.GetSource(sourceConfig.Source.ID); err == nil && src != nil {
			info["last_run_at"] = src.LastRunAt
		}

		if counts, err := h.postRepo.CountBySource(); err == nil {
			info["post_count"] = counts[sourceConfig.Source.ID]
		}

		sources = append(sources, info)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"sources": sources,
		"total":   len(sources),
	})
}

func runPayload(run *database.Run) map[string]interface{} {
	payload := map[string]interface{}{
		"id":            run.ID,
		"status":        run.Status,
		"started_at":    run.StartedAt.Format(time.RFC3339),
		"fetched":       run.Fetched,
		"new_posts":     run.NewPosts,
		"updated_posts": run.UpdatedPosts,
		"analyzed":      run.Analyzed,
		"errors":        run.Errors,
	}

	if run.FinishedAt != nil {
		payload["finished_at"] = run.FinishedAt.Format(time.RFC3339)
		payload["duration"] = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
	}

	if len(run.SourceOutcomes) > 0 {
		payload["sources"] = run.SourceOutcomes
	}

	return payload
}
