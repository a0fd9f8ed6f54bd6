package api

import (
	"github.com/communitypulse/forum-pulse/app/database"
	"github.com/communitypulse/forum-pulse/app/metrics"
	"github.com/communitypulse/forum-pulse/app/pipeline"
	"github.com/communitypulse/forum-pulse/app/source"
)

type RunTriggerInterface interface {
	TriggerRun() (string, error)
}

var _ RunTriggerInterface = (*pipeline.Pipeline)(nil)

type Handler struct {
	configCache *source.Cache
	sourceRepo  database.SourceRepository
	postRepo    database.PostRepository
	runRepo     database.RunRepository
	trendRepo   database.TrendRepository
	aggregator  *metrics.Aggregator
	pipeline    RunTriggerInterface
}
