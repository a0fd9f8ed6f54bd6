package database

import (
	"time"
)

// Sentiment states a post moves through. A post enters as unanalyzed, is
// marked pending when submitted for classification, and settles on a label
// or failed. Content changes reset it to unanalyzed.
const (
	SentimentUnanalyzed = "unanalyzed"
	SentimentPending    = "pending"
	SentimentPositive   = "positive"
	SentimentNeutral    = "neutral"
	SentimentNegative   = "negative"
	SentimentFailed     = "failed"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunPartial   = "partial"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Per-source outcome statuses within a run.
const (
	SourceSuccess = "success"
	SourcePartial = "partial"
	SourceFailed  = "failed"
	SourceSkipped = "skipped"
)

type Source struct {
	ID        string
	Name      string
	BaseURL   string
	Enabled   bool
	LastRunAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Post struct {
	ID                  string
	SourceID            string
	RemoteID            string
	URL                 string
	Title               string
	Body                string
	Excerpt             string
	Author              string
	Category            string
	PostedAt            *time.Time
	Sentiment           string
	SentimentConfidence *float64
	AnalyzedAt          *time.Time
	ContentHash         string
	FirstSeenAt         time.Time
	LastUpdatedAt       time.Time
}

// SourceOutcome records what one source contributed to a run. Serialized as
// JSON into the runs table.
type SourceOutcome struct {
	Status   string `json:"status"`
	Fetched  int    `json:"fetched"`
	New      int    `json:"new"`
	Updated  int    `json:"updated"`
	Analyzed int    `json:"analyzed"`
	Errors   int    `json:"errors"`
}

type Run struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     *time.Time
	Status         string
	SourceOutcomes map[string]SourceOutcome
	Fetched        int
	NewPosts       int
	UpdatedPosts   int
	Analyzed       int
	Errors         int
}

type Trend struct {
	Term        string
	Count       int
	WindowStart time.Time
	ComputedAt  time.Time
}
