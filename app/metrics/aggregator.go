package metrics

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/communitypulse/forum-pulse/app/database"
)

type Options struct {
	WindowHours  int // trend window over last_updated_at
	MinTermCount int // terms below this never trend
	TopTermCount int // trends kept per recompute
}

// Summary is the aggregate view served by the API. Recomputed after every
// run; reads never touch the database.
type Summary struct {
	TotalPosts    int                 `json:"total_posts"`
	BySentiment   map[string]int      `json:"by_sentiment"`
	BySource      map[string]int      `json:"by_source"`
	Coverage      float64             `json:"coverage_percent"`
	TrendingTerms []database.Trend    `json:"trending_terms"`
	WindowStart   time.Time           `json:"window_start"`
	ComputedAt    time.Time           `json:"computed_at"`
}

// Aggregator recomputes corpus-wide counts and trending terms from the
// store. Recompute is idempotent: running it twice over the same data
// produces the same summary and the same trends table.
type Aggregator struct {
	posts  database.PostRepository
	trends database.TrendRepository
	opts   Options

	mu     sync.RWMutex
	latest *Summary
}

func NewAggregator(posts database.PostRepository, trends database.TrendRepository, opts Options) *Aggregator {
	if opts.WindowHours <= 0 {
		opts.WindowHours = 168
	}
	if opts.MinTermCount <= 0 {
		opts.MinTermCount = 3
	}
	if opts.TopTermCount <= 0 {
		opts.TopTermCount = 20
	}

	return &Aggregator{
		posts:  posts,
		trends: trends,
		opts:   opts,
	}
}

// Latest returns the most recent summary, or nil before the first recompute.
func (a *Aggregator) Latest() *Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

func (a *Aggregator) Recompute() (*Summary, error) {
	now := time.Now().UTC()
	windowStart := now.Add(-time.Duration(a.opts.WindowHours) * time.Hour)

	total, err := a.posts.GetPostCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}

	bySentiment, err := a.posts.CountBySentiment()
	if err != nil {
		return nil, fmt.Errorf("failed to count posts by sentiment: %w", err)
	}

	bySource, err := a.posts.CountBySource()
	if err != nil {
		return nil, fmt.Errorf("failed to count posts by source: %w", err)
	}

	recent, err := a.posts.GetPostsUpdatedSince(windowStart)
	if err != nil {
		return nil, fmt.Errorf("failed to load posts for trend window: %w", err)
	}

	trends := a.computeTrends(recent, windowStart, now)
	if err := a.trends.ReplaceTrends(trends); err != nil {
		return nil, fmt.Errorf("failed to store trends: %w", err)
	}

	summary := &Summary{
		TotalPosts:    total,
		BySentiment:   bySentiment,
		BySource:      bySource,
		Coverage:      coverage(total, bySentiment),
		TrendingTerms: trends,
		WindowStart:   windowStart,
		ComputedAt:    now,
	}

	a.mu.Lock()
	a.latest = summary
	a.mu.Unlock()

	slog.Info("Metrics recomputed", "posts", total, "coverage", fmt.Sprintf("%.1f%%", summary.Coverage), "trends", len(trends))
	return summary, nil
}

// coverage is the share of posts carrying a settled label. Pending, failed,
// and unanalyzed posts count against it.
func coverage(total int, bySentiment map[string]int) float64 {
	if total == 0 {
		return 0
	}
	labeled := bySentiment[database.SentimentPositive] +
		bySentiment[database.SentimentNeutral] +
		bySentiment[database.SentimentNegative]
	return float64(labeled) / float64(total) * 100
}

func (a *Aggregator) computeTrends(posts []database.Post, windowStart, now time.Time) []database.Trend {
	counts := make(map[string]int)
	for _, post := range posts {
		seen := make(map[string]bool)
		for _, term := range tokenize(post.Title) {
			// A term counts once per post.
			if seen[term] {
				continue
			}
			seen[term] = true
			counts[term]++
		}
	}

	var trends []database.Trend
	for term, count := range counts {
		if count < a.opts.MinTermCount {
			continue
		}
		trends = append(trends, database.Trend{
			Term:        term,
			Count:       count,
			WindowStart: windowStart,
			ComputedAt:  now,
		})
	}

	sort.Slice(trends, func(i, j int) bool {
		if trends[i].Count != trends[j].Count {
			return trends[i].Count > trends[j].Count
		}
		return trends[i].Term < trends[j].Term
	})

	if len(trends) > a.opts.TopTermCount {
		trends = trends[:a.opts.TopTermCount]
	}
	return trends
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "have": true, "has": true, "had": true,
	"not": true, "but": true, "are": true, "was": true, "were": true,
	"can": true, "cannot": true, "cant": true, "does": true, "doesnt": true,
	"how": true, "what": true, "when": true, "where": true, "why": true,
	"who": true, "which": true, "you": true, "your": true, "all": true,
	"any": true, "get": true, "got": true, "use": true, "using": true,
	"after": true, "before": true, "into": true, "about": true, "there": true,
	"their": true, "them": true, "they": true, "its": true, "his": true,
	"her": true, "our": true, "out": true, "via": true, "per": true,
	"will": true, "would": true, "could": true, "should": true, "been": true,
	"being": true, "than": true, "then": true, "only": true, "also": true,
	"more": true, "some": true, "such": true, "other": true, "over": true,
	"new": true, "help": true, "need": true, "question": true, "issue": true,
	"error": true, "problem": true, "work": true, "working": true, "unable": true,
}

// tokenize lowercases a title and keeps alphanumeric terms of three or more
// characters that are not stopwords. Purely numeric terms are dropped.
func tokenize(title string) []string {
	lower := strings.ToLower(title)

	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})

	var terms []string
	for _, f := range fields {
		if len(f) < 3 || stopwords[f] || isNumeric(f) {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
