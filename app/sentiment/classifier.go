package sentiment

import (
	"context"
	"fmt"

	"github.com/communitypulse/forum-pulse/app/database"
)

// Result is one classification outcome, aligned by position with the
// submitted texts.
type Result struct {
	Label      string
	Confidence float64
}

// Classifier turns a batch of post texts into sentiment labels. A short
// result slice means the backend answered for a prefix of the batch only;
// the caller decides what happens to the rest.
type Classifier interface {
	Classify(ctx context.Context, texts []string) ([]Result, error)
}

// InferenceError reports a failed classification call. Retried at batch
// granularity; after retries are exhausted every member post is marked
// failed and stays eligible for a future run.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference: %v", e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

func ValidLabel(label string) bool {
	switch label {
	case database.SentimentPositive, database.SentimentNeutral, database.SentimentNegative:
		return true
	}
	return false
}
