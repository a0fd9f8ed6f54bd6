package sentiment

import (
	"context"
	"strings"

	"github.com/communitypulse/forum-pulse/app/database"
)

var positiveKeywords = []string{
	"great", "excellent", "awesome", "perfect", "love", "amazing",
	"fantastic", "solved", "working", "thanks", "helpful",
}

var negativeKeywords = []string{
	"bug", "error", "problem", "issue", "broken", "crash", "fail",
	"wrong", "terrible", "awful", "hate", "frustrated",
}

// KeywordClassifier is the deterministic fallback used when the inference
// API returns content that cannot be interpreted. Low confidence by design
// of the scoring, not a substitute for the model.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

func (k *KeywordClassifier) Classify(_ context.Context, texts []string) ([]Result, error) {
	results := make([]Result, len(texts))
	for i, text := range texts {
		results[i] = k.classifyOne(text)
	}
	return results, nil
}

func (k *KeywordClassifier) classifyOne(text string) Result {
	lower := strings.ToLower(text)

	var pos, neg int
	for _, word := range positiveKeywords {
		if strings.Contains(lower, word) {
			pos++
		}
	}
	for _, word := range negativeKeywords {
		if strings.Contains(lower, word) {
			neg++
		}
	}

	switch {
	case pos > neg:
		return Result{Label: database.SentimentPositive, Confidence: 0.6}
	case neg > pos:
		return Result{Label: database.SentimentNegative, Confidence: 0.6}
	default:
		return Result{Label: database.SentimentNeutral, Confidence: 0.6}
	}
}
