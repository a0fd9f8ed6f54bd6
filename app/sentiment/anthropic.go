package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const systemPrompt = `You are an expert at analyzing sentiment in technical forum posts.
You receive a numbered list of posts. Respond with a JSON array only, one object
per post in input order, no prose:
[{"label": "positive" | "neutral" | "negative", "confidence": 0.0-1.0}]`

// AnthropicClassifier classifies batches with a single Messages call per
// batch. Entries the model labels unusably fall back to keyword scoring so
// one bad entry does not sink the batch.
type AnthropicClassifier struct {
	client   sdk.Client
	model    string
	fallback *KeywordClassifier
}

func NewAnthropicClassifier(apiKey, model string) *AnthropicClassifier {
	return &AnthropicClassifier{
		client:   sdk.NewClient(option.WithAPIKey(apiKey)),
		model:    model,
		fallback: NewKeywordClassifier(),
	}
}

func (c *AnthropicClassifier) Classify(ctx context.Context, texts []string) ([]Result, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   int64(64 + 32*len(texts)),
		Temperature: sdk.Float(0.1),
		System: []sdk.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(buildPrompt(texts))),
		},
	})
	if err != nil {
		return nil, &InferenceError{Err: err}
	}

	var content strings.Builder
	for _, block := range msg.Content {
		content.WriteString(block.Text)
	}

	parsed, ok := parseResults(content.String())
	if !ok {
		// The call succeeded but the content is unusable; keyword
		// scoring keeps the batch from being marked failed.
		return c.fallback.Classify(ctx, texts)
	}

	if len(parsed) > len(texts) {
		parsed = parsed[:len(texts)]
	}

	results := make([]Result, 0, len(parsed))
	for i, p := range parsed {
		if !ValidLabel(p.Label) {
			fb, _ := c.fallback.Classify(ctx, texts[i:i+1])
			results = append(results, fb[0])
			continue
		}
		results = append(results, Result{Label: p.Label, Confidence: clamp01(p.Confidence)})
	}

	return results, nil
}

func buildPrompt(texts []string) string {
	var b strings.Builder
	for i, text := range texts {
		fmt.Fprintf(&b, "Post %d:\n%s\n\n", i+1, text)
	}
	return b.String()
}

type rawResult struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// parseResults tolerates prose around the JSON array by slicing from the
// first '[' to the last ']'.
func parseResults(content string) ([]rawResult, bool) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, false
	}

	var parsed []rawResult
	if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
