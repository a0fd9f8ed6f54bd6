package cfg

import (
	"cmp"
	"fmt"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./data/pulse.db" description:"Path to the SQLite database file"`

	// Application configuration
	SourcesDir        string `long:"sources-dir" env:"SOURCES_DIR" default:"./sources" description:"Directory containing source configuration files"`
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"4" description:"Number of sources processed concurrently within a run"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"10800" description:"Collection run interval in seconds"`

	// Sentiment analysis configuration
	AnthropicAPIKey  string `long:"anthropic-api-key" env:"ANTHROPIC_API_KEY" description:"Anthropic API key for sentiment classification"`
	AnthropicModel   string `long:"anthropic-model" env:"ANTHROPIC_MODEL" default:"claude-haiku-4-5" description:"Model used for sentiment classification"`
	BatchMaxItems    int    `long:"batch-max-items" env:"BATCH_MAX_ITEMS" default:"10" description:"Maximum posts per inference batch"`
	BatchMaxPayload  int    `long:"batch-max-payload" env:"BATCH_MAX_PAYLOAD" default:"16384" description:"Maximum estimated payload bytes per inference batch"`
	BatchMaxInFlight int    `long:"batch-max-in-flight" env:"BATCH_MAX_IN_FLIGHT" default:"3" description:"Maximum concurrent in-flight inference batches"`
	InferenceRPM     int    `long:"inference-rpm" env:"INFERENCE_RPM" default:"50" description:"Inference API requests per minute"`

	// Retry configuration
	RetryMaxAttempts int `long:"retry-max-attempts" env:"RETRY_MAX_ATTEMPTS" default:"3" description:"Maximum attempts for retried network operations"`
	RetryBaseDelayMs int `long:"retry-base-delay-ms" env:"RETRY_BASE_DELAY_MS" default:"500" description:"Base retry backoff delay in milliseconds"`
	RetryMaxDelayMs  int `long:"retry-max-delay-ms" env:"RETRY_MAX_DELAY_MS" default:"30000" description:"Retry backoff delay cap in milliseconds"`

	// Trend aggregation configuration
	TrendWindowHours int `long:"trend-window-hours" env:"TREND_WINDOW_HOURS" default:"168" description:"Window of post activity considered for trend aggregation"`
	TrendMinCount    int `long:"trend-min-count" env:"TREND_MIN_COUNT" default:"3" description:"Minimum term occurrences to qualify as trending"`
	TrendTopCount    int `long:"trend-top-count" env:"TREND_TOP_COUNT" default:"20" description:"Number of trending terms retained"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Forum Pulse/1.0" description:"User agent string for HTTP requests"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:            raw.DBPath,
		SourcesDir:        raw.SourcesDir,
		Port:              raw.Port,
		APIAccessKey:      raw.APIAccessKey,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		AnthropicAPIKey:   raw.AnthropicAPIKey,
		AnthropicModel:    raw.AnthropicModel,
		BatchMaxItems:     raw.BatchMaxItems,
		BatchMaxPayload:   raw.BatchMaxPayload,
		BatchMaxInFlight:  raw.BatchMaxInFlight,
		InferenceRPM:      raw.InferenceRPM,
		RetryMaxAttempts:  raw.RetryMaxAttempts,
		RetryBaseDelayMs:  raw.RetryBaseDelayMs,
		RetryMaxDelayMs:   raw.RetryMaxDelayMs,
		TrendWindowHours:  raw.TrendWindowHours,
		TrendMinCount:     raw.TrendMinCount,
		TrendTopCount:     raw.TrendTopCount,
		UserAgent:         raw.UserAgent,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}
