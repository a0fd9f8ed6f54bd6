package cfg

type Cfg struct {
	// Storage configuration
	DBPath string

	// Application configuration
	SourcesDir        string
	Port              string
	APIAccessKey      string
	WorkerCount       int
	SchedulerInterval int

	// Sentiment analysis configuration
	AnthropicAPIKey  string
	AnthropicModel   string
	BatchMaxItems    int
	BatchMaxPayload  int
	BatchMaxInFlight int
	InferenceRPM     int

	// Retry configuration shared by fetching and inference
	RetryMaxAttempts int
	RetryBaseDelayMs int
	RetryMaxDelayMs  int

	// Trend aggregation configuration
	TrendWindowHours int
	TrendMinCount    int
	TrendTopCount    int

	// Application metadata
	UserAgent string
	Debug     bool
	Version   string
}
