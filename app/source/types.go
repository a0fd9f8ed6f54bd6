package source

// Mode selects how listing pages for a source are interpreted.
const (
	ModeHTML = "html"
	ModeRSS  = "rss"
)

// Config is the declarative description of one forum source. Rule sets are
// resolved at configuration load; changing a source's markup only requires
// editing its YAML file.
type Config struct {
	Name     string   `yaml:"-"` // derived from filename
	Source   Info     `yaml:"source"`
	Settings Settings `yaml:"settings"`
	Rules    RuleSet  `yaml:"rules"`
}

type Info struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	BaseURL    string `yaml:"base_url"`
	ListingURL string `yaml:"listing_url"` // may contain a {page} placeholder
	Pages      int    `yaml:"pages"`
	Mode       string `yaml:"mode"`
	Category   string `yaml:"category"`
}

type Settings struct {
	Enabled              bool `yaml:"enabled"`
	MinRequestIntervalMs int  `yaml:"min_request_interval_ms"`
	MaxConcurrentFetches int  `yaml:"max_concurrent_fetches"`
	Timeout              int  `yaml:"timeout"` // seconds
}

// RuleSet holds the CSS selectors used to extract posts from HTML sources.
// Unused for sources in RSS mode.
type RuleSet struct {
	ListingLink  string `yaml:"listing_link"`
	Title        string `yaml:"title"`
	Body         string `yaml:"body"`
	Author       string `yaml:"author"`
	PostedAt     string `yaml:"posted_at"`
	PostedAtAttr string `yaml:"posted_at_attr"`
	RemoteID     string `yaml:"remote_id"`
	RemoteIDAttr string `yaml:"remote_id_attr"`
}
