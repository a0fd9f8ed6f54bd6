package source

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type Cache struct {
	sourcesDir string
	cache      map[string]*Config
	mu         sync.RWMutex
}

func NewCache(sourcesDir string) *Cache {
	return &Cache{
		sourcesDir: sourcesDir,
		cache:      make(map[string]*Config),
	}
}

func (c *Cache) Run() error {
	if _, err := os.Stat(c.sourcesDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(c.sourcesDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yml")

		config, err := c.LoadConfig(name)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Source configuration loaded", "source", config.Source.ID, "mode", config.Source.Mode, "enabled", config.Settings.Enabled)
	}

	return nil
}

func (c *Cache) LoadConfig(name string) (*Config, error) {
	configFile := filepath.Join(c.sourcesDir, name+".yml")
	config, err := c.parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	config.Name = name
	if config.Source.ID == "" {
		config.Source.ID = name
	}

	if err := c.validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[config.Source.ID] = config

	return config, nil
}

func (c *Cache) GetConfig(sourceID string) (*Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	config, ok := c.cache[sourceID]
	if !ok {
		return nil, fmt.Errorf("source config with id '%s' not found", sourceID)
	}
	return config, nil
}

func (c *Cache) GetConfigs() map[string]*Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	configsCopy := make(map[string]*Config, len(c.cache))
	for k, v := range c.cache {
		configsCopy[k] = v
	}
	return configsCopy
}

func (c *Cache) GetEnabledConfigs() map[string]*Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	enabled := make(map[string]*Config)
	for k, v := range c.cache {
		if v.Settings.Enabled {
			enabled[k] = v
		}
	}
	return enabled
}

func (c *Cache) GetConfigCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *Cache) parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if config.Source.Mode == "" {
		config.Source.Mode = ModeHTML
	}
	if config.Source.Pages == 0 {
		config.Source.Pages = 1
	}
	if config.Settings.MinRequestIntervalMs == 0 {
		config.Settings.MinRequestIntervalMs = 2000
	}
	if config.Settings.MaxConcurrentFetches == 0 {
		config.Settings.MaxConcurrentFetches = 2
	}
	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = 30
	}

	return &config, nil
}

func (c *Cache) validateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}

	requiredFields := map[string]string{
		"source name":        config.Source.Name,
		"source listing URL": config.Source.ListingURL,
	}

	for fieldName, fieldValue := range requiredFields {
		if fieldValue == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
	}

	if config.Source.Mode != ModeHTML && config.Source.Mode != ModeRSS {
		return fmt.Errorf("invalid source mode: %s", config.Source.Mode)
	}

	if config.Source.Mode == ModeHTML {
		if config.Rules.ListingLink == "" {
			return fmt.Errorf("listing_link selector is required for html sources")
		}
		if config.Rules.Title == "" || config.Rules.Body == "" {
			return fmt.Errorf("title and body selectors are required for html sources")
		}
	}

	nonNegativeFields := map[string]int{
		"pages":                   config.Source.Pages,
		"min request interval ms": config.Settings.MinRequestIntervalMs,
		"max concurrent fetches":  config.Settings.MaxConcurrentFetches,
		"timeout":                 config.Settings.Timeout,
	}

	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	return nil
}
