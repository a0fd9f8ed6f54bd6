package source

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yml"), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
}

const htmlSourceYAML = `source:
  id: "test-forum"
  name: "Test Forum"
  base_url: "https://forum.example.com"
  listing_url: "https://forum.example.com/latest/page/{page}"
  pages: 2
  mode: "html"
  category: "general"

settings:
  enabled: true
  min_request_interval_ms: 100
  max_concurrent_fetches: 3
  timeout: 10

rules:
  listing_link: "a.topic-link"
  title: "h1.title"
  body: "div.post-body"
  author: "span.author"
`

const rssSourceYAML = `source:
  name: "Test Feed"
  base_url: "https://blog.example.com"
  listing_url: "https://blog.example.com/feed.xml"
  mode: "rss"

settings:
  enabled: false
`

func TestCacheRunLoadsConfigs(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "test-forum", htmlSourceYAML)
	writeConfig(t, dir, "test-feed", rssSourceYAML)

	cache := NewCache(dir)
	if err := cache.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if cache.GetConfigCount() != 2 {
		t.Errorf("Expected 2 configs, got %d", cache.GetConfigCount())
	}

	config, err := cache.GetConfig("test-forum")
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if config.Source.ListingURL != "https://forum.example.com/latest/page/{page}" {
		t.Errorf("Unexpected listing URL: %s", config.Source.ListingURL)
	}
	if config.Source.Pages != 2 {
		t.Errorf("Expected 2 pages, got %d", config.Source.Pages)
	}
	if config.Rules.ListingLink != "a.topic-link" {
		t.Errorf("Unexpected listing link selector: %s", config.Rules.ListingLink)
	}
}

func TestCacheDerivesIDFromFilename(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "test-feed", rssSourceYAML)

	cache := NewCache(dir)
	if err := cache.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	config, err := cache.GetConfig("test-feed")
	if err != nil {
		t.Fatalf("Expected config id derived from filename: %v", err)
	}
	if config.Name != "test-feed" {
		t.Errorf("Expected name 'test-feed', got '%s'", config.Name)
	}
}

func TestCacheAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "test-feed", rssSourceYAML)

	cache := NewCache(dir)
	if err := cache.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	config, _ := cache.GetConfig("test-feed")
	if config.Source.Pages != 1 {
		t.Errorf("Expected default pages 1, got %d", config.Source.Pages)
	}
	if config.Settings.MinRequestIntervalMs != 2000 {
		t.Errorf("Expected default interval 2000, got %d", config.Settings.MinRequestIntervalMs)
	}
	if config.Settings.MaxConcurrentFetches != 2 {
		t.Errorf("Expected default concurrency 2, got %d", config.Settings.MaxConcurrentFetches)
	}
	if config.Settings.Timeout != 30 {
		t.Errorf("Expected default timeout 30, got %d", config.Settings.Timeout)
	}
}

func TestCacheGetEnabledConfigs(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "test-forum", htmlSourceYAML)
	writeConfig(t, dir, "test-feed", rssSourceYAML)

	cache := NewCache(dir)
	if err := cache.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	enabled := cache.GetEnabledConfigs()
	if len(enabled) != 1 {
		t.Fatalf("Expected 1 enabled config, got %d", len(enabled))
	}
	if _, ok := enabled["test-forum"]; !ok {
		t.Error("Expected test-forum to be enabled")
	}
}

func TestCacheRejectsHTMLSourceWithoutSelectors(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "broken", `source:
  name: "Broken"
  listing_url: "https://example.com/forum"
  mode: "html"
`)

	cache := NewCache(dir)
	if err := cache.Run(); err == nil {
		t.Error("Expected validation error for html source without selectors")
	}
}

func TestCacheRejectsInvalidMode(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "broken", `source:
  name: "Broken"
  listing_url: "https://example.com/forum"
  mode: "api"
`)

	cache := NewCache(dir)
	if err := cache.Run(); err == nil {
		t.Error("Expected validation error for unknown mode")
	}
}

func TestCacheMissingDirectory(t *testing.T) {
	cache := NewCache(filepath.Join(t.TempDir(), "does-not-exist"))
	if err := cache.Run(); err != nil {
		t.Errorf("Expected missing directory to be tolerated, got %v", err)
	}
	if cache.GetConfigCount() != 0 {
		t.Errorf("Expected 0 configs, got %d", cache.GetConfigCount())
	}
}

func TestCacheGetConfigNotFound(t *testing.T) {
	cache := NewCache(t.TempDir())
	if _, err := cache.GetConfig("nope"); err == nil {
		t.Error("Expected error for unknown source id")
	}
}
