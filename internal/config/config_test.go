package config_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rohmanhakim/docs-crawler/internal/config"
)

func TestWithDefault(t *testing.T) {
	cfg := config.WithDefault("crawlbot/1.0")
	if cfg == nil {
		t.Fatal("WithDefault() returned nil")
	}

	builtCfg, err := cfg.Build()
	if err != nil {
		t.Fatalf("should not have any error, got %v", err)
	}

	if builtCfg.UserAgent() != "crawlbot/1.0" {
		t.Errorf("expected UserAgent 'crawlbot/1.0', got '%s'", builtCfg.UserAgent())
	}
	if builtCfg.DefaultCrawlDelay() != time.Second {
		t.Errorf("expected DefaultCrawlDelay 1s, got %v", builtCfg.DefaultCrawlDelay())
	}
	if builtCfg.MinCrawlDelay() != 0 {
		t.Errorf("expected MinCrawlDelay 0, got %v", builtCfg.MinCrawlDelay())
	}
	if builtCfg.MaxCrawlDelay() != 60*time.Second {
		t.Errorf("expected MaxCrawlDelay 60s, got %v", builtCfg.MaxCrawlDelay())
	}
	if !builtCfg.RespectRobotsTxt() {
		t.Error("expected RespectRobotsTxt to default true")
	}
	if !builtCfg.LogSkipped() {
		t.Error("expected LogSkipped to default true")
	}
	if builtCfg.Timeout() != 30*time.Second {
		t.Errorf("expected Timeout 30s, got %v", builtCfg.Timeout())
	}
	if builtCfg.MaxResponseBytes() != 10*1024*1024 {
		t.Errorf("expected MaxResponseBytes 10MiB, got %d", builtCfg.MaxResponseBytes())
	}
	if !builtCfg.Compress() {
		t.Error("expected Compress to default true")
	}
	if builtCfg.SitemapCacheHours() != 24 {
		t.Errorf("expected SitemapCacheHours 24, got %d", builtCfg.SitemapCacheHours())
	}
	if builtCfg.UpdateStale() {
		t.Error("expected UpdateStale to default false")
	}
	if builtCfg.MaxParallelPerDomain() != 8 {
		t.Errorf("expected MaxParallelPerDomain 8, got %d", builtCfg.MaxParallelPerDomain())
	}
	if builtCfg.MaxTotalConnections() != 32 {
		t.Errorf("expected MaxTotalConnections 32, got %d", builtCfg.MaxTotalConnections())
	}
	if builtCfg.MaxRetryBackoffSeconds() != 600*time.Second {
		t.Errorf("expected MaxRetryBackoffSeconds 600s, got %v", builtCfg.MaxRetryBackoffSeconds())
	}
	if builtCfg.MaxAttempt() != 3 {
		t.Errorf("expected MaxAttempt 3, got %d", builtCfg.MaxAttempt())
	}
}

func TestBuild_RequiresUserAgent(t *testing.T) {
	_, err := config.WithDefault("").Build()
	if err == nil {
		t.Fatal("expected error for empty userAgent, got nil")
	}
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestBuild_RejectsInvertedCrawlDelayBounds(t *testing.T) {
	_, err := config.WithDefault("crawlbot/1.0").
		WithCrawlDelayBounds(10*time.Second, time.Second).
		Build()
	if err == nil {
		t.Fatal("expected error for minCrawlDelay > maxCrawlDelay, got nil")
	}
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestWithChain(t *testing.T) {
	cfg, err := config.WithDefault("crawlbot/1.0").
		WithDefaultCrawlDelay(2 * time.Second).
		WithCrawlDelayBounds(500*time.Millisecond, 30*time.Second).
		WithRespectRobotsTxt(false).
		WithLogSkipped(false).
		WithTimeout(15 * time.Second).
		WithMaxResponseBytes(1024).
		WithCompress(false).
		WithAcceptContentTypes([]string{"text/*"}).
		WithRejectContentTypes([]string{"text/css"}).
		WithSitemapCacheHours(6).
		WithUpdateStale(true).
		WithMaxParallelPerDomain(4).
		WithMaxTotalConnections(16).
		WithMaxRetryBackoffSeconds(60 * time.Second).
		WithMaxAttempt(5).
		WithJitter(10 * time.Millisecond).
		WithRandomSeed(42).
		WithBackoffInitialDuration(50 * time.Millisecond).
		WithBackoffMultiplier(1.5).
		WithBackoffMaxDuration(5 * time.Second).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DefaultCrawlDelay() != 2*time.Second {
		t.Errorf("expected DefaultCrawlDelay 2s, got %v", cfg.DefaultCrawlDelay())
	}
	if cfg.MinCrawlDelay() != 500*time.Millisecond || cfg.MaxCrawlDelay() != 30*time.Second {
		t.Errorf("unexpected crawl delay bounds: min=%v max=%v", cfg.MinCrawlDelay(), cfg.MaxCrawlDelay())
	}
	if cfg.RespectRobotsTxt() {
		t.Error("expected RespectRobotsTxt false")
	}
	if cfg.LogSkipped() {
		t.Error("expected LogSkipped false")
	}
	if cfg.Timeout() != 15*time.Second {
		t.Errorf("expected Timeout 15s, got %v", cfg.Timeout())
	}
	if cfg.MaxResponseBytes() != 1024 {
		t.Errorf("expected MaxResponseBytes 1024, got %d", cfg.MaxResponseBytes())
	}
	if cfg.Compress() {
		t.Error("expected Compress false")
	}
	if got := cfg.AcceptContentTypes(); len(got) != 1 || got[0] != "text/*" {
		t.Errorf("expected AcceptContentTypes [text/*], got %v", got)
	}
	if got := cfg.RejectContentTypes(); len(got) != 1 || got[0] != "text/css" {
		t.Errorf("expected RejectContentTypes [text/css], got %v", got)
	}
	if cfg.SitemapCacheHours() != 6 {
		t.Errorf("expected SitemapCacheHours 6, got %d", cfg.SitemapCacheHours())
	}
	if !cfg.UpdateStale() {
		t.Error("expected UpdateStale true")
	}
	if cfg.MaxParallelPerDomain() != 4 {
		t.Errorf("expected MaxParallelPerDomain 4, got %d", cfg.MaxParallelPerDomain())
	}
	if cfg.MaxTotalConnections() != 16 {
		t.Errorf("expected MaxTotalConnections 16, got %d", cfg.MaxTotalConnections())
	}
	if cfg.MaxAttempt() != 5 {
		t.Errorf("expected MaxAttempt 5, got %d", cfg.MaxAttempt())
	}
	if cfg.RandomSeed() != 42 {
		t.Errorf("expected RandomSeed 42, got %d", cfg.RandomSeed())
	}
}

func TestWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crawl.json")

	payload := map[string]any{
		"userAgent":            "fileagent/2.0",
		"defaultCrawlDelay":    int64(2 * time.Second),
		"maxParallelPerDomain": 4,
		"updateStale":          true,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal fixture: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	cfg, err := config.WithConfigFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.UserAgent() != "fileagent/2.0" {
		t.Errorf("expected UserAgent 'fileagent/2.0', got '%s'", cfg.UserAgent())
	}
	if cfg.DefaultCrawlDelay() != 2*time.Second {
		t.Errorf("expected DefaultCrawlDelay 2s, got %v", cfg.DefaultCrawlDelay())
	}
	if cfg.MaxParallelPerDomain() != 4 {
		t.Errorf("expected MaxParallelPerDomain 4, got %d", cfg.MaxParallelPerDomain())
	}
	if !cfg.UpdateStale() {
		t.Error("expected UpdateStale true")
	}
	// Unspecified options keep their defaults.
	if cfg.MaxTotalConnections() != 32 {
		t.Errorf("expected MaxTotalConnections to default to 32, got %d", cfg.MaxTotalConnections())
	}
}

func TestWithConfigFile_MissingFile(t *testing.T) {
	_, err := config.WithConfigFile(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, config.ErrFileDoesNotExist) {
		t.Errorf("expected ErrFileDoesNotExist, got %v", err)
	}
}

func TestWithConfigFile_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	_, err := config.WithConfigFile(path)
	if !errors.Is(err, config.ErrConfigParsingFail) {
		t.Errorf("expected ErrConfigParsingFail, got %v", err)
	}
}
