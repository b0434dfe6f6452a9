package main

import (
	"testing"
	"time"
)

// resetFlags restores every package-level flag variable to the default its
// flag is registered with in root.go, so each test starts from a clean
// slate, independent of flag-parsing order.
func resetFlags() {
	cfgFile = ""
	dsn = ":memory:"

	userAgent = "crawlctl/1.0"
	defaultCrawlDelay = 0
	minCrawlDelay = 0
	maxCrawlDelay = 0
	respectRobotsTxt = true
	logSkipped = true
	httpTimeout = 0
	maxResponseBytes = 0
	compress = true
	acceptContentTypes = nil
	rejectContentTypes = nil
	sitemapCacheHours = 0
	updateStale = false
	maxParallelPerDomain = 0
	maxTotalConnections = 0
	maxRetryBackoffSeconds = 0
	maxAttempt = 0
	jitter = 0
	randomSeed = 0
	backoffInitial = 0
	backoffMultiplier = 0
	backoffMax = 0

	whereLike = ""

	workerCount = 0
	batchSize = 0
	flushInterval = 0
	discoveryTimeout = 0
	discoveryParallel = 0
	shutdownGrace = 0
}

func TestBuildConfig_NoFlags_MatchesDefault(t *testing.T) {
	resetFlags()

	cfg, err := buildConfig()
	if err != nil {
		t.Fatalf("buildConfig: %v", err)
	}

	if cfg.UserAgent() != "crawlctl/1.0" {
		t.Errorf("UserAgent = %q, want %q", cfg.UserAgent(), "crawlctl/1.0")
	}
	if !cfg.RespectRobotsTxt() {
		t.Error("RespectRobotsTxt = false, want true")
	}
	if !cfg.Compress() {
		t.Error("Compress = false, want true")
	}
	if cfg.UpdateStale() {
		t.Error("UpdateStale = true, want false")
	}
}

func TestBuildConfig_FlagsOverrideDefaults(t *testing.T) {
	resetFlags()
	userAgent = "custombot/2.0"
	respectRobotsTxt = false
	updateStale = true
	maxTotalConnections = 4
	httpTimeout = 5 * time.Second

	cfg, err := buildConfig()
	if err != nil {
		t.Fatalf("buildConfig: %v", err)
	}

	if cfg.UserAgent() != "custombot/2.0" {
		t.Errorf("UserAgent = %q, want %q", cfg.UserAgent(), "custombot/2.0")
	}
	if cfg.RespectRobotsTxt() {
		t.Error("RespectRobotsTxt = true, want false")
	}
	if !cfg.UpdateStale() {
		t.Error("UpdateStale = false, want true")
	}
	if cfg.MaxTotalConnections() != 4 {
		t.Errorf("MaxTotalConnections = %d, want 4", cfg.MaxTotalConnections())
	}
	if cfg.Timeout() != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout())
	}
}

func TestBuildConfig_ConfigFile_NotFound(t *testing.T) {
	resetFlags()
	cfgFile = "/nonexistent/path/to/config.json"

	if _, err := buildConfig(); err == nil {
		t.Error("expected an error for a missing config file, got nil")
	}
}

func TestCompileFilter_Empty_ReturnsNil(t *testing.T) {
	resetFlags()
	if g := compileFilter(); g != nil {
		t.Errorf("compileFilter() = %v, want nil for an empty --where", g)
	}
}

func TestCompileFilter_CompilesPattern(t *testing.T) {
	resetFlags()
	whereLike = "*docs*"

	g := compileFilter()
	if g == nil {
		t.Fatal("compileFilter() = nil, want a compiled glob")
	}
	if !g.Match("https://example.com/docs/page") {
		t.Error("expected the compiled glob to match a URL containing \"docs\"")
	}
	if g.Match("https://example.com/blog/page") {
		t.Error("expected the compiled glob not to match a URL without \"docs\"")
	}
}
