package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds the crawl engine's `WITH (...)` option set (spec §6): politeness,
// fetch limits, concurrency caps, and the retry knobs for a single fetch
// attempt. It does not carry the crawl's source (explicit URLs, a sites
// list, or a merge relation) or the target table name — those belong to an
// engine.Job, which is built from one of these plus an explicit source.
type Config struct {
	//===============
	// Identity / politeness
	//===============
	// Sent as the HTTP User-Agent header and used for robots.txt agent matching.
	userAgent string
	// Seed delay used when robots.txt has no Crawl-delay directive.
	defaultCrawlDelay time.Duration
	// Clamps applied to the effective per-host delay after adaptive adjustment.
	minCrawlDelay time.Duration
	maxCrawlDelay time.Duration
	// If false, every host is treated as allow-all.
	respectRobotsTxt bool
	// Emit a synthetic row for robots/policy-disallowed URLs instead of dropping them silently.
	logSkipped bool

	//===============
	// Fetch
	//===============
	// Per-request timeout.
	timeoutSeconds time.Duration
	// Body size cap; a response over this aborts with content_too_large.
	maxResponseBytes int64
	// Whether to send Accept-Encoding: gzip, deflate, br.
	compress bool
	// Comma-separated glob lists gating which response content types are read.
	acceptContentTypes []string
	rejectContentTypes []string

	//===============
	// Sitemap discovery
	//===============
	sitemapCacheHours int
	// Re-crawl a URL whose sitemap lastmod is newer than the stored crawled_at,
	// even if the prior outcome was an error.
	updateStale bool

	//===============
	// Concurrency
	//===============
	maxParallelPerDomain int
	maxTotalConnections  int

	//===============
	// Backoff
	//===============
	// Cap on the host-level Fibonacci backoff tier (internal/hostsched).
	maxRetryBackoffSeconds time.Duration
	// maxAttempt is the worker pool's retry budget for one URL. The jitter
	// and backoff* fields below are carried and exposed by Config, but the
	// crawl engine does not read them: its retries wait out the host-level
	// Fibonacci backoff, not an exponential per-attempt backoff.
	maxAttempt             int
	jitter                 time.Duration
	randomSeed             int64
	backoffInitialDuration time.Duration
	backoffMultiplier      float64
	backoffMaxDuration     time.Duration
}

type configDTO struct {
	UserAgent              string        `json:"userAgent,omitempty"`
	DefaultCrawlDelay      time.Duration `json:"defaultCrawlDelay,omitempty"`
	MinCrawlDelay          time.Duration `json:"minCrawlDelay,omitempty"`
	MaxCrawlDelay          time.Duration `json:"maxCrawlDelay,omitempty"`
	RespectRobotsTxt       *bool         `json:"respectRobotsTxt,omitempty"`
	LogSkipped             *bool         `json:"logSkipped,omitempty"`
	TimeoutSeconds         time.Duration `json:"timeoutSeconds,omitempty"`
	MaxResponseBytes       int64         `json:"maxResponseBytes,omitempty"`
	Compress               *bool         `json:"compress,omitempty"`
	AcceptContentTypes     []string      `json:"acceptContentTypes,omitempty"`
	RejectContentTypes     []string      `json:"rejectContentTypes,omitempty"`
	SitemapCacheHours      int           `json:"sitemapCacheHours,omitempty"`
	UpdateStale            bool          `json:"updateStale,omitempty"`
	MaxParallelPerDomain   int           `json:"maxParallelPerDomain,omitempty"`
	MaxTotalConnections    int           `json:"maxTotalConnections,omitempty"`
	MaxRetryBackoffSeconds time.Duration `json:"maxRetryBackoffSeconds,omitempty"`
	MaxAttempt             int           `json:"maxAttempt,omitempty"`
	Jitter                 time.Duration `json:"jitter,omitempty"`
	RandomSeed             int64         `json:"randomSeed,omitempty"`
	BackoffInitialDuration time.Duration `json:"backoffInitialDuration,omitempty"`
	BackoffMultiplier      float64       `json:"backoffMultiplier,omitempty"`
	BackoffMaxDuration     time.Duration `json:"backoffMaxDuration,omitempty"`
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	cfg, err := WithDefault(dto.UserAgent).Build()
	if err != nil {
		return Config{}, err
	}

	if dto.DefaultCrawlDelay != 0 {
		cfg.defaultCrawlDelay = dto.DefaultCrawlDelay
	}
	if dto.MinCrawlDelay != 0 {
		cfg.minCrawlDelay = dto.MinCrawlDelay
	}
	if dto.MaxCrawlDelay != 0 {
		cfg.maxCrawlDelay = dto.MaxCrawlDelay
	}
	if dto.RespectRobotsTxt != nil {
		cfg.respectRobotsTxt = *dto.RespectRobotsTxt
	}
	if dto.LogSkipped != nil {
		cfg.logSkipped = *dto.LogSkipped
	}
	if dto.TimeoutSeconds != 0 {
		cfg.timeoutSeconds = dto.TimeoutSeconds
	}
	if dto.MaxResponseBytes != 0 {
		cfg.maxResponseBytes = dto.MaxResponseBytes
	}
	if dto.Compress != nil {
		cfg.compress = *dto.Compress
	}
	if len(dto.AcceptContentTypes) > 0 {
		cfg.acceptContentTypes = dto.AcceptContentTypes
	}
	if len(dto.RejectContentTypes) > 0 {
		cfg.rejectContentTypes = dto.RejectContentTypes
	}
	if dto.SitemapCacheHours != 0 {
		cfg.sitemapCacheHours = dto.SitemapCacheHours
	}
	// updateStale's zero value (false) is meaningful, always take the DTO value.
	cfg.updateStale = dto.UpdateStale
	if dto.MaxParallelPerDomain != 0 {
		cfg.maxParallelPerDomain = dto.MaxParallelPerDomain
	}
	if dto.MaxTotalConnections != 0 {
		cfg.maxTotalConnections = dto.MaxTotalConnections
	}
	if dto.MaxRetryBackoffSeconds != 0 {
		cfg.maxRetryBackoffSeconds = dto.MaxRetryBackoffSeconds
	}
	if dto.MaxAttempt != 0 {
		cfg.maxAttempt = dto.MaxAttempt
	}
	if dto.Jitter != 0 {
		cfg.jitter = dto.Jitter
	}
	if dto.RandomSeed != 0 {
		cfg.randomSeed = dto.RandomSeed
	}
	if dto.BackoffInitialDuration != 0 {
		cfg.backoffInitialDuration = dto.BackoffInitialDuration
	}
	if dto.BackoffMultiplier != 0 {
		cfg.backoffMultiplier = dto.BackoffMultiplier
	}
	if dto.BackoffMaxDuration != 0 {
		cfg.backoffMaxDuration = dto.BackoffMaxDuration
	}

	return cfg, nil
}

func WithConfigFile(path string) (Config, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}
	cfgDTO := configDTO{}

	err = json.Unmarshal(configContent, &cfgDTO)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	cfg, err := newConfigFromDTO(cfgDTO)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithDefault creates a new Config for the given user agent with default
// values (spec §6's bracketed defaults) for all other options. userAgent is
// mandatory; Build reports an error if it is empty.
func WithDefault(userAgent string) *Config {
	return &Config{
		userAgent:         userAgent,
		defaultCrawlDelay: time.Second,
		minCrawlDelay:     0,
		maxCrawlDelay:     60 * time.Second,
		respectRobotsTxt:  true,
		logSkipped:        true,

		timeoutSeconds:     30 * time.Second,
		maxResponseBytes:   10 * 1024 * 1024,
		compress:           true,
		acceptContentTypes: nil,
		rejectContentTypes: nil,

		sitemapCacheHours: 24,
		updateStale:       false,

		maxParallelPerDomain: 8,
		maxTotalConnections:  32,

		maxRetryBackoffSeconds: 600 * time.Second,
		maxAttempt:             3,
		jitter:                 500 * time.Millisecond,
		randomSeed:             time.Now().UnixNano(),
		backoffInitialDuration: 100 * time.Millisecond,
		backoffMultiplier:      2.0,
		backoffMaxDuration:     10 * time.Second,
	}
}

func (c *Config) WithUserAgent(agent string) *Config {
	c.userAgent = agent
	return c
}

func (c *Config) WithDefaultCrawlDelay(d time.Duration) *Config {
	c.defaultCrawlDelay = d
	return c
}

func (c *Config) WithCrawlDelayBounds(min, max time.Duration) *Config {
	c.minCrawlDelay = min
	c.maxCrawlDelay = max
	return c
}

func (c *Config) WithRespectRobotsTxt(respect bool) *Config {
	c.respectRobotsTxt = respect
	return c
}

func (c *Config) WithLogSkipped(log bool) *Config {
	c.logSkipped = log
	return c
}

func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.timeoutSeconds = timeout
	return c
}

func (c *Config) WithMaxResponseBytes(max int64) *Config {
	c.maxResponseBytes = max
	return c
}

func (c *Config) WithCompress(compress bool) *Config {
	c.compress = compress
	return c
}

func (c *Config) WithAcceptContentTypes(globs []string) *Config {
	c.acceptContentTypes = globs
	return c
}

func (c *Config) WithRejectContentTypes(globs []string) *Config {
	c.rejectContentTypes = globs
	return c
}

func (c *Config) WithSitemapCacheHours(hours int) *Config {
	c.sitemapCacheHours = hours
	return c
}

func (c *Config) WithUpdateStale(updateStale bool) *Config {
	c.updateStale = updateStale
	return c
}

func (c *Config) WithMaxParallelPerDomain(max int) *Config {
	c.maxParallelPerDomain = max
	return c
}

func (c *Config) WithMaxTotalConnections(max int) *Config {
	c.maxTotalConnections = max
	return c
}

func (c *Config) WithMaxRetryBackoffSeconds(d time.Duration) *Config {
	c.maxRetryBackoffSeconds = d
	return c
}

func (c *Config) WithMaxAttempt(attempts int) *Config {
	c.maxAttempt = attempts
	return c
}

func (c *Config) WithJitter(jitter time.Duration) *Config {
	c.jitter = jitter
	return c
}

func (c *Config) WithRandomSeed(seed int64) *Config {
	c.randomSeed = seed
	return c
}

func (c *Config) WithBackoffInitialDuration(d time.Duration) *Config {
	c.backoffInitialDuration = d
	return c
}

func (c *Config) WithBackoffMultiplier(multiplier float64) *Config {
	c.backoffMultiplier = multiplier
	return c
}

func (c *Config) WithBackoffMaxDuration(d time.Duration) *Config {
	c.backoffMaxDuration = d
	return c
}

// Build validates the required fields and returns the finished Config.
func (c *Config) Build() (Config, error) {
	if c.userAgent == "" {
		return Config{}, fmt.Errorf("%w: userAgent is required", ErrInvalidConfig)
	}
	if c.minCrawlDelay > c.maxCrawlDelay {
		return Config{}, fmt.Errorf("%w: minCrawlDelay cannot exceed maxCrawlDelay", ErrInvalidConfig)
	}
	return *c, nil
}

func (c Config) UserAgent() string               { return c.userAgent }
func (c Config) DefaultCrawlDelay() time.Duration { return c.defaultCrawlDelay }
func (c Config) MinCrawlDelay() time.Duration     { return c.minCrawlDelay }
func (c Config) MaxCrawlDelay() time.Duration     { return c.maxCrawlDelay }
func (c Config) RespectRobotsTxt() bool           { return c.respectRobotsTxt }
func (c Config) LogSkipped() bool                 { return c.logSkipped }
func (c Config) Timeout() time.Duration           { return c.timeoutSeconds }
func (c Config) MaxResponseBytes() int64          { return c.maxResponseBytes }
func (c Config) Compress() bool                   { return c.compress }
func (c Config) SitemapCacheHours() int           { return c.sitemapCacheHours }
func (c Config) UpdateStale() bool                { return c.updateStale }
func (c Config) MaxParallelPerDomain() int        { return c.maxParallelPerDomain }
func (c Config) MaxTotalConnections() int         { return c.maxTotalConnections }
func (c Config) MaxAttempt() int                  { return c.maxAttempt }
func (c Config) Jitter() time.Duration            { return c.jitter }
func (c Config) RandomSeed() int64                { return c.randomSeed }
func (c Config) BackoffMultiplier() float64       { return c.backoffMultiplier }

func (c Config) MaxRetryBackoffSeconds() time.Duration { return c.maxRetryBackoffSeconds }
func (c Config) BackoffInitialDuration() time.Duration { return c.backoffInitialDuration }
func (c Config) BackoffMaxDuration() time.Duration     { return c.backoffMaxDuration }

func (c Config) AcceptContentTypes() []string {
	types := make([]string, len(c.acceptContentTypes))
	copy(types, c.acceptContentTypes)
	return types
}

func (c Config) RejectContentTypes() []string {
	types := make([]string, len(c.rejectContentTypes))
	copy(types, c.rejectContentTypes)
	return types
}
