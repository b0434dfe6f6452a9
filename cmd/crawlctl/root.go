package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohmanhakim/docs-crawler/internal/build"
	"github.com/rohmanhakim/docs-crawler/internal/config"
)

var (
	cfgFile string
	dsn     string

	userAgent              string
	defaultCrawlDelay      time.Duration
	minCrawlDelay          time.Duration
	maxCrawlDelay          time.Duration
	respectRobotsTxt       bool
	logSkipped             bool
	httpTimeout            time.Duration
	maxResponseBytes       int64
	compress               bool
	acceptContentTypes     []string
	rejectContentTypes     []string
	sitemapCacheHours      int
	updateStale            bool
	maxParallelPerDomain   int
	maxTotalConnections    int
	maxRetryBackoffSeconds time.Duration
	maxAttempt             int
	jitter                 time.Duration
	randomSeed             int64
	backoffInitial         time.Duration
	backoffMultiplier      float64
	backoffMax             time.Duration

	whereLike string

	workerCount       int
	batchSize         int
	flushInterval     time.Duration
	discoveryTimeout  time.Duration
	discoveryParallel int
	shutdownGrace     time.Duration
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "crawlctl",
	Short:   "A reference caller for the polite, resumable crawl engine.",
	Version: build.FullVersion(),
	Long: `crawlctl drives internal/engine standalone, the way an embedding
analytic engine would bind its crawl-into / crawl-sites-into / merge-into
verbs to it. It is a reference tool for local testing, not the deliverable
— see internal/engine for the actual crawl orchestration.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main. It only needs to happen
// once for the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file path (e.g., /home/myuser/config.json)")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", ":memory:", "sqlite DSN for the target database")

	rootCmd.PersistentFlags().StringVar(&userAgent, "user-agent", "crawlctl/1.0", "user agent sent with every request and matched against robots.txt")
	rootCmd.PersistentFlags().DurationVar(&defaultCrawlDelay, "default-crawl-delay", 0, "seed delay used when robots.txt has no Crawl-delay directive")
	rootCmd.PersistentFlags().DurationVar(&minCrawlDelay, "min-crawl-delay", 0, "lower clamp on the adaptive per-host delay")
	rootCmd.PersistentFlags().DurationVar(&maxCrawlDelay, "max-crawl-delay", 0, "upper clamp on the adaptive per-host delay")
	rootCmd.PersistentFlags().BoolVar(&respectRobotsTxt, "respect-robots", true, "honor robots.txt (false treats every host as allow-all)")
	rootCmd.PersistentFlags().BoolVar(&logSkipped, "log-skipped", true, "write a synthetic row for robots/policy-skipped URLs instead of dropping them silently")
	rootCmd.PersistentFlags().DurationVar(&httpTimeout, "timeout", 0, "per-request timeout")
	rootCmd.PersistentFlags().Int64Var(&maxResponseBytes, "max-response-bytes", 0, "body size cap; larger responses abort as content_too_large")
	rootCmd.PersistentFlags().BoolVar(&compress, "compress", true, "send Accept-Encoding: gzip, deflate, br")
	rootCmd.PersistentFlags().StringArrayVar(&acceptContentTypes, "accept-content-type", nil, "glob gating which response content types are read (repeatable)")
	rootCmd.PersistentFlags().StringArrayVar(&rejectContentTypes, "reject-content-type", nil, "glob excluding response content types (repeatable)")
	rootCmd.PersistentFlags().IntVar(&sitemapCacheHours, "sitemap-cache-hours", 0, "how long a discovered sitemap is trusted before re-fetching")
	rootCmd.PersistentFlags().BoolVar(&updateStale, "update-stale", false, "re-crawl a URL whose sitemap lastmod is newer than its stored crawled_at")
	rootCmd.PersistentFlags().IntVar(&maxParallelPerDomain, "max-parallel-per-domain", 0, "max concurrent in-flight fetches to one host")
	rootCmd.PersistentFlags().IntVar(&maxTotalConnections, "max-total-connections", 0, "max concurrent in-flight fetches across all hosts")
	rootCmd.PersistentFlags().DurationVar(&maxRetryBackoffSeconds, "max-retry-backoff", 0, "ceiling on the Fibonacci retry backoff")
	rootCmd.PersistentFlags().IntVar(&maxAttempt, "max-attempt", 0, "attempts before a retryable error becomes a terminal row")
	rootCmd.PersistentFlags().DurationVar(&jitter, "jitter", 0, "random slack added to a re-enqueue after a lost host-slot race")
	rootCmd.PersistentFlags().Int64Var(&randomSeed, "random-seed", 0, "seed for jitter/backoff randomness (0 for current time)")
	rootCmd.PersistentFlags().DurationVar(&backoffInitial, "backoff-initial", 0, "exponential backoff initial duration stored in the config (not read by the crawl engine)")
	rootCmd.PersistentFlags().Float64Var(&backoffMultiplier, "backoff-multiplier", 0, "exponential backoff growth factor stored in the config (not read by the crawl engine)")
	rootCmd.PersistentFlags().DurationVar(&backoffMax, "backoff-max", 0, "exponential backoff ceiling stored in the config (not read by the crawl engine)")

	rootCmd.PersistentFlags().StringVar(&whereLike, "where", "", "LIKE-style glob restricting which candidate URLs are admitted")

	rootCmd.PersistentFlags().IntVar(&workerCount, "worker-count", 0, "fixed worker pool size (0: derive from max-total-connections)")
	rootCmd.PersistentFlags().IntVar(&batchSize, "batch-size", 0, "rows buffered before a batch flush")
	rootCmd.PersistentFlags().DurationVar(&flushInterval, "flush-interval", 0, "flush a partial batch after this long")
	rootCmd.PersistentFlags().DurationVar(&discoveryTimeout, "discovery-timeout", 0, "per-host sitemap walk timeout")
	rootCmd.PersistentFlags().IntVar(&discoveryParallel, "discovery-parallel", 0, "max concurrent per-host sitemap walks")
	rootCmd.PersistentFlags().DurationVar(&shutdownGrace, "shutdown-grace", 0, "grace window between a drain signal and a hard abort")

	rootCmd.AddCommand(crawlCmd, crawlSitesCmd, mergeCmd)
}

// buildConfig resolves the option set of spec §6 from --config-file (if
// set) or the flags above, the same precedence the teacher's InitConfig
// uses for its own option table.
func buildConfig() (config.Config, error) {
	if cfgFile != "" {
		return config.WithConfigFile(cfgFile)
	}

	b := config.WithDefault(userAgent)
	if defaultCrawlDelay > 0 {
		b = b.WithDefaultCrawlDelay(defaultCrawlDelay)
	}
	if minCrawlDelay > 0 || maxCrawlDelay > 0 {
		b = b.WithCrawlDelayBounds(minCrawlDelay, maxCrawlDelay)
	}
	b = b.WithRespectRobotsTxt(respectRobotsTxt).WithLogSkipped(logSkipped)
	if httpTimeout > 0 {
		b = b.WithTimeout(httpTimeout)
	}
	if maxResponseBytes > 0 {
		b = b.WithMaxResponseBytes(maxResponseBytes)
	}
	b = b.WithCompress(compress)
	if len(acceptContentTypes) > 0 {
		b = b.WithAcceptContentTypes(acceptContentTypes)
	}
	if len(rejectContentTypes) > 0 {
		b = b.WithRejectContentTypes(rejectContentTypes)
	}
	if sitemapCacheHours > 0 {
		b = b.WithSitemapCacheHours(sitemapCacheHours)
	}
	b = b.WithUpdateStale(updateStale)
	if maxParallelPerDomain > 0 {
		b = b.WithMaxParallelPerDomain(maxParallelPerDomain)
	}
	if maxTotalConnections > 0 {
		b = b.WithMaxTotalConnections(maxTotalConnections)
	}
	if maxRetryBackoffSeconds > 0 {
		b = b.WithMaxRetryBackoffSeconds(maxRetryBackoffSeconds)
	}
	if maxAttempt > 0 {
		b = b.WithMaxAttempt(maxAttempt)
	}
	if jitter > 0 {
		b = b.WithJitter(jitter)
	}
	if randomSeed != 0 {
		b = b.WithRandomSeed(randomSeed)
	}
	if backoffInitial > 0 {
		b = b.WithBackoffInitialDuration(backoffInitial)
	}
	if backoffMultiplier > 0 {
		b = b.WithBackoffMultiplier(backoffMultiplier)
	}
	if backoffMax > 0 {
		b = b.WithBackoffMaxDuration(backoffMax)
	}
	return b.Build()
}

func exitOnError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "crawlctl: %s\n", err)
	os.Exit(1)
}
