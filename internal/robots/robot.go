package robots

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rohmanhakim/docs-crawler/internal/sitemap/cache"
	"github.com/rohmanhakim/docs-crawler/internal/telemetry"
)

/*
cachedRobot is the crawler's robots.txt gate.

Responsibilities:
- Fetch robots.txt per host, once per crawl run (via fetcher + cache)
- Parse and cache the resolved ruleSet for that host
- Decide allow/disallow for a given URL before it enters the queue

Robots checks occur before a URL is admitted to the work queue (§4.E).
A robots.txt fetch failure degrades to "allow all" with
defaultCrawlDelay rather than failing the crawl (§4.D failure policy).
*/
type cachedRobot struct {
	fetcher           *fetcher
	tel               *telemetry.Telemetry
	defaultCrawlDelay time.Duration

	mu       sync.Mutex
	resolved map[string]ruleSet // host -> resolved ruleSet, for this run only
}

// NewCachedRobot builds a robots gate that records errors to tel and
// degrades to allow-all with defaultCrawlDelay on fetch failure.
func NewCachedRobot(tel *telemetry.Telemetry, defaultCrawlDelay time.Duration) *cachedRobot {
	return &cachedRobot{
		tel:               tel,
		defaultCrawlDelay: defaultCrawlDelay,
		resolved:          make(map[string]ruleSet),
	}
}

// Init binds the user agent this robot checks rules against and the
// shared robots.txt cache. Must be called once before Decide.
func (r *cachedRobot) Init(userAgent string) {
	r.InitWithClient(userAgent, nil, cache.NewMemoryCache())
}

// InitWithClient is Init with an injectable HTTP client and cache, for
// tests and for sharing one cache across robots and sitemap fetches.
func (r *cachedRobot) InitWithClient(userAgent string, httpClient *http.Client, robotsCache cache.Cache) {
	r.fetcher = newFetcher(userAgent, httpClient, robotsCache)
}

// Decide checks whether u may be crawled, fetching and caching this host's
// robots.txt on first use. It never returns an error for a failed
// robots.txt fetch — per §4.D that degrades to allow-all — the error
// return is reserved for malformed input.
func (r *cachedRobot) Decide(u url.URL) (Decision, error) {
	host := u.Host

	rs, ok := r.cachedRuleSet(host)
	if !ok {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		scheme := u.Scheme
		if scheme == "" {
			scheme = "https"
		}

		result, fetchErr := r.fetcher.Fetch(ctx, scheme, host)
		if fetchErr != nil {
			r.recordFetchError(host, fetchErr)
			rs = r.allowAllRuleSet(host)
		} else {
			rs = mapResponseToRuleSet(result.Response, r.fetcher.userAgent, result.FetchedAt, result.SourceURL)
		}
		r.storeRuleSet(host, rs)
	}

	pathWithQuery := u.Path
	if u.RawQuery != "" {
		pathWithQuery += "?" + u.RawQuery
	}
	if pathWithQuery == "" {
		pathWithQuery = "/"
	}

	allowed, reason := rs.isAllowed(pathWithQuery)

	return Decision{
		Url:        u,
		Allowed:    allowed,
		Reason:     reason,
		CrawlDelay: rs.CrawlDelay(),
		Sitemaps:   rs.Sitemaps(),
	}, nil
}

func (r *cachedRobot) cachedRuleSet(host string) (ruleSet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.resolved[host]
	return rs, ok
}

func (r *cachedRobot) storeRuleSet(host string, rs ruleSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved[host] = rs
}

func (r *cachedRobot) allowAllRuleSet(host string) ruleSet {
	delay := r.defaultCrawlDelay
	return ruleSet{host: host, hasGroups: false, crawlDelay: &delay}
}

func (r *cachedRobot) recordFetchError(host string, err *RobotsError) {
	if r.tel == nil {
		return
	}
	r.tel.RecordError(telemetry.ErrorRecord{
		PackageName: "robots",
		Action:      "fetch",
		Cause:       causeToTelemetry(err.Cause),
		ErrorString: err.Error(),
		ObservedAt:  time.Now(),
		Attrs:       []telemetry.Attribute{telemetry.NewAttr(telemetry.AttrHost, host)},
	})
}
