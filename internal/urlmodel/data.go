// Package urlmodel holds the value types shared by the queue, scheduler,
// and worker pool: a queued URL, per-host state, and the error taxonomy
// attached to a terminal outcome. It contains no policy decisions of its
// own — those live in internal/robots, internal/hostsched, and
// internal/httpfetch.
package urlmodel

import (
	"net/url"
	"time"
)

// SourceContext records why a URL entered the crawl: as an operator-supplied
// seed, or discovered from a sitemap or page during the run.
type SourceContext string

const (
	SourceSeed    SourceContext = "seed"
	SourceSitemap SourceContext = "sitemap"
	SourceCrawl   SourceContext = "crawl"
)

// QueueEntry is one admitted URL waiting for (or in) a fetch attempt.
// Unique by SurtKey; the queue keeps the earlier EarliestDueAt on conflict.
type QueueEntry struct {
	URL           url.URL
	SurtKey       string
	Host          string
	Source        SourceContext
	EnqueuedAt    time.Time
	EarliestDueAt time.Time
	AttemptCount  int
	LastErrorType ErrorType
	seq           uint64 // insertion order, breaks EarliestDueAt ties
}

// NewQueueEntry builds a QueueEntry ready for its first attempt.
func NewQueueEntry(u url.URL, surtKey, host string, source SourceContext, enqueuedAt time.Time) QueueEntry {
	return QueueEntry{
		URL:           u,
		SurtKey:       surtKey,
		Host:          host,
		Source:        source,
		EnqueuedAt:    enqueuedAt,
		EarliestDueAt: enqueuedAt,
	}
}

// Seq returns the entry's insertion sequence number, used only to break
// EarliestDueAt ties deterministically in the work queue's heap order.
func (e QueueEntry) Seq() uint64 { return e.seq }

// WithSeq returns a copy of the entry stamped with the given sequence
// number. Called once by the queue at push time.
func (e QueueEntry) WithSeq(seq uint64) QueueEntry {
	e.seq = seq
	return e
}

// WithEarliestDueAt returns a copy due no earlier than t.
func (e QueueEntry) WithEarliestDueAt(t time.Time) QueueEntry {
	e.EarliestDueAt = t
	return e
}

// WithAttempt returns a copy with the attempt count and last error type
// advanced, for re-enqueuing after a retryable failure.
func (e QueueEntry) WithAttempt(count int, lastErr ErrorType) QueueEntry {
	e.AttemptCount = count
	e.LastErrorType = lastErr
	return e
}

// ErrorType is the closed taxonomy a terminal result row's error_type
// column is drawn from. Distinct from telemetry.ErrorCause: ErrorType IS
// consulted for retry/backoff decisions, ErrorCause never is.
type ErrorType string

const (
	ErrNone                    ErrorType = ""
	ErrInvalidURL              ErrorType = "invalid_url"
	ErrRobotsDisallowed        ErrorType = "robots_disallowed"
	ErrNetworkTimeout          ErrorType = "network_timeout"
	ErrNetworkDNSFailure       ErrorType = "network_dns_failure"
	ErrNetworkConnRefused      ErrorType = "network_connection_refused"
	ErrNetworkSSLError         ErrorType = "network_ssl_error"
	ErrHTTPClientError         ErrorType = "http_client_error"
	ErrHTTPServerError         ErrorType = "http_server_error"
	ErrHTTPRateLimited         ErrorType = "http_rate_limited"
	ErrHTTPClientTimeout       ErrorType = "http_client_timeout"
	ErrContentTooLarge         ErrorType = "content_too_large"
	ErrContentTypeRejected     ErrorType = "content_type_rejected"
	ErrRedirectLoop            ErrorType = "redirect_loop"
	ErrUnknown                 ErrorType = "unknown"
)

// Retryable reports whether a fresh attempt is worth scheduling for this
// error type. Terminal classifications (policy skips, malformed URLs,
// content rejections) are never retried. 408 and 425 are promoted out of
// the terminal http_client_error bucket into their own retryable type.
func (e ErrorType) Retryable() bool {
	switch e {
	case ErrNetworkTimeout, ErrNetworkDNSFailure, ErrNetworkConnRefused,
		ErrHTTPServerError, ErrHTTPRateLimited, ErrHTTPClientTimeout, ErrUnknown:
		return true
	default:
		return false
	}
}

// HostState is the engine's per-host scheduling and policy memory. It is
// created on a host's first URL, lives for the duration of one crawl run,
// and is never persisted across runs.
type HostState struct {
	Host                string
	CrawlDelay          time.Duration
	LastFetchMonotonic  time.Time
	EMALatencyMs        float64
	ConsecutiveFailures int
	BackoffTier         int
	RobotsRules         RobotsRules
	RobotsFetched       bool
	InFlight            int
	SitemapURLs         []string
}

// RobotsRules is the minimal shape HostState needs from internal/robots
// without importing it. AllowAll is the sentinel used when robots.txt could not be
// fetched or parsed.
type RobotsRules struct {
	AllowAll   bool
	CrawlDelay *time.Duration
	Sitemaps   []string
}

// NewHostState seeds a HostState with the configured default crawl delay,
// pending a robots.txt fetch.
func NewHostState(host string, defaultCrawlDelay time.Duration) *HostState {
	return &HostState{
		Host:        host,
		CrawlDelay:  defaultCrawlDelay,
		RobotsRules: RobotsRules{AllowAll: true},
	}
}

// ResultRow is one row of the target table (§6's schema): every admitted
// URL produces exactly one, holding either a successful fetch, a
// conditional-GET reuse, or a terminal policy/error outcome. Invariant:
// HTTPStatus == -1 implies Error and ErrorType are set and Body is nil;
// otherwise HTTPStatus is the status code of the final response in the
// redirect chain, or 0 for a failure where no response arrived.
type ResultRow struct {
	URL          string
	SurtKey      string
	Domain       string
	HTTPStatus   int
	Body         []byte
	ContentType  string
	ElapsedMs    int64
	CrawledAt    time.Time
	Error        string
	ErrorType    ErrorType
	ETag         string
	LastModified string
	ContentHash  string
}

// NewSkippedRow builds the synthetic row written for a policy skip
// (robots disallow) when log_skipped is enabled: http_status=-1, body
// absent, error_type set.
func NewSkippedRow(u, surtKey, domain string, errType ErrorType, reason string, at time.Time) ResultRow {
	return ResultRow{
		URL:        u,
		SurtKey:    surtKey,
		Domain:     domain,
		HTTPStatus: -1,
		Error:      reason,
		ErrorType:  errType,
		CrawledAt:  at,
	}
}
