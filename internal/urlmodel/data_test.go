package urlmodel_test

import (
	"net/url"
	"testing"
	"time"

	"github.com/rohmanhakim/docs-crawler/internal/urlmodel"
)

func mustURL(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid url %q: %v", raw, err)
	}
	return *u
}

func TestNewQueueEntry(t *testing.T) {
	u := mustURL(t, "https://example.com/a")
	now := time.Unix(1000, 0)

	entry := urlmodel.NewQueueEntry(u, "com,example)/a", "example.com", urlmodel.SourceSeed, now)

	if entry.URL != u {
		t.Errorf("URL = %v, want %v", entry.URL, u)
	}
	if entry.SurtKey != "com,example)/a" {
		t.Errorf("SurtKey = %q", entry.SurtKey)
	}
	if entry.EnqueuedAt != now || entry.EarliestDueAt != now {
		t.Errorf("expected EnqueuedAt and EarliestDueAt to both start at %v", now)
	}
	if entry.AttemptCount != 0 {
		t.Errorf("expected fresh entry to have AttemptCount 0, got %d", entry.AttemptCount)
	}
}

func TestQueueEntry_WithAttempt(t *testing.T) {
	u := mustURL(t, "https://example.com/a")
	entry := urlmodel.NewQueueEntry(u, "com,example)/a", "example.com", urlmodel.SourceCrawl, time.Unix(0, 0))

	retried := entry.WithAttempt(1, urlmodel.ErrNetworkTimeout)

	if retried.AttemptCount != 1 {
		t.Errorf("expected AttemptCount 1, got %d", retried.AttemptCount)
	}
	if retried.LastErrorType != urlmodel.ErrNetworkTimeout {
		t.Errorf("expected LastErrorType network_timeout, got %q", retried.LastErrorType)
	}
	if entry.AttemptCount != 0 {
		t.Error("expected original entry to be unmodified")
	}
}

func TestQueueEntry_WithSeqAndDueAt(t *testing.T) {
	u := mustURL(t, "https://example.com/a")
	entry := urlmodel.NewQueueEntry(u, "com,example)/a", "example.com", urlmodel.SourceSeed, time.Unix(0, 0))

	stamped := entry.WithSeq(7)
	if stamped.Seq() != 7 {
		t.Errorf("Seq() = %d, want 7", stamped.Seq())
	}

	due := time.Unix(500, 0)
	delayed := stamped.WithEarliestDueAt(due)
	if delayed.EarliestDueAt != due {
		t.Errorf("EarliestDueAt = %v, want %v", delayed.EarliestDueAt, due)
	}
}

func TestErrorType_Retryable(t *testing.T) {
	tests := []struct {
		errType ErrorTypeAlias
		want    bool
	}{
		{urlmodel.ErrNetworkTimeout, true},
		{urlmodel.ErrNetworkDNSFailure, true},
		{urlmodel.ErrNetworkConnRefused, true},
		{urlmodel.ErrHTTPServerError, true},
		{urlmodel.ErrHTTPRateLimited, true},
		{urlmodel.ErrHTTPClientTimeout, true},
		{urlmodel.ErrUnknown, true},
		{urlmodel.ErrInvalidURL, false},
		{urlmodel.ErrRobotsDisallowed, false},
		{urlmodel.ErrHTTPClientError, false},
		{urlmodel.ErrContentTooLarge, false},
		{urlmodel.ErrContentTypeRejected, false},
		{urlmodel.ErrRedirectLoop, false},
	}

	for _, tt := range tests {
		if got := tt.errType.Retryable(); got != tt.want {
			t.Errorf("%s.Retryable() = %v, want %v", tt.errType, got, tt.want)
		}
	}
}

// ErrorTypeAlias avoids repeating the package-qualified type name in the
// table above.
type ErrorTypeAlias = urlmodel.ErrorType

func TestNewHostState(t *testing.T) {
	hs := urlmodel.NewHostState("example.com", 2*time.Second)

	if hs.Host != "example.com" {
		t.Errorf("Host = %q, want example.com", hs.Host)
	}
	if hs.CrawlDelay != 2*time.Second {
		t.Errorf("CrawlDelay = %v, want 2s", hs.CrawlDelay)
	}
	if !hs.RobotsRules.AllowAll {
		t.Error("expected fresh HostState to default to allow-all until robots.txt is fetched")
	}
	if hs.RobotsFetched {
		t.Error("expected RobotsFetched to start false")
	}
	if hs.BackoffTier != 0 {
		t.Errorf("expected BackoffTier 0, got %d", hs.BackoffTier)
	}
}

func TestNewSkippedRow(t *testing.T) {
	at := time.Unix(2000, 0)
	row := urlmodel.NewSkippedRow("https://example.com/private/secret", "com,example)/private/secret", "example.com", urlmodel.ErrRobotsDisallowed, "disallowed by robots.txt", at)

	if row.HTTPStatus != -1 {
		t.Errorf("HTTPStatus = %d, want -1", row.HTTPStatus)
	}
	if row.Body != nil {
		t.Error("expected a skipped row to carry no body")
	}
	if row.ErrorType != urlmodel.ErrRobotsDisallowed {
		t.Errorf("ErrorType = %q, want robots_disallowed", row.ErrorType)
	}
	if row.CrawledAt != at {
		t.Errorf("CrawledAt = %v, want %v", row.CrawledAt, at)
	}
}
