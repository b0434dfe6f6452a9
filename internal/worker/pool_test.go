package worker_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rohmanhakim/docs-crawler/internal/hostsched"
	"github.com/rohmanhakim/docs-crawler/internal/httpfetch"
	"github.com/rohmanhakim/docs-crawler/internal/queue"
	"github.com/rohmanhakim/docs-crawler/internal/urlmodel"
	"github.com/rohmanhakim/docs-crawler/internal/worker"
)

func mustURL(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return *u
}

func testParams() worker.Params {
	return worker.Params{
		UserAgent:       "test-agent",
		Timeout:         time.Second,
		BatchSize:       20,
		FlushInterval:   50 * time.Millisecond,
		MinSleepOnEmpty: 5 * time.Millisecond,
		RequeueJitter:   10 * time.Millisecond,
		MaxRetries:      2,
	}
}

type fakeFetcher struct {
	mu        sync.Mutex
	results   map[string]httpfetch.FetchResult
	errs      map[string]error
	callCount map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		results:   make(map[string]httpfetch.FetchResult),
		errs:      make(map[string]error),
		callCount: make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, param httpfetch.FetchParam) (httpfetch.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := param.URL.String()
	f.callCount[key]++
	if err, ok := f.errs[key]; ok {
		return f.results[key], err
	}
	return f.results[key], nil
}

func (f *fakeFetcher) calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount[url]
}

type fakeSink struct {
	mu   sync.Mutex
	rows []urlmodel.ResultRow
}

func (s *fakeSink) Flush(ctx context.Context, rows []urlmodel.ResultRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
	return nil
}

func (s *fakeSink) all() []urlmodel.ResultRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]urlmodel.ResultRow, len(s.rows))
	copy(out, s.rows)
	return out
}

type noPriorLookup struct{}

func (noPriorLookup) Lookup(ctx context.Context, url string) (worker.PriorRow, error) {
	return worker.PriorRow{}, nil
}

func waitForRows(t *testing.T, sink *fakeSink, n int) []urlmodel.ResultRow {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rows := sink.all(); len(rows) >= n {
			return rows
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d flushed rows, got %d", n, len(sink.all()))
	return nil
}

func TestPool_SuccessfulFetch_FlushesRow(t *testing.T) {
	q := queue.New(0, 0, nil)
	sched := hostsched.NewScheduler(hostsched.Params{DefaultCrawlDelay: time.Millisecond, MaxParallelPerDomain: 4, MaxTotalConnections: 4})
	fetcher := newFakeFetcher()
	u := mustURL(t, "http://example.com/a")
	fetcher.results[u.String()] = httpfetch.FetchResult{Status: 200, Body: []byte("hello"), FinalURL: u, Headers: httpfetch.ResponseHeaders{ContentType: "text/html"}}
	sink := &fakeSink{}

	pool := worker.New(testParams(), q, sched, fetcher, noPriorLookup{}, sink, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Run(ctx, 2)

	entry := urlmodel.NewQueueEntry(u, "com,example)/a", "example.com", urlmodel.SourceSeed, time.Now())
	if err := q.Push(ctx, entry); err != nil {
		t.Fatalf("unexpected push error: %v", err)
	}

	rows := waitForRows(t, sink, 1)
	if rows[0].HTTPStatus != 200 {
		t.Errorf("expected HTTPStatus 200, got %d", rows[0].HTTPStatus)
	}
	if rows[0].ContentHash == "" {
		t.Error("expected a content hash to be computed for a non-empty body")
	}

	pool.Drain()
	cancel()
	pool.Wait()
}

func TestPool_RetryableFailure_RequeuesUntilMaxRetries(t *testing.T) {
	q := queue.New(0, 0, nil)
	sched := hostsched.NewScheduler(hostsched.Params{DefaultCrawlDelay: time.Millisecond, MaxCrawlDelay: time.Second, MaxParallelPerDomain: 4, MaxTotalConnections: 4, MaxRetryBackoffSeconds: time.Millisecond})
	fetcher := newFakeFetcher()
	u := mustURL(t, "http://example.com/flaky")
	fetcher.errs[u.String()] = &httpfetch.FetchError{Type: httpfetch.ErrNetworkTimeout, Retryable: true, Message: "timed out"}
	sink := &fakeSink{}

	params := testParams()
	params.MaxRetries = 1

	pool := worker.New(params, q, sched, fetcher, noPriorLookup{}, sink, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Run(ctx, 1)

	entry := urlmodel.NewQueueEntry(u, "com,example)/flaky", "example.com", urlmodel.SourceSeed, time.Now())
	if err := q.Push(ctx, entry); err != nil {
		t.Fatalf("unexpected push error: %v", err)
	}

	rows := waitForRows(t, sink, 1)
	if rows[0].ErrorType != urlmodel.ErrNetworkTimeout {
		t.Errorf("expected terminal row's error_type to be network_timeout, got %q", rows[0].ErrorType)
	}
	if got := fetcher.calls(u.String()); got < 2 {
		t.Errorf("expected at least 2 fetch attempts before giving up, got %d", got)
	}

	pool.Drain()
	cancel()
	pool.Wait()
}

func TestPool_NotModified_ReusesPriorBodyAndHash(t *testing.T) {
	q := queue.New(0, 0, nil)
	sched := hostsched.NewScheduler(hostsched.Params{DefaultCrawlDelay: time.Millisecond, MaxParallelPerDomain: 4, MaxTotalConnections: 4})
	fetcher := newFakeFetcher()
	u := mustURL(t, "http://example.com/cached")
	fetcher.results[u.String()] = httpfetch.FetchResult{Status: 304, NotModified: true, FinalURL: u}
	sink := &fakeSink{}

	priors := priorLookupFunc(func(ctx context.Context, url string) (worker.PriorRow, error) {
		return worker.PriorRow{Found: true, ETag: `"abc"`, Body: []byte("cached body"), ContentHash: "deadbeef", ContentType: "text/html"}, nil
	})

	pool := worker.New(testParams(), q, sched, fetcher, priors, sink, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Run(ctx, 1)

	entry := urlmodel.NewQueueEntry(u, "com,example)/cached", "example.com", urlmodel.SourceSeed, time.Now())
	if err := q.Push(ctx, entry); err != nil {
		t.Fatalf("unexpected push error: %v", err)
	}

	rows := waitForRows(t, sink, 1)
	if string(rows[0].Body) != "cached body" {
		t.Errorf("expected reused body, got %q", rows[0].Body)
	}
	if rows[0].ContentHash != "deadbeef" {
		t.Errorf("expected reused content hash, got %q", rows[0].ContentHash)
	}

	pool.Drain()
	cancel()
	pool.Wait()
}

type priorLookupFunc func(ctx context.Context, url string) (worker.PriorRow, error)

func (f priorLookupFunc) Lookup(ctx context.Context, url string) (worker.PriorRow, error) {
	return f(ctx, url)
}

func TestPool_PerHostSlotUnavailable_RequeuesWithAdvancedDueTime(t *testing.T) {
	q := queue.New(0, 0, nil)
	sched := hostsched.NewScheduler(hostsched.Params{DefaultCrawlDelay: time.Millisecond, MaxParallelPerDomain: 1, MaxTotalConnections: 1})
	u := mustURL(t, "http://example.com/held")

	if !sched.TryAcquire("example.com") {
		t.Fatal("expected the test to acquire the only slot")
	}

	fetcher := newFakeFetcher()
	sink := &fakeSink{}
	pool := worker.New(testParams(), q, sched, fetcher, noPriorLookup{}, sink, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Run(ctx, 1)

	entry := urlmodel.NewQueueEntry(u, "com,example)/held", "example.com", urlmodel.SourceSeed, time.Now())
	if err := q.Push(ctx, entry); err != nil {
		t.Fatalf("unexpected push error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if fetcher.calls(u.String()) != 0 {
		t.Error("expected no fetch while the only host slot is held elsewhere")
	}
	if q.Size() == 0 {
		t.Error("expected the entry to have been re-inserted into the queue, not dropped")
	}

	sched.Release("example.com")
	waitForRows(t, sink, 1)

	pool.Drain()
	cancel()
	pool.Wait()
}
