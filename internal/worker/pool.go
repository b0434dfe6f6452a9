package worker

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rohmanhakim/docs-crawler/internal/hostsched"
	"github.com/rohmanhakim/docs-crawler/internal/httpfetch"
	"github.com/rohmanhakim/docs-crawler/internal/queue"
	"github.com/rohmanhakim/docs-crawler/internal/telemetry"
	"github.com/rohmanhakim/docs-crawler/internal/urlmodel"
	"github.com/rohmanhakim/docs-crawler/pkg/hashutil"
	"github.com/rohmanhakim/docs-crawler/pkg/timeutil"
)

// Fetcher is the slice of httpfetch.Client the worker pool depends on,
// narrowed for substitution in tests.
type Fetcher interface {
	Fetch(ctx context.Context, param httpfetch.FetchParam) (httpfetch.FetchResult, error)
}

// Pool is the fixed N-worker topology of §4.G. Construct one per crawl
// run; Run spawns the worker goroutines and returns immediately, Wait
// blocks until they've all exited (after a drain or a cancelled ctx).
type Pool struct {
	params   Params
	queue    *queue.Queue
	sched    *hostsched.Scheduler
	fetcher  Fetcher
	priors   PriorLookup
	sink     Sink
	reporter Reporter
	tel      *telemetry.Telemetry

	rng *rand.Rand

	batchMu   sync.Mutex
	batch     []urlmodel.ResultRow
	lastFlush time.Time

	draining boolFlag
	wg       sync.WaitGroup
}

// boolFlag is a minimal mutex-guarded flag; its zero value is "not set"
// so Pool needs no constructor step for it.
type boolFlag struct {
	mu    sync.Mutex
	value bool
}

func (f *boolFlag) set(v bool) {
	f.mu.Lock()
	f.value = v
	f.mu.Unlock()
}

func (f *boolFlag) get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// New builds a Pool. reporter may be nil.
func New(params Params, q *queue.Queue, sched *hostsched.Scheduler, fetcher Fetcher, priors PriorLookup, sink Sink, reporter Reporter, tel *telemetry.Telemetry) *Pool {
	if reporter == nil {
		reporter = noopReporter{}
	}
	return &Pool{
		params:    params,
		queue:     q,
		sched:     sched,
		fetcher:   fetcher,
		priors:    priors,
		sink:      sink,
		reporter:  reporter,
		tel:       tel,
		rng:       rand.New(rand.NewSource(params.RandomSeed)),
		lastFlush: time.Now(),
	}
}

// Run starts n worker goroutines plus a background flush-interval ticker.
// It returns immediately; call Wait to block until all workers have
// exited.
func (p *Pool) Run(ctx context.Context, n int) {
	p.wg.Add(n + 1)
	for i := 0; i < n; i++ {
		go p.workerLoop(ctx)
	}
	go p.flushTicker(ctx)
}

// Wait blocks until every worker goroutine started by Run has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Drain requests a graceful shutdown (§4.I): workers stop popping new
// work but finish any fetch already in flight, then the final batch is
// flushed. It does not cancel ctx — callers that also want in-flight
// fetches aborted (a second interrupt within 3s) should cancel the ctx
// passed to Run instead.
func (p *Pool) Drain() {
	p.draining.set(true)
}

func (p *Pool) workerLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if p.draining.get() {
			return
		}

		entry, ok := p.queue.PopDue(time.Now())
		if !ok {
			sleepUnlessDone(ctx, p.params.MinSleepOnEmpty)
			continue
		}

		if !p.sched.TryAcquire(entry.Host) {
			advanced := entry.WithEarliestDueAt(time.Now().Add(timeutil.ComputeJitter(p.params.RequeueJitter, *p.rng)))
			_ = p.queue.Push(ctx, advanced)
			continue
		}

		p.reporter.ObserveInFlight(1)
		row, requeue := p.process(ctx, entry)
		p.sched.Release(entry.Host)
		p.reporter.ObserveInFlight(-1)

		if row != nil {
			p.appendRow(ctx, *row)
		}
		if requeue != nil {
			_ = p.queue.Push(ctx, *requeue)
		}
	}
}

// process runs §4.G steps 3-6 for one admitted entry: build conditional
// headers, fetch, classify the outcome, and either produce a finished
// row or a re-enqueue candidate.
func (p *Pool) process(ctx context.Context, entry urlmodel.QueueEntry) (*urlmodel.ResultRow, *urlmodel.QueueEntry) {
	var prior PriorRow
	if p.priors != nil {
		prior, _ = p.priors.Lookup(ctx, entry.URL.String())
	}

	param := httpfetch.NewFetchParam(entry.URL, p.params.UserAgent, p.params.Timeout, p.params.MaxResponseBytes)
	param.AcceptEncoding = p.params.Compress
	param.ContentTypeAccept = p.params.AcceptContentTypes
	param.ContentTypeReject = p.params.RejectContentTypes
	if prior.Found {
		param.IfNoneMatch = prior.ETag
		param.IfModifiedSince = prior.LastModifiedAt
	}

	result, fetchErr := p.fetcher.Fetch(ctx, param)
	now := time.Now()

	if fetchErr != nil {
		return p.handleFailure(entry, result, fetchErr, now)
	}

	if result.NotModified && prior.Found {
		p.sched.RecordResult(entry.Host, hostsched.Outcome{LatencyMs: float64(result.ElapsedMs)}, now)
		row := urlmodel.ResultRow{
			URL:          entry.URL.String(),
			SurtKey:      entry.SurtKey,
			Domain:       entry.Host,
			HTTPStatus:   result.Status,
			Body:         prior.Body,
			ContentType:  prior.ContentType,
			ElapsedMs:    result.ElapsedMs,
			CrawledAt:    now,
			ETag:         firstNonEmpty(result.Headers.ETag, prior.ETag),
			LastModified: firstNonEmpty(result.Headers.LastModified, prior.LastModified),
			ContentHash:  prior.ContentHash,
		}
		return &row, nil
	}

	p.sched.RecordResult(entry.Host, hostsched.Outcome{LatencyMs: float64(result.ElapsedMs)}, now)

	var hash string
	if len(result.Body) > 0 {
		hash, _ = hashutil.HashBytes(result.Body, hashutil.HashAlgoSHA256)
	}
	row := urlmodel.ResultRow{
		URL:          result.FinalURL.String(),
		SurtKey:      entry.SurtKey,
		Domain:       entry.Host,
		HTTPStatus:   result.Status,
		Body:         result.Body,
		ContentType:  result.Headers.ContentType,
		ElapsedMs:    result.ElapsedMs,
		CrawledAt:    now,
		ETag:         result.Headers.ETag,
		LastModified: result.Headers.LastModified,
		ContentHash:  hash,
	}
	return &row, nil
}

// handleFailure applies §4.G step 8: retryable errors back off and
// re-enqueue until attempt_count exceeds max_retries, at which point a
// terminal row carries the last error_type.
func (p *Pool) handleFailure(entry urlmodel.QueueEntry, result httpfetch.FetchResult, fetchErr error, now time.Time) (*urlmodel.ResultRow, *urlmodel.QueueEntry) {
	errType := urlmodel.ErrUnknown
	var classified *httpfetch.FetchError
	if errors.As(fetchErr, &classified) {
		errType = classified.URLModelErrorType()
	}

	retryAfter := parseRetryAfter(result.Headers.RetryAfter, now)
	backoff := p.sched.RecordResult(entry.Host, hostsched.Outcome{
		LatencyMs:  float64(result.ElapsedMs),
		Failed:     true,
		RetryAfter: retryAfter,
	}, now)

	attempt := entry.AttemptCount + 1
	if errType.Retryable() && attempt <= p.params.MaxRetries {
		requeued := entry.WithAttempt(attempt, errType).WithEarliestDueAt(now.Add(backoff))
		return nil, &requeued
	}

	row := urlmodel.ResultRow{
		URL:        entry.URL.String(),
		SurtKey:    entry.SurtKey,
		Domain:     entry.Host,
		HTTPStatus: result.Status,
		ElapsedMs:  result.ElapsedMs,
		CrawledAt:  now,
		Error:      fetchErr.Error(),
		ErrorType:  errType,
	}
	return &row, nil
}

func (p *Pool) appendRow(ctx context.Context, row urlmodel.ResultRow) {
	p.batchMu.Lock()
	p.batch = append(p.batch, row)
	shouldFlush := p.params.BatchSize > 0 && len(p.batch) >= p.params.BatchSize
	var toFlush []urlmodel.ResultRow
	if shouldFlush {
		toFlush = p.batch
		p.batch = nil
		p.lastFlush = time.Now()
	}
	p.batchMu.Unlock()

	if toFlush != nil {
		p.flush(ctx, toFlush)
	}
}

func (p *Pool) flushTicker(ctx context.Context) {
	defer p.wg.Done()

	interval := p.params.FlushInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval / 5)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.flushRemainder(ctx)
			return
		case <-ticker.C:
			p.batchMu.Lock()
			due := len(p.batch) > 0 && time.Since(p.lastFlush) >= interval
			var toFlush []urlmodel.ResultRow
			if due {
				toFlush = p.batch
				p.batch = nil
				p.lastFlush = time.Now()
			}
			p.batchMu.Unlock()
			if toFlush != nil {
				p.flush(ctx, toFlush)
			}
			if p.draining.get() {
				// Workers have stopped producing rows; flush whatever
				// remains synchronously so Wait() returning guarantees
				// every admitted row has been persisted, not just the
				// ones that happened to land on a flush-interval tick.
				p.flushRemainder(ctx)
				return
			}
		}
	}
}

// flushRemainder is called once on shutdown to persist whatever partial
// batch remains (§4.I: "running workers finish their current fetch and
// flush").
func (p *Pool) flushRemainder(ctx context.Context) {
	p.batchMu.Lock()
	toFlush := p.batch
	p.batch = nil
	p.batchMu.Unlock()
	if len(toFlush) > 0 {
		p.flush(ctx, toFlush)
	}
}

func (p *Pool) flush(ctx context.Context, rows []urlmodel.ResultRow) {
	if err := p.sink.Flush(ctx, rows); err != nil {
		if p.tel != nil {
			p.tel.RecordError(telemetry.ErrorRecord{
				PackageName: "worker",
				Action:      "flush",
				Cause:       telemetry.CauseStorageFailure,
				ErrorString: err.Error(),
				ObservedAt:  time.Now(),
			})
		}
		return
	}

	succeeded, failed, skipped := 0, 0, 0
	for _, row := range rows {
		switch {
		case row.HTTPStatus == -1:
			skipped++
		case row.ErrorType != urlmodel.ErrNone:
			failed++
		default:
			succeeded++
		}
	}
	p.reporter.ObserveFlush(succeeded, failed, skipped)
}

func sleepUnlessDone(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseRetryAfter accepts either a delta-seconds or an HTTP-date
// Retry-After value (RFC 9110 §10.2.3); an unparseable or absent header
// yields zero, leaving Fibonacci backoff in sole control.
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
