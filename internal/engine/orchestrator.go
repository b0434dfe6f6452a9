package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"

	"github.com/rohmanhakim/docs-crawler/internal/hostsched"
	"github.com/rohmanhakim/docs-crawler/internal/httpfetch"
	"github.com/rohmanhakim/docs-crawler/internal/progress"
	"github.com/rohmanhakim/docs-crawler/internal/queue"
	"github.com/rohmanhakim/docs-crawler/internal/robots"
	"github.com/rohmanhakim/docs-crawler/internal/sitemap"
	"github.com/rohmanhakim/docs-crawler/internal/sitemap/cache"
	"github.com/rohmanhakim/docs-crawler/internal/storage"
	"github.com/rohmanhakim/docs-crawler/internal/telemetry"
	"github.com/rohmanhakim/docs-crawler/internal/urlmodel"
	"github.com/rohmanhakim/docs-crawler/internal/worker"
	"github.com/rohmanhakim/docs-crawler/pkg/urlutil"
)

// Orchestrator wires every other package into one crawl run (§4.J). A
// single instance runs exactly one Job: build a fresh Orchestrator per
// crawl-into / crawl-sites-into invocation.
type Orchestrator struct {
	opts Options
	tel  *telemetry.Telemetry

	store    *storage.Store
	robot    robotsGate
	walker   *sitemap.Walker
	sched    *hostsched.Scheduler
	q        *queue.Queue
	pool     *worker.Pool
	tracker  *progress.Tracker
	token    *progress.CancellationToken
	cancel   context.CancelFunc
	appliedM sync.Mutex
	applied  map[string]bool
	admitted atomic.Int64
}

// New builds an Orchestrator bound to opts (defaults applied) and tel.
// Call Run once per Job.
func New(opts Options, tel *telemetry.Telemetry) *Orchestrator {
	if tel == nil {
		tel = telemetry.NewConsole()
	}
	return &Orchestrator{
		opts:    opts.WithDefaults(),
		tel:     tel,
		applied: make(map[string]bool),
	}
}

// RequestShutdown forwards an interrupt into the run's cancellation
// token (§4.I). Safe to call before Run starts or after it returns —
// both are no-ops.
func (o *Orchestrator) RequestShutdown() {
	if o.token != nil {
		o.token.Signal()
	}
}

// Run executes the bind and execute phases of §4.J for job and returns
// once the queue is empty and every in-flight fetch has finished, or ctx
// is cancelled by a second interrupt.
func (o *Orchestrator) Run(ctx context.Context, job Job) (Result, error) {
	if err := o.bind(ctx, job); err != nil {
		return Result{}, err
	}
	defer o.store.Close()

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	defer cancel()
	o.token = progress.NewCancellationToken(o.opts.ShutdownGrace, o.pool.Drain, cancel)

	if err := o.execute(runCtx, job); err != nil {
		o.tel.RecordError(telemetry.ErrorRecord{
			PackageName: "engine",
			Action:      "execute",
			Cause:       telemetry.CauseContentInvalid,
			ErrorString: err.Error(),
			ObservedAt:  time.Now(),
		})
	}
	o.tracker.SetTotalDiscovered(int(o.admitted.Load()))

	o.pool.Run(runCtx, o.opts.WorkerCount)
	o.waitForDrain(runCtx)
	o.pool.Wait()

	status := progress.StatusDone
	if runCtx.Err() != nil {
		status = progress.StatusCancelled
	}
	_ = o.tracker.SetStatus(context.Background(), status)

	snap := o.tracker.Snapshot()
	o.tel.RecordCrawlStats(telemetry.CrawlStats{
		TotalProcessed: snap.Processed,
		TotalSucceeded: snap.Succeeded,
		TotalFailed:    snap.Failed,
		TotalSkipped:   snap.Skipped,
		DurationMs:     time.Since(snap.StartedAt).Milliseconds(),
	})

	return Result{
		RunID:           snap.RunID,
		TargetTable:     job.Target,
		TotalDiscovered: snap.TotalDiscovered,
		Processed:       snap.Processed,
		Succeeded:       snap.Succeeded,
		Failed:          snap.Failed,
		Skipped:         snap.Skipped,
		Status:          string(status),
	}, nil
}

// bind builds every dependency and creates the schema (§4.J bind phase).
func (o *Orchestrator) bind(ctx context.Context, job Job) error {
	cfg := o.opts.Config

	store, err := storage.Open(o.opts.DSN, job.Target, o.tel)
	if err != nil {
		return fmt.Errorf("engine: open storage: %w", err)
	}
	o.store = store
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("engine: ensure schema: %w", err)
	}

	robot := robots.NewCachedRobot(o.tel, cfg.DefaultCrawlDelay())
	robot.InitWithClient(cfg.UserAgent(), nil, cache.NewMemoryCache())
	o.robot = robot

	sitemapCache := store.NewSitemapCache(time.Duration(cfg.SitemapCacheHours()) * time.Hour)
	o.walker = sitemap.NewWalker(cfg.UserAgent(), &http.Client{Timeout: o.opts.DiscoveryTimeout}, sitemapCache, o.tel)

	o.sched = hostsched.NewScheduler(hostsched.Params{
		DefaultCrawlDelay:      cfg.DefaultCrawlDelay(),
		MinCrawlDelay:          cfg.MinCrawlDelay(),
		MaxCrawlDelay:          cfg.MaxCrawlDelay(),
		MaxParallelPerDomain:   cfg.MaxParallelPerDomain(),
		MaxTotalConnections:    cfg.MaxTotalConnections(),
		MaxRetryBackoffSeconds: cfg.MaxRetryBackoffSeconds(),
	})

	o.q = queue.New(o.opts.QueueHighWatermark, o.opts.QueueLowWatermark, store)

	o.tracker = progress.NewTracker(store, o.tel, job.Target, 0)
	if err := o.tracker.Start(ctx); err != nil {
		return fmt.Errorf("engine: start progress: %w", err)
	}

	fetcher := httpfetch.NewClient(o.tel)
	o.pool = worker.New(worker.Params{
		UserAgent:          cfg.UserAgent(),
		Timeout:            cfg.Timeout(),
		MaxResponseBytes:   cfg.MaxResponseBytes(),
		Compress:           cfg.Compress(),
		AcceptContentTypes: cfg.AcceptContentTypes(),
		RejectContentTypes: cfg.RejectContentTypes(),
		BatchSize:          o.opts.BatchSize,
		FlushInterval:      o.opts.FlushInterval,
		MinSleepOnEmpty:    o.opts.MinSleepOnEmpty,
		RequeueJitter:      o.opts.RequeueJitter,
		MaxRetries:         cfg.MaxAttempt(),
		RandomSeed:         cfg.RandomSeed(),
	}, o.q, o.sched, fetcher, store, store, o.tracker, o.tel)

	return o.resumeQueue(ctx)
}

// resumeQueue replays any durable queue rows from a prior, crashed run
// back into the in-memory heap (§4.F).
func (o *Orchestrator) resumeQueue(ctx context.Context) error {
	entries, err := o.store.LoadQueue(ctx)
	if err != nil {
		return fmt.Errorf("engine: load queue: %w", err)
	}
	for _, entry := range entries {
		if err := o.q.Push(ctx, entry); err != nil {
			return fmt.Errorf("engine: resume push: %w", err)
		}
	}
	return nil
}

// execute runs the Execute phase of §4.J: admit and enqueue every seed,
// either directly (SourceURLs) or through Discovery (SourceSites).
func (o *Orchestrator) execute(ctx context.Context, job Job) error {
	switch job.Kind {
	case SourceSites:
		return o.executeSites(ctx, job)
	default:
		return o.executeURLs(ctx, job)
	}
}

func (o *Orchestrator) executeURLs(ctx context.Context, job Job) error {
	for _, raw := range job.Seeds {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.admitAndEnqueue(ctx, raw, urlmodel.SourceSeed, job.Filter)
	}
	return nil
}

// executeSites runs Discovery (§4.D) against each seed host, in
// parallel up to DiscoveryParallel, then admits every discovered entry.
func (o *Orchestrator) executeSites(ctx context.Context, job Job) error {
	sem := make(chan struct{}, o.opts.DiscoveryParallel)
	var wg sync.WaitGroup

	for _, host := range job.Seeds {
		if ctx.Err() != nil {
			break
		}
		host := host
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			o.discoverHost(ctx, host, job.Filter)
		}()
	}
	wg.Wait()
	return nil
}

// discoverHost runs one host's sitemap walk and admits what it finds.
// A failed walk is logged and skipped (§4.D failure policy), never
// fatal to the rest of the sites variant.
func (o *Orchestrator) discoverHost(ctx context.Context, host string, filter glob.Glob) {
	root := url.URL{Scheme: "https", Host: host, Path: "/"}
	decision, err := o.robot.Decide(root)
	if err != nil {
		o.recordDiscoveryError(host, err)
		return
	}
	o.applyRobotsOnce(host, decision)

	discoveryCtx, cancel := context.WithTimeout(ctx, o.opts.DiscoveryTimeout)
	defer cancel()

	entries, err := o.walker.Discover(discoveryCtx, root.Scheme, host, decision.Sitemaps, filter)
	if err != nil {
		o.recordDiscoveryError(host, err)
		return
	}

	for _, entry := range entries {
		if o.isStale(ctx, entry) {
			continue
		}
		o.admitAndEnqueue(ctx, entry.Loc, urlmodel.SourceSitemap, nil)
	}
}

// isStale applies update_stale's freshness gate (§9 Open Question,
// resolved per SPEC_FULL.md): a URL with no recorded crawl, or no
// sitemap lastmod, is always admitted. One that was already crawled is
// re-admitted only when update_stale is set and lastmod is newer than
// the stored crawled_at.
func (o *Orchestrator) isStale(ctx context.Context, entry sitemap.Entry) bool {
	if entry.LastMod == nil {
		return false
	}
	crawledAt, found, err := o.store.CrawledAt(ctx, entry.Loc)
	if err != nil || !found {
		return false
	}
	if !o.opts.Config.UpdateStale() {
		return true
	}
	return !entry.LastMod.After(crawledAt)
}

func (o *Orchestrator) recordDiscoveryError(host string, err error) {
	o.tel.RecordError(telemetry.ErrorRecord{
		PackageName: "engine",
		Action:      "discoverHost",
		Cause:       telemetry.CauseNetworkFailure,
		ErrorString: err.Error(),
		ObservedAt:  time.Now(),
		Attrs:       []telemetry.Attribute{telemetry.NewAttr("host", host)},
	})
}

// admitAndEnqueue applies §4.E's admission checks (parseable, in-scope
// host, LIKE filter, robots) before a URL ever reaches the queue; the
// worker pool itself never makes an admission decision.
func (o *Orchestrator) admitAndEnqueue(ctx context.Context, raw string, source urlmodel.SourceContext, filter glob.Glob) {
	o.admitted.Add(1)
	parsed, err := url.Parse(raw)
	if err != nil {
		o.skip(ctx, raw, "", urlmodel.ErrInvalidURL, err.Error())
		return
	}
	canonical := urlutil.Canonicalize(*parsed)
	if !urlutil.IsHTTPHost(canonical) {
		o.skip(ctx, canonical.String(), canonical.Hostname(), urlmodel.ErrInvalidURL, "not an http(s) host")
		return
	}
	if filter != nil && !filter.Match(canonical.String()) {
		return
	}

	decision, err := o.robot.Decide(canonical)
	if err != nil {
		o.skip(ctx, canonical.String(), canonical.Hostname(), urlmodel.ErrInvalidURL, err.Error())
		return
	}

	host := canonical.Hostname()
	o.applyRobotsOnce(host, decision)

	if !decision.Allowed {
		if o.opts.Config.LogSkipped() {
			o.skip(ctx, canonical.String(), host, urlmodel.ErrRobotsDisallowed, "robots.txt disallow")
		}
		return
	}

	surtKey := urlutil.SURTKey(canonical)
	entry := urlmodel.NewQueueEntry(canonical, surtKey, host, source, time.Now())
	_ = o.q.Push(ctx, entry)
}

func (o *Orchestrator) applyRobotsOnce(host string, decision robots.Decision) {
	o.appliedM.Lock()
	defer o.appliedM.Unlock()
	if o.applied[host] {
		return
	}
	o.applied[host] = true
	o.sched.ApplyRobots(host, urlmodel.RobotsRules{
		CrawlDelay: decision.CrawlDelay,
		Sitemaps:   decision.Sitemaps,
	})
}

// skip writes a synthetic terminal row directly to storage for a URL
// that never reaches the queue (§4.E: "skipped with a synthetic row...
// if log_skipped").
func (o *Orchestrator) skip(ctx context.Context, rawURL, host string, errType urlmodel.ErrorType, reason string) {
	row := urlmodel.NewSkippedRow(rawURL, rawURL, host, errType, reason, time.Now())
	if err := o.store.Flush(ctx, []urlmodel.ResultRow{row}); err != nil {
		o.tel.RecordError(telemetry.ErrorRecord{
			PackageName: "engine",
			Action:      "skip",
			Cause:       telemetry.CauseStorageFailure,
			ErrorString: err.Error(),
			ObservedAt:  time.Now(),
		})
		return
	}
	o.tracker.ObserveFlush(0, 0, 1)
}

// waitForDrain blocks until the queue is empty and no fetch is
// in-flight, or ctx is done.
func (o *Orchestrator) waitForDrain(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.q.Size() == 0 && o.tracker.Snapshot().InFlight == 0 {
				o.pool.Drain()
				return
			}
		}
	}
}
