package hostsched

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/rohmanhakim/docs-crawler/internal/urlmodel"
	"github.com/rohmanhakim/docs-crawler/pkg/timeutil"
)

const shardCount = 32

// Scheduler is the crawl-wide per-host admission authority. It is safe
// for concurrent use by the worker pool: the Queue → HostShard → Writer
// lock order (§5) means callers must never hold a queue lock while
// calling into Scheduler.
type Scheduler struct {
	params Params
	shards [shardCount]*shard
	global chan struct{}
}

type shard struct {
	mu    sync.Mutex
	hosts map[string]*hostEntry
}

type hostEntry struct {
	state        urlmodel.HostState
	currentDelay time.Duration           // the live adaptive delay; zero until the first RecordResult
	recent       [recentWindowSize]bool  // ring of pass/fail, true = no failure
	recentN      int
	inFlightSem  chan struct{}
}

// NewScheduler builds a Scheduler bounded by params' concurrency caps.
func NewScheduler(params Params) *Scheduler {
	s := &Scheduler{
		params: params,
		global: make(chan struct{}, maxOrDefault(params.MaxTotalConnections, 32)),
	}
	for i := range s.shards {
		s.shards[i] = &shard{hosts: make(map[string]*hostEntry)}
	}
	return s
}

func maxOrDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func (s *Scheduler) shardFor(host string) *shard {
	h := fnv.New32a()
	h.Write([]byte(host))
	return s.shards[h.Sum32()%shardCount]
}

func (s *Scheduler) entry(host string) *hostEntry {
	sh := s.shardFor(host)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return s.mustLockedEntry(sh, host)
}

// ApplyRobots seeds a host's crawl delay and sitemap list from a robots.txt
// decision. Safe to call repeatedly; later calls simply update state.
func (s *Scheduler) ApplyRobots(host string, rules urlmodel.RobotsRules) {
	sh := s.shardFor(host)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e := s.mustLockedEntry(sh, host)
	e.state.RobotsRules = rules
	e.state.RobotsFetched = true
	if rules.CrawlDelay != nil {
		e.state.CrawlDelay = *rules.CrawlDelay
	}
	e.state.SitemapURLs = rules.Sitemaps
}

func (s *Scheduler) mustLockedEntry(sh *shard, host string) *hostEntry {
	e, ok := sh.hosts[host]
	if !ok {
		e = &hostEntry{
			state:       *urlmodel.NewHostState(host, s.params.DefaultCrawlDelay),
			inFlightSem: make(chan struct{}, maxOrDefault(s.params.MaxParallelPerDomain, 8)),
		}
		sh.hosts[host] = e
	}
	return e
}

// NextAllowedAt returns the earliest time a new fetch to host may begin,
// per §4.E's due-time definition: last_fetch + effective_delay(H).
func (s *Scheduler) NextAllowedAt(host string) time.Time {
	sh := s.shardFor(host)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e := s.mustLockedEntry(sh, host)
	if e.state.LastFetchMonotonic.IsZero() {
		return time.Time{}
	}
	delay := e.currentDelay
	if delay == 0 {
		delay = s.seedDelay(e)
	}
	return e.state.LastFetchMonotonic.Add(delay)
}

// seedDelay is the pre-adaptive delay (§4.E: "robots.crawl_delay if
// present else default_crawl_delay, clamped to [min, max]").
func (s *Scheduler) seedDelay(e *hostEntry) time.Duration {
	seed := e.state.CrawlDelay
	if seed <= 0 {
		seed = s.params.DefaultCrawlDelay
	}
	return clamp(seed, s.params.MinCrawlDelay, s.params.MaxCrawlDelay)
}

// adjustDelayLocked applies §4.E's adaptive rule to the host's live
// delay, given its just-updated EMA and recent-outcome window. Caller
// must hold the host's shard lock.
func (s *Scheduler) adjustDelayLocked(e *hostEntry) {
	seed := s.seedDelay(e)
	if e.currentDelay == 0 {
		e.currentDelay = seed
	}

	switch {
	case e.state.EMALatencyMs > emaHighThresholdMs:
		doubled := e.currentDelay * 2
		if s.params.MaxCrawlDelay > 0 && doubled > s.params.MaxCrawlDelay {
			doubled = s.params.MaxCrawlDelay
		}
		e.currentDelay = doubled
	case e.state.EMALatencyMs < emaLowThresholdMs && e.state.EMALatencyMs > 0 && noRecentFailures(e):
		decayed := time.Duration(float64(e.currentDelay) * decayFactor)
		if decayed < seed {
			decayed = seed
		}
		e.currentDelay = decayed
	}

	e.currentDelay = clamp(e.currentDelay, s.params.MinCrawlDelay, s.params.MaxCrawlDelay)
}

func clamp(d, min, max time.Duration) time.Duration {
	if min > 0 && d < min {
		d = min
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}

func noRecentFailures(e *hostEntry) bool {
	n := e.recentN
	if n > recentWindowSize {
		n = recentWindowSize
	}
	for i := 0; i < n; i++ {
		if !e.recent[i] {
			return false
		}
	}
	return n > 0
}

// TryAcquire attempts to reserve a global and per-host in-flight slot
// without blocking. A false result means the caller (the worker pool)
// should re-insert the entry with a slightly advanced due-time (§4.G
// step 2) rather than spin-wait.
func (s *Scheduler) TryAcquire(host string) bool {
	select {
	case s.global <- struct{}{}:
	default:
		return false
	}

	e := s.entry(host)
	select {
	case e.inFlightSem <- struct{}{}:
		sh := s.shardFor(host)
		sh.mu.Lock()
		e.state.InFlight++
		sh.mu.Unlock()
		return true
	default:
		<-s.global
		return false
	}
}

// Release frees the slots reserved by a prior successful TryAcquire.
func (s *Scheduler) Release(host string) {
	e := s.entry(host)
	select {
	case <-e.inFlightSem:
	default:
	}
	select {
	case <-s.global:
	default:
	}

	sh := s.shardFor(host)
	sh.mu.Lock()
	if e.state.InFlight > 0 {
		e.state.InFlight--
	}
	sh.mu.Unlock()
}

// RecordResult updates a host's EMA latency, recent-outcome window, and
// backoff tier, returning the backoff sleep the caller must honor before
// this host's next attempt (zero on success). now is injectable for tests.
func (s *Scheduler) RecordResult(host string, outcome Outcome, now time.Time) time.Duration {
	sh := s.shardFor(host)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e := s.mustLockedEntry(sh, host)
	e.state.LastFetchMonotonic = now

	if e.state.EMALatencyMs == 0 {
		e.state.EMALatencyMs = outcome.LatencyMs
	} else {
		e.state.EMALatencyMs = emaAlpha*outcome.LatencyMs + (1-emaAlpha)*e.state.EMALatencyMs
	}

	idx := e.recentN % recentWindowSize
	e.recent[idx] = !outcome.Failed
	e.recentN++

	s.adjustDelayLocked(e)

	if !outcome.Failed {
		e.state.ConsecutiveFailures = 0
		e.state.BackoffTier = 0
		return 0
	}

	e.state.ConsecutiveFailures++
	e.state.BackoffTier++

	fib := timeutil.FibonacciBackoff(e.state.BackoffTier, s.params.MaxRetryBackoffSeconds)
	backoff := fib
	if outcome.RetryAfter > 0 && outcome.RetryAfter < backoff {
		backoff = outcome.RetryAfter
	}
	if s.params.MaxRetryBackoffSeconds > 0 && backoff > s.params.MaxRetryBackoffSeconds {
		backoff = s.params.MaxRetryBackoffSeconds
	}
	return backoff
}

// State returns a snapshot of a host's current scheduling state, for
// inspection by the worker pool and tests.
func (s *Scheduler) State(host string) urlmodel.HostState {
	sh := s.shardFor(host)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return s.mustLockedEntry(sh, host).state
}
