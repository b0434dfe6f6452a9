// Package engine is the orchestrator of §4.J: the bind/execute lifecycle
// that wires config, robots, discovery, scheduling, the queue, the
// worker pool, storage, and progress into one crawl run. It is the only
// package that constructs every other package's concrete types —
// everything else is reached through the narrow ports those packages
// already export.
package engine

import (
	"time"

	"github.com/gobwas/glob"

	"github.com/rohmanhakim/docs-crawler/internal/config"
)

// SourceKind distinguishes the two enqueue strategies of the Execute
// phase (§4.J).
type SourceKind int

const (
	// SourceURLs drains a literal list of URLs straight into the queue,
	// deduped by SURT key (the "crawl-into" verb).
	SourceURLs SourceKind = iota
	// SourceSites runs Discovery (§4.D) against each seed host and
	// enqueues what it finds, filtered by the URL-LIKE glob (the
	// "crawl-sites-into" verb).
	SourceSites
)

// Job is one crawl-into / crawl-sites-into invocation: a target table
// and a source of seeds. Options carries everything else (the WITH
// clause plus engine tuning), since the same Options can drive many
// Jobs against different targets.
type Job struct {
	Target string
	Kind   SourceKind
	// Seeds holds literal URLs for SourceURLs, or bare hostnames for
	// SourceSites.
	Seeds []string
	// Filter is the optional `where url LIKE ...` pushdown (§6),
	// applied to every candidate URL before admission, in both variants.
	// Nil admits everything.
	Filter glob.Glob
}

// Options is the full WITH (...) option set (§6), plus the engine-level
// tuning spec.md leaves as implicit defaults: queue watermarks, batch
// grain, and the discovery/shutdown timing constants of §4.G/§5.
type Options struct {
	Config config.Config
	DSN    string

	QueueHighWatermark int
	QueueLowWatermark  int
	BatchSize          int
	FlushInterval      time.Duration
	MinSleepOnEmpty    time.Duration
	RequeueJitter      time.Duration
	WorkerCount        int
	DiscoveryTimeout   time.Duration
	DiscoveryParallel  int
	ShutdownGrace      time.Duration
}

// WithDefaults fills every engine-tuning field Options leaves at its
// zero value with §4.G/§5's literal constants. Config and DSN are left
// untouched — the caller always supplies those explicitly.
func (o Options) WithDefaults() Options {
	if o.QueueHighWatermark == 0 {
		o.QueueHighWatermark = 10000
	}
	if o.QueueLowWatermark == 0 {
		o.QueueLowWatermark = 5000
	}
	if o.BatchSize == 0 {
		o.BatchSize = 20
	}
	if o.FlushInterval == 0 {
		o.FlushInterval = 500 * time.Millisecond
	}
	if o.MinSleepOnEmpty == 0 {
		o.MinSleepOnEmpty = 50 * time.Millisecond
	}
	if o.RequeueJitter == 0 {
		o.RequeueJitter = 50 * time.Millisecond
	}
	if o.WorkerCount == 0 {
		o.WorkerCount = o.Config.MaxTotalConnections()
	}
	if o.DiscoveryTimeout == 0 {
		o.DiscoveryTimeout = 15 * time.Second
	}
	if o.DiscoveryParallel == 0 {
		o.DiscoveryParallel = o.Config.MaxTotalConnections()
	}
	if o.ShutdownGrace == 0 {
		o.ShutdownGrace = 3 * time.Second
	}
	return o
}

// Result summarizes a finished Run, for the CLI to report.
type Result struct {
	RunID           string
	TargetTable     string
	TotalDiscovered int
	Processed       int
	Succeeded       int
	Failed          int
	Skipped         int
	Status          string
}
