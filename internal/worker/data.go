// Package worker implements §4.G's worker pool: a fixed number of
// goroutines draining internal/queue, admitted through internal/hostsched,
// fetched through internal/httpfetch, and flushed in batches to a
// caller-supplied Sink. It decides retry/backoff itself (via the shared
// urlmodel.ErrorType taxonomy) but never decides whether a URL is
// in-scope — that is internal/robots' and the orchestrator's job, before
// a URL ever reaches the queue.
package worker

import (
	"context"
	"time"

	"github.com/rohmanhakim/docs-crawler/internal/urlmodel"
)

// Params is the subset of the option set (§6) the worker pool needs.
type Params struct {
	UserAgent          string
	Timeout            time.Duration
	MaxResponseBytes   int64
	Compress           bool
	AcceptContentTypes []string
	RejectContentTypes []string

	BatchSize       int           // flush once the in-memory batch reaches this size
	FlushInterval   time.Duration // flush a partial batch after this long
	MinSleepOnEmpty time.Duration // §4.G step 1: wait this long when pop_due finds nothing due
	RequeueJitter   time.Duration // §4.G step 2: up to this much slack on a re-insert after a lost slot race
	MaxRetries      int           // max_attempt; attempt_count > this writes a terminal row
	RandomSeed      int64
}

// PriorRow is what a prior crawl of this URL recorded, used to build
// conditional headers and to reuse the body on a 304.
type PriorRow struct {
	Found          bool
	ETag           string
	LastModified   string // raw header, echoed back unchanged on reuse
	LastModifiedAt time.Time
	Body           []byte
	ContentType    string
	ContentHash    string
}

// PriorLookup resolves the last-known row for a URL, if any. Implemented
// by internal/storage against the target table.
type PriorLookup interface {
	Lookup(ctx context.Context, url string) (PriorRow, error)
}

// Sink receives a flushed batch of result rows (§4.H's bulk-load path).
// Implemented by internal/storage.
type Sink interface {
	Flush(ctx context.Context, rows []urlmodel.ResultRow) error
}

// Reporter observes worker-pool activity for the progress row (§4.I). All
// methods must return promptly; Pool calls them from the hot path.
type Reporter interface {
	ObserveFlush(succeeded, failed, skipped int)
	ObserveInFlight(delta int)
}

// noopReporter is used when no Reporter is supplied.
type noopReporter struct{}

func (noopReporter) ObserveFlush(int, int, int) {}
func (noopReporter) ObserveInFlight(int)         {}
