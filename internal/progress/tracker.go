package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rohmanhakim/docs-crawler/internal/telemetry"
)

// Sink is the persistence port a Tracker writes through — implemented by
// internal/storage.Store against `_crawl_progress_{target}`.
type Sink interface {
	CreateProgress(ctx context.Context, runID string, totalDiscovered int, at time.Time) error
	UpdateProgress(ctx context.Context, runID string, processed, succeeded, failed, skipped, inFlight, queueDepth int, status string, at time.Time) error
}

// Tracker is the in-memory progress row (§4.I), flushed to Sink on every
// update. It implements worker.Reporter structurally, so a worker.Pool
// can be handed one directly without this package importing worker.
type Tracker struct {
	mu   sync.Mutex
	row  Snapshot
	sink Sink
	tel  *telemetry.Telemetry
	now  func() time.Time
}

// NewTracker builds a Tracker for target, generating a fresh run ID.
func NewTracker(sink Sink, tel *telemetry.Telemetry, target string, totalDiscovered int) *Tracker {
	return &Tracker{
		row: Snapshot{
			RunID:           uuid.NewString(),
			TargetTable:     target,
			TotalDiscovered: totalDiscovered,
			Status:          StatusRunning,
		},
		sink: sink,
		tel:  tel,
		now:  time.Now,
	}
}

// Start writes the initial progress row. Call once before workers start.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	t.row.StartedAt = t.now()
	t.row.UpdatedAt = t.row.StartedAt
	runID, total, startedAt := t.row.RunID, t.row.TotalDiscovered, t.row.StartedAt
	t.mu.Unlock()

	if t.sink == nil {
		return nil
	}
	return t.sink.CreateProgress(ctx, runID, total, startedAt)
}

// RunID returns the run's identifier, for logging and resume.
func (t *Tracker) RunID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.row.RunID
}

// ObserveFlush implements worker.Reporter: a batch was just flushed,
// advance the terminal counters and persist (§4.I: "Updated on each
// batch flush").
func (t *Tracker) ObserveFlush(succeeded, failed, skipped int) {
	t.mu.Lock()
	t.row.Succeeded += succeeded
	t.row.Failed += failed
	t.row.Skipped += skipped
	t.row.Processed += succeeded + failed + skipped
	t.row.UpdatedAt = t.now()
	snapshot := t.row
	t.mu.Unlock()

	t.persist(snapshot)
}

// ObserveInFlight implements worker.Reporter: delta is +1 when a worker
// acquires a host slot and begins a fetch, -1 when it releases it.
func (t *Tracker) ObserveInFlight(delta int) {
	t.mu.Lock()
	t.row.InFlight += delta
	t.row.UpdatedAt = t.now()
	snapshot := t.row
	t.mu.Unlock()

	t.persist(snapshot)
}

// SetQueueDepth records the queue's current size, polled by the caller
// (internal/engine) since the tracker has no reference to the queue
// itself.
func (t *Tracker) SetQueueDepth(depth int) {
	t.mu.Lock()
	t.row.QueueDepth = depth
	t.row.UpdatedAt = t.now()
	snapshot := t.row
	t.mu.Unlock()

	t.persist(snapshot)
}

// SetTotalDiscovered records the number of URLs admitted during the
// Execute phase, once discovery/enqueue has finished counting them.
// total_discovered is fixed at CreateProgress time in the persisted row
// (§4.I lists it as set once, unlike the counters UpdateProgress
// advances), so this only updates the in-memory snapshot the caller
// reports through Result.
func (t *Tracker) SetTotalDiscovered(total int) {
	t.mu.Lock()
	t.row.TotalDiscovered = total
	t.row.UpdatedAt = t.now()
	t.mu.Unlock()
}

// SetStatus transitions the row's status (running -> draining -> done /
// cancelled / errored) and persists immediately.
func (t *Tracker) SetStatus(ctx context.Context, status Status) error {
	t.mu.Lock()
	t.row.Status = status
	t.row.UpdatedAt = t.now()
	snapshot := t.row
	t.mu.Unlock()

	if t.sink == nil {
		return nil
	}
	return t.sink.UpdateProgress(ctx, snapshot.RunID, snapshot.Processed, snapshot.Succeeded,
		snapshot.Failed, snapshot.Skipped, snapshot.InFlight, snapshot.QueueDepth, string(snapshot.Status), snapshot.UpdatedAt)
}

// Snapshot returns a copy of the tracked row.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.row
}

// persist is the common fire-and-log path used by the Reporter methods,
// which have no error return to propagate a write failure through.
func (t *Tracker) persist(row Snapshot) {
	if t.sink == nil {
		return
	}
	err := t.sink.UpdateProgress(context.Background(), row.RunID, row.Processed, row.Succeeded,
		row.Failed, row.Skipped, row.InFlight, row.QueueDepth, string(row.Status), row.UpdatedAt)
	if err != nil && t.tel != nil {
		t.tel.RecordError(telemetry.ErrorRecord{
			PackageName: "progress",
			Action:      "persist",
			Cause:       telemetry.CauseStorageFailure,
			ErrorString: err.Error(),
			ObservedAt:  row.UpdatedAt,
		})
	}
}
