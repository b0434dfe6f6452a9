package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/rohmanhakim/docs-crawler/internal/urlmodel"
)

// Queue is the crawl-wide frontier of admitted URLs awaiting their due
// time, ordered by EarliestDueAt and deduplicated by SurtKey. It is safe
// for concurrent use by many producers (Discovery) and many consumers
// (the worker pool). Per §5's lock order, callers must never hold a
// Queue method call's lock while calling into hostsched or a writer —
// every method here returns before the caller does anything else.
type Queue struct {
	mu     sync.Mutex
	h      priorityHeap
	byHost map[string]*entryWrapper // surtKey -> wrapper, for dedup
	seq    uint64

	high, low int
	space     chan struct{} // closed and replaced when size drops to/under low
	closed    bool

	mirror Mirror
}

// New builds a Queue with the given high/low watermarks (§4.F). A
// watermark of zero disables backpressure (Push never blocks). mirror
// may be nil, in which case pushes and pops are not durably recorded.
func New(highWatermark, lowWatermark int, mirror Mirror) *Queue {
	if mirror == nil {
		mirror = noopMirror{}
	}
	return &Queue{
		byHost: make(map[string]*entryWrapper),
		high:   highWatermark,
		low:    lowWatermark,
		space:  make(chan struct{}),
		mirror: mirror,
	}
}

// Push admits entry into the queue. If an entry with the same SurtKey
// is already resident, the earlier of the two EarliestDueAt values wins
// and the later push is otherwise discarded (§4.F invariant: "dedup by
// surt_key, keep the earlier due-time"). If the queue is at or above its
// high watermark, Push blocks until size drops to or below the low
// watermark, or ctx is done.
func (q *Queue) Push(ctx context.Context, entry urlmodel.QueueEntry) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if q.high > 0 && len(q.h) >= q.high {
			waitCh := q.space
			q.mu.Unlock()
			select {
			case <-waitCh:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		break
	}
	defer q.mu.Unlock()

	if existing, ok := q.byHost[entry.SurtKey]; ok {
		if entry.EarliestDueAt.Before(existing.entry.EarliestDueAt) {
			existing.entry = entry.WithSeq(existing.entry.Seq())
			heap.Fix(&q.h, existing.index)
		}
		return nil
	}

	q.seq++
	entry = entry.WithSeq(q.seq)
	w := &entryWrapper{entry: entry}
	heap.Push(&q.h, w)
	q.byHost[entry.SurtKey] = w
	q.mirror.OnPush(entry)
	return nil
}

// PopDue removes and returns the earliest-due entry if it is due by now,
// without blocking. A false second result means either the queue is
// empty or its earliest entry is not yet due; the caller (the worker
// pool) decides how long to sleep before trying again.
func (q *Queue) PopDue(now time.Time) (urlmodel.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.h) == 0 {
		return urlmodel.QueueEntry{}, false
	}
	if q.h[0].entry.EarliestDueAt.After(now) {
		return urlmodel.QueueEntry{}, false
	}

	w := heap.Pop(&q.h).(*entryWrapper)
	delete(q.byHost, w.entry.SurtKey)
	q.mirror.OnPop(w.entry)
	q.signalIfBelowLowLocked()
	return w.entry, true
}

func (q *Queue) signalIfBelowLowLocked() {
	if len(q.h) > q.low {
		return
	}
	close(q.space)
	q.space = make(chan struct{})
}

// Size returns the number of entries currently resident in the queue.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// Drain removes and returns every entry still resident, regardless of
// due time, in heap order. Used at shutdown to persist whatever remains
// and at test time to inspect queue contents.
func (q *Queue) Drain() []urlmodel.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]urlmodel.QueueEntry, 0, len(q.h))
	for len(q.h) > 0 {
		w := heap.Pop(&q.h).(*entryWrapper)
		delete(q.byHost, w.entry.SurtKey)
		out = append(out, w.entry)
	}
	q.signalIfBelowLowLocked()
	return out
}

// Close marks the queue closed and releases any producers currently
// blocked in Push on backpressure; they return ErrClosed. Intended for
// orderly shutdown (§4.I cancellation).
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.space)
	q.space = make(chan struct{})
}
