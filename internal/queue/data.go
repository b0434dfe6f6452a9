// Package queue implements §4.F's work queue: a thread-safe min-heap
// keyed by earliest_due_at, deduplicated by SURT key, with high/low
// watermark backpressure on producers. It is mirrored durably by the
// engine (§4.H) so a crashed run can resume from the persistent queue
// table; this package only holds the in-memory ordering structure and
// calls out to an injected Mirror at push/pop time.
package queue

import (
	"errors"

	"github.com/rohmanhakim/docs-crawler/internal/urlmodel"
)

// ErrClosed is returned by Push once the queue has been Closed.
var ErrClosed = errors.New("queue: closed")

// Mirror receives a notification on every push/pop so a caller can keep
// a durable copy in sync. Both methods must not block significantly —
// they run under the queue's lock.
type Mirror interface {
	OnPush(entry urlmodel.QueueEntry)
	OnPop(entry urlmodel.QueueEntry)
}

// noopMirror is used when no durable mirror is configured.
type noopMirror struct{}

func (noopMirror) OnPush(urlmodel.QueueEntry) {}
func (noopMirror) OnPop(urlmodel.QueueEntry)  {}

// entryWrapper is the heap element: the queue entry plus its current
// index in the heap slice, maintained by container/heap's Swap so Push
// can locate and heap.Fix an existing entry on a dedup hit.
type entryWrapper struct {
	entry urlmodel.QueueEntry
	index int
}
