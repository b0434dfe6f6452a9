package progress

import (
	"context"
	"sync"
	"time"
)

// CancellationToken turns repeated interrupt signals into §4.I's
// two-phase shutdown: "A single interrupt sets the shared flag ->
// status draining... A second interrupt within 3 seconds aborts
// immediately." It owns no signal.Notify wiring itself — the caller
// (cmd/crawlctl) forwards os.Signal into Signal; this keeps the
// grace-window arithmetic testable without a real process signal.
type CancellationToken struct {
	mu       sync.Mutex
	window   time.Duration
	drained  bool
	signalAt time.Time
	now      func() time.Time

	onDrain func()
	cancel  context.CancelFunc
}

// NewCancellationToken builds a token with the given grace window.
// onDrain is called on the first Signal, and again on any Signal that
// arrives after the window has elapsed (typically worker.Pool.Drain).
// cancel is called on a second Signal within window
// of the first (expected to be the context.CancelFunc for the ctx passed
// to worker.Pool.Run).
func NewCancellationToken(window time.Duration, onDrain func(), cancel context.CancelFunc) *CancellationToken {
	return &CancellationToken{
		window:  window,
		onDrain: onDrain,
		cancel:  cancel,
		now:     time.Now,
	}
}

// Signal records one interrupt. The first call begins a graceful drain;
// a second call arriving within the grace window aborts immediately. A
// second call arriving after the window is treated as a fresh first
// signal (a stuck drain gets another grace window rather than aborting
// on every subsequent signal forever).
func (c *CancellationToken) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.drained {
		c.drained = true
		c.signalAt = now
		if c.onDrain != nil {
			c.onDrain()
		}
		return
	}

	if now.Sub(c.signalAt) <= c.window {
		if c.cancel != nil {
			c.cancel()
		}
		return
	}

	c.signalAt = now
	if c.onDrain != nil {
		c.onDrain()
	}
}

// Draining reports whether the first interrupt has already fired.
func (c *CancellationToken) Draining() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drained
}
