// Package progress owns the running progress row of §3/§4.I and the
// two-phase shutdown (CancellationToken) of §4.I/§8's double-interrupt
// scenario. It is the only package that understands the run's status
// enum; internal/storage persists whatever status string it is handed.
package progress

import "time"

// Status is the closed enum a progress row's status column is drawn
// from (§4.I).
type Status string

const (
	StatusRunning   Status = "running"
	StatusDraining  Status = "draining"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
	StatusErrored   Status = "errored"
)

// Snapshot is a point-in-time read of the tracked counters, for a CLI's
// progress line or a test assertion.
type Snapshot struct {
	RunID           string
	TargetTable     string
	StartedAt       time.Time
	UpdatedAt       time.Time
	TotalDiscovered int
	Processed       int
	Succeeded       int
	Failed          int
	Skipped         int
	InFlight        int
	QueueDepth      int
	Status          Status
}
