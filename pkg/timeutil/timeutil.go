package timeutil

import (
	"math"
	"math/rand"
	"time"
)

// DurationPtr is a helper function to create a pointer to a time.Duration
func DurationPtr(d time.Duration) *time.Duration {
	return &d
}

// MaxDuration returns the largest of the given durations, or zero for an
// empty slice. Only this package's tests call it.
func MaxDuration(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	max := durations[0]
	for _, d := range durations[1:] {
		if d > max {
			max = d
		}
	}
	return max
}

// ComputeJitter returns a pseudo-random duration in [0, max). A zero or
// negative max disables jitter entirely.
func ComputeJitter(max time.Duration, rng rand.Rand) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(max)))
}

// ExponentialBackoffDelay computes the delay before the next retry attempt,
// doubling (per BackoffParam.Multiplier) off of InitialDuration and capping
// at MaxDuration, then adding up to `jitter` of random slack so that many
// callers retrying the same host don't wake up in lockstep.
func ExponentialBackoffDelay(attempt int, jitter time.Duration, rng rand.Rand, backoffParam BackoffParam) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	raw := float64(backoffParam.InitialDuration()) * math.Pow(backoffParam.Multiplier(), float64(attempt-1))
	delay := time.Duration(raw)

	if max := backoffParam.MaxDuration(); max > 0 && delay > max {
		delay = max
	}

	delay += ComputeJitter(jitter, rng)

	return delay
}

// fibonacciSequence caches the backoff tiers so FibonacciBackoff never has to
// recompute: host-level backoff tiers are small and bounded (see hostsched),
// so a short precomputed table is cheaper and clearer than recursion.
var fibonacciSequence = []time.Duration{
	1 * time.Second,
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
	8 * time.Second,
	13 * time.Second,
	21 * time.Second,
	34 * time.Second,
	55 * time.Second,
	89 * time.Second,
}

// FibonacciBackoff returns the delay for the given host-level backoff tier.
// Unlike ExponentialBackoffDelay (per-attempt, jittered, used by pkg/retry to
// retry a single fetch), this governs how long a whole host is set aside
// after a run of failures — a slower-growing, unjittered cadence tracked in
// internal/hostsched across fetches rather than within one.
func FibonacciBackoff(tier int, cap time.Duration) time.Duration {
	if tier < 0 {
		tier = 0
	}
	var delay time.Duration
	if tier < len(fibonacciSequence) {
		delay = fibonacciSequence[tier]
	} else {
		delay = fibonacciSequence[len(fibonacciSequence)-1]
	}
	if cap > 0 && delay > cap {
		delay = cap
	}
	return delay
}
