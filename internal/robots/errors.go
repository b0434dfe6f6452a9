package robots

import (
	"fmt"

	"github.com/rohmanhakim/docs-crawler/internal/telemetry"
	"github.com/rohmanhakim/docs-crawler/pkg/failure"
)

type RobotsErrorCause string

const (
	ErrCauseInvalidRobotsUrl     RobotsErrorCause = "invalid robots.txt URL"
	ErrCausePreFetchFailure      RobotsErrorCause = "failed before making fetch"
	ErrCauseHttpFetchFailure     RobotsErrorCause = "failed to fetch"
	ErrCauseHttpTooManyRequests  RobotsErrorCause = "too many requests"
	ErrCauseHttpTooManyRedirects RobotsErrorCause = "too many redirects"
	ErrCauseHttpServerError      RobotsErrorCause = "http server error"
	ErrCauseHttpUnexpectedStatus RobotsErrorCause = "unexpected http status"
	ErrCauseParseError           RobotsErrorCause = "failed to parse robots.txt"
)

// RobotsError is this package's ClassifiedError. A failed robots.txt fetch
// is never fatal to the crawl of a host — per §4.D, it degrades to
// "allow all" with default_crawl_delay — so Severity mirrors Retryable
// rather than encoding a harder failure.
type RobotsError struct {
	Message   string
	Retryable bool
	Cause     RobotsErrorCause
}

func (e *RobotsError) Error() string {
	return fmt.Sprintf("robots error: %s: %s", e.Cause, e.Message)
}

func (e *RobotsError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// causeToTelemetry maps robots-local error semantics to the canonical
// telemetry.ErrorCause table. Observational only — see the ErrorCause
// doc comment in internal/telemetry/data.go — this MUST NOT be used to
// derive control-flow decisions.
func causeToTelemetry(cause RobotsErrorCause) telemetry.ErrorCause {
	switch cause {
	case ErrCauseInvalidRobotsUrl:
		return telemetry.CauseInvariantViolation
	case ErrCausePreFetchFailure:
		return telemetry.CauseUnknown
	case ErrCauseHttpFetchFailure,
		ErrCauseHttpTooManyRequests,
		ErrCauseHttpTooManyRedirects,
		ErrCauseHttpServerError,
		ErrCauseHttpUnexpectedStatus:
		return telemetry.CauseNetworkFailure
	case ErrCauseParseError:
		return telemetry.CauseContentInvalid
	default:
		return telemetry.CauseUnknown
	}
}
