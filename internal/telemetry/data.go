package telemetry

import "time"

// FetchEvent describes a single completed fetch attempt, recorded once the
// HTTP client and host scheduler have both already decided what happened.
type FetchEvent struct {
	URL         string
	Host        string
	HTTPStatus  int
	Duration    time.Duration
	ContentType string
	RetryCount  int
}

/*
CrawlStats is a terminal, derived summary of a completed crawl run.
  - Contains only aggregate counts and durations.
  - Is computed by the orchestrator after the run drains.
  - Is recorded exactly once.
  - Must not influence scheduling, retries, or crawl termination.
  - Must be constructed without reading telemetry state back.
*/
type CrawlStats struct {
	TotalProcessed int
	TotalSucceeded int
	TotalFailed    int
	TotalSkipped   int
	DurationMs     int64
}

// ArtifactRecord names a row written to the target table, for logging only
// (the authoritative record is the row itself).
type ArtifactRecord struct {
	URL    string
	Table  string
	Reused bool // true when a 304 reused the prior body/hash
}

/*
ErrorCause is a closed, canonical classification used exclusively for
observability (logging, metrics, reporting).

Rules:
  - ErrorCause is for observability only.
  - It must never be used to derive retry, continuation, or abort decisions.
  - Any use of telemetry.ErrorCause outside logging, metrics, or reporting is
    a design violation.
  - ErrorCause MUST NOT influence control flow.
  - ErrorCause MUST NOT be used for retry, continuation, or abort decisions.
  - ErrorCause values MUST have stable, package-agnostic semantics.
  - Pipeline packages MAY map their local errors to ErrorCause, but MUST NOT
    invent new meanings.

Non-goals:
  - ErrorCause does not encode severity.
  - ErrorCause does not imply retryability.
  - ErrorCause does not imply crawl termination.

If a failure does not clearly match a defined cause, CauseUnknown MUST be used.
*/
type ErrorCause int

const (
	CauseUnknown ErrorCause = iota
	CauseNetworkFailure
	CausePolicyDisallow
	CauseContentInvalid
	CauseStorageFailure
	CauseInvariantViolation
)

func (c ErrorCause) String() string {
	switch c {
	case CauseNetworkFailure:
		return "network_failure"
	case CausePolicyDisallow:
		return "policy_disallow"
	case CauseContentInvalid:
		return "content_invalid"
	case CauseStorageFailure:
		return "storage_failure"
	case CauseInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

type ErrorRecord struct {
	PackageName string
	Action      string
	Cause       ErrorCause
	ErrorString string
	ObservedAt  time.Time
	Attrs       []Attribute
}

type Attribute struct {
	Key   AttributeKey
	Value string
}

func NewAttr(key AttributeKey, val string) Attribute {
	return Attribute{Key: key, Value: val}
}

type AttributeKey string

const (
	AttrTime       AttributeKey = "time"
	AttrURL        AttributeKey = "url"
	AttrHost       AttributeKey = "host"
	AttrSurtKey    AttributeKey = "surt_key"
	AttrAttempt    AttributeKey = "attempt"
	AttrHTTPStatus AttributeKey = "http_status"
	AttrErrorType  AttributeKey = "error_type"
	AttrTable      AttributeKey = "table"
)
