package httpfetch

import (
	"fmt"

	"github.com/rohmanhakim/docs-crawler/internal/telemetry"
	"github.com/rohmanhakim/docs-crawler/internal/urlmodel"
	"github.com/rohmanhakim/docs-crawler/pkg/failure"
)

// FetchError is this package's ClassifiedError. Severity mirrors
// retryability: transient network/5xx/429 conditions are recoverable,
// everything else (bad content-type, terminal 4xx, redirect loops) is
// fatal to that attempt and must not be retried.
type FetchError struct {
	Message   string
	Type      ErrorType
	Retryable bool
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("httpfetch: %s: %s", e.Type, e.Message)
}

func (e *FetchError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *FetchError) IsRetryable() bool {
	return e.Retryable
}

// URLModelErrorType exposes this error's classification in the shared
// crawl-wide vocabulary, so internal/worker can decide retry/backoff
// without importing httpfetch's own ErrorType.
func (e *FetchError) URLModelErrorType() urlmodel.ErrorType {
	return toURLModelErrorType(e.Type)
}

var _ failure.ClassifiedError = (*FetchError)(nil)

// toURLModelErrorType maps this package's ErrorType onto the shared
// crawl-wide taxonomy so queue/worker retry logic has one vocabulary to
// reason about regardless of which layer produced the failure.
func toURLModelErrorType(t ErrorType) urlmodel.ErrorType {
	switch t {
	case ErrNetworkTimeout:
		return urlmodel.ErrNetworkTimeout
	case ErrNetworkDNSFailure:
		return urlmodel.ErrNetworkDNSFailure
	case ErrNetworkConnectionRefuse:
		return urlmodel.ErrNetworkConnRefused
	case ErrNetworkSSLError:
		return urlmodel.ErrNetworkSSLError
	case ErrHTTPClientError:
		return urlmodel.ErrHTTPClientError
	case ErrHTTPClientTimeout:
		return urlmodel.ErrHTTPClientTimeout
	case ErrHTTPServerError:
		return urlmodel.ErrHTTPServerError
	case ErrHTTPRateLimited:
		return urlmodel.ErrHTTPRateLimited
	case ErrContentTooLarge:
		return urlmodel.ErrContentTooLarge
	case ErrContentTypeRejected:
		return urlmodel.ErrContentTypeRejected
	case ErrRedirectLoop:
		return urlmodel.ErrRedirectLoop
	default:
		return urlmodel.ErrUnknown
	}
}

// toTelemetryCause maps this package's ErrorType onto telemetry's
// observational-only cause table. Never consult this mapping, or its
// output, to decide whether to retry — see telemetry.ErrorCause's own
// doc comment for the rule this function must not violate.
func toTelemetryCause(t ErrorType) telemetry.ErrorCause {
	switch t {
	case ErrNetworkTimeout, ErrNetworkDNSFailure, ErrNetworkConnectionRefuse, ErrNetworkSSLError:
		return telemetry.CauseNetworkFailure
	case ErrHTTPClientError, ErrHTTPClientTimeout, ErrHTTPServerError, ErrHTTPRateLimited, ErrRedirectLoop:
		return telemetry.CauseNetworkFailure
	case ErrContentTooLarge, ErrContentTypeRejected:
		return telemetry.CauseContentInvalid
	default:
		return telemetry.CauseUnknown
	}
}

func retryableFor(t ErrorType) bool {
	switch t {
	case ErrNetworkTimeout, ErrNetworkDNSFailure, ErrNetworkConnectionRefuse,
		ErrHTTPServerError, ErrHTTPRateLimited, ErrHTTPClientTimeout, ErrUnknown:
		return true
	default:
		return false
	}
}
