package sitemap

import (
	"fmt"

	"github.com/rohmanhakim/docs-crawler/pkg/failure"
)

type ErrorCause string

const (
	ErrCauseFetchFailure     ErrorCause = "failed to fetch sitemap"
	ErrCauseParseFailure     ErrorCause = "failed to parse sitemap xml"
	ErrCauseMaxDepthExceeded ErrorCause = "sitemap recursion depth exceeded"
)

// SitemapError is this package's ClassifiedError. Per §4.D's failure
// policy a single failed child sitemap is always recoverable — the walk
// logs and skips it rather than aborting the host.
type SitemapError struct {
	SitemapURL string
	Cause      ErrorCause
	Err        error
}

func (e *SitemapError) Error() string {
	return fmt.Sprintf("sitemap %s: %s: %v", e.SitemapURL, e.Cause, e.Err)
}

func (e *SitemapError) Unwrap() error { return e.Err }

func (e *SitemapError) Severity() failure.Severity {
	return failure.SeverityRecoverable
}
