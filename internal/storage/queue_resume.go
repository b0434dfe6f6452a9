package storage

import (
	"fmt"
	"net/url"
	"time"

	"github.com/rohmanhakim/docs-crawler/internal/urlmodel"
)

// parseQueueRow reconstructs a urlmodel.QueueEntry from a persisted queue
// row. A URL that no longer parses (corruption, or a manual edit of the
// database) is skipped by the caller rather than aborting the whole
// resume.
func parseQueueRow(rawURL, surtKey, host, source, lastErrorType string, enqueuedAt, earliestDueAt time.Time, attemptCount int) (urlmodel.QueueEntry, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return urlmodel.QueueEntry{}, fmt.Errorf("storage: parsing persisted queue url %q: %w", rawURL, err)
	}

	entry := urlmodel.NewQueueEntry(*u, surtKey, host, urlmodel.SourceContext(source), enqueuedAt)
	entry = entry.WithEarliestDueAt(earliestDueAt)
	if attemptCount > 0 || lastErrorType != "" {
		entry = entry.WithAttempt(attemptCount, urlmodel.ErrorType(lastErrorType))
	}
	return entry, nil
}
