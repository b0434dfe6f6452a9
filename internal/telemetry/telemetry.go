// Package telemetry is the crawler's sole observability surface: structured
// logging of fetch events, classified errors, and artifact writes. Nothing
// here may be read back by scheduling or retry logic — see the ErrorCause
// doc comment in data.go for the rule this package exists to uphold.
package telemetry

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Telemetry wraps a zerolog.Logger with the crawler's fixed event vocabulary
// so call sites never hand-build log fields for the same event twice.
type Telemetry struct {
	logger zerolog.Logger
}

// New builds a Telemetry writing structured JSON lines to w.
func New(w io.Writer) *Telemetry {
	logger := zerolog.New(w).With().Timestamp().Logger()
	return &Telemetry{logger: logger}
}

// NewConsole builds a Telemetry writing human-readable lines to stderr, for
// the cmd/crawlctl default.
func NewConsole() *Telemetry {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	logger := zerolog.New(console).With().Timestamp().Logger()
	return &Telemetry{logger: logger}
}

// RecordFetch logs a completed fetch attempt.
func (t *Telemetry) RecordFetch(event FetchEvent) {
	t.logger.Info().
		Str("url", event.URL).
		Str("host", event.Host).
		Int("http_status", event.HTTPStatus).
		Dur("duration", event.Duration).
		Str("content_type", event.ContentType).
		Int("retry_count", event.RetryCount).
		Msg("fetch")
}

// RecordError logs a classified error. cause is observational only (see
// ErrorCause) — it must never be consulted to decide whether to retry.
func (t *Telemetry) RecordError(record ErrorRecord) {
	event := t.logger.Warn().
		Str("package", record.PackageName).
		Str("action", record.Action).
		Str("cause", record.Cause.String()).
		Str("error", record.ErrorString).
		Time("observed_at", record.ObservedAt)

	for _, attr := range record.Attrs {
		event = event.Str(string(attr.Key), attr.Value)
	}
	event.Msg("error")
}

// RecordArtifact logs a row written (or updated) in the target table.
func (t *Telemetry) RecordArtifact(record ArtifactRecord) {
	t.logger.Debug().
		Str("url", record.URL).
		Str("table", record.Table).
		Bool("reused", record.Reused).
		Msg("artifact")
}

// RecordCrawlStats logs the terminal summary once, after the run drains.
func (t *Telemetry) RecordCrawlStats(stats CrawlStats) {
	t.logger.Info().
		Int("total_processed", stats.TotalProcessed).
		Int("total_succeeded", stats.TotalSucceeded).
		Int("total_failed", stats.TotalFailed).
		Int("total_skipped", stats.TotalSkipped).
		Int64("duration_ms", stats.DurationMs).
		Msg("crawl_complete")
}
