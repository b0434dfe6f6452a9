package storage

import (
	"context"
	"fmt"
)

// sharedTableDDL creates the two tables shared across every target in the
// same database: the sitemap cache and the per-host discovery status.
// Unlike the target-scoped tables, these are named once and reused.
var sharedTableDDL = []string{
	`CREATE TABLE IF NOT EXISTS _sitemap_cache (
		key text PRIMARY KEY,
		value text NOT NULL,
		stored_at timestamp NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS _discovery_status (
		host text PRIMARY KEY,
		last_success_at timestamp,
		count_discovered integer NOT NULL DEFAULT 0,
		cursor text NOT NULL DEFAULT ''
	)`,
}

// targetTableDDL returns the per-target DDL: the result table itself plus
// its durable queue and progress tables (§4.H "Schema auto-creation").
// target has already passed ValidateIdentifier by the time this is called.
func targetTableDDL(target string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			url text PRIMARY KEY,
			surt_key text NOT NULL,
			domain text NOT NULL,
			http_status integer NOT NULL,
			body text,
			content_type text,
			elapsed_ms integer NOT NULL DEFAULT 0,
			crawled_at timestamp NOT NULL,
			error text,
			error_type text,
			etag text NOT NULL DEFAULT '',
			last_modified text NOT NULL DEFAULT '',
			content_hash text NOT NULL DEFAULT '',
			is_deleted boolean NOT NULL DEFAULT 0
		)`, target),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %q (surt_key)`,
			quoteIndexName(target, "surt_key"), target),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %q (domain, crawled_at)`,
			quoteIndexName(target, "domain_crawled_at"), target),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			surt_key text PRIMARY KEY,
			url text NOT NULL,
			host text NOT NULL,
			source text NOT NULL,
			enqueued_at timestamp NOT NULL,
			earliest_due_at timestamp NOT NULL,
			attempt_count integer NOT NULL DEFAULT 0,
			last_error_type text NOT NULL DEFAULT ''
		)`, queueTableName(target)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			run_id text PRIMARY KEY,
			target_table text NOT NULL,
			started_at timestamp NOT NULL,
			updated_at timestamp NOT NULL,
			total_discovered integer NOT NULL DEFAULT 0,
			processed integer NOT NULL DEFAULT 0,
			succeeded integer NOT NULL DEFAULT 0,
			failed integer NOT NULL DEFAULT 0,
			skipped integer NOT NULL DEFAULT 0,
			in_flight integer NOT NULL DEFAULT 0,
			queue_depth integer NOT NULL DEFAULT 0,
			status text NOT NULL
		)`, progressTableName(target)),
	}
}

func queueTableName(target string) string    { return "_crawl_queue_" + target }
func progressTableName(target string) string { return "_crawl_progress_" + target }

// quoteIndexName builds a deterministic, collision-free index name; it is
// never interpolated from caller-controlled input beyond the
// already-validated target name.
func quoteIndexName(target, suffix string) string {
	return fmt.Sprintf("idx_%s_%s", target, suffix)
}

// EnsureSchema creates every table this Store's target needs, if absent.
// Safe to call on every run start; all statements are IF NOT EXISTS.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := ValidateIdentifier(s.target); err != nil {
		return err
	}

	for _, stmt := range sharedTableDDL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &StorageError{
				Message:   err.Error(),
				Retryable: false,
				Cause:     ErrCauseSchemaFailure,
				Target:    s.target,
			}
		}
	}
	for _, stmt := range targetTableDDL(s.target) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &StorageError{
				Message:   err.Error(),
				Retryable: false,
				Cause:     ErrCauseSchemaFailure,
				Target:    s.target,
			}
		}
	}
	return nil
}
