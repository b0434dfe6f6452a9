package storage

import (
	"context"
	"fmt"

	"github.com/rohmanhakim/docs-crawler/internal/urlmodel"
)

// mergeSourceTable is a per-call temp table, scoped to the transaction's
// connection and dropped before and after use so concurrent merges on
// different targets over the same *sql.DB never collide.
func mergeSourceTable(target string) string { return "_merge_src_" + target }

// Merge applies §4.H's three-clause merge: source is the relation
// produced by the merge-into verb's source query, already shaped like
// the target table. matchedPredicateSQL is a SQL boolean expression over
// the target table's own columns (e.g. "(strftime('%s','now') -
// strftime('%s', crawled_at)) > 86400" for the spec's "age(crawled_at) >
// 24h" example) — it is a bind-time configuration knob, not row data, and
// is spliced into the UPDATE's WHERE clause as-is. The whole merge runs
// as one transaction: partial failure rolls back every clause, but never
// touches batches flushed before the merge started.
func (s *Store) Merge(ctx context.Context, source []urlmodel.ResultRow, matchedPredicateSQL string) error {
	if err := ValidateIdentifier(s.target); err != nil {
		return err
	}

	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.recordAndWrap("Merge", err, ErrCauseMergeFailure)
	}
	defer tx.Rollback()

	srcTable := mergeSourceTable(s.target)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, srcTable)); err != nil {
		return s.recordAndWrap("Merge", err, ErrCauseMergeFailure)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		CREATE TEMP TABLE %q (
			url text PRIMARY KEY, surt_key text, domain text, http_status integer, body text,
			content_type text, elapsed_ms integer, crawled_at timestamp, error text, error_type text,
			etag text, last_modified text, content_hash text
		)`, srcTable)); err != nil {
		return s.recordAndWrap("Merge", err, ErrCauseMergeFailure)
	}

	insertSrc := fmt.Sprintf(`INSERT INTO %q (url, surt_key, domain, http_status, body, content_type,
		elapsed_ms, crawled_at, error, error_type, etag, last_modified, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, srcTable)
	for _, row := range source {
		dto := toDTO(row)
		if _, err := tx.ExecContext(ctx, insertSrc,
			dto.URL, dto.SurtKey, dto.Domain, dto.HTTPStatus, dto.Body, dto.ContentType,
			dto.ElapsedMs, dto.CrawledAt, dto.Error, dto.ErrorType, dto.ETag, dto.LastModified, dto.ContentHash,
		); err != nil {
			return s.recordAndWrap("Merge", err, ErrCauseMergeFailure)
		}
	}

	// MATCHED & predicate: update target rows present in both sets that
	// satisfy the caller's predicate, evaluated against the *target* row.
	updateMatched := fmt.Sprintf(`
		UPDATE %[1]q SET
			surt_key = (SELECT surt_key FROM %[2]q src WHERE src.url = %[1]q.url),
			domain = (SELECT domain FROM %[2]q src WHERE src.url = %[1]q.url),
			http_status = (SELECT http_status FROM %[2]q src WHERE src.url = %[1]q.url),
			body = (SELECT body FROM %[2]q src WHERE src.url = %[1]q.url),
			content_type = (SELECT content_type FROM %[2]q src WHERE src.url = %[1]q.url),
			elapsed_ms = (SELECT elapsed_ms FROM %[2]q src WHERE src.url = %[1]q.url),
			crawled_at = (SELECT crawled_at FROM %[2]q src WHERE src.url = %[1]q.url),
			error = (SELECT error FROM %[2]q src WHERE src.url = %[1]q.url),
			error_type = (SELECT error_type FROM %[2]q src WHERE src.url = %[1]q.url),
			etag = (SELECT etag FROM %[2]q src WHERE src.url = %[1]q.url),
			last_modified = (SELECT last_modified FROM %[2]q src WHERE src.url = %[1]q.url),
			content_hash = (SELECT content_hash FROM %[2]q src WHERE src.url = %[1]q.url),
			is_deleted = 0
		WHERE url IN (SELECT url FROM %[2]q) AND (%[3]s)
	`, s.target, srcTable, matchedPredicateSQL)
	if _, err := tx.ExecContext(ctx, updateMatched); err != nil {
		return s.recordAndWrap("Merge", err, ErrCauseMergeFailure)
	}

	// NOT MATCHED: insert rows present only in the source.
	insertNotMatched := fmt.Sprintf(`
		INSERT INTO %[1]q (url, surt_key, domain, http_status, body, content_type,
			elapsed_ms, crawled_at, error, error_type, etag, last_modified, content_hash, is_deleted)
		SELECT url, surt_key, domain, http_status, body, content_type,
			elapsed_ms, crawled_at, error, error_type, etag, last_modified, content_hash, 0
		FROM %[2]q src WHERE src.url NOT IN (SELECT url FROM %[1]q)
	`, s.target, srcTable)
	if _, err := tx.ExecContext(ctx, insertNotMatched); err != nil {
		return s.recordAndWrap("Merge", err, ErrCauseMergeFailure)
	}

	// NOT MATCHED BY SOURCE: tombstone target rows no longer in the
	// source, never delete them outright.
	tombstone := fmt.Sprintf(`
		UPDATE %[1]q SET is_deleted = 1 WHERE url NOT IN (SELECT url FROM %[2]q)
	`, s.target, srcTable)
	if _, err := tx.ExecContext(ctx, tombstone); err != nil {
		return s.recordAndWrap("Merge", err, ErrCauseMergeFailure)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, srcTable)); err != nil {
		return s.recordAndWrap("Merge", err, ErrCauseMergeFailure)
	}

	if err := tx.Commit(); err != nil {
		return s.recordAndWrap("Merge", err, ErrCauseMergeFailure)
	}
	return nil
}
