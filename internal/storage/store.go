package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rohmanhakim/docs-crawler/internal/telemetry"
	"github.com/rohmanhakim/docs-crawler/internal/urlmodel"
	"github.com/rohmanhakim/docs-crawler/internal/worker"
)

// Store is the single SQL-backed home for one crawl target: its result
// table, durable queue mirror, progress row, and (via the shared tables)
// the sitemap cache and discovery status. One Store per target_table;
// the shared tables are safe to create repeatedly across Stores pointed
// at the same *sqlx.DB.
type Store struct {
	db     *sqlx.DB
	target string
	tel    *telemetry.Telemetry

	// writerMu serializes batch flushes and merge operations (§5): sqlite
	// allows only one writer at a time, and the spec wants flush/merge
	// treated as a single logical operation, not interleaved.
	writerMu sync.Mutex
}

// Open opens a sqlite3 database at dsn (or ":memory:") via sqlx and wraps
// it for a given target table. Callers needing a different driver
// construct the *sqlx.DB themselves and call NewStore.
func Open(dsn string, target string, tel *telemetry.Telemetry) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, &StorageError{
			Message:   err.Error(),
			Retryable: false,
			Cause:     ErrCauseConnFailure,
			Target:    target,
		}
	}
	return NewStore(db, target, tel), nil
}

// NewStore wraps an already-open *sqlx.DB. tel may be nil.
func NewStore(db *sqlx.DB, target string, tel *telemetry.Telemetry) *Store {
	return &Store{db: db, target: target, tel: tel}
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Flush implements worker.Sink: a batched upsert keyed by url (§4.H
// "Batch insert"), run as one transaction so a partial failure rolls the
// whole batch back rather than leaving half of it written.
func (s *Store) Flush(ctx context.Context, rows []urlmodel.ResultRow) error {
	if len(rows) == 0 {
		return nil
	}
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.recordAndWrap("Flush", err, ErrCauseWriteFailure)
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf(`
		INSERT INTO %q (url, surt_key, domain, http_status, body, content_type,
			elapsed_ms, crawled_at, error, error_type, etag, last_modified, content_hash, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(url) DO UPDATE SET
			surt_key = excluded.surt_key,
			domain = excluded.domain,
			http_status = excluded.http_status,
			body = excluded.body,
			content_type = excluded.content_type,
			elapsed_ms = excluded.elapsed_ms,
			crawled_at = excluded.crawled_at,
			error = excluded.error,
			error_type = excluded.error_type,
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			content_hash = excluded.content_hash,
			is_deleted = 0
	`, s.target)

	for _, row := range rows {
		dto := toDTO(row)
		if _, err := tx.ExecContext(ctx, stmt,
			dto.URL, dto.SurtKey, dto.Domain, dto.HTTPStatus, dto.Body, dto.ContentType,
			dto.ElapsedMs, dto.CrawledAt, dto.Error, dto.ErrorType, dto.ETag, dto.LastModified, dto.ContentHash,
		); err != nil {
			return s.recordAndWrap("Flush", err, ErrCauseWriteFailure)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.recordAndWrap("Flush", err, ErrCauseWriteFailure)
	}

	if s.tel != nil {
		for _, row := range rows {
			s.tel.RecordArtifact(telemetry.ArtifactRecord{
				URL:    row.URL,
				Table:  s.target,
				Reused: row.HTTPStatus == 304,
			})
		}
	}
	return nil
}

// Lookup implements worker.PriorLookup, resolving the last-known row for
// a URL so the worker can build conditional headers and reuse a 304's
// body.
func (s *Store) Lookup(ctx context.Context, url string) (worker.PriorRow, error) {
	query := fmt.Sprintf(`SELECT body, content_type, etag, last_modified, content_hash, crawled_at
		FROM %q WHERE url = ? AND is_deleted = 0`, s.target)

	var dto struct {
		Body         *string   `db:"body"`
		ContentType  string    `db:"content_type"`
		ETag         string    `db:"etag"`
		LastModified string    `db:"last_modified"`
		ContentHash  string    `db:"content_hash"`
		CrawledAt    time.Time `db:"crawled_at"`
	}
	err := s.db.GetContext(ctx, &dto, query, url)
	if errors.Is(err, sql.ErrNoRows) {
		return worker.PriorRow{}, nil
	}
	if err != nil {
		return worker.PriorRow{}, s.recordAndWrap("Lookup", err, ErrCauseWriteFailure)
	}

	var body []byte
	if dto.Body != nil {
		body = []byte(*dto.Body)
	}
	return worker.PriorRow{
		Found:          true,
		ETag:           dto.ETag,
		LastModified:   dto.LastModified,
		LastModifiedAt: lastModifiedAt(dto.LastModified, dto.CrawledAt),
		Body:           body,
		ContentType:    dto.ContentType,
		ContentHash:    dto.ContentHash,
	}, nil
}

// lastModifiedAt resolves the timestamp sent as If-Modified-Since: the
// server's own stored Last-Modified header when present and parseable,
// falling back to the row's crawled_at otherwise.
func lastModifiedAt(lastModified string, crawledAt time.Time) time.Time {
	if lastModified != "" {
		if t, err := http.ParseTime(lastModified); err == nil {
			return t
		}
	}
	return crawledAt
}

// CrawledAt returns the stored crawled_at for url, for the sites
// variant's update_stale freshness check (§9 Open Question): discovery
// never needs the rest of the row, just whether and when it was last
// crawled.
func (s *Store) CrawledAt(ctx context.Context, url string) (time.Time, bool, error) {
	query := fmt.Sprintf(`SELECT crawled_at FROM %q WHERE url = ? AND is_deleted = 0`, s.target)
	var at time.Time
	err := s.db.GetContext(ctx, &at, query, url)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, s.recordAndWrap("CrawledAt", err, ErrCauseWriteFailure)
	}
	return at, true, nil
}

// OnPush implements queue.Mirror: persist the entry into the durable
// queue table so a crashed run can be resumed by replaying it back into
// the heap. Errors are logged, not returned — Mirror has no error path,
// since a queue push can never be made to fail the in-memory push it
// mirrors.
func (s *Store) OnPush(entry urlmodel.QueueEntry) {
	stmt := fmt.Sprintf(`
		INSERT INTO %q (surt_key, url, host, source, enqueued_at, earliest_due_at, attempt_count, last_error_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(surt_key) DO UPDATE SET
			earliest_due_at = excluded.earliest_due_at,
			attempt_count = excluded.attempt_count,
			last_error_type = excluded.last_error_type
	`, queueTableName(s.target))

	_, err := s.db.Exec(stmt, entry.SurtKey, entry.URL.String(), entry.Host, string(entry.Source),
		entry.EnqueuedAt, entry.EarliestDueAt, entry.AttemptCount, string(entry.LastErrorType))
	if err != nil {
		s.recordAndWrap("OnPush", err, ErrCauseWriteFailure)
	}
}

// OnPop implements queue.Mirror: delete the persisted row once an entry
// has actually been handed to a worker (§4.F/§4.G step 7: "delete the
// corresponding persistent-queue rows").
func (s *Store) OnPop(entry urlmodel.QueueEntry) {
	stmt := fmt.Sprintf(`DELETE FROM %q WHERE surt_key = ?`, queueTableName(s.target))
	if _, err := s.db.Exec(stmt, entry.SurtKey); err != nil {
		s.recordAndWrap("OnPop", err, ErrCauseWriteFailure)
	}
}

// LoadQueue reads every persisted queue row back, for resuming a crashed
// run (§4.F). Callers push each returned entry back into a fresh
// internal/queue.Queue before starting workers.
func (s *Store) LoadQueue(ctx context.Context) ([]urlmodel.QueueEntry, error) {
	query := fmt.Sprintf(`SELECT surt_key, url, host, source, enqueued_at, earliest_due_at, attempt_count, last_error_type
		FROM %q ORDER BY earliest_due_at ASC`, queueTableName(s.target))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, s.recordAndWrap("LoadQueue", err, ErrCauseWriteFailure)
	}
	defer rows.Close()

	var out []urlmodel.QueueEntry
	for rows.Next() {
		var surtKey, rawURL, host, source, lastErrorType string
		var enqueuedAt, earliestDueAt time.Time
		var attemptCount int
		if err := rows.Scan(&surtKey, &rawURL, &host, &source, &enqueuedAt, &earliestDueAt, &attemptCount, &lastErrorType); err != nil {
			return nil, s.recordAndWrap("LoadQueue", err, ErrCauseWriteFailure)
		}
		entry, err := parseQueueRow(rawURL, surtKey, host, source, lastErrorType, enqueuedAt, earliestDueAt, attemptCount)
		if err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) recordAndWrap(action string, err error, cause StorageErrorCause) *StorageError {
	wrapped := &StorageError{
		Message:   err.Error(),
		Retryable: true,
		Cause:     cause,
		Target:    s.target,
	}
	if s.tel != nil {
		s.tel.RecordError(telemetry.ErrorRecord{
			PackageName: "storage",
			Action:      action,
			Cause:       mapStorageErrorToCause(wrapped),
			ErrorString: err.Error(),
			ObservedAt:  time.Now(),
			Attrs:       []telemetry.Attribute{telemetry.NewAttr(telemetry.AttrTable, s.target)},
		})
	}
	return wrapped
}

func toDTO(row urlmodel.ResultRow) resultRowDTO {
	var body *string
	if row.Body != nil {
		s := string(row.Body)
		body = &s
	}
	var errStr, errType *string
	if row.Error != "" {
		errStr = &row.Error
	}
	if row.ErrorType != urlmodel.ErrNone {
		v := string(row.ErrorType)
		errType = &v
	}
	return resultRowDTO{
		URL:          row.URL,
		SurtKey:      row.SurtKey,
		Domain:       row.Domain,
		HTTPStatus:   row.HTTPStatus,
		Body:         body,
		ContentType:  row.ContentType,
		ElapsedMs:    row.ElapsedMs,
		CrawledAt:    row.CrawledAt,
		Error:        errStr,
		ErrorType:    errType,
		ETag:         row.ETag,
		LastModified: row.LastModified,
		ContentHash:  row.ContentHash,
	}
}
