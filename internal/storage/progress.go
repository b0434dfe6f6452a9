package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateProgress inserts the initial progress row for a new run (§4.I).
func (s *Store) CreateProgress(ctx context.Context, runID string, totalDiscovered int, at time.Time) error {
	stmt := fmt.Sprintf(`
		INSERT INTO %q (run_id, target_table, started_at, updated_at, total_discovered, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, progressTableName(s.target))
	_, err := s.db.ExecContext(ctx, stmt, runID, s.target, at, at, totalDiscovered, statusRunning)
	if err != nil {
		return s.recordAndWrap("CreateProgress", err, ErrCauseWriteFailure)
	}
	return nil
}

// UpdateProgress writes the current counters and status (§4.I).
// internal/progress.Tracker calls it on every batch flush, in-flight
// change, queue-depth update and status transition.
func (s *Store) UpdateProgress(ctx context.Context, runID string, processed, succeeded, failed, skipped, inFlight, queueDepth int, status string, at time.Time) error {
	stmt := fmt.Sprintf(`
		UPDATE %q SET updated_at = ?, processed = ?, succeeded = ?, failed = ?, skipped = ?,
			in_flight = ?, queue_depth = ?, status = ?
		WHERE run_id = ?
	`, progressTableName(s.target))
	_, err := s.db.ExecContext(ctx, stmt, at, processed, succeeded, failed, skipped, inFlight, queueDepth, status, runID)
	if err != nil {
		return s.recordAndWrap("UpdateProgress", err, ErrCauseWriteFailure)
	}
	return nil
}

// GetDiscoveryStatus returns the resume hint for host, if one exists.
func (s *Store) GetDiscoveryStatus(ctx context.Context, host string) (DiscoveryStatusRow, bool, error) {
	var row DiscoveryStatusRow
	var lastSuccessAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT host, last_success_at, count_discovered, cursor FROM _discovery_status WHERE host = ?
	`, host).Scan(&row.Host, &lastSuccessAt, &row.CountDiscovered, &row.Cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return DiscoveryStatusRow{}, false, nil
	}
	if err != nil {
		return DiscoveryStatusRow{}, false, s.recordAndWrap("GetDiscoveryStatus", err, ErrCauseWriteFailure)
	}
	if lastSuccessAt.Valid {
		row.LastSuccessAt = lastSuccessAt.Time
	}
	return row, true, nil
}

// PutDiscoveryStatus persists a fresh discovery pass's cursor and count.
func (s *Store) PutDiscoveryStatus(ctx context.Context, row DiscoveryStatusRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _discovery_status (host, last_success_at, count_discovered, cursor)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(host) DO UPDATE SET
			last_success_at = excluded.last_success_at,
			count_discovered = excluded.count_discovered,
			cursor = excluded.cursor
	`, row.Host, row.LastSuccessAt, row.CountDiscovered, row.Cursor)
	if err != nil {
		return s.recordAndWrap("PutDiscoveryStatus", err, ErrCauseWriteFailure)
	}
	return nil
}
