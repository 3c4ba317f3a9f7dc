// Package pgdlq is a Postgres-backed dlq.Queue.
package pgdlq

import (
	"context"
	"database/sql"

	"eventflux/pkg/dlq"
	"eventflux/pkg/event"
	"eventflux/pkg/stream"
)

// Queue expects a schema:
//
//	CREATE TABLE dlq_entries (
//	    id TEXT PRIMARY KEY,
//	    stream_id TEXT NOT NULL,
//	    event_type TEXT NOT NULL,
//	    event_version INT NOT NULL,
//	    payload BYTEA NOT NULL,
//	    original_timestamp TIMESTAMPTZ,
//	    error_message TEXT NOT NULL,
//	    error_details TEXT,
//	    retry_count INT NOT NULL,
//	    first_failed_at TIMESTAMPTZ NOT NULL,
//	    last_failed_at TIMESTAMPTZ NOT NULL,
//	    status TEXT NOT NULL,
//	    resolved_at TIMESTAMPTZ,
//	    resolved_by TEXT,
//	    resolution_notes TEXT
//	);
type Queue struct {
	db *sql.DB
}

// New creates a Postgres-backed DLQ over db.
func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

func (q *Queue) Add(ctx context.Context, entry dlq.Entry) error {
	if entry.Status == "" {
		entry.Status = dlq.StatusPending
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO dlq_entries (id, stream_id, event_type, event_version, payload, original_timestamp,
			error_message, error_details, retry_count, first_failed_at, last_failed_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, entry.ID, string(entry.StreamID), entry.Event.Name(), entry.Event.Version, entry.Event.Payload,
		entry.OriginalTimestamp, entry.ErrorMessage, entry.ErrorDetails, entry.RetryCount,
		entry.FirstFailedAt, entry.LastFailedAt, string(entry.Status))
	return err
}

func (q *Queue) ListByStatus(ctx context.Context, status dlq.Status, page dlq.Page) ([]dlq.Entry, error) {
	query := `
		SELECT id, stream_id, event_type, event_version, payload, original_timestamp,
			error_message, error_details, retry_count, first_failed_at, last_failed_at,
			status, resolved_at, resolved_by, resolution_notes
		FROM dlq_entries WHERE status = $1 ORDER BY first_failed_at ASC OFFSET $2
	`
	args := []any{string(status), page.Offset}
	if page.Limit > 0 {
		query += " LIMIT $3"
		args = append(args, page.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []dlq.Entry
	for rows.Next() {
		var e dlq.Entry
		var streamID, status string
		var resolvedAt sql.NullTime
		var resolvedBy, resolutionNotes sql.NullString
		var errorDetails sql.NullString
		var originalTimestamp sql.NullTime

		if err := rows.Scan(&e.ID, &streamID, &e.Event.Type, &e.Event.Version, &e.Event.Payload,
			&originalTimestamp, &e.ErrorMessage, &errorDetails, &e.RetryCount,
			&e.FirstFailedAt, &e.LastFailedAt, &status, &resolvedAt, &resolvedBy, &resolutionNotes); err != nil {
			return nil, err
		}
		e.StreamID = stream.ID(streamID)
		e.Status = dlq.Status(status)
		e.ErrorDetails = errorDetails.String
		e.OriginalTimestamp = originalTimestamp.Time
		e.ResolvedBy = resolvedBy.String
		e.ResolutionNotes = resolutionNotes.String
		if resolvedAt.Valid {
			t := resolvedAt.Time
			e.ResolvedAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q *Queue) CountPending(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dlq_entries WHERE status = $1`, string(dlq.StatusPending)).Scan(&n)
	return n, err
}

func (q *Queue) MarkProcessing(ctx context.Context, id string) error {
	return q.transition(ctx, id, dlq.StatusProcessing, "", "")
}

func (q *Queue) MarkResolved(ctx context.Context, id, resolvedBy, notes string) error {
	return q.transition(ctx, id, dlq.StatusResolved, resolvedBy, notes)
}

func (q *Queue) MarkDiscarded(ctx context.Context, id, resolvedBy, notes string) error {
	return q.transition(ctx, id, dlq.StatusDiscarded, resolvedBy, notes)
}

func (q *Queue) Replay(ctx context.Context, id string, apply func(context.Context, event.Event) error) error {
	var eventType string
	var eventVersion int
	var payload []byte
	err := q.db.QueryRowContext(ctx, `SELECT event_type, event_version, payload FROM dlq_entries WHERE id = $1`, id).
		Scan(&eventType, &eventVersion, &payload)
	if err == sql.ErrNoRows {
		return dlq.ErrNotFound
	}
	if err != nil {
		return err
	}

	ev := event.NewEvent(eventType, eventVersion, payload, nil)
	if err := apply(ctx, ev); err != nil {
		return err
	}
	return q.MarkResolved(ctx, id, "replay", "replayed via dlq.Queue.Replay")
}

func (q *Queue) transition(ctx context.Context, id string, status dlq.Status, resolvedBy, notes string) error {
	var current string
	err := q.db.QueryRowContext(ctx, `SELECT status FROM dlq_entries WHERE id = $1`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return dlq.ErrNotFound
	}
	if err != nil {
		return err
	}
	if dlq.Status(current).IsTerminal() {
		return dlq.ErrTerminal
	}

	if status.IsTerminal() {
		_, err = q.db.ExecContext(ctx, `
			UPDATE dlq_entries SET status = $1, resolved_at = NOW(), resolved_by = $2, resolution_notes = $3
			WHERE id = $4
		`, string(status), resolvedBy, notes, id)
	} else {
		_, err = q.db.ExecContext(ctx, `UPDATE dlq_entries SET status = $1 WHERE id = $2`, string(status), id)
	}
	return err
}

var _ dlq.Queue = (*Queue)(nil)
