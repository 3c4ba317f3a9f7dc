// Package pgstore is a Postgres-backed eventstore.Store. It generalizes
// the teacher's go-eventstore/eventstore.go from a fixed
// aggregate_id uuid.UUID / aggregate_type shape to the core's opaque
// stream.ID and event.Event, keeping the teacher's serializable-
// transaction + lib/pq unique-violation detection + OpenTelemetry span
// style.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"

	"eventflux/pkg/event"
	"eventflux/pkg/eventstore"
	"eventflux/pkg/stream"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Store is a Postgres-backed event store. The schema expected is:
//
//	CREATE TABLE events (
//	    id BIGSERIAL PRIMARY KEY,
//	    stream_id TEXT NOT NULL,
//	    event_type TEXT NOT NULL,
//	    event_version INT NOT NULL,
//	    payload BYTEA NOT NULL,
//	    correlation_id TEXT,
//	    causation_id TEXT,
//	    actor_id TEXT,
//	    occurred_at TIMESTAMPTZ,
//	    version INT NOT NULL,
//	    UNIQUE (stream_id, version)
//	);
//	CREATE TABLE snapshots (
//	    stream_id TEXT PRIMARY KEY,
//	    version INT NOT NULL,
//	    state BYTEA NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Store struct {
	db     *sql.DB
	tracer trace.Tracer
	codec  event.Codec
}

// New creates a Postgres-backed event store over db.
func New(db *sql.DB) *Store {
	return &Store{
		db:     db,
		tracer: otel.Tracer("eventflux/eventstore/pgstore"),
		codec:  event.JSONCodec{},
	}
}

func currentVersion(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, streamID stream.ID) (stream.Version, error) {
	var v int64
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM events WHERE stream_id = $1
	`, string(streamID)).Scan(&v)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return stream.Version(v), nil
}

// AppendEvents implements eventstore.Store.
func (s *Store) AppendEvents(ctx context.Context, streamID stream.ID, expectedVersion *stream.Version, events []event.Event) (stream.Version, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("stream.id", string(streamID)),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if len(events) == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return 0, &eventstore.DatabaseError{Msg: "begin transaction", Err: err}
		}
		defer tx.Rollback()
		cur, err := currentVersion(ctx, tx, streamID)
		if err != nil {
			return 0, &eventstore.DatabaseError{Msg: "query current version", Err: err}
		}
		return cur, nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, &eventstore.DatabaseError{Msg: "begin transaction", Err: err}
	}
	defer tx.Rollback()

	current, err := currentVersion(ctx, tx, streamID)
	if err != nil {
		return 0, &eventstore.DatabaseError{Msg: "query current version", Err: err}
	}

	if expectedVersion != nil && *expectedVersion != current {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return current, &eventstore.ConcurrencyConflictError{
			StreamID: streamID,
			Expected: *expectedVersion,
			Actual:   current,
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (stream_id, event_type, event_version, payload, correlation_id, causation_id, actor_id, occurred_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return 0, &eventstore.DatabaseError{Msg: "prepare statement", Err: err}
	}
	defer stmt.Close()

	for i, e := range events {
		version := int(current) + i + 1
		var corr, caus, actor any
		var occurred any
		if e.Metadata != nil {
			corr, caus, actor = nullable(e.Metadata.CorrelationID), nullable(e.Metadata.CausationID), nullable(e.Metadata.ActorID)
			if !e.Metadata.Timestamp.IsZero() {
				occurred = e.Metadata.Timestamp
			}
		}

		if _, err := stmt.ExecContext(ctx, string(streamID), e.Name(), e.Version, e.Payload, corr, caus, actor, occurred, version); err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				// A concurrent append took this version first; report the
				// stream's version after that append as Actual.
				actual, verr := currentVersion(ctx, s.db, streamID)
				if verr != nil {
					actual = current
				}
				return actual, &eventstore.ConcurrencyConflictError{StreamID: streamID, Expected: current, Actual: actual}
			}
			return 0, &eventstore.DatabaseError{Msg: fmt.Sprintf("insert event %d", i), Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &eventstore.DatabaseError{Msg: "commit transaction", Err: err}
	}

	newVersion := current.Next(len(events))
	span.SetAttributes(attribute.Bool("append.success", true))
	return newVersion, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// LoadEvents implements eventstore.Store.
func (s *Store) LoadEvents(ctx context.Context, streamID stream.ID, fromVersion *stream.Version) ([]event.Event, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(attribute.String("stream.id", string(streamID))),
	)
	defer span.End()

	from := stream.Version(1)
	if fromVersion != nil {
		from = *fromVersion
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type, event_version, payload, correlation_id, causation_id, actor_id, occurred_at
		FROM events
		WHERE stream_id = $1 AND version >= $2
		ORDER BY version ASC
	`, string(streamID), int(from))
	if err != nil {
		return nil, &eventstore.DatabaseError{Msg: "query events", Err: err}
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var e event.Event
		var corr, caus, actor sql.NullString
		var occurred sql.NullTime
		if err := rows.Scan(&e.Type, &e.Version, &e.Payload, &corr, &caus, &actor, &occurred); err != nil {
			return nil, &eventstore.DatabaseError{Msg: "scan event", Err: err}
		}
		if corr.Valid || caus.Valid || actor.Valid || occurred.Valid {
			e.Metadata = &event.Metadata{CorrelationID: corr.String, CausationID: caus.String, ActorID: actor.String, Timestamp: occurred.Time}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &eventstore.DatabaseError{Msg: "iterate events", Err: err}
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// SaveSnapshot implements eventstore.Store, matching the teacher's
// version-guarded upsert in go-eventstore/eventstore.go.
func (s *Store) SaveSnapshot(ctx context.Context, snap eventstore.Snapshot) error {
	ctx, span := s.tracer.Start(ctx, "eventstore.save_snapshot")
	defer span.End()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (stream_id, version, state, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (stream_id) DO UPDATE
		SET version = EXCLUDED.version, state = EXCLUDED.state, created_at = EXCLUDED.created_at
		WHERE snapshots.version < EXCLUDED.version
	`, string(snap.StreamID), int(snap.Version), snap.State)
	if err != nil {
		return &eventstore.DatabaseError{Msg: "save snapshot", Err: err}
	}
	return nil
}

// LoadSnapshot implements eventstore.Store.
func (s *Store) LoadSnapshot(ctx context.Context, streamID stream.ID) (*eventstore.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.load_snapshot")
	defer span.End()

	var snap eventstore.Snapshot
	snap.StreamID = streamID
	var version int
	err := s.db.QueryRowContext(ctx, `
		SELECT version, state FROM snapshots WHERE stream_id = $1
	`, string(streamID)).Scan(&version, &snap.State)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &eventstore.DatabaseError{Msg: "load snapshot", Err: err}
	}
	snap.Version = stream.Version(version)
	return &snap, nil
}

// AppendBatch implements eventstore.Store. All ops execute inside a
// single transaction; individual concurrency conflicts are reported per
// op without aborting the rest of the batch.
func (s *Store) AppendBatch(ctx context.Context, ops []eventstore.BatchOp) ([]eventstore.BatchResult, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.append_batch",
		trace.WithAttributes(attribute.Int("batch.size", len(ops))),
	)
	defer span.End()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, &eventstore.DatabaseError{Msg: "begin transaction", Err: err}
	}
	defer tx.Rollback()

	preBatch := make(map[stream.ID]stream.Version, len(ops))
	results := make([]eventstore.BatchResult, len(ops))

	for i, op := range ops {
		current, ok := preBatch[op.StreamID]
		if !ok {
			current, err = currentVersion(ctx, tx, op.StreamID)
			if err != nil {
				return nil, &eventstore.DatabaseError{Msg: "query current version", Err: err}
			}
			preBatch[op.StreamID] = current
		}

		if op.ExpectedVersion != nil && *op.ExpectedVersion != current {
			results[i] = eventstore.BatchResult{Version: current, Err: &eventstore.ConcurrencyConflictError{
				StreamID: op.StreamID, Expected: *op.ExpectedVersion, Actual: current,
			}}
			continue
		}
		if len(op.Events) == 0 {
			results[i] = eventstore.BatchResult{Version: current}
			continue
		}

		for j, e := range op.Events {
			version := int(current) + j + 1
			var corr, caus, actor any
			if e.Metadata != nil {
				corr, caus, actor = nullable(e.Metadata.CorrelationID), nullable(e.Metadata.CausationID), nullable(e.Metadata.ActorID)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO events (stream_id, event_type, event_version, payload, correlation_id, causation_id, actor_id, version)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, string(op.StreamID), e.Name(), e.Version, e.Payload, corr, caus, actor, version); err != nil {
				return nil, &eventstore.DatabaseError{Msg: fmt.Sprintf("insert batch op %d event %d", i, j), Err: err}
			}
		}
		results[i] = eventstore.BatchResult{Version: current.Next(len(op.Events))}
	}

	if err := tx.Commit(); err != nil {
		return nil, &eventstore.DatabaseError{Msg: "commit transaction", Err: err}
	}

	return results, nil
}

var _ eventstore.Store = (*Store)(nil)
