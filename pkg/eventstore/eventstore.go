// Package eventstore defines the durable, append-only, per-stream event
// log contract with optimistic concurrency and snapshot support (spec
// §4.1/§6). Concrete storage lives in sibling packages: memstore (in
// process) and pgstore (Postgres, adapted from the teacher's
// go-eventstore/eventstore.go).
package eventstore

import (
	"context"
	"fmt"

	"eventflux/pkg/event"
	"eventflux/pkg/stream"
)

// ConcurrencyConflictError reports that an append's expected version did
// not match the stream's actual version.
type ConcurrencyConflictError struct {
	StreamID stream.ID
	Expected stream.Version
	Actual   stream.Version
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("eventstore: concurrency conflict on %q: expected version %d, actual %d", e.StreamID, e.Expected, e.Actual)
}

// StreamNotFoundError reports that a stream has no recorded events.
// load_events never returns this (an absent stream is an empty result);
// it is reserved for operations that require an existing stream.
type StreamNotFoundError struct {
	StreamID stream.ID
}

func (e *StreamNotFoundError) Error() string {
	return fmt.Sprintf("eventstore: stream %q not found", e.StreamID)
}

// SerializationError wraps a payload that could not be serialized.
type SerializationError struct {
	Msg string
	Err error
}

func (e *SerializationError) Error() string { return "eventstore: serialization: " + e.Msg }
func (e *SerializationError) Unwrap() error { return e.Err }

// DatabaseError wraps a transport/storage failure.
type DatabaseError struct {
	Msg string
	Err error
}

func (e *DatabaseError) Error() string { return "eventstore: database: " + e.Msg }
func (e *DatabaseError) Unwrap() error { return e.Err }

// Snapshot captures aggregate state as of a specific stream version.
type Snapshot struct {
	StreamID stream.ID
	Version  stream.Version
	State    []byte
}

// BatchOp is one element of a batch append request.
type BatchOp struct {
	StreamID        stream.ID
	ExpectedVersion *stream.Version // nil means blind append
	Events          []event.Event
}

// BatchResult is the per-operation outcome of a batch append. A batch
// call fails wholesale only if the underlying transaction itself fails;
// individual concurrency conflicts are reported here without aborting
// the rest of the batch.
type BatchResult struct {
	Version stream.Version
	Err     error
}

// Store is the event store contract. Implementations must be safe for
// concurrent use by multiple Stores and projection managers.
type Store interface {
	// AppendEvents appends events atomically to streamID. If
	// expectedVersion is non-nil and does not match the stream's current
	// version, it returns *ConcurrencyConflictError without appending
	// anything. A nil expectedVersion performs a blind append (bootstrap/
	// migration only). An empty events slice is a no-op that returns the
	// current version.
	AppendEvents(ctx context.Context, streamID stream.ID, expectedVersion *stream.Version, events []event.Event) (stream.Version, error)

	// LoadEvents returns events in strictly increasing version order
	// starting at fromVersion (inclusive), or from version 1 if
	// fromVersion is nil. An absent stream returns an empty, non-error
	// result.
	LoadEvents(ctx context.Context, streamID stream.ID, fromVersion *stream.Version) ([]event.Event, error)

	// SaveSnapshot persists state as of version. The store retains at
	// least the latest snapshot per stream.
	SaveSnapshot(ctx context.Context, snap Snapshot) error

	// LoadSnapshot returns the latest snapshot for streamID, or nil if
	// none exists.
	LoadSnapshot(ctx context.Context, streamID stream.ID) (*Snapshot, error)

	// AppendBatch executes every op inside a single transaction. Per-op
	// results report concurrency conflicts without aborting the batch;
	// a wholesale transaction failure fails the entire call. Duplicate
	// stream IDs within one batch observe the pre-batch version.
	AppendBatch(ctx context.Context, ops []BatchOp) ([]BatchResult, error)
}

// CorrelationQueryable is an optional capability: stores that index
// events by correlation id (saga linkage, spec §8 scenario 6) implement
// it. Not every Store implementation needs to.
type CorrelationQueryable interface {
	LoadEventsByCorrelation(ctx context.Context, correlationID string) ([]event.Event, error)
}
