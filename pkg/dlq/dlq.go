// Package dlq implements the dead-letter queue from spec §3/§4.7: a
// persistent record of events that exhausted the retry policy, with a
// monotonic status lifecycle.
package dlq

import (
	"context"
	"errors"
	"time"

	"eventflux/pkg/event"
	"eventflux/pkg/stream"
)

// Status is the DLQ entry lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusResolved   Status = "resolved"
	StatusDiscarded  Status = "discarded"
)

// IsTerminal reports whether s is a terminal status (resolved/discarded).
// Terminal statuses never transition further.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusDiscarded
}

// ErrTerminal is returned when attempting to transition an entry that is
// already resolved or discarded.
var ErrTerminal = errors.New("dlq: entry is in a terminal status")

// ErrNotFound is returned when an entry id does not exist.
var ErrNotFound = errors.New("dlq: entry not found")

// Entry is a persistent record of an event that exhausted retries.
type Entry struct {
	ID               string
	StreamID         stream.ID
	Event            event.Event
	OriginalTimestamp time.Time
	ErrorMessage     string
	ErrorDetails     string
	RetryCount       int
	FirstFailedAt    time.Time
	LastFailedAt     time.Time
	Status           Status
	ResolvedAt       *time.Time
	ResolvedBy       string
	ResolutionNotes  string
}

// Page requests a page of entries by status.
type Page struct {
	Offset int
	Limit  int // 0 means "no limit"
}

// Queue is the DLQ contract.
type Queue interface {
	// Add inserts a new entry with status pending.
	Add(ctx context.Context, entry Entry) error
	// ListByStatus returns entries with the given status, paginated.
	ListByStatus(ctx context.Context, status Status, page Page) ([]Entry, error)
	// CountPending returns the number of entries in status pending, for
	// health checks.
	CountPending(ctx context.Context) (int, error)
	// MarkProcessing transitions a pending entry to processing.
	MarkProcessing(ctx context.Context, id string) error
	// MarkResolved transitions an entry to the terminal resolved status,
	// recording the resolver and notes for audit.
	MarkResolved(ctx context.Context, id, resolvedBy, notes string) error
	// MarkDiscarded transitions an entry to the terminal discarded status.
	MarkDiscarded(ctx context.Context, id, resolvedBy, notes string) error
	// Replay re-feeds the entry's event through apply. On success the
	// entry is marked resolved; on failure it is left untouched so a
	// later replay can retry.
	Replay(ctx context.Context, id string, apply func(context.Context, event.Event) error) error
}
