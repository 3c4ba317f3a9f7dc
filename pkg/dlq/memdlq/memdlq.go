// Package memdlq is an in-process dlq.Queue.
package memdlq

import (
	"context"
	"sync"
	"time"

	"eventflux/pkg/dlq"
	"eventflux/pkg/event"
)

// Queue is a mutex-guarded, in-memory dlq.Queue. Entries are kept in
// insertion order so ListByStatus pagination is stable.
type Queue struct {
	mu      sync.Mutex
	order   []string
	entries map[string]dlq.Entry
}

// New returns an empty in-memory DLQ.
func New() *Queue {
	return &Queue{entries: make(map[string]dlq.Entry)}
}

func (q *Queue) Add(ctx context.Context, entry dlq.Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry.Status == "" {
		entry.Status = dlq.StatusPending
	}
	if _, exists := q.entries[entry.ID]; !exists {
		q.order = append(q.order, entry.ID)
	}
	q.entries[entry.ID] = entry
	return nil
}

func (q *Queue) ListByStatus(ctx context.Context, status dlq.Status, page dlq.Page) ([]dlq.Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var matched []dlq.Entry
	for _, id := range q.order {
		e := q.entries[id]
		if e.Status == status {
			matched = append(matched, e)
		}
	}

	if page.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[page.Offset:]
	if page.Limit > 0 && page.Limit < len(matched) {
		matched = matched[:page.Limit]
	}
	return matched, nil
}

func (q *Queue) CountPending(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if e.Status == dlq.StatusPending {
			n++
		}
	}
	return n, nil
}

func (q *Queue) MarkProcessing(ctx context.Context, id string) error {
	return q.transition(id, func(e *dlq.Entry) error {
		if e.Status.IsTerminal() {
			return dlq.ErrTerminal
		}
		e.Status = dlq.StatusProcessing
		return nil
	})
}

func (q *Queue) MarkResolved(ctx context.Context, id, resolvedBy, notes string) error {
	return q.transition(id, func(e *dlq.Entry) error {
		if e.Status.IsTerminal() {
			return dlq.ErrTerminal
		}
		now := time.Now()
		e.Status = dlq.StatusResolved
		e.ResolvedAt = &now
		e.ResolvedBy = resolvedBy
		e.ResolutionNotes = notes
		return nil
	})
}

func (q *Queue) MarkDiscarded(ctx context.Context, id, resolvedBy, notes string) error {
	return q.transition(id, func(e *dlq.Entry) error {
		if e.Status.IsTerminal() {
			return dlq.ErrTerminal
		}
		now := time.Now()
		e.Status = dlq.StatusDiscarded
		e.ResolvedAt = &now
		e.ResolvedBy = resolvedBy
		e.ResolutionNotes = notes
		return nil
	})
}

func (q *Queue) Replay(ctx context.Context, id string, apply func(context.Context, event.Event) error) error {
	q.mu.Lock()
	e, ok := q.entries[id]
	q.mu.Unlock()
	if !ok {
		return dlq.ErrNotFound
	}
	if err := apply(ctx, e.Event); err != nil {
		return err
	}
	return q.MarkResolved(ctx, id, "replay", "replayed via dlq.Queue.Replay")
}

func (q *Queue) transition(id string, fn func(*dlq.Entry) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return dlq.ErrNotFound
	}
	if err := fn(&e); err != nil {
		return err
	}
	q.entries[id] = e
	return nil
}

var _ dlq.Queue = (*Queue)(nil)
