package memdlq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventflux/pkg/dlq"
	"eventflux/pkg/event"
)

func mkEntry(id string) dlq.Entry {
	return dlq.Entry{
		ID:           id,
		Event:        event.NewEvent("Noted", 1, []byte(`{}`), nil),
		ErrorMessage: "boom",
		RetryCount:   3,
	}
}

func TestAddDefaultsToPending(t *testing.T) {
	ctx := context.Background()
	q := New()
	require.NoError(t, q.Add(ctx, mkEntry("e1")))

	n, err := q.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMarkResolvedRecordsActorAndNotes(t *testing.T) {
	ctx := context.Background()
	q := New()
	require.NoError(t, q.Add(ctx, mkEntry("e1")))

	require.NoError(t, q.MarkResolved(ctx, "e1", "alice", "schema fixed"))

	entries, err := q.ListByStatus(ctx, dlq.StatusResolved, dlq.Page{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].ResolvedBy)
	assert.Equal(t, "schema fixed", entries[0].ResolutionNotes)
	assert.NotNil(t, entries[0].ResolvedAt)

	n, err := q.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestTerminalTransitionsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	q := New()
	require.NoError(t, q.Add(ctx, mkEntry("e1")))
	require.NoError(t, q.MarkDiscarded(ctx, "e1", "bob", "stale"))

	err := q.MarkResolved(ctx, "e1", "bob", "changed my mind")
	assert.ErrorIs(t, err, dlq.ErrTerminal)
}

func TestListByStatusPagination(t *testing.T) {
	ctx := context.Background()
	q := New()
	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, q.Add(ctx, mkEntry(id)))
	}

	page1, err := q.ListByStatus(ctx, dlq.StatusPending, dlq.Page{Offset: 0, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page1, 2)

	page2, err := q.ListByStatus(ctx, dlq.StatusPending, dlq.Page{Offset: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page2, 1)
}

func TestReplayResolvesOnSuccess(t *testing.T) {
	ctx := context.Background()
	q := New()
	require.NoError(t, q.Add(ctx, mkEntry("e1")))

	var applied event.Event
	err := q.Replay(ctx, "e1", func(ctx context.Context, ev event.Event) error {
		applied = ev
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Noted", applied.Name())

	entries, err := q.ListByStatus(ctx, dlq.StatusResolved, dlq.Page{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e1", entries[0].ID)
}

func TestReplayLeavesEntryUntouchedOnFailure(t *testing.T) {
	ctx := context.Background()
	q := New()
	require.NoError(t, q.Add(ctx, mkEntry("e1")))

	err := q.Replay(ctx, "e1", func(ctx context.Context, ev event.Event) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	n, err := q.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a failed replay leaves the entry pending for a later retry")
}

var _ dlq.Queue = (*Queue)(nil)
