package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"eventflux/pkg/event"
	"eventflux/pkg/eventstore"
	"eventflux/pkg/stream"
)

func mkEvent(name string) event.Event {
	return event.NewEvent(name, 1, []byte(`{}`), nil)
}

func TestAppendAndReplay(t *testing.T) {
	ctx := context.Background()
	s := New()
	streamID := stream.ID("s1")

	var zero stream.Version
	v, err := s.AppendEvents(ctx, streamID, &zero, []event.Event{mkEvent("A"), mkEvent("B"), mkEvent("C")})
	require.NoError(t, err)
	assert.Equal(t, stream.Version(3), v)

	events, err := s.LoadEvents(ctx, streamID, nil)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []string{"A", "B", "C"}, names(events))

	from := stream.Version(2)
	events, err = s.LoadEvents(ctx, streamID, &from)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, names(events))
}

func names(events []event.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Name()
	}
	return out
}

func TestLoadEventsAbsentStreamIsEmptyNotError(t *testing.T) {
	s := New()
	events, err := s.LoadEvents(context.Background(), "nope", nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEmptyAppendIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := New()
	v, err := s.AppendEvents(ctx, "s1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, stream.Version(0), v)
}

func TestConcurrentConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	streamID := stream.ID("s1")

	var zero stream.Version
	v, err := s.AppendEvents(ctx, streamID, &zero, []event.Event{mkEvent("A"), mkEvent("B"), mkEvent("C")})
	require.NoError(t, err)
	require.Equal(t, stream.Version(3), v)

	const n = 8
	expected := stream.Version(3)
	var wg sync.WaitGroup
	results := make([]error, n)
	versions := make([]stream.Version, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			versions[i], results[i] = s.AppendEvents(ctx, streamID, &expected, []event.Event{mkEvent("D")})
		}(i)
	}
	wg.Wait()

	var successes int
	for i := 0; i < n; i++ {
		if results[i] == nil {
			successes++
			assert.Equal(t, stream.Version(4), versions[i])
		} else {
			var conflict *eventstore.ConcurrencyConflictError
			require.ErrorAs(t, results[i], &conflict)
			assert.Equal(t, stream.Version(3), conflict.Expected)
			assert.Equal(t, stream.Version(4), conflict.Actual, "actual must equal the winning append's new version")
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent append with the same expected version succeeds")
}

func TestAppendBatchDuplicateStreamObservesPreBatchVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	var zero stream.Version
	ops := []eventstore.BatchOp{
		{StreamID: "s1", ExpectedVersion: &zero, Events: []event.Event{mkEvent("A")}},
		{StreamID: "s1", ExpectedVersion: &zero, Events: []event.Event{mkEvent("B")}},
	}
	results, err := s.AppendBatch(ctx, ops)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, stream.Version(1), results[0].Version)

	var conflict *eventstore.ConcurrencyConflictError
	require.ErrorAs(t, results[1].Err, &conflict)
	assert.Equal(t, stream.Version(0), conflict.Expected)
	assert.Equal(t, stream.Version(1), conflict.Actual)
}

func TestSnapshotLatestOnly(t *testing.T) {
	ctx := context.Background()
	s := New()
	streamID := stream.ID("s1")

	require.NoError(t, s.SaveSnapshot(ctx, eventstore.Snapshot{StreamID: streamID, Version: 5, State: []byte("v5")}))
	require.NoError(t, s.SaveSnapshot(ctx, eventstore.Snapshot{StreamID: streamID, Version: 3, State: []byte("v3")}))

	snap, err := s.LoadSnapshot(ctx, streamID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, stream.Version(5), snap.Version, "an older snapshot must not overwrite a newer one")
}

func TestLoadEventsByCorrelation(t *testing.T) {
	ctx := context.Background()
	s := New()
	meta := &event.Metadata{CorrelationID: "saga-1"}
	ev1 := event.NewEvent("E1", 1, []byte(`{}`), meta)
	var zero stream.Version
	_, err := s.AppendEvents(ctx, "a", &zero, []event.Event{ev1})
	require.NoError(t, err)

	ev2 := event.NewEvent("E2", 1, []byte(`{}`), meta)
	v1 := stream.Version(0)
	_, err = s.AppendEvents(ctx, "b", &v1, []event.Event{ev2})
	require.NoError(t, err)

	evs, err := s.LoadEventsByCorrelation(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"E1", "E2"}, names(evs))
}

// TestPropertyVersionMonotonicity exercises spec's "version monotonicity"
// invariant: appending k events to a stream at version v always yields
// v+k, strictly increasing across successive appends.
func TestPropertyVersionMonotonicity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := New()
		streamID := stream.ID("prop-stream")
		var current stream.Version

		batches := rapid.SliceOfN(rapid.IntRange(0, 5), 1, 10).Draw(t, "batches")
		for _, n := range batches {
			evs := make([]event.Event, n)
			for i := range evs {
				evs[i] = mkEvent(fmt.Sprintf("E%d", i))
			}
			expected := current
			got, err := s.AppendEvents(context.Background(), streamID, &expected, evs)
			if err != nil {
				t.Fatalf("unexpected conflict: %v", err)
			}
			if got != current.Next(n) {
				t.Fatalf("version monotonicity violated: want %d, got %d", current.Next(n), got)
			}
			current = got
		}
	})
}

// TestPropertyRoundTrip exercises the round-trip invariant: load_events
// returns exactly the appended sequence, in order.
func TestPropertyRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := New()
		streamID := stream.ID("rt-stream")
		names := rapid.SliceOfN(rapid.StringMatching(`[A-Za-z]{1,8}`), 1, 20).Draw(t, "names")

		var evs []event.Event
		for _, n := range names {
			evs = append(evs, mkEvent(n))
		}
		var zero stream.Version
		_, err := s.AppendEvents(context.Background(), streamID, &zero, evs)
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}

		loaded, err := s.LoadEvents(context.Background(), streamID, nil)
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if len(loaded) != len(names) {
			t.Fatalf("round-trip length mismatch: want %d, got %d", len(names), len(loaded))
		}
		for i, n := range names {
			if loaded[i].Name() != n {
				t.Fatalf("round-trip order mismatch at %d: want %q, got %q", i, n, loaded[i].Name())
			}
		}
	})
}

var _ eventstore.Store = (*Store)(nil)
