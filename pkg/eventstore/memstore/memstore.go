// Package memstore is an in-process eventstore.Store, used by the
// runtime's own tests and by callers that don't need durability. Grounded
// on the in-memory event store shape common across other_examples (e.g.
// szks-repo/event-store-adapter-go's on-memory store) generalized to the
// core's opaque stream.ID and event.Event.
package memstore

import (
	"context"
	"sync"

	"eventflux/pkg/event"
	"eventflux/pkg/eventstore"
	"eventflux/pkg/stream"
)

type streamLog struct {
	events []event.Event
}

// Store is a mutex-guarded, in-memory implementation of eventstore.Store.
type Store struct {
	mu        sync.Mutex
	streams   map[stream.ID]*streamLog
	snapshots map[stream.ID]eventstore.Snapshot
	byCorrel  map[string][]event.Event
}

// New returns an empty in-memory event store.
func New() *Store {
	return &Store{
		streams:   make(map[stream.ID]*streamLog),
		snapshots: make(map[stream.ID]eventstore.Snapshot),
		byCorrel:  make(map[string][]event.Event),
	}
}

func (s *Store) currentVersionLocked(id stream.ID) stream.Version {
	log, ok := s.streams[id]
	if !ok {
		return 0
	}
	return stream.Version(len(log.events))
}

// AppendEvents implements eventstore.Store.
func (s *Store) AppendEvents(ctx context.Context, streamID stream.ID, expectedVersion *stream.Version, events []event.Event) (stream.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.currentVersionLocked(streamID)
	if expectedVersion != nil && *expectedVersion != current {
		return current, &eventstore.ConcurrencyConflictError{
			StreamID: streamID,
			Expected: *expectedVersion,
			Actual:   current,
		}
	}
	if len(events) == 0 {
		return current, nil
	}

	log, ok := s.streams[streamID]
	if !ok {
		log = &streamLog{}
		s.streams[streamID] = log
	}
	log.events = append(log.events, events...)
	s.indexCorrelationLocked(events)

	return stream.Version(len(log.events)), nil
}

func (s *Store) indexCorrelationLocked(events []event.Event) {
	for _, e := range events {
		if e.Metadata == nil || e.Metadata.CorrelationID == "" {
			continue
		}
		s.byCorrel[e.Metadata.CorrelationID] = append(s.byCorrel[e.Metadata.CorrelationID], e)
	}
}

// LoadEvents implements eventstore.Store.
func (s *Store) LoadEvents(ctx context.Context, streamID stream.ID, fromVersion *stream.Version) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.streams[streamID]
	if !ok {
		return nil, nil
	}

	from := stream.Version(1)
	if fromVersion != nil {
		from = *fromVersion
	}
	if from < 1 {
		from = 1
	}
	if int(from) > len(log.events) {
		return nil, nil
	}

	out := make([]event.Event, len(log.events)-int(from)+1)
	copy(out, log.events[from-1:])
	return out, nil
}

// SaveSnapshot implements eventstore.Store.
func (s *Store) SaveSnapshot(ctx context.Context, snap eventstore.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.snapshots[snap.StreamID]
	if ok && existing.Version >= snap.Version {
		return nil
	}
	s.snapshots[snap.StreamID] = snap
	return nil
}

// LoadSnapshot implements eventstore.Store.
func (s *Store) LoadSnapshot(ctx context.Context, streamID stream.ID) (*eventstore.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[streamID]
	if !ok {
		return nil, nil
	}
	cp := snap
	return &cp, nil
}

// AppendBatch implements eventstore.Store. Every op observes the
// pre-batch version of its stream, matching spec §4.1's documented
// duplicate-stream-id semantics.
func (s *Store) AppendBatch(ctx context.Context, ops []eventstore.BatchOp) ([]eventstore.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	preBatch := make(map[stream.ID]stream.Version, len(ops))
	for _, op := range ops {
		if _, ok := preBatch[op.StreamID]; !ok {
			preBatch[op.StreamID] = s.currentVersionLocked(op.StreamID)
		}
	}

	results := make([]eventstore.BatchResult, len(ops))
	for i, op := range ops {
		current := preBatch[op.StreamID]
		if op.ExpectedVersion != nil && *op.ExpectedVersion != current {
			results[i] = eventstore.BatchResult{
				Version: current,
				Err: &eventstore.ConcurrencyConflictError{
					StreamID: op.StreamID,
					Expected: *op.ExpectedVersion,
					Actual:   current,
				},
			}
			continue
		}
		if len(op.Events) == 0 {
			results[i] = eventstore.BatchResult{Version: current}
			continue
		}

		log, ok := s.streams[op.StreamID]
		if !ok {
			log = &streamLog{}
			s.streams[op.StreamID] = log
		}
		log.events = append(log.events, op.Events...)
		s.indexCorrelationLocked(op.Events)
		results[i] = eventstore.BatchResult{Version: stream.Version(len(log.events))}
	}

	return results, nil
}

// LoadEventsByCorrelation implements eventstore.CorrelationQueryable.
func (s *Store) LoadEventsByCorrelation(ctx context.Context, correlationID string) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evs, ok := s.byCorrel[correlationID]
	if !ok {
		return nil, nil
	}
	out := make([]event.Event, len(evs))
	copy(out, evs)
	return out, nil
}

var _ eventstore.Store = (*Store)(nil)
var _ eventstore.CorrelationQueryable = (*Store)(nil)
