// Package memcheckpoint is an in-process checkpoint.Store.
package memcheckpoint

import (
	"context"
	"sync"

	"eventflux/pkg/checkpoint"
)

// Store is a mutex-guarded, in-memory checkpoint.Store.
type Store struct {
	mu        sync.Mutex
	positions map[string]checkpoint.Position
}

// New returns an empty in-memory checkpoint store.
func New() *Store {
	return &Store{positions: make(map[string]checkpoint.Position)}
}

func (s *Store) SavePosition(ctx context.Context, name string, pos checkpoint.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[name] = pos
	return nil
}

func (s *Store) LoadPosition(ctx context.Context, name string) (*checkpoint.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[name]
	if !ok {
		return nil, nil
	}
	cp := pos
	return &cp, nil
}

var _ checkpoint.Store = (*Store)(nil)
