// Package engine implements the Store runtime from spec §4.5: an action
// queue, reducer dispatch, effect executor, and action-forwarding to
// subscribers. Reducer execution is single-threaded per Store (serialized
// under an internal lock); effect executors run on goroutines.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"eventflux/pkg/effect"
	"eventflux/pkg/reducer"
)

// ErrQueueFull is returned by Send when the action queue is full and the
// queue policy is DropNewest.
var ErrQueueFull = errors.New("engine: action queue full")

// ErrShutdown is returned by Send/SendAndWaitFor once the Store has been
// shut down.
var ErrShutdown = errors.New("engine: store is shut down")

// ErrTimeout is returned by SendAndWaitFor when no matching action arrives
// within the given timeout.
var ErrTimeout = errors.New("engine: timed out waiting for matching action")

// ErrLagged is delivered to a Subscribe channel's error slot when the
// subscriber fell behind and the broadcast dropped items for it.
type ErrLagged struct{ Skipped int }

func (e *ErrLagged) Error() string {
	return fmt.Sprintf("engine: subscriber lagged, %d actions dropped", e.Skipped)
}

// QueuePolicy controls what happens when the action queue is full.
type QueuePolicy int

const (
	// BlockProducer blocks Send until queue capacity is available
	// (default — matches the teacher's synchronous service-call style).
	BlockProducer QueuePolicy = iota
	// DropNewest rejects the incoming action with ErrQueueFull instead of
	// blocking.
	DropNewest
)

// Config configures a Store.
type Config struct {
	QueueSize    int // default 256
	QueuePolicy  QueuePolicy
	SubscriberBuf int // default 64, per-subscriber broadcast buffer
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.SubscriberBuf <= 0 {
		c.SubscriberBuf = 64
	}
	return c
}

// Delivery wraps an action forwarded to a Subscribe channel, or an error
// (currently only ErrLagged) when delivery could not keep up.
type Delivery[Action any] struct {
	Action Action
	Err    error
}

type subscriber[Action any] struct {
	ch chan Delivery[Action]
}

// Store owns current state and drives Reducer against incoming actions.
type Store[State, Action, Env any] struct {
	cfg     Config
	reducer reducer.Reducer[State, Action, Env]
	env     Env

	stateMu sync.Mutex
	state   State

	queue  chan Action
	done   chan struct{}
	closed sync.Once

	subMu sync.Mutex
	subs  []*subscriber[Action]

	wg sync.WaitGroup
}

// New constructs a Store with the given initial state, reducer, and
// environment, and starts its processing loop.
func New[State, Action, Env any](initial State, r reducer.Reducer[State, Action, Env], env Env, cfg Config) *Store[State, Action, Env] {
	cfg = cfg.withDefaults()
	s := &Store[State, Action, Env]{
		cfg:     cfg,
		reducer: r,
		env:     env,
		state:   initial,
		queue:   make(chan Action, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Send enqueues action and returns once it is in the action queue. It
// does not wait for the action to be reduced or for its effects to be
// scheduled; the processing loop does both later, in queue order.
func (s *Store[State, Action, Env]) Send(ctx context.Context, action Action) error {
	select {
	case <-s.done:
		return ErrShutdown
	default:
	}

	switch s.cfg.QueuePolicy {
	case DropNewest:
		select {
		case s.queue <- action:
			return nil
		case <-s.done:
			return ErrShutdown
		default:
			return ErrQueueFull
		}
	default: // BlockProducer
		select {
		case s.queue <- action:
			return nil
		case <-s.done:
			return ErrShutdown
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SendAndWaitFor enqueues action, then observes every subsequently
// dispatched action (via an internal subscription established before
// enqueuing, so no actions can be missed), returning the first one for
// which predicate holds.
func (s *Store[State, Action, Env]) SendAndWaitFor(ctx context.Context, action Action, predicate func(Action) bool, timeout time.Duration) (Action, error) {
	var zero Action

	ch, unsubscribe := s.subscribeInternal()
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.Send(ctx, action); err != nil {
		return zero, err
	}

	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return zero, ErrShutdown
			}
			if d.Err != nil {
				continue
			}
			if predicate(d.Action) {
				return d.Action, nil
			}
		case <-ctx.Done():
			return zero, ErrTimeout
		}
	}
}

// Project produces a read-only projection of the current state under the
// internal lock. fn must not block.
func (s *Store[State, Action, Env]) Project(fn func(State)) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	fn(s.state)
}

// Subscribe observes every action processed, in order, starting from the
// moment of subscription (no replay).
func (s *Store[State, Action, Env]) Subscribe() (<-chan Delivery[Action], func()) {
	return s.subscribeInternal()
}

func (s *Store[State, Action, Env]) subscribeInternal() (chan Delivery[Action], func()) {
	sub := &subscriber[Action]{ch: make(chan Delivery[Action], s.cfg.SubscriberBuf)}
	s.subMu.Lock()
	s.subs = append(s.subs, sub)
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sv := range s.subs {
			if sv == sub {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
	return sub.ch, unsubscribe
}

func (s *Store[State, Action, Env]) broadcast(a Action) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.ch <- Delivery[Action]{Action: a}:
		default:
			// Lagging subscriber: drain one slot to make room and report
			// the drop, rather than blocking the whole store. Both a and
			// the drained delivery (if it carried an action) are lost.
			skipped := 1
			select {
			case old := <-sub.ch:
				if old.Err == nil {
					skipped++
				}
			default:
			}
			select {
			case sub.ch <- Delivery[Action]{Err: &ErrLagged{Skipped: skipped}}:
			default:
			}
		}
	}
}

func (s *Store[State, Action, Env]) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case action := <-s.queue:
			s.process(action)
		}
	}
}

func (s *Store[State, Action, Env]) process(action Action) {
	s.stateMu.Lock()
	effects := s.reducer.Reduce(&s.state, action, s.env)
	s.stateMu.Unlock()

	s.broadcast(action)

	for _, eff := range effects {
		s.wg.Add(1)
		go func(eff effect.Effect[Action]) {
			defer s.wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() {
				select {
				case <-s.done:
					cancel()
				case <-ctx.Done():
				}
			}()

			sink := make(chan Action)
			forwardDone := make(chan struct{})
			go func() {
				defer close(forwardDone)
				for {
					select {
					case a, ok := <-sink:
						if !ok {
							return
						}
						_ = s.Send(ctx, a)
					case <-ctx.Done():
						return
					}
				}
			}()

			exec := effect.NewExecutor[Action](sink)
			_ = exec.Execute(ctx, eff)
			close(sink)
			<-forwardDone
		}(eff)
	}
}

// Shutdown aborts the action loop and all outstanding effect tasks at
// their next suspension point, then waits for them to unwind. In-flight
// actions are not rolled back; the event store remains the source of
// truth (spec §4.5/§5).
func (s *Store[State, Action, Env]) Shutdown() {
	s.closed.Do(func() {
		close(s.done)
	})
	s.wg.Wait()

	s.subMu.Lock()
	for _, sub := range s.subs {
		close(sub.ch)
	}
	s.subs = nil
	s.subMu.Unlock()
}
