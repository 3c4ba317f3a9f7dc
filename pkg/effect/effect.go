// Package effect implements the deferred-side-effect algebra from spec
// §4.3: None, Future, Stream, Parallel, and Sequential variants, plus the
// Executor that drives them under the runtime's cancellation and
// backpressure rules (spec §5).
package effect

import "context"

// Kind tags which variant an Effect holds.
type Kind int

const (
	KindNone Kind = iota
	KindFuture
	KindStream
	KindParallel
	KindSequential
)

// FutureFunc produces at most one follow-up action. A nil return means
// "no follow-up action dispatched".
type FutureFunc[Action any] func(ctx context.Context) (*Action, error)

// StreamFunc emits zero or more follow-up actions onto sink, in order.
// It returns when the stream is exhausted or ctx is cancelled.
type StreamFunc[Action any] func(ctx context.Context, sink chan<- Action) error

// Effect is a tagged variant describing one deferred side effect.
type Effect[Action any] struct {
	kind     Kind
	future   FutureFunc[Action]
	stream   StreamFunc[Action]
	children []Effect[Action]
}

// None is the no-op effect.
func None[Action any]() Effect[Action] {
	return Effect[Action]{kind: KindNone}
}

// Future wraps a single asynchronous operation that may yield one
// follow-up action.
func Future[Action any](fn FutureFunc[Action]) Effect[Action] {
	return Effect[Action]{kind: KindFuture, future: fn}
}

// Stream wraps an asynchronous sequence of follow-up actions.
func Stream[Action any](fn StreamFunc[Action]) Effect[Action] {
	return Effect[Action]{kind: KindStream, stream: fn}
}

// Parallel runs child effects concurrently; completion order and the
// interleaving of dispatched actions across children are unspecified.
func Parallel[Action any](children ...Effect[Action]) Effect[Action] {
	return Effect[Action]{kind: KindParallel, children: children}
}

// Sequential runs child effects one at a time: each child reaches its own
// terminal state — including dispatching all of its follow-up actions —
// before the next child starts. "Terminal state" is the child effect's
// own execution finishing, not the causal closure of reducing the
// actions it dispatched.
func Sequential[Action any](children ...Effect[Action]) Effect[Action] {
	return Effect[Action]{kind: KindSequential, children: children}
}

// Kind reports which variant e holds.
func (e Effect[Action]) Kind() Kind { return e.kind }
