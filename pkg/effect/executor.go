package effect

import (
	"context"
	"sync"
)

// Executor runs Effect values, forwarding dispatched actions to sink.
// sink is expected to be the runtime's bounded action queue: Execute
// blocks on a full sink exactly as far as the channel send blocks,
// which is how stream effects observe the action-queue's backpressure
// (spec §5).
type Executor[Action any] struct {
	sink chan<- Action
}

// NewExecutor returns an Executor that forwards dispatched actions to
// sink.
func NewExecutor[Action any](sink chan<- Action) *Executor[Action] {
	return &Executor[Action]{sink: sink}
}

// Execute runs e to its terminal state. It returns the first error
// encountered from a Future or Stream leaf (children of Parallel report
// errors independently and do not abort their siblings).
func (x *Executor[Action]) Execute(ctx context.Context, e Effect[Action]) error {
	switch e.kind {
	case KindNone:
		return nil

	case KindFuture:
		if e.future == nil {
			return nil
		}
		action, err := e.future(ctx)
		if err != nil {
			return err
		}
		if action == nil {
			return nil
		}
		return x.dispatch(ctx, *action)

	case KindStream:
		if e.stream == nil {
			return nil
		}
		return e.stream(ctx, x.sink)

	case KindParallel:
		var wg sync.WaitGroup
		errs := make([]error, len(e.children))
		for i, child := range e.children {
			wg.Add(1)
			go func(i int, child Effect[Action]) {
				defer wg.Done()
				errs[i] = x.Execute(ctx, child)
			}(i, child)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
		return nil

	case KindSequential:
		for _, child := range e.children {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := x.Execute(ctx, child); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func (x *Executor[Action]) dispatch(ctx context.Context, a Action) error {
	select {
	case x.sink <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
