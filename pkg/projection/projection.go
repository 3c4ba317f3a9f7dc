// Package projection implements checkpointed, at-least-once projection
// consumption over an eventbus.Bus (spec §4.6): a Projection applies
// events idempotently to its own read model, and a Manager owns the
// subscribe/apply/checkpoint loop plus routing exhausted-retry events to
// a dead-letter queue.
package projection

import (
	"context"
	"errors"

	"eventflux/pkg/event"
)

// ErrNotRebuildable is returned by Manager.Rebuild when the wrapped
// Projection does not implement Rebuilder.
var ErrNotRebuildable = errors.New("projection: projection does not support rebuild")

// ErrAlreadyRunning is returned by Manager.Start when called twice
// without an intervening Shutdown.
var ErrAlreadyRunning = errors.New("projection: manager already running")

// ErrNotRunning is returned by Manager.Shutdown when the manager was
// never started.
var ErrNotRunning = errors.New("projection: manager not running")

// ErrNoDLQ is returned by Manager.ReplayFromDLQ when the manager was
// constructed without a dead-letter queue.
var ErrNoDLQ = errors.New("projection: manager has no dead-letter queue")

// Delivery is the unit a Projection applies: the event plus the topic it
// arrived on. The eventbus does not propagate stream identity, only
// topic and event (see DESIGN.md); a Projection that needs stream
// identity must recover it from the event's payload or metadata.
type Delivery struct {
	Topic string
	Event event.Event
}

// Projection applies events to an independent read model. ApplyEvent
// must be idempotent: at-least-once delivery means the same event can
// be applied more than once across a crash/restart.
type Projection interface {
	// Name identifies the projection; it doubles as the checkpoint name
	// and the eventbus consumer group name.
	Name() string
	// ApplyEvent folds d into the projection's read model.
	ApplyEvent(ctx context.Context, d Delivery) error
}

// Rebuilder is an optional capability: a Projection that can discard its
// read model and start over. Manager.Rebuild uses it to service a full
// rebuild request.
type Rebuilder interface {
	// Rebuild truncates the projection's read model. It does not replay
	// events itself; the caller is expected to restart consumption
	// afterward (see Manager.Rebuild).
	Rebuild(ctx context.Context) error
}
