package projection

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"eventflux/pkg/checkpoint"
	"eventflux/pkg/dlq"
	"eventflux/pkg/event"
	"eventflux/pkg/eventbus"
	"eventflux/pkg/resilience"
	"eventflux/pkg/stream"
)

// Config configures a Manager.
type Config struct {
	// Topics the projection consumes from.
	Topics []string
	// Retry configures the per-event apply retry policy before an event
	// is routed to the dead-letter queue.
	Retry resilience.RetryConfig
	// CheckpointInterval is how many processed events (applied, or
	// dead-lettered/skipped after exhausting retry) elapse between
	// persisted checkpoints (spec §4.6 step 3). Default 100.
	// The checkpoint is always flushed once more on Shutdown regardless
	// of where the counter sits.
	CheckpointInterval int
}

func (c Config) withDefaults() Config {
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 100
	}
	return c
}

// Manager owns the subscribe/apply/checkpoint loop for one Projection
// (spec §4.6): it subscribes to Topics under a consumer group named
// after the projection, applies each delivered event with bounded
// retry, persists its processed-event count as the checkpoint every
// CheckpointInterval events (and once more on Shutdown), and routes
// events that exhaust retry to the dead-letter queue instead of blocking
// the consumer group.
type Manager struct {
	proj        Projection
	bus         eventbus.Bus
	checkpoints checkpoint.Store
	dlqQueue    dlq.Queue
	retry       *resilience.Retry
	cfg         Config

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	offset atomic.Uint64
}

// NewManager constructs a Manager for proj. dlqQueue may be nil, in
// which case events that exhaust retry are simply skipped (advanced
// past) without being recorded anywhere.
func NewManager(proj Projection, bus eventbus.Bus, checkpoints checkpoint.Store, dlqQueue dlq.Queue, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		proj:        proj,
		bus:         bus,
		checkpoints: checkpoints,
		dlqQueue:    dlqQueue,
		retry:       resilience.NewRetry(cfg.Retry),
		cfg:         cfg,
	}
}

// Start begins consuming. It loads the last saved checkpoint (used only
// for the manager's own offset bookkeeping and metrics; resumption point
// in the bus is governed by the consumer group's cursor, per spec §4.2)
// and subscribes under a consumer group named after the projection.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}

	pos, err := m.checkpoints.LoadPosition(ctx, m.proj.Name())
	if err != nil {
		m.mu.Unlock()
		return err
	}
	var startOffset uint64
	if pos != nil {
		startOffset = pos.Offset
	}
	m.offset.Store(startOffset)

	runCtx, cancel := context.WithCancel(ctx)
	ch, err := m.bus.Subscribe(runCtx, m.cfg.Topics, m.proj.Name())
	if err != nil {
		cancel()
		m.mu.Unlock()
		return err
	}

	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	m.mu.Unlock()

	go m.loop(runCtx, ch)
	return nil
}

func (m *Manager) loop(ctx context.Context, ch <-chan eventbus.Delivery) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			if d.Err != nil {
				// A LaggedError means the in-process bus dropped events
				// this subscriber could not keep up with; nothing to
				// replay from here, so just advance past it.
				continue
			}
			m.apply(ctx, d)
		}
	}
}

func (m *Manager) apply(ctx context.Context, d eventbus.Delivery) {
	pd := Delivery{Topic: d.Topic, Event: d.Event}

	attempts, err := m.retry.DoWithAttempts(ctx, func(ctx context.Context) error {
		return m.proj.ApplyEvent(ctx, pd)
	})

	offset := m.offset.Add(1)

	if err != nil && m.dlqQueue != nil {
		now := time.Now()
		originalTimestamp := now
		if d.Event.Metadata != nil && !d.Event.Metadata.Timestamp.IsZero() {
			originalTimestamp = d.Event.Metadata.Timestamp
		}
		entry := dlq.Entry{
			ID:                uuid.NewString(),
			StreamID:          stream.ID(d.Topic),
			Event:             d.Event,
			OriginalTimestamp: originalTimestamp,
			ErrorMessage:      err.Error(),
			ErrorDetails:      errorChain(err),
			RetryCount:        attempts,
			FirstFailedAt:     now,
			LastFailedAt:      now,
			Status:            dlq.StatusPending,
		}
		if addErr := m.dlqQueue.Add(ctx, entry); addErr != nil {
			slog.Error("projection: failed to dead-letter event after exhausted retries",
				"projection", m.proj.Name(), "topic", d.Topic, "event_type", d.Event.Type,
				"apply_error", err, "dlq_error", addErr)
		}
	}

	if offset%uint64(m.cfg.CheckpointInterval) == 0 {
		_ = m.saveCheckpoint(ctx, offset)
	}
}

// errorChain renders every layer of err's Unwrap chain, innermost last,
// for the DLQ entry's ErrorDetails (spec §3) — a fuller record than the
// single-line ErrorMessage, for troubleshooting wrapped transport/codec
// failures.
func errorChain(err error) string {
	var layers []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		layers = append(layers, e.Error())
	}
	return strings.Join(layers, " <- ")
}

func (m *Manager) saveCheckpoint(ctx context.Context, offset uint64) error {
	return m.checkpoints.SavePosition(ctx, m.proj.Name(), checkpoint.Position{
		Offset:    offset,
		Timestamp: time.Now(),
	})
}

// Shutdown stops consumption and waits for the loop goroutine to exit or
// ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	cancel := m.cancel
	done := m.done
	m.running = false
	m.mu.Unlock()

	cancel()
	select {
	case <-done:
		_ = m.saveCheckpoint(ctx, m.offset.Load())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rebuild discards the projection's read model via Rebuilder and resets
// its checkpoint to zero. It does NOT touch the eventbus consumer
// group's offsets: on an in-process bus a fresh full replay requires
// restarting the Manager under a new consumer group name, since an
// existing group's cursor is not rewound by Rebuild (documented operator
// trade-off, spec §4.6/§9).
func (m *Manager) Rebuild(ctx context.Context) error {
	rebuilder, ok := m.proj.(Rebuilder)
	if !ok {
		return ErrNotRebuildable
	}
	if err := rebuilder.Rebuild(ctx); err != nil {
		return err
	}
	m.offset.Store(0)
	return m.checkpoints.SavePosition(ctx, m.proj.Name(), checkpoint.Position{
		Offset:    0,
		Timestamp: time.Now(),
	})
}

// Offset returns the number of events this manager has applied
// (successfully or not) since Start.
func (m *Manager) Offset() uint64 {
	return m.offset.Load()
}

// ReplayFromDLQ re-feeds a dead-lettered event through this projection's
// ApplyEvent, resolving the entry on success (spec §4/§9 dead-letter
// replay).
func (m *Manager) ReplayFromDLQ(ctx context.Context, entryID string) error {
	if m.dlqQueue == nil {
		return ErrNoDLQ
	}
	return m.dlqQueue.Replay(ctx, entryID, func(ctx context.Context, ev event.Event) error {
		return m.proj.ApplyEvent(ctx, Delivery{Event: ev})
	})
}
