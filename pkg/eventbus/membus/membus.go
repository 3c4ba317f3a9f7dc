// Package membus is an in-process, partitioned implementation of
// eventbus.Bus: topics split into a fixed number of ordered partitions,
// consumer groups track a per-partition cursor and rebalance ownership
// round-robin across their current members, delivery is at-least-once.
//
// Lock ordering: every operation that touches both a topic and one of
// its groups acquires topicState.mu before groupState.mu, never the
// reverse, so Publish and Subscribe/unsubscribe fully serialize instead
// of racing on cursors.
package membus

import (
	"context"
	"hash/fnv"
	"sync"

	"eventflux/pkg/event"
	"eventflux/pkg/eventbus"
)

const defaultPartitionCount = 16
const defaultChannelBuffer = 256

// Config configures a Bus.
type Config struct {
	PartitionCount int // default 16
	Strategy       eventbus.PartitionStrategy
	ChannelBuffer  int // default 256
}

func (c Config) withDefaults() Config {
	if c.PartitionCount <= 0 {
		c.PartitionCount = defaultPartitionCount
	}
	if c.ChannelBuffer <= 0 {
		c.ChannelBuffer = defaultChannelBuffer
	}
	return c
}

// Bus is the in-process eventbus.Bus implementation.
type Bus struct {
	cfg Config

	mu     sync.Mutex
	topics map[string]*topicState
}

// New constructs an empty in-process bus.
func New(cfg Config) *Bus {
	cfg = cfg.withDefaults()
	return &Bus{cfg: cfg, topics: make(map[string]*topicState)}
}

type topicState struct {
	mu         sync.Mutex
	partitions [][]event.Event
	groups     map[string]*groupState
}

type groupState struct {
	mu      sync.Mutex
	cursors []int // per-partition next-index-to-deliver
	members []*memberState
}

type memberState struct {
	ch       chan eventbus.Delivery
	assigned map[int]bool // partitions this member currently owns
}

func (b *Bus) getOrCreateTopic(name string) *topicState {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = &topicState{
			partitions: make([][]event.Event, b.cfg.PartitionCount),
			groups:     make(map[string]*groupState),
		}
		b.topics[name] = t
	}
	return t
}

func partitionIndex(key string, count int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % count
}

// Publish implements eventbus.Bus, partitioning by the event's name (the
// stable default per spec §4.2). Use PublishWithKey for stream-id
// partitioning.
func (b *Bus) Publish(ctx context.Context, topic string, ev event.Event) error {
	return b.PublishWithKey(ctx, topic, eventbus.PartitionKey(b.cfg.Strategy, "", ev), ev)
}

// PublishWithKey publishes ev to topic using an explicit partition key,
// for callers that want per-stream ordering (spec §4.2: "stream id is
// preferred when ordering per aggregate matters").
func (b *Bus) PublishWithKey(ctx context.Context, topic, key string, ev event.Event) error {
	t := b.getOrCreateTopic(topic)

	t.mu.Lock()
	defer t.mu.Unlock()

	p := partitionIndex(key, len(t.partitions))
	t.partitions[p] = append(t.partitions[p], ev)
	newLen := len(t.partitions[p])

	for _, g := range t.groups {
		g.mu.Lock()
		if g.cursors[p] < newLen {
			if owner := g.ownerFor(p); owner != nil {
				deliver(owner.ch, topic, ev)
			}
			g.cursors[p] = newLen
		}
		g.mu.Unlock()
	}
	return nil
}

func deliver(ch chan eventbus.Delivery, topic string, ev event.Event) {
	select {
	case ch <- eventbus.Delivery{Topic: topic, Event: ev}:
	default:
		// Full buffer: drain one queued delivery to make room for the lag
		// report. Both ev and the drained delivery (if it carried an
		// event) are lost.
		skipped := 1
		select {
		case old := <-ch:
			if old.Err == nil {
				skipped++
			}
		default:
		}
		select {
		case ch <- eventbus.Delivery{Topic: topic, Err: &eventbus.LaggedError{Skipped: skipped}}:
		default:
		}
	}
}

func (g *groupState) ownerFor(p int) *memberState {
	for _, m := range g.members {
		if m.assigned[p] {
			return m
		}
	}
	return nil
}

// rebalance reassigns all partitionCount partitions round-robin across
// the group's current members. Must be called with g.mu held.
func (g *groupState) rebalance(partitionCount int) {
	for _, m := range g.members {
		m.assigned = make(map[int]bool)
	}
	if len(g.members) == 0 {
		return
	}
	for p := 0; p < partitionCount; p++ {
		owner := g.members[p%len(g.members)]
		owner.assigned[p] = true
	}
}

// Subscribe implements eventbus.Bus. A fresh group starts from the
// earliest retained event in each partition; an established group
// resumes from its saved cursors.
func (b *Bus) Subscribe(ctx context.Context, topics []string, group string) (<-chan eventbus.Delivery, error) {
	if len(topics) == 0 {
		return nil, &eventbus.SubscriptionFailedError{Topics: topics, Reason: "no topics given"}
	}

	member := &memberState{
		ch:       make(chan eventbus.Delivery, b.cfg.ChannelBuffer),
		assigned: make(map[int]bool),
	}

	type joinedTopic struct {
		t *topicState
		g *groupState
	}
	joined := make([]joinedTopic, 0, len(topics))

	for _, name := range topics {
		t := b.getOrCreateTopic(name)

		t.mu.Lock()
		g, ok := t.groups[group]
		if !ok {
			g = &groupState{cursors: make([]int, len(t.partitions))}
			t.groups[group] = g
		}

		g.mu.Lock()
		g.members = append(g.members, member)
		g.rebalance(len(t.partitions))
		for p := range member.assigned {
			backlog := t.partitions[p][g.cursors[p]:]
			for _, ev := range backlog {
				deliver(member.ch, name, ev)
			}
			g.cursors[p] = len(t.partitions[p])
		}
		g.mu.Unlock()
		t.mu.Unlock()

		joined = append(joined, joinedTopic{t, g})
	}

	go func() {
		<-ctx.Done()
		for _, j := range joined {
			j.t.mu.Lock()
			j.g.mu.Lock()
			for i, m := range j.g.members {
				if m == member {
					j.g.members = append(j.g.members[:i], j.g.members[i+1:]...)
					break
				}
			}
			j.g.rebalance(len(j.t.partitions))
			j.g.mu.Unlock()
			j.t.mu.Unlock()
		}
		close(member.ch)
	}()

	return member.ch, nil
}

var _ eventbus.Bus = (*Bus)(nil)
