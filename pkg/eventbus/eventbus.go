// Package eventbus defines the partitioned publish/subscribe contract
// with consumer groups and at-least-once delivery (spec §4.2/§6).
package eventbus

import (
	"context"
	"fmt"

	"eventflux/pkg/event"
)

// PartitionStrategy selects how a publish call derives its partition key.
type PartitionStrategy int

const (
	// PartitionByEventType uses the event's type name as the partition
	// key (the acceptable default per spec §4.2).
	PartitionByEventType PartitionStrategy = iota
	// PartitionByStreamID uses the caller-supplied stream id, preferred
	// when per-aggregate ordering across consumers matters.
	PartitionByStreamID
)

// PublishFailedError reports that a publish call could not be completed.
type PublishFailedError struct {
	Topic  string
	Reason string
}

func (e *PublishFailedError) Error() string {
	return fmt.Sprintf("eventbus: publish to %q failed: %s", e.Topic, e.Reason)
}

// SubscriptionFailedError reports that establishing a subscription
// failed.
type SubscriptionFailedError struct {
	Topics []string
	Reason string
}

func (e *SubscriptionFailedError) Error() string {
	return fmt.Sprintf("eventbus: subscribe to %v failed: %s", e.Topics, e.Reason)
}

// LaggedError is delivered in-band to a slow subscriber that could not
// keep up; Skipped counts the dropped deliveries. The subscription
// itself is not terminated.
type LaggedError struct {
	Skipped int
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("eventbus: subscriber lagged, %d events skipped", e.Skipped)
}

// Delivery wraps one item from a subscription stream: either an event,
// or a transport error that does not terminate the stream.
type Delivery struct {
	Topic string
	Event event.Event
	Err   error
}

// Bus is the event bus contract. PartitionKey is derived from the
// published event in a way the implementation documents (see
// PartitionStrategy); delivery to each subscribing consumer group is
// at-least-once.
type Bus interface {
	// Publish durably records ev under topic. It returns once the
	// publish is durable.
	Publish(ctx context.Context, topic string, ev event.Event) error

	// Subscribe returns a channel delivering every event published to
	// any of topics to the named consumer group, exactly once per
	// partition-ordered key, at least once overall. A fresh group starts
	// from the earliest retained event. The channel is long-lived and
	// reconnects transparently after transport disruption; it closes
	// only when ctx is cancelled.
	Subscribe(ctx context.Context, topics []string, group string) (<-chan Delivery, error)
}

// PartitionKey derives the partition key for ev under strategy, given the
// stream id the caller associates with the publish (may be empty if the
// caller has none).
func PartitionKey(strategy PartitionStrategy, streamID string, ev event.Event) string {
	if strategy == PartitionByStreamID && streamID != "" {
		return streamID
	}
	return ev.Name()
}
