// Package stream defines the strongly-typed stream identity and the
// monotonic version used for optimistic concurrency across the event
// store, per spec §3.
package stream

import (
	"errors"
	"fmt"
)

// ErrEmptyID is returned by NewID when given an empty string.
var ErrEmptyID = errors.New("stream: id must not be empty")

// ID is a non-empty opaque string naming an ordered sequence of events,
// typically "<aggregate-type>-<aggregate-id>". Stable across restarts.
type ID string

// NewID validates and constructs a stream ID.
func NewID(s string) (ID, error) {
	if s == "" {
		return "", ErrEmptyID
	}
	return ID(s), nil
}

// NewAggregateID composes the conventional "<aggregate-type>-<aggregate-id>"
// stream identity.
func NewAggregateID(aggregateType, aggregateID string) ID {
	return ID(fmt.Sprintf("%s-%s", aggregateType, aggregateID))
}

// Version is a non-negative count of events appended to a stream.
// Version(0) means "empty stream".
type Version uint64

// Next returns the version after appending n events at v.
func (v Version) Next(n int) Version {
	return v + Version(n)
}
