// Package checkpoint defines the per-projection (offset, timestamp)
// cursor contract (spec §4.6/§6).
package checkpoint

import (
	"context"
	"time"
)

// Position is a per-projection cursor: a monotonically increasing count
// of events successfully processed, plus the wall-clock time it was
// recorded.
type Position struct {
	Offset    uint64
	Timestamp time.Time
}

// Store persists one Position per named projection.
type Store interface {
	// SavePosition atomically upserts the position for name.
	SavePosition(ctx context.Context, name string, pos Position) error
	// LoadPosition returns the saved position for name, or nil if none
	// has been saved yet.
	LoadPosition(ctx context.Context, name string) (*Position, error)
}
