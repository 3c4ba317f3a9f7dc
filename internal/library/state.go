// Package library is the illustrative consumer of eventflux's core: a
// single-store library-management domain (catalog, circulation,
// membership) rebuilt on pkg/reducer, pkg/engine and pkg/projection
// instead of the ad hoc per-service eventstore.AppendEvents calls of the
// original three standalone services.
package library

import (
	"time"

	"github.com/google/uuid"
)

// Item is a catalog entry. Mirrors the original catalog.Item shape.
type Item struct {
	ID            uuid.UUID
	ISBN          string
	Title         string
	Author        string
	Publisher     string
	PublishedYear int
	TotalCopies   int
	Available     int
	Status        string
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Checkout is a circulation record linking a member to an item.
type Checkout struct {
	ID           uuid.UUID
	MemberID     uuid.UUID
	ItemID       uuid.UUID
	CheckoutDate time.Time
	DueDate      time.Time
	ReturnDate   time.Time
	Status       string // "active" | "returned"
	Version      int
}

// Member is a library member.
type Member struct {
	ID             uuid.UUID
	Email          string
	Name           string
	MembershipTier string
	Status         string
	FineBalance    float64
	MaxCheckouts   int
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Version        int
}

// Credential holds a member's salted Argon2id password hash.
type Credential struct {
	MemberID     uuid.UUID
	PasswordHash string
	Salt         string
}

// State is the single aggregate root the engine.Store holds: every
// command is reduced against (and mutates) this in-memory snapshot, with
// durability handled by the effects the reducer returns (event store
// append + bus publish). Postgres/search projections consume the bus
// independently and never read State directly.
type State struct {
	Items       map[uuid.UUID]Item
	Checkouts   map[uuid.UUID]Checkout
	Members     map[uuid.UUID]Member
	Credentials map[uuid.UUID]Credential
}

// NewState returns an empty State.
func NewState() State {
	return State{
		Items:       make(map[uuid.UUID]Item),
		Checkouts:   make(map[uuid.UUID]Checkout),
		Members:     make(map[uuid.UUID]Member),
		Credentials: make(map[uuid.UUID]Credential),
	}
}
