package library

import (
	"time"

	"github.com/google/uuid"
)

// Action is a tagged union dispatched through the engine.Store: exactly
// one of the pointer fields matching Kind is set. Commands (Add*,
// CheckOut*, Register*, ...) come from callers; Completed/Failed actions
// are dispatched by the Future effects the reducer returns, carrying the
// outcome of the async append/publish back into the store.
type Action struct {
	Kind string
	// ID identifies this particular action instance; the reducer stamps
	// it onto any event the action causes as that event's CausationID
	// (spec §3's "cause-effect within a workflow"), so replaying the
	// store's action log lets a reader walk from an event back to the
	// exact command that produced it.
	ID string
	// CorrelationID ties a command and every event/follow-up action it
	// causes to the same saga; commands originating an HTTP request
	// should set it to a fresh id, and follow-up PersistResult actions
	// carry it forward unchanged.
	CorrelationID string

	AddItem          *AddItemCmd
	UpdateItemCopies *UpdateItemCopiesCmd
	RemoveItem       *RemoveItemCmd
	CheckOutItem     *CheckOutItemCmd
	ReturnItem       *ReturnItemCmd
	RegisterMember   *RegisterMemberCmd
	Authenticate     *AuthenticateCmd
	UpdateMemberTier *UpdateMemberTierCmd

	PersistResult *PersistResult
}

const (
	KindAddItem          = "AddItem"
	KindUpdateItemCopies = "UpdateItemCopies"
	KindRemoveItem       = "RemoveItem"
	KindCheckOutItem     = "CheckOutItem"
	KindReturnItem       = "ReturnItem"
	KindRegisterMember   = "RegisterMember"
	KindAuthenticate     = "Authenticate"
	KindUpdateMemberTier = "UpdateMemberTier"
	KindPersistResult    = "PersistResult"
)

// AddItemCmd adds a new catalog item.
type AddItemCmd struct {
	ID          uuid.UUID
	ISBN        string
	Title       string
	Author      string
	TotalCopies int
}

// UpdateItemCopiesCmd changes a catalog item's copy counts.
type UpdateItemCopiesCmd struct {
	ID           uuid.UUID
	NewTotal     int
	NewAvailable int
}

// RemoveItemCmd retires a catalog item.
type RemoveItemCmd struct {
	ID uuid.UUID
}

// CheckOutItemCmd checks an item out to a member.
type CheckOutItemCmd struct {
	CheckoutID uuid.UUID
	MemberID   uuid.UUID
	ItemID     uuid.UUID
	Loan       time.Duration
}

// ReturnItemCmd returns a checked-out item.
type ReturnItemCmd struct {
	CheckoutID uuid.UUID
}

// RegisterMemberCmd registers a new member, hashing password with the
// env-supplied Argon2id parameters.
type RegisterMemberCmd struct {
	ID       uuid.UUID
	Email    string
	Name     string
	Password string
}

// AuthenticateCmd verifies credentials and, on success, yields a signed
// session token via the reducer's Future effect.
type AuthenticateCmd struct {
	Email    string
	Password string
	// ResultCh receives the outcome out-of-band, since HTTP handlers need
	// a synchronous response rather than a fire-and-forget dispatch.
	ResultCh chan<- AuthResult
}

// AuthResult is delivered on AuthenticateCmd.ResultCh.
type AuthResult struct {
	Member *Member
	Token  string
	Err    error
}

// UpdateMemberTierCmd changes a member's tier.
type UpdateMemberTierCmd struct {
	ID      uuid.UUID
	NewTier string
}

// PersistResult is dispatched by a command's Future effect once the
// domain event has been appended and published (or failed to be).
type PersistResult struct {
	Command string
	Err     error
}
