package library

import (
	"time"

	"github.com/google/uuid"
)

// Event type names, matching the teacher's PascalCase event names
// (internal/catalog/domain.go, internal/circulation/domain.go,
// internal/membership/domain.go) under pkg/event's "<name>.v<N>"
// convention at version 1.
const (
	EventItemAdded          = "ItemAdded"
	EventItemCopiesUpdated  = "ItemCopiesUpdated"
	EventItemRemoved        = "ItemRemoved"
	EventItemCheckedOut     = "ItemCheckedOut"
	EventItemReturned       = "ItemReturned"
	EventMemberRegistered   = "MemberRegistered"
	EventMemberTierChanged  = "MemberTierChanged"
	EventMemberAuthenticated = "MemberAuthenticated"
)

// TopicCatalog, TopicCirculation and TopicMembership are the eventbus
// topics each aggregate's events are published to.
const (
	TopicCatalog     = "library.catalog"
	TopicCirculation = "library.circulation"
	TopicMembership  = "library.membership"
)

type ItemAddedEvent struct {
	ID          uuid.UUID `json:"id"`
	ISBN        string    `json:"isbn"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	TotalCopies int       `json:"total_copies"`
}

type ItemCopiesUpdatedEvent struct {
	ID           uuid.UUID `json:"id"`
	NewTotal     int       `json:"new_total"`
	NewAvailable int       `json:"new_available"`
}

type ItemRemovedEvent struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

type ItemCheckedOutEvent struct {
	CheckoutID uuid.UUID `json:"checkout_id"`
	MemberID   uuid.UUID `json:"member_id"`
	ItemID     uuid.UUID `json:"item_id"`
	DueDate    time.Time `json:"due_date"`
}

type ItemReturnedEvent struct {
	CheckoutID uuid.UUID `json:"checkout_id"`
	MemberID   uuid.UUID `json:"member_id"`
	ItemID     uuid.UUID `json:"item_id"`
	ReturnDate time.Time `json:"return_date"`
}

type MemberRegisteredEvent struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
}

type MemberTierChangedEvent struct {
	ID      uuid.UUID `json:"id"`
	NewTier string    `json:"new_tier"`
}

type MemberAuthenticatedEvent struct {
	ID uuid.UUID `json:"id"`
}
