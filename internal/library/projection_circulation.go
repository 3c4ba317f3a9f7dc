package library

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"eventflux/pkg/event"
	"eventflux/pkg/projection"
)

// circulationRow is the sqlx scan target for the checkouts table.
type circulationRow struct {
	ID           uuid.UUID `db:"id"`
	MemberID     uuid.UUID `db:"member_id"`
	ItemID       uuid.UUID `db:"item_id"`
	CheckoutDate string    `db:"checkout_date"`
	DueDate      string    `db:"due_date"`
	Status       string    `db:"status"`
}

// CirculationProjection maintains the Postgres checkouts read model.
type CirculationProjection struct {
	db *sqlx.DB
}

// NewCirculationProjection constructs a CirculationProjection.
func NewCirculationProjection(db *sqlx.DB) *CirculationProjection {
	return &CirculationProjection{db: db}
}

func (p *CirculationProjection) Name() string { return "circulation" }

func (p *CirculationProjection) ApplyEvent(ctx context.Context, d projection.Delivery) error {
	switch d.Event.Name() {
	case EventItemCheckedOut:
		var ev ItemCheckedOutEvent
		if err := event.Decode(event.JSONCodec{}, d.Event, &ev); err != nil {
			return err
		}
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO checkouts (id, member_id, item_id, checkout_date, due_date, status, version)
			VALUES ($1, $2, $3, NOW(), $4, 'active', 1)
			ON CONFLICT (id) DO NOTHING
		`, ev.CheckoutID, ev.MemberID, ev.ItemID, ev.DueDate)
		return err
	case EventItemReturned:
		var ev ItemReturnedEvent
		if err := event.Decode(event.JSONCodec{}, d.Event, &ev); err != nil {
			return err
		}
		_, err := p.db.ExecContext(ctx, `
			UPDATE checkouts SET status = 'returned', return_date = $1, version = version + 1
			WHERE id = $2
		`, ev.ReturnDate, ev.CheckoutID)
		return err
	default:
		return nil
	}
}

// Rebuild truncates the checkouts table.
func (p *CirculationProjection) Rebuild(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `TRUNCATE TABLE checkouts`)
	return err
}

var _ projection.Projection = (*CirculationProjection)(nil)
var _ projection.Rebuilder = (*CirculationProjection)(nil)
