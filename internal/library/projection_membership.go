package library

import (
	"context"

	"github.com/jmoiron/sqlx"

	"eventflux/pkg/event"
	"eventflux/pkg/projection"
)

// MembershipProjection maintains the Postgres members read model.
type MembershipProjection struct {
	db *sqlx.DB
}

// NewMembershipProjection constructs a MembershipProjection.
func NewMembershipProjection(db *sqlx.DB) *MembershipProjection {
	return &MembershipProjection{db: db}
}

func (p *MembershipProjection) Name() string { return "membership" }

func (p *MembershipProjection) ApplyEvent(ctx context.Context, d projection.Delivery) error {
	switch d.Event.Name() {
	case EventMemberRegistered:
		var ev MemberRegisteredEvent
		if err := event.Decode(event.JSONCodec{}, d.Event, &ev); err != nil {
			return err
		}
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO members (id, email, name, membership_tier, status, version)
			VALUES ($1, $2, $3, 'basic', 'active', 1)
			ON CONFLICT (id) DO NOTHING
		`, ev.ID, ev.Email, ev.Name)
		return err
	case EventMemberTierChanged:
		var ev MemberTierChangedEvent
		if err := event.Decode(event.JSONCodec{}, d.Event, &ev); err != nil {
			return err
		}
		_, err := p.db.ExecContext(ctx, `
			UPDATE members SET membership_tier = $1, version = version + 1, updated_at = NOW() WHERE id = $2
		`, ev.NewTier, ev.ID)
		return err
	case EventMemberAuthenticated:
		// No read-model change; kept as an explicit no-op case rather
		// than falling through to default, so a future field (e.g.
		// last_login_at) has an obvious home.
		return nil
	default:
		return nil
	}
}

// Rebuild truncates the members table.
func (p *MembershipProjection) Rebuild(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `TRUNCATE TABLE members`)
	return err
}

var _ projection.Projection = (*MembershipProjection)(nil)
var _ projection.Rebuilder = (*MembershipProjection)(nil)
