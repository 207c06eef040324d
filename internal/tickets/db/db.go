package db

import (
	"context"
	"fmt"
	"time"

	"ms-conference-ticketing/internal/database"
	"ms-conference-ticketing/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// InsertTickets writes a batch in one transaction. A unique violation on
// the ticket number or on (order_item_id, seq) fails the whole batch with
// database.ErrDuplicate.
func (d *DB) InsertTickets(ctx context.Context, tickets []*models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&tickets).Exec(ctx); err != nil {
			return database.Translate(err)
		}
		return nil
	})
}

func (d *DB) ListByOrder(ctx context.Context, orderID string) ([]*models.Ticket, error) {
	var tickets []*models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("order_id = ?", orderID).
		Order("order_item_id ASC", "seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickets by order: %w", err)
	}
	return tickets, nil
}

// ListForUser returns tickets the user bought or holds as attendee.
func (d *DB) ListForUser(ctx context.Context, userID string) ([]*models.Ticket, error) {
	var tickets []*models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Relation("TicketType").
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.purchaser_id = ?", userID).
				WhereOr("?TableAlias.attendee_id = ?", userID)
		}).
		Order("ticket.issued_at ASC", "ticket.seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickets for user: %w", err)
	}
	return tickets, nil
}

func (d *DB) GetByID(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Relation("TicketType").
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, database.Translate(err)
	}
	return &ticket, nil
}

// GetInvitedByToken only finds tickets still waiting for acceptance.
func (d *DB) GetInvitedByToken(ctx context.Context, token string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Relation("TicketType").
		Where("?TableAlias.invite_token = ?", token).
		Where("?TableAlias.status = ?", models.TicketStatusInvited).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, database.Translate(err)
	}
	return &ticket, nil
}

// MarkInvited moves an unassigned ticket owned by purchaserID to invited.
// It reports false when the ticket is not in that state any more.
func (d *DB) MarkInvited(ctx context.Context, ticketID, purchaserID, token, email string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketStatusInvited).
		Set("invite_token = ?", token).
		Set("invite_email = ?", email).
		Set("invited_at = ?", at).
		Where("id = ?", ticketID).
		Where("purchaser_id = ?", purchaserID).
		Where("status = ?", models.TicketStatusUnassigned).
		Exec(ctx)
	if err != nil {
		return false, database.Translate(err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// TouchInvite restamps invited_at for a resend.
func (d *DB) TouchInvite(ctx context.Context, ticketID, purchaserID string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("invited_at = ?", at).
		Where("id = ?", ticketID).
		Where("purchaser_id = ?", purchaserID).
		Where("status = ?", models.TicketStatusInvited).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Assign consumes an invite token. The WHERE clause repeats the token and
// status check so that of two concurrent calls exactly one updates the row.
func (d *DB) Assign(ctx context.Context, ticketID, token, attendeeID string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketStatusAssigned).
		Set("attendee_id = ?", attendeeID).
		Set("assigned_at = ?", at).
		Set("invite_token = NULL").
		Where("id = ?", ticketID).
		Where("invite_token = ?", token).
		Where("status = ?", models.TicketStatusInvited).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// GrantCapability adds a capability if the user does not have it yet.
func (d *DB) GrantCapability(ctx context.Context, userID, capability string) error {
	_, err := d.Bun.NewInsert().
		Model(&models.UserCapability{UserID: userID, Capability: capability, GrantedAt: time.Now().UTC()}).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("grant capability %s: %w", capability, err)
	}
	return nil
}

func (d *DB) ListCapabilities(ctx context.Context, userID string) ([]string, error) {
	var caps []string
	err := d.Bun.NewSelect().
		Model((*models.UserCapability)(nil)).
		Column("capability").
		Where("user_id = ?", userID).
		Order("capability ASC").
		Scan(ctx, &caps)
	if err != nil {
		return nil, fmt.Errorf("list capabilities: %w", err)
	}
	return caps, nil
}
