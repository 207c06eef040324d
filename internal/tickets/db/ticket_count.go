package db

import (
	"context"

	"ms-conference-ticketing/internal/models"
)

// TicketCounts is the public sold-ticket counter.
type TicketCounts struct {
	Total    int `json:"total"`
	Assigned int `json:"assigned"`
}

func (d *DB) GetTicketCounts(ctx context.Context) (*TicketCounts, error) {
	total, err := d.Bun.NewSelect().Model((*models.Ticket)(nil)).Count(ctx)
	if err != nil {
		return nil, err
	}
	assigned, err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("status = ?", models.TicketStatusAssigned).
		Count(ctx)
	if err != nil {
		return nil, err
	}
	return &TicketCounts{Total: total, Assigned: assigned}, nil
}
