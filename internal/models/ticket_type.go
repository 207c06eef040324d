package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types"`

	ID          string `bun:"id,pk" json:"id"`
	Name        string `bun:"name,notnull" json:"name"`
	Description string `bun:"description,nullzero" json:"description,omitempty"`
	Price       int64  `bun:"price,notnull" json:"price"`
	Active      bool   `bun:"active,notnull" json:"active"`

	OnSiteAccess   bool `bun:"on_site_access,notnull" json:"onSiteAccess"`
	OnDemandAccess bool `bun:"on_demand_access,notnull" json:"onDemandAccess"`
	PartyAccess    bool `bun:"party_access,notnull" json:"partyAccess"`

	SortOrder int       `bun:"sort_order,notnull" json:"sortOrder"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}
