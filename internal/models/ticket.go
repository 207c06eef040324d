package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

// A ticket only moves forward: unassigned -> invited -> assigned.
const (
	TicketStatusUnassigned TicketStatus = "unassigned"
	TicketStatusInvited    TicketStatus = "invited"
	TicketStatusAssigned   TicketStatus = "assigned"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID           string       `bun:"id,pk" json:"id"`
	TicketNumber string       `bun:"ticket_number,notnull,unique" json:"ticketNumber"`
	OrderID      string       `bun:"order_id,notnull" json:"orderId"`
	OrderItemID  string       `bun:"order_item_id,notnull,unique:ticket_unit" json:"orderItemId"`
	Seq          int          `bun:"seq,notnull,unique:ticket_unit" json:"-"`
	TicketTypeID string       `bun:"ticket_type_id,notnull" json:"ticketTypeId"`
	PurchaserID  string       `bun:"purchaser_id,notnull" json:"purchaserId"`
	AttendeeID   *string      `bun:"attendee_id" json:"attendeeId,omitempty"`
	Status       TicketStatus `bun:"status,notnull" json:"status"`
	InviteToken  *string      `bun:"invite_token,unique" json:"-"`
	InviteEmail  string       `bun:"invite_email,nullzero" json:"inviteEmail,omitempty"`
	InvitedAt    *time.Time   `bun:"invited_at" json:"invitedAt,omitempty"`
	AssignedAt   *time.Time   `bun:"assigned_at" json:"assignedAt,omitempty"`
	IssuedAt     time.Time    `bun:"issued_at,notnull,default:current_timestamp" json:"issuedAt"`

	TicketType *TicketType `bun:"rel:belongs-to,join:ticket_type_id=id" json:"ticketType,omitempty"`
}

// InviteDetails is what an invitee sees before accepting.
type InviteDetails struct {
	TicketID       string `json:"ticketId"`
	TicketNumber   string `json:"ticketNumber"`
	TicketTypeName string `json:"ticketTypeName"`
	PurchaserName  string `json:"purchaserName"`
	InviteEmail    string `json:"inviteEmail"`
}
