package models

import (
	"time"

	"github.com/uptrace/bun"
)

type AccountTier string

const (
	AccountTierIndividual AccountTier = "individual"
	AccountTierCompany    AccountTier = "company"
)

// CapabilityAttendee is granted on invite acceptance and never replaces other capabilities.
const CapabilityAttendee = "attendee"

// CapabilityOrganizer grants access to the sales report and the order book.
const CapabilityOrganizer = "organizer"

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID          string      `bun:"id,pk" json:"id"`
	Email       string      `bun:"email,unique,notnull" json:"email"`
	FullName    string      `bun:"full_name,notnull" json:"fullName"`
	AccountTier AccountTier `bun:"account_tier,notnull" json:"accountTier"`
	CreatedAt   time.Time   `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

type UserCapability struct {
	bun.BaseModel `bun:"table:user_capabilities"`

	UserID     string    `bun:"user_id,pk" json:"userId"`
	Capability string    `bun:"capability,pk" json:"capability"`
	GrantedAt  time.Time `bun:"granted_at,notnull,default:current_timestamp" json:"grantedAt"`
}
