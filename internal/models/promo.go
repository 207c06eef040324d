package models

import (
	"time"

	"github.com/uptrace/bun"
)

type DiscountType string

const (
	DiscountFreeAll     DiscountType = "free_all"
	DiscountMemberPrice DiscountType = "member_price"
	DiscountFixedPrice  DiscountType = "fixed_price"
)

type PromoCode struct {
	bun.BaseModel `bun:"table:promo_codes"`

	ID             string       `bun:"id,pk" json:"id"`
	Code           string       `bun:"code,notnull,unique" json:"code"`
	DiscountType   DiscountType `bun:"discount_type,notnull" json:"discountType"`
	DiscountAmount int64        `bun:"discount_amount,notnull" json:"discountAmount"`
	MaxUses        *int         `bun:"max_uses" json:"maxUses,omitempty"`
	MaxUsesPerUser *int         `bun:"max_uses_per_user" json:"maxUsesPerUser,omitempty"`
	CurrentUses    int          `bun:"current_uses,notnull" json:"currentUses"`
	ValidFrom      *time.Time   `bun:"valid_from" json:"validFrom,omitempty"`
	ValidUntil     *time.Time   `bun:"valid_until" json:"validUntil,omitempty"`
	Active         bool         `bun:"active,notnull" json:"active"`
	CreatedAt      time.Time    `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

type PromoCodeUse struct {
	bun.BaseModel `bun:"table:promo_code_uses"`

	ID          string    `bun:"id,pk" json:"id"`
	PromoCodeID string    `bun:"promo_code_id,notnull" json:"promoCodeId"`
	OrderID     string    `bun:"order_id,notnull,unique" json:"orderId"`
	UserID      string    `bun:"user_id,notnull" json:"userId"`
	UsedAt      time.Time `bun:"used_at,notnull,default:current_timestamp" json:"usedAt"`
}
