package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded is set by the out-of-band refund process only.
	OrderStatusRefunded OrderStatus = "refunded"
)

type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodInvoice      PaymentMethod = "invoice"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodBankTransfer, PaymentMethodInvoice:
		return true
	}
	return false
}

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID             string        `bun:"id,pk" json:"id"`
	UserID         string        `bun:"user_id,notnull" json:"userId"`
	Status         OrderStatus   `bun:"status,notnull" json:"status"`
	PaymentMethod  PaymentMethod `bun:"payment_method,notnull" json:"paymentMethod"`
	Subtotal       int64         `bun:"subtotal,notnull" json:"subtotal"`
	DiscountAmount int64         `bun:"discount_amount,notnull" json:"discountAmount"`
	TaxAmount      int64         `bun:"tax_amount,notnull" json:"taxAmount"`
	TotalAmount    int64         `bun:"total_amount,notnull" json:"totalAmount"`
	PromoCodeID    *string       `bun:"promo_code_id" json:"promoCodeId,omitempty"`
	PromoCode      string        `bun:"promo_code,nullzero" json:"promoCode,omitempty"`

	CompanyName    string `bun:"company_name,nullzero" json:"companyName,omitempty"`
	CompanyAddress string `bun:"company_address,nullzero" json:"companyAddress,omitempty"`
	CompanyPhone   string `bun:"company_phone,nullzero" json:"companyPhone,omitempty"`

	PaymentSessionID string     `bun:"payment_session_id,nullzero" json:"-"`
	PaymentIntentID  string     `bun:"payment_intent_id,nullzero" json:"-"`
	PaymentURL       string     `bun:"payment_url,nullzero" json:"paymentUrl,omitempty"`
	InvoicePDFURL    string     `bun:"invoice_pdf_url,nullzero" json:"invoicePdfUrl,omitempty"`
	PaymentDueAt     *time.Time `bun:"payment_due_at" json:"paymentDueAt,omitempty"`
	PaidAt           *time.Time `bun:"paid_at" json:"paidAt,omitempty"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`

	Items []*OrderItem `bun:"rel:has-many,join:id=order_id" json:"items,omitempty"`
}

// Quantity is the number of ticket units across all items.
func (o *Order) Quantity() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID                  string    `bun:"id,pk" json:"id"`
	OrderID             string    `bun:"order_id,notnull" json:"orderId"`
	TicketTypeID        string    `bun:"ticket_type_id,notnull" json:"ticketTypeId"`
	TicketTypeName      string    `bun:"ticket_type_name,notnull" json:"ticketTypeName"`
	Quantity            int       `bun:"quantity,notnull" json:"quantity"`
	UnitPrice           int64     `bun:"unit_price,notnull" json:"unitPrice"`
	DiscountedUnitPrice int64     `bun:"discounted_unit_price,notnull" json:"discountedUnitPrice"`
	CreatedAt           time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

type CartItem struct {
	TicketTypeID string `json:"ticketTypeId"`
	Quantity     int    `json:"quantity"`
}

// CompanyInfo is required for invoice payment.
type CompanyInfo struct {
	Name    string `json:"companyName"`
	Address string `json:"companyAddress"`
	Phone   string `json:"companyPhone"`
}

// Complete reports whether every field has non-blank content.
func (c *CompanyInfo) Complete() bool {
	if c == nil {
		return false
	}
	for _, f := range []string{c.Name, c.Address, c.Phone} {
		if strings.TrimSpace(f) == "" {
			return false
		}
	}
	return true
}
