// Package payment describes what the order flow needs from the payment
// provider. The provider remains the system of record for payment status.
package payment

import (
	"context"
	"time"

	"ms-conference-ticketing/internal/models"
)

// Metadata keys written on every provider object and read back by the webhook.
const (
	MetadataOrderID = "order_id"
	MetadataUserID  = "user_id"
)

type LineItem struct {
	Name       string
	UnitAmount int64
	Quantity   int64
}

type CheckoutSessionRequest struct {
	Method        models.PaymentMethod
	Currency      string
	LineItems     []LineItem
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
	ExpiresAt     *time.Time
}

type CheckoutSession struct {
	ID  string
	URL string
}

type Customer struct {
	Name    string
	Email   string
	Address string
	Phone   string
}

type InvoiceRequest struct {
	Currency  string
	Customer  Customer
	LineItems []LineItem
	DueDate   time.Time
	Metadata  map[string]string
}

type Invoice struct {
	ID        string
	HostedURL string
	PDFURL    string
}

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
	// CancelPayment stops an unpaid session or invoice from being paid later.
	CancelPayment(ctx context.Context, method models.PaymentMethod, reference string) error
}

// InvoiceDueDate is the last calendar day of the month after orderedAt, at
// the end of that day in orderedAt's location.
func InvoiceDueDate(orderedAt time.Time) time.Time {
	y, m, _ := orderedAt.Date()
	// Day 0 of month m+2 is the last day of month m+1.
	last := time.Date(y, m+2, 0, 0, 0, 0, 0, orderedAt.Location())
	return last.Add(24*time.Hour - time.Second)
}
