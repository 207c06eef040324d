package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-conference-ticketing/internal/logger"
	"ms-conference-ticketing/internal/models"
	"ms-conference-ticketing/internal/payment"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")
	ErrUnsupportedMethod      = errors.New("unsupported payment method")
)

// Checkout sessions cannot stay open longer than this on Stripe's side.
const maxSessionLifetime = 24 * time.Hour

// StripeService implements payment.Gateway on Stripe Checkout and Invoicing.
type StripeService struct {
	client *client.API
	log    *logger.Logger
	now    func() time.Time
}

func NewStripeService(secretKey string, log *logger.Logger) (*StripeService, error) {
	if secretKey == "" {
		log.Error("STRIPE", "Stripe secret key is not configured")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(secretKey, nil)
	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeService{client: sc, log: log, now: time.Now}, nil
}

func (s *StripeService) CreateCheckoutSession(ctx context.Context, req payment.CheckoutSessionRequest) (*payment.CheckoutSession, error) {
	params, err := buildCheckoutParams(req, s.now())
	if err != nil {
		return nil, err
	}
	params.Context = ctx

	if req.Method == models.PaymentMethodBankTransfer {
		// Bank transfers settle against a customer balance.
		cust, err := s.client.Customers.New(&stripe.CustomerParams{
			Params: stripe.Params{Context: ctx},
			Email:  stripe.String(req.CustomerEmail),
		})
		if err != nil {
			s.log.Error("STRIPE", fmt.Sprintf("Failed to create customer for bank transfer: %v", err))
			return nil, fmt.Errorf("create customer: %w", err)
		}
		params.Customer = stripe.String(cust.ID)
		params.CustomerEmail = nil
	}

	sess, err := s.client.CheckoutSessions.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create checkout session for order %s: %v", req.Metadata[payment.MetadataOrderID], err))
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	s.log.Info("STRIPE", fmt.Sprintf("Created %s checkout session %s for order %s", req.Method, sess.ID, req.Metadata[payment.MetadataOrderID]))
	return &payment.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func buildCheckoutParams(req payment.CheckoutSessionRequest, now time.Time) (*stripe.CheckoutSessionParams, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	switch req.Method {
	case models.PaymentMethodCard:
		params.PaymentMethodTypes = stripe.StringSlice([]string{"card"})
	case models.PaymentMethodBankTransfer:
		params.PaymentMethodTypes = stripe.StringSlice([]string{"customer_balance"})
		params.PaymentMethodOptions = &stripe.CheckoutSessionPaymentMethodOptionsParams{
			CustomerBalance: &stripe.CheckoutSessionPaymentMethodOptionsCustomerBalanceParams{
				FundingType: stripe.String("bank_transfer"),
				BankTransfer: &stripe.CheckoutSessionPaymentMethodOptionsCustomerBalanceBankTransferParams{
					Type: stripe.String("jp_bank_transfer"),
				},
			},
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, req.Method)
	}

	for _, li := range req.LineItems {
		if li.UnitAmount <= 0 || li.Quantity <= 0 {
			continue
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(li.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(li.Name),
				},
			},
			Quantity: stripe.Int64(li.Quantity),
		})
	}
	if len(params.LineItems) == 0 {
		return nil, errors.New("checkout session needs at least one billable line item")
	}

	if req.ExpiresAt != nil {
		expires := *req.ExpiresAt
		if limit := now.Add(maxSessionLifetime); expires.After(limit) {
			expires = limit
		}
		params.ExpiresAt = stripe.Int64(expires.Unix())
	}

	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: req.Metadata}
	return params, nil
}

// CreateInvoice creates a customer for the company, adds one invoice item per
// line, then finalises and sends the invoice.
func (s *StripeService) CreateInvoice(ctx context.Context, req payment.InvoiceRequest) (*payment.Invoice, error) {
	orderID := req.Metadata[payment.MetadataOrderID]

	cust, err := s.client.Customers.New(&stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Name:   stripe.String(req.Customer.Name),
		Email:  stripe.String(req.Customer.Email),
		Phone:  stripe.String(req.Customer.Phone),
		Address: &stripe.AddressParams{
			Line1: stripe.String(req.Customer.Address),
		},
	})
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create invoice customer for order %s: %v", orderID, err))
		return nil, fmt.Errorf("create customer: %w", err)
	}

	invParams := &stripe.InvoiceParams{
		Params:                      stripe.Params{Context: ctx},
		Customer:                    stripe.String(cust.ID),
		Currency:                    stripe.String(req.Currency),
		CollectionMethod:            stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		DueDate:                     stripe.Int64(req.DueDate.Unix()),
		PendingInvoiceItemsBehavior: stripe.String("exclude"),
	}
	for k, v := range req.Metadata {
		invParams.AddMetadata(k, v)
	}
	inv, err := s.client.Invoices.New(invParams)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create invoice for order %s: %v", orderID, err))
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	for _, li := range req.LineItems {
		if li.UnitAmount <= 0 || li.Quantity <= 0 {
			continue
		}
		_, err := s.client.InvoiceItems.New(&stripe.InvoiceItemParams{
			Params:      stripe.Params{Context: ctx},
			Customer:    stripe.String(cust.ID),
			Invoice:     stripe.String(inv.ID),
			Currency:    stripe.String(req.Currency),
			Amount:      stripe.Int64(li.UnitAmount * li.Quantity),
			Description: stripe.String(fmt.Sprintf("%s x %d", li.Name, li.Quantity)),
		})
		if err != nil {
			s.log.Error("STRIPE", fmt.Sprintf("Failed to add invoice item to %s: %v", inv.ID, err))
			return nil, fmt.Errorf("create invoice item: %w", err)
		}
	}

	finalized, err := s.client.Invoices.FinalizeInvoice(inv.ID, &stripe.InvoiceFinalizeInvoiceParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to finalize invoice %s: %v", inv.ID, err))
		return nil, fmt.Errorf("finalize invoice: %w", err)
	}

	if _, err := s.client.Invoices.SendInvoice(inv.ID, &stripe.InvoiceSendInvoiceParams{
		Params: stripe.Params{Context: ctx},
	}); err != nil {
		// The hosted URL works without the email.
		s.log.Warn("STRIPE", fmt.Sprintf("Failed to send invoice %s: %v", inv.ID, err))
	}

	s.log.Info("STRIPE", fmt.Sprintf("Created invoice %s for order %s", inv.ID, orderID))
	return &payment.Invoice{
		ID:        finalized.ID,
		HostedURL: finalized.HostedInvoiceURL,
		PDFURL:    finalized.InvoicePDF,
	}, nil
}

func (s *StripeService) CancelPayment(ctx context.Context, method models.PaymentMethod, reference string) error {
	if reference == "" {
		return nil
	}
	switch method {
	case models.PaymentMethodCard, models.PaymentMethodBankTransfer:
		_, err := s.client.CheckoutSessions.Expire(reference, &stripe.CheckoutSessionExpireParams{
			Params: stripe.Params{Context: ctx},
		})
		if err != nil {
			return fmt.Errorf("expire checkout session %s: %w", reference, err)
		}
	case models.PaymentMethodInvoice:
		_, err := s.client.Invoices.VoidInvoice(reference, &stripe.InvoiceVoidInvoiceParams{
			Params: stripe.Params{Context: ctx},
		})
		if err != nil {
			return fmt.Errorf("void invoice %s: %w", reference, err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	s.log.Info("STRIPE", fmt.Sprintf("Cancelled %s payment %s", method, reference))
	return nil
}

// VerifyWebhook checks the Stripe-Signature header against secret and
// decodes the event. API version mismatches between the account and this
// library are tolerated.
func VerifyWebhook(payload []byte, signatureHeader, secret string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
