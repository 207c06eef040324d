package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"ms-conference-ticketing/internal/apperror"
	"ms-conference-ticketing/internal/payment"
	"ms-conference-ticketing/internal/payment/services"

	"github.com/stripe/stripe-go/v82"
)

// maxWebhookBody bounds the payload read from the provider.
const maxWebhookBody = 1 << 20

// WebhookError represents an error that occurred during webhook processing
type WebhookError struct {
	Category      string // "configuration", "validation"
	StatusCode    int    // HTTP status code
	PublicError   string // Safe to expose to clients
	InternalError string // Detailed error for logs only
	OriginalErr   error  // Underlying error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

func (e *WebhookError) Unwrap() error {
	return e.OriginalErr
}

// HandleStripeWebhook verifies and dispatches a provider event. Only a
// missing secret or a request that fails verification produces an error;
// anything that goes wrong while applying a verified event is logged and
// acknowledged so the provider does not retry business rejections forever.
func (s *OrderService) HandleStripeWebhook(r *http.Request) error {
	if s.opts.WebhookSecret == "" {
		s.logger.Error("WEBHOOK", "Stripe webhook secret is not configured")
		return &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "Stripe webhook secret is not configured",
		}
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.logger.Error("WEBHOOK", fmt.Sprintf("Failed to read webhook payload: %v", err))
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook payload",
			InternalError: fmt.Sprintf("Failed to read webhook payload: %v", err),
			OriginalErr:   err,
		}
	}

	event, err := services.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"), s.opts.WebhookSecret)
	if err != nil {
		s.logger.LogSecurity("WEBHOOK_SIGNATURE", fmt.Sprintf("rejected webhook from %s: %v", r.RemoteAddr, err))
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Webhook signature verification failed",
			InternalError: fmt.Sprintf("Webhook signature verification failed: %v", err),
			OriginalErr:   err,
		}
	}

	s.logger.Info("WEBHOOK", fmt.Sprintf("Processing Stripe webhook event %s: %s", event.ID, event.Type))
	s.dispatch(r.Context(), event)
	return nil
}

func (s *OrderService) dispatch(ctx context.Context, event stripe.Event) {
	switch string(event.Type) {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if !s.decode(event, &sess) {
			return
		}
		switch sess.PaymentStatus {
		case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
			s.confirmFromWebhook(ctx, event, sess.Metadata, sessionReference(&sess))
		default:
			// Bank transfers complete the session before the money arrives.
			s.logger.Info("WEBHOOK", fmt.Sprintf("Session %s completed with payment %s, awaiting funds for order %s",
				sess.ID, sess.PaymentStatus, sess.Metadata[payment.MetadataOrderID]))
		}

	case "checkout.session.async_payment_succeeded":
		var sess stripe.CheckoutSession
		if !s.decode(event, &sess) {
			return
		}
		s.confirmFromWebhook(ctx, event, sess.Metadata, sessionReference(&sess))

	case "invoice.paid":
		var inv stripe.Invoice
		if !s.decode(event, &inv) {
			return
		}
		s.confirmFromWebhook(ctx, event, inv.Metadata, inv.ID)

	case "checkout.session.expired", "checkout.session.async_payment_failed":
		var sess stripe.CheckoutSession
		if !s.decode(event, &sess) {
			return
		}
		// The order stays pending; the purchaser can cancel it and retry.
		s.logger.Warn("WEBHOOK", fmt.Sprintf("Payment for order %s did not complete (%s)", sess.Metadata[payment.MetadataOrderID], event.Type))

	default:
		s.logger.Info("WEBHOOK", fmt.Sprintf("Unhandled event type: %s", event.Type))
	}
}

func (s *OrderService) decode(event stripe.Event, v interface{}) bool {
	if event.Data == nil {
		s.logger.Error("WEBHOOK", fmt.Sprintf("Event %s carries no data", event.ID))
		return false
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		s.logger.Error("WEBHOOK", fmt.Sprintf("Failed to decode %s payload: %v", event.Type, err))
		return false
	}
	return true
}

func (s *OrderService) confirmFromWebhook(ctx context.Context, event stripe.Event, metadata map[string]string, reference string) {
	orderID := metadata[payment.MetadataOrderID]
	if orderID == "" {
		s.logger.Error("WEBHOOK", fmt.Sprintf("Event %s (%s) has no order_id in metadata", event.ID, event.Type))
		return
	}

	tickets, err := s.ConfirmPayment(ctx, orderID, metadata[payment.MetadataUserID], reference)
	if err != nil {
		var appErr *apperror.Error
		if errors.As(err, &appErr) {
			s.logger.Warn("WEBHOOK", fmt.Sprintf("Order %s not confirmed from %s: %v", orderID, event.ID, err))
		} else {
			s.logger.Error("WEBHOOK", fmt.Sprintf("Failed to confirm order %s from %s: %v", orderID, event.ID, err))
		}
		return
	}
	s.logger.Info("WEBHOOK", fmt.Sprintf("Order %s confirmed with %d tickets", orderID, len(tickets)))
}

// sessionReference prefers the payment intent id and falls back to the session.
func sessionReference(sess *stripe.CheckoutSession) string {
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		return sess.PaymentIntent.ID
	}
	return sess.ID
}
