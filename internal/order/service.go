package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-conference-ticketing/internal/apperror"
	"ms-conference-ticketing/internal/database"
	"ms-conference-ticketing/internal/logger"
	"ms-conference-ticketing/internal/models"
	"ms-conference-ticketing/internal/notification"
	"ms-conference-ticketing/internal/order/db"
	"ms-conference-ticketing/internal/order/discount"
	orderredis "ms-conference-ticketing/internal/order/redis"
	"ms-conference-ticketing/internal/payment"
	"ms-conference-ticketing/internal/pricing"
	"ms-conference-ticketing/internal/sse"

	"github.com/google/uuid"
)

// freeReferencePrefix marks orders confirmed without the payment provider.
const freeReferencePrefix = "free_"

// individualHoldLimit caps the units an individual account may hold across
// its pending and paid orders.
const individualHoldLimit = 1

type DBLayer interface {
	ListTicketTypes(ctx context.Context, activeOnly bool) ([]*models.TicketType, error)
	GetTicketTypes(ctx context.Context, ids []string) (map[string]*models.TicketType, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	CreateOrderWithinHoldLimit(ctx context.Context, order *models.Order, limit int) (bool, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItems(ctx context.Context, items []*models.OrderItem) error
	DeleteOrder(ctx context.Context, orderID string) error
	SetPaymentReference(ctx context.Context, orderID string, ref db.PaymentReference) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]*models.Order, error)
	MarkPaid(ctx context.Context, orderID, paymentIntentID string, paidAt time.Time) (bool, error)
	CancelPendingOrder(ctx context.Context, orderID, userID string) (bool, error)
}

type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type KafkaPublisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishOrderPaid(ctx context.Context, order *models.Order) error
	PublishOrderCancelled(ctx context.Context, order *models.Order) error
}

type PromoValidator interface {
	ValidateCode(ctx context.Context, code, userID string) (*discount.Result, error)
	ValidateID(ctx context.Context, id, userID string) (*discount.Result, error)
}

type TicketIssuer interface {
	// IssueForOrder returns every ticket of the order and how many of them
	// the call created.
	IssueForOrder(ctx context.Context, order *models.Order) ([]*models.Ticket, int, error)
}

// StatusEmitter receives order status changes for live clients.
type StatusEmitter interface {
	Emit(update sse.OrderStatusUpdate)
}

type Options struct {
	Currency           string
	TaxLabel           string
	BankTransferExpiry time.Duration
	BaseURL            string
	WebhookSecret      string
}

type OrderService struct {
	DB       DBLayer
	Redis    Locker
	Kafka    KafkaPublisher
	Gateway  payment.Gateway
	Promos   PromoValidator
	Tickets  TicketIssuer
	Notifier notification.Notifier
	Status   StatusEmitter
	Pricing  *pricing.Engine
	logger   *logger.Logger
	opts     Options
	now      func() time.Time
}

type Deps struct {
	DB       DBLayer
	Redis    Locker
	Kafka    KafkaPublisher
	Gateway  payment.Gateway
	Promos   PromoValidator
	Tickets  TicketIssuer
	Notifier notification.Notifier
	Status   StatusEmitter
	Pricing  *pricing.Engine
}

func NewOrderService(d Deps, opts Options, log *logger.Logger) *OrderService {
	if d.Redis == nil {
		d.Redis = orderredis.NopLocker{}
	}
	if d.Pricing == nil {
		d.Pricing = pricing.Default()
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &OrderService{
		DB:       d.DB,
		Redis:    d.Redis,
		Kafka:    d.Kafka,
		Gateway:  d.Gateway,
		Promos:   d.Promos,
		Tickets:  d.Tickets,
		Notifier: d.Notifier,
		Status:   d.Status,
		Pricing:  d.Pricing,
		logger:   log,
		opts:     opts,
		now:      time.Now,
	}
}

// ---------------- CHECKOUT ----------------

type CheckoutRequest struct {
	Items         []models.CartItem    `json:"items"`
	PromoCodeID   string               `json:"promoCodeId,omitempty"`
	PaymentMethod models.PaymentMethod `json:"paymentMethod"`
	CompanyInfo   *models.CompanyInfo  `json:"companyInfo,omitempty"`
}

// CheckoutResult carries the redirect target: a checkout URL for card and
// bank transfer, the hosted invoice for invoice payment.
type CheckoutResult struct {
	OrderID    string `json:"orderId"`
	URL        string `json:"url,omitempty"`
	InvoiceURL string `json:"invoiceUrl,omitempty"`
	InvoicePDF string `json:"invoicePdf,omitempty"`
}

// Checkout turns a cart into a pending order and opens the payment with the
// provider. Every precondition is checked before anything is written.
func (s *OrderService) Checkout(ctx context.Context, userID string, req CheckoutRequest) (*CheckoutResult, error) {
	cart, err := normaliseCart(req.Items)
	if err != nil {
		return nil, err
	}
	if !req.PaymentMethod.Valid() {
		return nil, apperror.Validation("unsupported payment method")
	}

	user, err := s.DB.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperror.Unauthorized("user account not found")
		}
		return nil, err
	}

	if req.PaymentMethod == models.PaymentMethodInvoice {
		if user.AccountTier != models.AccountTierCompany {
			return nil, apperror.Validation("invoice payment is only available to company accounts")
		}
		if !req.CompanyInfo.Complete() {
			return nil, apperror.Validation("company name, address and phone are required for invoice payment")
		}
	}

	lines, err := s.resolveLines(ctx, cart)
	if err != nil {
		return nil, err
	}

	var promo *models.PromoCode
	if req.PromoCodeID != "" {
		res, err := s.Promos.ValidateID(ctx, req.PromoCodeID, userID)
		if err != nil {
			return nil, err
		}
		if !res.Valid {
			return nil, apperror.Validation(res.Reason)
		}
		promo = res.Promo
	}

	breakdown := s.Pricing.Calculate(lines, pricing.DiscountFor(promo))
	alloc := s.Pricing.Allocate(lines, breakdown)

	order := &models.Order{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		Status:         models.OrderStatusPending,
		PaymentMethod:  req.PaymentMethod,
		Subtotal:       breakdown.Subtotal,
		DiscountAmount: breakdown.Discount,
		TaxAmount:      breakdown.Tax,
		TotalAmount:    breakdown.Total,
	}
	if promo != nil {
		order.PromoCodeID = &promo.ID
		order.PromoCode = promo.Code
	}
	if req.CompanyInfo != nil {
		order.CompanyName = req.CompanyInfo.Name
		order.CompanyAddress = req.CompanyInfo.Address
		order.CompanyPhone = req.CompanyInfo.Phone
	}
	for _, l := range alloc.Lines {
		order.Items = append(order.Items, &models.OrderItem{
			ID:                  uuid.NewString(),
			OrderID:             order.ID,
			TicketTypeID:        l.TicketTypeID,
			TicketTypeName:      l.Name,
			Quantity:            l.Quantity,
			UnitPrice:           l.UnitPrice,
			DiscountedUnitPrice: l.DiscountedUnitPrice,
		})
	}

	// The purchaser lock only spares the database contended checkouts. The
	// one ticket limit is enforced by the transaction in the DB layer.
	err = s.Redis.WithLock(ctx, orderredis.CheckoutLockKey(user.ID), func(ctx context.Context) error {
		if user.AccountTier != models.AccountTierIndividual {
			return s.persistOrder(ctx, order)
		}
		ok, err := s.DB.CreateOrderWithinHoldLimit(ctx, order, individualHoldLimit)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if !ok {
			return apperror.Validation("individual accounts can hold only one ticket")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.LogOrder("CREATED", order.ID, fmt.Sprintf("user=%s method=%s total=%d", user.ID, order.PaymentMethod, order.TotalAmount))

	if order.TotalAmount == 0 {
		return s.confirmFree(ctx, order)
	}

	result, err := s.openPayment(ctx, user, order, alloc)
	if err != nil {
		if delErr := s.DB.DeleteOrder(ctx, order.ID); delErr != nil {
			s.logger.Error("ORDER", fmt.Sprintf("Failed to remove order %s after payment setup failure: %v", order.ID, delErr))
		}
		return nil, err
	}

	if err := s.Kafka.PublishOrderCreated(ctx, order); err != nil {
		s.logger.Warn("KAFKA", fmt.Sprintf("Failed to publish order created for %s: %v", order.ID, err))
	}
	return result, nil
}

// persistOrder writes the order and its items. If the items cannot be
// written the order row is removed again.
func (s *OrderService) persistOrder(ctx context.Context, order *models.Order) error {
	if err := s.DB.CreateOrder(ctx, order); err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	if err := s.DB.CreateOrderItems(ctx, order.Items); err != nil {
		s.logger.Error("ORDER", fmt.Sprintf("Failed to create items for order %s, rolling back: %v", order.ID, err))
		if delErr := s.DB.DeleteOrder(ctx, order.ID); delErr != nil {
			s.logger.Error("ORDER", fmt.Sprintf("Failed to remove order %s without items: %v", order.ID, delErr))
		}
		return fmt.Errorf("create order items: %w", err)
	}
	return nil
}

func (s *OrderService) confirmFree(ctx context.Context, order *models.Order) (*CheckoutResult, error) {
	if _, err := s.ConfirmPayment(ctx, order.ID, order.UserID, freeReferencePrefix+order.ID); err != nil {
		// The order is paid at this point; only issuance can have failed.
		s.logger.Error("ORDER", fmt.Sprintf("Free order %s confirmed with errors: %v", order.ID, err))
	}
	if err := s.Kafka.PublishOrderCreated(ctx, order); err != nil {
		s.logger.Warn("KAFKA", fmt.Sprintf("Failed to publish order created for %s: %v", order.ID, err))
	}
	return &CheckoutResult{OrderID: order.ID, URL: s.successURL(order.ID)}, nil
}

func (s *OrderService) openPayment(ctx context.Context, user *models.User, order *models.Order, alloc pricing.Allocation) (*CheckoutResult, error) {
	items := make([]payment.LineItem, 0, len(alloc.Lines)+1)
	for _, l := range alloc.Lines {
		items = append(items, payment.LineItem{Name: l.Name, UnitAmount: l.DiscountedUnitPrice, Quantity: int64(l.Quantity)})
	}
	if alloc.TaxLine > 0 {
		items = append(items, payment.LineItem{Name: s.opts.TaxLabel, UnitAmount: alloc.TaxLine, Quantity: 1})
	}
	metadata := map[string]string{
		payment.MetadataOrderID: order.ID,
		payment.MetadataUserID:  order.UserID,
	}

	var ref db.PaymentReference
	var result *CheckoutResult
	now := s.now()

	switch order.PaymentMethod {
	case models.PaymentMethodInvoice:
		due := payment.InvoiceDueDate(now)
		inv, err := s.Gateway.CreateInvoice(ctx, payment.InvoiceRequest{
			Currency: s.opts.Currency,
			Customer: payment.Customer{
				Name:    order.CompanyName,
				Email:   user.Email,
				Address: order.CompanyAddress,
				Phone:   order.CompanyPhone,
			},
			LineItems: items,
			DueDate:   due,
			Metadata:  metadata,
		})
		if err != nil {
			return nil, apperror.External("failed to create invoice", err)
		}
		ref = db.PaymentReference{SessionID: inv.ID, URL: inv.HostedURL, PDFURL: inv.PDFURL, DueAt: &due}
		result = &CheckoutResult{OrderID: order.ID, InvoiceURL: inv.HostedURL, InvoicePDF: inv.PDFURL}

	default:
		req := payment.CheckoutSessionRequest{
			Method:        order.PaymentMethod,
			Currency:      s.opts.Currency,
			LineItems:     items,
			CustomerEmail: user.Email,
			SuccessURL:    s.successURL(order.ID),
			CancelURL:     s.opts.BaseURL + "/checkout/cancel?order_id=" + order.ID,
			Metadata:      metadata,
		}
		if order.PaymentMethod == models.PaymentMethodBankTransfer {
			expires := now.Add(s.opts.BankTransferExpiry)
			req.ExpiresAt = &expires
			ref.DueAt = &expires
		}
		sess, err := s.Gateway.CreateCheckoutSession(ctx, req)
		if err != nil {
			return nil, apperror.External("failed to create checkout session", err)
		}
		ref.SessionID, ref.URL = sess.ID, sess.URL
		result = &CheckoutResult{OrderID: order.ID, URL: sess.URL}
	}

	if err := s.DB.SetPaymentReference(ctx, order.ID, ref); err != nil {
		// The webhook finds the order through metadata, so this is not fatal.
		s.logger.Error("ORDER", fmt.Sprintf("Failed to store payment reference %s on order %s: %v", ref.SessionID, order.ID, err))
	}
	order.PaymentSessionID = ref.SessionID
	return result, nil
}

func (s *OrderService) successURL(orderID string) string {
	return s.opts.BaseURL + "/checkout/success?order_id=" + orderID
}

// normaliseCart rejects empty carts and bad quantities and merges repeated
// ticket types, keeping first-seen order.
func normaliseCart(items []models.CartItem) ([]models.CartItem, error) {
	if len(items) == 0 {
		return nil, apperror.Validation("cart is empty")
	}
	index := make(map[string]int, len(items))
	var out []models.CartItem
	for _, it := range items {
		if it.TicketTypeID == "" {
			return nil, apperror.Validation("ticketTypeId is required")
		}
		if it.Quantity < 1 {
			return nil, apperror.Validation(fmt.Sprintf("quantity for %s must be at least 1", it.TicketTypeID))
		}
		if i, ok := index[it.TicketTypeID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		index[it.TicketTypeID] = len(out)
		out = append(out, it)
	}
	return out, nil
}

func (s *OrderService) resolveLines(ctx context.Context, cart []models.CartItem) ([]pricing.Line, error) {
	ids := make([]string, len(cart))
	for i, it := range cart {
		ids[i] = it.TicketTypeID
	}
	types, err := s.DB.GetTicketTypes(ctx, ids)
	if err != nil {
		return nil, err
	}

	lines := make([]pricing.Line, 0, len(cart))
	for _, it := range cart {
		tt, ok := types[it.TicketTypeID]
		if !ok || !tt.Active {
			return nil, apperror.Validation(fmt.Sprintf("unknown ticket type: %s", it.TicketTypeID))
		}
		lines = append(lines, pricing.Line{
			TicketTypeID: tt.ID,
			Name:         tt.Name,
			UnitPrice:    tt.Price,
			Quantity:     it.Quantity,
		})
	}
	return lines, nil
}

// ---------------- PAYMENT CONFIRMATION ----------------

// ConfirmPayment marks a pending order paid and issues its tickets. It is
// safe to call again for the same order: a paid order only gets missing
// tickets filled in, and the confirmation side effects run once, when the
// order's tickets are first issued.
// userID, when set, must match the order's owner.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID, userID, reference string) ([]*models.Ticket, error) {
	var tickets []*models.Ticket
	err := s.Redis.WithLock(ctx, orderredis.OrderLockKey(orderID), func(ctx context.Context) error {
		var err error
		tickets, err = s.confirmLocked(ctx, orderID, userID, reference)
		return err
	})
	return tickets, err
}

func (s *OrderService) confirmLocked(ctx context.Context, orderID, userID, reference string) ([]*models.Ticket, error) {
	order, err := s.loadForConfirmation(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}

	firstTime := false
	if order.Status == models.OrderStatusPending {
		firstTime, err = s.DB.MarkPaid(ctx, orderID, reference, s.now().UTC())
		if err != nil {
			return nil, err
		}
		// Reload either way: a concurrent cancel may have removed the order.
		if order, err = s.loadForConfirmation(ctx, orderID, userID); err != nil {
			return nil, err
		}
	}

	if order.Status != models.OrderStatusPaid {
		s.logger.LogOrder("CONFIRM_SKIPPED", orderID, fmt.Sprintf("order is %s, not issuing tickets", order.Status))
		return nil, apperror.Conflict(fmt.Sprintf("order is %s", order.Status))
	}
	if firstTime {
		s.logger.LogOrder("PAID", orderID, fmt.Sprintf("reference=%s total=%d", reference, order.TotalAmount))
	}

	tickets, created, err := s.Tickets.IssueForOrder(ctx, order)
	if err != nil {
		// Money has moved; the order stays paid and issuance is repaired by
		// re-delivery or by hand.
		s.logger.Error("ORDER", fmt.Sprintf("DATA REPAIR: order %s is paid but ticket issuance failed: %v", orderID, err))
		return nil, fmt.Errorf("issue tickets: %w", err)
	}

	// The confirmation goes out with the first full issuance, which is the
	// paid transition itself unless issuance failed on that delivery.
	if created > 0 && created == len(tickets) {
		s.afterPaid(ctx, order, tickets)
	}
	return tickets, nil
}

func (s *OrderService) loadForConfirmation(ctx context.Context, orderID, userID string) (*models.Order, error) {
	order, err := s.DB.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.logger.LogOrder("CONFIRM_SKIPPED", orderID, "order no longer exists, it was probably cancelled")
			return nil, apperror.NotFound("order not found")
		}
		return nil, err
	}
	if userID != "" && order.UserID != userID {
		s.logger.LogSecurity("ORDER_OWNER_MISMATCH", fmt.Sprintf("payment for order %s names user %s, owner is %s", orderID, userID, order.UserID))
		return nil, apperror.Validation("payment does not belong to this order")
	}
	return order, nil
}

// afterPaid runs the side effects of a first issuance. Failures are
// logged and never undo the payment.
func (s *OrderService) afterPaid(ctx context.Context, order *models.Order, tickets []*models.Ticket) {
	if purchaser, err := s.DB.GetUser(ctx, order.UserID); err != nil {
		s.logger.Error("NOTIFY", fmt.Sprintf("Purchase confirmation for order %s not sent, user lookup failed: %v", order.ID, err))
	} else if err := s.Notifier.PurchaseConfirmed(ctx, purchaser, order, tickets); err != nil {
		s.logger.Error("NOTIFY", fmt.Sprintf("Purchase confirmation for order %s failed: %v", order.ID, err))
	}

	if err := s.Kafka.PublishOrderPaid(ctx, order); err != nil {
		s.logger.Warn("KAFKA", fmt.Sprintf("Failed to publish order paid for %s: %v", order.ID, err))
	}
	s.emit(order.ID, models.OrderStatusPaid, len(tickets))
}

func (s *OrderService) emit(orderID string, status models.OrderStatus, ticketCount int) {
	if s.Status == nil {
		return
	}
	s.Status.Emit(sse.OrderStatusUpdate{OrderID: orderID, Status: status, TicketCount: ticketCount, At: s.now().UTC()})
}

// ---------------- CANCELLATION ----------------

// CancelOrder hard-deletes a pending order of userID together with its items
// and promo use, then voids the provider session or invoice.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID string) error {
	order, err := s.GetOrder(ctx, userID, orderID)
	if err != nil {
		return err
	}
	if order.Status != models.OrderStatusPending {
		return apperror.Validation("only pending orders can be cancelled")
	}

	err = s.Redis.WithLock(ctx, orderredis.OrderLockKey(orderID), func(ctx context.Context) error {
		ok, err := s.DB.CancelPendingOrder(ctx, orderID, userID)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.Validation("order can no longer be cancelled")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.LogOrder("CANCELLED", orderID, fmt.Sprintf("by user %s", userID))

	if ref := order.PaymentSessionID; ref != "" && !strings.HasPrefix(ref, freeReferencePrefix) {
		if err := s.Gateway.CancelPayment(ctx, order.PaymentMethod, ref); err != nil {
			s.logger.Warn("PAYMENT", fmt.Sprintf("Failed to cancel %s payment %s for order %s: %v", order.PaymentMethod, ref, orderID, err))
		}
	}

	order.Status = models.OrderStatusCancelled
	if err := s.Kafka.PublishOrderCancelled(ctx, order); err != nil {
		s.logger.Warn("KAFKA", fmt.Sprintf("Failed to publish order cancelled for %s: %v", orderID, err))
	}
	s.emit(orderID, models.OrderStatusCancelled, 0)
	return nil
}

// ---------------- QUERIES ----------------

// GetOrder returns an order of userID.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID string) (*models.Order, error) {
	order, err := s.DB.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperror.NotFound("order not found")
		}
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperror.Forbidden("order belongs to another user")
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]*models.Order, error) {
	orders, err := s.DB.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	return orders, nil
}

func (s *OrderService) ListTicketTypes(ctx context.Context) ([]*models.TicketType, error) {
	types, err := s.DB.ListTicketTypes(ctx, true)
	if err != nil {
		return nil, err
	}
	if types == nil {
		types = []*models.TicketType{}
	}
	return types, nil
}

// PromoPreview is what the cart shows for a code.
type PromoPreview struct {
	Valid        bool                `json:"valid"`
	Reason       string              `json:"reason,omitempty"`
	PromoCodeID  string              `json:"promoCodeId,omitempty"`
	Code         string              `json:"code,omitempty"`
	DiscountType models.DiscountType `json:"discountType,omitempty"`
}

// ValidatePromo checks a code for display. Without a user the per-user
// cap is not checked; checkout validates again in full.
func (s *OrderService) ValidatePromo(ctx context.Context, code, userID string) (*PromoPreview, error) {
	res, err := s.Promos.ValidateCode(ctx, code, userID)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return &PromoPreview{Reason: res.Reason}, nil
	}
	return &PromoPreview{
		Valid:        true,
		PromoCodeID:  res.Promo.ID,
		Code:         res.Promo.Code,
		DiscountType: res.Promo.DiscountType,
	}, nil
}
