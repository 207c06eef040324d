package order_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ms-conference-ticketing/internal/auth"
	"ms-conference-ticketing/internal/database/dbtest"
	"ms-conference-ticketing/internal/logger"
	"ms-conference-ticketing/internal/models"
	"ms-conference-ticketing/internal/notification"
	"ms-conference-ticketing/internal/order"
	orderdb "ms-conference-ticketing/internal/order/db"
	"ms-conference-ticketing/internal/order/discount"
	"ms-conference-ticketing/internal/payment"
	"ms-conference-ticketing/internal/sse"
	ticketdb "ms-conference-ticketing/internal/tickets/db"
	"ms-conference-ticketing/internal/tickets/qr"
	tickets "ms-conference-ticketing/internal/tickets/service"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const webhookSecret = "whsec_api"

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateCheckoutSession(ctx context.Context, req payment.CheckoutSessionRequest) (*payment.CheckoutSession, error) {
	args := m.Called(req.Method)
	return args.Get(0).(*payment.CheckoutSession), args.Error(1)
}

func (m *MockGateway) CreateInvoice(ctx context.Context, req payment.InvoiceRequest) (*payment.Invoice, error) {
	args := m.Called(req.Customer.Name)
	return args.Get(0).(*payment.Invoice), args.Error(1)
}

func (m *MockGateway) CancelPayment(ctx context.Context, method models.PaymentMethod, reference string) error {
	return m.Called(method, reference).Error(0)
}

type nopEvents struct{}

func (nopEvents) PublishOrderCreated(context.Context, *models.Order) error   { return nil }
func (nopEvents) PublishOrderPaid(context.Context, *models.Order) error      { return nil }
func (nopEvents) PublishOrderCancelled(context.Context, *models.Order) error { return nil }

type testServer struct {
	router   chi.Router
	verifier *auth.HMACVerifier
	service  *order.OrderService
	events   *sse.OrderEventEmitter
	gateway  *MockGateway
}

func newTestServer(t *testing.T) *testServer {
	bunDB := dbtest.New(t)
	dbtest.SeedUser(t, bunDB, "acme", models.AccountTierCompany)
	dbtest.SeedUser(t, bunDB, "solo", models.AccountTierIndividual)
	dbtest.SeedTicketType(t, bunDB, "full", 30000, true)
	dbtest.SeedPromo(t, bunDB, &models.PromoCode{ID: "p-free", Code: "SPEAKER", DiscountType: models.DiscountFreeAll, Active: true})

	log := logger.NewDiscard()
	orders := &orderdb.DB{Bun: bunDB}
	notifier := notification.LogNotifier{Logger: log}
	gen, err := qr.NewGenerator("test-secret-key")
	require.NoError(t, err)
	ticketSvc := tickets.NewTicketService(&ticketdb.DB{Bun: bunDB}, orders, notifier, gen, "https://conf.example.com", log)

	gateway := new(MockGateway)
	events := sse.NewOrderEventEmitter()
	svc := order.NewOrderService(order.Deps{
		DB:       orders,
		Kafka:    nopEvents{},
		Gateway:  gateway,
		Promos:   discount.NewValidator(orders, log),
		Tickets:  ticketSvc,
		Notifier: notifier,
		Status:   events,
	}, order.Options{
		Currency:           "eur",
		TaxLabel:           "VAT",
		BankTransferExpiry: 24 * time.Hour,
		BaseURL:            "https://conf.example.com",
		WebhookSecret:      webhookSecret,
	}, log)

	verifier := auth.NewHMACVerifier("dev-secret")
	r := chi.NewRouter()
	NewHandler(svc, events, log).Register(r, auth.Middleware(verifier), auth.OptionalMiddleware(verifier))
	return &testServer{router: r, verifier: verifier, service: svc, events: events, gateway: gateway}
}

func (s *testServer) request(t *testing.T, method, path, userID string, body interface{}) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if body != nil {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req = httptest.NewRequest(method, path, &buf)
	}
	if userID != "" {
		tok, err := s.verifier.Sign(userID, userID+"@example.com", time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req
}

func (s *testServer) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, s.request(t, method, path, userID, body))
	return rec
}

func (s *testServer) checkout(t *testing.T, userID string) order.CheckoutResult {
	t.Helper()
	s.gateway.On("CreateCheckoutSession", models.PaymentMethodCard).
		Return(&payment.CheckoutSession{ID: "cs_" + userID, URL: "https://pay.example.com/cs_" + userID}, nil).Once()

	rec := s.do(t, http.MethodPost, "/api/checkout", userID, map[string]interface{}{
		"items":         []map[string]interface{}{{"ticketTypeId": "full", "quantity": 1}},
		"paymentMethod": "card",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res order.CheckoutResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestCheckoutAndOrderRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/checkout", "", map[string]interface{}{"paymentMethod": "card"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	res := s.checkout(t, "acme")
	assert.Equal(t, "https://pay.example.com/cs_acme", res.URL)

	rec = s.do(t, http.MethodGet, "/api/orders/"+res.OrderID, "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var o models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, models.OrderStatusPending, o.Status)
	assert.Equal(t, int64(33000), o.TotalAmount)

	rec = s.do(t, http.MethodGet, "/api/orders/"+res.OrderID, "solo", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/orders", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestCheckoutValidationMessage(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/checkout", "solo", map[string]interface{}{
		"items":         []map[string]interface{}{{"ticketTypeId": "full", "quantity": 2}},
		"paymentMethod": "card",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "only one ticket")

	rec = s.do(t, http.MethodPost, "/api/checkout", "acme", map[string]interface{}{"items": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelRoute(t *testing.T) {
	s := newTestServer(t)
	res := s.checkout(t, "acme")
	s.gateway.On("CancelPayment", models.PaymentMethodCard, "cs_acme").Return(nil).Once()

	rec := s.do(t, http.MethodPost, "/api/orders/"+res.OrderID+"/cancel", "solo", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/orders/"+res.OrderID+"/cancel", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/orders/"+res.OrderID, "acme", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublicRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/ticket-types", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var types []models.TicketType
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &types))
	assert.Len(t, types, 1)

	rec = s.do(t, http.MethodGet, "/api/promo/validate?code=speaker", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var preview order.PromoPreview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	assert.True(t, preview.Valid)
	assert.Equal(t, "p-free", preview.PromoCodeID)

	rec = s.do(t, http.MethodGet, "/api/promo/validate", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := s.request(t, http.MethodGet, "/api/promo/validate?code=speaker", "", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func signedWebhook(t *testing.T, secret string, object map[string]interface{}) *http.Request {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":          "evt_1",
		"object":      "event",
		"type":        "checkout.session.completed",
		"api_version": "2020-08-27",
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret})

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func TestStripeWebhookRoute(t *testing.T) {
	s := newTestServer(t)
	res := s.checkout(t, "acme")
	object := map[string]interface{}{
		"id":             "cs_acme",
		"object":         "checkout.session",
		"payment_status": "paid",
		"metadata":       map[string]string{"order_id": res.OrderID, "user_id": "acme"},
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, signedWebhook(t, "whsec_wrong", object))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for i := 0; i < 2; i++ {
		rec = httptest.NewRecorder()
		s.router.ServeHTTP(rec, signedWebhook(t, webhookSecret, object))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/orders/"+res.OrderID, "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"paid"`)

	// Unknown orders are acknowledged.
	object["metadata"] = map[string]string{"order_id": "missing"}
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, signedWebhook(t, webhookSecret, object))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOrderEventsStreamsPaidTransition(t *testing.T) {
	s := newTestServer(t)
	res := s.checkout(t, "acme")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := s.request(t, http.MethodGet, "/api/orders/"+res.OrderID+"/events", "acme", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.router.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.events.ClientCount(res.OrderID) == 1 }, time.Second, 10*time.Millisecond)
	_, err := s.service.ConfirmPayment(context.Background(), res.OrderID, "acme", "pi_1")
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after the paid transition")
	}

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream;charset=UTF-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, 2, strings.Count(body, "event: status"))
	assert.Contains(t, body, `"status":"pending"`)
	assert.Contains(t, body, `"status":"paid"`)
}

func TestOrderEventsForSettledOrder(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/checkout", "acme", map[string]interface{}{
		"items":         []map[string]interface{}{{"ticketTypeId": "full", "quantity": 1}},
		"paymentMethod": "card",
		"promoCodeId":   "p-free",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res order.CheckoutResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	rec = s.do(t, http.MethodGet, "/api/orders/"+res.OrderID+"/events", "solo", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/orders/"+res.OrderID+"/events", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "event: status"))
	assert.Contains(t, rec.Body.String(), `"status":"paid"`)
}
