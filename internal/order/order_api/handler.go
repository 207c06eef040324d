package order_api

import (
	"fmt"
	"net/http"

	"ms-conference-ticketing/internal/apperror"
	"ms-conference-ticketing/internal/auth"
	"ms-conference-ticketing/internal/logger"
	"ms-conference-ticketing/internal/order"
	"ms-conference-ticketing/internal/sse"
	"ms-conference-ticketing/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	OrderService *order.OrderService
	Events       *sse.OrderEventEmitter
	Logger       *logger.Logger
}

func NewHandler(orderService *order.OrderService, events *sse.OrderEventEmitter, log *logger.Logger) *Handler {
	return &Handler{
		OrderService: orderService,
		Events:       events,
		Logger:       log,
	}
}

// Register mounts the catalog, checkout, order and webhook routes.
func (h *Handler) Register(r chi.Router, requireAuth, optionalAuth func(http.Handler) http.Handler) {
	r.Get("/api/ticket-types", h.ListTicketTypes)
	r.Post("/api/webhooks/stripe", h.StripeWebhook)
	r.With(optionalAuth).Get("/api/promo/validate", h.ValidatePromo)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/api/checkout", h.Checkout)
		r.Get("/api/orders", h.ListOrders)
		r.Get("/api/orders/{id}", h.GetOrder)
		r.Post("/api/orders/{id}/cancel", h.CancelOrder)
		r.Get("/api/orders/{id}/events", h.OrderEvents)
	})
}

func (h *Handler) ListTicketTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.OrderService.ListTicketTypes(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, types)
}

// ValidatePromo previews a promo code for the cart. Anonymous callers skip
// the per-user cap.
func (h *Handler) ValidatePromo(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		utils.WriteError(w, apperror.Validation("code is required"))
		return
	}

	preview, err := h.OrderService.ValidatePromo(r.Context(), code, auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, preview)
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req order.CheckoutRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}

	userID := auth.UserID(r.Context())
	h.Logger.Debug("API", fmt.Sprintf("Checkout: user=%s items=%d method=%s", userID, len(req.Items), req.PaymentMethod))

	result, err := h.OrderService.Checkout(r.Context(), userID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.OrderService.ListOrders(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, orders)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.OrderService.GetOrder(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, o)
}

type successResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if err := h.OrderService.CancelOrder(r.Context(), auth.UserID(r.Context()), orderID); err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperror.HTTPStatus(err) >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
	}
	utils.WriteError(w, err)
}
