package analytics_api

import (
	"net/http"
	"strconv"
	"time"

	"ms-conference-ticketing/internal/analytics"
	"ms-conference-ticketing/internal/apperror"
	"ms-conference-ticketing/internal/logger"
	"ms-conference-ticketing/internal/models"
	"ms-conference-ticketing/internal/utils"

	"github.com/go-chi/chi/v5"
)

// Handler serves the organizer endpoints.
type Handler struct {
	Service      *analytics.Service
	Capabilities CapabilityLister
	Logger       *logger.Logger
}

func NewHandler(service *analytics.Service, capabilities CapabilityLister, log *logger.Logger) *Handler {
	return &Handler{
		Service:      service,
		Capabilities: capabilities,
		Logger:       log,
	}
}

// Register mounts the organizer routes behind requireAuth.
func (h *Handler) Register(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(requireAuth, h.requireOrganizer)
		r.Get("/sales", h.GetSalesReport)
		r.Get("/orders", h.ListOrders)
	})
}

// GetSalesReport accepts optional from/to bounds as YYYY-MM-DD or RFC 3339.
// A bare date for to includes that whole day.
func (h *Handler) GetSalesReport(w http.ResponseWriter, r *http.Request) {
	var rng analytics.Range
	var err error
	if rng.From, err = parseBound(r.URL.Query().Get("from"), false); err != nil {
		utils.WriteError(w, err)
		return
	}
	if rng.To, err = parseBound(r.URL.Query().Get("to"), true); err != nil {
		utils.WriteError(w, err)
		return
	}

	report, err := h.Service.SalesReport(r.Context(), rng)
	if err != nil {
		h.fail(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, report)
}

// ListOrders handles the order book with optional filters, sorting and paging.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := analytics.OrderFilter{
		Status:   models.OrderStatus(q.Get("status")),
		UserID:   q.Get("userId"),
		SortBy:   q.Get("sort"),
		SortDesc: q.Get("order") == "desc",
	}
	switch filter.Status {
	case "", models.OrderStatusPending, models.OrderStatusPaid, models.OrderStatusCancelled, models.OrderStatusRefunded:
	default:
		utils.WriteError(w, apperror.Validation("unknown status: "+string(filter.Status)))
		return
	}

	var err error
	if filter.Limit, err = parseCount(q.Get("limit"), "limit"); err != nil {
		utils.WriteError(w, err)
		return
	}
	if filter.Offset, err = parseCount(q.Get("offset"), "offset"); err != nil {
		utils.WriteError(w, err)
		return
	}

	orders, err := h.Service.ListOrders(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, orders)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if apperror.HTTPStatus(err) >= http.StatusInternalServerError {
		h.Logger.Error("ANALYTICS", err.Error())
	}
	utils.WriteError(w, err)
}

func parseBound(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, apperror.Validation("invalid date: " + s)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1)
	}
	return &t, nil
}

func parseCount(s, name string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, apperror.Validation(name + " must be a non-negative integer")
	}
	return n, nil
}
