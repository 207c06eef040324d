package order_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ms-conference-ticketing/internal/apperror"
	"ms-conference-ticketing/internal/auth"
	"ms-conference-ticketing/internal/models"
	"ms-conference-ticketing/internal/sse"
	"ms-conference-ticketing/internal/utils"

	"github.com/go-chi/chi/v5"
)

// keepAliveInterval keeps proxies from closing an idle stream.
const keepAliveInterval = 25 * time.Second

// OrderEvents streams status changes of one order to its owner. An order
// that is no longer pending yields a single event and the stream ends.
func (h *Handler) OrderEvents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	orderID := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.WriteError(w, apperror.Validation("streaming is not supported"))
		return
	}

	// Subscribe before reading the order so a transition in between is not lost.
	eventChan := h.Events.Subscribe(ctx, orderID)

	current, err := h.OrderService.GetOrder(ctx, auth.UserID(ctx), orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// The server write timeout would otherwise cut the stream short.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	initial := sse.OrderStatusUpdate{OrderID: current.ID, Status: current.Status, At: time.Now().UTC()}
	if !h.writeEvent(w, flusher, initial) || current.Status != models.OrderStatusPending {
		return
	}

	h.Logger.Debug("SSE", fmt.Sprintf("Client waiting on order %s", orderID))
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case update, ok := <-eventChan:
			if !ok {
				return
			}
			if !h.writeEvent(w, flusher, update) || update.Status != models.OrderStatusPending {
				return
			}

		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from order %s", orderID))
			return
		}
	}
}

func (h *Handler) writeEvent(w http.ResponseWriter, flusher http.Flusher, update sse.OrderStatusUpdate) bool {
	jsonData, err := json.Marshal(update)
	if err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize order status: %v", err))
		return false
	}
	if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", jsonData); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
