package order_api

import (
	"errors"
	"fmt"
	"net/http"

	"ms-conference-ticketing/internal/order"
	"ms-conference-ticketing/internal/utils"
)

type webhookResponse struct {
	Received bool   `json:"received"`
	Error    string `json:"error,omitempty"`
}

// StripeWebhook handles webhook events from Stripe. Only a request that
// fails verification gets a non-2xx answer.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	err := h.OrderService.HandleStripeWebhook(r)
	if err != nil {
		var webhookErr *order.WebhookError
		if errors.As(err, &webhookErr) {
			h.Logger.Info("API", fmt.Sprintf("StripeWebhook: rejected, category=%s status=%d",
				webhookErr.Category, webhookErr.StatusCode))
			utils.WriteJSON(w, webhookErr.StatusCode, webhookResponse{Error: webhookErr.PublicError})
			return
		}

		h.Logger.Error("API", fmt.Sprintf("StripeWebhook: failed to process webhook: %v", err))
		utils.WriteJSON(w, http.StatusBadRequest, webhookResponse{Error: "Webhook processing error"})
		return
	}

	utils.WriteJSON(w, http.StatusOK, webhookResponse{Received: true})
}
