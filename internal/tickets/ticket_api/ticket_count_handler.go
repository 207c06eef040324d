package ticket_api

import (
	"net/http"

	"ms-conference-ticketing/internal/utils"
)

// TicketCountResponse is the response format for the GetTicketCounts endpoint
type TicketCountResponse struct {
	TotalCount    int `json:"total_count"`
	AssignedCount int `json:"assigned_count"`
}

// GetTicketCounts reports how many tickets exist and how many have an attendee.
func (h *Handler) GetTicketCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.TicketService.GetTicketCounts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, TicketCountResponse{
		TotalCount:    counts.Total,
		AssignedCount: counts.Assigned,
	})
}
