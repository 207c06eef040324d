package ticket_api

import (
	"net/http"

	"ms-conference-ticketing/internal/apperror"
	"ms-conference-ticketing/internal/auth"
	"ms-conference-ticketing/internal/logger"
	tickets "ms-conference-ticketing/internal/tickets/service"
	"ms-conference-ticketing/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	TicketService *tickets.TicketService
	Logger        *logger.Logger
}

func NewHandler(ticketService *tickets.TicketService, log *logger.Logger) *Handler {
	return &Handler{TicketService: ticketService, Logger: log}
}

// Register mounts the ticket and invite routes. requireAuth guards every
// route except invite inspection.
func (h *Handler) Register(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Get("/api/invite/{token}", h.InspectInvite)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/api/invite", h.Invite)
		r.Post("/api/invite/{token}/accept", h.AcceptInvite)
		r.Get("/api/tickets", h.ListTickets)
		r.Get("/api/tickets/stats", h.GetTicketCounts)
		r.Get("/api/tickets/{id}/qr", h.TicketQR)
		r.Post("/api/tickets/{id}/resend-invite", h.ResendInvite)
	})
}

type inviteRequest struct {
	TicketID string `json:"ticketId"`
	Email    string `json:"email"`
}

type inviteResponse struct {
	Success   bool   `json:"success"`
	InviteURL string `json:"inviteUrl,omitempty"`
}

func (h *Handler) Invite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	if req.TicketID == "" || req.Email == "" {
		utils.WriteError(w, apperror.Validation("ticketId and email are required"))
		return
	}

	url, err := h.TicketService.Invite(r.Context(), auth.UserID(r.Context()), req.TicketID, req.Email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, inviteResponse{Success: true, InviteURL: url})
}

func (h *Handler) ResendInvite(w http.ResponseWriter, r *http.Request) {
	url, err := h.TicketService.ResendInvite(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, inviteResponse{Success: true, InviteURL: url})
}

func (h *Handler) InspectInvite(w http.ResponseWriter, r *http.Request) {
	details, err := h.TicketService.InspectInvite(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, details)
}

type acceptRequest struct {
	UserID string `json:"userId"`
}

type acceptResponse struct {
	Success  bool   `json:"success"`
	TicketID string `json:"ticketId"`
}

// AcceptInvite assigns the ticket to the caller. A userId in the body is
// accepted for compatibility but must name the caller.
func (h *Handler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := utils.DecodeOptionalJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}

	userID := auth.UserID(r.Context())
	if req.UserID != "" && req.UserID != userID {
		h.Logger.LogSecurity("ACCEPT_MISMATCH", "accept request names "+req.UserID+" but caller is "+userID)
		utils.WriteError(w, apperror.Forbidden("cannot accept an invite for another user"))
		return
	}

	ticket, err := h.TicketService.Accept(r.Context(), chi.URLParam(r, "token"), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, acceptResponse{Success: true, TicketID: ticket.ID})
}

func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	list, err := h.TicketService.ListForUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	png, err := h.TicketService.QRCode(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperror.HTTPStatus(err) >= http.StatusInternalServerError {
		h.Logger.Error("TICKET", r.Method+" "+r.URL.Path+": "+err.Error())
	}
	utils.WriteError(w, err)
}
