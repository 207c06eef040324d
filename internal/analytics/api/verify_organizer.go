package analytics_api

import (
	"context"
	"fmt"
	"net/http"

	"ms-conference-ticketing/internal/apperror"
	"ms-conference-ticketing/internal/auth"
	"ms-conference-ticketing/internal/models"
	"ms-conference-ticketing/internal/utils"
)

// CapabilityLister reads the capabilities granted to a user.
type CapabilityLister interface {
	ListCapabilities(ctx context.Context, userID string) ([]string, error)
}

// requireOrganizer lets only users holding the organizer capability through.
// It must run after the auth middleware.
func (h *Handler) requireOrganizer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		if userID == "" {
			utils.WriteError(w, apperror.Unauthorized("missing principal"))
			return
		}

		ok, err := h.isOrganizer(r.Context(), userID)
		if err != nil {
			h.Logger.Error("ANALYTICS", fmt.Sprintf("Error verifying organizer capability: %v", err))
			utils.WriteError(w, err)
			return
		}
		if !ok {
			h.Logger.LogSecurity("ACCESS_DENIED", fmt.Sprintf("User %s attempted to read %s without the organizer capability", userID, r.URL.Path))
			utils.WriteError(w, apperror.Forbidden("organizer access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) isOrganizer(ctx context.Context, userID string) (bool, error) {
	caps, err := h.Capabilities.ListCapabilities(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, c := range caps {
		if c == models.CapabilityOrganizer {
			return true, nil
		}
	}
	return false, nil
}
