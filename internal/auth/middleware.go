package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ms-conference-ticketing/internal/apperror"
	"ms-conference-ticketing/internal/utils"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller. Handlers pass it explicitly into
// service calls.
type Principal struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Verifier turns a raw bearer token into a principal.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Principal, error)
}

// Middleware rejects requests without a valid bearer token.
func Middleware(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				utils.WriteError(w, apperror.Unauthorized(err.Error()))
				return
			}

			p, err := verifier.Verify(r.Context(), rawToken)
			if err != nil {
				utils.WriteError(w, apperror.Unauthorized("invalid token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// OptionalMiddleware attaches a principal when a valid token is present and
// otherwise lets the request through anonymously.
func OptionalMiddleware(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				if errors.Is(err, ErrMissingToken) {
					next.ServeHTTP(w, r)
					return
				}
				utils.WriteError(w, apperror.Unauthorized(err.Error()))
				return
			}
			p, err := verifier.Verify(r.Context(), rawToken)
			if err != nil {
				utils.WriteError(w, apperror.Unauthorized("invalid token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the caller, or nil for anonymous requests.
func PrincipalFrom(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey).(*Principal); ok {
		return p
	}
	return nil
}

// UserID is a shortcut for handlers behind Middleware.
func UserID(ctx context.Context) string {
	if p := PrincipalFrom(ctx); p != nil {
		return p.UserID
	}
	return ""
}
