package discount

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-conference-ticketing/internal/database"
	"ms-conference-ticketing/internal/logger"
	"ms-conference-ticketing/internal/models"
)

// Rejection reasons, shown to the user as-is.
const (
	ReasonInvalid      = "Invalid promo code"
	ReasonExpired      = "Promo code is expired or not yet valid"
	ReasonLimitReached = "Promo code usage limit has been reached"
	ReasonAlreadyUsed  = "You have already used this promo code"
)

type PromoStore interface {
	GetPromoByCode(ctx context.Context, code string) (*models.PromoCode, error)
	GetPromoByID(ctx context.Context, id string) (*models.PromoCode, error)
	CountUserPromoUses(ctx context.Context, promoID, userID string) (int, error)
}

// Result is either a usable promo code or the reason it was rejected.
type Result struct {
	Valid  bool              `json:"valid"`
	Reason string            `json:"reason,omitempty"`
	Promo  *models.PromoCode `json:"-"`
}

// Validator runs the promo checks in order and stops at the first failure:
// exists and active, validity window, global cap, and the per-user cap when
// a user is known.
type Validator struct {
	store  PromoStore
	logger *logger.Logger
	now    func() time.Time
}

func NewValidator(store PromoStore, log *logger.Logger) *Validator {
	return &Validator{store: store, logger: log, now: time.Now}
}

// WithClock replaces the time source.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// ValidateCode looks a code up by its text. An empty userID skips the
// per-user check, which is only good enough for display.
func (v *Validator) ValidateCode(ctx context.Context, code, userID string) (*Result, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return &Result{Reason: ReasonInvalid}, nil
	}
	promo, err := v.store.GetPromoByCode(ctx, code)
	return v.validate(ctx, promo, err, userID)
}

func (v *Validator) ValidateID(ctx context.Context, id, userID string) (*Result, error) {
	promo, err := v.store.GetPromoByID(ctx, id)
	return v.validate(ctx, promo, err, userID)
}

func (v *Validator) validate(ctx context.Context, promo *models.PromoCode, lookupErr error, userID string) (*Result, error) {
	if lookupErr != nil {
		if errors.Is(lookupErr, database.ErrNotFound) {
			return &Result{Reason: ReasonInvalid}, nil
		}
		return nil, fmt.Errorf("lookup promo code: %w", lookupErr)
	}

	if !promo.Active {
		return &Result{Reason: ReasonInvalid}, nil
	}

	now := v.now()
	if promo.ValidFrom != nil && now.Before(*promo.ValidFrom) {
		return &Result{Reason: ReasonExpired}, nil
	}
	if promo.ValidUntil != nil && now.After(*promo.ValidUntil) {
		return &Result{Reason: ReasonExpired}, nil
	}

	if promo.MaxUses != nil && promo.CurrentUses >= *promo.MaxUses {
		return &Result{Reason: ReasonLimitReached}, nil
	}

	if userID != "" && promo.MaxUsesPerUser != nil {
		used, err := v.store.CountUserPromoUses(ctx, promo.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("count promo uses: %w", err)
		}
		if used >= *promo.MaxUsesPerUser {
			v.logger.Debug("PROMO", fmt.Sprintf("User %s already used %s %d time(s)", userID, promo.Code, used))
			return &Result{Reason: ReasonAlreadyUsed}, nil
		}
	}

	return &Result{Valid: true, Promo: promo}, nil
}
