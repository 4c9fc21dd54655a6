package service

import (
	"context"
	"fmt"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// PromotionService evaluates discount codes against a subtotal.
type PromotionService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewPromotionService creates a new promotion service
func NewPromotionService(st *store.Store) *PromotionService {
	return &PromotionService{
		store:  st,
		logger: util.NamedLogger("promotions"),
	}
}

// ComputeDiscount applies a promotion to a subtotal. Percent discounts are
// capped at MaxDiscount when set; fixed discounts are applied as-is.
func ComputeDiscount(promo *models.Promotion, subtotal int64) int64 {
	if promo.Type == models.PromoTypePercent {
		discount := subtotal * promo.Value / 100
		if promo.MaxDiscount.Valid && discount > promo.MaxDiscount.Int64 {
			discount = promo.MaxDiscount.Int64
		}
		return discount
	}
	return promo.Value
}

// inWindow checks the optional active date window.
func inWindow(promo *models.Promotion, now time.Time) bool {
	if promo.StartDate.Valid && now.Before(promo.StartDate.Time) {
		return false
	}
	if promo.EndDate.Valid && now.After(promo.EndDate.Time) {
		return false
	}
	return true
}

// Evaluate looks up an active promotion by code and computes the discount it
// yields on the given subtotal. A missing, inactive or out-of-window code
// fails with ErrPromotionNotFound; a subtotal below the promotion's minimum
// fails with ErrPromotionBelowMinimum. Evaluation has no side effects;
// redemption is recorded separately via IncrementUsage.
func (ps *PromotionService) Evaluate(ctx context.Context, q sqlx.QueryerContext, code string, subtotal int64) (*models.Promotion, int64, error) {
	promo, err := ps.store.GetActivePromotionByCode(ctx, q, code)
	if err != nil {
		return nil, 0, err
	}

	if !inWindow(promo, time.Now()) {
		return nil, 0, fmt.Errorf("%w: %s", store.ErrPromotionNotFound, code)
	}

	if subtotal < promo.MinOrder {
		return nil, 0, fmt.Errorf("%w: minimum %d, subtotal %d",
			store.ErrPromotionBelowMinimum, promo.MinOrder, subtotal)
	}

	return promo, ComputeDiscount(promo, subtotal), nil
}

// Validate evaluates a code outside any settlement, for the cart page.
// Unlike checkout, failures here are surfaced to the caller.
func (ps *PromotionService) Validate(ctx context.Context, code string, subtotal int64) (*models.Promotion, int64, error) {
	return ps.Evaluate(ctx, ps.store.DB(), code, subtotal)
}

// IncrementUsage records one redemption. Usage is an audit counter; a
// promotion past its usage_limit still redeems (see DESIGN.md).
func (ps *PromotionService) IncrementUsage(ctx context.Context, q sqlx.ExtContext, promo *models.Promotion) error {
	if err := ps.store.IncrementPromotionUsage(ctx, q, promo.ID); err != nil {
		return err
	}

	if promo.UsageLimit.Valid && int64(promo.UsedCount+1) > promo.UsageLimit.Int64 {
		ps.logger.Warn("Promotion redeemed past its usage limit",
			zap.String("code", promo.Code),
			zap.Int64("usage_limit", promo.UsageLimit.Int64),
			zap.Int("used_count", promo.UsedCount+1))
	}

	return nil
}
