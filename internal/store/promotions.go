package store

import (
	"context"
	"database/sql"
	"fmt"

	"shop-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetActivePromotionByCode looks up an active promotion. Inactive codes are
// indistinguishable from missing ones.
func (s *Store) GetActivePromotionByCode(ctx context.Context, q sqlx.QueryerContext, code string) (*models.Promotion, error) {
	var promo models.Promotion
	err := sqlx.GetContext(ctx, q, &promo,
		"SELECT * FROM promotions WHERE code = $1 AND active = true", code)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrPromotionNotFound, code)
	}
	if err != nil {
		return nil, err
	}
	return &promo, nil
}

// IncrementPromotionUsage bumps the redemption counter. The counter is an
// audit value; redemption is not blocked once usage_limit is reached.
func (s *Store) IncrementPromotionUsage(ctx context.Context, q sqlx.ExtContext, promotionID int64) error {
	_, err := q.ExecContext(ctx,
		"UPDATE promotions SET used_count = used_count + 1, updated_at = NOW() WHERE id = $1",
		promotionID)
	if err != nil {
		return fmt.Errorf("increment promotion usage: %w", err)
	}
	return nil
}
