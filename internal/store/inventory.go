package store

import (
	"context"
	"fmt"

	"shop-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ReserveAvailable returns up to quantity unit IDs currently available for a
// product. It does not mutate state; the allocation is validated again by
// MarkSold at commit time. SKIP LOCKED makes concurrent settlements skip
// each other's rows, so a loser simply sees fewer units than requested.
func (s *Store) ReserveAvailable(ctx context.Context, q sqlx.QueryerContext, productID int64, quantity int) ([]int64, error) {
	var ids []int64
	err := sqlx.SelectContext(ctx, q, &ids, `
		SELECT id FROM inventory_units
		WHERE product_id = $1 AND status = 'available'
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		productID, quantity)
	if err != nil {
		return nil, fmt.Errorf("reserve available units: %w", err)
	}
	return ids, nil
}

// MarkSold transitions the listed units from available to sold and stamps the
// order reference. The update is conditioned on the units still being
// available; if any was consumed by a concurrent settlement the whole call
// fails with ErrStaleAllocation and the caller must abort the transaction.
func (s *Store) MarkSold(ctx context.Context, q sqlx.ExtContext, unitIDs []int64, orderID int64) error {
	if len(unitIDs) == 0 {
		return nil
	}

	res, err := q.ExecContext(ctx, `
		UPDATE inventory_units
		SET status = 'sold', order_id = $1, updated_at = NOW()
		WHERE id = ANY($2) AND status = 'available'`,
		orderID, pq.Array(unitIDs))
	if err != nil {
		return fmt.Errorf("mark units sold: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected != int64(len(unitIDs)) {
		return ErrStaleAllocation
	}

	return nil
}

// CountAvailable returns the live available-unit count for a product.
func (s *Store) CountAvailable(ctx context.Context, q sqlx.QueryerContext, productID int64) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, q, &count,
		"SELECT count(*) FROM inventory_units WHERE product_id = $1 AND status = 'available'",
		productID)
	return count, err
}

// FindExistingPayloads returns which of the given payloads already exist
// anywhere in the store, regardless of product.
func (s *Store) FindExistingPayloads(ctx context.Context, q sqlx.QueryerContext, payloads []string) ([]string, error) {
	var existing []string
	err := sqlx.SelectContext(ctx, q, &existing,
		"SELECT payload FROM inventory_units WHERE payload = ANY($1)",
		pq.Array(payloads))
	if err != nil {
		return nil, fmt.Errorf("check existing payloads: %w", err)
	}
	return existing, nil
}

// InsertUnits inserts a batch of available units for a product. Payload
// uniqueness must be verified by the caller inside the same transaction.
func (s *Store) InsertUnits(ctx context.Context, q sqlx.ExtContext, productID int64, payloads []string) error {
	for _, payload := range payloads {
		_, err := q.ExecContext(ctx, `
			INSERT INTO inventory_units (product_id, payload, status)
			VALUES ($1, $2, 'available')`,
			productID, payload)
		if err != nil {
			return fmt.Errorf("insert inventory unit: %w", err)
		}
	}
	return nil
}

// RemoveAvailableUnit deletes a single unit, but only while it is still
// available. Sold units are immutable history.
func (s *Store) RemoveAvailableUnit(ctx context.Context, q sqlx.ExtContext, productID, unitID int64) error {
	res, err := q.ExecContext(ctx,
		"DELETE FROM inventory_units WHERE id = $1 AND product_id = $2 AND status = 'available'",
		unitID, productID)
	if err != nil {
		return fmt.Errorf("remove available unit: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: unit %d", ErrUnitNotFound, unitID)
	}

	return nil
}

// ClearAvailableUnits deletes all available units of a product.
func (s *Store) ClearAvailableUnits(ctx context.Context, q sqlx.ExtContext, productID int64) error {
	_, err := q.ExecContext(ctx,
		"DELETE FROM inventory_units WHERE product_id = $1 AND status = 'available'",
		productID)
	if err != nil {
		return fmt.Errorf("clear available units: %w", err)
	}
	return nil
}

// GetUnitsByOrderID returns the credentials delivered with an order.
func (s *Store) GetUnitsByOrderID(ctx context.Context, orderID int64) ([]models.InventoryUnit, error) {
	var units []models.InventoryUnit
	err := s.db.SelectContext(ctx, &units,
		"SELECT * FROM inventory_units WHERE order_id = $1 ORDER BY id", orderID)
	return units, err
}
