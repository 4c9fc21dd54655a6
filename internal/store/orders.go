package store

import (
	"context"
	"database/sql"
	"fmt"

	"shop-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrder inserts a new order and fills in its generated fields.
func (s *Store) CreateOrder(ctx context.Context, q sqlx.QueryerContext, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, status, subtotal, discount, total, promo_code, note, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	return sqlx.GetContext(ctx, q, order, query,
		order.UserID, order.Status, order.Subtotal, order.Discount, order.Total,
		order.PromoCode, order.Note, order.IdempotencyKey)
}

// GetOrderByID retrieves an order by ID.
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by its client-supplied key.
// Returns nil without error when no order carries the key.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves orders for a user, newest first.
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// CreateOrderItem inserts a line item. Created atomically with its order.
func (s *Store) CreateOrderItem(ctx context.Context, q sqlx.QueryerContext, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, total)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	return sqlx.GetContext(ctx, q, &item.ID, query,
		item.OrderID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.Total)
}

// GetOrderItemsByOrderID retrieves all line items for an order.
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}
