package service

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func productColumns() []string {
	return []string{
		"id", "name", "price", "sale_price", "stock", "sold_count", "active",
		"created_at", "updated_at",
	}
}

func productRow(mock sqlmock.Sqlmock, p *models.Product) *sqlmock.Rows {
	return mock.NewRows(productColumns()).AddRow(
		p.ID, p.Name, p.Price, p.SalePrice, p.Stock, p.SoldCount, p.Active,
		time.Now(), time.Now(),
	)
}

func orderColumns() []string {
	return []string{
		"id", "user_id", "status", "subtotal", "discount", "total",
		"promo_code", "note", "idempotency_key", "created_at", "updated_at",
	}
}

func newCheckoutService(st *store.Store, promoStrict bool) *CheckoutService {
	return NewCheckoutService(st, nil, nil, NewPromotionService(st), promoStrict)
}

func expectReserve(mock sqlmock.Sqlmock, productID int64, quantity int, unitIDs ...int64) {
	rows := mock.NewRows([]string{"id"})
	for _, id := range unitIDs {
		rows.AddRow(id)
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM inventory_units WHERE product_id = $1 AND status = 'available' ORDER BY id LIMIT $2 FOR UPDATE SKIP LOCKED")).
		WithArgs(productID, quantity).
		WillReturnRows(rows)
}

func expectBalanceLock(mock sqlmock.Sqlmock, userID, balance int64) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT balance FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs(userID).
		WillReturnRows(mock.NewRows([]string{"balance"}).AddRow(balance))
}

func expectCreateOrder(mock sqlmock.Sqlmock, orderID int64) {
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnRows(mock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(orderID, time.Now(), time.Now()))
}

func expectCommitLine(mock sqlmock.Sqlmock, orderID int64, unitCount, remainingStock int) {
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO order_items")).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE inventory_units")).
		WillReturnResult(sqlmock.NewResult(0, int64(unitCount)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM inventory_units WHERE product_id = $1 AND status = 'available'")).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(remainingStock))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products SET stock = $1, sold_count = sold_count + $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func expectLedgerEntry(mock sqlmock.Sqlmock, userID, balance int64) {
	expectBalanceLock(mock, userID, balance)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET balance = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO transactions")).
		WillReturnRows(mock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
}

func TestCheckoutSettlesCart(t *testing.T) {
	st, mock := newMockStore(t)
	svc := newCheckoutService(st, false)

	product := &models.Product{
		ID: 1, Name: "Streaming Premium", Price: 60000,
		SalePrice: sql.NullInt64{Int64: 50000, Valid: true},
		Stock:     5, Active: true,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM products WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(productRow(mock, product))
	expectReserve(mock, 1, 2, 11, 12)
	expectBalanceLock(mock, 42, 150000)
	expectCreateOrder(mock, 500)
	expectCommitLine(mock, 500, 2, 3)
	expectLedgerEntry(mock, 42, 150000)
	mock.ExpectCommit()

	order, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID: 42,
		Items:  []CartItemRequest{{ProductID: 1, Quantity: 2}},
	})
	require.NoError(t, err)

	// Sale price wins over list price.
	assert.Equal(t, int64(100000), order.Subtotal)
	assert.Equal(t, int64(0), order.Discount)
	assert.Equal(t, int64(100000), order.Total)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
	assert.Equal(t, int64(500), order.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutSettlesMultiProductCart(t *testing.T) {
	st, mock := newMockStore(t)
	svc := newCheckoutService(st, false)

	streaming := &models.Product{ID: 1, Name: "Streaming Premium", Price: 50000, Stock: 5, Active: true}
	vpn := &models.Product{ID: 2, Name: "VPN Yearly", Price: 30000, Stock: 4, Active: true}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM products WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(productRow(mock, streaming))
	expectReserve(mock, 1, 2, 11, 12)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM products WHERE id = $1")).
		WithArgs(int64(2)).
		WillReturnRows(productRow(mock, vpn))
	expectReserve(mock, 2, 1, 21)
	expectBalanceLock(mock, 42, 200000)
	expectCreateOrder(mock, 500)
	// One item insert, MarkSold and stock refresh per product line.
	expectCommitLine(mock, 500, 2, 3)
	expectCommitLine(mock, 500, 1, 3)
	expectLedgerEntry(mock, 42, 200000)
	mock.ExpectCommit()

	order, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID: 42,
		Items: []CartItemRequest{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 1},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2*50000+30000), order.Subtotal)
	assert.Equal(t, int64(130000), order.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutMergesDuplicateProductLines(t *testing.T) {
	st, mock := newMockStore(t)
	svc := newCheckoutService(st, false)

	product := &models.Product{ID: 1, Name: "Streaming Premium", Price: 50000, Stock: 5, Active: true}

	// Two cart lines for the same product settle as one reservation of the
	// combined quantity and one order item.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM products WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(productRow(mock, product))
	expectReserve(mock, 1, 3, 11, 12, 13)
	expectBalanceLock(mock, 42, 200000)
	expectCreateOrder(mock, 500)
	expectCommitLine(mock, 500, 3, 2)
	expectLedgerEntry(mock, 42, 200000)
	mock.ExpectCommit()

	order, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID: 42,
		Items: []CartItemRequest{
			{ProductID: 1, Quantity: 1},
			{ProductID: 1, Quantity: 2},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(150000), order.Subtotal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeCartItems(t *testing.T) {
	merged := mergeCartItems([]CartItemRequest{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 1},
		{ProductID: 1, Quantity: 2},
	})
	assert.Equal(t, []CartItemRequest{
		{ProductID: 1, Quantity: 3},
		{ProductID: 2, Quantity: 1},
	}, merged)
}

func TestCheckoutInsufficientStock(t *testing.T) {
	st, mock := newMockStore(t)
	svc := newCheckoutService(st, false)

	product := &models.Product{ID: 1, Name: "Streaming Premium", Price: 50000, Active: true}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM products WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(productRow(mock, product))
	expectReserve(mock, 1, 3, 11) // only one unit left
	mock.ExpectRollback()

	_, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID: 42,
		Items:  []CartItemRequest{{ProductID: 1, Quantity: 3}},
	})

	var stockErr *store.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, int64(1), stockErr.ProductID)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 2, stockErr.Shortfall())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutInsufficientBalance(t *testing.T) {
	st, mock := newMockStore(t)
	svc := newCheckoutService(st, false)

	product := &models.Product{ID: 1, Name: "Streaming Premium", Price: 50000, Active: true}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM products WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(productRow(mock, product))
	expectReserve(mock, 1, 1, 11)
	expectBalanceLock(mock, 42, 10000)
	mock.ExpectRollback()

	_, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID: 42,
		Items:  []CartItemRequest{{ProductID: 1, Quantity: 1}},
	})
	assert.ErrorIs(t, err, store.ErrInsufficientBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutIdempotentReplay(t *testing.T) {
	st, mock := newMockStore(t)
	svc := newCheckoutService(st, false)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM orders WHERE idempotency_key = $1")).
		WithArgs("req-abc").
		WillReturnRows(mock.NewRows(orderColumns()).AddRow(
			500, 42, models.OrderStatusCompleted, 100000, 0, 100000,
			nil, nil, "req-abc", time.Now(), time.Now()))

	order, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID:         42,
		Items:          []CartItemRequest{{ProductID: 1, Quantity: 2}},
		IdempotencyKey: "req-abc",
	})
	require.NoError(t, err)

	// The stored order is returned without opening a transaction.
	assert.Equal(t, int64(500), order.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutUnusablePromoDegrades(t *testing.T) {
	st, mock := newMockStore(t)
	svc := newCheckoutService(st, false)

	product := &models.Product{ID: 1, Name: "Streaming Premium", Price: 50000, Active: true}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM products WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(productRow(mock, product))
	expectReserve(mock, 1, 1, 11)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM promotions WHERE code = $1 AND active = true")).
		WithArgs("NOPE").
		WillReturnError(sql.ErrNoRows)
	expectBalanceLock(mock, 42, 150000)
	expectCreateOrder(mock, 501)
	expectCommitLine(mock, 501, 1, 4)
	expectLedgerEntry(mock, 42, 150000)
	mock.ExpectCommit()

	order, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID:    42,
		Items:     []CartItemRequest{{ProductID: 1, Quantity: 1}},
		PromoCode: "NOPE",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), order.Discount)
	assert.Equal(t, int64(50000), order.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutUnusablePromoStrict(t *testing.T) {
	st, mock := newMockStore(t)
	svc := newCheckoutService(st, true)

	product := &models.Product{ID: 1, Name: "Streaming Premium", Price: 50000, Active: true}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM products WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(productRow(mock, product))
	expectReserve(mock, 1, 1, 11)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM promotions WHERE code = $1 AND active = true")).
		WithArgs("NOPE").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID:    42,
		Items:     []CartItemRequest{{ProductID: 1, Quantity: 1}},
		PromoCode: "NOPE",
	})
	assert.ErrorIs(t, err, store.ErrPromotionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutDiscountClampedAtSubtotal(t *testing.T) {
	st, mock := newMockStore(t)
	svc := newCheckoutService(st, false)

	product := &models.Product{ID: 1, Name: "Streaming Premium", Price: 10000, Active: true}
	promo := &models.Promotion{
		ID: 7, Code: "BIG", Type: models.PromoTypeFixed, Value: 20000, Active: true,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM products WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(productRow(mock, product))
	expectReserve(mock, 1, 1, 11)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM promotions WHERE code = $1 AND active = true")).
		WithArgs("BIG").
		WillReturnRows(promotionRow(mock, promo))
	expectBalanceLock(mock, 42, 0)
	expectCreateOrder(mock, 502)
	expectCommitLine(mock, 502, 1, 4)
	expectLedgerEntry(mock, 42, 0)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE promotions SET used_count = used_count + 1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID:    42,
		Items:     []CartItemRequest{{ProductID: 1, Quantity: 1}},
		PromoCode: "BIG",
	})
	require.NoError(t, err)

	// A fixed discount larger than the subtotal never drives the total negative.
	assert.Equal(t, int64(10000), order.Subtotal)
	assert.Equal(t, int64(10000), order.Discount)
	assert.Equal(t, int64(0), order.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutStaleAllocationAborts(t *testing.T) {
	st, mock := newMockStore(t)
	svc := newCheckoutService(st, false)

	product := &models.Product{ID: 1, Name: "Streaming Premium", Price: 50000, Active: true}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM products WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(productRow(mock, product))
	expectReserve(mock, 1, 2, 11, 12)
	expectBalanceLock(mock, 42, 150000)
	expectCreateOrder(mock, 503)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO order_items")).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(1))
	// One of the two reserved units was claimed by a concurrent settlement.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE inventory_units")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	_, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID: 42,
		Items:  []CartItemRequest{{ProductID: 1, Quantity: 2}},
	})
	assert.ErrorIs(t, err, store.ErrStaleAllocation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "insufficient_stock", failureReason(&store.InsufficientStockError{}))
	assert.Equal(t, "insufficient_balance", failureReason(store.ErrInsufficientBalance))
	assert.Equal(t, "stale_allocation", failureReason(store.ErrStaleAllocation))
	assert.Equal(t, "promotion_rejected", failureReason(store.ErrPromotionBelowMinimum))
	assert.Equal(t, "storage_error", failureReason(errors.New("boom")))
}
