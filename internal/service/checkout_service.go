package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shop-service/internal/broker"
	"shop-service/internal/models"
	"shop-service/internal/redisclient"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// CheckoutService turns a cart into a committed order: allocated inventory
// units, refreshed stock, a promotion redemption, a balance debit and a
// ledger entry, all inside one database transaction.
type CheckoutService struct {
	store          *store.Store
	redis          *redisclient.Client
	eventPublisher *broker.EventPublisher
	promotions     *PromotionService
	logger         *zap.Logger
	promoStrict    bool
}

// NewCheckoutService creates a new checkout service. With promoStrict set,
// an invalid promotion code aborts the checkout instead of silently
// degrading to zero discount.
func NewCheckoutService(
	st *store.Store,
	redis *redisclient.Client,
	eventPublisher *broker.EventPublisher,
	promotions *PromotionService,
	promoStrict bool,
) *CheckoutService {
	return &CheckoutService{
		store:          st,
		redis:          redis,
		eventPublisher: eventPublisher,
		promotions:     promotions,
		logger:         util.NamedLogger("checkout"),
		promoStrict:    promoStrict,
	}
}

// CheckoutRequest represents a cart to settle.
type CheckoutRequest struct {
	UserID         int64             `json:"user_id"`
	Items          []CartItemRequest `json:"items" binding:"required,min=1"`
	PromoCode      string            `json:"promo_code,omitempty"`
	Note           string            `json:"note,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// CartItemRequest is one product line in the cart.
type CartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// settledLine carries per-line state between the reservation pass and the
// commit pass of one settlement.
type settledLine struct {
	product   *models.Product
	quantity  int
	unitPrice int64
	total     int64
	unitIDs   []int64
}

// Checkout settles a cart atomically. Either every side effect commits or
// none does: order + line items, unit allocation, stock refresh, balance
// debit + ledger entry, promotion redemption.
func (s *CheckoutService) Checkout(ctx context.Context, req *CheckoutRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	if req.IdempotencyKey != "" {
		existing, err := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate checkout request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", existing.ID))
			return existing, nil
		}
	}

	var (
		order *models.Order
		lines []settledLine
	)

	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var txErr error
		order, lines, txErr = s.settle(ctx, tx, req)
		return txErr
	})
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	util.CheckoutsCompletedTotal.Inc()
	for _, line := range lines {
		util.UnitsSoldTotal.Add(float64(line.quantity))
		s.cacheStock(ctx, line.product.ID)
	}

	s.logger.Info("Order settled",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int64("total", order.Total))

	s.publishOrderCompleted(ctx, order, lines)

	return order, nil
}

// settle runs the settlement algorithm inside tx. Any returned error rolls
// back every mutation made so far.
func (s *CheckoutService) settle(ctx context.Context, tx *sqlx.Tx, req *CheckoutRequest) (*models.Order, []settledLine, error) {
	var (
		lines    []settledLine
		subtotal int64
	)

	// Reservation pass: every line must be satisfiable before anything is
	// written. A shortfall on a later line aborts the whole cart.
	for _, item := range mergeCartItems(req.Items) {
		product, err := s.store.GetProduct(ctx, tx, item.ProductID)
		if err != nil {
			return nil, nil, err
		}

		unitIDs, err := s.store.ReserveAvailable(ctx, tx, product.ID, item.Quantity)
		if err != nil {
			return nil, nil, err
		}
		if len(unitIDs) < item.Quantity {
			return nil, nil, &store.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Requested:   item.Quantity,
				Available:   len(unitIDs),
			}
		}

		price := product.EffectivePrice()
		lineTotal := price * int64(item.Quantity)
		subtotal += lineTotal

		lines = append(lines, settledLine{
			product:   product,
			quantity:  item.Quantity,
			unitPrice: price,
			total:     lineTotal,
			unitIDs:   unitIDs,
		})
	}

	var (
		promo    *models.Promotion
		discount int64
	)
	if req.PromoCode != "" {
		var err error
		promo, discount, err = s.promotions.Evaluate(ctx, tx, req.PromoCode, subtotal)
		if err != nil {
			if s.promoStrict {
				return nil, nil, err
			}
			// Degrade to zero discount rather than failing the order.
			s.logger.Warn("Ignoring unusable promotion code",
				zap.String("code", req.PromoCode),
				zap.Error(err))
			promo, discount = nil, 0
		}
	}
	if discount > subtotal {
		discount = subtotal
	}
	total := subtotal - discount

	balance, err := s.store.GetUserBalanceForUpdate(ctx, tx, req.UserID)
	if err != nil {
		return nil, nil, err
	}
	if balance < total {
		return nil, nil, fmt.Errorf("%w: balance %d, total %d", store.ErrInsufficientBalance, balance, total)
	}

	order := &models.Order{
		UserID:         req.UserID,
		Status:         models.OrderStatusCompleted,
		Subtotal:       subtotal,
		Discount:       discount,
		Total:          total,
		PromoCode:      nullString(req.PromoCode),
		Note:           nullString(req.Note),
		IdempotencyKey: nullString(req.IdempotencyKey),
	}
	if err := s.store.CreateOrder(ctx, tx, order); err != nil {
		return nil, nil, fmt.Errorf("failed to create order: %w", err)
	}

	for _, line := range lines {
		item := &models.OrderItem{
			OrderID:     order.ID,
			ProductID:   sql.NullInt64{Int64: line.product.ID, Valid: true},
			ProductName: line.product.Name,
			Quantity:    line.quantity,
			UnitPrice:   line.unitPrice,
			Total:       line.total,
		}
		if err := s.store.CreateOrderItem(ctx, tx, item); err != nil {
			return nil, nil, fmt.Errorf("failed to create order item: %w", err)
		}

		// Conditional transition: fails with ErrStaleAllocation if another
		// settlement claimed any reserved unit since the read above.
		if err := s.store.MarkSold(ctx, tx, line.unitIDs, order.ID); err != nil {
			return nil, nil, err
		}

		if _, err := s.store.RefreshProductStock(ctx, tx, line.product.ID, line.quantity); err != nil {
			return nil, nil, err
		}
	}

	_, err = s.store.ApplyLedgerEntry(ctx, tx, store.LedgerEntryParams{
		UserID:      req.UserID,
		Amount:      -total,
		Type:        models.TxTypePurchase,
		Description: fmt.Sprintf("Payment for order #%d", order.ID),
		OrderID:     sql.NullInt64{Int64: order.ID, Valid: true},
	})
	if err != nil {
		return nil, nil, err
	}

	if promo != nil {
		if err := s.promotions.IncrementUsage(ctx, tx, promo); err != nil {
			return nil, nil, err
		}
	}

	return order, lines, nil
}

// mergeCartItems combines lines naming the same product, keeping first-seen
// order. One reservation must cover a product's whole cart quantity: a second
// pass over the same product would re-select rows this transaction already
// locked and abort as a stale allocation.
func mergeCartItems(items []CartItemRequest) []CartItemRequest {
	merged := make([]CartItemRequest, 0, len(items))
	index := make(map[int64]int, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

// GetOrder retrieves an order owned by the user, with its line items and the
// delivered credentials.
func (s *CheckoutService) GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, []models.OrderItem, []models.InventoryUnit, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}
	if order.UserID != userID {
		return nil, nil, nil, store.ErrOrderNotFound
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}

	units, err := s.store.GetUnitsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}

	return order, items, units, nil
}

// ListOrders retrieves a user's orders, newest first.
func (s *CheckoutService) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.GetOrdersByUserID(ctx, userID)
}

func (s *CheckoutService) publishOrderCompleted(ctx context.Context, order *models.Order, lines []settledLine) {
	if s.eventPublisher == nil {
		return
	}

	items := make([]models.OrderLineData, 0, len(lines))
	for _, line := range lines {
		items = append(items, models.OrderLineData{
			ProductID: line.product.ID,
			Quantity:  line.quantity,
			UnitPrice: line.unitPrice,
		})
	}

	event := &models.OrderCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCompleted,
			Timestamp: time.Now(),
		},
		OrderID:  order.ID,
		UserID:   order.UserID,
		Subtotal: order.Subtotal,
		Discount: order.Discount,
		Total:    order.Total,
		Items:    items,
	}

	if err := s.eventPublisher.PublishOrderCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCompleted event", zap.Error(err))
	}
}

// cacheStock mirrors the refreshed stock count into redis, best effort.
func (s *CheckoutService) cacheStock(ctx context.Context, productID int64) {
	if s.redis == nil {
		return
	}
	count, err := s.store.CountAvailable(ctx, s.store.DB(), productID)
	if err != nil {
		return
	}
	if err := s.redis.CacheStock(ctx, productID, count); err != nil {
		s.logger.Warn("Failed to cache stock",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}
}

// failureReason maps settlement errors onto metric labels.
func failureReason(err error) string {
	var stockErr *store.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	case errors.Is(err, store.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, store.ErrStaleAllocation):
		return "stale_allocation"
	case errors.Is(err, store.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, store.ErrPromotionNotFound),
		errors.Is(err, store.ErrPromotionBelowMinimum):
		return "promotion_rejected"
	default:
		return "storage_error"
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
