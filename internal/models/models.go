package models

import (
	"database/sql"
	"time"
)

// Product represents a catalog entry for a digital good. Stock is the
// denormalized count of available inventory units and is recomputed from the
// inventory_units table after every mutation.
type Product struct {
	ID        int64         `db:"id" json:"id"`
	Name      string        `db:"name" json:"name"`
	Price     int64         `db:"price" json:"price"`
	SalePrice sql.NullInt64 `db:"sale_price" json:"sale_price,omitempty"`
	Stock     int           `db:"stock" json:"stock"`
	SoldCount int           `db:"sold_count" json:"sold_count"`
	Active    bool          `db:"active" json:"active"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// EffectivePrice returns the sale price when set, otherwise the list price.
func (p *Product) EffectivePrice() int64 {
	if p.SalePrice.Valid {
		return p.SalePrice.Int64
	}
	return p.Price
}

// InventoryUnit is one sellable credential. Payload is globally unique.
// A unit transitions available -> sold exactly once; OrderID is stamped at
// the moment of sale and never changes afterwards.
type InventoryUnit struct {
	ID        int64         `db:"id" json:"id"`
	ProductID sql.NullInt64 `db:"product_id" json:"product_id,omitempty"`
	OrderID   sql.NullInt64 `db:"order_id" json:"order_id,omitempty"`
	Payload   string        `db:"payload" json:"payload"`
	Status    string        `db:"status" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// Inventory unit statuses
const (
	UnitStatusAvailable = "available"
	UnitStatusSold      = "sold"
)

// Order represents a committed purchase. Checkout always produces a
// completed order directly; there is no intermediate hold state.
type Order struct {
	ID             int64          `db:"id" json:"id"`
	UserID         int64          `db:"user_id" json:"user_id"`
	Status         string         `db:"status" json:"status"`
	Subtotal       int64          `db:"subtotal" json:"subtotal"`
	Discount       int64          `db:"discount" json:"discount"`
	Total          int64          `db:"total" json:"total"`
	PromoCode      sql.NullString `db:"promo_code" json:"promo_code,omitempty"`
	Note           sql.NullString `db:"note" json:"note,omitempty"`
	IdempotencyKey sql.NullString `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// OrderItem is one product line within an order. ProductName is snapshotted
// so the line survives later product deletion or rename.
type OrderItem struct {
	ID          int64         `db:"id" json:"id"`
	OrderID     int64         `db:"order_id" json:"order_id"`
	ProductID   sql.NullInt64 `db:"product_id" json:"product_id,omitempty"`
	ProductName string        `db:"product_name" json:"product_name"`
	Quantity    int           `db:"quantity" json:"quantity"`
	UnitPrice   int64         `db:"unit_price" json:"unit_price"`
	Total       int64         `db:"total" json:"total"`
}

// Promotion is a discount code. UsedCount is an audit counter and is not
// gated on UsageLimit at redemption time.
type Promotion struct {
	ID          int64         `db:"id" json:"id"`
	Code        string        `db:"code" json:"code"`
	Name        string        `db:"name" json:"name"`
	Type        string        `db:"type" json:"type"`
	Value       int64         `db:"value" json:"value"`
	MinOrder    int64         `db:"min_order" json:"min_order"`
	MaxDiscount sql.NullInt64 `db:"max_discount" json:"max_discount,omitempty"`
	UsageLimit  sql.NullInt64 `db:"usage_limit" json:"usage_limit,omitempty"`
	UsedCount   int           `db:"used_count" json:"used_count"`
	StartDate   sql.NullTime  `db:"start_date" json:"start_date,omitempty"`
	EndDate     sql.NullTime  `db:"end_date" json:"end_date,omitempty"`
	Active      bool          `db:"active" json:"active"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// Promotion types
const (
	PromoTypePercent = "percent"
	PromoTypeFixed   = "fixed"
)

// User carries the prepaid balance, the single source of spending power.
type User struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Balance   int64     `db:"balance" json:"balance"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is an append-only ledger entry. Every balance change writes
// exactly one entry with before/after snapshots; completed entries are never
// mutated or deleted.
type Transaction struct {
	ID            int64          `db:"id" json:"id"`
	UserID        int64          `db:"user_id" json:"user_id"`
	Type          string         `db:"type" json:"type"`
	Amount        int64          `db:"amount" json:"amount"`
	BalanceBefore int64          `db:"balance_before" json:"balance_before"`
	BalanceAfter  int64          `db:"balance_after" json:"balance_after"`
	Status        string         `db:"status" json:"status"`
	Description   string         `db:"description" json:"description"`
	OrderID       sql.NullInt64  `db:"order_id" json:"order_id,omitempty"`
	Reference     sql.NullString `db:"reference" json:"reference,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// Transaction types
const (
	TxTypeDeposit  = "deposit"
	TxTypePurchase = "purchase"
	TxTypeRefund   = "refund"
)

// Transaction statuses
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

// Deposit is a pending top-up request correlated with a payment-provider
// webhook through its unique Reference. Terminal states are final.
type Deposit struct {
	ID            int64          `db:"id" json:"id"`
	UserID        int64          `db:"user_id" json:"user_id"`
	Amount        int64          `db:"amount" json:"amount"`
	Status        string         `db:"status" json:"status"`
	Reference     string         `db:"reference" json:"reference"`
	ProviderTxnID sql.NullString `db:"provider_txn_id" json:"provider_txn_id,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// Deposit statuses
const (
	DepositStatusPending   = "pending"
	DepositStatusCompleted = "completed"
	DepositStatusFailed    = "failed"
	DepositStatusExpired   = "expired"
)

// Terminal reports whether the deposit has reached a final state.
func (d *Deposit) Terminal() bool {
	return d.Status != DepositStatusPending
}

// Setting is one row of the admin key-value configuration store.
type Setting struct {
	ID          int64          `db:"id" json:"id"`
	Key         string         `db:"key" json:"key"`
	Value       sql.NullString `db:"value" json:"value,omitempty"`
	Description sql.NullString `db:"description" json:"description,omitempty"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}
