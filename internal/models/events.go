package models

import "time"

// Event types
const (
	EventTypeOrderCompleted   = "ORDER_COMPLETED"
	EventTypeDepositCompleted = "DEPOSIT_COMPLETED"
	EventTypeDepositExpired   = "DEPOSIT_EXPIRED"
	EventTypePaymentConfirmed = "PAYMENT_CONFIRMED"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCompletedEvent is published after a settlement commits.
type OrderCompletedEvent struct {
	BaseEvent
	OrderID  int64           `json:"order_id"`
	UserID   int64           `json:"user_id"`
	Subtotal int64           `json:"subtotal"`
	Discount int64           `json:"discount"`
	Total    int64           `json:"total"`
	Items    []OrderLineData `json:"items"`
}

// OrderLineData represents line data carried in events.
type OrderLineData struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}

// DepositCompletedEvent is published after a deposit credits the balance.
type DepositCompletedEvent struct {
	BaseEvent
	DepositID int64  `json:"deposit_id"`
	UserID    int64  `json:"user_id"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// DepositExpiredEvent is published for each deposit expired by the sweep.
type DepositExpiredEvent struct {
	BaseEvent
	DepositID int64  `json:"deposit_id"`
	UserID    int64  `json:"user_id"`
	Reference string `json:"reference"`
}

// PaymentConfirmedEvent is consumed from the payment gateway. It carries the
// same fields as the HTTP webhook and funnels into the same idempotent
// deposit completion.
type PaymentConfirmedEvent struct {
	BaseEvent
	Reference     string `json:"reference"`
	Amount        int64  `json:"amount"`
	ProviderTxnID string `json:"provider_txn_id"`
}

// PaymentFailedEvent is consumed when the provider reports a failed top-up.
type PaymentFailedEvent struct {
	BaseEvent
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}
