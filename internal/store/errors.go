package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrPromotionNotFound = errors.New("promotion not found")
	ErrDepositNotFound   = errors.New("deposit not found")
	ErrUnitNotFound      = errors.New("inventory unit not found or already sold")

	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrStaleAllocation means a reserved unit was claimed by a concurrent
	// settlement between reservation and commit. The whole checkout must be
	// retried, not just the affected line.
	ErrStaleAllocation = errors.New("inventory unit claimed by concurrent settlement")

	ErrPromotionBelowMinimum = errors.New("subtotal below promotion minimum")

	ErrDepositAlreadyTerminal = errors.New("deposit already in terminal state")
	ErrDepositAmountMismatch  = errors.New("deposit amount mismatch")
)

// InsufficientStockError names the product and the shortfall so the caller
// can adjust the cart.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %q (id=%d): requested %d, available %d, shortfall %d",
		e.ProductName, e.ProductID, e.Requested, e.Available, e.Requested-e.Available)
}

// Shortfall is the number of units the cart is short by.
func (e *InsufficientStockError) Shortfall() int {
	return e.Requested - e.Available
}

// DuplicatePayloadError rejects a whole import batch when any payload
// already exists anywhere in the store or repeats within the batch.
type DuplicatePayloadError struct {
	Payloads []string
}

func (e *DuplicatePayloadError) Error() string {
	return fmt.Sprintf("duplicate credential payloads: %s", strings.Join(e.Payloads, ", "))
}
