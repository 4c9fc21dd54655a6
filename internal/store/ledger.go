package store

import (
	"context"
	"database/sql"
	"fmt"

	"shop-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// LedgerEntryParams describes one balance mutation.
type LedgerEntryParams struct {
	UserID      int64
	Amount      int64 // positive for credit, negative for debit
	Type        string
	Description string
	OrderID     sql.NullInt64
	Reference   sql.NullString
}

// ApplyLedgerEntry mutates the user's balance and appends the matching
// ledger entry as one step. The user row is locked for the remainder of the
// surrounding transaction so the read-modify-write cannot be interleaved. A
// debit that would push the balance below zero fails with
// ErrInsufficientBalance.
//
// Must be called inside a transaction: a ledger entry without its balance
// mutation (or the reverse) must never become visible.
func (s *Store) ApplyLedgerEntry(ctx context.Context, q sqlx.ExtContext, p LedgerEntryParams) (*models.Transaction, error) {
	var balanceBefore int64
	err := sqlx.GetContext(ctx, q, &balanceBefore,
		"SELECT balance FROM users WHERE id = $1 FOR UPDATE", p.UserID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrUserNotFound, p.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock user balance: %w", err)
	}

	balanceAfter := balanceBefore + p.Amount
	if balanceAfter < 0 {
		return nil, fmt.Errorf("%w: balance %d, needed %d", ErrInsufficientBalance, balanceBefore, -p.Amount)
	}

	_, err = q.ExecContext(ctx,
		"UPDATE users SET balance = $1, updated_at = NOW() WHERE id = $2",
		balanceAfter, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	entry := &models.Transaction{
		UserID:        p.UserID,
		Type:          p.Type,
		Amount:        p.Amount,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceAfter,
		Status:        models.TxStatusCompleted,
		Description:   p.Description,
		OrderID:       p.OrderID,
		Reference:     p.Reference,
	}

	err = sqlx.GetContext(ctx, q, entry, `
		INSERT INTO transactions (user_id, type, amount, balance_before, balance_after, status, description, order_id, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		entry.UserID, entry.Type, entry.Amount, entry.BalanceBefore, entry.BalanceAfter,
		entry.Status, entry.Description, entry.OrderID, entry.Reference)
	if err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}

	return entry, nil
}

// GetUserBalanceForUpdate reads the current balance and locks the user row
// for the remainder of the transaction.
func (s *Store) GetUserBalanceForUpdate(ctx context.Context, q sqlx.QueryerContext, userID int64) (int64, error) {
	var balance int64
	err := sqlx.GetContext(ctx, q, &balance,
		"SELECT balance FROM users WHERE id = $1 FOR UPDATE", userID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	}
	if err != nil {
		return 0, fmt.Errorf("lock user balance: %w", err)
	}
	return balance, nil
}

// GetTransactionsByUserID returns a user's ledger entries, newest first.
func (s *Store) GetTransactionsByUserID(ctx context.Context, userID int64) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.db.SelectContext(ctx, &txs,
		"SELECT * FROM transactions WHERE user_id = $1 ORDER BY id DESC", userID)
	return txs, err
}
