package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shop-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateDeposit inserts a pending deposit request.
func (s *Store) CreateDeposit(ctx context.Context, deposit *models.Deposit) error {
	query := `
		INSERT INTO deposits (user_id, amount, status, reference)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, deposit, query,
		deposit.UserID, deposit.Amount, deposit.Status, deposit.Reference)
}

// GetDepositByReferenceForUpdate loads a deposit by its unique provider
// reference and locks the row. Completion, failure and expiry all gate on
// the locked row's status, which makes duplicate webhook deliveries and the
// sweep race harmless.
func (s *Store) GetDepositByReferenceForUpdate(ctx context.Context, q sqlx.QueryerContext, reference string) (*models.Deposit, error) {
	var deposit models.Deposit
	err := sqlx.GetContext(ctx, q, &deposit,
		"SELECT * FROM deposits WHERE reference = $1 FOR UPDATE", reference)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrDepositNotFound, reference)
	}
	if err != nil {
		return nil, err
	}
	return &deposit, nil
}

// UpdateDepositStatus moves a deposit out of pending. The condition on the
// current status keeps terminal states final even if callers race.
func (s *Store) UpdateDepositStatus(ctx context.Context, q sqlx.ExtContext, depositID int64, status string, providerTxnID sql.NullString) error {
	res, err := q.ExecContext(ctx, `
		UPDATE deposits
		SET status = $1, provider_txn_id = COALESCE($2, provider_txn_id), updated_at = NOW()
		WHERE id = $3 AND status = 'pending'`,
		status, providerTxnID, depositID)
	if err != nil {
		return fmt.Errorf("update deposit status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrDepositAlreadyTerminal
	}

	return nil
}

// ExpireStaleDeposits transitions every pending deposit older than the
// cutoff to expired and returns the expired rows. No balance is touched: the
// holder never received credit, so none is reversed. A deposit being
// completed concurrently holds its row lock, so the status condition cannot
// expire it.
func (s *Store) ExpireStaleDeposits(ctx context.Context, cutoff time.Time) ([]models.Deposit, error) {
	var expired []models.Deposit
	err := s.db.SelectContext(ctx, &expired, `
		UPDATE deposits
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND created_at < $1
		RETURNING *`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("expire stale deposits: %w", err)
	}
	return expired, nil
}

// GetDepositsByUserID returns a user's deposits, newest first.
func (s *Store) GetDepositsByUserID(ctx context.Context, userID int64) ([]models.Deposit, error) {
	var deposits []models.Deposit
	err := s.db.SelectContext(ctx, &deposits,
		"SELECT * FROM deposits WHERE user_id = $1 ORDER BY id DESC", userID)
	return deposits, err
}
