package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shop-service/internal/broker"
	"shop-service/internal/models"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DepositService advances pending top-ups to completed, failed or expired.
// Completion is the only transition that credits the balance, and it happens
// at most once per deposit.
type DepositService struct {
	store          *store.Store
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
	ttl            time.Duration
}

// WebhookResult tells the payment provider how its delivery was handled.
type WebhookResult string

const (
	WebhookAccepted  WebhookResult = "accepted"
	WebhookDuplicate WebhookResult = "duplicate"
	WebhookMismatch  WebhookResult = "mismatch"
)

// NewDepositService creates a new deposit service. ttl is how long a deposit
// may stay pending before the sweep expires it.
func NewDepositService(st *store.Store, eventPublisher *broker.EventPublisher, ttl time.Duration) *DepositService {
	return &DepositService{
		store:          st,
		eventPublisher: eventPublisher,
		logger:         util.NamedLogger("deposits"),
		ttl:            ttl,
	}
}

// Create opens a pending deposit request with a fresh unique reference for
// the payment provider to echo back.
func (ds *DepositService) Create(ctx context.Context, userID, amount int64) (*models.Deposit, error) {
	ctx, span := util.StartSpan(ctx, "DepositService.Create")
	defer span.End()

	if amount <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive, got %d", amount)
	}

	deposit := &models.Deposit{
		UserID:    userID,
		Amount:    amount,
		Status:    models.DepositStatusPending,
		Reference: uuid.New().String(),
	}

	if err := ds.store.CreateDeposit(ctx, deposit); err != nil {
		return nil, fmt.Errorf("failed to create deposit: %w", err)
	}

	ds.logger.Info("Deposit created",
		zap.Int64("deposit_id", deposit.ID),
		zap.Int64("user_id", userID),
		zap.Int64("amount", amount),
		zap.String("reference", deposit.Reference))

	return deposit, nil
}

// Complete processes a payment confirmation for a deposit reference. It is
// idempotent: a redelivered webhook for an already-terminal deposit is a
// logged no-op reported as duplicate so the provider stops retrying. A
// confirmed amount different from the requested amount is rejected without a
// state change.
func (ds *DepositService) Complete(ctx context.Context, reference string, amount int64, providerTxnID string) (WebhookResult, error) {
	ctx, span := util.StartSpan(ctx, "DepositService.Complete")
	defer span.End()

	var completed *models.Deposit

	err := ds.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		deposit, err := ds.store.GetDepositByReferenceForUpdate(ctx, tx, reference)
		if err != nil {
			return err
		}

		if deposit.Terminal() {
			return store.ErrDepositAlreadyTerminal
		}

		if deposit.Amount != amount {
			return fmt.Errorf("%w: expected %d, got %d", store.ErrDepositAmountMismatch, deposit.Amount, amount)
		}

		txnID := sql.NullString{String: providerTxnID, Valid: providerTxnID != ""}
		if err := ds.store.UpdateDepositStatus(ctx, tx, deposit.ID, models.DepositStatusCompleted, txnID); err != nil {
			return err
		}

		_, err = ds.store.ApplyLedgerEntry(ctx, tx, store.LedgerEntryParams{
			UserID:      deposit.UserID,
			Amount:      deposit.Amount,
			Type:        models.TxTypeDeposit,
			Description: fmt.Sprintf("Deposit %s", deposit.Reference),
			Reference:   sql.NullString{String: deposit.Reference, Valid: true},
		})
		if err != nil {
			return err
		}

		completed = deposit
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, store.ErrDepositAlreadyTerminal):
		util.DepositWebhooksRejectedTotal.WithLabelValues("duplicate").Inc()
		ds.logger.Info("Duplicate deposit webhook ignored", zap.String("reference", reference))
		return WebhookDuplicate, nil
	case errors.Is(err, store.ErrDepositAmountMismatch):
		util.DepositWebhooksRejectedTotal.WithLabelValues("amount_mismatch").Inc()
		ds.logger.Warn("Deposit webhook amount mismatch",
			zap.String("reference", reference),
			zap.Int64("confirmed_amount", amount))
		return WebhookMismatch, nil
	default:
		return "", err
	}

	util.DepositsCompletedTotal.Inc()
	ds.logger.Info("Deposit completed",
		zap.Int64("deposit_id", completed.ID),
		zap.Int64("user_id", completed.UserID),
		zap.Int64("amount", completed.Amount))

	ds.publishDepositCompleted(ctx, completed)

	return WebhookAccepted, nil
}

// Fail marks a pending deposit failed on an explicit provider failure
// signal. No balance is touched.
func (ds *DepositService) Fail(ctx context.Context, reference, reason string) error {
	ctx, span := util.StartSpan(ctx, "DepositService.Fail")
	defer span.End()

	err := ds.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		deposit, err := ds.store.GetDepositByReferenceForUpdate(ctx, tx, reference)
		if err != nil {
			return err
		}
		if deposit.Terminal() {
			return store.ErrDepositAlreadyTerminal
		}
		return ds.store.UpdateDepositStatus(ctx, tx, deposit.ID, models.DepositStatusFailed, sql.NullString{})
	})
	if errors.Is(err, store.ErrDepositAlreadyTerminal) {
		ds.logger.Info("Failure signal for terminal deposit ignored", zap.String("reference", reference))
		return nil
	}
	if err != nil {
		return err
	}

	ds.logger.Warn("Deposit failed by provider",
		zap.String("reference", reference),
		zap.String("reason", reason))
	return nil
}

// ExpireStale transitions every deposit pending longer than the TTL to
// expired. Safe to run concurrently with live completions: both sides gate
// on status under row locks, so a webhook arriving as the sweep fires can
// win or lose, never both.
func (ds *DepositService) ExpireStale(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "DepositService.ExpireStale")
	defer span.End()

	cutoff := time.Now().Add(-ds.ttl)
	expired, err := ds.store.ExpireStaleDeposits(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	for _, d := range expired {
		util.DepositsExpiredTotal.Inc()
		ds.logger.Info("Deposit expired",
			zap.Int64("deposit_id", d.ID),
			zap.Int64("user_id", d.UserID),
			zap.String("reference", d.Reference))
		ds.publishDepositExpired(ctx, &d)
	}

	return len(expired), nil
}

// ListForUser returns a user's deposits.
func (ds *DepositService) ListForUser(ctx context.Context, userID int64) ([]models.Deposit, error) {
	return ds.store.GetDepositsByUserID(ctx, userID)
}

// GetAccount returns the user's profile with the current balance.
func (ds *DepositService) GetAccount(ctx context.Context, userID int64) (*models.User, error) {
	return ds.store.GetUser(ctx, ds.store.DB(), userID)
}

// ListTransactions returns the user's ledger history, newest first.
func (ds *DepositService) ListTransactions(ctx context.Context, userID int64) ([]models.Transaction, error) {
	return ds.store.GetTransactionsByUserID(ctx, userID)
}

func (ds *DepositService) publishDepositCompleted(ctx context.Context, deposit *models.Deposit) {
	if ds.eventPublisher == nil {
		return
	}
	event := &models.DepositCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeDepositCompleted,
			Timestamp: time.Now(),
		},
		DepositID: deposit.ID,
		UserID:    deposit.UserID,
		Amount:    deposit.Amount,
		Reference: deposit.Reference,
	}
	if err := ds.eventPublisher.PublishDepositCompleted(ctx, event); err != nil {
		ds.logger.Error("Failed to publish DepositCompleted event", zap.Error(err))
	}
}

func (ds *DepositService) publishDepositExpired(ctx context.Context, deposit *models.Deposit) {
	if ds.eventPublisher == nil {
		return
	}
	event := &models.DepositExpiredEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeDepositExpired,
			Timestamp: time.Now(),
		},
		DepositID: deposit.ID,
		UserID:    deposit.UserID,
		Reference: deposit.Reference,
	}
	if err := ds.eventPublisher.PublishDepositExpired(ctx, event); err != nil {
		ds.logger.Error("Failed to publish DepositExpired event", zap.Error(err))
	}
}
