package worker

import (
	"context"
	"time"

	"shop-service/internal/broker"
	"shop-service/internal/models"
	"shop-service/internal/redisclient"
	"shop-service/internal/service"
	"shop-service/internal/util"

	"go.uber.org/zap"
)

// PaymentWorker consumes provider confirmations from the payment-events
// topic and funnels them into the same idempotent deposit completion as the
// HTTP webhook.
type PaymentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer *broker.Consumer, deposits *service.DepositService) *PaymentWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnPaymentConfirmed(func(ctx context.Context, event *models.PaymentConfirmedEvent) error {
		_, err := deposits.Complete(ctx, event.Reference, event.Amount, event.ProviderTxnID)
		return err
	})

	eventHandler.OnPaymentFailed(func(ctx context.Context, event *models.PaymentFailedEvent) error {
		return deposits.Fail(ctx, event.Reference, event.Reason)
	})

	return &PaymentWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *PaymentWorker) Start(ctx context.Context) error {
	util.GetLogger().Info("Starting payment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentWorker) Stop() error {
	util.GetLogger().Info("Stopping payment worker")
	return w.consumer.Close()
}

// DepositSweeper periodically expires deposits that stayed pending past the
// TTL. A redis lock keeps the sweep on one instance at a time; a missed run
// is harmless since the next tick picks the stragglers up.
type DepositSweeper struct {
	deposits *service.DepositService
	redis    *redisclient.Client
	interval time.Duration
	logger   *zap.Logger
}

const sweepLockKey = "deposit-sweep"

// NewDepositSweeper creates a new sweeper running every interval.
func NewDepositSweeper(deposits *service.DepositService, redis *redisclient.Client, interval time.Duration) *DepositSweeper {
	return &DepositSweeper{
		deposits: deposits,
		redis:    redis,
		interval: interval,
		logger:   util.NamedLogger("sweeper"),
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (sw *DepositSweeper) Start(ctx context.Context) error {
	sw.logger.Info("Starting deposit sweeper", zap.Duration("interval", sw.interval))

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("Deposit sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			sw.sweep(ctx)
		}
	}
}

func (sw *DepositSweeper) sweep(ctx context.Context) {
	if sw.redis != nil {
		acquired, err := sw.redis.AcquireLock(ctx, sweepLockKey, sw.interval)
		if err != nil {
			sw.logger.Warn("Sweep lock unavailable, skipping run", zap.Error(err))
			return
		}
		if !acquired {
			return
		}
		defer func() {
			if err := sw.redis.ReleaseLock(ctx, sweepLockKey); err != nil {
				sw.logger.Warn("Failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	util.SweepRunsTotal.Inc()

	expired, err := sw.deposits.ExpireStale(ctx)
	if err != nil {
		sw.logger.Error("Deposit sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		sw.logger.Info("Deposit sweep expired deposits", zap.Int("count", expired))
	}
}
