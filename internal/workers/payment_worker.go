package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/tendo/internal/logger"
)

// PaymentExpirer fails payments that have waited on the provider past the pending timeout.
type PaymentExpirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

// PaymentExpiryWorker sweeps stale pending payments on an interval.
type PaymentExpiryWorker struct {
	payments PaymentExpirer
	interval time.Duration
	batch    int
	log      *zap.Logger
}

func NewPaymentExpiryWorker(payments PaymentExpirer, interval time.Duration, log *zap.Logger) *PaymentExpiryWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PaymentExpiryWorker{
		payments: payments,
		interval: interval,
		batch:    100,
		log:      logger.OrNop(log).Named("payment_expiry"),
	}
}

// Start runs the sweep in the background until ctx is cancelled.
func (w *PaymentExpiryWorker) Start(ctx context.Context) {
	go w.Run(ctx)
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (w *PaymentExpiryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("payment expiry worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce expires stale payments in batches until a short batch comes back.
func (w *PaymentExpiryWorker) RunOnce(ctx context.Context) int {
	total := 0
	for {
		n, err := w.payments.ExpireStale(ctx, w.batch)
		if err != nil {
			w.log.Error("expire stale payments", zap.Error(err))
			return total
		}
		total += n
		if n < w.batch || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		w.log.Info("expired stale payments", zap.Int("count", total))
	}
	return total
}
