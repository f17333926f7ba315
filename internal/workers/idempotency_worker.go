package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/tendo/internal/idempotency"
	"github.com/example/tendo/internal/logger"
)

const purgeBatch = 500

// IdempotencyPurgeWorker deletes expired idempotency records.
type IdempotencyPurgeWorker struct {
	store    idempotency.Store
	interval time.Duration
	now      func() time.Time
	log      *zap.Logger
}

func NewIdempotencyPurgeWorker(store idempotency.Store, interval time.Duration, log *zap.Logger) *IdempotencyPurgeWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &IdempotencyPurgeWorker{
		store:    store,
		interval: interval,
		now:      time.Now,
		log:      logger.OrNop(log).Named("idempotency_purge"),
	}
}

// Start runs the purge in the background until ctx is cancelled.
func (w *IdempotencyPurgeWorker) Start(ctx context.Context) {
	go w.Run(ctx)
}

// Run blocks, purging every interval until ctx is cancelled.
func (w *IdempotencyPurgeWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("idempotency purge worker stopped")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.log.Error("purge idempotency records", zap.Error(err))
			}
		}
	}
}

// RunOnce deletes expired records in batches and returns how many were removed.
func (w *IdempotencyPurgeWorker) RunOnce(ctx context.Context) (int64, error) {
	var total int64
	for {
		n, err := w.store.PurgeExpired(ctx, w.now(), purgeBatch)
		total += n
		if err != nil {
			return total, err
		}
		if n < purgeBatch || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		w.log.Info("purged idempotency records", zap.Int64("count", total))
	}
	return total, nil
}
