package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/caresync/internal/repository"
	"github.com/jwalitptl/caresync/pkg/logger"
	"github.com/jwalitptl/caresync/pkg/metrics"
)

type RetentionConfig struct {
	Interval time.Duration
	// LedgerTTL bounds how long idempotency keys can be replayed.
	LedgerTTL time.Duration
	// ReceiptRetention of zero keeps receipts forever.
	ReceiptRetention time.Duration
	OutboxRetention  time.Duration
}

// RetentionWorker prunes the idempotency ledger, operation receipts and
// published outbox events.
type RetentionWorker struct {
	ledger   repository.IdempotencyRepository
	receipts repository.ReceiptRepository
	outbox   repository.OutboxRepository
	config   RetentionConfig
	logger   *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewRetentionWorker(
	ledger repository.IdempotencyRepository,
	receipts repository.ReceiptRepository,
	outbox repository.OutboxRepository,
	config RetentionConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *RetentionWorker {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	return &RetentionWorker{
		ledger:   ledger,
		receipts: receipts,
		outbox:   outbox,
		config:   config,
		logger:   log,
		metrics:  m,
		now:      time.Now,
	}
}

func (w *RetentionWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Cleanup(ctx); err != nil {
				w.logger.Error(err, "Retention cleanup failed")
			}
		}
	}
}

// Cleanup runs one pass. Every table is attempted; the first error is
// returned.
func (w *RetentionWorker) Cleanup(ctx context.Context) error {
	now := w.now()
	var firstErr error

	prune := func(table string, period time.Duration, fn func(context.Context, time.Time) (int64, error)) {
		if period <= 0 {
			return
		}
		cutoff := now.Add(-period)
		rows, err := fn(ctx, cutoff)
		if err != nil {
			w.metrics.DatabaseOperations.WithLabelValues("prune_"+table, "error").Inc()
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to prune %s: %w", table, err)
			}
			return
		}
		w.metrics.DatabaseOperations.WithLabelValues("prune_"+table, "success").Inc()
		w.metrics.RowsPruned.WithLabelValues(table).Add(float64(rows))
		if rows > 0 {
			w.logger.Info("Pruned rows", "table", table, "rows", rows, "cutoff", cutoff)
		}
	}

	prune("sync_idempotency_keys", w.config.LedgerTTL, w.ledger.DeleteCompletedBefore)
	prune("sync_op_receipts", w.config.ReceiptRetention, w.receipts.DeleteBefore)
	prune("outbox_events", w.config.OutboxRetention, w.outbox.DeleteProcessedBefore)

	return firstErr
}
