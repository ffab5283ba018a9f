package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
)

// DeadLetters is the queue side of the store used for reprocessing.
type DeadLetters interface {
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
}

// RetrySummary counts the outcome of a dead-letter retry pass.
type RetrySummary struct {
	Attempted int `json:"attempted"`
	Recovered int `json:"recovered"`
	Requeued  int `json:"requeued"`
	Exhausted int `json:"exhausted"`
}

// RetryDeadLetters reprocesses due entries. A recovered entry is removed, a
// failing one is rescheduled with exponential delay until its retries run
// out, and then dropped.
func (o *Orchestrator) RetryDeadLetters(ctx context.Context, dlq DeadLetters, limit int) (RetrySummary, error) {
	var sum RetrySummary
	log := o.log.With(zap.String("op", "dlq_retry"))

	entries, err := dlq.DequeueDLQ(ctx, resilience.DLQFilter{DueBefore: o.now().UTC(), Limit: limit})
	if err != nil {
		return sum, eris.Wrap(err, "pipeline: dequeue dead letters")
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return sum, eris.Wrap(ctx.Err(), "pipeline: dead-letter retry")
		}
		sum.Attempted++
		elog := log.With(zap.String("dlq_id", entry.ID), zap.String("path", entry.DocumentPath))

		res, err := o.process(ctx, entry.DocumentPath, false)
		if err == nil && res.Status != model.StatusError {
			if rmErr := dlq.RemoveDLQ(ctx, entry.ID); rmErr != nil {
				return sum, eris.Wrapf(rmErr, "pipeline: remove dead letter %s", entry.ID)
			}
			sum.Recovered++
			elog.Info("pipeline: dead letter recovered", zap.String("key", res.Key))
			continue
		}

		lastErr := res.Error
		if err != nil {
			lastErr = err.Error()
		}

		entry.RetryCount++
		if !entry.CanRetry() {
			if rmErr := dlq.RemoveDLQ(ctx, entry.ID); rmErr != nil {
				return sum, eris.Wrapf(rmErr, "pipeline: remove dead letter %s", entry.ID)
			}
			sum.Exhausted++
			elog.Error("pipeline: dead letter exhausted retries",
				zap.Int("retry_count", entry.RetryCount),
				zap.String("error", lastErr),
			)
			continue
		}

		next := o.now().UTC().Add(resilience.RetryDelay(entry.RetryCount))
		if incErr := dlq.IncrementDLQRetry(ctx, entry.ID, next, lastErr); incErr != nil {
			return sum, eris.Wrapf(incErr, "pipeline: reschedule dead letter %s", entry.ID)
		}
		sum.Requeued++
		elog.Warn("pipeline: dead letter still failing",
			zap.Int("retry_count", entry.RetryCount),
			zap.Time("next_retry_at", next),
		)
	}

	log.Info("pipeline: dead-letter retry complete",
		zap.Int("attempted", sum.Attempted),
		zap.Int("recovered", sum.Recovered),
		zap.Int("requeued", sum.Requeued),
		zap.Int("exhausted", sum.Exhausted),
	)
	return sum, nil
}
