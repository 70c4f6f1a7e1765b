package persistence

import (
	"OracleMirror/internal/observability"
	"OracleMirror/internal/store/global"
	"context"
	"time"

	"github.com/rs/zerolog"
)

// BatchWriter persists one batch of rows.
type BatchWriter interface {
	WriteBatch(ctx context.Context, rows []PriceRow) (history, latest int64, err error)
}

// ProjectionWorker drains confirmed price observations and batch-writes them
// to Postgres. It is an observer only: nothing it writes is read back into
// the mirror, and the global store never waits on it.
type ProjectionWorker struct {
	writer       BatchWriter
	inputChan    <-chan global.PriceObservation
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewProjectionWorker(
	writer BatchWriter,
	inputChan <-chan global.PriceObservation,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		writer:       writer,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		maxBackoff:   30 * time.Second,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run batches incoming observations and flushes either when the batch is
// full or the flush timeout expires. Blocks until ctx is cancelled or the
// input closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	batch := make([]PriceRow, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flushBatch := func(ctx context.Context, reason string) {
		if len(batch) == 0 {
			return
		}
		if err := pw.flushWithRetry(ctx, batch); err != nil {
			pw.logger.Error().Err(err).Str("reason", reason).Int("rows", len(batch)).Msg("batch flush failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Shutdown: one last attempt without retries.
			if len(batch) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.logger.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case obs, ok := <-pw.inputChan:
			if !ok {
				flushBatch(context.Background(), "closed")
				return nil
			}

			batch = append(batch, RowFromObservation(obs))
			if len(batch) >= pw.batchSize {
				flushBatch(ctx, "full")
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			flushBatch(ctx, "timeout")
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx ends. Observations are re-sent every poll cycle, so a batch lost on
// shutdown is recovered by the next run.
func (pw *ProjectionWorker) flushWithRetry(ctx context.Context, rows []PriceRow) error {
	backoff := 100 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("rows", len(rows)).
				Msg("projection write retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, pw.maxBackoff)
		}

		err := pw.flush(ctx, rows)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("projection write succeeded after retries")
			}
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
}

func (pw *ProjectionWorker) flush(ctx context.Context, rows []PriceRow) error {
	start := time.Now()

	history, latest, err := pw.writer.WriteBatch(ctx, rows)
	if err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues(ErrorType(err)).Inc()
		}
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(rows)))
		pw.metrics.PersistRowsWritten.WithLabelValues("price_history").Add(float64(history))
		pw.metrics.PersistRowsWritten.WithLabelValues("latest_prices").Add(float64(latest))
	}
	return nil
}
