package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ole/internal/domain"
)

const (
	defaultSweepInterval = 10 * time.Minute
	defaultSweepBatch    = 500
)

var (
	cleanupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ole_idempotency_cleanup_runs_total",
		Help: "Idempotency cleanup runs partitioned by result.",
	}, []string{"result"})
	cleanupDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ole_idempotency_cleanup_deleted_total",
		Help: "Expired idempotency records removed since process start.",
	})
	cleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ole_idempotency_cleanup_last_deleted",
		Help: "Records removed by the most recent cleanup run.",
	})
)

// CleanupWorker выметает просроченные idempotency-ключи, чтобы таблица не
// росла бесконечно. Удаление идёт порциями: длинная чистка после простоя не
// держит хранилище одним большим запросом.
type CleanupWorker struct {
	keys      domain.IdempotencyRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// CleanupOption настраивает CleanupWorker при создании.
type CleanupOption func(*CleanupWorker)

// WithLogger задаёт логгер воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) { w.logger = logger }
}

// WithInterval задаёт паузу между проходами очистки.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) { w.interval = interval }
}

// WithBatchSize ограничивает число записей, удаляемых одним запросом.
func WithBatchSize(size int) CleanupOption {
	return func(w *CleanupWorker) { w.batchSize = size }
}

// NewCleanupWorker создаёт воркера очистки поверх хранилища ключей.
func NewCleanupWorker(keys domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		keys:      keys,
		interval:  defaultSweepInterval,
		batchSize: defaultSweepBatch,
	}
	for _, option := range options {
		option(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "idempotency-cleanup-worker")
	}
	if w.interval <= 0 {
		w.interval = defaultSweepInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultSweepBatch
	}

	return w
}

// Run выполняет проход очистки сразу и далее по тикеру до отмены контекста.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.keys == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: no repository")
		return
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *CleanupWorker) sweep(ctx context.Context) {
	deleted, err := w.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		cleanupRuns.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("idempotency cleanup run failed")
		return
	}

	cleanupRuns.WithLabelValues("ok").Inc()
	cleanupLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("idempotency cleanup completed")
	}
}

// PurgeExpired удаляет записи с ttl <= before порциями batchSize, пока
// хранилище возвращает полные батчи. Возвращает суммарное число удалённых.
func (w *CleanupWorker) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.keys.DeleteExpired(before, w.batchSize)
		if err != nil {
			return total, err
		}
		if deleted > 0 {
			total += deleted
			cleanupDeleted.Add(float64(deleted))
		}

		// Неполный батч означает, что просроченных записей больше нет.
		if deleted < w.batchSize {
			return total, nil
		}
	}
}
