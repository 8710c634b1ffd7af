package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ole/internal/domain"
)

// Параметры по умолчанию подобраны под «событие уходит в брокер в течение
// секунды после коммита»: частый опрос, умеренный батч, короткий backoff.
const (
	defaultInterval    = time.Second
	defaultBatchSize   = 100
	defaultAttempts    = 3
	defaultBackoffBase = 50 * time.Millisecond
)

var (
	publishResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ole_outbox_publish_attempts_total",
		Help: "Outbox publish attempts partitioned by result.",
	}, []string{"result"})
	backlogDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ole_outbox_pending_records",
		Help: "Lifecycle events waiting for delivery in the transactional outbox.",
	})
	backlogOldestAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ole_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest undelivered outbox record in seconds.",
	})
)

// Worker доставляет события жизненного цикла заказа из transactional outbox
// в брокер. Доставка at-least-once: запись помечается sent только после
// успешной публикации, потребители обязаны переживать дубли.
type Worker struct {
	backlog     domain.OutboxRepository
	events      domain.OutboxPublisher
	deadLetter  domain.OutboxPublisher
	logger      *log.Entry
	interval    time.Duration
	batchSize   int
	attempts    int
	backoffBase time.Duration
}

// Option настраивает Worker при создании.
type Option func(*Worker)

// WithLogger задаёт логгер воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithDLQPublisher включает пересылку событий, исчерпавших попытки
// доставки, в dead letter queue.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.deadLetter = publisher }
}

// WithPollInterval задаёт период опроса backlog'а.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) { w.interval = interval }
}

// WithBatchSize ограничивает число записей, выбираемых за один цикл.
func WithBatchSize(size int) Option {
	return func(w *Worker) { w.batchSize = size }
}

// WithMaxAttempts задаёт число публикаций до пересылки в dead letter queue.
func WithMaxAttempts(attempts int) Option {
	return func(w *Worker) { w.attempts = attempts }
}

// WithRetryBaseDelay задаёт базу экспоненциального backoff между попытками.
// Ноль отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.backoffBase = delay }
}

// NewWorker создаёт воркера поверх backlog-хранилища и издателя событий.
func NewWorker(backlog domain.OutboxRepository, events domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		backlog:     backlog,
		events:      events,
		interval:    defaultInterval,
		batchSize:   defaultBatchSize,
		attempts:    defaultAttempts,
		backoffBase: defaultBackoffBase,
	}
	for _, option := range options {
		option(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	if w.interval <= 0 {
		w.interval = defaultInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.attempts <= 0 {
		w.attempts = defaultAttempts
	}
	if w.backoffBase < 0 {
		w.backoffBase = 0
	}

	return w
}

// Run опрашивает outbox до отмены контекста. Первый цикл выполняется сразу,
// чтобы не ждать тика после рестарта с накопленным backlog'ом.
func (w *Worker) Run(ctx context.Context) {
	if w.backlog == nil || w.events == nil {
		w.logger.Warn("outbox worker is disabled: no backlog or publisher")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.DrainOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.DrainOnce(ctx)
		}
	}
}

// DrainOnce выполняет один цикл: снимает показатели backlog'а, выбирает батч
// pending-записей и доставляет каждую по очереди.
func (w *Worker) DrainOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.observeBacklog()

	batch, err := w.backlog.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return
	}

	for _, msg := range batch {
		if ctx.Err() != nil {
			return
		}
		w.deliver(ctx, msg)
	}

	if len(batch) > 0 {
		w.observeBacklog()
	}
}

// deliver публикует одну запись с повторами. После исчерпания попыток запись
// уходит в DLQ и помечается failed, чтобы не блокировать хвост очереди.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) {
	err := w.publishWithBackoff(ctx, msg)
	if err == nil {
		if markErr := w.backlog.MarkSent(msg.ID); markErr != nil {
			w.logger.WithError(markErr).WithField("outbox_id", msg.ID).Warn("failed to mark outbox record as sent")
		}
		return
	}

	publishResults.WithLabelValues("failed").Inc()
	w.logger.WithError(err).WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"event_type": msg.EventType,
	}).Error("outbox publish failed after retries")

	if dlqErr := w.forwardToDeadLetter(msg, err); dlqErr != nil {
		publishResults.WithLabelValues("dlq_failed").Inc()
		w.logger.WithError(dlqErr).WithField("outbox_id", msg.ID).Warn("failed to forward outbox record to DLQ")
	}
	if markErr := w.backlog.MarkFailed(msg.ID); markErr != nil {
		w.logger.WithError(markErr).WithField("outbox_id", msg.ID).Warn("failed to mark outbox record as failed")
	}
}

func (w *Worker) publishWithBackoff(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if lastErr = w.events.Publish(msg); lastErr == nil {
			publishResults.WithLabelValues("sent").Inc()
			return nil
		}
		publishResults.WithLabelValues("retry_error").Inc()

		if attempt >= w.attempts {
			return fmt.Errorf("publish failed after %d attempts: %w", w.attempts, lastErr)
		}
		if delay := backoff(w.backoffBase, attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
}

// backoff — base*2^(attempt-1) с защитой от переполнения Duration.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	const ceiling = time.Duration(1<<63 - 1)
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > ceiling/2 {
			return ceiling
		}
		delay <<= 1
	}
	return delay
}

func (w *Worker) observeBacklog() {
	stats, err := w.backlog.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	backlogDepth.Set(float64(stats.PendingCount))

	age := 0.0
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		if since := time.Since(stats.OldestPendingAt).Seconds(); since > 0 {
			age = since
		}
	}
	backlogOldestAge.Set(age)
}

// forwardToDeadLetter заворачивает событие в DLQ-конверт с текстом ошибки
// публикации и меткой времени; оригинальный payload сохраняется внутри.
func (w *Worker) forwardToDeadLetter(msg domain.OutboxMessage, cause error) error {
	if w.deadLetter == nil {
		return nil
	}

	envelope, err := json.Marshal(map[string]any{
		"outbox_id":        msg.ID,
		"aggregate_type":   msg.AggregateType,
		"aggregate_id":     msg.AggregateID,
		"event_type":       msg.EventType,
		"payload":          json.RawMessage(msg.Payload),
		"publish_error":    cause.Error(),
		"dlq_published_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq envelope: %w", err)
	}

	dead := msg
	dead.Payload = envelope
	return w.deadLetter.Publish(dead)
}
