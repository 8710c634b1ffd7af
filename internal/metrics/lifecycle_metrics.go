package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LifecycleMetrics содержит метрики движка жизненного цикла заказов.
type LifecycleMetrics struct {
	// Счётчики переходов по измерениям и результатам.
	transitions *prometheus.CounterVec

	// Счётчики отказов политики доступа по ролям.
	permissionDenied *prometheus.CounterVec

	// Конфликты optimistic locking и их разрешение повтором.
	versionConflicts prometheus.Counter
	conflictRetries  prometheus.Counter

	// Счётчики отмен по исходам.
	cancellations *prometheus.CounterVec

	// Запросы на доплату и расхождения подтверждений.
	deficitCharges       prometheus.Counter
	confirmationMismatch prometheus.Counter

	// Гистограмма времени обработки одного запроса к движку.
	requestDuration *prometheus.HistogramVec

	// События, поставленные в transactional outbox.
	outboxEvents prometheus.Counter
}

// Метки результата перехода для transitions.
const (
	ResultApplied  = "applied"
	ResultInvalid  = "invalid"
	ResultNoOp     = "noop"
	ResultDenied   = "denied"
	ResultConflict = "conflict"
	ResultNotFound = "not_found"
)

// NewLifecycleMetrics создаёт метрики, зарегистрированные в DefaultRegisterer.
func NewLifecycleMetrics() *LifecycleMetrics {
	return newLifecycleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newLifecycleMetricsWithRegisterer(registerer prometheus.Registerer) *LifecycleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LifecycleMetrics{
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ole_status_transitions_total",
			Help: "Total number of requested status transitions grouped by dimension and result",
		}, []string{"dimension", "result"}),
		permissionDenied: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ole_permission_denied_total",
			Help: "Total number of transitions rejected by the role access policy",
		}, []string{"role"}),
		versionConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ole_version_conflicts_total",
			Help: "Total number of optimistic locking conflicts on order writes",
		}),
		conflictRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ole_conflict_retries_total",
			Help: "Total number of automatic retries after a version conflict",
		}),
		cancellations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ole_cancellations_total",
			Help: "Total number of cancellation requests grouped by outcome",
		}, []string{"outcome"}),
		deficitCharges: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ole_deficit_charges_total",
			Help: "Total number of deficit payment charges created with the gateway",
		}),
		confirmationMismatch: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ole_gateway_confirmation_mismatch_total",
			Help: "Total number of gateway confirmations that did not match a pending charge",
		}),
		requestDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "ole_request_duration_seconds",
			Help:    "Duration of lifecycle engine operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"operation"}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ole_outbox_events_total",
			Help: "Total number of events enqueued into the transactional outbox",
		}),
	}
}

// RecordTransition фиксирует исход запроса на смену статуса.
func (m *LifecycleMetrics) RecordTransition(dimension, result string) {
	m.transitions.WithLabelValues(dimension, result).Inc()
}

// RecordPermissionDenied фиксирует отказ политики доступа.
func (m *LifecycleMetrics) RecordPermissionDenied(role string) {
	m.permissionDenied.WithLabelValues(role).Inc()
}

// RecordVersionConflict фиксирует проигрыш optimistic-гонки.
func (m *LifecycleMetrics) RecordVersionConflict() {
	m.versionConflicts.Inc()
}

// RecordConflictRetry фиксирует автоматический повтор после конфликта.
func (m *LifecycleMetrics) RecordConflictRetry() {
	m.conflictRetries.Inc()
}

// RecordCancellation фиксирует исход запроса на отмену.
func (m *LifecycleMetrics) RecordCancellation(outcome string) {
	m.cancellations.WithLabelValues(outcome).Inc()
}

// RecordDeficitCharge фиксирует созданный запрос на доплату.
func (m *LifecycleMetrics) RecordDeficitCharge() {
	m.deficitCharges.Inc()
}

// RecordConfirmationMismatch фиксирует несовпавшее подтверждение шлюза.
func (m *LifecycleMetrics) RecordConfirmationMismatch() {
	m.confirmationMismatch.Inc()
}

// RecordRequestDuration фиксирует длительность операции движка.
func (m *LifecycleMetrics) RecordRequestDuration(operation string, duration time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordOutboxEvent фиксирует событие, поставленное в outbox.
func (m *LifecycleMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}
