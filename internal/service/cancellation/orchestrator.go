package cancellation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ole/internal/domain"
	"github.com/vladislavdragonenkov/ole/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ole/internal/metrics"
	"github.com/vladislavdragonenkov/ole/internal/service/lifecycle"
)

// DefaultPendingTTL ограничивает окно ожидания доплаты по умолчанию.
// Истёкший intent перестаёт блокировать новые запросы на отмену.
const DefaultPendingTTL = 30 * time.Minute

// Исходы отмен для метрик.
const (
	outcomeFinalized       = "finalized"
	outcomeAwaitingPayment = "awaiting_payment"
	outcomeRejected        = "rejected"
	outcomeAlreadyPending  = "already_pending"
	outcomeGatewayError    = "gateway_error"
)

// Result — итог операции оркестратора: заказ после применённых мутаций
// и текущее состояние запроса на отмену.
type Result struct {
	Order  domain.Order
	Intent domain.CancellationIntent
}

// Orchestrator последовательно проводит отмену заказа: расчёт сумм, запрос
// доплаты через шлюз при дефиците и финализация обоих измерений статуса.
// Сами мутации статусов выполняет движок жизненного цикла от имени
// системного актора, так что аудит и события остаются едиными.
type Orchestrator struct {
	orders    domain.OrderRepository
	intents   domain.CancellationRepository
	lifecycle *lifecycle.Service
	gateway   domain.PaymentGateway
	outbox    domain.OutboxRepository
	logger    *log.Entry
	metrics   *metrics.LifecycleMetrics

	shippingFeeMinor int64
	pendingTTL       time.Duration
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора отмен.
func NewOrchestrator(
	orders domain.OrderRepository,
	intents domain.CancellationRepository,
	engine *lifecycle.Service,
	gateway domain.PaymentGateway,
	outbox domain.OutboxRepository,
	shippingFeeMinor int64,
	pendingTTL time.Duration,
	logger *log.Entry,
) *Orchestrator {
	o := newOrchestrator(orders, intents, engine, gateway, outbox, shippingFeeMinor, pendingTTL, logger)
	o.metrics = metrics.NewLifecycleMetrics()
	return o
}

// NewOrchestratorWithoutMetrics создаёт оркестратор без метрик (для тестов).
func NewOrchestratorWithoutMetrics(
	orders domain.OrderRepository,
	intents domain.CancellationRepository,
	engine *lifecycle.Service,
	gateway domain.PaymentGateway,
	outbox domain.OutboxRepository,
	shippingFeeMinor int64,
	pendingTTL time.Duration,
	logger *log.Entry,
) *Orchestrator {
	return newOrchestrator(orders, intents, engine, gateway, outbox, shippingFeeMinor, pendingTTL, logger)
}

func newOrchestrator(
	orders domain.OrderRepository,
	intents domain.CancellationRepository,
	engine *lifecycle.Service,
	gateway domain.PaymentGateway,
	outbox domain.OutboxRepository,
	shippingFeeMinor int64,
	pendingTTL time.Duration,
	logger *log.Entry,
) *Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "cancellation")
	}
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}
	return &Orchestrator{
		orders:           orders,
		intents:          intents,
		lifecycle:        engine,
		gateway:          gateway,
		outbox:           outbox,
		logger:           logger,
		shippingFeeMinor: shippingFeeMinor,
		pendingTTL:       pendingTTL,
	}
}

// Initiate запускает отмену заказа. При дефиците (стоимость доставки превышает
// сумму заказа) создаётся запрос на доплату через шлюз и отмена переходит
// в ожидание; иначе финализация выполняется сразу.
func (o *Orchestrator) Initiate(orderID string, actor domain.Actor, reason domain.CancellationReason) (Result, error) {
	start := time.Now()
	defer o.observeDuration("cancellation_initiate", start)

	if !reason.Valid() {
		o.recordCancellation(outcomeRejected)
		return Result{}, fmt.Errorf("%w: %q", domain.ErrInvalidReason, reason)
	}

	order, err := o.orders.Get(orderID)
	if err != nil {
		o.recordCancellation(outcomeRejected)
		return Result{}, err
	}

	if !domain.CanInitiateCancellation(actor.Role) {
		o.recordCancellation(outcomeRejected)
		o.recordPermissionDenied(actor.Role)
		return Result{}, fmt.Errorf("%w: role %s cannot cancel orders", domain.ErrPermissionDenied, actor.Role)
	}

	if !order.Status.Cancellable() {
		o.recordCancellation(outcomeRejected)
		return Result{}, fmt.Errorf("%w: order is %s", domain.ErrNotCancellable, order.Status)
	}

	now := time.Now().UTC()
	if latest, err := o.intents.Latest(orderID); err == nil && latest.Active(now) {
		// Активный intent без ожидаемой доплаты — это прерванная финализация
		// (запись создана, а переводы статусов не прошли, например из-за
		// проигранной optimistic-гонки). Повторный запрос доводит её до конца;
		// блокировка нужна только пока висит запрос на доплату, чтобы не
		// создать второй charge в шлюзе.
		if latest.State == domain.CancellationRequested {
			o.logger.WithFields(log.Fields{
				"order_id":  orderID,
				"intent_id": latest.ID,
			}).Warn("resuming interrupted cancellation finalization")
			return o.finalize(order, latest)
		}
		o.recordCancellation(outcomeAlreadyPending)
		return Result{}, domain.ErrCancellationPending
	}

	quote, err := domain.ComputeCancellation(order.AmountMinor, reason, o.shippingFeeMinor)
	if err != nil {
		o.recordCancellation(outcomeRejected)
		return Result{}, err
	}

	intent := domain.CancellationIntent{
		ID:              uuid.NewString(),
		OrderID:         order.ID,
		Reason:          reason,
		Quote:           quote,
		State:           domain.CancellationRequested,
		RequestedByRole: actor.Role,
		RequestedByID:   actor.ID,
		CreatedAt:       now,
	}

	if quote.DeficitMinor > 0 {
		return o.initiateDeficit(order, intent)
	}

	if err := o.intents.Create(intent); err != nil {
		o.recordCancellation(outcomeAlreadyPending)
		return Result{}, err
	}

	o.emitEvent(order.ID, kafka.EventTypeCancellationRequested, map[string]interface{}{
		"reason":       string(reason),
		"refund_minor": quote.RefundMinor,
	})

	return o.finalize(order, intent)
}

// initiateDeficit создаёт запрос на доплату и переводит отмену в ожидание.
func (o *Orchestrator) initiateDeficit(order domain.Order, intent domain.CancellationIntent) (Result, error) {
	purpose := fmt.Sprintf("cancellation deficit for order %s", order.ID)
	chargeID, err := o.gateway.CreateCharge(intent.Quote.DeficitMinor, order.Currency, purpose)
	if err != nil {
		o.recordCancellation(outcomeGatewayError)
		o.logger.WithError(err).WithField("order_id", order.ID).Error("deficit charge creation failed")
		return Result{}, fmt.Errorf("create deficit charge: %w", err)
	}

	intent.State = domain.CancellationAwaitingDeficitPayment
	intent.ChargeRequestID = chargeID
	intent.ExpiresAt = intent.CreatedAt.Add(o.pendingTTL)

	if err := o.intents.Create(intent); err != nil {
		o.recordCancellation(outcomeAlreadyPending)
		return Result{}, err
	}

	o.recordDeficitCharge()
	o.recordCancellation(outcomeAwaitingPayment)

	o.emitEvent(order.ID, kafka.EventTypeCancellationAwaitingPayment, map[string]interface{}{
		"reason":            string(intent.Reason),
		"deficit_minor":     intent.Quote.DeficitMinor,
		"charge_request_id": chargeID,
	})

	o.logger.WithFields(log.Fields{
		"order_id":          order.ID,
		"deficit_minor":     intent.Quote.DeficitMinor,
		"charge_request_id": chargeID,
	}).Info("cancellation awaiting deficit payment")

	return Result{Order: order, Intent: intent}, nil
}

// ConfirmDeficitPayment обрабатывает подтверждение доплаты от шлюза.
// Повторное подтверждение уже финализированной отмены возвращает успех без
// побочных эффектов; расхождение идентификатора или статуса отклоняется.
func (o *Orchestrator) ConfirmDeficitPayment(orderID string, conf domain.GatewayConfirmation) (Result, error) {
	start := time.Now()
	defer o.observeDuration("cancellation_confirm", start)

	intent, err := o.intents.Latest(orderID)
	if err != nil {
		return Result{}, err
	}

	// Проверка на финализацию идёт первой: подтверждение, пришедшее после
	// завершения отмены (в том числе отмены без доплаты, где charge не
	// создавался), — это повтор, а не расхождение.
	if intent.Finalized() {
		order, err := o.orders.Get(orderID)
		if err != nil {
			return Result{}, err
		}
		o.logger.WithField("order_id", orderID).Debug("cancellation already finalized, confirmation is a no-op")
		return Result{Order: order, Intent: intent}, nil
	}

	if intent.ChargeRequestID == "" || intent.ChargeRequestID != conf.ChargeRequestID || conf.Status != domain.GatewayChargeSucceeded {
		o.recordConfirmationMismatch()
		o.logger.WithFields(log.Fields{
			"order_id":          orderID,
			"charge_request_id": conf.ChargeRequestID,
			"status":            conf.Status,
		}).Warn("gateway confirmation mismatch, possible replay or fraud signal")
		return Result{}, domain.ErrGatewayConfirmationMismatch
	}

	if intent.Expired(time.Now().UTC()) {
		return Result{}, fmt.Errorf("%w: deficit payment window expired", domain.ErrIntentNotFound)
	}

	order, err := o.orders.Get(orderID)
	if err != nil {
		return Result{}, err
	}

	return o.finalize(order, intent)
}

// finalize переводит заказ в cancelled и, если граф оплаты это допускает,
// статус оплаты в refunded. Метод устойчив к повторам: уже выполненные шаги
// пропускаются, поэтому частично завершённую отмену можно безопасно доводить.
func (o *Orchestrator) finalize(order domain.Order, intent domain.CancellationIntent) (Result, error) {
	notes := fmt.Sprintf("cancellation %s: refund %d, shipping fee deducted %d",
		intent.Reason, intent.Quote.RefundMinor, intent.Quote.ShippingFeeDeductedMinor)

	if order.Status != domain.OrderStatusCancelled {
		updated, err := o.lifecycle.RequestStatusChange(order.ID, domain.SystemActor, domain.OrderStatusCancelled, notes)
		if err != nil {
			if !errors.Is(err, domain.ErrNoOpTransition) {
				o.logger.WithError(err).WithField("order_id", order.ID).Error("cancel transition failed")
				return Result{}, err
			}
		} else {
			order = updated
		}
	}

	// Возврат отражается в статусе оплаты, только если ребро есть в графе:
	// по неоплаченному заказу возвращать нечего.
	fresh, err := o.orders.Get(order.ID)
	if err != nil {
		return Result{}, err
	}
	order = fresh
	if domain.ValidatePaymentTransition(order.PaymentStatus, domain.PaymentStatusRefunded) == nil {
		updated, err := o.lifecycle.RequestPaymentStatusChange(order.ID, domain.SystemActor, domain.PaymentStatusRefunded, notes)
		if err != nil {
			o.logger.WithError(err).WithField("order_id", order.ID).Error("refund transition failed")
			return Result{}, err
		}
		order = updated
	}

	if !intent.Finalized() {
		intent.State = domain.CancellationFinalized
		if err := o.intents.Save(intent); err != nil {
			o.logger.WithError(err).WithField("order_id", order.ID).Error("persist finalized intent failed")
			return Result{}, err
		}
	}

	o.recordCancellation(outcomeFinalized)

	o.emitEvent(order.ID, kafka.EventTypeCancellationFinalized, map[string]interface{}{
		"reason":        string(intent.Reason),
		"refund_minor":  intent.Quote.RefundMinor,
		"deficit_minor": intent.Quote.DeficitMinor,
	})

	o.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"reason":       intent.Reason,
		"refund_minor": intent.Quote.RefundMinor,
	}).Info("cancellation finalized")

	return Result{Order: order, Intent: intent}, nil
}

// Latest возвращает последний запрос на отмену заказа.
func (o *Orchestrator) Latest(orderID string) (domain.CancellationIntent, error) {
	return o.intents.Latest(orderID)
}

func (o *Orchestrator) emitEvent(orderID string, eventType kafka.EventType, payload map[string]interface{}) {
	if o.outbox == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = orderID
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     string(eventType),
		Payload:       data,
	}
	if _, err := o.outbox.Enqueue(msg); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Error("enqueue event failed")
		return
	}
	if o.metrics != nil {
		o.metrics.RecordOutboxEvent()
	}
}

func (o *Orchestrator) observeDuration(operation string, start time.Time) {
	if o.metrics != nil {
		o.metrics.RecordRequestDuration(operation, time.Since(start))
	}
}

func (o *Orchestrator) recordCancellation(outcome string) {
	if o.metrics != nil {
		o.metrics.RecordCancellation(outcome)
	}
}

func (o *Orchestrator) recordPermissionDenied(role domain.Role) {
	if o.metrics != nil {
		o.metrics.RecordPermissionDenied(string(role))
	}
}

func (o *Orchestrator) recordDeficitCharge() {
	if o.metrics != nil {
		o.metrics.RecordDeficitCharge()
	}
}

func (o *Orchestrator) recordConfirmationMismatch() {
	if o.metrics != nil {
		o.metrics.RecordConfirmationMismatch()
	}
}
