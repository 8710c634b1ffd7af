package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ole/internal/domain"
	"github.com/vladislavdragonenkov/ole/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ole/internal/metrics"
)

const (
	// maxSaveAttempts — одна попытка плюс один автоматический повтор после
	// проигрыша optimistic-гонки. Второй подряд конфликт возвращается вызывающему.
	maxSaveAttempts = 2
	retryDelay      = 10 * time.Millisecond
)

// Service — движок жизненного цикла заказов. Все мутации статусов проходят
// через него: валидация графа, политика доступа, optimistic locking и запись
// аудита выполняются в одном месте.
type Service struct {
	orders  domain.OrderRepository
	outbox  domain.OutboxRepository
	logger  *log.Entry
	metrics *metrics.LifecycleMetrics
}

// NewService создаёт рабочий экземпляр движка.
func NewService(orders domain.OrderRepository, outbox domain.OutboxRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "lifecycle")
	}
	return &Service{
		orders:  orders,
		outbox:  outbox,
		logger:  logger,
		metrics: metrics.NewLifecycleMetrics(),
	}
}

// NewServiceWithoutMetrics создаёт движок без метрик (для тестов).
func NewServiceWithoutMetrics(orders domain.OrderRepository, outbox domain.OutboxRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "lifecycle")
	}
	return &Service{
		orders: orders,
		outbox: outbox,
		logger: logger,
	}
}

// Intake принимает новый заказ от checkout-коллаборатора. Заказ всегда входит
// в движок в состоянии pending/pending; любые другие стартовые статусы отклоняются.
func (s *Service) Intake(order domain.Order) (domain.Order, error) {
	start := time.Now()
	defer s.observeDuration("intake", start)

	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if order.PaymentStatus == "" {
		order.PaymentStatus = domain.PaymentStatusPending
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPending {
		return domain.Order{}, fmt.Errorf("%w: new order must start as pending/pending", domain.ErrInvalidTransition)
	}

	if violations := order.ValidateInvariants(); len(violations) > 0 {
		return domain.Order{}, errors.Join(violations...)
	}

	now := time.Now().UTC()
	order.Version = 0
	order.CreatedAt = now
	order.UpdatedAt = now

	if err := s.orders.Create(order); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist new order")
		return domain.Order{}, err
	}

	s.emitEvent(order.ID, kafka.EventTypeOrderReceived, map[string]interface{}{
		"customer_id":    order.CustomerID,
		"payment_method": string(order.PaymentMethod),
		"amount_minor":   order.AmountMinor,
		"currency":       order.Currency,
	})

	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
	}).Info("order received")

	return order, nil
}

// RequestStatusChange выполняет запрос на смену статуса исполнения от имени
// актора. Порядок проверок фиксирован: существование заказа, валидность ребра,
// политика доступа, затем запись. Конфликт версий один раз повторяется
// автоматически на свежепрочитанном заказе.
func (s *Service) RequestStatusChange(orderID string, actor domain.Actor, desired domain.OrderStatus, notes string) (domain.Order, error) {
	start := time.Now()
	defer s.observeDuration("order_status_change", start)

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		order, err := s.orders.Get(orderID)
		if err != nil {
			s.recordTransition(domain.DimensionFulfillment, metrics.ResultNotFound)
			return domain.Order{}, err
		}

		if err := domain.ValidateOrderTransition(order.Status, desired); err != nil {
			result := metrics.ResultInvalid
			if errors.Is(err, domain.ErrNoOpTransition) {
				result = metrics.ResultNoOp
			}
			s.recordTransition(domain.DimensionFulfillment, result)
			return domain.Order{}, err
		}

		if !domain.CanUpdateOrderStatus(actor.Role, order.Status, desired) {
			s.recordTransition(domain.DimensionFulfillment, metrics.ResultDenied)
			s.recordPermissionDenied(actor.Role)
			s.logger.WithFields(log.Fields{
				"order_id": orderID,
				"role":     actor.Role,
				"from":     order.Status,
				"to":       desired,
			}).Warn("order status change denied by access policy")
			return domain.Order{}, fmt.Errorf("%w: role %s cannot move order from %s to %s",
				domain.ErrPermissionDenied, actor.Role, order.Status, desired)
		}

		previous := order.Status
		order.Status = desired
		order.UpdatedAt = time.Now().UTC()

		rec := domain.StatusChangeRecord{
			Dimension: domain.DimensionFulfillment,
			From:      string(previous),
			To:        string(desired),
			ActorRole: actor.Role,
			ActorID:   actor.ID,
			Notes:     notes,
			Occurred:  order.UpdatedAt,
		}

		if err := s.orders.Save(order, rec); err != nil {
			if retry, retErr := s.handleSaveError(orderID, domain.DimensionFulfillment, attempt, err); !retry {
				return domain.Order{}, retErr
			}
			continue
		}

		order.Version++
		s.recordTransition(domain.DimensionFulfillment, metrics.ResultApplied)

		s.emitEvent(order.ID, kafka.EventTypeOrderStatusChanged, map[string]interface{}{
			"from":       string(previous),
			"to":         string(desired),
			"actor_role": string(actor.Role),
			"actor_id":   actor.ID,
		})

		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"from":     previous,
			"to":       desired,
			"role":     actor.Role,
		}).Info("order status changed")

		return order, nil
	}

	return domain.Order{}, domain.ErrVersionConflict
}

// RequestPaymentStatusChange выполняет запрос на смену статуса оплаты.
// Политика доступа учитывает способ оплаты заказа: вручную статус оплаты
// наличных заказов ведёт бухгалтерия, предоплаченных — только админ.
func (s *Service) RequestPaymentStatusChange(orderID string, actor domain.Actor, desired domain.PaymentStatus, notes string) (domain.Order, error) {
	start := time.Now()
	defer s.observeDuration("payment_status_change", start)

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		order, err := s.orders.Get(orderID)
		if err != nil {
			s.recordTransition(domain.DimensionPayment, metrics.ResultNotFound)
			return domain.Order{}, err
		}

		if err := domain.ValidatePaymentTransition(order.PaymentStatus, desired); err != nil {
			result := metrics.ResultInvalid
			if errors.Is(err, domain.ErrNoOpTransition) {
				result = metrics.ResultNoOp
			}
			s.recordTransition(domain.DimensionPayment, result)
			return domain.Order{}, err
		}

		if !domain.CanUpdatePaymentStatus(actor.Role, order.PaymentMethod, order.PaymentStatus, desired) {
			s.recordTransition(domain.DimensionPayment, metrics.ResultDenied)
			s.recordPermissionDenied(actor.Role)
			s.logger.WithFields(log.Fields{
				"order_id": orderID,
				"role":     actor.Role,
				"method":   order.PaymentMethod,
				"from":     order.PaymentStatus,
				"to":       desired,
			}).Warn("payment status change denied by access policy")
			return domain.Order{}, fmt.Errorf("%w: role %s cannot move payment from %s to %s",
				domain.ErrPermissionDenied, actor.Role, order.PaymentStatus, desired)
		}

		previous := order.PaymentStatus
		order.PaymentStatus = desired
		order.UpdatedAt = time.Now().UTC()

		rec := domain.StatusChangeRecord{
			Dimension: domain.DimensionPayment,
			From:      string(previous),
			To:        string(desired),
			ActorRole: actor.Role,
			ActorID:   actor.ID,
			Notes:     notes,
			Occurred:  order.UpdatedAt,
		}

		if err := s.orders.Save(order, rec); err != nil {
			if retry, retErr := s.handleSaveError(orderID, domain.DimensionPayment, attempt, err); !retry {
				return domain.Order{}, retErr
			}
			continue
		}

		order.Version++
		s.recordTransition(domain.DimensionPayment, metrics.ResultApplied)

		s.emitEvent(order.ID, kafka.EventTypePaymentStatusChanged, map[string]interface{}{
			"from":       string(previous),
			"to":         string(desired),
			"actor_role": string(actor.Role),
			"actor_id":   actor.ID,
		})

		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"from":     previous,
			"to":       desired,
			"role":     actor.Role,
		}).Info("payment status changed")

		return order, nil
	}

	return domain.Order{}, domain.ErrVersionConflict
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(orderID string) (domain.Order, error) {
	return s.orders.Get(orderID)
}

// History возвращает журнал аудита изменений статусов заказа.
func (s *Service) History(orderID string) ([]domain.StatusChangeRecord, error) {
	if _, err := s.orders.Get(orderID); err != nil {
		return nil, err
	}
	return s.orders.History(orderID)
}

// VisibleOrders возвращает заказы в статусах, видимых роли на операционных
// экранах. Для ролей без видимых статусов результат пуст.
func (s *Service) VisibleOrders(role domain.Role, limit int) ([]domain.Order, error) {
	statuses := domain.VisibleStatuses(role)
	if len(statuses) == 0 {
		return nil, nil
	}
	return s.orders.ListByStatuses(statuses, limit)
}

// handleSaveError решает, повторять ли запись после ошибки Save. Возвращает
// retry=true только для конфликта версий, у которого остались попытки.
func (s *Service) handleSaveError(orderID string, dimension domain.StatusDimension, attempt int, err error) (bool, error) {
	if domain.IsVersionConflict(err) {
		s.recordVersionConflict()
		if attempt < maxSaveAttempts-1 {
			s.recordConflictRetry()
			s.logger.WithFields(log.Fields{
				"order_id": orderID,
				"attempt":  attempt + 1,
			}).Warn("version conflict detected, retrying")
			time.Sleep(retryDelay)
			return true, nil
		}
		s.recordTransition(dimension, metrics.ResultConflict)
		return false, err
	}

	s.logger.WithError(err).WithFields(log.Fields{
		"order_id": orderID,
		"attempt":  attempt + 1,
	}).Error("failed to persist status change")
	return false, err
}

// emitEvent ставит событие жизненного цикла в transactional outbox. Сбой
// постановки логируется, но не откатывает уже применённую мутацию.
func (s *Service) emitEvent(orderID string, eventType kafka.EventType, payload map[string]interface{}) {
	if s.outbox == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = orderID
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
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
	if _, err := s.outbox.Enqueue(msg); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Error("enqueue event failed")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}
}

func (s *Service) observeDuration(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordRequestDuration(operation, time.Since(start))
	}
}

func (s *Service) recordTransition(dimension domain.StatusDimension, result string) {
	if s.metrics != nil {
		s.metrics.RecordTransition(string(dimension), result)
	}
}

func (s *Service) recordPermissionDenied(role domain.Role) {
	if s.metrics != nil {
		s.metrics.RecordPermissionDenied(string(role))
	}
}

func (s *Service) recordVersionConflict() {
	if s.metrics != nil {
		s.metrics.RecordVersionConflict()
	}
}

func (s *Service) recordConflictRetry() {
	if s.metrics != nil {
		s.metrics.RecordConflictRetry()
	}
}
