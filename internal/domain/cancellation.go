package domain

import (
	"fmt"
	"time"
)

// CancellationReason — закрытый набор причин отмены.
type CancellationReason string

const (
	// ReasonCustomerChange — покупатель передумал; стоимость доставки
	// удерживается из возврата.
	ReasonCustomerChange CancellationReason = "customer_change"
	// ReasonDefective — товар бракованный; возврат полной суммы.
	ReasonDefective CancellationReason = "defective"
	// ReasonWrongDelivery — доставлен не тот товар; возврат полной суммы.
	ReasonWrongDelivery CancellationReason = "wrong_delivery"
)

// Valid проверяет принадлежность причины закрытому набору.
func (r CancellationReason) Valid() bool {
	switch r {
	case ReasonCustomerChange, ReasonDefective, ReasonWrongDelivery:
		return true
	default:
		return false
	}
}

// CancellationState — состояние запроса на отмену.
type CancellationState string

const (
	// CancellationRequested — отмена запрошена, финализация ещё не выполнена.
	CancellationRequested CancellationState = "requested"
	// CancellationAwaitingDeficitPayment — отмена ждёт доплату через шлюз.
	CancellationAwaitingDeficitPayment CancellationState = "awaiting_deficit_payment"
	// CancellationFinalized — отмена завершена, заказ переведён в cancelled.
	CancellationFinalized CancellationState = "finalized"
)

// CancellationQuote — результат чистого расчёта отмены. Все суммы
// неотрицательны и выражены в минимальных денежных единицах.
type CancellationQuote struct {
	RefundMinor              int64
	DeficitMinor             int64
	ShippingFeeDeductedMinor int64
}

// ComputeCancellation превращает (сумма заказа, причина, стандартная стоимость
// доставки) в суммы возврата и доплаты. Чистая функция без побочных эффектов.
// Строго положительной может быть только одна из сумм RefundMinor/DeficitMinor;
// обе равны нулю, когда сумма заказа совпадает со стоимостью доставки.
func ComputeCancellation(amountMinor int64, reason CancellationReason, shippingFeeMinor int64) (CancellationQuote, error) {
	if amountMinor < 0 {
		return CancellationQuote{}, ErrAmountNegative
	}
	if shippingFeeMinor < 0 {
		return CancellationQuote{}, ErrShippingFeeInvalid
	}

	switch reason {
	case ReasonCustomerChange:
		quote := CancellationQuote{ShippingFeeDeductedMinor: shippingFeeMinor}
		if amountMinor >= shippingFeeMinor {
			quote.RefundMinor = amountMinor - shippingFeeMinor
		} else {
			quote.DeficitMinor = shippingFeeMinor - amountMinor
		}
		return quote, nil
	case ReasonDefective, ReasonWrongDelivery:
		return CancellationQuote{RefundMinor: amountMinor}, nil
	default:
		return CancellationQuote{}, fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}
}

// CancellableStatuses перечисляет статусы исполнения, из которых отмена
// доступна. delivered исключён намеренно: после вручения действует возвратный
// процесс вне этого движка.
var cancellableStatuses = map[OrderStatus]struct{}{
	OrderStatusPending:    {},
	OrderStatusProcessing: {},
	OrderStatusPacked:     {},
	OrderStatusShipped:    {},
}

// Cancellable сообщает, доступна ли отмена из данного статуса исполнения.
func (s OrderStatus) Cancellable() bool {
	_, ok := cancellableStatuses[s]
	return ok
}

// CancellationIntent — запрос на отмену заказа. Одновременно у заказа может
// существовать не более одного нефинализированного intent'а.
type CancellationIntent struct {
	ID       string
	OrderID  string
	Reason   CancellationReason
	Quote    CancellationQuote
	State    CancellationState
	// ChargeRequestID — идентификатор запроса на доплату в платёжном шлюзе;
	// пуст, когда доплата не требуется.
	ChargeRequestID string
	RequestedByRole Role
	RequestedByID   string
	CreatedAt       time.Time
	// ExpiresAt ограничивает срок ожидания доплаты; нулевое значение — без срока.
	ExpiresAt time.Time
}

// Finalized сообщает, завершён ли запрос на отмену.
func (i CancellationIntent) Finalized() bool {
	return i.State == CancellationFinalized
}

// Expired сообщает, истёк ли срок ожидания доплаты. Финализированные intent'ы
// не истекают.
func (i CancellationIntent) Expired(now time.Time) bool {
	if i.Finalized() || i.ExpiresAt.IsZero() {
		return false
	}
	return now.After(i.ExpiresAt)
}

// Active сообщает, блокирует ли intent новые запросы на отмену этого заказа.
func (i CancellationIntent) Active(now time.Time) bool {
	return !i.Finalized() && !i.Expired(now)
}
