package domain

import "fmt"

// OrderStatus описывает стадию исполнения заказа в витрине.
type OrderStatus string

const (
	// OrderStatusPending — заказ принят витриной, обработка ещё не началась.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — заказ взят в работу (сборка позиций начата).
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusPacked — заказ упакован и готов к передаче в доставку.
	OrderStatusPacked OrderStatus = "packed"
	// OrderStatusShipped — заказ передан службе доставки.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusOutForDelivery — курьер выехал к покупателю.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered — заказ вручён покупателю.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCompleted — заказ закрыт; терминальный статус.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled — заказ отменён; терминальный статус.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus описывает стадию оплаты заказа, ортогональную исполнению.
type PaymentStatus string

const (
	// PaymentStatusPending — оплата ещё не получена.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid — оплата получена полностью.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusPartial — получена частичная оплата.
	PaymentStatusPartial PaymentStatus = "partial"
	// PaymentStatusRefunded — средства возвращены покупателю.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusFailed — попытка оплаты завершилась неудачей.
	PaymentStatusFailed PaymentStatus = "failed"
)

// PaymentMethod описывает способ оплаты; фиксируется при создании заказа
// и этим движком никогда не меняется.
type PaymentMethod string

const (
	// PaymentMethodCash — оплата наличными при получении.
	PaymentMethodCash PaymentMethod = "cash"
	// PaymentMethodCard — предоплата банковской картой.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodOnline — предоплата через онлайн-кошелёк шлюза.
	PaymentMethodOnline PaymentMethod = "online"
)

// orderStatusCatalog перечисляет статусы в порядке жизненного цикла.
var orderStatusCatalog = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusPacked,
	OrderStatusShipped,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

// orderStatusAliases нормализует исторические синонимы: в витринах исходной
// системы "confirmed" и "processing" использовались взаимозаменяемо, каталог
// хранит только "processing". Алиас принимается на границе парсинга и никогда
// не сохраняется.
var orderStatusAliases = map[string]OrderStatus{
	"confirmed": OrderStatusProcessing,
}

// orderTransitions — направленный граф допустимых переходов статуса исполнения.
// Отсутствие ребра означает запрет перехода.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:        {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing:     {OrderStatusPacked, OrderStatusShipped, OrderStatusCancelled},
	OrderStatusPacked:         {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:        {OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusOutForDelivery: {OrderStatusDelivered},
	OrderStatusDelivered:      {OrderStatusCompleted},
	OrderStatusCompleted:      {},
	OrderStatusCancelled:      {},
}

// paymentTransitions — граф допустимых переходов статуса оплаты.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:  {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusPaid:     {PaymentStatusRefunded, PaymentStatusPartial},
	PaymentStatusPartial:  {PaymentStatusRefunded},
	PaymentStatusRefunded: {},
	PaymentStatusFailed:   {},
}

// AllOrderStatuses возвращает копию полного каталога статусов исполнения.
func AllOrderStatuses() []OrderStatus {
	result := make([]OrderStatus, len(orderStatusCatalog))
	copy(result, orderStatusCatalog)
	return result
}

// ParseOrderStatus преобразует внешнее строковое значение в статус каталога,
// принимая известные алиасы.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	if alias, ok := orderStatusAliases[raw]; ok {
		return alias, nil
	}
	status := OrderStatus(raw)
	if !status.Valid() {
		return "", fmt.Errorf("%w: order status %q", ErrUnknownStatus, raw)
	}
	return status, nil
}

// ParsePaymentStatus преобразует внешнее строковое значение в статус оплаты.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	status := PaymentStatus(raw)
	if !status.Valid() {
		return "", fmt.Errorf("%w: payment status %q", ErrUnknownStatus, raw)
	}
	return status, nil
}

// ParsePaymentMethod преобразует внешнее строковое значение в способ оплаты.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	method := PaymentMethod(raw)
	if !method.Valid() {
		return "", fmt.Errorf("%w: payment method %q", ErrUnknownStatus, raw)
	}
	return method, nil
}

// Valid проверяет принадлежность значения закрытому каталогу.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Terminal сообщает, является ли статус конечным (нет исходящих рёбер).
func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(orderTransitions[s]) == 0
}

// Valid проверяет принадлежность значения закрытому каталогу.
func (s PaymentStatus) Valid() bool {
	_, ok := paymentTransitions[s]
	return ok
}

// Valid проверяет принадлежность значения закрытому каталогу.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodOnline:
		return true
	default:
		return false
	}
}

// Prepaid сообщает, управляется ли статус оплаты платёжным шлюзом,
// а не оператором вручную.
func (m PaymentMethod) Prepaid() bool {
	return m == PaymentMethodCard || m == PaymentMethodOnline
}

// ValidateOrderTransition проверяет существование ребра в графе исполнения.
// Переход from == to всегда отклоняется как ErrNoOpTransition, а не как
// молчаливый успех.
func ValidateOrderTransition(from, to OrderStatus) error {
	if !from.Valid() {
		return fmt.Errorf("%w: order status %q", ErrUnknownStatus, from)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: order status %q", ErrUnknownStatus, to)
	}
	if from == to {
		return fmt.Errorf("%w: order already %s", ErrNoOpTransition, from)
	}
	for _, next := range orderTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// ValidatePaymentTransition проверяет существование ребра в графе оплаты.
func ValidatePaymentTransition(from, to PaymentStatus) error {
	if !from.Valid() {
		return fmt.Errorf("%w: payment status %q", ErrUnknownStatus, from)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: payment status %q", ErrUnknownStatus, to)
	}
	if from == to {
		return fmt.Errorf("%w: payment already %s", ErrNoOpTransition, from)
	}
	for _, next := range paymentTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
