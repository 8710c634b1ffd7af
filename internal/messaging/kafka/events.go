package kafka

import "time"

// EventType определяет тип события жизненного цикла заказа.
type EventType string

const (
	// События смены статусов.
	EventTypeOrderStatusChanged   EventType = "order.status_changed"
	EventTypePaymentStatusChanged EventType = "payment.status_changed"

	// События отмены.
	EventTypeCancellationRequested       EventType = "cancellation.requested"
	EventTypeCancellationAwaitingPayment EventType = "cancellation.awaiting_payment"
	EventTypeCancellationFinalized       EventType = "cancellation.finalized"

	// EventTypeOrderReceived — заказ принят движком от checkout-коллаборатора.
	EventTypeOrderReceived EventType = "order.received"
)

// Topics для Kafka.
const (
	TopicOrderEvents     = "ole.order.events"
	TopicDeadLetterQueue = "ole.dlq"
)

// LifecycleEvent представляет событие жизненного цикла заказа.
type LifecycleEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewLifecycleEvent создаёт событие жизненного цикла с текущей меткой времени.
func NewLifecycleEvent(eventType EventType, orderID string, metadata map[string]interface{}) *LifecycleEvent {
	return &LifecycleEvent{
		EventType: eventType,
		OrderID:   orderID,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}
