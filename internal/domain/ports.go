package domain

import "time"

// PaymentGateway описывает взаимодействие с внешним платёжным шлюзом.
type PaymentGateway interface {
	// CreateCharge создаёт запрос на доплату и возвращает его идентификатор.
	// Шлюз позже присылает подтверждение, которое сверяется с этим идентификатором.
	CreateCharge(amountMinor int64, currency, purpose string) (string, error)
}

// GatewayChargeSucceeded — статус подтверждения успешной оплаты от шлюза.
const GatewayChargeSucceeded = "succeeded"

// GatewayConfirmation — подтверждение оплаты, присланное шлюзом после редиректа.
type GatewayConfirmation struct {
	ChargeRequestID string
	Status          string
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
