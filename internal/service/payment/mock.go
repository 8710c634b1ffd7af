package payment

import (
	"fmt"

	"github.com/vladislavdragonenkov/ole/internal/domain"
)

// MockGateway — конфигурируемая заглушка PaymentGateway для тестов и локального
// окружения. Реальный шлюз живёт за пределами движка.
type MockGateway struct {
	ChargeID  string
	ChargeErr error

	CreateChargeCalls int
	LastAmountMinor   int64
	LastCurrency      string
	LastPurpose       string
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

// CreateCharge возвращает настроенный идентификатор запроса и считает вызовы.
// Когда ChargeID не задан, идентификатор генерируется из номера вызова.
func (m *MockGateway) CreateCharge(amountMinor int64, currency, purpose string) (string, error) {
	m.CreateChargeCalls++
	m.LastAmountMinor = amountMinor
	m.LastCurrency = currency
	m.LastPurpose = purpose

	if m.ChargeErr != nil {
		return "", m.ChargeErr
	}
	if m.ChargeID != "" {
		return m.ChargeID, nil
	}
	return fmt.Sprintf("charge-%d", m.CreateChargeCalls), nil
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
