package integration

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/ole/internal/domain"
	"github.com/vladislavdragonenkov/ole/internal/service/cancellation"
	"github.com/vladislavdragonenkov/ole/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/ole/internal/service/payment"
	"github.com/vladislavdragonenkov/ole/internal/storage/memory"
)

const standardShippingFee = 6000

// LifecycleFlowTestSuite проверяет полный жизненный цикл заказа через
// собранный стек: движок, оркестратор отмен, in-memory хранилища и mock-шлюз.
type LifecycleFlowTestSuite struct {
	suite.Suite
	orders       domain.OrderRepository
	outbox       domain.OutboxRepository
	engine       *lifecycle.Service
	orchestrator *cancellation.Orchestrator
	gateway      *payment.MockGateway
}

func (s *LifecycleFlowTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	s.orders = memory.NewOrderRepository()
	s.outbox = memory.NewOutboxRepository()
	intents := memory.NewCancellationRepository()
	s.gateway = payment.NewMockGateway()

	s.engine = lifecycle.NewServiceWithoutMetrics(s.orders, s.outbox, logger)
	s.orchestrator = cancellation.NewOrchestratorWithoutMetrics(
		s.orders,
		intents,
		s.engine,
		s.gateway,
		s.outbox,
		standardShippingFee,
		30*time.Minute,
		logger,
	)
}

func (s *LifecycleFlowTestSuite) intakeOrder(amountMinor int64) domain.Order {
	order, err := s.engine.Intake(domain.Order{
		ID:            "order-1",
		CustomerID:    "customer-123",
		PaymentMethod: domain.PaymentMethodCash,
		Currency:      "RUB",
		AmountMinor:   amountMinor,
	})
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.OrderStatusPending, order.Status)
	require.Equal(s.T(), domain.PaymentStatusPending, order.PaymentStatus)
	return order
}

func (s *LifecycleFlowTestSuite) TestSuccessfulFulfilmentChain() {
	s.intakeOrder(199900)

	admin := domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	courier := domain.Actor{ID: "courier-1", Role: domain.RoleDeliveryman}
	account := domain.Actor{ID: "account-1", Role: domain.RoleAccount}

	// Оплата подтверждается бухгалтерией.
	order, err := s.engine.RequestPaymentStatusChange("order-1", account, domain.PaymentStatusPaid, "")
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.PaymentStatusPaid, order.PaymentStatus)

	// Исполнение идёт по цепочке до вручения.
	for _, next := range []domain.OrderStatus{
		domain.OrderStatusProcessing,
		domain.OrderStatusPacked,
		domain.OrderStatusShipped,
	} {
		order, err = s.engine.RequestStatusChange("order-1", admin, next, "")
		require.NoError(s.T(), err)
		require.Equal(s.T(), next, order.Status)
	}

	order, err = s.engine.RequestStatusChange("order-1", courier, domain.OrderStatusOutForDelivery, "")
	require.NoError(s.T(), err)
	order, err = s.engine.RequestStatusChange("order-1", courier, domain.OrderStatusDelivered, "")
	require.NoError(s.T(), err)
	order, err = s.engine.RequestStatusChange("order-1", admin, domain.OrderStatusCompleted, "")
	require.NoError(s.T(), err)
	require.True(s.T(), order.Status.Terminal())

	// Аудит хранит полную цепочку с монотонным seq.
	history, err := s.engine.History("order-1")
	require.NoError(s.T(), err)
	require.Len(s.T(), history, 7)
	for i, rec := range history {
		require.Equal(s.T(), int64(i+1), rec.Seq)
	}
	require.Equal(s.T(), domain.DimensionPayment, history[0].Dimension)

	// Завершённый заказ больше не принимает переходы.
	_, err = s.engine.RequestStatusChange("order-1", admin, domain.OrderStatusCancelled, "")
	require.ErrorIs(s.T(), err, domain.ErrInvalidTransition)
}

func (s *LifecycleFlowTestSuite) TestCancellationWithRefund() {
	s.intakeOrder(50000)

	account := domain.Actor{ID: "account-1", Role: domain.RoleAccount}
	_, err := s.engine.RequestPaymentStatusChange("order-1", account, domain.PaymentStatusPaid, "")
	require.NoError(s.T(), err)

	user := domain.Actor{ID: "customer-123", Role: domain.RoleUser}
	result, err := s.orchestrator.Initiate("order-1", user, domain.ReasonCustomerChange)
	require.NoError(s.T(), err)

	require.Equal(s.T(), domain.OrderStatusCancelled, result.Order.Status)
	require.Equal(s.T(), domain.PaymentStatusRefunded, result.Order.PaymentStatus)
	require.True(s.T(), result.Intent.Finalized())
	require.Equal(s.T(), int64(44000), result.Intent.Quote.RefundMinor)
	require.Equal(s.T(), int64(standardShippingFee), result.Intent.Quote.ShippingFeeDeductedMinor)
	require.Zero(s.T(), s.gateway.CreateChargeCalls)

	// Финализация выполняется системным актором и попадает в аудит.
	history, err := s.engine.History("order-1")
	require.NoError(s.T(), err)
	last := history[len(history)-1]
	require.Equal(s.T(), domain.RoleSystem, last.ActorRole)
}

func (s *LifecycleFlowTestSuite) TestCancellationDeficitRoundTrip() {
	s.intakeOrder(4000)
	s.gateway.ChargeID = "charge-77"

	user := domain.Actor{ID: "customer-123", Role: domain.RoleUser}
	result, err := s.orchestrator.Initiate("order-1", user, domain.ReasonCustomerChange)
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.CancellationAwaitingDeficitPayment, result.Intent.State)
	require.Equal(s.T(), int64(2000), result.Intent.Quote.DeficitMinor)
	require.Equal(s.T(), 1, s.gateway.CreateChargeCalls)

	// Заказ не тронут, пока доплата не подтверждена.
	order, err := s.engine.GetOrder("order-1")
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.OrderStatusPending, order.Status)

	confirmed, err := s.orchestrator.ConfirmDeficitPayment("order-1", domain.GatewayConfirmation{
		ChargeRequestID: "charge-77",
		Status:          domain.GatewayChargeSucceeded,
	})
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.OrderStatusCancelled, confirmed.Order.Status)
	require.True(s.T(), confirmed.Intent.Finalized())
}

func (s *LifecycleFlowTestSuite) TestEveryMutationLeavesOutboxEvent() {
	s.intakeOrder(50000)

	admin := domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	_, err := s.engine.RequestStatusChange("order-1", admin, domain.OrderStatusProcessing, "")
	require.NoError(s.T(), err)

	pending, err := s.outbox.PullPending(100)
	require.NoError(s.T(), err)
	// order.received при приёме и order.status_changed при переходе.
	require.Len(s.T(), pending, 2)
	for _, msg := range pending {
		require.Equal(s.T(), "order", msg.AggregateType)
		require.Equal(s.T(), "order-1", msg.AggregateID)
		require.NotEmpty(s.T(), msg.Payload)
	}
}

func TestLifecycleFlowTestSuite(t *testing.T) {
	suite.Run(t, new(LifecycleFlowTestSuite))
}
