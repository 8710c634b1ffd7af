package lifecycle_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ole/internal/domain"
	"github.com/vladislavdragonenkov/ole/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/ole/internal/storage/memory"
)

type fixture struct {
	service *lifecycle.Service
	orders  domain.OrderRepository
	outbox  *outboxRecorder
}

// outboxRecorder оборачивает in-memory outbox, чтобы тесты видели поставленные события.
type outboxRecorder struct {
	domain.OutboxRepository
}

func (r *outboxRecorder) pendingTypes(t *testing.T) []string {
	t.Helper()
	pending, err := r.PullPending(100)
	if err != nil {
		t.Fatalf("pull pending failed: %v", err)
	}
	types := make([]string, 0, len(pending))
	for _, msg := range pending {
		types = append(types, msg.EventType)
	}
	return types
}

func newFixture() fixture {
	orders := memory.NewOrderRepository()
	outbox := &outboxRecorder{OutboxRepository: memory.NewOutboxRepository()}
	return fixture{
		service: lifecycle.NewServiceWithoutMetrics(orders, outbox, nil),
		orders:  orders,
		outbox:  outbox,
	}
}

func seedOrder(t *testing.T, fx fixture, status domain.OrderStatus, method domain.PaymentMethod) domain.Order {
	t.Helper()
	now := time.Now().UTC()
	order := domain.Order{
		ID:            "order-1",
		CustomerID:    "customer-1",
		Status:        status,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentMethod: method,
		Currency:      "USD",
		AmountMinor:   50000,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := fx.orders.Create(order); err != nil {
		t.Fatalf("seed order failed: %v", err)
	}
	return order
}

func admin() domain.Actor {
	return domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
}

func TestIntake(t *testing.T) {
	fx := newFixture()

	order, err := fx.service.Intake(domain.Order{
		ID:            "order-1",
		CustomerID:    "customer-1",
		PaymentMethod: domain.PaymentMethodCard,
		Currency:      "USD",
		AmountMinor:   50000,
	})
	if err != nil {
		t.Fatalf("intake failed: %v", err)
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected pending/pending, got %s/%s", order.Status, order.PaymentStatus)
	}
	if order.Version != 0 {
		t.Fatalf("expected version 0, got %d", order.Version)
	}

	types := fx.outbox.pendingTypes(t)
	if len(types) != 1 || types[0] != "order.received" {
		t.Fatalf("expected order.received event, got %v", types)
	}
}

func TestIntakeRejectsNonPending(t *testing.T) {
	fx := newFixture()

	_, err := fx.service.Intake(domain.Order{
		ID:            "order-1",
		CustomerID:    "customer-1",
		Status:        domain.OrderStatusShipped,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentMethod: domain.PaymentMethodCard,
		Currency:      "USD",
		AmountMinor:   50000,
	})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestIntakeRejectsInvariantViolations(t *testing.T) {
	fx := newFixture()

	_, err := fx.service.Intake(domain.Order{
		ID:          "order-1",
		Currency:    "USD",
		AmountMinor: -1,
	})
	if !errors.Is(err, domain.ErrCustomerRequired) {
		t.Fatalf("expected ErrCustomerRequired in joined error, got %v", err)
	}
	if !errors.Is(err, domain.ErrAmountNegative) {
		t.Fatalf("expected ErrAmountNegative in joined error, got %v", err)
	}
}

func TestRequestStatusChange(t *testing.T) {
	fx := newFixture()
	seedOrder(t, fx, domain.OrderStatusPending, domain.PaymentMethodCard)

	order, err := fx.service.RequestStatusChange("order-1", admin(), domain.OrderStatusProcessing, "")
	if err != nil {
		t.Fatalf("status change failed: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing, got %s", order.Status)
	}
	if order.Version != 1 {
		t.Fatalf("expected version 1, got %d", order.Version)
	}

	history, err := fx.service.History("order-1")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(history))
	}
	rec := history[0]
	if rec.Dimension != domain.DimensionFulfillment {
		t.Fatalf("unexpected dimension: %s", rec.Dimension)
	}
	if rec.From != "pending" || rec.To != "processing" {
		t.Fatalf("unexpected edge in record: %s -> %s", rec.From, rec.To)
	}
	if rec.ActorRole != domain.RoleAdmin || rec.ActorID != "admin-1" {
		t.Fatalf("unexpected actor in record: %s/%s", rec.ActorRole, rec.ActorID)
	}

	types := fx.outbox.pendingTypes(t)
	if len(types) != 1 || types[0] != "order.status_changed" {
		t.Fatalf("expected order.status_changed event, got %v", types)
	}
}

func TestRequestStatusChangeInvalidEdge(t *testing.T) {
	fx := newFixture()
	seedOrder(t, fx, domain.OrderStatusPending, domain.PaymentMethodCard)

	_, err := fx.service.RequestStatusChange("order-1", admin(), domain.OrderStatusDelivered, "")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	stored, _ := fx.orders.Get("order-1")
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("rejected request must not mutate order, got %s", stored.Status)
	}
	if got := fx.outbox.pendingTypes(t); len(got) != 0 {
		t.Fatalf("rejected request must not emit events, got %v", got)
	}
}

func TestRequestStatusChangeNoOp(t *testing.T) {
	fx := newFixture()
	seedOrder(t, fx, domain.OrderStatusPending, domain.PaymentMethodCard)

	_, err := fx.service.RequestStatusChange("order-1", admin(), domain.OrderStatusPending, "")
	if !errors.Is(err, domain.ErrNoOpTransition) {
		t.Fatalf("expected ErrNoOpTransition, got %v", err)
	}
}

func TestRequestStatusChangeDenied(t *testing.T) {
	fx := newFixture()
	seedOrder(t, fx, domain.OrderStatusPending, domain.PaymentMethodCard)

	actor := domain.Actor{ID: "user-1", Role: domain.RoleUser}
	_, err := fx.service.RequestStatusChange("order-1", actor, domain.OrderStatusProcessing, "")
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	stored, _ := fx.orders.Get("order-1")
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("denied request must not mutate order, got %s", stored.Status)
	}
}

func TestRequestStatusChangeNotFound(t *testing.T) {
	fx := newFixture()

	_, err := fx.service.RequestStatusChange("missing", admin(), domain.OrderStatusProcessing, "")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestRequestStatusChangeDeliverymanChain(t *testing.T) {
	fx := newFixture()
	seedOrder(t, fx, domain.OrderStatusPacked, domain.PaymentMethodCash)

	courier := domain.Actor{ID: "courier-1", Role: domain.RoleDeliveryman}
	for _, next := range []domain.OrderStatus{
		domain.OrderStatusShipped,
		domain.OrderStatusOutForDelivery,
		domain.OrderStatusDelivered,
	} {
		if _, err := fx.service.RequestStatusChange("order-1", courier, next, ""); err != nil {
			t.Fatalf("deliveryman step to %s failed: %v", next, err)
		}
	}

	// Закрыть заказ курьер уже не может.
	_, err := fx.service.RequestStatusChange("order-1", courier, domain.OrderStatusCompleted, "")
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied for completed, got %v", err)
	}
}

func TestRequestPaymentStatusChange(t *testing.T) {
	fx := newFixture()
	seedOrder(t, fx, domain.OrderStatusPending, domain.PaymentMethodCash)

	accountant := domain.Actor{ID: "account-1", Role: domain.RoleAccount}
	order, err := fx.service.RequestPaymentStatusChange("order-1", accountant, domain.PaymentStatusPaid, "cash received")
	if err != nil {
		t.Fatalf("payment status change failed: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", order.PaymentStatus)
	}

	history, err := fx.service.History("order-1")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 1 || history[0].Dimension != domain.DimensionPayment {
		t.Fatalf("expected single payment audit record, got %v", history)
	}
	if history[0].Notes != "cash received" {
		t.Fatalf("expected notes to be recorded, got %q", history[0].Notes)
	}
}

func TestRequestPaymentStatusChangePrepaidDeniedForAccount(t *testing.T) {
	fx := newFixture()
	seedOrder(t, fx, domain.OrderStatusPending, domain.PaymentMethodCard)

	accountant := domain.Actor{ID: "account-1", Role: domain.RoleAccount}
	_, err := fx.service.RequestPaymentStatusChange("order-1", accountant, domain.PaymentStatusPaid, "")
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied for prepaid order, got %v", err)
	}
}

func TestVisibleOrders(t *testing.T) {
	fx := newFixture()
	seedOrder(t, fx, domain.OrderStatusShipped, domain.PaymentMethodCard)

	// Курьер видит shipped.
	orders, err := fx.service.VisibleOrders(domain.RoleDeliveryman, 10)
	if err != nil {
		t.Fatalf("visible orders failed: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order for deliveryman, got %d", len(orders))
	}

	// Сборщик shipped не видит.
	orders, err = fx.service.VisibleOrders(domain.RolePacker, 10)
	if err != nil {
		t.Fatalf("visible orders failed: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected no orders for packer, got %d", len(orders))
	}
}

func TestConcurrentStatusChangeSingleWinner(t *testing.T) {
	fx := newFixture()
	seedOrder(t, fx, domain.OrderStatusPending, domain.PaymentMethodCard)

	const writers = 2
	results := make([]error, writers)
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(idx int) {
			defer wg.Done()
			_, results[idx] = fx.service.RequestStatusChange("order-1", admin(), domain.OrderStatusProcessing, "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		// Проигравший после повтора видит уже применённый переход.
		if !errors.Is(err, domain.ErrNoOpTransition) && !errors.Is(err, domain.ErrVersionConflict) {
			t.Fatalf("unexpected loser error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one winner, got %d", succeeded)
	}

	stored, err := fx.orders.Get("order-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing, got %s", stored.Status)
	}

	history, err := fx.service.History("order-1")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected exactly one audit record, got %d", len(history))
	}
}
