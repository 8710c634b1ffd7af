package domain

import "fmt"

// Role описывает операционную роль инициатора запроса.
type Role string

const (
	// RoleAdmin — администратор витрины, полные права на оба измерения статуса.
	RoleAdmin Role = "admin"
	// RoleAccount — бухгалтерия; вручную ведёт статус оплаты наличных заказов.
	RoleAccount Role = "account"
	// RolePacker — сборщик; переводит заказы в packed.
	RolePacker Role = "packer"
	// RoleDeliveryman — курьер; ведёт заказ от packed до delivered.
	RoleDeliveryman Role = "deliveryman"
	// RoleUser — покупатель; прямых прав на смену статусов не имеет,
	// взаимодействует только через оркестратор отмены.
	RoleUser Role = "user"
	// RoleSystem — внутренний актор движка (финализация отмены, подтверждения
	// шлюза); никогда не выдаётся внешнему вызывающему.
	RoleSystem Role = "system"
)

// Actor идентифицирует инициатора операции. Роль и идентификатор приходят
// явными параметрами от сессионного коллаборатора, скрытого "текущего
// пользователя" у движка нет.
type Actor struct {
	ID   string
	Role Role
}

// SystemActor — актор, от имени которого движок финализирует отмены.
var SystemActor = Actor{ID: "cancellation-orchestrator", Role: RoleSystem}

// ParseRole преобразует внешнее строковое значение в роль закрытого набора.
// RoleSystem снаружи не принимается.
func ParseRole(raw string) (Role, error) {
	role := Role(raw)
	switch role {
	case RoleAdmin, RoleAccount, RolePacker, RoleDeliveryman, RoleUser:
		return role, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
}

// statusEdge — ребро графа исполнения для табличных правил доступа.
type statusEdge struct {
	from, to OrderStatus
}

// packerEdges — единственные рёбра, доступные сборщику.
var packerEdges = map[statusEdge]struct{}{
	{OrderStatusPending, OrderStatusPacked}:    {},
	{OrderStatusProcessing, OrderStatusPacked}: {},
}

// deliverymanEdges — цепочка доставки packed → shipped → out_for_delivery →
// delivered, включая прямое shipped → delivered, когда курьер вручает заказ
// без отдельной отметки выезда.
var deliverymanEdges = map[statusEdge]struct{}{
	{OrderStatusPacked, OrderStatusShipped}:           {},
	{OrderStatusShipped, OrderStatusOutForDelivery}:   {},
	{OrderStatusShipped, OrderStatusDelivered}:        {},
	{OrderStatusOutForDelivery, OrderStatusDelivered}: {},
}

// CanUpdateOrderStatus отвечает, разрешено ли роли ребро графа исполнения.
// Валидность самого ребра проверяется отдельно (TransitionValidator); здесь
// только политика доступа, чистая функция без скрытого состояния.
func CanUpdateOrderStatus(role Role, from, to OrderStatus) bool {
	switch role {
	case RoleAdmin, RoleSystem:
		return true
	case RolePacker:
		_, ok := packerEdges[statusEdge{from, to}]
		return ok
	case RoleDeliveryman:
		_, ok := deliverymanEdges[statusEdge{from, to}]
		return ok
	default:
		// account и user прав на статус исполнения не имеют.
		return false
	}
}

// CanUpdatePaymentStatus отвечает, разрешено ли роли ребро графа оплаты
// с учётом способа оплаты: статус предоплаченных заказов ведёт шлюз, вручную
// его меняет только админ (например, инициированный админом возврат).
func CanUpdatePaymentStatus(role Role, method PaymentMethod, from, to PaymentStatus) bool {
	switch role {
	case RoleAdmin, RoleSystem:
		return true
	case RoleAccount:
		return method == PaymentMethodCash
	default:
		return false
	}
}

// CanInitiateCancellation отвечает, может ли роль запустить отмену заказа.
// Покупатель отменяет собственные заказы (владение проверяет сессионный
// коллаборатор), админ — любые.
func CanInitiateCancellation(role Role) bool {
	switch role {
	case RoleAdmin, RoleUser, RoleSystem:
		return true
	default:
		return false
	}
}

// VisibleStatuses возвращает подмножество каталога, которое запросы роли
// должны видеть в дашбордах. Это удобство для операционных экранов, а не
// граница безопасности: для user дополнительно действует фильтр владения
// на стороне хранилища.
func VisibleStatuses(role Role) []OrderStatus {
	switch role {
	case RoleAdmin, RoleAccount, RoleUser, RoleSystem:
		return AllOrderStatuses()
	case RolePacker:
		return []OrderStatus{OrderStatusPending, OrderStatusProcessing, OrderStatusPacked}
	case RoleDeliveryman:
		return []OrderStatus{OrderStatusPacked, OrderStatusShipped, OrderStatusOutForDelivery, OrderStatusDelivered}
	default:
		return nil
	}
}
