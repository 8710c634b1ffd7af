package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ole/internal/domain"
	"github.com/vladislavdragonenkov/ole/internal/service/cancellation"
	"github.com/vladislavdragonenkov/ole/internal/service/lifecycle"
)

// Заголовки, через которые периметр передаёт аутентифицированного актора.
const (
	headerActorRole = "X-Actor-Role"
	headerActorID   = "X-Actor-Id"
)

const defaultListLimit = 50

// Handler переводит HTTP-запросы в вызовы движка жизненного цикла и
// оркестратора отмен. Бизнес-логики здесь нет, только разбор запроса,
// определение актора и сериализация результата.
type Handler struct {
	lifecycle    *lifecycle.Service
	cancellation *cancellation.Orchestrator
	logger       *log.Entry
}

// NewHandler создаёт HTTP-обработчик поверх сервисов движка.
func NewHandler(engine *lifecycle.Service, orchestrator *cancellation.Orchestrator, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.NewEntry(log.New())
	}
	return &Handler{
		lifecycle:    engine,
		cancellation: orchestrator,
		logger:       logger,
	}
}

// actorFromHeaders восстанавливает актора из заголовков запроса. Роль
// обязательна; системная роль снаружи не принимается и отбрасывается
// ещё на разборе.
func actorFromHeaders(c *gin.Context) (domain.Actor, error) {
	raw := strings.TrimSpace(c.GetHeader(headerActorRole))
	if raw == "" {
		return domain.Actor{}, fmt.Errorf("%w: header %s is required", domain.ErrUnknownRole, headerActorRole)
	}
	role, err := domain.ParseRole(raw)
	if err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{
		ID:   strings.TrimSpace(c.GetHeader(headerActorID)),
		Role: role,
	}, nil
}

// CreateOrder принимает заказ от checkout-коллаборатора в состоянии pending/pending.
func (h *Handler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err)
		return
	}

	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	order, err := h.lifecycle.Intake(domain.Order{
		ID:            req.ID,
		CustomerID:    req.CustomerID,
		PaymentMethod: method,
		Currency:      req.Currency,
		AmountMinor:   req.AmountMinor,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toOrderResponse(order))
}

// GetOrder возвращает заказ по идентификатору.
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.lifecycle.GetOrder(c.Param("id"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

// ListOrders возвращает заказы в статусах, видимых роли актора.
func (h *Handler) ListOrders(c *gin.Context) {
	actor, err := actorFromHeaders(c)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeBadRequest(c, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}

	orders, err := h.lifecycle.VisibleOrders(actor.Role, limit)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	result := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		result = append(result, toOrderResponse(order))
	}
	c.JSON(http.StatusOK, gin.H{"orders": result})
}

// ChangeStatus выполняет переход статуса исполнения от имени актора.
func (h *Handler) ChangeStatus(c *gin.Context) {
	actor, err := actorFromHeaders(c)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	var req statusChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err)
		return
	}

	desired, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	order, err := h.lifecycle.RequestStatusChange(c.Param("id"), actor, desired, req.Notes)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

// ChangePaymentStatus выполняет переход статуса оплаты от имени актора.
func (h *Handler) ChangePaymentStatus(c *gin.Context) {
	actor, err := actorFromHeaders(c)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	var req paymentStatusChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err)
		return
	}

	desired, err := domain.ParsePaymentStatus(req.Status)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	order, err := h.lifecycle.RequestPaymentStatusChange(c.Param("id"), actor, desired, req.Notes)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

// History возвращает журнал аудита заказа в порядке возрастания seq.
func (h *Handler) History(c *gin.Context) {
	records, err := h.lifecycle.History(c.Param("id"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": toHistoryResponse(records)})
}

// VisibleStatuses возвращает статусы исполнения, видимые роли актора.
func (h *Handler) VisibleStatuses(c *gin.Context) {
	actor, err := actorFromHeaders(c)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	statuses := domain.VisibleStatuses(actor.Role)
	result := make([]string, 0, len(statuses))
	for _, status := range statuses {
		result = append(result, string(status))
	}
	c.JSON(http.StatusOK, visibleStatusesResponse{Role: string(actor.Role), Statuses: result})
}

// InitiateCancellation запускает отмену заказа. При дефиците ответ содержит
// intent в состоянии ожидания доплаты и статус 202.
func (h *Handler) InitiateCancellation(c *gin.Context) {
	actor, err := actorFromHeaders(c)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	var req cancellationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err)
		return
	}

	result, err := h.cancellation.Initiate(c.Param("id"), actor, domain.CancellationReason(req.Reason))
	if err != nil {
		writeDomainError(c, err)
		return
	}

	status := http.StatusOK
	if result.Intent.State == domain.CancellationAwaitingDeficitPayment {
		status = http.StatusAccepted
	}
	c.JSON(status, cancellationResponse{
		Order:  toOrderResponse(result.Order),
		Intent: toIntentResponse(result.Intent),
	})
}

// ConfirmCancellation принимает подтверждение доплаты от платёжного шлюза
// и завершает отложенную отмену.
func (h *Handler) ConfirmCancellation(c *gin.Context) {
	var req confirmDeficitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err)
		return
	}

	result, err := h.cancellation.ConfirmDeficitPayment(c.Param("id"), domain.GatewayConfirmation{
		ChargeRequestID: req.ChargeRequestID,
		Status:          req.Status,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, cancellationResponse{
		Order:  toOrderResponse(result.Order),
		Intent: toIntentResponse(result.Intent),
	})
}
