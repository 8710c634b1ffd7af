package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/ole/internal/domain"
)

// errorResponse — единый формат ошибок API: машинный код плюс человекочитаемое
// сообщение из цепочки ошибок домена.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeDomainError переводит доменную ошибку в HTTP-статус и машинный код.
// 409 зарезервирован за состязательными исходами (конфликт версий, повторная
// отмена, несовпадение подтверждения), 422 — за нарушениями правил перехода.
func writeDomainError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"

	switch {
	case domain.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrPermissionDenied):
		status, code = http.StatusForbidden, "permission_denied"
	case errors.Is(err, domain.ErrNoOpTransition):
		status, code = http.StatusUnprocessableEntity, "no_op"
	case errors.Is(err, domain.ErrInvalidTransition):
		status, code = http.StatusUnprocessableEntity, "invalid_transition"
	case errors.Is(err, domain.ErrInvalidReason):
		status, code = http.StatusUnprocessableEntity, "invalid_reason"
	case errors.Is(err, domain.ErrNotCancellable):
		status, code = http.StatusUnprocessableEntity, "not_cancellable"
	case errors.Is(err, domain.ErrUnknownStatus), errors.Is(err, domain.ErrUnknownRole):
		status, code = http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrCancellationPending):
		status, code = http.StatusConflict, "already_pending"
	case errors.Is(err, domain.ErrVersionConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrGatewayConfirmationMismatch):
		status, code = http.StatusConflict, "confirmation_mismatch"
	case errors.Is(err, domain.ErrOrderIDRequired),
		errors.Is(err, domain.ErrCustomerRequired),
		errors.Is(err, domain.ErrCurrencyRequired),
		errors.Is(err, domain.ErrAmountNegative):
		status, code = http.StatusUnprocessableEntity, "invalid_order"
	}

	c.AbortWithStatusJSON(status, errorResponse{Code: code, Message: err.Error()})
}

func writeBadRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Code: "bad_request", Message: err.Error()})
}
