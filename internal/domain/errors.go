package domain

import "errors"

var (
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrIntentNotFound возвращается, если у заказа нет запроса на отмену.
	ErrIntentNotFound = errors.New("cancellation intent not found")
	// ErrUnknownStatus — значение вне закрытого каталога статусов/способов оплаты.
	ErrUnknownStatus = errors.New("unknown catalog value")
	// ErrUnknownRole — роль вне закрытого набора ролей.
	ErrUnknownRole = errors.New("unknown role")
	// ErrInvalidTransition — запрошенное ребро отсутствует в графе переходов.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNoOpTransition — запрошенный статус совпадает с текущим; отклоняется
	// отдельно, чтобы вызывающий не принял его за успех.
	ErrNoOpTransition = errors.New("no-op status transition")
	// ErrPermissionDenied — роли не разрешено запрошенное ребро.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidReason — причина отмены вне закрытого набора.
	ErrInvalidReason = errors.New("invalid cancellation reason")
	// ErrNotCancellable — заказ в статусе, из которого отмена недоступна.
	ErrNotCancellable = errors.New("order is not cancellable")
	// ErrGatewayConfirmationMismatch — подтверждение шлюза не совпало с
	// ожидаемым запросом на доплату; возможный сигнал фрода или повтора.
	ErrGatewayConfirmationMismatch = errors.New("gateway confirmation mismatch")
	// ErrCancellationPending — у заказа уже есть незавершённый запрос на отмену.
	ErrCancellationPending = errors.New("cancellation already pending")
	// ErrVersionConflict сигнализирует о проигрыше optimistic-гонки при сохранении.
	ErrVersionConflict = errors.New("order version conflict")

	// Ошибки инвариантов заказа.
	ErrOrderIDRequired    = errors.New("order_id is required")
	ErrCustomerRequired   = errors.New("customer_id is required")
	ErrCurrencyRequired   = errors.New("currency is required")
	ErrAmountNegative     = errors.New("amount_minor must be non-negative")
	ErrShippingFeeInvalid = errors.New("shipping fee must be non-negative")

	// Ошибка transactional outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки idempotency-хранилища.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsNotFound проверяет, относится ли ошибка к отсутствующему заказу или intent'у.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrIntentNotFound)
}

// IsPermissionDenied проверяет, является ли ошибка отказом в правах.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
