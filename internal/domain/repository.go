package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByStatuses возвращает заказы в перечисленных статусах исполнения
	// с опциональным ограничением на количество. Пустой список статусов
	// даёт пустой результат, а не ошибку.
	ListByStatuses(statuses []OrderStatus, limit int) ([]Order, error)
	// Save применяет обновление заказа с optimistic locking по Version
	// (ErrVersionConflict при проигрыше гонки) и в той же логической
	// транзакции дописывает запись аудита. Seq записи присваивается
	// хранилищем монотонно в рамках заказа.
	Save(order Order, rec StatusChangeRecord) error
	// History возвращает записи аудита заказа в порядке возрастания Seq.
	History(orderID string) ([]StatusChangeRecord, error)
}

// CancellationRepository хранит запросы на отмену.
type CancellationRepository interface {
	// Create сохраняет новый intent. Если у заказа уже есть активный
	// (нефинализированный и не истёкший) intent — ErrCancellationPending.
	Create(intent CancellationIntent) error
	// Latest возвращает последний intent заказа вне зависимости от состояния
	// или ErrIntentNotFound.
	Latest(orderID string) (CancellationIntent, error)
	// Save перезаписывает существующий intent (переход в Finalized).
	Save(intent CancellationIntent) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}
