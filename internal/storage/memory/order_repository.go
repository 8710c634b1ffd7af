package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ole/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository для
// локальной разработки и тестов. Заказ и его журнал аудита живут под одним
// мьютексом, поэтому Save атомарен так же, как транзакция в PostgreSQL.
type orderRepositoryInMemory struct {
	mu      sync.RWMutex
	items   map[string]domain.Order
	history map[string][]domain.StatusChangeRecord
}

// NewOrderRepository возвращает in-memory репозиторий заказов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:   make(map[string]domain.Order),
		history: make(map[string][]domain.StatusChangeRecord),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrVersionConflict
	}
	r.items[order.ID] = order
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// ListByStatuses возвращает заказы в перечисленных статусах, новые первыми.
func (r *orderRepositoryInMemory) ListByStatuses(statuses []domain.OrderStatus, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[domain.OrderStatus]struct{}, len(statuses))
	for _, s := range statuses {
		wanted[s] = struct{}{}
	}

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if _, ok := wanted[order.Status]; !ok {
			continue
		}
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Save перезаписывает заказ с проверкой версии и атомарно дописывает запись
// аудита. Seq присваивается здесь, монотонно в рамках заказа.
func (r *orderRepositoryInMemory) Save(order domain.Order, rec domain.StatusChangeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrVersionConflict
	}

	order.Version++
	r.items[order.ID] = order

	rec.OrderID = order.ID
	rec.Seq = int64(len(r.history[order.ID])) + 1
	if rec.Occurred.IsZero() {
		rec.Occurred = time.Now().UTC()
	}
	r.history[order.ID] = append(r.history[order.ID], rec)

	return nil
}

// History возвращает записи аудита заказа в порядке возрастания Seq.
func (r *orderRepositoryInMemory) History(orderID string) ([]domain.StatusChangeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := r.history[orderID]
	result := make([]domain.StatusChangeRecord, len(records))
	copy(result, records)
	return result, nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
