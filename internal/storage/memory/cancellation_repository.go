package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ole/internal/domain"
)

// cancellationRepositoryInMemory — in-memory реализация CancellationRepository.
// Intent'ы хранятся списком по заказу, последний элемент самый свежий.
type cancellationRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string][]domain.CancellationIntent
	now   func() time.Time
}

// NewCancellationRepository возвращает in-memory репозиторий запросов на отмену.
func NewCancellationRepository() domain.CancellationRepository {
	return &cancellationRepositoryInMemory{
		items: make(map[string][]domain.CancellationIntent),
		now:   time.Now,
	}
}

// Create сохраняет новый intent. Активный (нефинализированный и не истёкший)
// intent заказа блокирует создание нового.
func (r *cancellationRepositoryInMemory) Create(intent domain.CancellationIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.items[intent.OrderID]
	if len(existing) > 0 && existing[len(existing)-1].Active(r.now()) {
		return domain.ErrCancellationPending
	}

	r.items[intent.OrderID] = append(existing, intent)
	return nil
}

// Latest возвращает последний intent заказа или ErrIntentNotFound.
func (r *cancellationRepositoryInMemory) Latest(orderID string) (domain.CancellationIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	existing := r.items[orderID]
	if len(existing) == 0 {
		return domain.CancellationIntent{}, domain.ErrIntentNotFound
	}
	return existing[len(existing)-1], nil
}

// Save перезаписывает intent по его ID.
func (r *cancellationRepositoryInMemory) Save(intent domain.CancellationIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.items[intent.OrderID]
	for i := range existing {
		if existing[i].ID == intent.ID {
			existing[i] = intent
			return nil
		}
	}
	return domain.ErrIntentNotFound
}

var _ domain.CancellationRepository = (*cancellationRepositoryInMemory)(nil)
