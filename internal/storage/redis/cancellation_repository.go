package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/ole/internal/domain"
)

// cancellationRepository хранит запросы на отмену в Redis. Активный intent
// живёт под ключом cancellation:active:{orderID}; TTL ключа совпадает со
// сроком ожидания доплаты, поэтому истёкший intent перестаёт блокировать
// новую отмену без фоновой очистки. Последний известный intent заказа
// дублируется под cancellation:last:{orderID} и переживает финализацию.
type cancellationRepository struct {
	client *redis.Client
	now    func() time.Time
}

// NewCancellationRepository создаёт Redis-реализацию CancellationRepository.
func NewCancellationRepository(client *redis.Client) domain.CancellationRepository {
	return &cancellationRepository{client: client, now: time.Now}
}

type intentPayload struct {
	ID                       string    `json:"id"`
	OrderID                  string    `json:"order_id"`
	Reason                   string    `json:"reason"`
	RefundMinor              int64     `json:"refund_minor"`
	DeficitMinor             int64     `json:"deficit_minor"`
	ShippingFeeDeductedMinor int64     `json:"shipping_fee_deducted_minor"`
	State                    string    `json:"state"`
	ChargeRequestID          string    `json:"charge_request_id,omitempty"`
	RequestedByRole          string    `json:"requested_by_role"`
	RequestedByID            string    `json:"requested_by_id"`
	CreatedAt                time.Time `json:"created_at"`
	ExpiresAt                time.Time `json:"expires_at,omitempty"`
}

func activeKey(orderID string) string {
	return "cancellation:active:" + orderID
}

func lastKey(orderID string) string {
	return "cancellation:last:" + orderID
}

func encodeIntent(intent domain.CancellationIntent) ([]byte, error) {
	raw, err := json.Marshal(intentPayload{
		ID:                       intent.ID,
		OrderID:                  intent.OrderID,
		Reason:                   string(intent.Reason),
		RefundMinor:              intent.Quote.RefundMinor,
		DeficitMinor:             intent.Quote.DeficitMinor,
		ShippingFeeDeductedMinor: intent.Quote.ShippingFeeDeductedMinor,
		State:                    string(intent.State),
		ChargeRequestID:          intent.ChargeRequestID,
		RequestedByRole:          string(intent.RequestedByRole),
		RequestedByID:            intent.RequestedByID,
		CreatedAt:                intent.CreatedAt,
		ExpiresAt:                intent.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode cancellation intent: %w", err)
	}
	return raw, nil
}

func decodeIntent(raw []byte) (domain.CancellationIntent, error) {
	var payload intentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.CancellationIntent{}, fmt.Errorf("decode cancellation intent: %w", err)
	}
	return domain.CancellationIntent{
		ID:      payload.ID,
		OrderID: payload.OrderID,
		Reason:  domain.CancellationReason(payload.Reason),
		Quote: domain.CancellationQuote{
			RefundMinor:              payload.RefundMinor,
			DeficitMinor:             payload.DeficitMinor,
			ShippingFeeDeductedMinor: payload.ShippingFeeDeductedMinor,
		},
		State:           domain.CancellationState(payload.State),
		ChargeRequestID: payload.ChargeRequestID,
		RequestedByRole: domain.Role(payload.RequestedByRole),
		RequestedByID:   payload.RequestedByID,
		CreatedAt:       payload.CreatedAt,
		ExpiresAt:       payload.ExpiresAt,
	}, nil
}

// activeTTL возвращает срок жизни ключа активного intent'а. Нулевая
// длительность означает ключ без срока.
func (r *cancellationRepository) activeTTL(intent domain.CancellationIntent) time.Duration {
	if intent.ExpiresAt.IsZero() {
		return 0
	}
	return intent.ExpiresAt.Sub(r.now())
}

func (r *cancellationRepository) Create(intent domain.CancellationIntent) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	raw, err := encodeIntent(intent)
	if err != nil {
		return err
	}

	if !intent.Finalized() && !intent.Expired(r.now()) {
		ok, err := r.client.SetNX(ctx, activeKey(intent.OrderID), raw, r.activeTTL(intent)).Result()
		if err != nil {
			return fmt.Errorf("store active cancellation intent: %w", err)
		}
		if !ok {
			return domain.ErrCancellationPending
		}
	}

	if err := r.client.Set(ctx, lastKey(intent.OrderID), raw, 0).Err(); err != nil {
		return fmt.Errorf("store last cancellation intent: %w", err)
	}
	return nil
}

func (r *cancellationRepository) Latest(orderID string) (domain.CancellationIntent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	raw, err := r.client.Get(ctx, activeKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		raw, err = r.client.Get(ctx, lastKey(orderID)).Bytes()
	}
	if errors.Is(err, redis.Nil) {
		return domain.CancellationIntent{}, domain.ErrIntentNotFound
	}
	if err != nil {
		return domain.CancellationIntent{}, fmt.Errorf("load cancellation intent: %w", err)
	}

	return decodeIntent(raw)
}

func (r *cancellationRepository) Save(intent domain.CancellationIntent) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	current, err := r.Latest(intent.OrderID)
	if err != nil {
		return err
	}
	if current.ID != intent.ID {
		return domain.ErrIntentNotFound
	}

	raw, err := encodeIntent(intent)
	if err != nil {
		return err
	}

	if intent.Finalized() || intent.Expired(r.now()) {
		if err := r.client.Del(ctx, activeKey(intent.OrderID)).Err(); err != nil {
			return fmt.Errorf("drop active cancellation intent: %w", err)
		}
	} else {
		if err := r.client.Set(ctx, activeKey(intent.OrderID), raw, r.activeTTL(intent)).Err(); err != nil {
			return fmt.Errorf("update active cancellation intent: %w", err)
		}
	}

	if err := r.client.Set(ctx, lastKey(intent.OrderID), raw, 0).Err(); err != nil {
		return fmt.Errorf("store last cancellation intent: %w", err)
	}
	return nil
}
