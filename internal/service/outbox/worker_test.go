package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ole/internal/domain"
	"github.com/vladislavdragonenkov/ole/internal/messaging/kafka"
)

// lifecycleMessage собирает outbox-запись так же, как её кладут сервисы
// жизненного цикла: payload — сериализованный LifecycleEvent.
func lifecycleMessage(t *testing.T, id, orderID string, eventType kafka.EventType, metadata map[string]interface{}) domain.OutboxMessage {
	t.Helper()

	payload, err := json.Marshal(kafka.NewLifecycleEvent(eventType, orderID, metadata))
	if err != nil {
		t.Fatalf("marshal lifecycle event: %v", err)
	}
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     string(eventType),
		Payload:       payload,
	}
}

func TestWorkerDeliversLifecycleBatchInOrder(t *testing.T) {
	t.Parallel()

	backlog := &backlogStub{pending: []domain.OutboxMessage{
		lifecycleMessage(t, "evt-1", "order-1", kafka.EventTypeOrderReceived, nil),
		lifecycleMessage(t, "evt-2", "order-1", kafka.EventTypeOrderStatusChanged,
			map[string]interface{}{"from": "pending", "to": "processing"}),
	}}
	broker := &brokerStub{}

	worker := NewWorker(backlog, broker, WithRetryBaseDelay(0))
	worker.DrainOnce(context.Background())

	published := broker.messages()
	if len(published) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(published))
	}
	if published[0].EventType != string(kafka.EventTypeOrderReceived) {
		t.Fatalf("expected order.received first, got %s", published[0].EventType)
	}
	if published[1].EventType != string(kafka.EventTypeOrderStatusChanged) {
		t.Fatalf("expected order.status_changed second, got %s", published[1].EventType)
	}
	if len(backlog.sent) != 2 || backlog.sent[0] != "evt-1" || backlog.sent[1] != "evt-2" {
		t.Fatalf("expected evt-1 and evt-2 marked sent, got %v", backlog.sent)
	}
	if len(backlog.failed) != 0 {
		t.Fatalf("expected no failed marks, got %v", backlog.failed)
	}
}

func TestWorkerRetriesTransientBrokerError(t *testing.T) {
	t.Parallel()

	backlog := &backlogStub{pending: []domain.OutboxMessage{
		lifecycleMessage(t, "evt-pay", "order-2", kafka.EventTypePaymentStatusChanged,
			map[string]interface{}{"from": "pending", "to": "paid"}),
	}}
	broker := &brokerStub{failures: 2}

	worker := NewWorker(backlog, broker, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.DrainOnce(context.Background())

	if got := broker.calls(); got != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", got)
	}
	if len(backlog.sent) != 1 || backlog.sent[0] != "evt-pay" {
		t.Fatalf("expected evt-pay marked sent after retry, got %v", backlog.sent)
	}
	if len(backlog.failed) != 0 {
		t.Fatalf("expected no failed marks, got %v", backlog.failed)
	}
}

func TestWorkerForwardsExhaustedEventToDeadLetter(t *testing.T) {
	t.Parallel()

	backlog := &backlogStub{pending: []domain.OutboxMessage{
		lifecycleMessage(t, "evt-cancel", "order-3", kafka.EventTypeCancellationFinalized,
			map[string]interface{}{"reason": "defective", "refund_minor": int64(50000)}),
	}}
	broker := &brokerStub{alwaysErr: errors.New("broker is down")}
	deadLetter := &brokerStub{}

	worker := NewWorker(backlog, broker,
		WithDLQPublisher(deadLetter),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)
	worker.DrainOnce(context.Background())

	if got := broker.calls(); got != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", got)
	}
	if len(backlog.sent) != 0 {
		t.Fatalf("expected no sent marks, got %v", backlog.sent)
	}
	if len(backlog.failed) != 1 || backlog.failed[0] != "evt-cancel" {
		t.Fatalf("expected evt-cancel marked failed, got %v", backlog.failed)
	}

	forwarded := deadLetter.messages()
	if len(forwarded) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(forwarded))
	}

	var envelope struct {
		EventType    string          `json:"event_type"`
		PublishError string          `json:"publish_error"`
		Payload      json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(forwarded[0].Payload, &envelope); err != nil {
		t.Fatalf("unmarshal dlq envelope: %v", err)
	}
	if envelope.EventType != string(kafka.EventTypeCancellationFinalized) {
		t.Fatalf("expected cancellation.finalized in envelope, got %s", envelope.EventType)
	}
	if envelope.PublishError == "" {
		t.Fatal("expected publish error in dlq envelope")
	}

	var original kafka.LifecycleEvent
	if err := json.Unmarshal(envelope.Payload, &original); err != nil {
		t.Fatalf("unmarshal original payload: %v", err)
	}
	if original.OrderID != "order-3" {
		t.Fatalf("expected original payload for order-3, got %s", original.OrderID)
	}
}

func TestWorkerRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&backlogStub{}, &brokerStub{},
		WithPollInterval(5*time.Millisecond),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

type backlogStub struct {
	pending []domain.OutboxMessage
	sent    []string
	failed  []string
}

func (b *backlogStub) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (b *backlogStub) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit > 0 && limit < len(b.pending) {
		return append([]domain.OutboxMessage(nil), b.pending[:limit]...), nil
	}
	return append([]domain.OutboxMessage(nil), b.pending...), nil
}

func (b *backlogStub) Stats() (domain.OutboxStats, error) {
	stats := domain.OutboxStats{PendingCount: len(b.pending)}
	if len(b.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Minute)
	}
	return stats, nil
}

func (b *backlogStub) MarkSent(id string) error {
	b.sent = append(b.sent, id)
	return nil
}

func (b *backlogStub) MarkFailed(id string) error {
	b.failed = append(b.failed, id)
	return nil
}

// brokerStub считает попытки публикации; failures задаёт число первых
// попыток, завершающихся временной ошибкой.
type brokerStub struct {
	mu        sync.Mutex
	failures  int
	alwaysErr error
	published []domain.OutboxMessage
	attempts  int
}

func (p *brokerStub) Publish(msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts++
	if p.alwaysErr != nil {
		return p.alwaysErr
	}
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, msg)
	return nil
}

func (p *brokerStub) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *brokerStub) messages() []domain.OutboxMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.OutboxMessage(nil), p.published...)
}

var (
	_ domain.OutboxRepository = (*backlogStub)(nil)
	_ domain.OutboxPublisher  = (*brokerStub)(nil)
)
