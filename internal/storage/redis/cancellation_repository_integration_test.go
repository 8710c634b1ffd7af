package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/ole/internal/domain"
)

func openRedisClientForIntegrationTest(t *testing.T) *goredis.Client {
	t.Helper()

	candidates := []string{
		strings.TrimSpace(os.Getenv("OLE_REDIS_TEST_ADDR")),
		strings.TrimSpace(os.Getenv("OLE_REDIS_ADDR")),
		"localhost:6379",
	}

	seen := map[string]struct{}{}
	var openErrs []string
	for _, addr := range candidates {
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}

		client, err := NewClient(addr, "", 0)
		if err == nil {
			t.Cleanup(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = client.FlushDB(ctx).Err()
				_ = client.Close()
			})
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := client.FlushDB(ctx).Err(); err != nil {
				t.Fatalf("flush redis db: %v", err)
			}
			return client
		}
		openErrs = append(openErrs, fmt.Sprintf("%s: %v", addr, err))
	}

	t.Skipf("redis is not available for integration tests: %s", strings.Join(openErrs, " | "))
	return nil
}

func newRedisIntent(orderID, id string) domain.CancellationIntent {
	return domain.CancellationIntent{
		ID:      id,
		OrderID: orderID,
		Reason:  domain.ReasonCustomerChange,
		Quote: domain.CancellationQuote{
			RefundMinor:              44000,
			ShippingFeeDeductedMinor: 6000,
		},
		State:           domain.CancellationRequested,
		RequestedByRole: domain.RoleUser,
		RequestedByID:   "user-1",
		CreatedAt:       time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestIntegrationRedisCancellationCreateAndLatest(t *testing.T) {
	client := openRedisClientForIntegrationTest(t)
	repo := NewCancellationRepository(client)

	intent := newRedisIntent("order-1", "intent-1")
	if err := repo.Create(intent); err != nil {
		t.Fatalf("create intent: %v", err)
	}

	got, err := repo.Latest("order-1")
	if err != nil {
		t.Fatalf("latest intent: %v", err)
	}
	if got.ID != intent.ID || got.Reason != intent.Reason || got.Quote != intent.Quote {
		t.Fatalf("unexpected intent: %+v", got)
	}

	if _, err := repo.Latest("order-unknown"); !errors.Is(err, domain.ErrIntentNotFound) {
		t.Fatalf("expected ErrIntentNotFound, got %v", err)
	}
}

func TestIntegrationRedisCancellationBlocksSecondActiveIntent(t *testing.T) {
	client := openRedisClientForIntegrationTest(t)
	repo := NewCancellationRepository(client)

	if err := repo.Create(newRedisIntent("order-1", "intent-1")); err != nil {
		t.Fatalf("create first intent: %v", err)
	}

	err := repo.Create(newRedisIntent("order-1", "intent-2"))
	if !errors.Is(err, domain.ErrCancellationPending) {
		t.Fatalf("expected ErrCancellationPending, got %v", err)
	}
}

func TestIntegrationRedisCancellationAllowsCreateAfterFinalize(t *testing.T) {
	client := openRedisClientForIntegrationTest(t)
	repo := NewCancellationRepository(client)

	first := newRedisIntent("order-1", "intent-1")
	if err := repo.Create(first); err != nil {
		t.Fatalf("create first intent: %v", err)
	}

	first.State = domain.CancellationFinalized
	if err := repo.Save(first); err != nil {
		t.Fatalf("finalize first intent: %v", err)
	}

	got, err := repo.Latest("order-1")
	if err != nil {
		t.Fatalf("latest after finalize: %v", err)
	}
	if !got.Finalized() {
		t.Fatalf("expected finalized intent, got state %s", got.State)
	}

	if err := repo.Create(newRedisIntent("order-1", "intent-2")); err != nil {
		t.Fatalf("create second intent after finalize: %v", err)
	}
}

func TestIntegrationRedisCancellationActiveKeyExpires(t *testing.T) {
	client := openRedisClientForIntegrationTest(t)
	repo := NewCancellationRepository(client)

	awaiting := newRedisIntent("order-1", "intent-1")
	awaiting.State = domain.CancellationAwaitingDeficitPayment
	awaiting.ChargeRequestID = "charge-1"
	awaiting.ExpiresAt = time.Now().UTC().Add(300 * time.Millisecond)
	if err := repo.Create(awaiting); err != nil {
		t.Fatalf("create awaiting intent: %v", err)
	}

	err := repo.Create(newRedisIntent("order-1", "intent-2"))
	if !errors.Is(err, domain.ErrCancellationPending) {
		t.Fatalf("expected ErrCancellationPending before expiry, got %v", err)
	}

	time.Sleep(500 * time.Millisecond)

	if err := repo.Create(newRedisIntent("order-1", "intent-2")); err != nil {
		t.Fatalf("expected expired intent to stop blocking, got %v", err)
	}
}

func TestIntegrationRedisCancellationSaveUnknownIntent(t *testing.T) {
	client := openRedisClientForIntegrationTest(t)
	repo := NewCancellationRepository(client)

	err := repo.Save(newRedisIntent("order-1", "intent-1"))
	if !errors.Is(err, domain.ErrIntentNotFound) {
		t.Fatalf("expected ErrIntentNotFound, got %v", err)
	}
}
