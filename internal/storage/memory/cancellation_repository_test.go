package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ole/internal/domain"
	"github.com/vladislavdragonenkov/ole/internal/storage/memory"
)

func newIntent(id, orderID string) domain.CancellationIntent {
	return domain.CancellationIntent{
		ID:              id,
		OrderID:         orderID,
		Reason:          domain.ReasonCustomerChange,
		Quote:           domain.CancellationQuote{RefundMinor: 44000, ShippingFeeDeductedMinor: 6000},
		State:           domain.CancellationRequested,
		RequestedByRole: domain.RoleUser,
		RequestedByID:   "customer-1",
		CreatedAt:       time.Now().UTC(),
	}
}

func TestCancellationRepository_CreateLatest(t *testing.T) {
	repo := memory.NewCancellationRepository()
	intent := newIntent("intent-1", "order-1")

	if err := repo.Create(intent); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.Latest(intent.OrderID)
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if stored.ID != intent.ID {
		t.Fatalf("expected %s, got %s", intent.ID, stored.ID)
	}
}

func TestCancellationRepository_LatestNotFound(t *testing.T) {
	repo := memory.NewCancellationRepository()

	_, err := repo.Latest("missing")
	if !errors.Is(err, domain.ErrIntentNotFound) {
		t.Fatalf("expected ErrIntentNotFound, got %v", err)
	}
}

func TestCancellationRepository_CreateBlockedByActiveIntent(t *testing.T) {
	repo := memory.NewCancellationRepository()

	first := newIntent("intent-1", "order-1")
	first.State = domain.CancellationAwaitingDeficitPayment
	first.ExpiresAt = time.Now().UTC().Add(30 * time.Minute)
	if err := repo.Create(first); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	err := repo.Create(newIntent("intent-2", "order-1"))
	if !errors.Is(err, domain.ErrCancellationPending) {
		t.Fatalf("expected ErrCancellationPending, got %v", err)
	}
}

func TestCancellationRepository_CreateAfterFinalized(t *testing.T) {
	repo := memory.NewCancellationRepository()

	first := newIntent("intent-1", "order-1")
	if err := repo.Create(first); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	first.State = domain.CancellationFinalized
	if err := repo.Save(first); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	second := newIntent("intent-2", "order-1")
	if err := repo.Create(second); err != nil {
		t.Fatalf("create after finalize failed: %v", err)
	}

	latest, err := repo.Latest("order-1")
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if latest.ID != second.ID {
		t.Fatalf("expected latest %s, got %s", second.ID, latest.ID)
	}
}

func TestCancellationRepository_CreateAfterExpired(t *testing.T) {
	repo := memory.NewCancellationRepository()

	stale := newIntent("intent-1", "order-1")
	stale.State = domain.CancellationAwaitingDeficitPayment
	stale.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	if err := repo.Create(stale); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := repo.Create(newIntent("intent-2", "order-1")); err != nil {
		t.Fatalf("create after expiry failed: %v", err)
	}
}

func TestCancellationRepository_SaveUnknownIntent(t *testing.T) {
	repo := memory.NewCancellationRepository()

	err := repo.Save(newIntent("intent-1", "order-1"))
	if !errors.Is(err, domain.ErrIntentNotFound) {
		t.Fatalf("expected ErrIntentNotFound, got %v", err)
	}
}
