package app

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ole/internal/config"
	"github.com/vladislavdragonenkov/ole/internal/domain"
)

func memoryConfig() *config.Config {
	return &config.Config{
		HTTP:    config.HTTPConfig{Addr: ":0", Mode: "test"},
		Metrics: config.MetricsConfig{Addr: ":0"},
		Storage: config.StorageConfig{Backend: config.BackendMemory},
		Cancellation: config.CancellationConfig{
			ShippingFeeMinor: 6000,
			PendingTTL:       30 * time.Minute,
		},
		Idempotency: config.IdempotencyConfig{
			TTL:             24 * time.Hour,
			CleanupInterval: time.Hour,
		},
	}
}

func TestNewDependenciesMemoryBackend(t *testing.T) {
	deps, err := NewDependencies(context.Background(), memoryConfig(), nil)
	if err != nil {
		t.Fatalf("new dependencies: %v", err)
	}
	defer deps.Close()

	if deps.Lifecycle == nil || deps.Cancellation == nil {
		t.Fatal("services must be wired")
	}
	if deps.Store != nil || deps.RedisClient != nil {
		t.Fatal("memory backend must not open external connections")
	}

	// Собранный стек принимает заказ и проводит переход.
	order, err := deps.Lifecycle.Intake(domain.Order{
		ID:            "order-1",
		CustomerID:    "customer-1",
		PaymentMethod: domain.PaymentMethodCash,
		Currency:      "RUB",
		AmountMinor:   1000,
	})
	if err != nil {
		t.Fatalf("intake through wired stack: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", order.Status)
	}
}

func TestNewDependenciesRejectsUnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Backend = "etcd"

	if _, err := NewDependencies(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
