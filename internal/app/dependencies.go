package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ole/internal/config"
	"github.com/vladislavdragonenkov/ole/internal/domain"
	"github.com/vladislavdragonenkov/ole/internal/service/cancellation"
	"github.com/vladislavdragonenkov/ole/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/ole/internal/service/payment"
	"github.com/vladislavdragonenkov/ole/internal/storage/memory"
	"github.com/vladislavdragonenkov/ole/internal/storage/postgres"
	"github.com/vladislavdragonenkov/ole/internal/storage/redis"
)

// Dependencies содержит собранные по конфигурации зависимости приложения.
// NOTE: платёжный шлюз пока mock; в production его заменяет клиент реального
// шлюза, реализующий domain.PaymentGateway.
type Dependencies struct {
	Orders      domain.OrderRepository
	Intents     domain.CancellationRepository
	Outbox      domain.OutboxRepository
	Idempotency domain.IdempotencyRepository

	Lifecycle    *lifecycle.Service
	Cancellation *cancellation.Orchestrator
	Gateway      domain.PaymentGateway

	Store       *postgres.Store
	RedisClient *goredis.Client
	Logger      *log.Entry
}

// NewDependencies инициализирует хранилища и сервисы согласно конфигурации.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{
		Gateway: payment.NewMockGateway(),
		Logger:  logger,
	}

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		store, err := postgres.Open(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		deps.Store = store
		deps.Orders = postgres.NewOrderRepository(store)
		deps.Intents = postgres.NewCancellationRepository(store)
		deps.Outbox = postgres.NewOutboxRepository(store)
		deps.Idempotency = postgres.NewIdempotencyRepository(store)
		logger.Info("postgres storage initialized")
	case config.BackendMemory:
		deps.Orders = memory.NewOrderRepository()
		deps.Intents = memory.NewCancellationRepository()
		deps.Outbox = memory.NewOutboxRepository()
		deps.Idempotency = memory.NewIdempotencyRepository()
		logger.Info("in-memory storage initialized")
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	if cfg.Storage.UseRedisCancellations {
		client, err := redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		deps.RedisClient = client
		deps.Intents = redis.NewCancellationRepository(client)
		logger.WithField("addr", cfg.Redis.Addr).Info("redis cancellation storage initialized")
	}

	deps.Lifecycle = lifecycle.NewService(
		deps.Orders,
		deps.Outbox,
		logger.WithField("component", "lifecycle"),
	)
	deps.Cancellation = cancellation.NewOrchestrator(
		deps.Orders,
		deps.Intents,
		deps.Lifecycle,
		deps.Gateway,
		deps.Outbox,
		cfg.Cancellation.ShippingFeeMinor,
		cfg.Cancellation.PendingTTL,
		logger.WithField("component", "cancellation"),
	)

	return deps, nil
}

// Close освобождает внешние подключения.
func (d *Dependencies) Close() {
	if d.RedisClient != nil {
		if err := d.RedisClient.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}
