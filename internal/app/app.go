package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ole/internal/config"
	healthcheck "github.com/vladislavdragonenkov/ole/internal/health"
	"github.com/vladislavdragonenkov/ole/internal/httpapi"
	"github.com/vladislavdragonenkov/ole/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ole/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ole/internal/service/outbox"
	"github.com/vladislavdragonenkov/ole/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run собирает зависимости и запускает сервис: HTTP API, сервер метрик,
// публикатор transactional outbox и чистильщик idempotency-ключей.
// Блокируется до отмены контекста или фатальной ошибки сервера.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	// Kafka опционален: без брокеров события остаются в outbox и могут быть
	// опубликованы позже.
	var kafkaProducer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		} else {
			kafkaProducer = producer
			logger.WithField("brokers", cfg.Kafka.Brokers).Info("kafka producer initialized")

			worker := outbox.NewWorker(
				deps.Outbox,
				kafka.NewOutboxPublisher(producer, cfg.Kafka.Topic),
				outbox.WithLogger(logger.WithField("component", "outbox-worker")),
				outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, cfg.Kafka.DLQTopic)),
			)
			go worker.Run(ctx)
		}
	}

	cleanup := idempotency.NewCleanupWorker(
		deps.Idempotency,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.Idempotency.CleanupInterval),
	)
	go cleanup.Run(ctx)

	healthHandler := healthcheck.NewHandler(version.String())
	if deps.Store != nil {
		healthHandler.RegisterCheck("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return deps.Store.Ping(pingCtx)
		})
	}
	if deps.RedisClient != nil {
		healthHandler.RegisterCheck("redis", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return deps.RedisClient.Ping(pingCtx).Err()
		})
	}

	metricsSrv := startMetricsServer(ctx, cfg.Metrics.Addr, logger, healthHandler)

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Handler: httpapi.NewHandler(
			deps.Lifecycle,
			deps.Cancellation,
			logger.WithField("component", "httpapi"),
		),
		Idempotency: httpapi.IdempotencyMiddleware(
			deps.Idempotency,
			cfg.Idempotency.TTL,
			logger.WithField("component", "idempotency"),
		),
		Logger: logger.WithField("component", "httpapi"),
		Mode:   cfg.HTTP.Mode,
	})
	apiSrv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API listening on %s", cfg.HTTP.Addr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		closeKafka(kafkaProducer, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		closeKafka(kafkaProducer, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startMetricsServer поднимает HTTP-обработчики /metrics и health-проверок.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("metrics available at %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
