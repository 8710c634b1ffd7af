package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ole/internal/app"
	"github.com/vladislavdragonenkov/ole/internal/config"
	"github.com/vladislavdragonenkov/ole/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to YAML config (optional, env OLE_* overrides)")
	flag.Parse()

	setupLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatal("невалидная конфигурация")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTP.Addr,
		"metrics_addr": cfg.Metrics.Addr,
		"storage":      cfg.Storage.Backend,
		"version":      version.String(),
	}).Info("запускаем Order Lifecycle Engine")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("Order Lifecycle Engine остановлен")
}
