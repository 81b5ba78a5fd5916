package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/mkarasev/oms-saga/internal/app"
	"github.com/mkarasev/oms-saga/internal/config"
	"github.com/mkarasev/oms-saga/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	levelRaw := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if levelRaw == "" {
		return
	}
	level, err := log.ParseLevel(strings.ToLower(levelRaw))
	if err != nil {
		log.WithError(err).WithField("value", levelRaw).Warn("invalid log level, using info")
		return
	}
	log.SetLevel(level)
}

func main() {
	setupLogger()
	log.WithField("version", version.GetVersion()).Info("запускаем order-service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadCommon("order-service")
	extra := config.LoadOrderExtra()

	if err := app.RunOrderService(ctx, cfg, extra); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("order-service завершился с ошибкой")
	}
	log.Info("order-service остановлен")
}
