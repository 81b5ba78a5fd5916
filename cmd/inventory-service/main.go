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
	log.WithField("version", version.GetVersion()).Info("запускаем inventory-service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadCommon("inventory-service")

	if err := app.RunInventoryService(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("inventory-service завершился с ошибкой")
	}
	log.Info("inventory-service остановлен")
}
