package app

import (
	"context"
	"fmt"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/mkarasev/oms-saga/internal/api"
	"github.com/mkarasev/oms-saga/internal/broker"
	"github.com/mkarasev/oms-saga/internal/config"
	"github.com/mkarasev/oms-saga/internal/inventory"
	"github.com/mkarasev/oms-saga/internal/metrics"
	"github.com/mkarasev/oms-saga/internal/outbox"
	"github.com/mkarasev/oms-saga/internal/storage/postgres"
)

// RunInventoryService поднимает inventory-service: каталог товаров и
// складские операции по HTTP, обработку резервов и компенсаций на брокере,
// собственный транзакционный outbox с relay.
func RunInventoryService(ctx context.Context, cfg config.Common) error {
	logger := log.WithField("component", "inventory-service")

	rt, err := newRuntime(ctx, cfg, logger, runtimeNeeds{postgres: true, redis: true})
	if err != nil {
		return fmt.Errorf("inventory service runtime: %w", err)
	}

	productRepo := postgres.NewProductRepository(rt.Store)
	recordRepo := postgres.NewInventoryRepository(rt.Store)
	outboxRepo := postgres.NewOutboxRepository(rt.Store)

	fabricMetrics := metrics.NewFabricMetrics()
	publisher := broker.NewPublisher(rt.Broker, fabricMetrics)

	listener, err := postgres.NewOutboxListener(ctx, cfg.PostgresDSN, logger.WithField("component", "outbox-listener"))
	if err != nil {
		logger.WithError(err).Warn("outbox listener unavailable, relay falls back to polling")
		listener = nil
	}

	relayOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-relay")),
		outbox.WithMetrics(fabricMetrics),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryBaseDelay),
	}
	if listener != nil {
		relayOpts = append(relayOpts, outbox.WithNotifier(listener))
	}
	relay := outbox.NewRelay(outboxRepo, publisher, relayOpts...)
	go relay.Run(ctx)

	consumer := broker.NewConsumer(rt.Broker, broker.NewRedisProcessedStore(rt.Redis), fabricMetrics, logger.WithField("component", "consumer"))
	handlers := inventory.NewHandlers(recordRepo, outboxRepo, logger.WithField("component", "inventory"))
	if err := handlers.Register(ctx, consumer); err != nil {
		rt.Close(ctx)
		return fmt.Errorf("register inventory handlers: %w", err)
	}

	router := mux.NewRouter()
	api.NewInventoryAPI(productRepo, recordRepo, logger.WithField("component", "inventory-api")).Register(router)

	health := rt.healthHandler(nil)

	errCh := make(chan error, 2)
	opsSrv := startOpsServer(ctx, cfg.MetricsAddr, logger, health)
	apiSrv := startHTTPServer(cfg.HTTPAddr, router, logger, errCh)

	return waitAndShutdown(ctx, rt, logger, errCh, apiSrv, opsSrv)
}
