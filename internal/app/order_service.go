package app

import (
	"context"
	"fmt"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/mkarasev/oms-saga/internal/api"
	"github.com/mkarasev/oms-saga/internal/broker"
	"github.com/mkarasev/oms-saga/internal/config"
	healthcheck "github.com/mkarasev/oms-saga/internal/health"
	"github.com/mkarasev/oms-saga/internal/httpclient"
	"github.com/mkarasev/oms-saga/internal/metrics"
	"github.com/mkarasev/oms-saga/internal/orders"
	"github.com/mkarasev/oms-saga/internal/outbox"
	"github.com/mkarasev/oms-saga/internal/saga"
	"github.com/mkarasev/oms-saga/internal/service/idempotency"
	"github.com/mkarasev/oms-saga/internal/storage/postgres"
)

// outboxBacklogThreshold — backlog, после которого readiness начинает
// сигналить деградацию relay.
const outboxBacklogThreshold = 10000

// RunOrderService поднимает order-service: HTTP-приём заказов, saga-хендлеры
// на брокере, транзакционный outbox с LISTEN/NOTIFY relay и idempotency
// cleanup.
func RunOrderService(ctx context.Context, cfg config.Common, extra config.OrderExtra) error {
	logger := log.WithField("component", "order-service")

	rt, err := newRuntime(ctx, cfg, logger, runtimeNeeds{postgres: true, redis: true})
	if err != nil {
		return fmt.Errorf("order service runtime: %w", err)
	}

	orderRepo := postgres.NewOrderRepository(rt.Store)
	outboxRepo := postgres.NewOutboxRepository(rt.Store)
	timelineRepo := postgres.NewTimelineRepository(rt.Store)
	idemRepo := postgres.NewIdempotencyRepository(rt.Store)
	uow := postgres.NewOrderUnitOfWork(rt.Store)

	fabricMetrics := metrics.NewFabricMetrics()
	sagaMetrics := metrics.NewSagaMetrics()
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
	sagaHandlers := saga.NewHandlers(orderRepo, uow, outboxRepo, timelineRepo, sagaMetrics, logger.WithField("component", "saga"))
	if err := sagaHandlers.Register(ctx, consumer); err != nil {
		rt.Close(ctx)
		return fmt.Errorf("register saga handlers: %w", err)
	}

	cleanup := idempotency.NewCleanupWorker(idemRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
	)
	go cleanup.Run(ctx)

	catalogClient := httpclient.New(httpclient.Options{
		Target:          "inventory",
		Timeout:         extra.CatalogTimeout,
		ResetTimeout:    extra.BreakerResetTimeout,
		VolumeThreshold: uint32(extra.BreakerVolumeThreshold),
		Metrics:         fabricMetrics,
	})
	catalog := orders.NewHTTPCatalog(catalogClient, extra.InventoryBaseURL)
	orderSvc := orders.NewService(orderRepo, uow, catalog, sagaMetrics, logger.WithField("component", "orders"))

	timeoutWorker := orders.NewTimeoutWorker(orderRepo, uow, extra.TimeoutInterval, extra.OrderTimeout,
		logger.WithField("component", "order-timeout"))
	go timeoutWorker.Run(ctx)

	router := mux.NewRouter()
	api.NewOrdersAPI(orderSvc, idemRepo, logger.WithField("component", "orders-api")).Register(router)
	api.NewOutboxAdminAPI(outboxRepo, logger.WithField("component", "outbox-admin")).Register(router)
	router.HandleFunc("/circuit-breaker/status", api.BreakerStatusHandler(catalogClient))

	outboxChecker := healthcheck.NewSimpleChecker("outbox", func() error {
		stats, err := outboxRepo.Stats()
		if err != nil {
			return err
		}
		if stats.PendingCount > outboxBacklogThreshold {
			return fmt.Errorf("outbox backlog %d exceeds threshold %d", stats.PendingCount, outboxBacklogThreshold)
		}
		return nil
	})
	health := rt.healthHandler(map[string]healthcheck.Checker{"outbox": outboxChecker})

	errCh := make(chan error, 2)
	opsSrv := startOpsServer(ctx, cfg.MetricsAddr, logger, health)
	apiSrv := startHTTPServer(cfg.HTTPAddr, router, logger, errCh)

	return waitAndShutdown(ctx, rt, logger, errCh, apiSrv, opsSrv)
}
