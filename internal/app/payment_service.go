package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/mkarasev/oms-saga/internal/broker"
	"github.com/mkarasev/oms-saga/internal/config"
	"github.com/mkarasev/oms-saga/internal/metrics"
	"github.com/mkarasev/oms-saga/internal/payment"
	paymentprovider "github.com/mkarasev/oms-saga/internal/service/payment"
)

// RunPaymentService поднимает payment-service: консьюмер order.confirmed,
// провайдер платежей и публикацию результатов обратно в сагу. Постоянного
// хранилища у сервиса нет — идемпотентность обеспечивают processed-маркеры.
func RunPaymentService(ctx context.Context, cfg config.Common) error {
	logger := log.WithField("component", "payment-service")

	rt, err := newRuntime(ctx, cfg, logger, runtimeNeeds{redis: true})
	if err != nil {
		return fmt.Errorf("payment service runtime: %w", err)
	}

	fabricMetrics := metrics.NewFabricMetrics()
	publisher := broker.NewPublisher(rt.Broker, fabricMetrics)
	consumer := broker.NewConsumer(rt.Broker, broker.NewRedisProcessedStore(rt.Redis), fabricMetrics, logger.WithField("component", "consumer"))

	provider := paymentprovider.NewMockService()
	handlers := payment.NewHandlers(provider, publisher, logger.WithField("component", "payment"))
	if err := handlers.Register(ctx, consumer); err != nil {
		rt.Close(ctx)
		return fmt.Errorf("register payment handlers: %w", err)
	}

	health := rt.healthHandler(nil)

	errCh := make(chan error, 1)
	opsSrv := startOpsServer(ctx, cfg.MetricsAddr, logger, health)

	return waitAndShutdown(ctx, rt, logger, errCh, opsSrv)
}
