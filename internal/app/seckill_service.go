package app

import (
	"context"
	"fmt"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/mkarasev/oms-saga/internal/api"
	"github.com/mkarasev/oms-saga/internal/broker"
	"github.com/mkarasev/oms-saga/internal/config"
	"github.com/mkarasev/oms-saga/internal/metrics"
	"github.com/mkarasev/oms-saga/internal/seckill"
)

// RunSeckillService поднимает seckill-service: горячий путь /seckill/buy на
// атомарных Redis-скриптах, публикацию выигрышей в брокер с ghost-fallback и
// консьюмер компенсаций seckill.release.
func RunSeckillService(ctx context.Context, cfg config.Common, extra config.SeckillExtra) error {
	logger := log.WithField("component", "seckill-service")

	rt, err := newRuntime(ctx, cfg, logger, runtimeNeeds{redis: true})
	if err != nil {
		return fmt.Errorf("seckill service runtime: %w", err)
	}

	ghost, err := seckill.NewGhostLog(extra.GhostLogPath)
	if err != nil {
		rt.Close(ctx)
		return fmt.Errorf("ghost log: %w", err)
	}

	fabricMetrics := metrics.NewFabricMetrics()
	publisher := broker.NewPublisher(rt.Broker, fabricMetrics)

	engineOpts := []seckill.Option{
		seckill.WithMetrics(fabricMetrics),
		seckill.WithLogger(logger.WithField("component", "seckill")),
	}
	if extra.RateLimitDisabled {
		engineOpts = append(engineOpts, seckill.WithRateLimitDisabled())
	} else {
		engineOpts = append(engineOpts, seckill.WithRateLimit(extra.RateLimitPerSecond, 0))
	}
	engine := seckill.NewEngine(rt.Redis, publisher, ghost, engineOpts...)

	consumer := broker.NewConsumer(rt.Broker, broker.NewRedisProcessedStore(rt.Redis), fabricMetrics, logger.WithField("component", "consumer"))
	if err := engine.RegisterRelease(ctx, consumer); err != nil {
		rt.Close(ctx)
		return fmt.Errorf("register seckill handlers: %w", err)
	}

	router := mux.NewRouter()
	api.NewSeckillAPI(engine, extra.AdminKey, logger.WithField("component", "seckill-api")).Register(router)

	health := rt.healthHandler(nil)

	errCh := make(chan error, 2)
	opsSrv := startOpsServer(ctx, cfg.MetricsAddr, logger, health)
	apiSrv := startHTTPServer(cfg.HTTPAddr, router, logger, errCh)

	return waitAndShutdown(ctx, rt, logger, errCh, apiSrv, opsSrv)
}
