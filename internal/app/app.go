// Package app wires the saga service binaries: one Run function per
// deployable (order, inventory, payment, seckill), all sharing the same
// runtime bootstrap — Postgres, Redis, RabbitMQ, tracing, metrics/health
// endpoints and graceful shutdown.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/mkarasev/oms-saga/internal/broker"
	"github.com/mkarasev/oms-saga/internal/config"
	healthcheck "github.com/mkarasev/oms-saga/internal/health"
	"github.com/mkarasev/oms-saga/internal/storage/postgres"
	"github.com/mkarasev/oms-saga/internal/tracing"
	"github.com/mkarasev/oms-saga/internal/version"
)

const (
	storagePingTimeout      = 2 * time.Second
	gracefulShutdownTimeout = 5 * time.Second
)

// Runtime держит подключения, общие для всех сервисных бинарей. Store и
// Redis могут быть nil, если сервису они не нужны.
type Runtime struct {
	Config config.Common
	Logger *log.Entry

	Store  *postgres.Store
	Redis  *redis.Client
	Broker *broker.Conn

	tracingShutdown tracing.Shutdown
}

type runtimeNeeds struct {
	postgres bool
	redis    bool
}

// newRuntime устанавливает запрошенные подключения. Любая ошибка закрывает
// уже открытое: половинный runtime бесполезен.
func newRuntime(ctx context.Context, cfg config.Common, logger *log.Entry, needs runtimeNeeds) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, Logger: logger}

	if cfg.TracingEnabled {
		shutdown, err := tracing.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
		if err != nil {
			logger.WithError(err).Warn("tracing init failed, continuing without export")
			tracing.Noop()
		} else {
			rt.tracingShutdown = shutdown
		}
	} else {
		tracing.Noop()
	}

	if needs.postgres {
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
		rt.Store = store

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				rt.Close(ctx)
				return nil, err
			}
		}
		logger.Info("postgres storage initialized")
	}

	if needs.redis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, storagePingTimeout)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
		rt.Redis = client
		logger.Info("redis connection initialized")
	}

	conn, err := broker.Connect(cfg.RabbitMQURL, logger.WithField("component", "broker"))
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.Broker = conn
	logger.Info("broker connection initialized")

	return rt, nil
}

// Close освобождает подключения в обратном порядке открытия.
func (rt *Runtime) Close(ctx context.Context) {
	if rt.Broker != nil {
		if err := rt.Broker.Close(); err != nil {
			rt.Logger.WithError(err).Warn("broker close failed")
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.Logger.WithError(err).Warn("redis close failed")
		}
	}
	if rt.Store != nil {
		if err := rt.Store.Close(); err != nil {
			rt.Logger.WithError(err).Warn("postgres close failed")
		}
	}
	if rt.tracingShutdown != nil {
		if err := rt.tracingShutdown(ctx); err != nil {
			rt.Logger.WithError(err).Warn("tracing shutdown failed")
		}
	}
}

// healthHandler собирает health-обработчик со стандартными проверками
// подключений рантайма.
func (rt *Runtime) healthHandler(extra map[string]healthcheck.Checker) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.GetVersion())

	if rt.Store != nil {
		handler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), storagePingTimeout)
			defer cancel()
			return rt.Store.Ping(ctx)
		}))
	}
	if rt.Redis != nil {
		handler.RegisterChecker("redis", healthcheck.NewSimpleChecker("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), storagePingTimeout)
			defer cancel()
			return rt.Redis.Ping(ctx).Err()
		}))
	}
	for name, checker := range extra {
		handler.RegisterChecker(name, checker)
	}
	return handler
}

// buildOpsMux собирает служебный роутер: /metrics + health-проверки.
func buildOpsMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

// startOpsServer поднимает служебный HTTP-сервер: /metrics + health-проверки.
func startOpsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: buildOpsMux(healthHandler)}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("ops server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// startHTTPServer поднимает основной API-сервер сервиса.
func startHTTPServer(addr string, handler http.Handler, logger *log.Entry, errCh chan<- error) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("HTTP API слушает %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

// waitAndShutdown блокируется до остановки контекста или первой фатальной
// ошибки, затем гасит серверы и рантайм.
func waitAndShutdown(ctx context.Context, rt *Runtime, logger *log.Entry, errCh <-chan error, servers ...*http.Server) error {
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки")
		runErr = ctx.Err()
	case err := <-errCh:
		logger.WithError(err).Error("сервис завершается из-за ошибки")
		runErr = err
	}

	for _, srv := range servers {
		shutdownHTTP(srv, logger)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	rt.Close(shutdownCtx)

	return runErr
}
