package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/order"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/validation"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// Runtime — собранное приложение: сервис размещения заказов плюс всё,
// что крутится вокруг него (воркеры, ops-сервер, kafka).
type Runtime struct {
	// Placement — сервис размещения; экспортируется, чтобы команды
	// (loadtest) и интеграционные тесты могли гонять размещения in-process.
	Placement *order.Service
	// Demo заполнен только для memory-хранилища.
	Demo *DemoCatalog

	cfg      Config
	logger   *log.Entry
	deps     runtimeDependencies
	producer *kafka.Producer

	closeOnce sync.Once
}

// Initialize строит Runtime по конфигу: хранилище, kafka producer и
// сервис размещения. Ошибка kafka не фатальна — приложение продолжает
// без публикации событий.
func Initialize(ctx context.Context, cfg Config) (*Runtime, error) {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)

	gateway := validation.NewGateway(deps.customers, deps.stores, deps.products, deps.inventoryRepo)
	placement := order.NewService(
		gateway,
		deps.ledger,
		deps.repo,
		deps.outboxRepo,
		deps.timelineRepo,
		deps.idempotencyRepo,
		logger.WithField("layer", "placement"),
	)

	return &Runtime{
		Placement: placement,
		Demo:      deps.demo,
		cfg:       cfg,
		logger:    logger,
		deps:      deps,
		producer:  producer,
	}, nil
}

// Run запускает ops HTTP-сервер и фоновые воркеры и блокируется до
// отмены ctx. Возвращает ctx.Err() после graceful-остановки.
func (rt *Runtime) Run(ctx context.Context) error {
	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if rt.deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", rt.deps.storageChecker)
	}

	metricsSrv := startMetricsServer(ctx, rt.cfg.MetricsAddr, rt.logger, healthHandler)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	var wg sync.WaitGroup

	if rt.producer != nil {
		publisher := kafka.NewOutboxPublisher(rt.producer, rt.cfg.OrderTopic)
		dlqPublisher := kafka.NewOutboxPublisher(rt.producer, kafka.TopicDeadLetterQueue)
		worker := outbox.NewWorker(rt.deps.outboxRepo, publisher,
			outbox.WithLogger(rt.logger.WithField("worker", "outbox")),
			outbox.WithDLQPublisher(dlqPublisher),
			outbox.WithPollInterval(rt.cfg.OutboxPollInterval),
			outbox.WithBatchSize(rt.cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(rt.cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(rt.cfg.OutboxRetryDelay),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(workerCtx)
		}()
	} else {
		rt.logger.Info("kafka не настроен, outbox worker отключён")
	}

	cleanup := idempotency.NewCleanupWorker(rt.deps.idempotencyRepo,
		idempotency.WithLogger(rt.logger.WithField("worker", "idempotency-cleanup")),
		idempotency.WithInterval(rt.cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(rt.cfg.IdempotencyCleanupBatchSize),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup.Run(workerCtx)
	}()

	<-ctx.Done()
	rt.logger.Info("получен сигнал остановки, останавливаем воркеры")

	cancelWorkers()
	waitWorkers(&wg, 5*time.Second, rt.logger)
	shutdownHTTP(metricsSrv, rt.logger)
	rt.Close()

	return ctx.Err()
}

// Close освобождает ресурсы Runtime. Безопасен для повторного вызова.
func (rt *Runtime) Close() {
	rt.closeOnce.Do(func() {
		closeKafkaProducer(rt.producer, rt.logger)
		if rt.deps.closeFn != nil {
			if err := rt.deps.closeFn(); err != nil {
				rt.logger.WithError(err).Warn("failed to close storage")
			}
		}
	})
}

// Run — всё приложение одной функцией: Initialize + Runtime.Run.
func Run(ctx context.Context, cfg Config) error {
	rt, err := Initialize(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	return rt.Run(ctx)
}

// waitWorkers ждёт завершения воркеров, но не дольше timeout.
func waitWorkers(wg *sync.WaitGroup, timeout time.Duration, logger *log.Entry) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("воркеры не остановились за отведённый таймаут")
	}
}

// startMetricsServer запускает ops HTTP-сервер: /metrics для Prometheus
// плюс health/liveness/readiness endpoints.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
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
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
