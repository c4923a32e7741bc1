package main

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/sandile-dev/smartmeter-portal/internal/autoload"
	"github.com/sandile-dev/smartmeter-portal/internal/balance"
	"github.com/sandile-dev/smartmeter-portal/internal/config"
	"github.com/sandile-dev/smartmeter-portal/internal/db"
	"github.com/sandile-dev/smartmeter-portal/internal/mq"
	"github.com/sandile-dev/smartmeter-portal/internal/repository"
	"github.com/sandile-dev/smartmeter-portal/internal/server"
	"github.com/sandile-dev/smartmeter-portal/internal/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ProvideDBPool creates the PostgreSQL connection pool
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideRepository creates the repository over the pool
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideMQConnection creates the shared broker connection
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.Broker.URL)
}

// ProvideReloadPublisher creates the reload command publisher
func ProvideReloadPublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.ReloadPublisher, error) {
	return mq.NewReloadPublisher(conn, cfg.Broker.Exchange, cfg.Broker.ReloadRoutingKey, cfg.Broker.PublishTimeout, logger)
}

// ProvidePurchaseService creates the purchase orchestrator
func ProvidePurchaseService(repo *repository.Repository, publisher *mq.ReloadPublisher, cfg *config.Config, logger *zap.Logger) *service.PurchaseService {
	return service.NewPurchaseService(repo, publisher, cfg.Pricing.UnitRate, logger)
}

// ProvideMeterService creates the meter registration service
func ProvideMeterService(repo *repository.Repository, logger *zap.Logger) *service.MeterService {
	return service.NewMeterService(repo, logger)
}

// ProvidePaymentService creates the payment-method service
func ProvidePaymentService(repo *repository.Repository, logger *zap.Logger) *service.PaymentService {
	return service.NewPaymentService(repo, logger)
}

// ProvideTelemetryService creates the telemetry ingestion service
func ProvideTelemetryService(repo *repository.Repository, cfg *config.Config, logger *zap.Logger) *service.TelemetryService {
	return service.NewTelemetryService(repo, cfg.Telemetry.TimestampToleranceMinutes, logger)
}

func autoLoadDefaults(cfg *config.Config) repository.AutoLoadDefaults {
	return repository.AutoLoadDefaults{
		Threshold: cfg.AutoLoad.DefaultThreshold,
		Amount:    cfg.AutoLoad.DefaultAmount,
		MaxDaily:  cfg.AutoLoad.DefaultMaxDaily,
	}
}

// ProvideHTTPHandler wires the services behind the HTTP API
func ProvideHTTPHandler(
	meters *service.MeterService,
	purchases *service.PurchaseService,
	payments *service.PaymentService,
	repo *repository.Repository,
	publisher *mq.ReloadPublisher,
	cfg *config.Config,
	logger *zap.Logger,
) *server.Handler {
	return &server.Handler{
		Meters:    meters,
		Purchases: purchases,
		Payments:  payments,
		Store:     repo,
		Publisher: publisher,
		Defaults:  autoLoadDefaults(cfg),
		Logger:    logger,
	}
}

// ProvideEcho builds the router
func ProvideEcho(h *server.Handler) *echo.Echo {
	return server.New(h)
}

func startHTTPServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *zap.Logger) {
	server.Start(lc, e, cfg.HTTPPort, logger)
}

// startAutoLoadRunner subscribes to balance updates and drives the
// crossing-to-purchase pipeline for the lifetime of the process.
func startAutoLoadRunner(
	lc fx.Lifecycle,
	pool *db.Pool,
	repo *repository.Repository,
	purchases *service.PurchaseService,
	cfg *config.Config,
	logger *zap.Logger,
) {
	ctx, cancel := context.WithCancel(context.Background())

	runner := autoload.NewRunner(autoload.RunnerConfig{
		Source:   balance.NewNotifySource(pool, logger),
		Fallback: balance.NewPollSource(repo, cfg.AutoLoad.PollInterval, logger),
		Store:    repo,
		Purchase: purchases,
		Defaults: autoLoadDefaults(cfg),
		Logger:   logger,
	})

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting auto-load runner")
			return runner.Run(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			logger.Info("auto-load runner stopped")
			return nil
		},
	})
}

// startTelemetryConsumer consumes device balance readings from the broker.
func startTelemetryConsumer(
	lc fx.Lifecycle,
	conn *mq.Connection,
	telemetry *service.TelemetryService,
	cfg *config.Config,
	logger *zap.Logger,
) error {
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewTelemetryConsumer(mq.TelemetryConsumerConfig{
		Connection:    conn,
		Queue:         cfg.Broker.TelemetryQueue,
		DLQQueue:      cfg.Broker.TelemetryDLQ,
		Exchange:      cfg.Broker.Exchange,
		RoutingKey:    cfg.Broker.TelemetryKey,
		PrefetchCount: cfg.Broker.PrefetchCount,
		Logger:        logger,
		Handler:       telemetry.HandleMessage,
	})
	if err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting telemetry consumer",
				zap.String("queue", cfg.Broker.TelemetryQueue),
				zap.Int("prefetch", cfg.Broker.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close telemetry consumer", zap.Error(err))
				return err
			}
			logger.Info("telemetry consumer stopped gracefully")
			return nil
		},
	})

	return nil
}
