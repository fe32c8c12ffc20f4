package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quanhe-tech/tiershop-backend/internal/app"
	"github.com/quanhe-tech/tiershop-backend/internal/cron"
	"github.com/quanhe-tech/tiershop-backend/pkg/config"
	"github.com/quanhe-tech/tiershop-backend/pkg/db"
	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
	"github.com/quanhe-tech/tiershop-backend/pkg/metrics"
	"github.com/quanhe-tech/tiershop-backend/pkg/redis"
)

const lockKeyFormat = "ts:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	services, err := app.Build(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	jobMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	registerJobs(registry, cfg, logg, dbClient, services, jobMetrics)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func registerJobs(
	registry *cron.Registry,
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	services *app.Services,
	jobMetrics *metrics.CronJobMetrics,
) {
	mustRegister := func(job cron.Job, err error) {
		if err != nil {
			logg.Error(context.Background(), "failed to build cron job", err)
			os.Exit(1)
		}
		registry.Register(job)
	}

	mustRegister(cron.NewOrderAutoCancelJob(cron.OrderAutoCancelJobParams{
		Logger:    logg,
		Orders:    services.OrdersRepo,
		Canceller: services.Orders,
		Metrics:   jobMetrics,
		MaxAge:    cfg.Settlement.AutoCancelAfter,
		BatchSize: cfg.Settlement.SweepBatchSize,
	}))
	mustRegister(cron.NewOrderAutoConfirmJob(cron.OrderAutoConfirmJobParams{
		Logger:    logg,
		Orders:    services.OrdersRepo,
		Confirmer: services.Orders,
		Metrics:   jobMetrics,
		Grace:     cfg.Settlement.AutoConfirmAfter,
		BatchSize: cfg.Settlement.SweepBatchSize,
	}))
	mustRegister(cron.NewFulfillmentTimeoutJob(cron.FulfillmentTimeoutJobParams{
		Logger:     logg,
		Orders:     services.OrdersRepo,
		Reassigner: services.Fulfillment,
		Metrics:    jobMetrics,
		ClaimTTL:   cfg.Settlement.AgentClaimTimeout,
		BatchSize:  cfg.Settlement.SweepBatchSize,
	}))
	mustRegister(cron.NewCommissionReleaseJob(cron.CommissionReleaseJobParams{
		Logger:      logg,
		DB:          dbClient,
		Commissions: services.Commissions,
		CommRepo:    services.CommRepo,
		Orders:      services.OrdersRepo,
		Users:       services.UsersRepo,
		Metrics:     jobMetrics,
		BatchSize:   cfg.Settlement.SweepBatchSize,
	}))
	mustRegister(cron.NewCommissionSettleJob(cron.CommissionSettleJobParams{
		Logger:      logg,
		DB:          dbClient,
		Commissions: services.Commissions,
		CommRepo:    services.CommRepo,
		Metrics:     jobMetrics,
		BatchSize:   cfg.Settlement.SweepBatchSize,
	}))
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
