package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kotilabs/housing-backend/internal/billing"
	"github.com/kotilabs/housing-backend/internal/catalog"
	"github.com/kotilabs/housing-backend/internal/credits"
	"github.com/kotilabs/housing-backend/internal/cron"
	"github.com/kotilabs/housing-backend/internal/gateway"
	"github.com/kotilabs/housing-backend/internal/subscriptions"
	"github.com/kotilabs/housing-backend/internal/tenants"
	"github.com/kotilabs/housing-backend/pkg/config"
	"github.com/kotilabs/housing-backend/pkg/db"
	"github.com/kotilabs/housing-backend/pkg/logger"
	"github.com/kotilabs/housing-backend/pkg/metrics"
	"github.com/kotilabs/housing-backend/pkg/migrate"
	"github.com/kotilabs/housing-backend/pkg/outbox"
	"github.com/kotilabs/housing-backend/pkg/redis"
	"github.com/kotilabs/housing-backend/pkg/stripe"
)

const lockKeyFormat = "housing:cron-worker:lock:%s"

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

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry, err := buildRegistry(context.Background(), cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron jobs", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
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
		"serviceKind": "cron-worker",
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}

func buildRegistry(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap stripe: %w", err)
	}
	gw, err := gateway.NewStripeClient(stripeClient)
	if err != nil {
		return nil, fmt.Errorf("create payment gateway: %w", err)
	}
	catalogSvc, err := catalog.NewService(catalog.NewRepository(dbClient.DB()), gw, cfg.Billing.DefaultCurrency)
	if err != nil {
		return nil, fmt.Errorf("create catalog service: %w", err)
	}
	tenantRepo := tenants.NewRepository(dbClient.DB())
	tenantSvc, err := tenants.NewService(tenantRepo, gw)
	if err != nil {
		return nil, fmt.Errorf("create tenant service: %w", err)
	}
	subscriptionSvc, err := subscriptions.NewService(subscriptions.ServiceParams{
		BillingRepo:       billing.NewRepository(dbClient.DB()),
		Catalog:           catalogSvc,
		Tenants:           tenantSvc,
		Gateway:           gw,
		TransactionRunner: dbClient,
		Logger:            logg,
		DaysUntilDue:      cfg.Stripe.InvoiceDaysUntilDue,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription service: %w", err)
	}
	creditSvc, err := credits.NewService(credits.ServiceParams{
		Repo:            credits.NewRepository(dbClient.DB()),
		Tx:              dbClient,
		Logger:          logg,
		StrictDeduction: cfg.Billing.StrictCredit,
		DefaultCurrency: cfg.Billing.DefaultCurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("create credit service: %w", err)
	}

	reconcileJob, err := cron.NewSubscriptionReconcileJob(cron.SubscriptionReconcileJobParams{
		Logger:        logg,
		Subscriptions: subscriptionSvc,
		Limit:         cfg.Cron.ReconcileLimit,
	})
	if err != nil {
		return nil, err
	}
	driftJob, err := cron.NewCreditDriftJob(cron.CreditDriftJobParams{
		Logger:  logg,
		Tenants: tenantRepo,
		Credits: creditSvc,
		Limit:   cfg.Cron.DriftAuditLimit,
	})
	if err != nil {
		return nil, err
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		RetentionDays: cfg.Cron.OutboxRetention,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(reconcileJob, driftJob, retentionJob), nil
}
