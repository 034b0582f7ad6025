package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/kotilabs/housing-backend/internal/documents"
	"github.com/kotilabs/housing-backend/internal/gateway"
	"github.com/kotilabs/housing-backend/internal/invoices"
	"github.com/kotilabs/housing-backend/internal/tenants"
	"github.com/kotilabs/housing-backend/pkg/config"
	"github.com/kotilabs/housing-backend/pkg/db"
	"github.com/kotilabs/housing-backend/pkg/logger"
	"github.com/kotilabs/housing-backend/pkg/migrate"
	"github.com/kotilabs/housing-backend/pkg/outbox"
	"github.com/kotilabs/housing-backend/pkg/outbox/idempotency"
	"github.com/kotilabs/housing-backend/pkg/pubsub"
	"github.com/kotilabs/housing-backend/pkg/redis"
	"github.com/kotilabs/housing-backend/pkg/storage/gcs"
	"github.com/kotilabs/housing-backend/pkg/stripe"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, true, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "error closing pubsub", err)
		}
	}()

	gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	requireResource(ctx, logg, "gcs", err)
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(ctx, "error closing gcs", err)
		}
	}()

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	requireResource(ctx, logg, "stripe", err)

	gw, err := gateway.NewStripeClient(stripeClient)
	requireResource(ctx, logg, "payment gateway", err)

	tenantSvc, err := tenants.NewService(tenants.NewRepository(dbClient.DB()), gw)
	requireResource(ctx, logg, "tenant service", err)

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	invoiceSvc, err := invoices.NewService(invoices.ServiceParams{
		Repo:        invoices.NewRepository(dbClient.DB()),
		Tx:          dbClient,
		Tenants:     tenantSvc,
		Outbox:      outboxSvc,
		Logger:      logg,
		FanOutLimit: cfg.Invoices.FanOutLimit,
		Currency:    cfg.Billing.DefaultCurrency,
	})
	requireResource(ctx, logg, "invoice service", err)

	guard, err := idempotency.NewManager(redisClient, cfg.Eventing.ConsumerIdempotencyTTL, documents.IdempotencyScope)
	requireResource(ctx, logg, "document guard", err)

	consumer, err := documents.NewConsumer(documents.ConsumerParams{
		Invoices:     invoiceSvc,
		Tenants:      tenantSvc,
		Storage:      gcsClient,
		Outbox:       outboxSvc,
		Tx:           dbClient,
		Guard:        guard,
		Subscription: pubsubClient.InvoiceSubscription(),
		IssuerName:   cfg.Invoices.IssuerName,
		Logger:       logg,
	})
	requireResource(ctx, logg, "document consumer", err)

	service, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logg,
		DB:               dbClient,
		Redis:            redisClient,
		PubSub:           pubsubClient,
		GCS:              gcsClient,
		Stripe:           stripeClient,
		DocumentConsumer: consumer,
	})
	requireResource(ctx, logg, "worker service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":      cfg.App.Env,
		"instance": getInstanceID(),
	})
	logg.Info(runCtx, "starting worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, name string, err error) {
	if err != nil {
		logg.Error(ctx, "failed to initialize "+name, err)
		os.Exit(1)
	}
}

func getInstanceID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	return "worker-0"
}
