package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kotilabs/housing-backend/api/controllers"
	"github.com/kotilabs/housing-backend/api/routes"
	"github.com/kotilabs/housing-backend/internal/billing"
	"github.com/kotilabs/housing-backend/internal/catalog"
	"github.com/kotilabs/housing-backend/internal/credits"
	"github.com/kotilabs/housing-backend/internal/gateway"
	"github.com/kotilabs/housing-backend/internal/invoices"
	"github.com/kotilabs/housing-backend/internal/subscriptions"
	"github.com/kotilabs/housing-backend/internal/tenants"
	stripewebhook "github.com/kotilabs/housing-backend/internal/webhooks/stripe"
	"github.com/kotilabs/housing-backend/pkg/config"
	"github.com/kotilabs/housing-backend/pkg/db"
	"github.com/kotilabs/housing-backend/pkg/logger"
	"github.com/kotilabs/housing-backend/pkg/metrics"
	"github.com/kotilabs/housing-backend/pkg/migrate"
	"github.com/kotilabs/housing-backend/pkg/outbox"
	"github.com/kotilabs/housing-backend/pkg/outbox/idempotency"
	"github.com/kotilabs/housing-backend/pkg/redis"
	"github.com/kotilabs/housing-backend/pkg/storage/gcs"
	"github.com/kotilabs/housing-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := context.Background()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	ready := controllers.ReadyDeps{DB: dbClient, Redis: redisClient}
	if cfg.GCS.BucketName != "" {
		gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap gcs", err)
			os.Exit(1)
		}
		defer gcsClient.Close()
		ready.Storage = gcsClient
	}

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap stripe", err)
		os.Exit(1)
	}
	gw, err := gateway.NewStripeClient(stripeClient)
	if err != nil {
		logg.Error(ctx, "failed to create payment gateway", err)
		os.Exit(1)
	}

	catalogSvc, err := catalog.NewService(catalog.NewRepository(dbClient.DB()), gw, cfg.Billing.DefaultCurrency)
	if err != nil {
		logg.Error(ctx, "failed to create catalog service", err)
		os.Exit(1)
	}
	tenantSvc, err := tenants.NewService(tenants.NewRepository(dbClient.DB()), gw)
	if err != nil {
		logg.Error(ctx, "failed to create tenant service", err)
		os.Exit(1)
	}
	billingRepo := billing.NewRepository(dbClient.DB())
	billingSvc, err := billing.NewService(billing.ServiceParams{Repo: billingRepo})
	if err != nil {
		logg.Error(ctx, "failed to create billing service", err)
		os.Exit(1)
	}
	subscriptionSvc, err := subscriptions.NewService(subscriptions.ServiceParams{
		BillingRepo:       billingRepo,
		Catalog:           catalogSvc,
		Tenants:           tenantSvc,
		Gateway:           gw,
		TransactionRunner: dbClient,
		Logger:            logg,
		DaysUntilDue:      cfg.Stripe.InvoiceDaysUntilDue,
	})
	if err != nil {
		logg.Error(ctx, "failed to create subscription service", err)
		os.Exit(1)
	}
	creditSvc, err := credits.NewService(credits.ServiceParams{
		Repo:            credits.NewRepository(dbClient.DB()),
		Tx:              dbClient,
		Logger:          logg,
		StrictDeduction: cfg.Billing.StrictCredit,
		DefaultCurrency: cfg.Billing.DefaultCurrency,
	})
	if err != nil {
		logg.Error(ctx, "failed to create credit service", err)
		os.Exit(1)
	}
	invoiceSvc, err := invoices.NewService(invoices.ServiceParams{
		Repo:        invoices.NewRepository(dbClient.DB()),
		Tx:          dbClient,
		Tenants:     tenantSvc,
		Outbox:      outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Logger:      logg,
		FanOutLimit: cfg.Invoices.FanOutLimit,
		Currency:    cfg.Billing.DefaultCurrency,
	})
	if err != nil {
		logg.Error(ctx, "failed to create invoice service", err)
		os.Exit(1)
	}

	guard, err := idempotency.NewManager(redisClient, cfg.Eventing.WebhookIdempotencyTTL, stripewebhook.IdempotencyScope)
	if err != nil {
		logg.Error(ctx, "failed to create webhook guard", err)
		os.Exit(1)
	}
	webhookSvc, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Subscriptions:  subscriptionSvc,
		Credits:        creditSvc,
		Guard:          guard,
		PlatformSecret: stripeClient.SigningSecret(),
		AccountSecret:  stripeClient.AccountSigningSecret(),
		Tolerance:      cfg.Stripe.SignatureTolerance,
		Logger:         logg,
		Metrics:        metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(ctx, "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"instance":   id,
		"stripe_env": stripeClient.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Deps{
			Ready:         ready,
			Idempotency:   redisClient,
			Gatherer:      prometheus.DefaultGatherer,
			Stripe:        stripeClient,
			Webhooks:      webhookSvc,
			Subscriptions: subscriptionSvc,
			Catalog:       catalogSvc,
			Credits:       creditSvc,
			Billing:       billingSvc,
			Invoices:      invoiceSvc,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
