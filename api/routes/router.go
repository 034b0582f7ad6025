package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kotilabs/housing-backend/api/controllers"
	admincontrollers "github.com/kotilabs/housing-backend/api/controllers/admin"
	invoicecontrollers "github.com/kotilabs/housing-backend/api/controllers/invoices"
	paymentcontrollers "github.com/kotilabs/housing-backend/api/controllers/payments"
	webhookcontrollers "github.com/kotilabs/housing-backend/api/controllers/webhooks"
	"github.com/kotilabs/housing-backend/api/middleware"
	"github.com/kotilabs/housing-backend/internal/billing"
	"github.com/kotilabs/housing-backend/internal/catalog"
	"github.com/kotilabs/housing-backend/internal/credits"
	"github.com/kotilabs/housing-backend/internal/invoices"
	"github.com/kotilabs/housing-backend/internal/subscriptions"
	stripewebhook "github.com/kotilabs/housing-backend/internal/webhooks/stripe"
	"github.com/kotilabs/housing-backend/pkg/config"
	"github.com/kotilabs/housing-backend/pkg/logger"
	"github.com/kotilabs/housing-backend/pkg/stripe"
)

// Deps carries the services mounted by NewRouter. Nil services produce
// handlers that answer with an internal error.
type Deps struct {
	Ready         controllers.ReadyDeps
	Idempotency   middleware.IdempotencyStore
	Gatherer      prometheus.Gatherer
	Stripe        *stripe.Client
	Webhooks      *stripewebhook.Service
	Subscriptions subscriptions.Service
	Catalog       catalog.Service
	Credits       credits.Service
	Billing       *billing.Service
	Invoices      invoices.Service
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	// Gateway deliveries authenticate by signature, not bearer token, and
	// are server-to-server so CORS does not apply.
	var webhooks webhookService
	if deps.Webhooks != nil {
		webhooks = deps.Webhooks
	}
	r.Post("/payment/webhooks", webhookcontrollers.StripeWebhook(webhooks, stripewebhook.SourcePlatform, logg))
	r.Post("/payment/account/webhooks", webhookcontrollers.StripeWebhook(webhooks, stripewebhook.SourceAccount, logg))

	var keys publishableKeys
	if deps.Stripe != nil {
		keys = deps.Stripe
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	// Idempotency runs per route so the full chi pattern is resolved.
	idem := middleware.Idempotency(deps.Idempotency, logg)

	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS(cfg.App.CORSOrigins))

		r.Route("/health", func(r chi.Router) {
			r.Get("/live", controllers.HealthLive(cfg))
			r.Get("/ready", controllers.HealthReady(cfg, deps.Ready, logg))
		})
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireManager(logg))

				r.Route("/payment", func(r chi.Router) {
					r.With(idem).Post("/subscriptions", paymentcontrollers.StartSubscription(deps.Subscriptions, logg))
					r.Get("/subscriptions", paymentcontrollers.ActiveSubscriptions(deps.Subscriptions, logg))
					r.Get("/subscriptions/status", paymentcontrollers.CheckoutStatus(deps.Subscriptions, logg))
					r.Get("/subscriptions/invoices", paymentcontrollers.SubscriptionInvoices(deps.Billing, logg))
					r.With(idem).Patch("/subscriptions/{planId}", paymentcontrollers.ChangeSubscription(deps.Subscriptions, logg))
					r.Delete("/subscriptions/{planId}", paymentcontrollers.CancelSubscription(deps.Subscriptions, logg))

					r.Get("/plans", paymentcontrollers.ListPlans(deps.Catalog, logg))
					r.Get("/product-items", paymentcontrollers.ListProductItems(deps.Catalog, logg))
					r.With(idem).Post("/product-items/{productItemId}/purchase", paymentcontrollers.PurchaseProductItem(deps.Subscriptions, logg))
					r.Get("/publishable-key", paymentcontrollers.PublishableKey(keys, logg))
					r.Get("/credits", paymentcontrollers.CreditBalance(deps.Credits, logg))
					r.Get("/credits/entries", paymentcontrollers.CreditEntries(deps.Credits, logg))
				})

				r.Route("/invoices", func(r chi.Router) {
					r.With(idem).Post("/batches", invoicecontrollers.CreateBatch(deps.Invoices, logg))
					r.Get("/batches/{groupId}", invoicecontrollers.GetGroup(deps.Invoices, logg))
					r.Get("/{invoiceId}", invoicecontrollers.GetInvoice(deps.Invoices, logg))
					r.Delete("/{invoiceId}", invoicecontrollers.DeleteInvoice(deps.Invoices, logg))
					r.With(idem).Post("/{invoiceId}/payments", invoicecontrollers.MarkPaid(deps.Invoices, logg))
				})
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin(logg))
				r.With(idem).Post("/plans", admincontrollers.CreatePlan(deps.Catalog, logg))
				r.With(idem).Post("/product-items", admincontrollers.CreateProductItem(deps.Catalog, logg))
			})
		})
	})

	return r
}

type webhookService interface {
	HandleDelivery(ctx context.Context, source stripewebhook.Source, payload []byte, signature string) (stripewebhook.Result, error)
}

type publishableKeys interface {
	PublishableKey() string
	Environment() string
}
