package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotilabs/housing-backend/api/controllers"
	"github.com/kotilabs/housing-backend/internal/billing"
	"github.com/kotilabs/housing-backend/internal/catalog"
	"github.com/kotilabs/housing-backend/internal/credits"
	"github.com/kotilabs/housing-backend/internal/dbtest"
	"github.com/kotilabs/housing-backend/internal/gateway/gatewaytest"
	"github.com/kotilabs/housing-backend/internal/invoices"
	"github.com/kotilabs/housing-backend/internal/subscriptions"
	"github.com/kotilabs/housing-backend/internal/tenants"
	stripewebhook "github.com/kotilabs/housing-backend/internal/webhooks/stripe"
	"github.com/kotilabs/housing-backend/pkg/auth"
	"github.com/kotilabs/housing-backend/pkg/config"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	"github.com/kotilabs/housing-backend/pkg/enums"
	"github.com/kotilabs/housing-backend/pkg/metrics"
	"github.com/kotilabs/housing-backend/pkg/outbox"
	"github.com/kotilabs/housing-backend/pkg/outbox/idempotency"
	"github.com/kotilabs/housing-backend/pkg/redis"
)

type harness struct {
	handler http.Handler
	cfg     *config.Config
	fake    *gatewaytest.Fake
	tenant  *models.Tenant
	plan    *models.SubscriptionPlan
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	client := dbtest.New(t)
	fake := gatewaytest.New()
	tenant := dbtest.MustCreateTenant(t, client.DB())
	plan := dbtest.MustCreatePlan(t, client.DB())

	mr := miniredis.RunT(t)
	rdb, err := redis.New(ctx, config.RedisConfig{Address: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	catalogSvc, err := catalog.NewService(catalog.NewRepository(client.DB()), fake, "eur")
	require.NoError(t, err)
	tenantSvc, err := tenants.NewService(tenants.NewRepository(client.DB()), fake)
	require.NoError(t, err)
	billingRepo := billing.NewRepository(client.DB())
	subs, err := subscriptions.NewService(subscriptions.ServiceParams{
		BillingRepo:       billingRepo,
		Catalog:           catalogSvc,
		Tenants:           tenantSvc,
		Gateway:           fake,
		TransactionRunner: client,
	})
	require.NoError(t, err)
	creditSvc, err := credits.NewService(credits.ServiceParams{
		Repo:            credits.NewRepository(client.DB()),
		Tx:              client,
		DefaultCurrency: "eur",
	})
	require.NoError(t, err)
	billingSvc, err := billing.NewService(billing.ServiceParams{Repo: billingRepo})
	require.NoError(t, err)
	invoiceSvc, err := invoices.NewService(invoices.ServiceParams{
		Repo:    invoices.NewRepository(client.DB()),
		Tx:      client,
		Tenants: tenantSvc,
		Outbox:  outbox.NewService(outbox.NewRepository(client.DB()), nil),
	})
	require.NoError(t, err)
	guard, err := idempotency.NewManager(rdb, time.Hour, stripewebhook.IdempotencyScope)
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	hooks, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Subscriptions:  subs,
		Credits:        creditSvc,
		Guard:          guard,
		PlatformSecret: "whsec_platform",
		AccountSecret:  "whsec_account",
		Metrics:        metrics.NewWebhookMetrics(reg),
	})
	require.NoError(t, err)

	cfg := &config.Config{
		App: config.AppConfig{Env: "test", CORSOrigins: []string{"http://localhost:3000"}},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "housing", ExpirationMinutes: 15},
	}
	handler := NewRouter(cfg, nil, Deps{
		Ready:         controllers.ReadyDeps{DB: client, Redis: rdb},
		Idempotency:   rdb,
		Gatherer:      reg,
		Webhooks:      hooks,
		Subscriptions: subs,
		Catalog:       catalogSvc,
		Credits:       creditSvc,
		Billing:       billingSvc,
		Invoices:      invoiceSvc,
	})
	return &harness{handler: handler, cfg: cfg, fake: fake, tenant: tenant, plan: plan}
}

func (h *harness) token(t *testing.T, role enums.TenantRole) string {
	t.Helper()
	token, err := auth.MintAccessToken(h.cfg.JWT, time.Now(), auth.AccessTokenPayload{
		UserID:   uuid.New(),
		TenantID: h.tenant.ID,
		Role:     role,
	})
	require.NoError(t, err)
	return token
}

func (h *harness) do(t *testing.T, method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestPublicRoutes(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health/live", "", nil, nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health/ready", "", nil, nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/metrics", "", nil, nil).Code)

	rec := h.do(t, http.MethodPost, "/payment/webhooks", "", map[string]any{"id": "evt_1"}, map[string]string{"Stripe-Signature": "t=1,v1=bad"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(t, http.MethodPost, "/payment/account/webhooks", "", map[string]any{"id": "evt_1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhooksBypassCORS(t *testing.T) {
	h := newHarness(t)
	origin := map[string]string{"Origin": "http://localhost:3000", "Stripe-Signature": "t=1,v1=bad"}

	for _, path := range []string{"/payment/webhooks", "/payment/account/webhooks"} {
		rec := h.do(t, http.MethodPost, path, "", map[string]any{"id": "evt_1"}, origin)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), path)
	}

	rec := h.do(t, http.MethodGet, "/health/live", "", nil, origin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = h.do(t, http.MethodGet, "/api/v1/payment/credits/entries", h.token(t, enums.TenantRoleManager), nil, origin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPIRequiresAuthAndRole(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/api/v1/payment/plans", "", nil, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, "/api/v1/payment/plans", h.token(t, enums.TenantRoleResident), nil, nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/v1/payment/plans", h.token(t, enums.TenantRoleManager), nil, nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/v1/payment/credits", h.token(t, enums.TenantRoleAdmin), nil, nil).Code)

	// No stripe client is wired in this harness.
	assert.Equal(t, http.StatusServiceUnavailable, h.do(t, http.MethodGet, "/api/v1/payment/publishable-key", h.token(t, enums.TenantRoleManager), nil, nil).Code)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	h := newHarness(t)
	body := map[string]any{"name": "Annual portal", "unit_amount_cents": 12000, "interval": "year"}
	key := map[string]string{"Idempotency-Key": "plan-1"}

	rec := h.do(t, http.MethodPost, "/api/v1/admin/plans", h.token(t, enums.TenantRoleManager), body, key)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/admin/plans", h.token(t, enums.TenantRoleAdmin), body, key)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Len(t, h.fake.CallsTo("CreateRecurringProduct"), 1)
}

func TestStartSubscriptionIsIdempotent(t *testing.T) {
	h := newHarness(t)
	token := h.token(t, enums.TenantRoleManager)
	body := map[string]any{"plan_id": h.plan.ID, "quantity": 2}

	rec := h.do(t, http.MethodPost, "/api/v1/payment/subscriptions", token, body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	key := map[string]string{"Idempotency-Key": "start-1"}
	first := h.do(t, http.MethodPost, "/api/v1/payment/subscriptions", token, body, key)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	replay := h.do(t, http.MethodPost, "/api/v1/payment/subscriptions", token, body, key)
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.JSONEq(t, first.Body.String(), replay.Body.String())
	assert.Len(t, h.fake.CallsTo("CreateSendInvoiceSubscription"), 1)
}

func TestInvoiceBatchRoute(t *testing.T) {
	h := newHarness(t)
	token := h.token(t, enums.TenantRoleManager)
	body := map[string]any{
		"name":      "Spring cleaning",
		"receivers": []map[string]any{{"name": "A"}, {"name": "B"}},
		"items":     []map[string]any{{"description": "Cleaning", "unit_cost_cents": 2500, "quantity": 1}},
	}

	rec := h.do(t, http.MethodPost, "/api/v1/invoices/batches", token, body, map[string]string{"Idempotency-Key": "batch-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var env struct {
		Data struct {
			Group struct {
				ID               uuid.UUID `json:"id"`
				NumberOfInvoices int       `json:"number_of_invoices"`
			} `json:"group"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Equal(t, 2, env.Data.Group.NumberOfInvoices)

	rec = h.do(t, http.MethodGet, "/api/v1/invoices/batches/"+env.Data.Group.ID.String(), token, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
