package stripewebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotilabs/housing-backend/internal/billing"
	"github.com/kotilabs/housing-backend/internal/catalog"
	"github.com/kotilabs/housing-backend/internal/credits"
	"github.com/kotilabs/housing-backend/internal/dbtest"
	"github.com/kotilabs/housing-backend/internal/gateway/gatewaytest"
	"github.com/kotilabs/housing-backend/internal/subscriptions"
	"github.com/kotilabs/housing-backend/internal/tenants"
	"github.com/kotilabs/housing-backend/pkg/config"
	"github.com/kotilabs/housing-backend/pkg/db"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	"github.com/kotilabs/housing-backend/pkg/enums"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	"github.com/kotilabs/housing-backend/pkg/metrics"
	"github.com/kotilabs/housing-backend/pkg/outbox/idempotency"
	"github.com/kotilabs/housing-backend/pkg/redis"
)

const (
	platformSecret = "whsec_platform_test"
	accountSecret  = "whsec_account_test"
)

type fixture struct {
	svc     *Service
	client  *db.Client
	fake    *gatewaytest.Fake
	tenant  *models.Tenant
	plan    *models.SubscriptionPlan
	item    *models.PaymentProductItem
	credits credits.Service
	userID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.New(t)
	fake := gatewaytest.New()
	tenant := dbtest.MustCreateTenant(t, client.DB())
	plan := dbtest.MustCreatePlan(t, client.DB())
	item := dbtest.MustCreateProductItem(t, client.DB())

	catalogSvc, err := catalog.NewService(catalog.NewRepository(client.DB()), fake, "eur")
	require.NoError(t, err)
	tenantSvc, err := tenants.NewService(tenants.NewRepository(client.DB()), fake)
	require.NoError(t, err)
	subSvc, err := subscriptions.NewService(subscriptions.ServiceParams{
		BillingRepo:       billing.NewRepository(client.DB()),
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

	mr := miniredis.RunT(t)
	rdb, err := redis.New(context.Background(), config.RedisConfig{Address: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	guard, err := idempotency.NewManager(rdb, time.Hour, IdempotencyScope)
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Subscriptions:  subSvc,
		Credits:        creditSvc,
		Guard:          guard,
		PlatformSecret: platformSecret,
		AccountSecret:  accountSecret,
		Metrics:        metrics.NewWebhookMetrics(nil),
	})
	require.NoError(t, err)

	return &fixture{
		svc:     svc,
		client:  client,
		fake:    fake,
		tenant:  tenant,
		plan:    plan,
		item:    item,
		credits: creditSvc,
		userID:  uuid.New(),
	}
}

func (f *fixture) deliver(t *testing.T, eventID, kind string, object map[string]any) (Result, error) {
	t.Helper()
	payload := eventPayload(t, eventID, kind, object)
	return f.svc.HandleDelivery(context.Background(), SourcePlatform, payload, sign(payload, platformSecret, time.Now()))
}

func (f *fixture) subscriptionObject(extID string, quantity int64) map[string]any {
	return map[string]any{
		"id":             extID,
		"object":         "subscription",
		"status":         "active",
		"latest_invoice": "in_" + extID,
		"metadata": map[string]string{
			"tenant_id":            f.tenant.ID.String(),
			"subscription_plan_id": f.plan.ID.String(),
			"user_id":              f.userID.String(),
			"quantity":             fmt.Sprint(quantity),
		},
		"items": map[string]any{
			"data": []map[string]any{{
				"quantity": quantity,
				"price":    map[string]any{"id": f.plan.ExternalPriceID},
			}},
		},
	}
}

func (f *fixture) subscriptions(t *testing.T) []models.Subscription {
	t.Helper()
	var subs []models.Subscription
	require.NoError(t, f.client.DB().Where("tenant_id = ?", f.tenant.ID).Order("created_on ASC").Find(&subs).Error)
	return subs
}

func eventPayload(t *testing.T, eventID, kind string, object map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        kind,
		"api_version": "2025-01-27.acacia",
		"created":     time.Now().Unix(),
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestHandleDeliveryRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	payload := eventPayload(t, "evt_bad", string(KindSubscriptionCreated), f.subscriptionObject("sub_1", 1))

	_, err := f.svc.HandleDelivery(context.Background(), SourcePlatform, payload, sign(payload, "whsec_wrong", time.Now()))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.HandleDelivery(context.Background(), SourcePlatform, payload, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	stale := sign(payload, platformSecret, time.Now().Add(-time.Hour))
	_, err = f.svc.HandleDelivery(context.Background(), SourcePlatform, payload, stale)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	assert.Empty(t, f.subscriptions(t))
}

func TestAccountDeliveriesUseAccountSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := eventPayload(t, "evt_acct", "customer.created", map[string]any{"id": "cus_1"})

	_, err := f.svc.HandleDelivery(ctx, SourceAccount, payload, sign(payload, platformSecret, time.Now()))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	res, err := f.svc.HandleDelivery(ctx, SourceAccount, payload, sign(payload, accountSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeIgnored, res.Outcome)
}

func TestSubscriptionCreatedCreatesOneActiveSubscription(t *testing.T) {
	f := newFixture(t)

	res, err := f.deliver(t, "evt_created", string(KindSubscriptionCreated), f.subscriptionObject("sub_1", 3))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeProcessed, res.Outcome)

	subs := f.subscriptions(t)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].IsActive)
	assert.Equal(t, enums.SubscriptionStatusActive, subs[0].Status)
	assert.Equal(t, int64(3), subs[0].Quantity)
	require.NotNil(t, subs[0].LatestInvoiceURL)
	assert.Equal(t, "https://invoice.example.test/in_sub_1", *subs[0].LatestInvoiceURL)

	res, err = f.deliver(t, "evt_created", string(KindSubscriptionCreated), f.subscriptionObject("sub_1", 3))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeDuplicate, res.Outcome)
	assert.Len(t, f.subscriptions(t), 1)
	assert.Len(t, f.fake.CallsTo("GetInvoice"), 1)
}

func TestSubscriptionCreatedWithoutMetadataIsSkipped(t *testing.T) {
	f := newFixture(t)
	obj := f.subscriptionObject("sub_1", 1)
	obj["metadata"] = map[string]string{}

	res, err := f.deliver(t, "evt_nometa", string(KindSubscriptionCreated), obj)
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeIgnored, res.Outcome)
	assert.Empty(t, f.subscriptions(t))
}

func TestSubscriptionUpdatedRedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	_, err := f.deliver(t, "evt_created", string(KindSubscriptionCreated), f.subscriptionObject("sub_1", 1))
	require.NoError(t, err)

	// Same payload under fresh event ids, as the gateway does for retries
	// of distinct deliveries.
	for i := 0; i < 3; i++ {
		_, err := f.deliver(t, fmt.Sprintf("evt_upd_%d", i), string(KindSubscriptionUpdated), f.subscriptionObject("sub_1", 5))
		require.NoError(t, err)
	}

	subs := f.subscriptions(t)
	require.Len(t, subs, 1)
	assert.Equal(t, int64(5), subs[0].Quantity)
	assert.True(t, subs[0].IsActive)
	assert.Equal(t, f.plan.ID, subs[0].SubscriptionPlanID)
}

func TestSubscriptionUpdatedForUnknownSubscriptionIsIgnored(t *testing.T) {
	f := newFixture(t)
	res, err := f.deliver(t, "evt_upd", string(KindSubscriptionUpdated), f.subscriptionObject("sub_unknown", 2))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeIgnored, res.Outcome)
	assert.Empty(t, f.subscriptions(t))
}

func TestSubscriptionDeletedAmbiguousLeavesRowsActive(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.DB().Exec("DROP INDEX ux_subscriptions_active_plan").Error)
	for _, ext := range []string{"sub_x", "sub_y"} {
		ext := ext
		require.NoError(t, f.client.DB().Create(&models.Subscription{
			TenantID:               f.tenant.ID,
			SubscriptionPlanID:     f.plan.ID,
			ExternalSubscriptionID: &ext,
			Quantity:               1,
			IsActive:               true,
			Status:                 enums.SubscriptionStatusActive,
		}).Error)
	}

	res, err := f.deliver(t, "evt_del", string(KindSubscriptionDeleted), f.subscriptionObject("sub_x", 1))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeIgnored, res.Outcome)
	for _, s := range f.subscriptions(t) {
		assert.True(t, s.IsActive)
	}
}

func TestSubscriptionDeletedDeactivatesSingleMatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.deliver(t, "evt_created", string(KindSubscriptionCreated), f.subscriptionObject("sub_1", 1))
	require.NoError(t, err)

	res, err := f.deliver(t, "evt_del", string(KindSubscriptionDeleted), f.subscriptionObject("sub_1", 1))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeProcessed, res.Outcome)

	subs := f.subscriptions(t)
	require.Len(t, subs, 1)
	assert.False(t, subs[0].IsActive)
	assert.Equal(t, enums.SubscriptionStatusInactive, subs[0].Status)
}

func TestSubscriptionDeletedAfterPlanChangeDeactivates(t *testing.T) {
	f := newFixture(t)
	_, err := f.deliver(t, "evt_created", string(KindSubscriptionCreated), f.subscriptionObject("sub_1", 1))
	require.NoError(t, err)

	next := dbtest.MustCreatePlan(t, f.client.DB())
	moved := f.subscriptionObject("sub_1", 1)
	moved["items"] = map[string]any{
		"data": []map[string]any{{
			"quantity": 1,
			"price":    map[string]any{"id": next.ExternalPriceID},
		}},
	}
	res, err := f.deliver(t, "evt_upd", string(KindSubscriptionUpdated), moved)
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeProcessed, res.Outcome)
	require.Equal(t, next.ID, f.subscriptions(t)[0].SubscriptionPlanID)

	// The deletion still carries the metadata written at creation.
	res, err = f.deliver(t, "evt_del", string(KindSubscriptionDeleted), moved)
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeProcessed, res.Outcome)

	subs := f.subscriptions(t)
	require.Len(t, subs, 1)
	assert.False(t, subs[0].IsActive)
	assert.Equal(t, enums.SubscriptionStatusInactive, subs[0].Status)
}

func TestSubscriptionDeletedForOtherGatewaySubscriptionLeavesActiveRow(t *testing.T) {
	f := newFixture(t)
	_, err := f.deliver(t, "evt_created_1", string(KindSubscriptionCreated), f.subscriptionObject("sub_1", 1))
	require.NoError(t, err)
	// A second gateway subscription for the same tenant and plan never gets
	// its own row.
	_, err = f.deliver(t, "evt_created_2", string(KindSubscriptionCreated), f.subscriptionObject("sub_2", 1))
	require.NoError(t, err)
	require.Len(t, f.subscriptions(t), 1)

	res, err := f.deliver(t, "evt_del_2", string(KindSubscriptionDeleted), f.subscriptionObject("sub_2", 1))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeIgnored, res.Outcome)

	subs := f.subscriptions(t)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].IsActive)
	require.NotNil(t, subs[0].ExternalSubscriptionID)
	assert.Equal(t, "sub_1", *subs[0].ExternalSubscriptionID)
}

func TestSubscriptionInvoiceFinalizedThenPaid(t *testing.T) {
	f := newFixture(t)
	_, err := f.deliver(t, "evt_created", string(KindSubscriptionCreated), f.subscriptionObject("sub_1", 1))
	require.NoError(t, err)

	invoice := map[string]any{
		"id":                 "in_2",
		"object":             "invoice",
		"hosted_invoice_url": "https://invoice.example.test/in_2",
		"amount_paid":        1000,
		"currency":           "EUR",
		"collection_method":  "send_invoice",
		"parent": map[string]any{
			"subscription_details": map[string]any{
				"subscription": "sub_1",
				"metadata": map[string]string{
					"tenant_id":            f.tenant.ID.String(),
					"subscription_plan_id": f.plan.ID.String(),
				},
			},
		},
		"status_transitions": map[string]any{"paid_at": time.Now().Unix()},
	}

	res, err := f.deliver(t, "evt_fin", string(KindInvoiceFinalized), invoice)
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeProcessed, res.Outcome)
	assert.False(t, f.subscriptions(t)[0].LatestInvoicePaid)

	res, err = f.deliver(t, "evt_paid", string(KindInvoicePaid), invoice)
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeProcessed, res.Outcome)

	sub := f.subscriptions(t)[0]
	assert.True(t, sub.LatestInvoicePaid)
	var records []models.SubscriptionInvoice
	require.NoError(t, f.client.DB().Where("subscription_id = ?", sub.ID).Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, "eur", records[0].Currency)
	assert.Equal(t, int64(1000), records[0].AmountPaidCents)
	assert.Len(t, f.fake.CallsTo("SetAutomaticCollection"), 1)
}

func (f *fixture) oneOffInvoice(invoiceID string) map[string]any {
	meta := map[string]string{
		"tenant_id":               f.tenant.ID.String(),
		"payment_product_item_id": f.item.ID.String(),
		"user_id":                 f.userID.String(),
	}
	return map[string]any{
		"id":                "in_" + invoiceID,
		"object":            "invoice",
		"amount_paid":       5000,
		"currency":          "eur",
		"collection_method": "charge_automatically",
		"lines": map[string]any{
			"data": []map[string]any{
				{"amount": 2000, "metadata": meta},
				{"amount": 3000, "metadata": meta},
			},
		},
	}
}

func TestOneOffInvoicePaidAddsCreditOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.deliver(t, "evt_paid_1", string(KindInvoicePaid), f.oneOffInvoice("one"))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeProcessed, res.Outcome)

	balance, err := f.credits.GetBalance(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), balance.AmountCents)

	// Same event id is stopped by the guard.
	res, err = f.deliver(t, "evt_paid_1", string(KindInvoicePaid), f.oneOffInvoice("one"))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeDuplicate, res.Outcome)

	// A new event for the same invoice is stopped by the ledger.
	res, err = f.deliver(t, "evt_paid_2", string(KindInvoicePaid), f.oneOffInvoice("one"))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeDuplicate, res.Outcome)

	balance, err = f.credits.GetBalance(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), balance.AmountCents)

	var count int64
	require.NoError(t, f.client.DB().Model(&models.Credit{}).Where("tenant_id = ?", f.tenant.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Empty(t, f.fake.CallsTo("SetAutomaticCollection"))
}

func TestHandlerFailureReleasesClaim(t *testing.T) {
	f := newFixture(t)
	f.fake.Errors["GetInvoice"] = errors.New("gateway down")

	_, err := f.deliver(t, "evt_created", string(KindSubscriptionCreated), f.subscriptionObject("sub_1", 1))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))
	assert.Empty(t, f.subscriptions(t))

	delete(f.fake.Errors, "GetInvoice")
	res, err := f.deliver(t, "evt_created", string(KindSubscriptionCreated), f.subscriptionObject("sub_1", 1))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeProcessed, res.Outcome)
	assert.Len(t, f.subscriptions(t), 1)
}

func TestUnknownKindIsIgnored(t *testing.T) {
	f := newFixture(t)
	res, err := f.deliver(t, "evt_other", "charge.refunded", map[string]any{"id": "ch_1"})
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeIgnored, res.Outcome)
}

func TestMalformedKnownKindIsRejected(t *testing.T) {
	f := newFixture(t)
	obj := f.subscriptionObject("sub_1", 1)
	obj["metadata"] = map[string]string{"tenant_id": "not-a-uuid"}

	_, err := f.deliver(t, "evt_bad_meta", string(KindSubscriptionCreated), obj)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, f.subscriptions(t))
}
