package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotilabs/housing-backend/internal/dbtest"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	"github.com/kotilabs/housing-backend/pkg/enums"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	"github.com/kotilabs/housing-backend/pkg/pagination"
)

func TestListInvoicesPagesNewestFirst(t *testing.T) {
	ctx := context.Background()
	client := dbtest.New(t)
	tenant := dbtest.MustCreateTenant(t, client.DB())
	repo := NewRepository(client.DB())

	subID := uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.CreateSubscriptionInvoice(ctx, &models.SubscriptionInvoice{
			SubscriptionID:    subID,
			TenantID:          tenant.ID,
			ExternalInvoiceID: fmt.Sprintf("in_%d", i),
			AmountPaidCents:   1000,
			Currency:          "eur",
			PaidAt:            base.Add(time.Duration(i) * time.Hour),
			CreatedAt:         base.Add(time.Duration(i) * time.Hour),
		}))
	}

	svc, err := NewService(ServiceParams{Repo: repo})
	require.NoError(t, err)

	first, err := svc.ListInvoices(ctx, tenant.ID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Invoices, 2)
	assert.Equal(t, "in_4", first.Invoices[0].ExternalInvoiceID)
	assert.Equal(t, "in_3", first.Invoices[1].ExternalInvoiceID)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.ListInvoices(ctx, tenant.ID, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Invoices, 2)
	assert.Equal(t, "in_2", second.Invoices[0].ExternalInvoiceID)

	third, err := svc.ListInvoices(ctx, tenant.ID, pagination.Params{Limit: 2, Cursor: second.NextCursor})
	require.NoError(t, err)
	require.Len(t, third.Invoices, 1)
	assert.Empty(t, third.NextCursor)
}

func TestListInvoicesRejectsBadCursor(t *testing.T) {
	client := dbtest.New(t)
	svc, err := NewService(ServiceParams{Repo: NewRepository(client.DB())})
	require.NoError(t, err)

	_, err = svc.ListInvoices(context.Background(), uuid.New(), pagination.Params{Cursor: "not-base64!"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.ListInvoices(context.Background(), uuid.Nil, pagination.Params{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestPromoteAndDeactivateAreConditional(t *testing.T) {
	ctx := context.Background()
	client := dbtest.New(t)
	tenant := dbtest.MustCreateTenant(t, client.DB())
	plan := dbtest.MustCreatePlan(t, client.DB())
	repo := NewRepository(client.DB())

	shadow := &models.Subscription{
		TenantID:           tenant.ID,
		SubscriptionPlanID: plan.ID,
		Quantity:           1,
		Status:             enums.SubscriptionStatusPending,
	}
	require.NoError(t, repo.CreateSubscription(ctx, shadow))

	ok, err := repo.PromotePending(ctx, shadow.ID, "sub_1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.PromotePending(ctx, shadow.ID, "sub_1")
	require.NoError(t, err)
	assert.False(t, ok, "already promoted")

	active, err := repo.FindActiveSubscription(ctx, tenant.ID, plan.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "sub_1", *active.ExternalSubscriptionID)

	ok, err = repo.DeactivateSubscription(ctx, shadow.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.DeactivateSubscription(ctx, shadow.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	open, err := repo.FindLatestOpenSubscription(ctx, tenant.ID, plan.ID)
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestActivePlanUniqueness(t *testing.T) {
	ctx := context.Background()
	client := dbtest.New(t)
	tenant := dbtest.MustCreateTenant(t, client.DB())
	plan := dbtest.MustCreatePlan(t, client.DB())
	repo := NewRepository(client.DB())

	newActive := func() *models.Subscription {
		return &models.Subscription{
			TenantID:           tenant.ID,
			SubscriptionPlanID: plan.ID,
			Quantity:           1,
			IsActive:           true,
			Status:             enums.SubscriptionStatusActive,
		}
	}
	require.NoError(t, repo.CreateSubscription(ctx, newActive()))
	assert.Error(t, repo.CreateSubscription(ctx, newActive()))
}
