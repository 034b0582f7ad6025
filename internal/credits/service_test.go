package credits

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotilabs/housing-backend/internal/dbtest"
	"github.com/kotilabs/housing-backend/pkg/db"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
)

func newTestService(t *testing.T, strict bool) (Service, *db.Client, *models.Tenant) {
	t.Helper()
	client := dbtest.New(t)
	tenant := dbtest.MustCreateTenant(t, client.DB())
	svc, err := NewService(ServiceParams{
		Repo:            NewRepository(client.DB()),
		Tx:              client,
		StrictDeduction: strict,
	})
	require.NoError(t, err)
	return svc, client, tenant
}

func TestAddCreditWritesEntryAndBalance(t *testing.T) {
	ctx := context.Background()
	svc, _, tenant := newTestService(t, false)

	res, err := svc.AddCredit(ctx, AddInput{TenantID: tenant.ID, AmountCents: 5000, SourceInvoiceID: "in_1"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, int64(5000), res.BalanceCents)
	assert.Equal(t, "eur", res.Entry.Currency)

	balance, err := svc.GetBalance(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), balance.AmountCents)
}

func TestAddCreditIsIdempotentPerSourceInvoice(t *testing.T) {
	ctx := context.Background()
	svc, _, tenant := newTestService(t, false)

	first, err := svc.AddCredit(ctx, AddInput{TenantID: tenant.ID, AmountCents: 5000, SourceInvoiceID: "in_1"})
	require.NoError(t, err)
	require.True(t, first.Applied)

	second, err := svc.AddCredit(ctx, AddInput{TenantID: tenant.ID, AmountCents: 5000, SourceInvoiceID: "in_1"})
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	sum, err := svc.SumEntries(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), sum)
}

func TestAddCreditConcurrentRedeliveryAppliesOnce(t *testing.T) {
	ctx := context.Background()
	svc, _, tenant := newTestService(t, false)

	var wg sync.WaitGroup
	results := make([]AddResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.AddCredit(ctx, AddInput{TenantID: tenant.ID, AmountCents: 700, SourceInvoiceID: "in_race"})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, res := range results {
		if res.Applied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)

	balance, err := svc.GetBalance(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(700), balance.AmountCents)
}

func TestAddCreditRollsBackWhenTenantMissing(t *testing.T) {
	ctx := context.Background()
	svc, client, _ := newTestService(t, false)
	missing := uuid.New()

	_, err := svc.AddCredit(ctx, AddInput{TenantID: missing, AmountCents: 100, SourceInvoiceID: "in_orphan"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	var count int64
	require.NoError(t, client.DB().Model(&models.Credit{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAddCreditRejectsNonPositiveAmounts(t *testing.T) {
	svc, _, tenant := newTestService(t, false)
	_, err := svc.AddCredit(context.Background(), AddInput{TenantID: tenant.ID, AmountCents: 0})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

// Over-deduction is allowed in permissive mode. A negative balance is a
// defect the caller must surface.
func TestDeductCreditPermissiveAllowsNegativeBalance(t *testing.T) {
	ctx := context.Background()
	svc, _, tenant := newTestService(t, false)

	_, err := svc.AddCredit(ctx, AddInput{TenantID: tenant.ID, AmountCents: 1000, SourceInvoiceID: "in_1"})
	require.NoError(t, err)

	res, err := svc.DeductCredit(ctx, tenant.ID, 1500, "")
	require.NoError(t, err)
	assert.True(t, res.Overdrawn, "negative balance must be flagged")
	assert.Equal(t, int64(-500), res.BalanceCents)
	assert.Equal(t, int64(-1500), res.Entry.AmountCents)

	drift, err := svc.CheckDrift(ctx, tenant.ID)
	require.NoError(t, err)
	assert.False(t, drift.Drifted())
	assert.Equal(t, int64(-500), drift.EntriesCents)
}

func TestDeductCreditStrictRejectsOverdraw(t *testing.T) {
	ctx := context.Background()
	svc, client, tenant := newTestService(t, true)

	_, err := svc.AddCredit(ctx, AddInput{TenantID: tenant.ID, AmountCents: 1000, SourceInvoiceID: "in_1"})
	require.NoError(t, err)

	_, err = svc.DeductCredit(ctx, tenant.ID, 1500, "eur")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	res, err := svc.DeductCredit(ctx, tenant.ID, 1000, "eur")
	require.NoError(t, err)
	assert.False(t, res.Overdrawn)
	assert.Zero(t, res.BalanceCents)

	var entries int64
	require.NoError(t, client.DB().Model(&models.Credit{}).Where("tenant_id = ?", tenant.ID).Count(&entries).Error)
	assert.Equal(t, int64(2), entries)
}

func TestDeductCreditUnknownTenant(t *testing.T) {
	for _, strict := range []bool{false, true} {
		svc, _, _ := newTestService(t, strict)
		_, err := svc.DeductCredit(context.Background(), uuid.New(), 100, "eur")
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "strict=%v", strict)
	}
}

func TestCheckDriftDetectsOutOfBandBalanceChange(t *testing.T) {
	ctx := context.Background()
	svc, client, tenant := newTestService(t, false)

	_, err := svc.AddCredit(ctx, AddInput{TenantID: tenant.ID, AmountCents: 2500, SourceInvoiceID: "in_1"})
	require.NoError(t, err)
	require.NoError(t, client.DB().Model(&models.Tenant{}).Where("id = ?", tenant.ID).Update("credit_amount", 9999).Error)

	drift, err := svc.CheckDrift(ctx, tenant.ID)
	require.NoError(t, err)
	assert.True(t, drift.Drifted())
	assert.Equal(t, int64(9999-2500), drift.DeltaCents())
}
