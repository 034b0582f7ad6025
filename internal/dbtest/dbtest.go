// Package dbtest opens migrated in-memory sqlite databases and seeds the
// rows most billing tests need.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kotilabs/housing-backend/pkg/config"
	"github.com/kotilabs/housing-backend/pkg/db"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	"github.com/kotilabs/housing-backend/pkg/enums"
)

// New returns a client over a fresh shared-cache in-memory database named
// after the test, with every model migrated.
func New(t testing.TB) *db.Client {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString()[:8])
	client, err := db.New(context.Background(), config.DBConfig{Driver: config.DBDriverSQLite, DSN: dsn}, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	if err := client.AutoMigrate(context.Background(), models.All()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return client
}

// MustCreateTenant inserts a tenant with a Finnish test IBAN.
func MustCreateTenant(t testing.TB, conn *gorm.DB) *models.Tenant {
	t.Helper()
	iban := "FI2112345600000785"
	tenant := &models.Tenant{
		Name:     "Test Housing Co",
		Currency: "eur",
		BankIBAN: &iban,
	}
	if err := conn.Create(tenant).Error; err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return tenant
}

// MustCreatePlan inserts an active monthly plan priced at 10.00.
func MustCreatePlan(t testing.TB, conn *gorm.DB) *models.SubscriptionPlan {
	t.Helper()
	plan := &models.SubscriptionPlan{
		Name:              "Board Portal",
		UnitAmountCents:   1000,
		Currency:          "eur",
		Interval:          enums.BillingIntervalMonth,
		ExternalProductID: "prod_" + uuid.NewString()[:8],
		ExternalPriceID:   "price_" + uuid.NewString()[:8],
		IsActive:          true,
	}
	if err := conn.Create(plan).Error; err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return plan
}

// MustCreateProductItem inserts an active one-off item priced at 50.00.
func MustCreateProductItem(t testing.TB, conn *gorm.DB) *models.PaymentProductItem {
	t.Helper()
	item := &models.PaymentProductItem{
		Name:              "SMS credits",
		UnitAmountCents:   5000,
		Currency:          "eur",
		ExternalProductID: "prod_" + uuid.NewString()[:8],
		ExternalPriceID:   "price_" + uuid.NewString()[:8],
		IsActive:          true,
	}
	if err := conn.Create(item).Error; err != nil {
		t.Fatalf("create product item: %v", err)
	}
	return item
}
