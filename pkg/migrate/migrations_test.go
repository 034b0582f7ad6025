package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kotilabs/housing-backend/pkg/migrate"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := migrate.ValidateEmbedded(); err != nil {
		t.Fatalf("validate embedded: %v", err)
	}
}

func TestLedgerMigrationsCarryInvariants(t *testing.T) {
	cases := map[string][]string{
		"*_create_subscriptions.sql": {
			"CREATE UNIQUE INDEX IF NOT EXISTS ux_subscriptions_active_plan",
			"WHERE is_active = true",
			"ux_subscriptions_pending_plan",
			"CHECK (status IN ('pending', 'active', 'inactive'))",
			"ux_subscription_invoices_external_id",
			"DROP TABLE IF EXISTS subscriptions",
		},
		"*_create_credits.sql": {
			"CREATE UNIQUE INDEX IF NOT EXISTS ux_credits_source_invoice",
			"WHERE source_invoice_id IS NOT NULL",
			"DROP TABLE IF EXISTS credits",
		},
		"*_create_invoices.sql": {
			"CHECK (number_of_invoices >= 0)",
			"CHECK (char_length(virtual_barcode) = 54)",
			"is_deleted boolean NOT NULL DEFAULT false",
			"DROP TABLE IF EXISTS invoice_groups",
		},
	}

	for pattern, checks := range cases {
		matches, err := filepath.Glob(filepath.Join("migrations", pattern))
		if err != nil {
			t.Fatalf("glob migrations: %v", err)
		}
		if len(matches) != 1 {
			t.Fatalf("expected one migration for %s, found %d", pattern, len(matches))
		}
		data, err := os.ReadFile(matches[0])
		if err != nil {
			t.Fatalf("read migration file: %v", err)
		}
		content := string(data)
		for _, sub := range checks {
			if !strings.Contains(content, sub) {
				t.Errorf("%s: missing expected statement %q", matches[0], sub)
			}
		}
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Invoice Notes!")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasSuffix(path, "_add_invoice_notes.sql") {
		t.Fatalf("unexpected file name %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
	if _, err := migrate.CreateSQLMigration(dir, "!!!"); err == nil {
		t.Fatal("expected error for unusable name")
	}
}

func TestValidateDirRejectsUnbalancedStatements(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n"
	if err := os.WriteFile(filepath.Join(dir, "20260301090000_broken.sql"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected unbalanced statement error")
	}
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_bad.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected invalid filename error")
	}
}
