package enums

import "testing"

func TestParseSubscriptionStatus(t *testing.T) {
	for _, raw := range []string{"pending", "active", "inactive"} {
		status, err := ParseSubscriptionStatus(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if status.String() != raw {
			t.Fatalf("expected %q got %q", raw, status)
		}
	}
	if _, err := ParseSubscriptionStatus("canceled"); err == nil {
		t.Fatal("expected gateway-only status to be rejected")
	}
}

func TestTenantRoleValidation(t *testing.T) {
	if !TenantRoleManager.IsValid() {
		t.Fatal("manager must be valid")
	}
	if TenantRole("owner").IsValid() {
		t.Fatal("owner is not a tenant role")
	}
	if _, err := ParseTenantRole(""); err == nil {
		t.Fatal("expected error for empty role")
	}
}

func TestOutboxTypes(t *testing.T) {
	if _, err := ParseOutboxEventType("invoice_created"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if OutboxEventType("order_created").IsValid() {
		t.Fatal("unexpected valid event type")
	}
	if !AggregateInvoice.IsValid() {
		t.Fatal("invoice aggregate must be valid")
	}
	if !OutboxDLQReasonMaxAttempts.IsValid() || OutboxDLQErrorReason("x").IsValid() {
		t.Fatal("unexpected dlq reason validation")
	}
}
