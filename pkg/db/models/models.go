package models

// All lists every persisted model, in dependency order, for AutoMigrate in
// the embedded sqlite mode and in tests.
func All() []any {
	return []any{
		&Tenant{},
		&SubscriptionPlan{},
		&PaymentProductItem{},
		&Subscription{},
		&SubscriptionInvoice{},
		&Credit{},
		&InvoiceGroup{},
		&Invoice{},
		&InvoiceItem{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
