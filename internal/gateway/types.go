package gateway

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/kotilabs/housing-backend/pkg/enums"
)

// Metadata keys attached to every mutating gateway call so that webhooks
// arriving later can be routed back to local records.
const (
	MetaTenantID             = "tenant_id"
	MetaSubscriptionPlanID   = "subscription_plan_id"
	MetaPaymentProductItemID = "payment_product_item_id"
	MetaUserID               = "user_id"
	MetaQuantity             = "quantity"
)

// Gateway-side subscription statuses the engine reacts to.
const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusTrialing = "trialing"
)

// Collection methods.
const (
	CollectionSendInvoice         = "send_invoice"
	CollectionChargeAutomatically = "charge_automatically"
)

// SubscriptionMetadata builds the metadata for plan subscriptions.
func SubscriptionMetadata(tenantID, planID, userID uuid.UUID, quantity int64) map[string]string {
	return map[string]string{
		MetaTenantID:           tenantID.String(),
		MetaSubscriptionPlanID: planID.String(),
		MetaUserID:             userID.String(),
		MetaQuantity:           strconv.FormatInt(quantity, 10),
	}
}

// ProductItemMetadata builds the metadata for one-off purchases.
func ProductItemMetadata(tenantID, itemID, userID uuid.UUID, quantity int64) map[string]string {
	return map[string]string{
		MetaTenantID:             tenantID.String(),
		MetaPaymentProductItemID: itemID.String(),
		MetaUserID:               userID.String(),
		MetaQuantity:             strconv.FormatInt(quantity, 10),
	}
}

// ProductInput describes a product and its single price.
type ProductInput struct {
	Name            string
	Description     string
	UnitAmountCents int64
	Currency        string
	// Interval is only read for recurring products.
	Interval enums.BillingInterval
	Metadata map[string]string
}

// ProductRef identifies a created product and price.
type ProductRef struct {
	ProductID string
	PriceID   string
}

type CustomerInput struct {
	Name           string
	Email          string
	Metadata       map[string]string
	IdempotencyKey string
}

type PaymentLinkInput struct {
	PriceID        string
	Quantity       int64
	Metadata       map[string]string
	IdempotencyKey string
}

type SubscriptionInput struct {
	CustomerID     string
	PriceID        string
	Quantity       int64
	Metadata       map[string]string
	DaysUntilDue   int64
	IdempotencyKey string
}

// UpdateInput changes the price and/or quantity of a subscription. Empty
// fields keep the current value.
type UpdateInput struct {
	PriceID        string
	Quantity       int64
	IdempotencyKey string
	Metadata       map[string]string
}

// SubscriptionRef is the subset of a gateway subscription the engine reads.
type SubscriptionRef struct {
	ID               string
	Status           string
	CustomerID       string
	PriceID          string
	Quantity         int64
	CollectionMethod string
	LatestInvoiceID  string
	LatestInvoiceURL string
	Metadata         map[string]string
}

// InvoiceRef is the subset of a gateway invoice the engine reads.
type InvoiceRef struct {
	ID               string
	Status           string
	SubscriptionID   string
	HostedInvoiceURL string
	AmountPaidCents  int64
	LinesTotalCents  int64
	Currency         string
	CollectionMethod string
	Metadata         map[string]string
}

// CheckoutSessionRef is the subset of a checkout session the engine reads.
type CheckoutSessionRef struct {
	ID             string
	Status         string
	PaymentStatus  string
	SubscriptionID string
	CustomerID     string
	Metadata       map[string]string
}
