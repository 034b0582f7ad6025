package payments

import (
	"time"

	"github.com/google/uuid"

	"github.com/kotilabs/housing-backend/pkg/db/models"
)

type subscriptionResponse struct {
	ID                     uuid.UUID  `json:"id"`
	SubscriptionPlanID     uuid.UUID  `json:"subscription_plan_id"`
	ExternalSubscriptionID *string    `json:"external_subscription_id,omitempty"`
	Quantity               int64      `json:"quantity"`
	IsActive               bool       `json:"is_active"`
	Status                 string     `json:"status"`
	LatestInvoicePaid      bool       `json:"latest_invoice_paid"`
	LatestInvoiceURL       *string    `json:"latest_invoice_url,omitempty"`
	CancelRequestedAt      *time.Time `json:"cancel_requested_at,omitempty"`
	CreatedOn              time.Time  `json:"created_on"`
}

func newSubscriptionResponse(sub *models.Subscription) *subscriptionResponse {
	if sub == nil {
		return nil
	}
	return &subscriptionResponse{
		ID:                     sub.ID,
		SubscriptionPlanID:     sub.SubscriptionPlanID,
		ExternalSubscriptionID: sub.ExternalSubscriptionID,
		Quantity:               sub.Quantity,
		IsActive:               sub.IsActive,
		Status:                 string(sub.Status),
		LatestInvoicePaid:      sub.LatestInvoicePaid,
		LatestInvoiceURL:       sub.LatestInvoiceURL,
		CancelRequestedAt:      sub.CancelRequestedAt,
		CreatedOn:              sub.CreatedOn,
	}
}

// PlanResponse is the public view of a subscription plan.
type PlanResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Description     *string   `json:"description,omitempty"`
	UnitAmountCents int64     `json:"unit_amount_cents"`
	Currency        string    `json:"currency"`
	Interval        string    `json:"interval"`
	TaxPercent      string    `json:"tax_percent"`
}

func NewPlanResponse(p models.SubscriptionPlan) PlanResponse {
	return PlanResponse{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		UnitAmountCents: p.UnitAmountCents,
		Currency:        p.Currency,
		Interval:        string(p.Interval),
		TaxPercent:      p.TaxPercent.StringFixed(2),
	}
}

// ProductItemResponse is the public view of a one-off product item.
type ProductItemResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Description     *string   `json:"description,omitempty"`
	UnitAmountCents int64     `json:"unit_amount_cents"`
	Currency        string    `json:"currency"`
	TaxPercent      string    `json:"tax_percent"`
}

func NewProductItemResponse(p models.PaymentProductItem) ProductItemResponse {
	return ProductItemResponse{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		UnitAmountCents: p.UnitAmountCents,
		Currency:        p.Currency,
		TaxPercent:      p.TaxPercent.StringFixed(2),
	}
}

type subscriptionInvoiceResponse struct {
	ID                uuid.UUID `json:"id"`
	SubscriptionID    uuid.UUID `json:"subscription_id"`
	ExternalInvoiceID string    `json:"external_invoice_id"`
	AmountPaidCents   int64     `json:"amount_paid_cents"`
	Currency          string    `json:"currency"`
	HostedInvoiceURL  *string   `json:"hosted_invoice_url,omitempty"`
	PaidAt            time.Time `json:"paid_at"`
}

func newSubscriptionInvoiceResponse(inv models.SubscriptionInvoice) subscriptionInvoiceResponse {
	return subscriptionInvoiceResponse{
		ID:                inv.ID,
		SubscriptionID:    inv.SubscriptionID,
		ExternalInvoiceID: inv.ExternalInvoiceID,
		AmountPaidCents:   inv.AmountPaidCents,
		Currency:          inv.Currency,
		HostedInvoiceURL:  inv.HostedInvoiceURL,
		PaidAt:            inv.PaidAt,
	}
}
