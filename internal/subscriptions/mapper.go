package subscriptions

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kotilabs/housing-backend/internal/gateway"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	"github.com/kotilabs/housing-backend/pkg/enums"
)

// SubscriptionDTO is the API view of a local subscription.
type SubscriptionDTO struct {
	ID                     uuid.UUID                `json:"id"`
	TenantID               uuid.UUID                `json:"tenant_id"`
	SubscriptionPlanID     uuid.UUID                `json:"subscription_plan_id"`
	ExternalSubscriptionID *string                  `json:"external_subscription_id,omitempty"`
	Quantity               int64                    `json:"quantity"`
	IsActive               bool                     `json:"is_active"`
	Status                 enums.SubscriptionStatus `json:"status"`
	LatestInvoicePaid      bool                     `json:"latest_invoice_paid"`
	LatestInvoiceURL       *string                  `json:"latest_invoice_url,omitempty"`
	CancelRequestedAt      *time.Time               `json:"cancel_requested_at,omitempty"`
	CreatedOn              time.Time                `json:"created_on"`
}

func ToDTO(sub *models.Subscription) *SubscriptionDTO {
	if sub == nil {
		return nil
	}
	return &SubscriptionDTO{
		ID:                     sub.ID,
		TenantID:               sub.TenantID,
		SubscriptionPlanID:     sub.SubscriptionPlanID,
		ExternalSubscriptionID: sub.ExternalSubscriptionID,
		Quantity:               sub.Quantity,
		IsActive:               sub.IsActive,
		Status:                 sub.Status,
		LatestInvoicePaid:      sub.LatestInvoicePaid,
		LatestInvoiceURL:       sub.LatestInvoiceURL,
		CancelRequestedAt:      sub.CancelRequestedAt,
		CreatedOn:              sub.CreatedOn,
	}
}

func ToDTOs(subs []models.Subscription) []SubscriptionDTO {
	out := make([]SubscriptionDTO, 0, len(subs))
	for i := range subs {
		out = append(out, *ToDTO(&subs[i]))
	}
	return out
}

// gatewayState collapses gateway subscription statuses into the three local
// outcomes the engine acts on.
type gatewayState int

const (
	gatewayLive gatewayState = iota
	gatewayEnded
	gatewayUnsettled
)

func mapGatewayStatus(status string) gatewayState {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case gateway.SubscriptionStatusActive, gateway.SubscriptionStatusTrialing, "past_due":
		return gatewayLive
	case gateway.SubscriptionStatusCanceled, "incomplete_expired", "unpaid":
		return gatewayEnded
	default:
		return gatewayUnsettled
	}
}

func externalID(sub *models.Subscription) string {
	if sub == nil || sub.ExternalSubscriptionID == nil {
		return ""
	}
	return *sub.ExternalSubscriptionID
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func quantityOrOne(q int64) int64 {
	if q <= 0 {
		return 1
	}
	return q
}
