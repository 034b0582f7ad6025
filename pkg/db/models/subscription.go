package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kotilabs/housing-backend/pkg/enums"
)

// Subscription mirrors a tenant's gateway subscription to a plan. Rows are
// never hard deleted; at most one row per (tenant, plan) is active and at
// most one is a pending shadow.
type Subscription struct {
	ID                     uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	TenantID               uuid.UUID                `gorm:"column:tenant_id;type:uuid;not null;index:ux_subscriptions_active_plan,unique,where:is_active = true;index:ux_subscriptions_pending_plan,unique,where:status = 'pending'"`
	SubscriptionPlanID     uuid.UUID                `gorm:"column:subscription_plan_id;type:uuid;not null;index:ux_subscriptions_active_plan,unique,where:is_active = true;index:ux_subscriptions_pending_plan,unique,where:status = 'pending'"`
	ExternalSubscriptionID *string                  `gorm:"column:external_subscription_id;uniqueIndex:ux_subscriptions_external_id"`
	Quantity               int64                    `gorm:"column:quantity;not null;default:1"`
	IsActive               bool                     `gorm:"column:is_active;not null;default:false"`
	Status                 enums.SubscriptionStatus `gorm:"column:status;type:text;not null"`
	CreatedBy              *uuid.UUID               `gorm:"column:created_by;type:uuid"`
	CreatedOn              time.Time                `gorm:"column:created_on;autoCreateTime"`
	LatestInvoicePaid      bool                     `gorm:"column:latest_invoice_paid;not null;default:false"`
	LatestInvoiceURL       *string                  `gorm:"column:latest_invoice_url"`
	CancelRequestedAt      *time.Time               `gorm:"column:cancel_requested_at"`
	UpdatedAt              time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// SubscriptionInvoice is an append-only record of a paid gateway invoice.
type SubscriptionInvoice struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	SubscriptionID    uuid.UUID `gorm:"column:subscription_id;type:uuid;not null;index"`
	TenantID          uuid.UUID `gorm:"column:tenant_id;type:uuid;not null;index"`
	ExternalInvoiceID string    `gorm:"column:external_invoice_id;not null;uniqueIndex:ux_subscription_invoices_external_id"`
	AmountPaidCents   int64     `gorm:"column:amount_paid_cents;not null"`
	Currency          string    `gorm:"column:currency;not null"`
	HostedInvoiceURL  *string   `gorm:"column:hosted_invoice_url"`
	PaidAt            time.Time `gorm:"column:paid_at;not null"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (s *SubscriptionInvoice) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
