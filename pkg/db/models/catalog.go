package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/kotilabs/housing-backend/pkg/enums"
)

// PaymentProductItem is a one-off purchasable item that converts into credit.
type PaymentProductItem struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name              string          `gorm:"column:name;not null"`
	Description       *string         `gorm:"column:description"`
	UnitAmountCents   int64           `gorm:"column:unit_amount_cents;not null"`
	Currency          string          `gorm:"column:currency;not null"`
	TaxPercent        decimal.Decimal `gorm:"column:tax_percent;type:numeric(5,2);not null;default:0"`
	ExternalProductID string          `gorm:"column:external_product_id;not null"`
	ExternalPriceID   string          `gorm:"column:external_price_id;not null"`
	IsActive          bool            `gorm:"column:is_active;not null;default:true"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (p *PaymentProductItem) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// SubscriptionPlan is a recurring plan sold to tenants.
type SubscriptionPlan struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	Name              string                `gorm:"column:name;not null"`
	Description       *string               `gorm:"column:description"`
	UnitAmountCents   int64                 `gorm:"column:unit_amount_cents;not null"`
	Currency          string                `gorm:"column:currency;not null"`
	Interval          enums.BillingInterval `gorm:"column:interval;type:text;not null"`
	TaxPercent        decimal.Decimal       `gorm:"column:tax_percent;type:numeric(5,2);not null;default:0"`
	ExternalProductID string                `gorm:"column:external_product_id;not null"`
	ExternalPriceID   string                `gorm:"column:external_price_id;not null;index"`
	IsActive          bool                  `gorm:"column:is_active;not null;default:true"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (p *SubscriptionPlan) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
