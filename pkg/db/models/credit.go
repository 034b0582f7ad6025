package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Credit is an append-only ledger entry. Positive amounts are additions from
// a paid one-off invoice; deductions are negative with no source invoice.
type Credit struct {
	ID                  uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	TenantID            uuid.UUID  `gorm:"column:tenant_id;type:uuid;not null;index"`
	AmountCents         int64      `gorm:"column:amount_cents;not null"`
	Currency            string     `gorm:"column:currency;not null"`
	AddedOn             time.Time  `gorm:"column:added_on;not null"`
	SourceInvoiceID     *string    `gorm:"column:source_invoice_id;uniqueIndex:ux_credits_source_invoice"`
	SourceProductItemID *uuid.UUID `gorm:"column:source_product_item_id;type:uuid"`
	CreatedBy           *uuid.UUID `gorm:"column:created_by;type:uuid"`
}

func (c *Credit) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.AddedOn.IsZero() {
		c.AddedOn = time.Now().UTC()
	}
	return nil
}
