package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/kotilabs/housing-backend/pkg/enums"
)

// InvoiceGroup is a batch of resident invoices. NumberOfInvoices counts the
// group's non-deleted invoices and is only changed by atomic increments.
type InvoiceGroup struct {
	ID               uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	TenantID         uuid.UUID  `gorm:"column:tenant_id;type:uuid;not null;index"`
	Name             string     `gorm:"column:name;not null"`
	CreatedOn        time.Time  `gorm:"column:created_on;autoCreateTime"`
	PaymentDueDate   *time.Time `gorm:"column:payment_due_date"`
	ExpectedCount    int        `gorm:"column:expected_count;not null;default:0"`
	NumberOfInvoices int        `gorm:"column:number_of_invoices;not null;default:0"`
	CreatedBy        *uuid.UUID `gorm:"column:created_by;type:uuid"`
}

func (g *InvoiceGroup) BeforeCreate(*gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

// Invoice is a single resident's invoice within a group.
type Invoice struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	TenantID          uuid.UUID           `gorm:"column:tenant_id;type:uuid;not null;index"`
	InvoiceGroupID    uuid.UUID           `gorm:"column:invoice_group_id;type:uuid;not null;index"`
	ReceiverName      string              `gorm:"column:receiver_name;not null"`
	ReceiverEmail     *string             `gorm:"column:receiver_email"`
	ReceiverApartment *string             `gorm:"column:receiver_apartment"`
	ReferenceNumber   string              `gorm:"column:reference_number;not null;index"`
	VirtualBarcode    string              `gorm:"column:virtual_barcode;not null"`
	SubtotalCents     int64               `gorm:"column:subtotal_cents;not null"`
	PaidCents         int64               `gorm:"column:paid_cents;not null;default:0"`
	Currency          string              `gorm:"column:currency;not null"`
	Status            enums.InvoiceStatus `gorm:"column:status;type:text;not null"`
	DueDate           *time.Time          `gorm:"column:due_date"`
	DocumentPath      *string             `gorm:"column:document_path"`
	IsDeleted         bool                `gorm:"column:is_deleted;not null;default:false"`
	DeletedAt         *time.Time          `gorm:"column:deleted_at"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`

	Items []InvoiceItem `gorm:"foreignKey:InvoiceID"`
}

func (i *Invoice) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// InvoiceItem is a line on an invoice.
type InvoiceItem struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	InvoiceID     uuid.UUID       `gorm:"column:invoice_id;type:uuid;not null;index"`
	Description   string          `gorm:"column:description;not null"`
	UnitCostCents int64           `gorm:"column:unit_cost_cents;not null"`
	Quantity      int64           `gorm:"column:quantity;not null"`
	TaxPercent    decimal.Decimal `gorm:"column:tax_percent;type:numeric(5,2);not null;default:0"`
}

func (i *InvoiceItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
