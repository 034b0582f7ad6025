package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tenant is a housing company. CreditAmount is the running credit balance in
// minor units and always equals the sum of the tenant's credit entries.
type Tenant struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name              string    `gorm:"column:name;not null"`
	CreditAmount      int64     `gorm:"column:credit_amount;not null;default:0"`
	Currency          string    `gorm:"column:currency;not null;default:'eur'"`
	BankIBAN          *string   `gorm:"column:bank_iban"`
	BankBIC           *string   `gorm:"column:bank_bic"`
	GatewayCustomerID *string   `gorm:"column:gateway_customer_id"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *Tenant) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
