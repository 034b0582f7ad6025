package payloads

import (
	"time"

	"github.com/google/uuid"
)

// InvoiceCreatedEvent is emitted once per invoice committed by a batch run.
type InvoiceCreatedEvent struct {
	InvoiceID      uuid.UUID `json:"invoice_id"`
	InvoiceGroupID uuid.UUID `json:"invoice_group_id"`
	TenantID       uuid.UUID `json:"tenant_id"`
}

// InvoiceRenderedEvent triggers the resident notification once the invoice
// document is stored.
type InvoiceRenderedEvent struct {
	InvoiceID       uuid.UUID  `json:"invoice_id"`
	TenantID        uuid.UUID  `json:"tenant_id"`
	ReceiverName    string     `json:"receiver_name"`
	ReceiverEmail   string     `json:"receiver_email"`
	ReferenceNumber string     `json:"reference_number"`
	DocumentPath    string     `json:"document_path"`
	SubtotalCents   int64      `json:"subtotal_cents"`
	Currency        string     `json:"currency"`
	DueDate         *time.Time `json:"due_date,omitempty"`
}
