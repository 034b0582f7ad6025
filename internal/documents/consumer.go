package documents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kotilabs/housing-backend/pkg/db/models"
	"github.com/kotilabs/housing-backend/pkg/enums"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	"github.com/kotilabs/housing-backend/pkg/logger"
	"github.com/kotilabs/housing-backend/pkg/outbox"
	"github.com/kotilabs/housing-backend/pkg/outbox/payloads"
)

// IdempotencyScope namespaces processed invoice_created events in Redis.
const IdempotencyScope = "invoice-renderer"

const pdfContentType = "application/pdf"

type invoiceStore interface {
	Load(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error)
	AttachDocument(ctx context.Context, invoiceID uuid.UUID, path string) error
}

type bankAccounts interface {
	BankIBAN(ctx context.Context, tenantID uuid.UUID) (string, error)
}

type uploader interface {
	Upload(ctx context.Context, objectName, contentType string, data []byte) error
	InvoiceObjectName(tenantID, invoiceID string) string
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type ConsumerParams struct {
	Invoices     invoiceStore
	Tenants      bankAccounts
	Storage      uploader
	Renderer     Renderer
	Outbox       outbox.Emitter
	Tx           txRunner
	Guard        eventGuard
	Subscription *pubsub.Subscriber
	IssuerName   string
	Logger       *logger.Logger
}

// Consumer renders invoice documents for invoice_created events, stores
// them and announces the stored document with invoice_rendered.
type Consumer struct {
	invoices     invoiceStore
	tenants      bankAccounts
	storage      uploader
	renderer     Renderer
	outbox       outbox.Emitter
	tx           txRunner
	guard        eventGuard
	subscription *pubsub.Subscriber
	issuer       string
	logg         *logger.Logger
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	switch {
	case params.Invoices == nil:
		return nil, fmt.Errorf("invoice service required")
	case params.Tenants == nil:
		return nil, fmt.Errorf("tenant service required")
	case params.Storage == nil:
		return nil, fmt.Errorf("document storage required")
	case params.Outbox == nil || params.Tx == nil:
		return nil, fmt.Errorf("outbox emitter and transaction runner required")
	case params.Guard == nil:
		return nil, fmt.Errorf("idempotency manager required")
	}
	renderer := params.Renderer
	if renderer == nil {
		renderer = NewRenderer()
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Consumer{
		invoices:     params.Invoices,
		tenants:      params.Tenants,
		storage:      params.Storage,
		renderer:     renderer,
		outbox:       params.Outbox,
		tx:           params.Tx,
		guard:        params.Guard,
		subscription: params.Subscription,
		issuer:       strings.TrimSpace(params.IssuerName),
		logg:         logg,
	}, nil
}

// Run receives messages until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return fmt.Errorf("invoice subscription required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg.ID, msg.Attributes, msg.Data).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	nack bool
}

func (c *Consumer) process(ctx context.Context, messageID string, attrs map[string]string, data []byte) processResult {
	eventType := attrs["event_type"]
	ctx = c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})
	if eventType != string(enums.EventInvoiceCreated) {
		c.logg.Debug(ctx, "skipping event not handled by the renderer")
		return processResult{}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logg.Error(ctx, "failed to decode envelope", err)
		return processResult{}
	}
	var payload payloads.InvoiceCreatedEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil || payload.InvoiceID == uuid.Nil {
		c.logg.Error(ctx, "failed to parse invoice_created payload", err)
		return processResult{}
	}
	ctx = c.logg.WithFields(c.logg.WithEventID(ctx, envelope.EventID), map[string]any{
		"invoice_id": payload.InvoiceID.String(),
		"tenant_id":  payload.TenantID.String(),
	})

	already, err := c.guard.Claim(ctx, envelope.EventID)
	if err != nil {
		c.logg.Error(ctx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(ctx, "event already processed")
		return processResult{}
	}

	if err := c.Handle(ctx, payload); err != nil {
		if pkgerrors.IsRetryable(err) || pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
			c.logg.Error(ctx, "invoice document handling failed; will retry", err)
			if relErr := c.guard.Release(ctx, envelope.EventID); relErr != nil {
				c.logg.Error(ctx, "release event claim", relErr)
			}
			return processResult{nack: true}
		}
		c.logg.Error(ctx, "invoice document not produced", err)
	}
	return processResult{}
}

// Handle renders and stores the document for one invoice. Render and
// upload failures are returned uncoded so the message is acked and the
// invoice stays as committed.
func (c *Consumer) Handle(ctx context.Context, payload payloads.InvoiceCreatedEvent) error {
	invoice, err := c.invoices.Load(ctx, payload.InvoiceID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return fmt.Errorf("invoice %s vanished before rendering", payload.InvoiceID)
		}
		return err
	}
	if invoice.IsDeleted {
		c.logg.Info(ctx, "invoice deleted before rendering; skipped")
		return nil
	}
	iban, err := c.tenants.BankIBAN(ctx, invoice.TenantID)
	if err != nil {
		return err
	}

	pdf, err := c.renderer.Render(Document{Invoice: *invoice, IssuerName: c.issuer, IBAN: iban})
	if err != nil {
		return fmt.Errorf("render invoice: %w", err)
	}
	object := c.storage.InvoiceObjectName(invoice.TenantID.String(), invoice.ID.String())
	if err := c.storage.Upload(ctx, object, pdfContentType, pdf); err != nil {
		return fmt.Errorf("upload invoice document: %w", err)
	}
	if err := c.invoices.AttachDocument(ctx, invoice.ID, object); err != nil {
		return err
	}
	c.logg.Info(c.logg.WithField(ctx, "document_path", object), "invoice document stored")

	if invoice.ReceiverEmail == nil || strings.TrimSpace(*invoice.ReceiverEmail) == "" {
		return nil
	}
	tenantID := invoice.TenantID
	err = c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return c.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInvoiceRendered,
			AggregateType: enums.AggregateNotification,
			AggregateID:   invoice.ID,
			Data: payloads.InvoiceRenderedEvent{
				InvoiceID:       invoice.ID,
				TenantID:        tenantID,
				ReceiverName:    invoice.ReceiverName,
				ReceiverEmail:   strings.TrimSpace(*invoice.ReceiverEmail),
				ReferenceNumber: invoice.ReferenceNumber,
				DocumentPath:    object,
				SubtotalCents:   invoice.SubtotalCents,
				Currency:        invoice.Currency,
				DueDate:         invoice.DueDate,
			},
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue invoice_rendered event")
	}
	return nil
}
