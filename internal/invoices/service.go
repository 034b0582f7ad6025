package invoices

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/kotilabs/housing-backend/pkg/auth"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	"github.com/kotilabs/housing-backend/pkg/enums"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	"github.com/kotilabs/housing-backend/pkg/logger"
	"github.com/kotilabs/housing-backend/pkg/money"
	"github.com/kotilabs/housing-backend/pkg/outbox"
	"github.com/kotilabs/housing-backend/pkg/outbox/payloads"
)

const defaultFanOutLimit = 8

// Service generates and maintains resident invoice batches.
type Service interface {
	CreateBatch(ctx context.Context, input BatchInput) (*BatchResult, error)
	Delete(ctx context.Context, actor auth.Actor, invoiceID uuid.UUID) error
	Get(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error)
	GetGroup(ctx context.Context, tenantID, groupID uuid.UUID) (*GroupView, error)
	ListByGroup(ctx context.Context, tenantID, groupID uuid.UUID) ([]models.Invoice, error)
	MarkPaid(ctx context.Context, actor auth.Actor, invoiceID uuid.UUID, amountCents int64) (*models.Invoice, error)
	AttachDocument(ctx context.Context, invoiceID uuid.UUID, path string) error
	Load(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type bankAccounts interface {
	BankIBAN(ctx context.Context, tenantID uuid.UUID) (string, error)
}

// Receiver is one resident billed by a batch.
type Receiver struct {
	Name      string  `json:"name" validate:"required"`
	Email     *string `json:"email,omitempty" validate:"omitempty,email"`
	Apartment *string `json:"apartment,omitempty"`
}

// Item is a priced line shared by every invoice in a batch.
type Item struct {
	Description   string          `json:"description" validate:"required"`
	UnitCostCents int64           `json:"unit_cost_cents" validate:"gte=0"`
	Quantity      int64           `json:"quantity" validate:"gt=0"`
	TaxPercent    decimal.Decimal `json:"tax_percent"`
}

type BatchInput struct {
	Actor     auth.Actor
	Name      string
	DueDate   *time.Time
	Currency  string
	Receivers []Receiver
	Items     []Item
}

// ReceiverFailure names a receiver whose invoice was not created.
type ReceiverFailure struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// BatchResult lists the invoices committed by a batch. Failures is set when
// some receivers failed; their siblings stay committed.
type BatchResult struct {
	Group    models.InvoiceGroup
	Invoices []models.Invoice
	Failures []ReceiverFailure
}

type GroupView struct {
	Group    models.InvoiceGroup
	Invoices []models.Invoice
}

type ServiceParams struct {
	Repo        Repository
	Tx          txRunner
	Tenants     bankAccounts
	Outbox      outbox.Emitter
	Logger      *logger.Logger
	FanOutLimit int
	Currency    string
}

type service struct {
	repo     Repository
	tx       txRunner
	tenants  bankAccounts
	outbox   outbox.Emitter
	logg     *logger.Logger
	limit    int
	currency string
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Tenants == nil {
		return nil, fmt.Errorf("tenant service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	limit := params.FanOutLimit
	if limit <= 0 {
		limit = defaultFanOutLimit
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		tenants:  params.Tenants,
		outbox:   params.Outbox,
		logg:     logg,
		limit:    limit,
		currency: money.NormalizeCurrency(params.Currency, "eur"),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Subtotal sums unit cost times quantity over items, in minor units.
func Subtotal(items []Item) int64 {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(decimal.NewFromInt(item.UnitCostCents).Mul(decimal.NewFromInt(item.Quantity)))
	}
	return total.IntPart()
}

func validateBatch(input BatchInput) error {
	if !input.Actor.IsManager() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "manager role required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "batch name is required")
	}
	if len(input.Receivers) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one receiver is required")
	}
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	for i, r := range input.Receivers {
		if strings.TrimSpace(r.Name) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "receiver name is required").
				WithDetails(map[string]any{"receiver": i})
		}
	}
	for i, item := range input.Items {
		if strings.TrimSpace(item.Description) == "" || item.Quantity <= 0 || item.UnitCostCents < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "item needs a description, positive quantity and non-negative cost").
				WithDetails(map[string]any{"item": i})
		}
		if item.TaxPercent.IsNegative() || item.TaxPercent.GreaterThan(decimal.NewFromInt(100)) {
			return pkgerrors.New(pkgerrors.CodeValidation, "tax percent must be between 0 and 100").
				WithDetails(map[string]any{"item": i})
		}
	}
	return nil
}

// CreateBatch creates the group, then one invoice per receiver
// concurrently. Each receiver commits on its own with the group counter
// increment and its invoice_created event.
func (s *service) CreateBatch(ctx context.Context, input BatchInput) (*BatchResult, error) {
	if err := validateBatch(input); err != nil {
		return nil, err
	}
	tenantID := input.Actor.TenantID
	ctx = s.logg.WithTenantID(ctx, tenantID.String())

	iban, err := s.tenants.BankIBAN(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	subtotal := Subtotal(input.Items)
	currency := money.NormalizeCurrency(input.Currency, s.currency)
	createdBy := input.Actor.UserID

	group := &models.InvoiceGroup{
		TenantID:       tenantID,
		Name:           strings.TrimSpace(input.Name),
		PaymentDueDate: input.DueDate,
		ExpectedCount:  len(input.Receivers),
		CreatedBy:      &createdBy,
	}
	if err := s.repo.CreateGroup(ctx, group); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create invoice group")
	}
	ctx = s.logg.WithField(ctx, "invoice_group_id", group.ID.String())

	created := make([]*models.Invoice, len(input.Receivers))
	var (
		mu   sync.Mutex
		errs error
	)
	var g errgroup.Group
	g.SetLimit(s.limit)
	for i, receiver := range input.Receivers {
		g.Go(func() error {
			inv, err := s.createForReceiver(ctx, group, receiver, input, iban, subtotal, currency)
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("receiver %d (%s): %w", i, receiver.Name, err))
				mu.Unlock()
				return nil
			}
			created[i] = inv
			return nil
		})
	}
	_ = g.Wait()

	result := &BatchResult{}
	for i, inv := range created {
		if inv == nil {
			result.Failures = append(result.Failures, ReceiverFailure{
				Index: i,
				Name:  input.Receivers[i].Name,
				Error: failureFor(errs, i),
			})
			continue
		}
		result.Invoices = append(result.Invoices, *inv)
	}

	stored, err := s.repo.FindGroup(ctx, tenantID, group.ID)
	if err != nil || stored == nil {
		stored = group
		stored.NumberOfInvoices = len(result.Invoices)
	}
	result.Group = *stored

	if errs != nil {
		s.logg.Error(s.logg.WithField(ctx, "failed_receivers", len(result.Failures)), "invoice batch partially failed", errs)
		if len(result.Invoices) == 0 {
			return result, pkgerrors.Wrap(pkgerrors.CodeDependency, errs, "no invoices created")
		}
		return result, nil
	}
	s.logg.Info(s.logg.WithField(ctx, "invoices", len(result.Invoices)), "invoice batch created")
	return result, nil
}

func failureFor(errs error, index int) string {
	prefix := fmt.Sprintf("receiver %d ", index)
	for _, err := range multierr.Errors(errs) {
		if strings.HasPrefix(err.Error(), prefix) {
			return err.Error()
		}
	}
	return "invoice not created"
}

func (s *service) createForReceiver(
	ctx context.Context,
	group *models.InvoiceGroup,
	receiver Receiver,
	input BatchInput,
	iban string,
	subtotal int64,
	currency string,
) (*models.Invoice, error) {
	id := uuid.New()
	reference := ReferenceNumber(id)
	barcode, err := VirtualBarcode(iban, subtotal, reference, input.DueDate)
	if err != nil {
		return nil, err
	}

	items := make([]models.InvoiceItem, 0, len(input.Items))
	for _, item := range input.Items {
		items = append(items, models.InvoiceItem{
			Description:   strings.TrimSpace(item.Description),
			UnitCostCents: item.UnitCostCents,
			Quantity:      item.Quantity,
			TaxPercent:    item.TaxPercent,
		})
	}
	invoice := &models.Invoice{
		ID:                id,
		TenantID:          group.TenantID,
		InvoiceGroupID:    group.ID,
		ReceiverName:      strings.TrimSpace(receiver.Name),
		ReceiverEmail:     trimmed(receiver.Email),
		ReceiverApartment: trimmed(receiver.Apartment),
		ReferenceNumber:   reference,
		VirtualBarcode:    barcode,
		SubtotalCents:     subtotal,
		Currency:          currency,
		Status:            enums.InvoiceStatusPending,
		DueDate:           input.DueDate,
		Items:             items,
	}

	tenantID := group.TenantID
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateInvoice(ctx, invoice); err != nil {
			return err
		}
		if err := repo.AdjustGroupCount(ctx, group.ID, 1); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInvoiceCreated,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   invoice.ID,
			Actor: &outbox.ActorRef{
				UserID:   input.Actor.UserID,
				TenantID: &tenantID,
				Role:     string(input.Actor.Role),
			},
			Data: payloads.InvoiceCreatedEvent{
				InvoiceID:      invoice.ID,
				InvoiceGroupID: group.ID,
				TenantID:       tenantID,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create invoice")
	}
	return invoice, nil
}

// Delete soft deletes an invoice and decrements its group counter in the
// same transaction. Repeated deletes are no-ops.
func (s *service) Delete(ctx context.Context, actor auth.Actor, invoiceID uuid.UUID) error {
	if !actor.IsManager() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "manager role required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"tenant_id":  actor.TenantID.String(),
		"invoice_id": invoiceID.String(),
	})
	var (
		deleted bool
		missing bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		invoice, err := repo.FindInvoiceByID(ctx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil || invoice.TenantID != actor.TenantID {
			missing = true
			return nil
		}
		ok, err := repo.SoftDelete(ctx, invoiceID, s.now())
		if err != nil || !ok {
			return err
		}
		deleted = true
		return repo.AdjustGroupCount(ctx, invoice.InvoiceGroupID, -1)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete invoice")
	}
	if missing {
		return pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	if deleted {
		s.logg.Info(ctx, "invoice deleted")
	}
	return nil
}

func (s *service) Get(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.FindInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}

// Load reads an invoice by id for internal consumers.
func (s *service) Load(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.FindInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}

func (s *service) GetGroup(ctx context.Context, tenantID, groupID uuid.UUID) (*GroupView, error) {
	group, err := s.repo.FindGroup(ctx, tenantID, groupID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice group")
	}
	if group == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice group not found")
	}
	invoices, err := s.ListByGroup(ctx, tenantID, groupID)
	if err != nil {
		return nil, err
	}
	return &GroupView{Group: *group, Invoices: invoices}, nil
}

func (s *service) ListByGroup(ctx context.Context, tenantID, groupID uuid.UUID) ([]models.Invoice, error) {
	invoices, err := s.repo.ListByGroup(ctx, tenantID, groupID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list invoices")
	}
	return invoices, nil
}

// MarkPaid records a payment against an invoice and settles it once the
// subtotal is covered.
func (s *service) MarkPaid(ctx context.Context, actor auth.Actor, invoiceID uuid.UUID, amountCents int64) (*models.Invoice, error) {
	if !actor.IsManager() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "manager role required")
	}
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	var updated *models.Invoice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		invoice, err := repo.FindInvoice(ctx, actor.TenantID, invoiceID)
		if err != nil || invoice == nil {
			return err
		}
		if _, err := repo.AddPayment(ctx, invoiceID, amountCents); err != nil {
			return err
		}
		if err := repo.SettleIfCovered(ctx, invoiceID); err != nil {
			return err
		}
		updated, err = repo.FindInvoice(ctx, actor.TenantID, invoiceID)
		return err
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record invoice payment")
	}
	if updated == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return updated, nil
}

func (s *service) AttachDocument(ctx context.Context, invoiceID uuid.UUID, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "document path is required")
	}
	ok, err := s.repo.SetDocumentPath(ctx, invoiceID, path)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach invoice document")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return nil
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}
