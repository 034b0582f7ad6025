package invoices

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kotilabs/housing-backend/internal/repo"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	"github.com/kotilabs/housing-backend/pkg/enums"
)

// Repository persists invoice groups, invoices and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateGroup(ctx context.Context, group *models.InvoiceGroup) error
	FindGroup(ctx context.Context, tenantID, groupID uuid.UUID) (*models.InvoiceGroup, error)
	AdjustGroupCount(ctx context.Context, groupID uuid.UUID, delta int) error
	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	FindInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error)
	FindInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error)
	ListByGroup(ctx context.Context, tenantID, groupID uuid.UUID) ([]models.Invoice, error)
	SoftDelete(ctx context.Context, invoiceID uuid.UUID, at time.Time) (bool, error)
	AddPayment(ctx context.Context, invoiceID uuid.UUID, amountCents int64) (bool, error)
	SettleIfCovered(ctx context.Context, invoiceID uuid.UUID) error
	SetDocumentPath(ctx context.Context, invoiceID uuid.UUID, path string) (bool, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Base.WithTx(tx)}
}

func (r *repository) CreateGroup(ctx context.Context, group *models.InvoiceGroup) error {
	return r.DB(ctx).Create(group).Error
}

func (r *repository) FindGroup(ctx context.Context, tenantID, groupID uuid.UUID) (*models.InvoiceGroup, error) {
	var group models.InvoiceGroup
	found, err := r.FirstOrNil(ctx, &group, "id = ? AND tenant_id = ?", groupID, tenantID)
	if err != nil || !found {
		return nil, err
	}
	return &group, nil
}

// AdjustGroupCount moves the live invoice counter by delta in place.
func (r *repository) AdjustGroupCount(ctx context.Context, groupID uuid.UUID, delta int) error {
	res := r.DB(ctx).Model(&models.InvoiceGroup{}).
		Where("id = ?", groupID).
		Update("number_of_invoices", gorm.Expr("number_of_invoices + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateInvoice inserts the invoice and its items.
func (r *repository) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	return r.DB(ctx).Create(invoice).Error
}

func (r *repository) FindInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.DB(ctx).Preload("Items").
		Where("id = ? AND tenant_id = ? AND is_deleted = ?", invoiceID, tenantID, false).
		Take(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

// FindInvoiceByID loads an invoice regardless of tenant or deletion.
func (r *repository) FindInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.DB(ctx).Preload("Items").Where("id = ?", invoiceID).Take(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) ListByGroup(ctx context.Context, tenantID, groupID uuid.UUID) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.DB(ctx).Preload("Items").
		Where("invoice_group_id = ? AND tenant_id = ? AND is_deleted = ?", groupID, tenantID, false).
		Order("receiver_name ASC, id ASC").
		Find(&invoices).Error
	return invoices, err
}

// SoftDelete marks a live invoice deleted. It reports false when the
// invoice was already deleted, so callers decrement at most once.
func (r *repository) SoftDelete(ctx context.Context, invoiceID uuid.UUID, at time.Time) (bool, error) {
	res := r.DB(ctx).Model(&models.Invoice{}).
		Where("id = ? AND is_deleted = ?", invoiceID, false).
		Updates(map[string]any{"is_deleted": true, "deleted_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) AddPayment(ctx context.Context, invoiceID uuid.UUID, amountCents int64) (bool, error) {
	res := r.DB(ctx).Model(&models.Invoice{}).
		Where("id = ? AND is_deleted = ?", invoiceID, false).
		Update("paid_cents", gorm.Expr("paid_cents + ?", amountCents))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SettleIfCovered flips a pending invoice to paid once payments cover it.
func (r *repository) SettleIfCovered(ctx context.Context, invoiceID uuid.UUID) error {
	return r.DB(ctx).Model(&models.Invoice{}).
		Where("id = ? AND status = ? AND paid_cents >= subtotal_cents", invoiceID, enums.InvoiceStatusPending).
		Update("status", enums.InvoiceStatusPaid).Error
}

func (r *repository) SetDocumentPath(ctx context.Context, invoiceID uuid.UUID, path string) (bool, error) {
	res := r.DB(ctx).Model(&models.Invoice{}).
		Where("id = ?", invoiceID).
		Update("document_path", path)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
