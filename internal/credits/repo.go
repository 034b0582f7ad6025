package credits

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kotilabs/housing-backend/internal/repo"
	"github.com/kotilabs/housing-backend/pkg/db/models"
)

// Repository persists credit entries and the tenant running balance.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertEntry(ctx context.Context, entry *models.Credit) error
	FindBySourceInvoice(ctx context.Context, sourceInvoiceID string) (*models.Credit, error)
	AdjustBalance(ctx context.Context, tenantID uuid.UUID, delta int64) (bool, error)
	DeductIfSufficient(ctx context.Context, tenantID uuid.UUID, amount int64) (bool, error)
	Balance(ctx context.Context, tenantID uuid.UUID) (int64, bool, error)
	SumEntries(ctx context.Context, tenantID uuid.UUID) (int64, error)
	ListEntries(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.Credit, error)
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

func (r *repository) InsertEntry(ctx context.Context, entry *models.Credit) error {
	return r.DB(ctx).Create(entry).Error
}

func (r *repository) FindBySourceInvoice(ctx context.Context, sourceInvoiceID string) (*models.Credit, error) {
	var entry models.Credit
	found, err := r.FirstOrNil(ctx, &entry, "source_invoice_id = ?", sourceInvoiceID)
	if err != nil || !found {
		return nil, err
	}
	return &entry, nil
}

// AdjustBalance applies delta atomically and reports whether the tenant row
// exists.
func (r *repository) AdjustBalance(ctx context.Context, tenantID uuid.UUID, delta int64) (bool, error) {
	res := r.DB(ctx).Model(&models.Tenant{}).
		Where("id = ?", tenantID).
		Update("credit_amount", gorm.Expr("credit_amount + ?", delta))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeductIfSufficient decrements only when the balance covers amount.
func (r *repository) DeductIfSufficient(ctx context.Context, tenantID uuid.UUID, amount int64) (bool, error) {
	res := r.DB(ctx).Model(&models.Tenant{}).
		Where("id = ? AND credit_amount >= ?", tenantID, amount).
		Update("credit_amount", gorm.Expr("credit_amount - ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Balance(ctx context.Context, tenantID uuid.UUID) (int64, bool, error) {
	var tenant models.Tenant
	found, err := r.FirstOrNil(ctx, &tenant, "id = ?", tenantID)
	if err != nil || !found {
		return 0, found, err
	}
	return tenant.CreditAmount, true, nil
}

func (r *repository) SumEntries(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var total int64
	err := r.DB(ctx).Model(&models.Credit{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("tenant_id = ?", tenantID).
		Scan(&total).Error
	return total, err
}

func (r *repository) ListEntries(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.Credit, error) {
	q := r.DB(ctx).Where("tenant_id = ?", tenantID).Order("added_on DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []models.Credit
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
