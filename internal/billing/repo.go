package billing

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kotilabs/housing-backend/internal/repo"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	"github.com/kotilabs/housing-backend/pkg/enums"
	"github.com/kotilabs/housing-backend/pkg/pagination"
)

// Repository handles subscription and subscription invoice persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	UpdateSubscriptionFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
	FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error)
	FindActiveSubscription(ctx context.Context, tenantID, planID uuid.UUID) (*models.Subscription, error)
	FindPendingSubscription(ctx context.Context, tenantID, planID uuid.UUID) (*models.Subscription, error)
	FindLatestOpenSubscription(ctx context.Context, tenantID, planID uuid.UUID) (*models.Subscription, error)
	ListActiveSubscriptionsForPlan(ctx context.Context, tenantID, planID uuid.UUID) ([]models.Subscription, error)
	ListActiveSubscriptionsByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Subscription, error)
	ListSubscriptionsForReconciliation(ctx context.Context, after uuid.UUID, limit int) ([]models.Subscription, error)
	PromotePending(ctx context.Context, id uuid.UUID, externalID string) (bool, error)
	DeactivateSubscription(ctx context.Context, id uuid.UUID) (bool, error)
	FindSubscriptionInvoice(ctx context.Context, externalInvoiceID string) (*models.SubscriptionInvoice, error)
	CreateSubscriptionInvoice(ctx context.Context, invoice *models.SubscriptionInvoice) error
	ListSubscriptionInvoices(ctx context.Context, params ListInvoicesQuery) ([]models.SubscriptionInvoice, *pagination.Cursor, error)
}

// ListInvoicesQuery configures paid subscription invoice listings.
type ListInvoicesQuery struct {
	TenantID uuid.UUID
	Limit    int
	Cursor   *pagination.Cursor
}

type repository struct {
	repo.Base
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Base.WithTx(tx)}
}

func (r *repository) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.DB(ctx).Create(subscription).Error
}

func (r *repository) UpdateSubscriptionFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.DB(ctx).Model(&models.Subscription{}).Where("id = ?", id).Updates(fields).Error
}

func (r *repository) FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return r.findSubscription(ctx, "id = ?", id)
}

func (r *repository) FindSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	if externalID == "" {
		return nil, nil
	}
	return r.findSubscription(ctx, "external_subscription_id = ?", externalID)
}

func (r *repository) FindActiveSubscription(ctx context.Context, tenantID, planID uuid.UUID) (*models.Subscription, error) {
	return r.findSubscription(ctx, "tenant_id = ? AND subscription_plan_id = ? AND is_active = ?", tenantID, planID, true)
}

func (r *repository) FindPendingSubscription(ctx context.Context, tenantID, planID uuid.UUID) (*models.Subscription, error) {
	return r.findSubscription(ctx, "tenant_id = ? AND subscription_plan_id = ? AND status = ?", tenantID, planID, enums.SubscriptionStatusPending)
}

// FindLatestOpenSubscription returns the newest non-inactive row for the pair.
func (r *repository) FindLatestOpenSubscription(ctx context.Context, tenantID, planID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.DB(ctx).
		Where("tenant_id = ? AND subscription_plan_id = ? AND status <> ?", tenantID, planID, enums.SubscriptionStatusInactive).
		Order("created_on DESC").
		Take(&sub).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListActiveSubscriptionsForPlan(ctx context.Context, tenantID, planID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.DB(ctx).
		Where("tenant_id = ? AND subscription_plan_id = ? AND is_active = ?", tenantID, planID, true).
		Order("created_on DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListActiveSubscriptionsByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.DB(ctx).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Order("created_on DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// ListSubscriptionsForReconciliation pages through open rows that have a
// gateway counterpart, ordered by id.
func (r *repository) ListSubscriptionsForReconciliation(ctx context.Context, after uuid.UUID, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 250
	}
	q := r.DB(ctx).
		Where("external_subscription_id IS NOT NULL AND external_subscription_id <> ''").
		Where("status IN ?", []enums.SubscriptionStatus{enums.SubscriptionStatusPending, enums.SubscriptionStatusActive})
	if after != uuid.Nil {
		q = q.Where("id > ?", after)
	}
	var subs []models.Subscription
	if err := q.Order("id ASC").Limit(limit).Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// PromotePending flips a pending shadow to active. It reports false when the
// row is no longer pending.
func (r *repository) PromotePending(ctx context.Context, id uuid.UUID, externalID string) (bool, error) {
	res := r.DB(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status = ?", id, enums.SubscriptionStatusPending).
		Updates(map[string]any{
			"status":                   enums.SubscriptionStatusActive,
			"is_active":                true,
			"external_subscription_id": externalID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeactivateSubscription retires an active row. Rows are never deleted.
func (r *repository) DeactivateSubscription(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.DB(ctx).Model(&models.Subscription{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]any{
			"status":    enums.SubscriptionStatusInactive,
			"is_active": false,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindSubscriptionInvoice(ctx context.Context, externalInvoiceID string) (*models.SubscriptionInvoice, error) {
	var inv models.SubscriptionInvoice
	found, err := r.FirstOrNil(ctx, &inv, "external_invoice_id = ?", externalInvoiceID)
	if err != nil || !found {
		return nil, err
	}
	return &inv, nil
}

func (r *repository) CreateSubscriptionInvoice(ctx context.Context, invoice *models.SubscriptionInvoice) error {
	return r.DB(ctx).Create(invoice).Error
}

func (r *repository) ListSubscriptionInvoices(ctx context.Context, params ListInvoicesQuery) ([]models.SubscriptionInvoice, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.DB(ctx).Model(&models.SubscriptionInvoice{}).Where("tenant_id = ?", params.TenantID)
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var invoices []models.SubscriptionInvoice
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&invoices).Error; err != nil {
		return nil, nil, err
	}

	if len(invoices) > limit {
		last := invoices[limit-1]
		invoices = invoices[:limit]
		return invoices, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
	}
	return invoices, nil, nil
}

func (r *repository) findSubscription(ctx context.Context, query string, args ...any) (*models.Subscription, error) {
	var sub models.Subscription
	found, err := r.FirstOrNil(ctx, &sub, query, args...)
	if err != nil || !found {
		return nil, err
	}
	return &sub, nil
}

