package tenants

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kotilabs/housing-backend/internal/repo"
	"github.com/kotilabs/housing-backend/pkg/db/models"
)

// Repository handles tenant persistence. Credit balance mutations live in
// the credits package.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, tenant *models.Tenant) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	SetGatewayCustomerID(ctx context.Context, id uuid.UUID, customerID string) (bool, error)
	ListIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a tenant repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Base.WithTx(tx)}
}

func (r *repository) Create(ctx context.Context, tenant *models.Tenant) error {
	return r.DB(ctx).Create(tenant).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	found, err := r.FirstOrNil(ctx, &tenant, "id = ?", id)
	if err != nil || !found {
		return nil, err
	}
	return &tenant, nil
}

// SetGatewayCustomerID stores the customer id only if none is set yet and
// reports whether this call stored it.
func (r *repository) SetGatewayCustomerID(ctx context.Context, id uuid.UUID, customerID string) (bool, error) {
	res := r.DB(ctx).Model(&models.Tenant{}).
		Where("id = ? AND gateway_customer_id IS NULL", id).
		Update("gateway_customer_id", customerID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListIDs pages tenant ids in ascending order starting after the given id.
func (r *repository) ListIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 500
	}
	q := r.DB(ctx).Model(&models.Tenant{}).Order("id ASC").Limit(limit)
	if after != uuid.Nil {
		q = q.Where("id > ?", after)
	}
	var ids []uuid.UUID
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
