package catalog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kotilabs/housing-backend/internal/repo"
	"github.com/kotilabs/housing-backend/pkg/db/models"
)

// Repository persists subscription plans and one-off product items.
type Repository interface {
	CreatePlan(ctx context.Context, plan *models.SubscriptionPlan) error
	CreateProductItem(ctx context.Context, item *models.PaymentProductItem) error
	ListPlans(ctx context.Context, activeOnly bool) ([]models.SubscriptionPlan, error)
	ListProductItems(ctx context.Context, activeOnly bool) ([]models.PaymentProductItem, error)
	FindPlanByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error)
	FindPlanByExternalPriceID(ctx context.Context, priceID string) (*models.SubscriptionPlan, error)
	FindProductItemByID(ctx context.Context, id uuid.UUID) (*models.PaymentProductItem, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) CreatePlan(ctx context.Context, plan *models.SubscriptionPlan) error {
	return r.DB(ctx).Create(plan).Error
}

func (r *repository) CreateProductItem(ctx context.Context, item *models.PaymentProductItem) error {
	return r.DB(ctx).Create(item).Error
}

func (r *repository) ListPlans(ctx context.Context, activeOnly bool) ([]models.SubscriptionPlan, error) {
	q := r.DB(ctx).Model(&models.SubscriptionPlan{})
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var plans []models.SubscriptionPlan
	if err := q.Order("unit_amount_cents ASC, name ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) ListProductItems(ctx context.Context, activeOnly bool) ([]models.PaymentProductItem, error) {
	q := r.DB(ctx).Model(&models.PaymentProductItem{})
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var items []models.PaymentProductItem
	if err := q.Order("unit_amount_cents ASC, name ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) FindPlanByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	found, err := r.FirstOrNil(ctx, &plan, "id = ?", id)
	if err != nil || !found {
		return nil, err
	}
	return &plan, nil
}

func (r *repository) FindPlanByExternalPriceID(ctx context.Context, priceID string) (*models.SubscriptionPlan, error) {
	if priceID == "" {
		return nil, nil
	}
	var plan models.SubscriptionPlan
	found, err := r.FirstOrNil(ctx, &plan, "external_price_id = ?", priceID)
	if err != nil || !found {
		return nil, err
	}
	return &plan, nil
}

func (r *repository) FindProductItemByID(ctx context.Context, id uuid.UUID) (*models.PaymentProductItem, error) {
	var item models.PaymentProductItem
	found, err := r.FirstOrNil(ctx, &item, "id = ?", id)
	if err != nil || !found {
		return nil, err
	}
	return &item, nil
}
