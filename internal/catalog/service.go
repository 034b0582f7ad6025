package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kotilabs/housing-backend/internal/gateway"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	"github.com/kotilabs/housing-backend/pkg/enums"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	"github.com/kotilabs/housing-backend/pkg/money"
)

// Service is the read-mostly catalog of plans and one-off items. Creation is
// an admin operation that provisions the gateway product first.
type Service interface {
	ListPlans(ctx context.Context) ([]models.SubscriptionPlan, error)
	ListProductItems(ctx context.Context) ([]models.PaymentProductItem, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error)
	GetProductItem(ctx context.Context, id uuid.UUID) (*models.PaymentProductItem, error)
	PlanByExternalPriceID(ctx context.Context, priceID string) (*models.SubscriptionPlan, error)
	CreatePlan(ctx context.Context, input CreatePlanInput) (*models.SubscriptionPlan, error)
	CreateProductItem(ctx context.Context, input CreateItemInput) (*models.PaymentProductItem, error)
}

// CreatePlanInput describes a new recurring plan.
type CreatePlanInput struct {
	Name            string
	Description     string
	UnitAmountCents int64
	Currency        string
	Interval        enums.BillingInterval
	TaxPercent      decimal.Decimal
}

// CreateItemInput describes a new one-off product item.
type CreateItemInput struct {
	Name            string
	Description     string
	UnitAmountCents int64
	Currency        string
	TaxPercent      decimal.Decimal
}

type service struct {
	repo            Repository
	gateway         gateway.Client
	defaultCurrency string
}

func NewService(repo Repository, gw gateway.Client, defaultCurrency string) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	return &service{repo: repo, gateway: gw, defaultCurrency: money.NormalizeCurrency(defaultCurrency, "eur")}, nil
}

func (s *service) ListPlans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	plans, err := s.repo.ListPlans(ctx, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list plans")
	}
	return plans, nil
}

func (s *service) ListProductItems(ctx context.Context) ([]models.PaymentProductItem, error) {
	items, err := s.repo.ListProductItems(ctx, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list product items")
	}
	return items, nil
}

func (s *service) GetPlan(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	plan, err := s.repo.FindPlanByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription plan not found")
	}
	return plan, nil
}

func (s *service) GetProductItem(ctx context.Context, id uuid.UUID) (*models.PaymentProductItem, error) {
	item, err := s.repo.FindProductItemByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product item")
	}
	if item == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product item not found")
	}
	return item, nil
}

// PlanByExternalPriceID returns nil without error for unknown prices.
func (s *service) PlanByExternalPriceID(ctx context.Context, priceID string) (*models.SubscriptionPlan, error) {
	plan, err := s.repo.FindPlanByExternalPriceID(ctx, priceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan by price")
	}
	return plan, nil
}

func (s *service) CreatePlan(ctx context.Context, input CreatePlanInput) (*models.SubscriptionPlan, error) {
	name := strings.TrimSpace(input.Name)
	if err := validateProduct(name, input.UnitAmountCents, input.TaxPercent); err != nil {
		return nil, err
	}
	interval := input.Interval
	if interval == "" {
		interval = enums.BillingIntervalMonth
	}
	if !interval.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid billing interval")
	}
	currency := money.NormalizeCurrency(input.Currency, s.defaultCurrency)

	ref, err := s.gateway.CreateRecurringProduct(ctx, gateway.ProductInput{
		Name:            name,
		Description:     input.Description,
		UnitAmountCents: input.UnitAmountCents,
		Currency:        currency,
		Interval:        interval,
	})
	if err != nil {
		return nil, err
	}

	plan := &models.SubscriptionPlan{
		Name:              name,
		Description:       optionalString(input.Description),
		UnitAmountCents:   input.UnitAmountCents,
		Currency:          currency,
		Interval:          interval,
		TaxPercent:        input.TaxPercent,
		ExternalProductID: ref.ProductID,
		ExternalPriceID:   ref.PriceID,
		IsActive:          true,
	}
	if err := s.repo.CreatePlan(ctx, plan); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store plan")
	}
	return plan, nil
}

func (s *service) CreateProductItem(ctx context.Context, input CreateItemInput) (*models.PaymentProductItem, error) {
	name := strings.TrimSpace(input.Name)
	if err := validateProduct(name, input.UnitAmountCents, input.TaxPercent); err != nil {
		return nil, err
	}
	currency := money.NormalizeCurrency(input.Currency, s.defaultCurrency)

	ref, err := s.gateway.CreateOneOffProduct(ctx, gateway.ProductInput{
		Name:            name,
		Description:     input.Description,
		UnitAmountCents: input.UnitAmountCents,
		Currency:        currency,
	})
	if err != nil {
		return nil, err
	}

	item := &models.PaymentProductItem{
		Name:              name,
		Description:       optionalString(input.Description),
		UnitAmountCents:   input.UnitAmountCents,
		Currency:          currency,
		TaxPercent:        input.TaxPercent,
		ExternalProductID: ref.ProductID,
		ExternalPriceID:   ref.PriceID,
		IsActive:          true,
	}
	if err := s.repo.CreateProductItem(ctx, item); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store product item")
	}
	return item, nil
}

var maxTaxPercent = decimal.NewFromInt(100)

func validateProduct(name string, amount int64, tax decimal.Decimal) error {
	if name == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "unit amount must be positive")
	}
	if tax.IsNegative() || tax.GreaterThan(maxTaxPercent) {
		return pkgerrors.New(pkgerrors.CodeValidation, "tax percent must be between 0 and 100")
	}
	return nil
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
