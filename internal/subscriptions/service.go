package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kotilabs/housing-backend/internal/billing"
	"github.com/kotilabs/housing-backend/internal/catalog"
	"github.com/kotilabs/housing-backend/internal/gateway"
	"github.com/kotilabs/housing-backend/internal/tenants"
	"github.com/kotilabs/housing-backend/pkg/auth"
	"github.com/kotilabs/housing-backend/pkg/db"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	"github.com/kotilabs/housing-backend/pkg/enums"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	"github.com/kotilabs/housing-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type catalogReader interface {
	GetPlan(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error)
	GetProductItem(ctx context.Context, id uuid.UUID) (*models.PaymentProductItem, error)
	PlanByExternalPriceID(ctx context.Context, priceID string) (*models.SubscriptionPlan, error)
}

// Service defines the subscription lifecycle surface. Synchronous calls are
// intents against the gateway; local rows only move to confirmed states via
// the webhook-facing methods or the reconciliation sweep.
type Service interface {
	Activate(ctx context.Context, input ActivateInput) (*models.Subscription, error)
	StartSubscription(ctx context.Context, input StartInput) (*StartResult, error)
	ChangeQuantityOrPlan(ctx context.Context, input ChangeInput) (string, error)
	Cancel(ctx context.Context, actor auth.Actor, planID uuid.UUID) (*models.Subscription, error)
	PurchaseOneOff(ctx context.Context, input PurchaseInput) (string, error)
	CheckoutStatus(ctx context.Context, actor auth.Actor, sessionID string) (*CheckoutStatus, error)
	GetActive(ctx context.Context, tenantID uuid.UUID) ([]models.Subscription, error)

	ConfirmCreated(ctx context.Context, input CreatedInput) (*models.Subscription, error)
	ApplyUpdate(ctx context.Context, input UpdatedInput) (*models.Subscription, error)
	Deactivate(ctx context.Context, input DeletedInput) (*models.Subscription, error)
	MarkInvoiceFinalized(ctx context.Context, input FinalizedInput) (*models.Subscription, error)
	RecordInvoicePaid(ctx context.Context, input InvoicePaidInput) (*models.SubscriptionInvoice, error)

	ListReconcilable(ctx context.Context, after uuid.UUID, limit int) ([]models.Subscription, error)
	Reconcile(ctx context.Context, sub models.Subscription) (ReconcileOutcome, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	BillingRepo       billing.Repository
	Catalog           catalogReader
	Tenants           tenants.Service
	Gateway           gateway.Client
	TransactionRunner txRunner
	Logger            *logger.Logger
	DaysUntilDue      int64
}

// ActivateInput creates an active subscription unless one already exists.
type ActivateInput struct {
	TenantID   uuid.UUID
	PlanID     uuid.UUID
	Quantity   int64
	ExternalID string
	InvoiceURL string
	CreatedBy  *uuid.UUID
}

type StartInput struct {
	Actor    auth.Actor
	PlanID   uuid.UUID
	Quantity int64
}

type StartResult struct {
	Subscription     *models.Subscription
	HostedInvoiceURL string
}

// ChangeInput moves the active subscription for PlanID to NewPlanID and/or
// a new quantity. Quantity is absolute; QuantityDelta is applied to the
// current local quantity when Quantity is zero.
type ChangeInput struct {
	Actor         auth.Actor
	PlanID        uuid.UUID
	NewPlanID     *uuid.UUID
	Quantity      int64
	QuantityDelta int64
}

type PurchaseInput struct {
	Actor         auth.Actor
	ProductItemID uuid.UUID
	Quantity      int64
}

// CheckoutStatus combines the gateway session state with the local record
// for the session's subscription, if any.
type CheckoutStatus struct {
	SessionID      string               `json:"session_id"`
	Status         string               `json:"status"`
	PaymentStatus  string               `json:"payment_status"`
	SubscriptionID string               `json:"external_subscription_id,omitempty"`
	Subscription   *models.Subscription `json:"-"`
}

type service struct {
	billing      billing.Repository
	catalog      catalogReader
	tenants      tenants.Service
	gateway      gateway.Client
	tx           txRunner
	logg         *logger.Logger
	daysUntilDue int64
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog required")
	}
	if params.Tenants == nil {
		return nil, fmt.Errorf("tenant service required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	days := params.DaysUntilDue
	if days <= 0 {
		days = 14
	}
	return &service{
		billing:      params.BillingRepo,
		catalog:      params.Catalog,
		tenants:      params.Tenants,
		gateway:      params.Gateway,
		tx:           params.TransactionRunner,
		logg:         logg,
		daysUntilDue: days,
	}, nil
}

var _ catalogReader = (catalog.Service)(nil)

func (s *service) Activate(ctx context.Context, input ActivateInput) (*models.Subscription, error) {
	if input.TenantID == uuid.Nil || input.PlanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant and plan are required")
	}

	var result *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billing.WithTx(tx)
		existing, err := repo.FindActiveSubscription(ctx, input.TenantID, input.PlanID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}
		sub := &models.Subscription{
			TenantID:               input.TenantID,
			SubscriptionPlanID:     input.PlanID,
			ExternalSubscriptionID: optionalString(input.ExternalID),
			Quantity:               quantityOrOne(input.Quantity),
			IsActive:               true,
			Status:                 enums.SubscriptionStatusActive,
			CreatedBy:              input.CreatedBy,
			LatestInvoiceURL:       optionalString(input.InvoiceURL),
		}
		if err := repo.CreateSubscription(ctx, sub); err != nil {
			return err
		}
		result = sub
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			// A concurrent activation won; return its row.
			existing, findErr := s.billing.FindActiveSubscription(ctx, input.TenantID, input.PlanID)
			if findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "activate subscription")
	}
	return result, nil
}

func (s *service) StartSubscription(ctx context.Context, input StartInput) (*StartResult, error) {
	if !input.Actor.IsManager() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "manager role required")
	}
	tenantID := input.Actor.TenantID
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if input.Quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	quantity := quantityOrOne(input.Quantity)

	plan, err := s.catalog.GetPlan(ctx, input.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription plan is not available")
	}

	active, err := s.billing.FindActiveSubscription(ctx, tenantID, plan.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active subscription")
	}
	if active != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "tenant already has an active subscription to this plan").
			WithDetails(map[string]any{"subscription_id": active.ID.String()})
	}

	customerID, err := s.tenants.EnsureGatewayCustomer(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	shadow, err := s.pendingShadow(ctx, tenantID, plan.ID, quantity, input.Actor.UserID)
	if err != nil {
		return nil, err
	}

	ref, err := s.gateway.CreateSendInvoiceSubscription(ctx, gateway.SubscriptionInput{
		CustomerID:     customerID,
		PriceID:        plan.ExternalPriceID,
		Quantity:       shadow.Quantity,
		Metadata:       gateway.SubscriptionMetadata(tenantID, plan.ID, input.Actor.UserID, shadow.Quantity),
		DaysUntilDue:   s.daysUntilDue,
		IdempotencyKey: "subscription-start-" + shadow.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	fields := map[string]any{"latest_invoice_url": optionalString(ref.LatestInvoiceURL)}
	if shadow.ExternalSubscriptionID == nil {
		fields["external_subscription_id"] = ref.ID
	}
	if err := s.billing.UpdateSubscriptionFields(ctx, shadow.ID, fields); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store external subscription id")
	}
	if shadow.ExternalSubscriptionID == nil {
		shadow.ExternalSubscriptionID = &ref.ID
	}
	shadow.LatestInvoiceURL = optionalString(ref.LatestInvoiceURL)

	ctx = s.logg.WithFields(ctx, map[string]any{
		"tenant_id":                tenantID.String(),
		"subscription_id":          shadow.ID.String(),
		"external_subscription_id": ref.ID,
	})
	s.logg.Info(ctx, "subscription started; awaiting gateway confirmation")

	return &StartResult{Subscription: shadow, HostedInvoiceURL: ref.LatestInvoiceURL}, nil
}

// pendingShadow reuses the tenant's pending row for plan or creates one.
func (s *service) pendingShadow(ctx context.Context, tenantID, planID uuid.UUID, quantity int64, userID uuid.UUID) (*models.Subscription, error) {
	existing, err := s.billing.FindPendingSubscription(ctx, tenantID, planID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending subscription")
	}
	if existing != nil {
		return existing, nil
	}

	var createdBy *uuid.UUID
	if userID != uuid.Nil {
		createdBy = &userID
	}
	shadow := &models.Subscription{
		TenantID:           tenantID,
		SubscriptionPlanID: planID,
		Quantity:           quantity,
		IsActive:           false,
		Status:             enums.SubscriptionStatusPending,
		CreatedBy:          createdBy,
	}
	if err := s.billing.CreateSubscription(ctx, shadow); err != nil {
		if db.IsUniqueViolation(err, "") {
			existing, findErr := s.billing.FindPendingSubscription(ctx, tenantID, planID)
			if findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create pending subscription")
	}
	return shadow, nil
}

func (s *service) ChangeQuantityOrPlan(ctx context.Context, input ChangeInput) (string, error) {
	if !input.Actor.IsManager() {
		return "", pkgerrors.New(pkgerrors.CodeForbidden, "manager role required")
	}
	sub, err := s.requireActive(ctx, input.Actor.TenantID, input.PlanID)
	if err != nil {
		return "", err
	}

	update := gateway.UpdateInput{}
	targetPlanID := sub.SubscriptionPlanID
	if input.NewPlanID != nil && *input.NewPlanID != sub.SubscriptionPlanID {
		plan, err := s.catalog.GetPlan(ctx, *input.NewPlanID)
		if err != nil {
			return "", err
		}
		if !plan.IsActive {
			return "", pkgerrors.New(pkgerrors.CodeStateConflict, "subscription plan is not available")
		}
		update.PriceID = plan.ExternalPriceID
		targetPlanID = plan.ID
	}

	target := input.Quantity
	if target == 0 && input.QuantityDelta != 0 {
		target = sub.Quantity + input.QuantityDelta
		if target < 1 {
			return "", pkgerrors.New(pkgerrors.CodeValidation, "quantity would drop below one")
		}
	}
	if target < 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if target > 0 && target != sub.Quantity {
		update.Quantity = target
	}
	if update.PriceID == "" && update.Quantity == 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "nothing to change")
	}
	targetQty := sub.Quantity
	if update.Quantity > 0 {
		targetQty = update.Quantity
	}
	// Later webhooks route by metadata, so it must follow the plan change.
	update.Metadata = gateway.SubscriptionMetadata(input.Actor.TenantID, targetPlanID, input.Actor.UserID, targetQty)

	ref, err := s.gateway.UpdateSubscription(ctx, externalID(sub), update)
	if err != nil {
		return "", err
	}
	return ref.LatestInvoiceURL, nil
}

func (s *service) Cancel(ctx context.Context, actor auth.Actor, planID uuid.UUID) (*models.Subscription, error) {
	if !actor.IsManager() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "manager role required")
	}
	sub, err := s.requireActive(ctx, actor.TenantID, planID)
	if err != nil {
		return nil, err
	}
	if err := s.gateway.CancelSubscription(ctx, externalID(sub)); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.billing.UpdateSubscriptionFields(ctx, sub.ID, map[string]any{"cancel_requested_at": now}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record cancellation request")
	}
	sub.CancelRequestedAt = &now
	return sub, nil
}

func (s *service) requireActive(ctx context.Context, tenantID, planID uuid.UUID) (*models.Subscription, error) {
	if tenantID == uuid.Nil || planID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant and plan are required")
	}
	sub, err := s.billing.FindActiveSubscription(ctx, tenantID, planID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "active subscription not found")
	}
	if externalID(sub) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription has no gateway counterpart")
	}
	return sub, nil
}

func (s *service) PurchaseOneOff(ctx context.Context, input PurchaseInput) (string, error) {
	if !input.Actor.IsManager() {
		return "", pkgerrors.New(pkgerrors.CodeForbidden, "manager role required")
	}
	if input.Quantity < 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	item, err := s.catalog.GetProductItem(ctx, input.ProductItemID)
	if err != nil {
		return "", err
	}
	if !item.IsActive {
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, "product item is not available")
	}
	quantity := quantityOrOne(input.Quantity)
	return s.gateway.CreatePaymentLink(ctx, gateway.PaymentLinkInput{
		PriceID:  item.ExternalPriceID,
		Quantity: quantity,
		Metadata: gateway.ProductItemMetadata(input.Actor.TenantID, item.ID, input.Actor.UserID, quantity),
	})
}

func (s *service) CheckoutStatus(ctx context.Context, actor auth.Actor, sessionID string) (*CheckoutStatus, error) {
	if !actor.IsManager() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "manager role required")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session_id is required")
	}
	session, err := s.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if owner := session.Metadata[gateway.MetaTenantID]; owner != "" && owner != actor.TenantID.String() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "checkout session belongs to another tenant")
	}

	status := &CheckoutStatus{
		SessionID:      session.ID,
		Status:         session.Status,
		PaymentStatus:  session.PaymentStatus,
		SubscriptionID: session.SubscriptionID,
	}
	if session.SubscriptionID != "" {
		sub, err := s.billing.FindSubscriptionByExternalID(ctx, session.SubscriptionID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		status.Subscription = sub
	}
	return status, nil
}

func (s *service) GetActive(ctx context.Context, tenantID uuid.UUID) ([]models.Subscription, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	subs, err := s.billing.ListActiveSubscriptionsByTenant(ctx, tenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active subscriptions")
	}
	return subs, nil
}

func (s *service) ListReconcilable(ctx context.Context, after uuid.UUID, limit int) ([]models.Subscription, error) {
	subs, err := s.billing.ListSubscriptionsForReconciliation(ctx, after, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions for reconciliation")
	}
	return subs, nil
}
