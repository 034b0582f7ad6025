package subscriptions

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kotilabs/housing-backend/internal/gateway"
	"github.com/kotilabs/housing-backend/pkg/db"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	"github.com/kotilabs/housing-backend/pkg/enums"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
)

// CreatedInput carries a gateway-confirmed subscription.
type CreatedInput struct {
	TenantID        uuid.UUID
	PlanID          uuid.UUID
	UserID          uuid.UUID
	ExternalID      string
	Quantity        int64
	LatestInvoiceID string
}

// UpdatedInput carries the gateway's current price and quantity. PlanID is
// the metadata plan and only used when PriceID is not a known plan price.
type UpdatedInput struct {
	ExternalID string
	PriceID    string
	PlanID     uuid.UUID
	Quantity   int64
}

type DeletedInput struct {
	TenantID   uuid.UUID
	PlanID     uuid.UUID
	ExternalID string
}

type FinalizedInput struct {
	TenantID         uuid.UUID
	PlanID           uuid.UUID
	ExternalID       string
	HostedInvoiceURL string
}

type InvoicePaidInput struct {
	ExternalInvoiceID      string
	ExternalSubscriptionID string
	TenantID               uuid.UUID
	PlanID                 uuid.UUID
	CollectionMethod       string
	AmountPaidCents        int64
	Currency               string
	HostedInvoiceURL       string
	PaidAt                 time.Time
}

// ConfirmCreated converges local state onto a confirmed gateway
// subscription. A row already bound to the external id wins; otherwise the
// tenant's pending shadow is promoted; otherwise a new active row is made.
// Inactive rows are never resurrected.
func (s *service) ConfirmCreated(ctx context.Context, input CreatedInput) (*models.Subscription, error) {
	if input.ExternalID == "" || input.TenantID == uuid.Nil || input.PlanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant, plan and external subscription id are required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"tenant_id":                input.TenantID.String(),
		"subscription_plan_id":     input.PlanID.String(),
		"external_subscription_id": input.ExternalID,
	})

	invoiceURL := ""
	if input.LatestInvoiceID != "" {
		inv, err := s.gateway.GetInvoice(ctx, input.LatestInvoiceID)
		if err != nil {
			return nil, err
		}
		invoiceURL = inv.HostedInvoiceURL
	}

	existing, err := s.billing.FindSubscriptionByExternalID(ctx, input.ExternalID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription by external id")
	}
	if existing != nil {
		return s.confirmExisting(ctx, existing, input, invoiceURL)
	}

	pending, err := s.billing.FindPendingSubscription(ctx, input.TenantID, input.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending subscription")
	}
	if pending != nil && externalID(pending) == "" {
		if err := s.billing.UpdateSubscriptionFields(ctx, pending.ID, map[string]any{
			"external_subscription_id": input.ExternalID,
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bind pending subscription")
		}
		pending.ExternalSubscriptionID = &input.ExternalID
		return s.confirmExisting(ctx, pending, input, invoiceURL)
	}

	var createdBy *uuid.UUID
	if input.UserID != uuid.Nil {
		createdBy = &input.UserID
	}
	sub, err := s.Activate(ctx, ActivateInput{
		TenantID:   input.TenantID,
		PlanID:     input.PlanID,
		Quantity:   input.Quantity,
		ExternalID: input.ExternalID,
		InvoiceURL: invoiceURL,
		CreatedBy:  createdBy,
	})
	if err != nil {
		return nil, err
	}
	if externalID(sub) != input.ExternalID {
		s.logg.Warn(s.logg.WithField(ctx, "conflicting_subscription_id", sub.ID.String()),
			"another active subscription exists for tenant and plan; leaving it in place")
	}
	return sub, nil
}

func (s *service) confirmExisting(ctx context.Context, sub *models.Subscription, input CreatedInput, invoiceURL string) (*models.Subscription, error) {
	switch sub.Status {
	case enums.SubscriptionStatusInactive:
		s.logg.Info(ctx, "subscription already inactive; ignoring creation event")
		return sub, nil
	case enums.SubscriptionStatusPending:
		promoted, err := s.billing.PromotePending(ctx, sub.ID, input.ExternalID)
		if err != nil {
			if db.IsUniqueViolation(err, "") {
				s.logg.Warn(ctx, "pending subscription could not be promoted; an active row already exists")
				return sub, nil
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "promote pending subscription")
		}
		if promoted {
			sub.Status = enums.SubscriptionStatusActive
			sub.IsActive = true
			s.logg.Info(ctx, "pending subscription promoted")
		}
	}

	fields := map[string]any{}
	if input.Quantity > 0 && input.Quantity != sub.Quantity {
		fields["quantity"] = input.Quantity
		sub.Quantity = input.Quantity
	}
	if invoiceURL != "" {
		fields["latest_invoice_url"] = invoiceURL
		sub.LatestInvoiceURL = &invoiceURL
	}
	if err := s.billing.UpdateSubscriptionFields(ctx, sub.ID, fields); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update confirmed subscription")
	}
	return sub, nil
}

// ApplyUpdate sets quantity and plan to the gateway's values. It never
// touches is_active, so repeated deliveries converge on the same row.
func (s *service) ApplyUpdate(ctx context.Context, input UpdatedInput) (*models.Subscription, error) {
	if input.ExternalID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external subscription id is required")
	}
	ctx = s.logg.WithField(ctx, "external_subscription_id", input.ExternalID)

	sub, err := s.billing.FindSubscriptionByExternalID(ctx, input.ExternalID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription by external id")
	}
	if sub == nil {
		s.logg.Info(ctx, "update for unknown subscription ignored")
		return nil, nil
	}

	planID := sub.SubscriptionPlanID
	if input.PriceID != "" {
		plan, err := s.catalog.PlanByExternalPriceID(ctx, input.PriceID)
		if err != nil {
			return nil, err
		}
		if plan != nil {
			planID = plan.ID
		} else if input.PlanID != uuid.Nil {
			planID = input.PlanID
		}
	} else if input.PlanID != uuid.Nil {
		planID = input.PlanID
	}

	fields := map[string]any{}
	if planID != sub.SubscriptionPlanID {
		fields["subscription_plan_id"] = planID
	}
	if input.Quantity > 0 && input.Quantity != sub.Quantity {
		fields["quantity"] = input.Quantity
	}
	if len(fields) == 0 {
		return sub, nil
	}
	if err := s.billing.UpdateSubscriptionFields(ctx, sub.ID, fields); err != nil {
		if db.IsUniqueViolation(err, "") {
			s.logg.Warn(ctx, "plan change collides with another active subscription; skipped")
			return sub, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply subscription update")
	}
	sub.SubscriptionPlanID = planID
	if input.Quantity > 0 {
		sub.Quantity = input.Quantity
	}
	return sub, nil
}

// Deactivate retires the single active subscription for (tenant, plan).
// A row bound to the external id supplies the current (tenant, plan), so
// stale metadata after a plan change still routes. Zero or several matches,
// or a lone match bound to another external id, are ambiguous and left
// untouched.
func (s *service) Deactivate(ctx context.Context, input DeletedInput) (*models.Subscription, error) {
	tenantID, planID := input.TenantID, input.PlanID
	if input.ExternalID != "" {
		sub, err := s.billing.FindSubscriptionByExternalID(ctx, input.ExternalID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription by external id")
		}
		if sub != nil {
			tenantID, planID = sub.TenantID, sub.SubscriptionPlanID
		}
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"tenant_id":                tenantID.String(),
		"subscription_plan_id":     planID.String(),
		"external_subscription_id": input.ExternalID,
	})
	if tenantID == uuid.Nil || planID == uuid.Nil {
		s.logg.Warn(ctx, "subscription deletion without routable metadata ignored")
		return nil, nil
	}

	matches, err := s.billing.ListActiveSubscriptionsForPlan(ctx, tenantID, planID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active subscriptions")
	}
	if len(matches) != 1 {
		s.logg.Warn(s.logg.WithField(ctx, "matches", len(matches)), "ambiguous subscription deletion; no subscription deactivated")
		return nil, nil
	}

	sub := matches[0]
	if bound := externalID(&sub); bound != "" && input.ExternalID != "" && bound != input.ExternalID {
		s.logg.Warn(s.logg.WithField(ctx, "active_external_subscription_id", bound),
			"ambiguous subscription deletion; active row belongs to another gateway subscription")
		return nil, nil
	}
	if _, err := s.billing.DeactivateSubscription(ctx, sub.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deactivate subscription")
	}
	sub.IsActive = false
	sub.Status = enums.SubscriptionStatusInactive
	s.logg.Info(ctx, "subscription deactivated")
	return &sub, nil
}

// MarkInvoiceFinalized flags the newest open subscription for (tenant, plan)
// as awaiting payment of a fresh invoice.
func (s *service) MarkInvoiceFinalized(ctx context.Context, input FinalizedInput) (*models.Subscription, error) {
	sub, err := s.locate(ctx, input.ExternalID, input.TenantID, input.PlanID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		s.logg.Info(s.logg.WithField(ctx, "tenant_id", input.TenantID.String()), "finalized invoice for unknown subscription ignored")
		return nil, nil
	}
	fields := map[string]any{
		"latest_invoice_paid": false,
		"latest_invoice_url":  optionalString(input.HostedInvoiceURL),
	}
	if err := s.billing.UpdateSubscriptionFields(ctx, sub.ID, fields); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark invoice finalized")
	}
	sub.LatestInvoicePaid = false
	sub.LatestInvoiceURL = optionalString(input.HostedInvoiceURL)
	return sub, nil
}

// RecordInvoicePaid switches the gateway subscription to automatic
// collection, marks the latest invoice paid and appends the invoice record
// once per external invoice id.
func (s *service) RecordInvoicePaid(ctx context.Context, input InvoicePaidInput) (*models.SubscriptionInvoice, error) {
	if input.ExternalInvoiceID == "" || input.ExternalSubscriptionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice and subscription ids are required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"external_invoice_id":      input.ExternalInvoiceID,
		"external_subscription_id": input.ExternalSubscriptionID,
	})

	if input.CollectionMethod != gateway.CollectionChargeAutomatically {
		if err := s.gateway.SetAutomaticCollection(ctx, input.ExternalSubscriptionID); err != nil {
			return nil, err
		}
	}

	sub, err := s.locate(ctx, input.ExternalSubscriptionID, input.TenantID, input.PlanID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		s.logg.Warn(ctx, "paid invoice for unknown subscription; nothing recorded")
		return nil, nil
	}

	paidAt := input.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}

	var record *models.SubscriptionInvoice
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billing.WithTx(tx)
		fields := map[string]any{"latest_invoice_paid": true}
		if input.HostedInvoiceURL != "" {
			fields["latest_invoice_url"] = input.HostedInvoiceURL
		}
		if err := repo.UpdateSubscriptionFields(ctx, sub.ID, fields); err != nil {
			return err
		}
		existing, err := repo.FindSubscriptionInvoice(ctx, input.ExternalInvoiceID)
		if err != nil {
			return err
		}
		if existing != nil {
			record = existing
			return nil
		}
		record = &models.SubscriptionInvoice{
			SubscriptionID:    sub.ID,
			TenantID:          sub.TenantID,
			ExternalInvoiceID: input.ExternalInvoiceID,
			AmountPaidCents:   input.AmountPaidCents,
			Currency:          strings.ToLower(input.Currency),
			HostedInvoiceURL:  optionalString(input.HostedInvoiceURL),
			PaidAt:            paidAt,
		}
		return repo.CreateSubscriptionInvoice(ctx, record)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record paid invoice")
	}
	return record, nil
}

// locate resolves a subscription by external id, falling back to the newest
// open row for (tenant, plan).
func (s *service) locate(ctx context.Context, extID string, tenantID, planID uuid.UUID) (*models.Subscription, error) {
	if extID != "" {
		sub, err := s.billing.FindSubscriptionByExternalID(ctx, extID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription by external id")
		}
		if sub != nil {
			return sub, nil
		}
	}
	if tenantID == uuid.Nil || planID == uuid.Nil {
		return nil, nil
	}
	sub, err := s.billing.FindLatestOpenSubscription(ctx, tenantID, planID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	return sub, nil
}
