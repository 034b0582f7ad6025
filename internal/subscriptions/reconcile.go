package subscriptions

import (
	"context"

	"github.com/kotilabs/housing-backend/internal/gateway"
	"github.com/kotilabs/housing-backend/pkg/db"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	"github.com/kotilabs/housing-backend/pkg/enums"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
)

// ReconcileOutcome reports what a reconciliation pass changed.
type ReconcileOutcome string

const (
	ReconcileUnchanged   ReconcileOutcome = "unchanged"
	ReconcileUpdated     ReconcileOutcome = "updated"
	ReconcilePromoted    ReconcileOutcome = "promoted"
	ReconcileDeactivated ReconcileOutcome = "deactivated"
	ReconcileSkipped     ReconcileOutcome = "skipped"
)

// Reconcile compares a local row with the gateway's record and converges
// the local row onto it. It covers webhooks that were lost or arrived out
// of order.
func (s *service) Reconcile(ctx context.Context, sub models.Subscription) (ReconcileOutcome, error) {
	extID := externalID(&sub)
	if extID == "" || sub.Status == enums.SubscriptionStatusInactive {
		return ReconcileSkipped, nil
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"subscription_id":          sub.ID.String(),
		"external_subscription_id": extID,
	})

	ref, err := s.gateway.GetSubscription(ctx, extID)
	if err != nil {
		if gateway.IsResourceMissing(err) {
			return s.retire(ctx, sub)
		}
		return ReconcileSkipped, err
	}

	switch mapGatewayStatus(ref.Status) {
	case gatewayEnded:
		return s.retire(ctx, sub)
	case gatewayUnsettled:
		return ReconcileUnchanged, nil
	}

	outcome := ReconcileUnchanged
	if sub.Status == enums.SubscriptionStatusPending {
		promoted, err := s.billing.PromotePending(ctx, sub.ID, extID)
		if err != nil {
			if db.IsUniqueViolation(err, "") {
				s.logg.Warn(ctx, "pending subscription shadows an existing active row; left pending")
				return ReconcileSkipped, nil
			}
			return ReconcileSkipped, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "promote pending subscription")
		}
		if promoted {
			outcome = ReconcilePromoted
		}
	}

	fields := map[string]any{}
	if ref.Quantity > 0 && ref.Quantity != sub.Quantity {
		fields["quantity"] = ref.Quantity
	}
	if ref.PriceID != "" {
		plan, err := s.catalog.PlanByExternalPriceID(ctx, ref.PriceID)
		if err != nil {
			return outcome, err
		}
		if plan != nil && plan.ID != sub.SubscriptionPlanID {
			fields["subscription_plan_id"] = plan.ID
		}
	}
	if len(fields) > 0 {
		if err := s.billing.UpdateSubscriptionFields(ctx, sub.ID, fields); err != nil {
			if db.IsUniqueViolation(err, "") {
				s.logg.Warn(ctx, "gateway plan collides with another active subscription; skipped")
				return outcome, nil
			}
			return outcome, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "copy gateway state")
		}
		if outcome == ReconcileUnchanged {
			outcome = ReconcileUpdated
		}
	}
	return outcome, nil
}

func (s *service) retire(ctx context.Context, sub models.Subscription) (ReconcileOutcome, error) {
	if sub.Status == enums.SubscriptionStatusPending {
		err := s.billing.UpdateSubscriptionFields(ctx, sub.ID, map[string]any{
			"status":    enums.SubscriptionStatusInactive,
			"is_active": false,
		})
		if err != nil {
			return ReconcileSkipped, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retire pending subscription")
		}
		s.logg.Info(ctx, "pending subscription retired; gateway subscription ended")
		return ReconcileDeactivated, nil
	}
	ok, err := s.billing.DeactivateSubscription(ctx, sub.ID)
	if err != nil {
		return ReconcileSkipped, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deactivate subscription")
	}
	if !ok {
		return ReconcileUnchanged, nil
	}
	s.logg.Info(ctx, "subscription deactivated; gateway subscription ended")
	return ReconcileDeactivated, nil
}
