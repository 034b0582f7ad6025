package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/kotilabs/housing-backend/internal/subscriptions"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	"github.com/kotilabs/housing-backend/pkg/logger"
)

const defaultReconcileLimit = 250

type subscriptionReconciler interface {
	ListReconcilable(ctx context.Context, after uuid.UUID, limit int) ([]models.Subscription, error)
	Reconcile(ctx context.Context, sub models.Subscription) (subscriptions.ReconcileOutcome, error)
}

// SubscriptionReconcileJobParams configures the subscription sync cron job.
type SubscriptionReconcileJobParams struct {
	Logger        *logger.Logger
	Subscriptions subscriptionReconciler
	Limit         int
}

// NewSubscriptionReconcileJob builds the job that converges local
// subscription rows with the payment gateway. It covers missed or
// reordered webhook deliveries.
func NewSubscriptionReconcileJob(params SubscriptionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	return &subscriptionReconcileJob{
		logg:  params.Logger,
		subs:  params.Subscriptions,
		limit: limit,
	}, nil
}

type subscriptionReconcileJob struct {
	logg  *logger.Logger
	subs  subscriptionReconciler
	limit int
}

func (j *subscriptionReconcileJob) Name() string { return "subscription-reconcile" }

func (j *subscriptionReconcileJob) Run(ctx context.Context) error {
	var (
		errs     error
		after    uuid.UUID
		scanned  int
		outcomes = map[subscriptions.ReconcileOutcome]int{}
	)
	for {
		page, err := j.subs.ListReconcilable(ctx, after, j.limit)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list subscriptions for reconciliation: %w", err))
		}
		for _, sub := range page {
			scanned++
			outcome, err := j.subs.Reconcile(ctx, sub)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("reconcile subscription %s: %w", sub.ID, err))
				continue
			}
			outcomes[outcome]++
			if outcome != subscriptions.ReconcileUnchanged && outcome != subscriptions.ReconcileSkipped {
				j.logg.Info(j.logg.WithFields(ctx, map[string]any{
					"subscription_id": sub.ID.String(),
					"tenant_id":       sub.TenantID.String(),
					"outcome":         string(outcome),
				}), "subscription reconciled")
			}
		}
		if len(page) < j.limit {
			break
		}
		after = page[len(page)-1].ID
	}

	fields := map[string]any{
		"candidates": scanned,
		"failed":     len(multierr.Errors(errs)),
	}
	for outcome, n := range outcomes {
		fields[string(outcome)] = n
	}
	j.logg.Info(j.logg.WithFields(ctx, fields), "subscription reconcile loop complete")
	return errs
}
