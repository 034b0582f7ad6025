package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/kotilabs/housing-backend/internal/credits"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	"github.com/kotilabs/housing-backend/pkg/logger"
)

const defaultDriftAuditLimit = 500

type tenantLister interface {
	ListIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type driftChecker interface {
	CheckDrift(ctx context.Context, tenantID uuid.UUID) (credits.Drift, error)
}

type CreditDriftJobParams struct {
	Logger  *logger.Logger
	Tenants tenantLister
	Credits driftChecker
	Limit   int
}

// NewCreditDriftJob builds the audit comparing every tenant's running
// credit balance with the sum of its ledger entries. Drift is reported,
// never corrected.
func NewCreditDriftJob(params CreditDriftJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Tenants == nil {
		return nil, fmt.Errorf("tenant lister required")
	}
	if params.Credits == nil {
		return nil, fmt.Errorf("credit service required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultDriftAuditLimit
	}
	return &creditDriftJob{
		logg:    params.Logger,
		tenants: params.Tenants,
		credits: params.Credits,
		limit:   limit,
	}, nil
}

type creditDriftJob struct {
	logg    *logger.Logger
	tenants tenantLister
	credits driftChecker
	limit   int
	// drifted is kept from the last run for tests.
	drifted []credits.Drift
}

func (j *creditDriftJob) Name() string { return "credit-drift-audit" }

func (j *creditDriftJob) Run(ctx context.Context) error {
	var (
		errs    error
		after   uuid.UUID
		checked int
	)
	j.drifted = nil
	for {
		ids, err := j.tenants.ListIDs(ctx, after, j.limit)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list tenants: %w", err))
		}
		for _, id := range ids {
			drift, err := j.credits.CheckDrift(ctx, id)
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				continue
			}
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("check drift for tenant %s: %w", id, err))
				continue
			}
			checked++
			if drift.Drifted() {
				j.drifted = append(j.drifted, drift)
				j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
					"tenant_id":     id.String(),
					"balance_cents": drift.BalanceCents,
					"entries_cents": drift.EntriesCents,
					"delta_cents":   drift.DeltaCents(),
				}), "credit balance drifted from ledger")
			}
		}
		if len(ids) < j.limit {
			break
		}
		after = ids[len(ids)-1]
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"checked": checked,
		"drifted": len(j.drifted),
	}), "credit drift audit complete")
	return errs
}
