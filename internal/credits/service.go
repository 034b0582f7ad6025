package credits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kotilabs/housing-backend/pkg/db"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	"github.com/kotilabs/housing-backend/pkg/logger"
	"github.com/kotilabs/housing-backend/pkg/money"
)

// Service maintains the credit ledger. Every mutation writes an entry and
// moves the tenant balance in the same transaction.
type Service interface {
	AddCredit(ctx context.Context, input AddInput) (AddResult, error)
	DeductCredit(ctx context.Context, tenantID uuid.UUID, amountCents int64, currency string) (DeductResult, error)
	GetBalance(ctx context.Context, tenantID uuid.UUID) (Balance, error)
	SumEntries(ctx context.Context, tenantID uuid.UUID) (int64, error)
	ListEntries(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.Credit, error)
	CheckDrift(ctx context.Context, tenantID uuid.UUID) (Drift, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// AddInput describes a credit addition from a paid one-off invoice.
type AddInput struct {
	TenantID            uuid.UUID
	AmountCents         int64
	Currency            string
	SourceInvoiceID     string
	SourceProductItemID *uuid.UUID
	CreatedBy           *uuid.UUID
	AddedOn             time.Time
}

// AddResult reports the entry written. Applied is false when the source
// invoice had already been credited.
type AddResult struct {
	Entry        *models.Credit
	Applied      bool
	BalanceCents int64
}

// DeductResult reports the entry written and whether the balance is now
// below zero.
type DeductResult struct {
	Entry        *models.Credit
	BalanceCents int64
	Overdrawn    bool
}

type Balance struct {
	TenantID    uuid.UUID
	AmountCents int64
	Currency    string
}

// Drift compares the running balance with the sum of entries.
type Drift struct {
	TenantID     uuid.UUID
	BalanceCents int64
	EntriesCents int64
}

func (d Drift) DeltaCents() int64 {
	return d.BalanceCents - d.EntriesCents
}

func (d Drift) Drifted() bool {
	return d.BalanceCents != d.EntriesCents
}

type ServiceParams struct {
	Repo            Repository
	Tx              txRunner
	Logger          *logger.Logger
	StrictDeduction bool
	DefaultCurrency string
}

type service struct {
	repo            Repository
	tx              txRunner
	logg            *logger.Logger
	strict          bool
	defaultCurrency string
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("credits repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:            params.Repo,
		tx:              params.Tx,
		logg:            logg,
		strict:          params.StrictDeduction,
		defaultCurrency: money.NormalizeCurrency(params.DefaultCurrency, "eur"),
	}, nil
}

var (
	errTenantMissing = errors.New("tenant missing")
	errDuplicate     = errors.New("source invoice already credited")
	errInsufficient  = errors.New("insufficient credit")
)

func (s *service) AddCredit(ctx context.Context, input AddInput) (AddResult, error) {
	if input.TenantID == uuid.Nil {
		return AddResult{}, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if input.AmountCents <= 0 {
		return AddResult{}, pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	source := strings.TrimSpace(input.SourceInvoiceID)

	entry := &models.Credit{
		TenantID:            input.TenantID,
		AmountCents:         input.AmountCents,
		Currency:            money.NormalizeCurrency(input.Currency, s.defaultCurrency),
		AddedOn:             input.AddedOn,
		SourceProductItemID: input.SourceProductItemID,
		CreatedBy:           input.CreatedBy,
	}
	if source != "" {
		entry.SourceInvoiceID = &source
	}

	var balance int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if source != "" {
			existing, err := repo.FindBySourceInvoice(ctx, source)
			if err != nil {
				return err
			}
			if existing != nil {
				entry = existing
				return errDuplicate
			}
		}
		if err := repo.InsertEntry(ctx, entry); err != nil {
			if source != "" && db.IsUniqueViolation(err, "") {
				return errDuplicate
			}
			return err
		}
		ok, err := repo.AdjustBalance(ctx, input.TenantID, input.AmountCents)
		if err != nil {
			return err
		}
		if !ok {
			return errTenantMissing
		}
		balance, _, err = repo.Balance(ctx, input.TenantID)
		return err
	})

	switch {
	case err == nil:
		ctx = s.logg.WithFields(ctx, map[string]any{
			"tenant_id":         input.TenantID.String(),
			"amount_cents":      input.AmountCents,
			"source_invoice_id": source,
		})
		s.logg.Info(ctx, "credit added")
		return AddResult{Entry: entry, Applied: true, BalanceCents: balance}, nil
	case errors.Is(err, errDuplicate):
		s.logg.Info(s.logg.WithField(ctx, "source_invoice_id", source), "credit already applied for source invoice")
		return AddResult{Entry: entry, Applied: false}, nil
	case errors.Is(err, errTenantMissing):
		return AddResult{}, pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
	default:
		return AddResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "add credit")
	}
}

func (s *service) DeductCredit(ctx context.Context, tenantID uuid.UUID, amountCents int64, currency string) (DeductResult, error) {
	if tenantID == uuid.Nil {
		return DeductResult{}, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if amountCents <= 0 {
		return DeductResult{}, pkgerrors.New(pkgerrors.CodeValidation, "deduction amount must be positive")
	}

	entry := &models.Credit{
		TenantID:    tenantID,
		AmountCents: -amountCents,
		Currency:    money.NormalizeCurrency(currency, s.defaultCurrency),
	}

	var balance int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if s.strict {
			ok, err := repo.DeductIfSufficient(ctx, tenantID, amountCents)
			if err != nil {
				return err
			}
			if !ok {
				_, found, err := repo.Balance(ctx, tenantID)
				if err != nil {
					return err
				}
				if !found {
					return errTenantMissing
				}
				return errInsufficient
			}
		} else {
			ok, err := repo.AdjustBalance(ctx, tenantID, -amountCents)
			if err != nil {
				return err
			}
			if !ok {
				return errTenantMissing
			}
		}
		if err := repo.InsertEntry(ctx, entry); err != nil {
			return err
		}
		var err error
		balance, _, err = repo.Balance(ctx, tenantID)
		return err
	})

	switch {
	case err == nil:
	case errors.Is(err, errTenantMissing):
		return DeductResult{}, pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
	case errors.Is(err, errInsufficient):
		return DeductResult{}, pkgerrors.New(pkgerrors.CodeStateConflict, "insufficient credit").
			WithDetails(map[string]any{"amount_cents": amountCents})
	default:
		return DeductResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deduct credit")
	}

	result := DeductResult{Entry: entry, BalanceCents: balance, Overdrawn: balance < 0}
	if result.Overdrawn {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"tenant_id":     tenantID.String(),
			"amount_cents":  amountCents,
			"balance_cents": balance,
		})
		s.logg.Warn(ctx, "credit balance overdrawn")
	}
	return result, nil
}

func (s *service) GetBalance(ctx context.Context, tenantID uuid.UUID) (Balance, error) {
	amount, found, err := s.repo.Balance(ctx, tenantID)
	if err != nil {
		return Balance{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load balance")
	}
	if !found {
		return Balance{}, pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
	}
	return Balance{TenantID: tenantID, AmountCents: amount, Currency: s.defaultCurrency}, nil
}

func (s *service) SumEntries(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	total, err := s.repo.SumEntries(ctx, tenantID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum credit entries")
	}
	return total, nil
}

// ListEntries returns the tenant's newest ledger entries first.
func (s *service) ListEntries(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.Credit, error) {
	entries, err := s.repo.ListEntries(ctx, tenantID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list credit entries")
	}
	return entries, nil
}

func (s *service) CheckDrift(ctx context.Context, tenantID uuid.UUID) (Drift, error) {
	drift := Drift{TenantID: tenantID}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		balance, found, err := repo.Balance(ctx, tenantID)
		if err != nil {
			return err
		}
		if !found {
			return errTenantMissing
		}
		sum, err := repo.SumEntries(ctx, tenantID)
		if err != nil {
			return err
		}
		drift.BalanceCents = balance
		drift.EntriesCents = sum
		return nil
	})
	if errors.Is(err, errTenantMissing) {
		return Drift{}, pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
	}
	if err != nil {
		return Drift{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check credit drift")
	}
	return drift, nil
}
