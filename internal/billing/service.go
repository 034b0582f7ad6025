package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/kotilabs/housing-backend/pkg/db/models"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	"github.com/kotilabs/housing-backend/pkg/pagination"
)

// ServiceParams groups dependencies for the billing history service.
type ServiceParams struct {
	Repo Repository
}

// Service serves paid subscription invoice history.
type Service struct {
	repo Repository
}

// InvoicePage is one page of paid subscription invoices.
type InvoicePage struct {
	Invoices   []models.SubscriptionInvoice
	NextCursor string
}

// NewService builds a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{repo: params.Repo}, nil
}

func (s *Service) ListInvoices(ctx context.Context, tenantID uuid.UUID, params pagination.Params) (InvoicePage, error) {
	if tenantID == uuid.Nil {
		return InvoicePage{}, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return InvoicePage{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	invoices, next, err := s.repo.ListSubscriptionInvoices(ctx, ListInvoicesQuery{
		TenantID: tenantID,
		Limit:    params.Limit,
		Cursor:   cursor,
	})
	if err != nil {
		return InvoicePage{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscription invoices")
	}

	page := InvoicePage{Invoices: invoices}
	if next != nil {
		page.NextCursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}
