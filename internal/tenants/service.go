package tenants

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kotilabs/housing-backend/internal/gateway"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
)

// Service exposes the tenant reads the billing engine needs.
type Service interface {
	EnsureGatewayCustomer(ctx context.Context, tenantID uuid.UUID) (string, error)
	BankIBAN(ctx context.Context, tenantID uuid.UUID) (string, error)
}

type service struct {
	repo    Repository
	gateway gateway.Client
}

// NewService builds the tenant service.
func NewService(repo Repository, gw gateway.Client) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("tenant repository required")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	return &service{repo: repo, gateway: gw}, nil
}

// EnsureGatewayCustomer returns the tenant's gateway customer id, creating
// the customer on first use. Concurrent callers converge on one stored id.
func (s *service) EnsureGatewayCustomer(ctx context.Context, tenantID uuid.UUID) (string, error) {
	tenant, err := s.repo.FindByID(ctx, tenantID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tenant")
	}
	if tenant == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
	}
	if tenant.GatewayCustomerID != nil && strings.TrimSpace(*tenant.GatewayCustomerID) != "" {
		return *tenant.GatewayCustomerID, nil
	}

	customerID, err := s.gateway.CreateCustomer(ctx, gateway.CustomerInput{
		Name:           tenant.Name,
		Metadata:       map[string]string{gateway.MetaTenantID: tenantID.String()},
		IdempotencyKey: "tenant-customer-" + tenantID.String(),
	})
	if err != nil {
		return "", err
	}

	stored, err := s.repo.SetGatewayCustomerID(ctx, tenantID, customerID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store gateway customer")
	}
	if stored {
		return customerID, nil
	}
	// another request stored one first
	tenant, err = s.repo.FindByID(ctx, tenantID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload tenant")
	}
	if tenant == nil || tenant.GatewayCustomerID == nil {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "gateway customer vanished")
	}
	return *tenant.GatewayCustomerID, nil
}

// BankIBAN returns the account invoices are paid into.
func (s *service) BankIBAN(ctx context.Context, tenantID uuid.UUID) (string, error) {
	tenant, err := s.repo.FindByID(ctx, tenantID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tenant")
	}
	if tenant == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
	}
	if tenant.BankIBAN == nil || strings.TrimSpace(*tenant.BankIBAN) == "" {
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, "tenant has no bank account configured")
	}
	return *tenant.BankIBAN, nil
}
