package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
)

// Client is the payment gateway surface used by the billing engine. A
// single instance is built at process start and injected. Every failure is
// a CodeGateway error; callers must not assume a failed call had partial
// effects at the gateway.
type Client interface {
	CreateCustomer(ctx context.Context, input CustomerInput) (string, error)
	CreateOneOffProduct(ctx context.Context, input ProductInput) (ProductRef, error)
	CreateRecurringProduct(ctx context.Context, input ProductInput) (ProductRef, error)
	CreatePaymentLink(ctx context.Context, input PaymentLinkInput) (string, error)
	CreateSendInvoiceSubscription(ctx context.Context, input SubscriptionInput) (SubscriptionRef, error)
	GetSubscription(ctx context.Context, id string) (SubscriptionRef, error)
	UpdateSubscription(ctx context.Context, id string, input UpdateInput) (SubscriptionRef, error)
	SetAutomaticCollection(ctx context.Context, id string) error
	CancelSubscription(ctx context.Context, id string) error
	GetInvoice(ctx context.Context, id string) (InvoiceRef, error)
	GetCheckoutSession(ctx context.Context, id string) (CheckoutSessionRef, error)
}

// ErrorDetails is attached to CodeGateway errors for the API envelope.
type ErrorDetails struct {
	Operation  string `json:"operation"`
	Code       string `json:"gateway_code,omitempty"`
	Type       string `json:"gateway_type,omitempty"`
	HTTPStatus int    `json:"gateway_status,omitempty"`
	RequestID  string `json:"gateway_request_id,omitempty"`
}

// wrapError converts SDK failures into coded gateway errors.
func wrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	details := ErrorDetails{Operation: operation}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		details.Code = string(stripeErr.Code)
		details.Type = string(stripeErr.Type)
		details.HTTPStatus = stripeErr.HTTPStatusCode
		details.RequestID = stripeErr.RequestID
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, operation).WithDetails(details)
}

// IsResourceMissing reports whether a gateway error means the object does not
// exist at the gateway.
func IsResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}

func requireID(operation, id string) error {
	if id == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s: id is required", operation))
	}
	return nil
}
