// Package gatewaytest provides an in-memory gateway.Client for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kotilabs/housing-backend/internal/gateway"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
)

// Call records one invocation against the fake.
type Call struct {
	Method         string
	ID             string
	IdempotencyKey string
	Metadata       map[string]string
	Quantity       int64
	PriceID        string
}

// Fake is a concurrency-safe gateway.Client. Seed Subscriptions, Invoices
// and Sessions to control reads; set Errors[method] to force failures.
type Fake struct {
	mu sync.Mutex

	Subscriptions map[string]gateway.SubscriptionRef
	Invoices      map[string]gateway.InvoiceRef
	Sessions      map[string]gateway.CheckoutSessionRef
	Errors        map[string]error

	Calls []Call
	seq   int
}

var _ gateway.Client = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		Subscriptions: map[string]gateway.SubscriptionRef{},
		Invoices:      map[string]gateway.InvoiceRef{},
		Sessions:      map[string]gateway.CheckoutSessionRef{},
		Errors:        map[string]error{},
	}
}

// CallsTo returns the recorded calls for method.
func (f *Fake) CallsTo(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) record(c Call) error {
	f.Calls = append(f.Calls, c)
	if err, ok := f.Errors[c.Method]; ok && err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, c.Method)
	}
	return nil
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%04d", prefix, f.seq)
}

func (f *Fake) CreateCustomer(_ context.Context, input gateway.CustomerInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "CreateCustomer", IdempotencyKey: input.IdempotencyKey, Metadata: input.Metadata}); err != nil {
		return "", err
	}
	return f.nextID("cus"), nil
}

func (f *Fake) CreateOneOffProduct(_ context.Context, input gateway.ProductInput) (gateway.ProductRef, error) {
	return f.createProduct("CreateOneOffProduct", input)
}

func (f *Fake) CreateRecurringProduct(_ context.Context, input gateway.ProductInput) (gateway.ProductRef, error) {
	return f.createProduct("CreateRecurringProduct", input)
}

func (f *Fake) createProduct(method string, input gateway.ProductInput) (gateway.ProductRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: method, Metadata: input.Metadata}); err != nil {
		return gateway.ProductRef{}, err
	}
	return gateway.ProductRef{ProductID: f.nextID("prod"), PriceID: f.nextID("price")}, nil
}

func (f *Fake) CreatePaymentLink(_ context.Context, input gateway.PaymentLinkInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{
		Method:         "CreatePaymentLink",
		IdempotencyKey: input.IdempotencyKey,
		Metadata:       input.Metadata,
		Quantity:       input.Quantity,
		PriceID:        input.PriceID,
	}); err != nil {
		return "", err
	}
	return "https://pay.example.test/" + f.nextID("plink"), nil
}

func (f *Fake) CreateSendInvoiceSubscription(_ context.Context, input gateway.SubscriptionInput) (gateway.SubscriptionRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{
		Method:         "CreateSendInvoiceSubscription",
		IdempotencyKey: input.IdempotencyKey,
		Metadata:       input.Metadata,
		Quantity:       input.Quantity,
		PriceID:        input.PriceID,
	}); err != nil {
		return gateway.SubscriptionRef{}, err
	}
	invoiceID := f.nextID("in")
	ref := gateway.SubscriptionRef{
		ID:               f.nextID("sub"),
		Status:           gateway.SubscriptionStatusActive,
		CustomerID:       input.CustomerID,
		PriceID:          input.PriceID,
		Quantity:         input.Quantity,
		CollectionMethod: gateway.CollectionSendInvoice,
		LatestInvoiceID:  invoiceID,
		LatestInvoiceURL: "https://invoice.example.test/" + invoiceID,
		Metadata:         input.Metadata,
	}
	f.Subscriptions[ref.ID] = ref
	return ref, nil
}

func (f *Fake) GetSubscription(_ context.Context, id string) (gateway.SubscriptionRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "GetSubscription", ID: id}); err != nil {
		return gateway.SubscriptionRef{}, err
	}
	ref, ok := f.Subscriptions[id]
	if !ok {
		return gateway.SubscriptionRef{}, pkgerrors.New(pkgerrors.CodeGateway, "no such subscription: "+id)
	}
	return ref, nil
}

func (f *Fake) UpdateSubscription(_ context.Context, id string, input gateway.UpdateInput) (gateway.SubscriptionRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "UpdateSubscription", ID: id, IdempotencyKey: input.IdempotencyKey, Quantity: input.Quantity, PriceID: input.PriceID, Metadata: input.Metadata}); err != nil {
		return gateway.SubscriptionRef{}, err
	}
	ref, ok := f.Subscriptions[id]
	if !ok {
		return gateway.SubscriptionRef{}, pkgerrors.New(pkgerrors.CodeGateway, "no such subscription: "+id)
	}
	if input.PriceID != "" {
		ref.PriceID = input.PriceID
	}
	if input.Quantity > 0 {
		ref.Quantity = input.Quantity
	}
	if input.Metadata != nil {
		ref.Metadata = input.Metadata
	}
	invoiceID := f.nextID("in")
	ref.LatestInvoiceID = invoiceID
	ref.LatestInvoiceURL = "https://invoice.example.test/" + invoiceID
	f.Subscriptions[id] = ref
	return ref, nil
}

func (f *Fake) SetAutomaticCollection(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "SetAutomaticCollection", ID: id}); err != nil {
		return err
	}
	if ref, ok := f.Subscriptions[id]; ok {
		ref.CollectionMethod = gateway.CollectionChargeAutomatically
		f.Subscriptions[id] = ref
	}
	return nil
}

func (f *Fake) CancelSubscription(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "CancelSubscription", ID: id}); err != nil {
		return err
	}
	if ref, ok := f.Subscriptions[id]; ok {
		ref.Status = gateway.SubscriptionStatusCanceled
		f.Subscriptions[id] = ref
	}
	return nil
}

func (f *Fake) GetInvoice(_ context.Context, id string) (gateway.InvoiceRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "GetInvoice", ID: id}); err != nil {
		return gateway.InvoiceRef{}, err
	}
	if ref, ok := f.Invoices[id]; ok {
		return ref, nil
	}
	return gateway.InvoiceRef{ID: id, HostedInvoiceURL: "https://invoice.example.test/" + id}, nil
}

func (f *Fake) GetCheckoutSession(_ context.Context, id string) (gateway.CheckoutSessionRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "GetCheckoutSession", ID: id}); err != nil {
		return gateway.CheckoutSessionRef{}, err
	}
	ref, ok := f.Sessions[id]
	if !ok {
		return gateway.CheckoutSessionRef{}, pkgerrors.New(pkgerrors.CodeGateway, "no such checkout session: "+id)
	}
	return ref, nil
}
