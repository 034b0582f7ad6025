package gateway

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v84"
	checkoutsession "github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/invoice"
	"github.com/stripe/stripe-go/v84/paymentlink"
	"github.com/stripe/stripe-go/v84/price"
	"github.com/stripe/stripe-go/v84/product"
	"github.com/stripe/stripe-go/v84/subscription"

	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	pkgstripe "github.com/kotilabs/housing-backend/pkg/stripe"
)

const prorationAlwaysInvoice = "always_invoice"

type stripeClient struct{}

// NewStripeClient returns the Stripe-backed Client. The api handle proves the
// SDK key and backend were installed by pkg/stripe.NewClient.
func NewStripeClient(api *pkgstripe.Client) (Client, error) {
	if api == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client is required")
	}
	return &stripeClient{}, nil
}

func applyCommon(ctx context.Context, params *stripe.Params, idempotencyKey string) {
	params.Context = ctx
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		params.IdempotencyKey = stripe.String(key)
	}
}

func (c *stripeClient) CreateCustomer(ctx context.Context, input CustomerInput) (string, error) {
	params := &stripe.CustomerParams{Name: stripe.String(input.Name)}
	if input.Email != "" {
		params.Email = stripe.String(input.Email)
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	applyCommon(ctx, &params.Params, input.IdempotencyKey)

	cust, err := customer.New(params)
	if err != nil {
		return "", wrapError("create customer", err)
	}
	return cust.ID, nil
}

func (c *stripeClient) CreateOneOffProduct(ctx context.Context, input ProductInput) (ProductRef, error) {
	return c.createProduct(ctx, input, nil)
}

func (c *stripeClient) CreateRecurringProduct(ctx context.Context, input ProductInput) (ProductRef, error) {
	interval := strings.TrimSpace(string(input.Interval))
	if interval == "" {
		interval = string(stripe.PriceRecurringIntervalMonth)
	}
	return c.createProduct(ctx, input, &stripe.PriceRecurringParams{Interval: stripe.String(interval)})
}

func (c *stripeClient) createProduct(ctx context.Context, input ProductInput, recurring *stripe.PriceRecurringParams) (ProductRef, error) {
	prodParams := &stripe.ProductParams{Name: stripe.String(input.Name)}
	if input.Description != "" {
		prodParams.Description = stripe.String(input.Description)
	}
	for k, v := range input.Metadata {
		prodParams.AddMetadata(k, v)
	}
	prodParams.Context = ctx

	prod, err := product.New(prodParams)
	if err != nil {
		return ProductRef{}, wrapError("create product", err)
	}

	priceParams := &stripe.PriceParams{
		Product:    stripe.String(prod.ID),
		UnitAmount: stripe.Int64(input.UnitAmountCents),
		Currency:   stripe.String(strings.ToLower(input.Currency)),
		Recurring:  recurring,
	}
	priceParams.Context = ctx

	pr, err := price.New(priceParams)
	if err != nil {
		return ProductRef{}, wrapError("create price", err)
	}
	return ProductRef{ProductID: prod.ID, PriceID: pr.ID}, nil
}

func (c *stripeClient) CreatePaymentLink(ctx context.Context, input PaymentLinkInput) (string, error) {
	params := &stripe.PaymentLinkParams{
		LineItems: []*stripe.PaymentLinkLineItemParams{{
			Price:    stripe.String(input.PriceID),
			Quantity: stripe.Int64(quantityOrOne(input.Quantity)),
		}},
		// the invoice carries the metadata so invoice.paid is self-describing
		InvoiceCreation: &stripe.PaymentLinkInvoiceCreationParams{
			Enabled: stripe.Bool(true),
			InvoiceData: &stripe.PaymentLinkInvoiceCreationInvoiceDataParams{
				Metadata: input.Metadata,
			},
		},
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	applyCommon(ctx, &params.Params, input.IdempotencyKey)

	link, err := paymentlink.New(params)
	if err != nil {
		return "", wrapError("create payment link", err)
	}
	return link.URL, nil
}

func (c *stripeClient) CreateSendInvoiceSubscription(ctx context.Context, input SubscriptionInput) (SubscriptionRef, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(input.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{{
			Price:    stripe.String(input.PriceID),
			Quantity: stripe.Int64(quantityOrOne(input.Quantity)),
		}},
		CollectionMethod: stripe.String(CollectionSendInvoice),
		DaysUntilDue:     stripe.Int64(input.DaysUntilDue),
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddExpand("latest_invoice")
	applyCommon(ctx, &params.Params, input.IdempotencyKey)

	sub, err := subscription.New(params)
	if err != nil {
		return SubscriptionRef{}, wrapError("create subscription", err)
	}
	return subscriptionRef(sub), nil
}

func (c *stripeClient) GetSubscription(ctx context.Context, id string) (SubscriptionRef, error) {
	if err := requireID("get subscription", id); err != nil {
		return SubscriptionRef{}, err
	}
	params := &stripe.SubscriptionParams{}
	params.AddExpand("latest_invoice")
	params.Context = ctx

	sub, err := subscription.Get(id, params)
	if err != nil {
		return SubscriptionRef{}, wrapError("get subscription", err)
	}
	return subscriptionRef(sub), nil
}

func (c *stripeClient) UpdateSubscription(ctx context.Context, id string, input UpdateInput) (SubscriptionRef, error) {
	if err := requireID("update subscription", id); err != nil {
		return SubscriptionRef{}, err
	}

	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	current, err := subscription.Get(id, getParams)
	if err != nil {
		return SubscriptionRef{}, wrapError("get subscription", err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return SubscriptionRef{}, pkgerrors.New(pkgerrors.CodeGateway, "subscription has no items")
	}

	item := &stripe.SubscriptionItemsParams{ID: stripe.String(current.Items.Data[0].ID)}
	if input.PriceID != "" {
		item.Price = stripe.String(input.PriceID)
	}
	if input.Quantity > 0 {
		item.Quantity = stripe.Int64(input.Quantity)
	}
	params := &stripe.SubscriptionParams{
		Items:             []*stripe.SubscriptionItemsParams{item},
		ProrationBehavior: stripe.String(prorationAlwaysInvoice),
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddExpand("latest_invoice")
	applyCommon(ctx, &params.Params, input.IdempotencyKey)

	sub, err := subscription.Update(id, params)
	if err != nil {
		return SubscriptionRef{}, wrapError("update subscription", err)
	}
	return subscriptionRef(sub), nil
}

func (c *stripeClient) SetAutomaticCollection(ctx context.Context, id string) error {
	if err := requireID("set automatic collection", id); err != nil {
		return err
	}
	params := &stripe.SubscriptionParams{
		CollectionMethod: stripe.String(CollectionChargeAutomatically),
	}
	params.Context = ctx
	if _, err := subscription.Update(id, params); err != nil {
		return wrapError("set automatic collection", err)
	}
	return nil
}

func (c *stripeClient) CancelSubscription(ctx context.Context, id string) error {
	if err := requireID("cancel subscription", id); err != nil {
		return err
	}
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := subscription.Cancel(id, params); err != nil {
		return wrapError("cancel subscription", err)
	}
	return nil
}

func (c *stripeClient) GetInvoice(ctx context.Context, id string) (InvoiceRef, error) {
	if err := requireID("get invoice", id); err != nil {
		return InvoiceRef{}, err
	}
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	inv, err := invoice.Get(id, params)
	if err != nil {
		return InvoiceRef{}, wrapError("get invoice", err)
	}
	return invoiceRef(inv), nil
}

func (c *stripeClient) GetCheckoutSession(ctx context.Context, id string) (CheckoutSessionRef, error) {
	if err := requireID("get checkout session", id); err != nil {
		return CheckoutSessionRef{}, err
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := checkoutsession.Get(id, params)
	if err != nil {
		return CheckoutSessionRef{}, wrapError("get checkout session", err)
	}
	ref := CheckoutSessionRef{
		ID:            sess.ID,
		Status:        string(sess.Status),
		PaymentStatus: string(sess.PaymentStatus),
		Metadata:      sess.Metadata,
	}
	if sess.Subscription != nil {
		ref.SubscriptionID = sess.Subscription.ID
	}
	if sess.Customer != nil {
		ref.CustomerID = sess.Customer.ID
	}
	return ref, nil
}

func subscriptionRef(sub *stripe.Subscription) SubscriptionRef {
	if sub == nil {
		return SubscriptionRef{}
	}
	ref := SubscriptionRef{
		ID:               sub.ID,
		Status:           string(sub.Status),
		CollectionMethod: string(sub.CollectionMethod),
		Metadata:         sub.Metadata,
	}
	if sub.Customer != nil {
		ref.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		ref.Quantity = item.Quantity
		if item.Price != nil {
			ref.PriceID = item.Price.ID
		}
	}
	if sub.LatestInvoice != nil {
		ref.LatestInvoiceID = sub.LatestInvoice.ID
		ref.LatestInvoiceURL = sub.LatestInvoice.HostedInvoiceURL
	}
	return ref
}

func invoiceRef(inv *stripe.Invoice) InvoiceRef {
	if inv == nil {
		return InvoiceRef{}
	}
	ref := InvoiceRef{
		ID:               inv.ID,
		Status:           string(inv.Status),
		HostedInvoiceURL: inv.HostedInvoiceURL,
		AmountPaidCents:  inv.AmountPaid,
		Currency:         string(inv.Currency),
		CollectionMethod: string(inv.CollectionMethod),
		Metadata:         inv.Metadata,
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		ref.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
	}
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line != nil {
				ref.LinesTotalCents += line.Amount
			}
		}
	}
	return ref
}

func quantityOrOne(q int64) int64 {
	if q <= 0 {
		return 1
	}
	return q
}
