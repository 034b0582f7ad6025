package stripewebhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/kotilabs/housing-backend/internal/gateway"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
)

// Kind is the gateway event type string.
type Kind string

const (
	KindSubscriptionCreated Kind = "customer.subscription.created"
	KindSubscriptionUpdated Kind = "customer.subscription.updated"
	KindSubscriptionDeleted Kind = "customer.subscription.deleted"
	KindInvoiceFinalized    Kind = "invoice.finalized"
	KindInvoicePaid         Kind = "invoice.paid"
)

// Event is the closed set of gateway events the dispatcher understands.
// Every known kind is decoded into its own type at the boundary; anything
// else becomes Unhandled.
type Event interface {
	EventID() string
	Kind() Kind
	sealed()
}

type header struct {
	id   string
	kind Kind
}

func (h header) EventID() string { return h.id }
func (h header) Kind() Kind       { return h.kind }
func (header) sealed()            {}

// Routing is the metadata attached by every mutating gateway call. Zero
// ids mean the key was absent.
type Routing struct {
	TenantID      uuid.UUID
	PlanID        uuid.UUID
	UserID        uuid.UUID
	ProductItemID uuid.UUID
	Quantity      int64
}

// HasSubscriptionRoute reports whether tenant and plan are both present.
func (r Routing) HasSubscriptionRoute() bool {
	return r.TenantID != uuid.Nil && r.PlanID != uuid.Nil
}

type SubscriptionCreated struct {
	header
	SubscriptionID  string
	Status          string
	PriceID         string
	Quantity        int64
	LatestInvoiceID string
	Routing         Routing
}

type SubscriptionUpdated struct {
	header
	SubscriptionID string
	Status         string
	PriceID        string
	Quantity       int64
	Routing        Routing
}

type SubscriptionDeleted struct {
	header
	SubscriptionID string
	Routing        Routing
}

type InvoiceFinalized struct {
	header
	InvoiceID        string
	SubscriptionID   string
	HostedInvoiceURL string
	Routing          Routing
}

type InvoicePaid struct {
	header
	InvoiceID        string
	SubscriptionID   string
	HostedInvoiceURL string
	CollectionMethod string
	Currency         string
	AmountPaidCents  int64
	LinesTotalCents  int64
	PaidAt           time.Time
	Routing          Routing
}

type Unhandled struct {
	header
	Type string
}

// ParseEvent decodes a verified gateway event. Malformed payloads for known
// kinds are validation errors.
func ParseEvent(evt stripe.Event) (Event, error) {
	h := header{id: evt.ID, kind: Kind(evt.Type)}
	if strings.TrimSpace(evt.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id missing")
	}
	var raw json.RawMessage
	if evt.Data != nil {
		raw = evt.Data.Raw
	}

	switch h.kind {
	case KindSubscriptionCreated, KindSubscriptionUpdated, KindSubscriptionDeleted:
		return parseSubscriptionEvent(h, raw)
	case KindInvoiceFinalized, KindInvoicePaid:
		return parseInvoiceEvent(h, raw)
	default:
		return Unhandled{header: h, Type: string(evt.Type)}, nil
	}
}

type rawSubscription struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	Metadata      map[string]string `json:"metadata"`
	LatestInvoice expandableID      `json:"latest_invoice"`
	Items         struct {
		Data []struct {
			Quantity int64 `json:"quantity"`
			Price    struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func parseSubscriptionEvent(h header, raw json.RawMessage) (Event, error) {
	var sub rawSubscription
	if err := decodeObject(raw, &sub); err != nil {
		return nil, malformed(h, err)
	}
	if sub.ID == "" {
		return nil, malformed(h, fmt.Errorf("subscription id missing"))
	}
	routing, err := parseRouting(sub.Metadata)
	if err != nil {
		return nil, malformed(h, err)
	}

	var priceID string
	var quantity int64
	if len(sub.Items.Data) > 0 {
		priceID = sub.Items.Data[0].Price.ID
		quantity = sub.Items.Data[0].Quantity
	}
	if quantity <= 0 {
		quantity = routing.Quantity
	}

	switch h.kind {
	case KindSubscriptionCreated:
		return SubscriptionCreated{
			header:          h,
			SubscriptionID:  sub.ID,
			Status:          sub.Status,
			PriceID:         priceID,
			Quantity:        quantity,
			LatestInvoiceID: string(sub.LatestInvoice),
			Routing:         routing,
		}, nil
	case KindSubscriptionUpdated:
		return SubscriptionUpdated{
			header:         h,
			SubscriptionID: sub.ID,
			Status:         sub.Status,
			PriceID:        priceID,
			Quantity:       quantity,
			Routing:        routing,
		}, nil
	default:
		return SubscriptionDeleted{header: h, SubscriptionID: sub.ID, Routing: routing}, nil
	}
}

type rawInvoice struct {
	ID               string            `json:"id"`
	Subscription     expandableID      `json:"subscription"`
	Metadata         map[string]string `json:"metadata"`
	HostedInvoiceURL string            `json:"hosted_invoice_url"`
	AmountPaid       int64             `json:"amount_paid"`
	Currency         string            `json:"currency"`
	CollectionMethod string            `json:"collection_method"`
	Parent           *struct {
		SubscriptionDetails *struct {
			Subscription expandableID      `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Amount   int64             `json:"amount"`
			Metadata map[string]string `json:"metadata"`
		} `json:"data"`
	} `json:"lines"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
}

func parseInvoiceEvent(h header, raw json.RawMessage) (Event, error) {
	var inv rawInvoice
	if err := decodeObject(raw, &inv); err != nil {
		return nil, malformed(h, err)
	}
	if inv.ID == "" {
		return nil, malformed(h, fmt.Errorf("invoice id missing"))
	}

	// Subscription invoices carry routing on the subscription details;
	// one-off invoices carry it on the invoice or its lines.
	metadata := map[string]string{}
	for _, line := range inv.Lines.Data {
		mergeInto(metadata, line.Metadata)
	}
	subscriptionID := string(inv.Subscription)
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		mergeInto(metadata, inv.Parent.SubscriptionDetails.Metadata)
		if id := string(inv.Parent.SubscriptionDetails.Subscription); id != "" {
			subscriptionID = id
		}
	}
	mergeInto(metadata, inv.Metadata)

	routing, err := parseRouting(metadata)
	if err != nil {
		return nil, malformed(h, err)
	}

	if h.kind == KindInvoiceFinalized {
		return InvoiceFinalized{
			header:           h,
			InvoiceID:        inv.ID,
			SubscriptionID:   subscriptionID,
			HostedInvoiceURL: inv.HostedInvoiceURL,
			Routing:          routing,
		}, nil
	}

	var linesTotal int64
	for _, line := range inv.Lines.Data {
		linesTotal += line.Amount
	}
	var paidAt time.Time
	if inv.StatusTransitions.PaidAt > 0 {
		paidAt = time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
	}
	return InvoicePaid{
		header:           h,
		InvoiceID:        inv.ID,
		SubscriptionID:   subscriptionID,
		HostedInvoiceURL: inv.HostedInvoiceURL,
		CollectionMethod: inv.CollectionMethod,
		Currency:         strings.ToLower(inv.Currency),
		AmountPaidCents:  inv.AmountPaid,
		LinesTotalCents:  linesTotal,
		PaidAt:           paidAt,
		Routing:          routing,
	}, nil
}

func parseRouting(metadata map[string]string) (Routing, error) {
	var r Routing
	var err error
	if r.TenantID, err = metadataUUID(metadata, gateway.MetaTenantID); err != nil {
		return r, err
	}
	if r.PlanID, err = metadataUUID(metadata, gateway.MetaSubscriptionPlanID); err != nil {
		return r, err
	}
	if r.UserID, err = metadataUUID(metadata, gateway.MetaUserID); err != nil {
		return r, err
	}
	if r.ProductItemID, err = metadataUUID(metadata, gateway.MetaPaymentProductItemID); err != nil {
		return r, err
	}
	if raw := strings.TrimSpace(metadata[gateway.MetaQuantity]); raw != "" {
		q, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || q < 0 {
			return r, fmt.Errorf("metadata %s: invalid quantity %q", gateway.MetaQuantity, raw)
		}
		r.Quantity = q
	}
	return r, nil
}

func metadataUUID(metadata map[string]string, key string) (uuid.UUID, error) {
	raw := strings.TrimSpace(metadata[key])
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("metadata %s: %w", key, err)
	}
	return id, nil
}

func mergeInto(dst, src map[string]string) {
	for k, v := range src {
		if strings.TrimSpace(v) != "" {
			dst[k] = v
		}
	}
}

func decodeObject(raw json.RawMessage, dest any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("event object missing")
	}
	return json.Unmarshal(raw, dest)
}

func malformed(h header, err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed "+string(h.kind)+" event").
		WithDetails(map[string]any{"event_id": h.id})
}

// expandableID accepts either an id string or an expanded object with an id.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}
