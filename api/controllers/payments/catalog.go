package payments

import (
	"net/http"
	"time"

	"github.com/kotilabs/housing-backend/api/controllers/callerctx"
	"github.com/kotilabs/housing-backend/api/responses"
	"github.com/kotilabs/housing-backend/api/validators"
	"github.com/kotilabs/housing-backend/internal/billing"
	"github.com/kotilabs/housing-backend/internal/catalog"
	"github.com/kotilabs/housing-backend/internal/credits"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	"github.com/kotilabs/housing-backend/pkg/logger"
	"github.com/kotilabs/housing-backend/pkg/pagination"
)

func ListPlans(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}
		plans, err := svc.ListPlans(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]PlanResponse, 0, len(plans))
		for _, p := range plans {
			out = append(out, NewPlanResponse(p))
		}
		responses.WriteSuccess(w, out)
	}
}

func ListProductItems(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}
		items, err := svc.ListProductItems(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]ProductItemResponse, 0, len(items))
		for _, it := range items {
			out = append(out, NewProductItemResponse(it))
		}
		responses.WriteSuccess(w, out)
	}
}

type keyProvider interface {
	PublishableKey() string
	Environment() string
}

func PublishableKey(keys keyProvider, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if keys == nil || keys.PublishableKey() == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "publishable key not configured"))
			return
		}
		responses.WriteSuccess(w, map[string]string{
			"publishable_key": keys.PublishableKey(),
			"environment":     keys.Environment(),
		})
	}
}

type balanceResponse struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

func CreditBalance(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}
		actor, err := callerctx.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bal, err := svc.GetBalance(r.Context(), actor.TenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balanceResponse{AmountCents: bal.AmountCents, Currency: bal.Currency})
	}
}

type creditEntryResponse struct {
	ID                  string    `json:"id"`
	AmountCents         int64     `json:"amount_cents"`
	Currency            string    `json:"currency"`
	AddedOn             time.Time `json:"added_on"`
	SourceInvoiceID     *string   `json:"source_invoice_id,omitempty"`
	SourceProductItemID *string   `json:"source_product_item_id,omitempty"`
}

func CreditEntries(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}
		actor, err := callerctx.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := svc.ListEntries(r.Context(), actor.TenantID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]creditEntryResponse, 0, len(entries))
		for _, e := range entries {
			resp := creditEntryResponse{
				ID:              e.ID.String(),
				AmountCents:     e.AmountCents,
				Currency:        e.Currency,
				AddedOn:         e.AddedOn.UTC(),
				SourceInvoiceID: e.SourceInvoiceID,
			}
			if e.SourceProductItemID != nil {
				id := e.SourceProductItemID.String()
				resp.SourceProductItemID = &id
			}
			out = append(out, resp)
		}
		responses.WriteSuccess(w, out)
	}
}

type subscriptionInvoicePage struct {
	Invoices   []subscriptionInvoiceResponse `json:"invoices"`
	NextCursor string                        `json:"next_cursor,omitempty"`
}

func SubscriptionInvoices(svc *billing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		actor, err := callerctx.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListInvoices(r.Context(), actor.TenantID, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := subscriptionInvoicePage{
			Invoices:   make([]subscriptionInvoiceResponse, 0, len(page.Invoices)),
			NextCursor: page.NextCursor,
		}
		for _, inv := range page.Invoices {
			out.Invoices = append(out.Invoices, newSubscriptionInvoiceResponse(inv))
		}
		responses.WriteSuccess(w, out)
	}
}
