package payments

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/kotilabs/housing-backend/api/controllers/callerctx"
	"github.com/kotilabs/housing-backend/api/responses"
	"github.com/kotilabs/housing-backend/api/validators"
	subsvc "github.com/kotilabs/housing-backend/internal/subscriptions"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	"github.com/kotilabs/housing-backend/pkg/logger"
)

type startSubscriptionRequest struct {
	PlanID   uuid.UUID `json:"plan_id" validate:"required"`
	Quantity int64     `json:"quantity" validate:"gte=0"`
}

type startSubscriptionResponse struct {
	Subscription     *subscriptionResponse `json:"subscription"`
	HostedInvoiceURL string                `json:"hosted_invoice_url"`
}

type changeSubscriptionRequest struct {
	NewPlanID     *uuid.UUID `json:"new_plan_id,omitempty"`
	Quantity      int64      `json:"quantity,omitempty" validate:"gte=0"`
	QuantityDelta int64      `json:"quantity_delta,omitempty"`
}

type hostedURLResponse struct {
	URL string `json:"url"`
}

func StartSubscription(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		actor, err := callerctx.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload startSubscriptionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		res, err := svc.StartSubscription(r.Context(), subsvc.StartInput{
			Actor:    actor,
			PlanID:   payload.PlanID,
			Quantity: payload.Quantity,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, startSubscriptionResponse{
			Subscription:     newSubscriptionResponse(res.Subscription),
			HostedInvoiceURL: res.HostedInvoiceURL,
		})
	}
}

func ChangeSubscription(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		actor, err := callerctx.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		planID, err := validators.ParseUUIDParam(r, "planId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload changeSubscriptionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.NewPlanID == nil && payload.Quantity == 0 && payload.QuantityDelta == 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "nothing to change"))
			return
		}

		url, err := svc.ChangeQuantityOrPlan(r.Context(), subsvc.ChangeInput{
			Actor:         actor,
			PlanID:        planID,
			NewPlanID:     payload.NewPlanID,
			Quantity:      payload.Quantity,
			QuantityDelta: payload.QuantityDelta,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, hostedURLResponse{URL: url})
	}
}

func CancelSubscription(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		actor, err := callerctx.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		planID, err := validators.ParseUUIDParam(r, "planId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.Cancel(r.Context(), actor, planID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

func CheckoutStatus(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		actor, err := callerctx.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
		if sessionID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "session_id is required"))
			return
		}

		status, err := svc.CheckoutStatus(r.Context(), actor, sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"checkout":     status,
			"subscription": newSubscriptionResponse(status.Subscription),
		})
	}
}

func ActiveSubscriptions(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		actor, err := callerctx.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		subs, err := svc.GetActive(r.Context(), actor.TenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]*subscriptionResponse, 0, len(subs))
		for i := range subs {
			out = append(out, newSubscriptionResponse(&subs[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

type purchaseRequest struct {
	Quantity int64 `json:"quantity" validate:"gte=0"`
}

func PurchaseProductItem(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		actor, err := callerctx.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := validators.ParseUUIDParam(r, "productItemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload purchaseRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		url, err := svc.PurchaseOneOff(r.Context(), subsvc.PurchaseInput{
			Actor:         actor,
			ProductItemID: itemID,
			Quantity:      payload.Quantity,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, hostedURLResponse{URL: url})
	}
}
