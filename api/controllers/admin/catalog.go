package admin

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/kotilabs/housing-backend/api/controllers/payments"
	"github.com/kotilabs/housing-backend/api/responses"
	"github.com/kotilabs/housing-backend/api/validators"
	"github.com/kotilabs/housing-backend/internal/catalog"
	"github.com/kotilabs/housing-backend/pkg/enums"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	"github.com/kotilabs/housing-backend/pkg/logger"
)

type createProductRequest struct {
	Name            string          `json:"name" validate:"required,max=200"`
	Description     string          `json:"description,omitempty" validate:"max=2000"`
	UnitAmountCents int64           `json:"unit_amount_cents" validate:"gt=0"`
	Currency        string          `json:"currency,omitempty" validate:"omitempty,len=3"`
	TaxPercent      decimal.Decimal `json:"tax_percent"`
}

type createPlanRequest struct {
	createProductRequest
	Interval string `json:"interval,omitempty" validate:"omitempty,oneof=month year"`
}

func CreatePlan(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		var payload createPlanRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		plan, err := svc.CreatePlan(r.Context(), catalog.CreatePlanInput{
			Name:            validators.SanitizeString(payload.Name, 200),
			Description:     validators.SanitizeString(payload.Description, 2000),
			UnitAmountCents: payload.UnitAmountCents,
			Currency:        payload.Currency,
			Interval:        enums.BillingInterval(payload.Interval),
			TaxPercent:      payload.TaxPercent,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, payments.NewPlanResponse(*plan))
	}
}

func CreateProductItem(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		var payload createProductRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		item, err := svc.CreateProductItem(r.Context(), catalog.CreateItemInput{
			Name:            validators.SanitizeString(payload.Name, 200),
			Description:     validators.SanitizeString(payload.Description, 2000),
			UnitAmountCents: payload.UnitAmountCents,
			Currency:        payload.Currency,
			TaxPercent:      payload.TaxPercent,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, payments.NewProductItemResponse(*item))
	}
}
