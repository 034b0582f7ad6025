package invoices

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kotilabs/housing-backend/api/controllers/callerctx"
	"github.com/kotilabs/housing-backend/api/responses"
	"github.com/kotilabs/housing-backend/api/validators"
	invsvc "github.com/kotilabs/housing-backend/internal/invoices"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	"github.com/kotilabs/housing-backend/pkg/logger"
)

type createBatchRequest struct {
	Name      string            `json:"name" validate:"required,max=200"`
	DueDate   *time.Time        `json:"due_date,omitempty"`
	Currency  string            `json:"currency,omitempty" validate:"omitempty,len=3"`
	Receivers []invsvc.Receiver `json:"receivers" validate:"required,min=1,max=1000,dive"`
	Items     []invsvc.Item     `json:"items" validate:"required,min=1,max=50,dive"`
}

type markPaidRequest struct {
	AmountCents int64 `json:"amount_cents" validate:"gt=0"`
}

type groupResponse struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	CreatedOn        time.Time  `json:"created_on"`
	PaymentDueDate   *time.Time `json:"payment_due_date,omitempty"`
	ExpectedCount    int        `json:"expected_count"`
	NumberOfInvoices int        `json:"number_of_invoices"`
}

type invoiceItemResponse struct {
	Description   string `json:"description"`
	UnitCostCents int64  `json:"unit_cost_cents"`
	Quantity      int64  `json:"quantity"`
	TaxPercent    string `json:"tax_percent"`
}

type invoiceResponse struct {
	ID                uuid.UUID             `json:"id"`
	InvoiceGroupID    uuid.UUID             `json:"invoice_group_id"`
	ReceiverName      string                `json:"receiver_name"`
	ReceiverEmail     *string               `json:"receiver_email,omitempty"`
	ReceiverApartment *string               `json:"receiver_apartment,omitempty"`
	ReferenceNumber   string                `json:"reference_number"`
	VirtualBarcode    string                `json:"virtual_barcode"`
	SubtotalCents     int64                 `json:"subtotal_cents"`
	PaidCents         int64                 `json:"paid_cents"`
	Currency          string                `json:"currency"`
	Status            string                `json:"status"`
	DueDate           *time.Time            `json:"due_date,omitempty"`
	DocumentPath      *string               `json:"document_path,omitempty"`
	Items             []invoiceItemResponse `json:"items,omitempty"`
}

type batchResponse struct {
	Group    groupResponse            `json:"group"`
	Invoices []invoiceResponse        `json:"invoices"`
	Failures []invsvc.ReceiverFailure `json:"failures,omitempty"`
}

func newGroupResponse(g models.InvoiceGroup) groupResponse {
	return groupResponse{
		ID:               g.ID,
		Name:             g.Name,
		CreatedOn:        g.CreatedOn,
		PaymentDueDate:   g.PaymentDueDate,
		ExpectedCount:    g.ExpectedCount,
		NumberOfInvoices: g.NumberOfInvoices,
	}
}

func newInvoiceResponse(inv models.Invoice) invoiceResponse {
	out := invoiceResponse{
		ID:                inv.ID,
		InvoiceGroupID:    inv.InvoiceGroupID,
		ReceiverName:      inv.ReceiverName,
		ReceiverEmail:     inv.ReceiverEmail,
		ReceiverApartment: inv.ReceiverApartment,
		ReferenceNumber:   inv.ReferenceNumber,
		VirtualBarcode:    inv.VirtualBarcode,
		SubtotalCents:     inv.SubtotalCents,
		PaidCents:         inv.PaidCents,
		Currency:          inv.Currency,
		Status:            string(inv.Status),
		DueDate:           inv.DueDate,
		DocumentPath:      inv.DocumentPath,
	}
	for _, it := range inv.Items {
		out.Items = append(out.Items, invoiceItemResponse{
			Description:   it.Description,
			UnitCostCents: it.UnitCostCents,
			Quantity:      it.Quantity,
			TaxPercent:    it.TaxPercent.StringFixed(2),
		})
	}
	return out
}

func newInvoiceList(invs []models.Invoice) []invoiceResponse {
	out := make([]invoiceResponse, 0, len(invs))
	for _, inv := range invs {
		out = append(out, newInvoiceResponse(inv))
	}
	return out
}

// CreateBatch issues one invoice per receiver. Receivers that fail are
// listed in the response while their siblings stay committed.
func CreateBatch(svc invsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}
		actor, err := callerctx.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createBatchRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		res, err := svc.CreateBatch(r.Context(), invsvc.BatchInput{
			Actor:     actor,
			Name:      validators.SanitizeString(payload.Name, 200),
			DueDate:   payload.DueDate,
			Currency:  payload.Currency,
			Receivers: payload.Receivers,
			Items:     payload.Items,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, batchResponse{
			Group:    newGroupResponse(res.Group),
			Invoices: newInvoiceList(res.Invoices),
			Failures: res.Failures,
		})
	}
}

func GetGroup(svc invsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}
		actor, err := callerctx.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		groupID, err := validators.ParseUUIDParam(r, "groupId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.GetGroup(r.Context(), actor.TenantID, groupID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, batchResponse{
			Group:    newGroupResponse(view.Group),
			Invoices: newInvoiceList(view.Invoices),
		})
	}
}

func GetInvoice(svc invsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}
		actor, err := callerctx.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		invoiceID, err := validators.ParseUUIDParam(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		inv, err := svc.Get(r.Context(), actor.TenantID, invoiceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newInvoiceResponse(*inv))
	}
}

func DeleteInvoice(svc invsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}
		actor, err := callerctx.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		invoiceID, err := validators.ParseUUIDParam(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Delete(r.Context(), actor, invoiceID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func MarkPaid(svc invsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}
		actor, err := callerctx.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		invoiceID, err := validators.ParseUUIDParam(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload markPaidRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		inv, err := svc.MarkPaid(r.Context(), actor, invoiceID, payload.AmountCents)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newInvoiceResponse(*inv))
	}
}
