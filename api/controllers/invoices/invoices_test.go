package invoices

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotilabs/housing-backend/api/middleware"
	"github.com/kotilabs/housing-backend/internal/dbtest"
	"github.com/kotilabs/housing-backend/internal/gateway/gatewaytest"
	invsvc "github.com/kotilabs/housing-backend/internal/invoices"
	"github.com/kotilabs/housing-backend/internal/tenants"
	"github.com/kotilabs/housing-backend/pkg/auth"
	"github.com/kotilabs/housing-backend/pkg/enums"
	"github.com/kotilabs/housing-backend/pkg/outbox"
	"github.com/kotilabs/housing-backend/pkg/types"
)

type fixture struct {
	router http.Handler
	actor  auth.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.New(t)
	tenant := dbtest.MustCreateTenant(t, client.DB())
	tenantSvc, err := tenants.NewService(tenants.NewRepository(client.DB()), gatewaytest.New())
	require.NoError(t, err)
	svc, err := invsvc.NewService(invsvc.ServiceParams{
		Repo:        invsvc.NewRepository(client.DB()),
		Tx:          client,
		Tenants:     tenantSvc,
		Outbox:      outbox.NewService(outbox.NewRepository(client.DB()), nil),
		FanOutLimit: 4,
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Post("/invoices/batches", CreateBatch(svc, nil))
	r.Get("/invoices/batches/{groupId}", GetGroup(svc, nil))
	r.Get("/invoices/{invoiceId}", GetInvoice(svc, nil))
	r.Delete("/invoices/{invoiceId}", DeleteInvoice(svc, nil))
	r.Post("/invoices/{invoiceId}/payments", MarkPaid(svc, nil))

	return &fixture{
		router: r,
		actor:  auth.Actor{UserID: uuid.New(), TenantID: tenant.ID, Role: enums.TenantRoleManager},
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any, actor auth.Actor) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(middleware.WithActor(req.Context(), actor))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	require.NoError(t, json.Unmarshal(env.Data, dest))
}

func batchBody() map[string]any {
	return map[string]any{
		"name":     "January maintenance",
		"due_date": "2027-01-31T00:00:00Z",
		"receivers": []map[string]any{
			{"name": "A. Virtanen", "email": "a@example.test", "apartment": "A1"},
			{"name": "B. Korhonen"},
			{"name": "C. Nieminen", "apartment": "C3"},
		},
		"items": []map[string]any{
			{"description": "Maintenance charge", "unit_cost_cents": 10000, "quantity": 1, "tax_percent": "0"},
		},
	}
}

func TestCreateBatchOfThree(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/invoices/batches", batchBody(), f.actor)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out batchResponse
	decodeData(t, rec, &out)

	assert.Equal(t, 3, out.Group.NumberOfInvoices)
	assert.Equal(t, 3, out.Group.ExpectedCount)
	require.Len(t, out.Invoices, 3)
	assert.Empty(t, out.Failures)
	refs := map[string]bool{}
	for _, inv := range out.Invoices {
		assert.EqualValues(t, 10000, inv.SubtotalCents)
		assert.Equal(t, "pending", inv.Status)
		assert.NotEmpty(t, inv.VirtualBarcode)
		refs[inv.ReferenceNumber] = true
	}
	assert.Len(t, refs, 3)

	rec = f.do(t, http.MethodGet, "/invoices/batches/"+out.Group.ID.String(), nil, f.actor)
	require.Equal(t, http.StatusOK, rec.Code)
	var view batchResponse
	decodeData(t, rec, &view)
	assert.Len(t, view.Invoices, 3)
}

func TestCreateBatchValidation(t *testing.T) {
	f := newFixture(t)

	body := batchBody()
	body["receivers"] = []map[string]any{}
	rec := f.do(t, http.MethodPost, "/invoices/batches", body, f.actor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = batchBody()
	body["items"] = []map[string]any{{"description": "Broken", "unit_cost_cents": 100, "quantity": 0}}
	rec = f.do(t, http.MethodPost, "/invoices/batches", body, f.actor)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var env types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	details, ok := env.Error.Details.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, details, "items[0].quantity")

	resident := f.actor
	resident.Role = enums.TenantRoleResident
	rec = f.do(t, http.MethodPost, "/invoices/batches", batchBody(), resident)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteInvoiceDecrementsGroupOnce(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/invoices/batches", batchBody(), f.actor)
	require.Equal(t, http.StatusCreated, rec.Code)
	var out batchResponse
	decodeData(t, rec, &out)
	target := out.Invoices[0].ID.String()

	rec = f.do(t, http.MethodDelete, "/invoices/"+target, nil, f.actor)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/invoices/"+target, nil, f.actor)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/invoices/batches/"+out.Group.ID.String(), nil, f.actor)
	require.Equal(t, http.StatusOK, rec.Code)
	var view batchResponse
	decodeData(t, rec, &view)
	assert.Equal(t, 2, view.Group.NumberOfInvoices)
	assert.Len(t, view.Invoices, 2)

	rec = f.do(t, http.MethodGet, "/invoices/"+target, nil, f.actor)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/invoices/"+uuid.NewString(), nil, f.actor)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarkPaid(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/invoices/batches", batchBody(), f.actor)
	require.Equal(t, http.StatusCreated, rec.Code)
	var out batchResponse
	decodeData(t, rec, &out)
	target := out.Invoices[0].ID.String()

	rec = f.do(t, http.MethodPost, "/invoices/"+target+"/payments", map[string]any{"amount_cents": 0}, f.actor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/invoices/"+target+"/payments", map[string]any{"amount_cents": 10000}, f.actor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var inv invoiceResponse
	decodeData(t, rec, &inv)
	assert.EqualValues(t, 10000, inv.PaidCents)
	assert.Equal(t, "paid", inv.Status)
}
