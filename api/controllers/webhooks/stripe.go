package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/kotilabs/housing-backend/api/responses"
	stripewebhook "github.com/kotilabs/housing-backend/internal/webhooks/stripe"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	"github.com/kotilabs/housing-backend/pkg/logger"
)

// maxPayloadBytes mirrors the gateway's documented event size ceiling.
const maxPayloadBytes = 512 * 1024

type deliveryHandler interface {
	HandleDelivery(ctx context.Context, source stripewebhook.Source, payload []byte, signature string) (stripewebhook.Result, error)
}

// StripeWebhook accepts raw gateway deliveries for the given signing source.
func StripeWebhook(svc deliveryHandler, source stripewebhook.Source, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		res, err := svc.HandleDelivery(ctx, source, payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}
