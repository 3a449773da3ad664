package webhooks

import (
	"io"
	"net/http"

	"github.com/stagepass/stagepass-backend/api/responses"
	internalwebhooks "github.com/stagepass/stagepass-backend/internal/webhooks"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
)

// maxWebhookBody caps how much of a notification we will buffer.
const maxWebhookBody = 1 << 20

// PayPalCheckout receives CHECKOUT.ORDER.APPROVED notifications.
func PayPalCheckout(svc *internalwebhooks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.HandleCheckout(r.Context(), r.Header, body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// PayPalPayment receives PAYMENT.CAPTURE.COMPLETED notifications.
func PayPalPayment(svc *internalwebhooks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.HandlePayment(r.Context(), r.Header, body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable webhook body")
	}
	return body, nil
}
