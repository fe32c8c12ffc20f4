package controllers

import (
	"net/http"

	"github.com/quanhe-tech/tiershop-backend/api/responses"
	"github.com/quanhe-tech/tiershop-backend/api/validators"
	"github.com/quanhe-tech/tiershop-backend/internal/payments"
	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
)

// PaymentCallback receives gateway payment notifications. Duplicate
// deliveries get a 200 so the gateway stops retrying.
func PaymentCallback(svc *payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var cb payments.Callback
		if err := validators.DecodeJSONBody(r, &cb); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := svc.HandleCallback(ctx, cb); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "ok"})
	}
}
