package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/quanhe-tech/tiershop-backend/api/responses"
	"github.com/quanhe-tech/tiershop-backend/api/validators"
	"github.com/quanhe-tech/tiershop-backend/internal/fulfillment"
	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
)

type agentConfirmRequest struct {
	AgentID string `json:"agent_id" validate:"required,uuid"`
}

// AgentConfirm lets the routed agent claim a paid order.
func AgentConfirm(svc *fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orderID, err := pathUUID(r, "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var req agentConfirmRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		order, err := svc.AgentConfirm(ctx, orderID, uuid.MustParse(req.AgentID))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// RequestShipping queues a paid company order for warehouse shipment.
func RequestShipping(svc *fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orderID, err := pathUUID(r, "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := svc.RequestShipping(ctx, orderID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "shipping_requested"})
	}
}

// ShipOrder ships an order on whichever fulfillment side claimed it.
func ShipOrder(svc *fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orderID, err := pathUUID(r, "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := svc.Ship(ctx, orderID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "shipped"})
	}
}
