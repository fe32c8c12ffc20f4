package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quanhe-tech/tiershop-backend/api/responses"
	"github.com/quanhe-tech/tiershop-backend/api/validators"
	"github.com/quanhe-tech/tiershop-backend/internal/orders"
	pkgerrors "github.com/quanhe-tech/tiershop-backend/pkg/errors"
	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
)

type createOrderRequest struct {
	BuyerID         string  `json:"buyer_id" validate:"required,uuid"`
	ProductID       string  `json:"product_id" validate:"required,uuid"`
	SKUID           *string `json:"sku_id,omitempty" validate:"omitempty,uuid"`
	Quantity        int     `json:"quantity" validate:"required,gt=0"`
	AddressSnapshot string  `json:"address_snapshot" validate:"required"`
	Remark          *string `json:"remark,omitempty"`
}

// CreateOrder opens a pending order for a buyer.
func CreateOrder(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := orders.CreateInput{
			BuyerID:         uuid.MustParse(req.BuyerID),
			ProductID:       uuid.MustParse(req.ProductID),
			Quantity:        req.Quantity,
			AddressSnapshot: req.AddressSnapshot,
			Remark:          req.Remark,
		}
		if req.SKUID != nil {
			skuID := uuid.MustParse(*req.SKUID)
			input.SKUID = &skuID
		}

		order, err := svc.Create(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// GetOrder returns one order family.
func GetOrder(repo orders.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orderID, err := pathUUID(r, "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "order not found"))
			return
		}
		responses.WriteSuccess(w, order)
	}
}

type cancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CancelOrder cancels an order family and restores its stock.
func CancelOrder(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orderID, err := pathUUID(r, "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var req cancelOrderRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}
		if err := svc.Cancel(ctx, orderID, req.Reason); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "cancelled"})
	}
}

// ConfirmOrder completes a shipped order on buyer confirmation.
func ConfirmOrder(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orderID, err := pathUUID(r, "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := svc.Confirm(ctx, orderID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "completed"})
	}
}

type redeemPickupRequest struct {
	OrderNo    string `json:"order_no" validate:"required"`
	PickupCode string `json:"pickup_code" validate:"required"`
}

// RedeemPickup completes a self-pickup order at handover.
func RedeemPickup(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req redeemPickupRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := svc.RedeemPickup(ctx, req.OrderNo, req.PickupCode); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "completed"})
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" must be a valid uuid")
	}
	return id, nil
}
