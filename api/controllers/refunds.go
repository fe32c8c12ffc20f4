package controllers

import (
	"net/http"

	"github.com/quanhe-tech/tiershop-backend/api/responses"
	"github.com/quanhe-tech/tiershop-backend/api/validators"
	"github.com/quanhe-tech/tiershop-backend/internal/refunds"
	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
	pkgerrors "github.com/quanhe-tech/tiershop-backend/pkg/errors"
	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
)

type requestRefundRequest struct {
	AmountFen int64  `json:"amount_fen" validate:"required,gt=0"`
	Type      string `json:"type" validate:"required,oneof=refund_only return_refund"`
	Reason    string `json:"reason,omitempty"`
}

// RequestRefund opens a refund request on a shipped or completed order.
func RequestRefund(engine *refunds.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orderID, err := pathUUID(r, "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var req requestRefundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		refundType, err := enums.ParseRefundType(req.Type)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown refund type"))
			return
		}
		request, err := engine.Request(ctx, refunds.RequestInput{
			OrderID:   orderID,
			AmountFen: req.AmountFen,
			Type:      refundType,
			Reason:    req.Reason,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, request)
	}
}

// ApproveRefund executes the reversal for a pending request.
func ApproveRefund(engine *refunds.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID, err := pathUUID(r, "requestID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := engine.Approve(ctx, requestID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "completed"})
	}
}

type rejectRefundRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// RejectRefund closes a pending request without reversing.
func RejectRefund(engine *refunds.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID, err := pathUUID(r, "requestID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var req rejectRefundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := engine.Reject(ctx, requestID, req.Reason); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "rejected"})
	}
}
