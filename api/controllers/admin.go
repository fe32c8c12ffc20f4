package controllers

import (
	"context"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/quanhe-tech/tiershop-backend/api/responses"
	"github.com/quanhe-tech/tiershop-backend/api/validators"
	"github.com/quanhe-tech/tiershop-backend/internal/commission"
	"github.com/quanhe-tech/tiershop-backend/internal/orders"
	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
	pkgerrors "github.com/quanhe-tech/tiershop-backend/pkg/errors"
	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ApproveCommission moves a pending-approval row to approved, scheduling
// its payout after the configured delay.
func ApproveCommission(db txRunner, svc *commission.Service, approvalDelay time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		commissionID, err := pathUUID(r, "commissionID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var approved bool
		err = db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			approved, err = svc.Approve(ctx, tx, commissionID, time.Now().UTC().Add(approvalDelay))
			return err
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if !approved {
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeStateConflict, "commission is not pending approval"))
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "approved"})
	}
}

type forceTransitionRequest struct {
	To     string `json:"to" validate:"required"`
	Reason string `json:"reason,omitempty"`
}

// ForceTransitionOrder applies an operator-driven status move. It runs the
// same transition validator as every user path.
func ForceTransitionOrder(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orderID, err := pathUUID(r, "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var req forceTransitionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		to, err := enums.ParseOrderStatus(req.To)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status"))
			return
		}
		if err := svc.ForceTransition(ctx, orderID, to, req.Reason); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": string(to)})
	}
}
