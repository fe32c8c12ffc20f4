package refunds

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quanhe-tech/tiershop-backend/internal/commission"
	"github.com/quanhe-tech/tiershop-backend/internal/notifications"
	"github.com/quanhe-tech/tiershop-backend/internal/orders"
	"github.com/quanhe-tech/tiershop-backend/internal/stock"
	"github.com/quanhe-tech/tiershop-backend/internal/users"
	"github.com/quanhe-tech/tiershop-backend/pkg/db/models"
	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
	pkgerrors "github.com/quanhe-tech/tiershop-backend/pkg/errors"
	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Engine reverses commissions and stock when a refund lands. It may run
// concurrently with the settlement sweeps; every commission row move is a
// guarded status transition, so whichever side advances a row first wins
// and the other skips it.
type Engine struct {
	tx          txRunner
	orders      orders.Repository
	users       users.Repository
	ledger      *stock.Ledger
	commissions *commission.Service
	commRepo    commission.Repository
	notifier    *notifications.Service

	// fullTolerance is the refund ratio at and above which the refund is
	// treated as full even when rounding shaved a few fen off.
	fullTolerance decimal.Decimal
	now           func() time.Time
	logg          *logger.Logger
}

// NewEngine wires the refund reversal engine.
func NewEngine(
	tx txRunner,
	ordersRepo orders.Repository,
	usersRepo users.Repository,
	ledger *stock.Ledger,
	commissions *commission.Service,
	commRepo commission.Repository,
	notifier *notifications.Service,
	fullTolerance float64,
	logg *logger.Logger,
) (*Engine, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if usersRepo == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if commissions == nil || commRepo == nil {
		return nil, fmt.Errorf("commission service and repository required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if fullTolerance <= 0 || fullTolerance > 1 {
		fullTolerance = 0.99
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Engine{
		tx:            tx,
		orders:        ordersRepo,
		users:         usersRepo,
		ledger:        ledger,
		commissions:   commissions,
		commRepo:      commRepo,
		notifier:      notifier,
		fullTolerance: decimal.NewFromFloat(fullTolerance),
		now:           time.Now,
		logg:          logg,
	}, nil
}

// RequestInput opens a refund request against a parent order.
type RequestInput struct {
	OrderID   uuid.UUID
	AmountFen int64
	Type      enums.RefundType
	Reason    string
}

// Request records a pending refund. Only one open request per order; the
// open request also blocks the commission release sweep.
func (e *Engine) Request(ctx context.Context, input RequestInput) (*models.RefundRequest, error) {
	if input.AmountFen <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown refund type")
	}

	var request *models.RefundRequest
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.orders.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if order.ParentOrderID != nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "refunds target the parent order")
		}
		if order.Status != enums.OrderStatusShipped && order.Status != enums.OrderStatusCompleted {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refunds open only after shipment")
		}
		if order.Status == enums.OrderStatusCompleted &&
			order.SettlementAt != nil && e.now().UTC().After(*order.SettlementAt) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund window has closed")
		}
		refunded, err := completedRefundsFen(ctx, tx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum completed refunds")
		}
		if input.AmountFen > paidBasis(order)-refunded {
			return pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds refundable amount")
		}
		open, err := repo.HasOpenRefund(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check open refunds")
		}
		if open {
			return pkgerrors.New(pkgerrors.CodeConflict, "order already has an open refund")
		}

		request = &models.RefundRequest{
			OrderID:   order.ID,
			AmountFen: input.AmountFen,
			Type:      input.Type,
			Status:    enums.RefundStatusPending,
			Reason:    input.Reason,
		}
		if err := tx.WithContext(ctx).Create(request).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund request")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// Reject closes a pending request without reversing anything.
func (e *Engine) Reject(ctx context.Context, requestID uuid.UUID, reason string) error {
	return e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		res := tx.WithContext(ctx).
			Model(&models.RefundRequest{}).
			Where("id = ? AND status = ?", requestID, enums.RefundStatusPending).
			Updates(map[string]any{
				"status": enums.RefundStatusRejected,
				"reason": reason,
			})
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reject refund")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund request is not pending")
		}
		return nil
	})
}

// Approve executes the reversal for a pending request. Full refunds cancel
// or claw back every commission row, restore stock per the policy matrix
// and move the order to refunded; partial refunds prorate the rows that
// have not settled yet and leave the order where it is.
func (e *Engine) Approve(ctx context.Context, requestID uuid.UUID) error {
	var (
		buyerID   uuid.UUID
		orderNo   string
		amountFen int64
	)
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var request models.RefundRequest
		err := tx.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", requestID).
			First(&request).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "refund request not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock refund request")
		}
		if request.Status != enums.RefundStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund request already processed")
		}

		repo := e.orders.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, request.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}

		buyerID = order.BuyerID
		orderNo = order.OrderNo
		amountFen = request.AmountFen

		// The ratio is measured against what is still refundable, so a
		// second partial refund prorates the already-reduced rows by its
		// own share of the remainder. Two 50%-of-original refunds land as
		// 0.5 then 1.0, emptying the rows instead of leaving a tail.
		refunded, err := completedRefundsFen(ctx, tx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum completed refunds")
		}
		basis := paidBasis(order) - refunded
		if basis <= 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is already fully refunded")
		}
		ratio := decimal.NewFromInt(request.AmountFen).Div(decimal.NewFromInt(basis))
		full := ratio.GreaterThanOrEqual(e.fullTolerance)

		if full {
			if err := e.reverseFull(ctx, tx, order, &request); err != nil {
				return err
			}
		} else {
			if err := e.reversePartial(ctx, tx, order, ratio); err != nil {
				return err
			}
		}

		// Money back to the buyer regardless of depth of reversal.
		if err := e.users.WithTx(tx).AddBalance(ctx, order.BuyerID, request.AmountFen); err != nil {
			return err
		}

		now := e.now().UTC()
		res := tx.WithContext(ctx).
			Model(&models.RefundRequest{}).
			Where("id = ? AND status = ?", request.ID, enums.RefundStatusPending).
			Updates(map[string]any{
				"status":       enums.RefundStatusCompleted,
				"completed_at": now,
			})
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "complete refund request")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "refund request advanced concurrently")
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.notifier.Send(ctx, notifications.SendInput{
		UserID:   buyerID,
		Title:    "refund completed",
		Body:     fmt.Sprintf("order %s refunded %d fen to your balance", orderNo, amountFen),
		Category: enums.NotificationCategoryRefund,
		RefID:    &requestID,
	})
	e.logg.Info(e.logg.WithField(ctx, "refund_request_id", requestID.String()), "refund processed")
	return nil
}

// reverseFull cancels every commission row across the order family, claws
// back settled ones, restores stock per the policy matrix and closes the
// order family as refunded. Row failures are collected so one bad row
// reports alongside the rest instead of masking them.
func (e *Engine) reverseFull(ctx context.Context, tx *gorm.DB, order *models.Order, request *models.RefundRequest) error {
	now := e.now().UTC()
	familyIDs := append([]uuid.UUID{order.ID}, childIDs(order)...)

	var rowErrs error
	commRepo := e.commRepo.WithTx(tx)
	for _, orderID := range familyIDs {
		rows, err := commRepo.FindByOrderIDForUpdate(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock commissions")
		}
		for i := range rows {
			row := &rows[i]
			if err := e.reverseRow(ctx, tx, row); err != nil {
				rowErrs = multierr.Append(rowErrs, fmt.Errorf("commission %s: %w", row.ID, err))
			}
		}
	}
	if rowErrs != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, rowErrs, "reverse commissions")
	}

	// Stock policy: platform stock returns only when goods come back;
	// cloud stock returns only when it was actually deducted and the
	// goods come back.
	if request.Type == enums.RefundTypeReturnRefund {
		if err := e.ledger.RestorePlatform(ctx, tx, order.ProductID, order.SKUID, order.CombinedQuantity()); err != nil {
			return err
		}
		if order.HasCloudStockMarker() && order.FulfillmentPartnerID != nil {
			if err := e.ledger.RestoreCloud(ctx, tx, *order.FulfillmentPartnerID, order.Quantity); err != nil {
				return err
			}
		}
	}

	repo := e.orders.WithTx(tx)
	if err := orders.ValidateTransition(order.Status, enums.OrderStatusRefunded); err != nil {
		return err
	}
	if err := repo.Update(ctx, order.ID, map[string]any{
		"status":      enums.OrderStatusRefunded,
		"refunded_at": now,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order refunded")
	}
	for i := range order.Children {
		child := &order.Children[i]
		if child.Status.IsTerminal() {
			continue
		}
		if err := orders.ValidateTransition(child.Status, enums.OrderStatusRefunded); err != nil {
			return err
		}
		if err := repo.Update(ctx, child.ID, map[string]any{
			"status":      enums.OrderStatusRefunded,
			"refunded_at": now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark child order refunded")
		}
	}
	return nil
}

// reverseRow terminates one commission row. Settled rows go through the
// balance clawback with debt fallback, then to cancelled so a rerun skips
// them; everything pre-settled cancels outright.
func (e *Engine) reverseRow(ctx context.Context, tx *gorm.DB, row *models.CommissionLog) error {
	if row.Status == enums.CommissionStatusCancelled {
		return nil
	}
	if row.Status == enums.CommissionStatusSettled {
		if err := e.commissions.ClawbackSettled(ctx, tx, row); err != nil {
			return err
		}
		_, err := e.commRepo.WithTx(tx).AdvanceStatus(ctx, row.ID,
			enums.CommissionStatusSettled, enums.CommissionStatusCancelled, nil)
		return err
	}
	_, err := e.commissions.Cancel(ctx, tx, row.ID, "cancelled by full refund")
	return err
}

// reversePartial shrinks every not-yet-settled row to its unrefunded share.
// Settled rows keep their payout; the refund window closing before the
// settle sweep runs makes that the common case anyway.
func (e *Engine) reversePartial(ctx context.Context, tx *gorm.DB, order *models.Order, ratio decimal.Decimal) error {
	remaining := decimal.NewFromInt(1).Sub(ratio)
	familyIDs := append([]uuid.UUID{order.ID}, childIDs(order)...)

	var rowErrs error
	commRepo := e.commRepo.WithTx(tx)
	for _, orderID := range familyIDs {
		rows, err := commRepo.FindByOrderIDForUpdate(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock commissions")
		}
		for i := range rows {
			row := &rows[i]
			if row.Status == enums.CommissionStatusSettled || row.Status == enums.CommissionStatusCancelled {
				continue
			}
			newAmount := decimal.NewFromInt(row.AmountFen).Mul(remaining).Floor().IntPart()
			if _, err := e.commissions.Reduce(ctx, tx, row.ID, newAmount); err != nil {
				rowErrs = multierr.Append(rowErrs, fmt.Errorf("commission %s: %w", row.ID, err))
			}
		}
	}
	if rowErrs != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, rowErrs, "prorate commissions")
	}
	return nil
}

func completedRefundsFen(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error) {
	var total int64
	err := tx.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("order_id = ? AND status = ?", orderID, enums.RefundStatusCompleted).
		Select("COALESCE(SUM(amount_fen), 0)").
		Scan(&total).Error
	return total, err
}

func paidBasis(order *models.Order) int64 {
	if order.ActualFen > 0 {
		return order.ActualFen
	}
	return order.CombinedTotalFen()
}

func childIDs(order *models.Order) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(order.Children))
	for i := range order.Children {
		ids = append(ids, order.Children[i].ID)
	}
	return ids
}
