package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quanhe-tech/tiershop-backend/internal/stock"
	"github.com/quanhe-tech/tiershop-backend/internal/users"
	"github.com/quanhe-tech/tiershop-backend/pkg/db"
	"github.com/quanhe-tech/tiershop-backend/pkg/db/models"
	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
	pkgerrors "github.com/quanhe-tech/tiershop-backend/pkg/errors"
	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
	"github.com/quanhe-tech/tiershop-backend/pkg/ordernum"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// refundDeadlineStamper backfills refund deadlines onto the commission rows
// an order produced at shipment. Satisfied by the commission service.
type refundDeadlineStamper interface {
	StampRefundDeadline(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, deadline time.Time) error
}

// Segment is one physical order the split policy wants created. The first
// segment becomes the parent row; any further segments become children
// sharing the parent's buyer, product and address snapshot.
type Segment struct {
	Quantity        int
	FulfillmentType enums.FulfillmentType
	PartnerID       *uuid.UUID
}

// SplitPolicy decides how a purchase splits across fulfillment sides.
// Returned quantities must sum to the requested quantity.
type SplitPolicy func(buyer *models.User, qty int) []Segment

// DefaultSplitPolicy routes the whole quantity to the buyer's agent when
// one is attached, otherwise to company fulfillment.
func DefaultSplitPolicy(buyer *models.User, qty int) []Segment {
	if buyer.AgentID != nil {
		return []Segment{{
			Quantity:        qty,
			FulfillmentType: enums.FulfillmentTypeAgentPending,
			PartnerID:       buyer.AgentID,
		}}
	}
	return []Segment{{
		Quantity:        qty,
		FulfillmentType: enums.FulfillmentTypeCompany,
	}}
}

// Service owns the order state machine: creation with the split policy,
// payment stamping, cancellation, confirmation and pickup redemption.
// Shipment lives in the fulfillment package, refunds in refunds.
type Service struct {
	tx      txRunner
	repo    Repository
	users   users.Repository
	ledger      *stock.Ledger
	numbers     *ordernum.Generator
	commissions refundDeadlineStamper
	split       SplitPolicy

	refundWindow time.Duration
	now          func() time.Time
	logg         *logger.Logger
}

// NewService wires an order service.
func NewService(
	tx txRunner,
	repo Repository,
	usersRepo users.Repository,
	ledger *stock.Ledger,
	numbers *ordernum.Generator,
	commissions refundDeadlineStamper,
	refundWindow time.Duration,
	logg *logger.Logger,
) (*Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if usersRepo == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if numbers == nil {
		return nil, fmt.Errorf("order number generator required")
	}
	if commissions == nil {
		return nil, fmt.Errorf("commission stamper required")
	}
	if refundWindow <= 0 {
		return nil, fmt.Errorf("refund window must be positive")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		tx:           tx,
		repo:         repo,
		users:        usersRepo,
		ledger:       ledger,
		numbers:      numbers,
		commissions:  commissions,
		split:        DefaultSplitPolicy,
		refundWindow: refundWindow,
		now:          time.Now,
		logg:         logg,
	}, nil
}

// SetSplitPolicy overrides the split policy. Intended for setup, not for
// concurrent use once orders are flowing.
func (s *Service) SetSplitPolicy(policy SplitPolicy) {
	if policy != nil {
		s.split = policy
	}
}

// CreateInput is a buyer's purchase request.
type CreateInput struct {
	BuyerID         uuid.UUID
	ProductID       uuid.UUID
	SKUID           *uuid.UUID
	Quantity        int
	AddressSnapshot string
	Remark          *string
}

// Create opens one pending order (or a parent plus children when the split
// policy produces several segments) and deducts platform stock exactly once
// for the combined quantity. Lock order is product, SKU, buyer.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if input.AddressSnapshot == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "address snapshot required")
	}

	var parent *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		product, err := s.ledger.LockProduct(ctx, tx, input.ProductID)
		if err != nil {
			return err
		}
		if !product.OnSale {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "product is not on sale")
		}
		if err := validatePriceTable(product); err != nil {
			return err
		}

		var sku *models.ProductSKU
		if input.SKUID != nil {
			sku, err = s.ledger.LockSKU(ctx, tx, *input.SKUID)
			if err != nil {
				return err
			}
			if sku.ProductID != product.ID {
				return pkgerrors.New(pkgerrors.CodeValidation, "sku does not belong to product")
			}
		}

		buyer, err := s.users.WithTx(tx).FindByIDForUpdate(ctx, input.BuyerID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "buyer not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock buyer")
		}

		unitFen := product.PriceForTier(buyer.Tier)
		if sku != nil {
			unitFen = sku.PriceForTier(buyer.Tier)
		}
		if unitFen <= 0 {
			return pkgerrors.New(pkgerrors.CodeIntegrity, "resolved unit price is not positive")
		}
		// A sale below the locked agent cost would ship at a negative
		// margin. Reject it here rather than at fulfillment.
		if unitFen < product.AgentCostFen {
			return pkgerrors.New(pkgerrors.CodeIntegrity, "resolved unit price is below agent cost")
		}

		segments := s.split(buyer, input.Quantity)
		if err := validateSegments(segments, input.Quantity); err != nil {
			return err
		}

		if err := s.ledger.DeductPlatform(ctx, tx, product.ID, input.SKUID, input.Quantity); err != nil {
			return err
		}

		repo := s.repo.WithTx(tx)
		for i, seg := range segments {
			order := &models.Order{
				OrderNo:              s.numbers.Next(),
				BuyerID:              buyer.ID,
				AgentID:              buyer.AgentID,
				Status:               enums.OrderStatusPending,
				ProductID:            product.ID,
				SKUID:                input.SKUID,
				Quantity:             seg.Quantity,
				TotalFen:             unitFen * int64(seg.Quantity),
				LockedAgentCostFen:   product.AgentCostFen,
				FulfillmentType:      seg.FulfillmentType,
				FulfillmentPartnerID: seg.PartnerID,
				AddressSnapshot:      input.AddressSnapshot,
				Remark:               input.Remark,
			}
			if i > 0 {
				parentID := parent.ID
				order.ParentOrderID = &parentID
			}
			// The insert runs under a savepoint: Postgres aborts the
			// whole transaction after a failed statement, so the
			// collision retry must roll back to a clean point first.
			sp := fmt.Sprintf("order_insert_%d", i)
			if err := tx.SavePoint(sp).Error; err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "savepoint")
			}
			created, err := repo.Create(ctx, order)
			if err != nil && db.IsUniqueViolation(err, "order_no") {
				if err := tx.RollbackTo(sp).Error; err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rollback to savepoint")
				}
				// The generator's random suffix collided. One fresh draw
				// is enough; a second collision aborts the purchase.
				order.OrderNo = s.numbers.Next()
				created, err = repo.Create(ctx, order)
			}
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
			}
			if i == 0 {
				parent = created
			} else {
				parent.Children = append(parent.Children, *created)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrderNo(ctx, parent.OrderNo)
	s.logg.Info(ctx, "order created")
	return parent, nil
}

func validatePriceTable(p *models.Product) error {
	if p.RetailPriceFen < p.MemberPriceFen ||
		p.MemberPriceFen < p.LeaderPriceFen ||
		p.LeaderPriceFen < p.AgentPriceFen ||
		p.AgentPriceFen <= 0 {
		return pkgerrors.New(pkgerrors.CodeIntegrity, "product price table is inverted")
	}
	return nil
}

func validateSegments(segments []Segment, wantQty int) error {
	if len(segments) == 0 {
		return pkgerrors.New(pkgerrors.CodeIntegrity, "split policy produced no segments")
	}
	total := 0
	for _, seg := range segments {
		if seg.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeIntegrity, "split segment quantity must be positive")
		}
		if !seg.FulfillmentType.IsValid() {
			return pkgerrors.New(pkgerrors.CodeIntegrity, "split segment fulfillment type unknown")
		}
		if seg.FulfillmentType != enums.FulfillmentTypeCompany && seg.PartnerID == nil {
			return pkgerrors.New(pkgerrors.CodeIntegrity, "agent segment missing partner")
		}
		total += seg.Quantity
	}
	if total != wantQty {
		return pkgerrors.New(pkgerrors.CodeIntegrity, "split segment quantities do not sum to order quantity")
	}
	return nil
}

// MarkPaid moves a pending parent (and its children) to paid inside the
// caller's transaction. The row state is re-checked under the lock so a
// duplicate payment callback lands on a no-op, not a double transition.
// It returns false when the order is already paid.
func (s *Service) MarkPaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actualFen int64, paidAt time.Time) (bool, error) {
	repo := s.repo.WithTx(tx)
	order, err := repo.FindByIDForUpdate(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
	}
	if order.ParentOrderID != nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "payment must target the parent order")
	}
	if order.Status == enums.OrderStatusPaid {
		return false, nil
	}
	if err := ValidateTransition(order.Status, enums.OrderStatusPaid); err != nil {
		return false, err
	}

	// The parent carries the full captured amount; children keep zero so
	// summing actual_fen across the family never double counts.
	if err := repo.Update(ctx, order.ID, map[string]any{
		"status":     enums.OrderStatusPaid,
		"actual_fen": actualFen,
		"paid_at":    paidAt,
	}); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
	}
	for i := range order.Children {
		child := &order.Children[i]
		if err := ValidateTransition(child.Status, enums.OrderStatusPaid); err != nil {
			return false, err
		}
		if err := repo.Update(ctx, child.ID, map[string]any{
			"status":  enums.OrderStatusPaid,
			"paid_at": paidAt,
		}); err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark child order paid")
		}
	}
	return true, nil
}

// Cancel closes the order family and restores platform stock for the
// combined quantity in one shot. A paid order refunds the captured amount
// to the buyer's balance. Already-cancelled orders are a no-op.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID, reason string) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if order.ParentOrderID != nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "cancel must target the parent order")
		}
		if order.Status == enums.OrderStatusCancelled {
			return nil
		}
		if err := ValidateTransition(order.Status, enums.OrderStatusCancelled); err != nil {
			return err
		}

		now := s.now().UTC()
		if err := s.ledger.RestorePlatform(ctx, tx, order.ProductID, order.SKUID, order.CombinedQuantity()); err != nil {
			return err
		}
		if err := s.ledger.ReleaseReservation(ctx, tx, order.ID); err != nil {
			return err
		}
		if order.Status != enums.OrderStatusPending && order.ActualFen > 0 {
			if err := s.users.WithTx(tx).AddBalance(ctx, order.BuyerID, order.ActualFen); err != nil {
				return err
			}
		}

		updates := map[string]any{
			"status":       enums.OrderStatusCancelled,
			"cancelled_at": now,
		}
		if reason != "" {
			updates["remark"] = appendRemark(order.Remark, "cancelled: "+reason)
		}
		if err := repo.Update(ctx, order.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		for i := range order.Children {
			child := &order.Children[i]
			if child.Status == enums.OrderStatusCancelled {
				continue
			}
			if err := ValidateTransition(child.Status, enums.OrderStatusCancelled); err != nil {
				return err
			}
			if err := repo.Update(ctx, child.ID, map[string]any{
				"status":       enums.OrderStatusCancelled,
				"cancelled_at": now,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel child order")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logg.Info(s.logg.WithField(ctx, "order_id", orderID.String()), "order cancelled")
	return nil
}

// Confirm completes a shipped order and stamps the refund deadline. The
// settlement sweeps key off settlement_at, so completion without the stamp
// would leave the commissions frozen forever.
func (s *Service) Confirm(ctx context.Context, orderID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.confirmInTx(ctx, tx, orderID)
	})
}

// ConfirmInTx is Confirm for callers already holding a transaction, such as
// the auto-confirm sweep.
func (s *Service) ConfirmInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	return s.confirmInTx(ctx, tx, orderID)
}

func (s *Service) confirmInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	order, err := repo.FindByIDForUpdate(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
	}
	if order.Status == enums.OrderStatusCompleted {
		return nil
	}
	if err := ValidateTransition(order.Status, enums.OrderStatusCompleted); err != nil {
		return err
	}

	now := s.now().UTC()
	settlementAt := now.Add(s.refundWindow)
	updates := map[string]any{
		"status":        enums.OrderStatusCompleted,
		"confirmed_at":  now,
		"settlement_at": settlementAt,
	}
	if err := repo.Update(ctx, order.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm order")
	}
	if err := s.commissions.StampRefundDeadline(ctx, tx, order.ID, settlementAt); err != nil {
		return err
	}
	for i := range order.Children {
		child := &order.Children[i]
		if child.Status == enums.OrderStatusCompleted {
			continue
		}
		if err := ValidateTransition(child.Status, enums.OrderStatusCompleted); err != nil {
			return err
		}
		if err := repo.Update(ctx, child.ID, map[string]any{
			"status":        enums.OrderStatusCompleted,
			"confirmed_at":  now,
			"settlement_at": settlementAt,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm child order")
		}
		if err := s.commissions.StampRefundDeadline(ctx, tx, child.ID, settlementAt); err != nil {
			return err
		}
	}
	return nil
}

// RedeemPickup completes a shipped self-pickup order after checking the
// code the buyer presents. The agent side calls this at handover.
func (s *Service) RedeemPickup(ctx context.Context, orderNo, code string) error {
	if code == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "pickup code required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByOrderNoForUpdate(ctx, orderNo)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if order.PickupCode == nil || *order.PickupCode != code {
			return pkgerrors.New(pkgerrors.CodeForbidden, "pickup code mismatch")
		}
		return s.confirmInTx(ctx, tx, order.ID)
	})
}

// ForceTransition is the administrative escape hatch. It still routes
// through the transition table; there is no bypass even for operators.
func (s *Service) ForceTransition(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus, reason string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if err := ValidateTransition(order.Status, to); err != nil {
			return err
		}
		updates := map[string]any{"status": to}
		if reason != "" {
			updates["remark"] = appendRemark(order.Remark, "forced: "+reason)
		}
		return repo.Update(ctx, order.ID, updates)
	})
}

func appendRemark(existing *string, note string) string {
	if existing == nil || *existing == "" {
		return note
	}
	return *existing + " " + note
}
