package fulfillment

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quanhe-tech/tiershop-backend/internal/commission"
	"github.com/quanhe-tech/tiershop-backend/internal/notifications"
	"github.com/quanhe-tech/tiershop-backend/internal/orders"
	"github.com/quanhe-tech/tiershop-backend/internal/referral"
	"github.com/quanhe-tech/tiershop-backend/internal/regional"
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

// Service resolves which side fulfills an order and runs the shipment
// path. Agent shipment is where every commission row is born; company
// shipment produces none.
type Service struct {
	tx       txRunner
	orders   orders.Repository
	users    users.Repository
	ledger   *stock.Ledger
	ledgerSv *commission.Service
	walker   *referral.Walker
	notifier *notifications.Service
	regional *regional.Service

	now  func() time.Time
	logg *logger.Logger
}

// NewService wires the fulfillment service.
func NewService(
	tx txRunner,
	ordersRepo orders.Repository,
	usersRepo users.Repository,
	ledger *stock.Ledger,
	commissions *commission.Service,
	walker *referral.Walker,
	notifier *notifications.Service,
	regionalSvc *regional.Service,
	logg *logger.Logger,
) (*Service, error) {
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
	if commissions == nil {
		return nil, fmt.Errorf("commission service required")
	}
	if walker == nil {
		return nil, fmt.Errorf("referral walker required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		tx:       tx,
		orders:   ordersRepo,
		users:    usersRepo,
		ledger:   ledger,
		ledgerSv: commissions,
		walker:   walker,
		notifier: notifier,
		regional: regionalSvc,
		now:      time.Now,
		logg:     logg,
	}, nil
}

// AgentConfirm claims a paid agent-routed order. The agent's cloud stock is
// held through a short-lived reservation so two simultaneous confirms on
// the last units cannot both succeed; actual deduction waits for shipment.
func (s *Service) AgentConfirm(ctx context.Context, orderID, agentID uuid.UUID) (*models.Order, error) {
	var confirmed *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if order.FulfillmentType != enums.FulfillmentTypeAgentPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting an agent claim")
		}
		if order.FulfillmentPartnerID == nil || *order.FulfillmentPartnerID != agentID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order is routed to a different agent")
		}
		if err := orders.ValidateTransition(order.Status, enums.OrderStatusAgentConfirmed); err != nil {
			return err
		}

		if _, err := s.ledger.ReserveCloud(ctx, tx, agentID, order.ID, order.Quantity); err != nil {
			return err
		}

		code, err := pickupCode()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate pickup code")
		}
		token := uuid.NewString()
		if err := repo.Update(ctx, order.ID, map[string]any{
			"status":           enums.OrderStatusAgentConfirmed,
			"fulfillment_type": enums.FulfillmentTypeAgent,
			"pickup_code":      code,
			"pickup_qr_token":  token,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm agent claim")
		}

		order.Status = enums.OrderStatusAgentConfirmed
		order.FulfillmentType = enums.FulfillmentTypeAgent
		order.PickupCode = &code
		order.PickupQRToken = &token
		confirmed = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Send(ctx, notifications.SendInput{
		UserID:   confirmed.BuyerID,
		Title:    "order confirmed by agent",
		Body:     fmt.Sprintf("order %s was claimed for agent fulfillment", confirmed.OrderNo),
		Category: enums.NotificationCategoryOrder,
		RefID:    &confirmed.ID,
	})
	return confirmed, nil
}

// RequestShipping moves a paid company-fulfilled order into the warehouse
// queue.
func (s *Service) RequestShipping(ctx context.Context, orderID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if order.FulfillmentType != enums.FulfillmentTypeCompany {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "shipping requests apply to company fulfillment only")
		}
		if order.Status == enums.OrderStatusShippingRequested {
			return nil
		}
		if err := orders.ValidateTransition(order.Status, enums.OrderStatusShippingRequested); err != nil {
			return err
		}
		return repo.Update(ctx, order.ID, map[string]any{
			"status": enums.OrderStatusShippingRequested,
		})
	})
}

// Ship dispatches on the order's fulfillment type. The pre-lock read only
// discovers which rows to lock; every precondition is re-checked after the
// locks are held.
func (s *Service) Ship(ctx context.Context, orderID uuid.UUID) error {
	peek, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	switch peek.FulfillmentType {
	case enums.FulfillmentTypeAgent:
		return s.shipAgent(ctx, peek)
	case enums.FulfillmentTypeCompany:
		return s.shipCompany(ctx, peek.ID)
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no claimed fulfillment side")
	}
}

func (s *Service) shipCompany(ctx context.Context, orderID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if order.FulfillmentType != enums.FulfillmentTypeCompany {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "fulfillment side changed")
		}
		if err := orders.ValidateTransition(order.Status, enums.OrderStatusShipped); err != nil {
			return err
		}
		return repo.Update(ctx, order.ID, map[string]any{
			"status":     enums.OrderStatusShipped,
			"shipped_at": s.now().UTC(),
		})
	})
}

type integrityAlert struct {
	userID uuid.UUID
	body   string
}

// shipAgent consumes the cloud stock hold and writes the frozen commission
// rows. Locks go product, SKU, buyer, then order; the agent row is locked
// inside the cloud stock decrement.
func (s *Service) shipAgent(ctx context.Context, peek *models.Order) error {
	var (
		alerts   []integrityAlert
		shipped  *models.Order
		gapTotal int64
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		product, err := s.ledger.LockProduct(ctx, tx, peek.ProductID)
		if err != nil {
			return err
		}
		var sku *models.ProductSKU
		if peek.SKUID != nil {
			sku, err = s.ledger.LockSKU(ctx, tx, *peek.SKUID)
			if err != nil {
				return err
			}
		}
		buyer, err := s.users.WithTx(tx).FindByIDForUpdate(ctx, peek.BuyerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock buyer")
		}

		repo := s.orders.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, peek.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if order.FulfillmentType != enums.FulfillmentTypeAgent || order.FulfillmentPartnerID == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not agent-claimed")
		}
		if err := orders.ValidateTransition(order.Status, enums.OrderStatusShipped); err != nil {
			return err
		}
		agentID := *order.FulfillmentPartnerID

		if err := s.ledger.ConsumeReservation(ctx, tx, agentID, order.ID, order.Quantity); err != nil {
			return err
		}

		price := func(tier enums.UserTier) int64 {
			if sku != nil {
				return sku.PriceForTier(tier)
			}
			return product.PriceForTier(tier)
		}
		segments, err := s.walker.Walk(ctx, buyer, &agentID, price, order.Quantity)
		if err != nil {
			return err
		}

		gapTotal = 0
		for _, seg := range segments {
			if _, err := s.ledgerSv.CreateFrozen(ctx, tx, commission.CreateFrozenInput{
				OrderID:   order.ID,
				UserID:    seg.UserID,
				AmountFen: seg.AmountFen,
				Type:      enums.CommissionTypeGap,
			}); err != nil {
				return err
			}
			gapTotal += seg.AmountFen
		}

		margin := order.TotalFen - order.LockedAgentCostFen*int64(order.Quantity) - gapTotal
		if margin > 0 {
			if _, err := s.ledgerSv.CreateFrozen(ctx, tx, commission.CreateFrozenInput{
				OrderID:   order.ID,
				UserID:    agentID,
				AmountFen: margin,
				Type:      enums.CommissionTypeAgentFulfillment,
			}); err != nil {
				return err
			}
		} else {
			alerts = append(alerts, integrityAlert{
				userID: agentID,
				body: fmt.Sprintf("order %s agent margin is %d fen; check cost and price tables",
					order.OrderNo, margin),
			})
		}

		now := s.now().UTC()
		remark := order.Remark
		marked := appendMarker(remark)
		if err := repo.Update(ctx, order.ID, map[string]any{
			"status":                      enums.OrderStatusShipped,
			"shipped_at":                  now,
			"middle_commission_total_fen": gapTotal,
			"remark":                      marked,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order shipped")
		}
		order.Status = enums.OrderStatusShipped
		shipped = order
		return nil
	})
	if err != nil {
		return err
	}

	for _, alert := range alerts {
		s.notifier.Send(ctx, notifications.SendInput{
			UserID:   alert.userID,
			Title:    "non-positive agent margin",
			Body:     alert.body,
			Category: enums.NotificationCategoryOpsAlert,
			RefID:    &shipped.ID,
		})
		s.logg.Warn(s.logg.WithOrderNo(ctx, shipped.OrderNo), "agent margin not positive")
	}
	if s.regional != nil {
		buyer, err := s.users.FindByID(ctx, shipped.BuyerID)
		if err == nil {
			s.regional.Attribute(ctx, shipped.ID, buyer.City, shipped.TotalFen)
		} else {
			s.logg.Error(ctx, "regional attribution skipped", err)
		}
	}
	return nil
}

// ReassignToCompany moves an unclaimed agent order to company fulfillment.
// Used by the claim-timeout sweep.
func (s *Service) ReassignToCompany(ctx context.Context, orderID uuid.UUID) error {
	var buyerID uuid.UUID
	var orderNo string
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if order.FulfillmentType != enums.FulfillmentTypeAgentPending ||
			order.Status != enums.OrderStatusPaid {
			return nil
		}
		if err := s.ledger.ReleaseReservation(ctx, tx, order.ID); err != nil {
			return err
		}
		if err := orders.ValidateTransition(order.Status, enums.OrderStatusShippingRequested); err != nil {
			return err
		}
		buyerID = order.BuyerID
		orderNo = order.OrderNo
		return repo.Update(ctx, order.ID, map[string]any{
			"status":                 enums.OrderStatusShippingRequested,
			"fulfillment_type":       enums.FulfillmentTypeCompany,
			"fulfillment_partner_id": nil,
		})
	})
	if err != nil {
		return err
	}
	if buyerID != uuid.Nil {
		s.notifier.Send(ctx, notifications.SendInput{
			UserID:   buyerID,
			Title:    "order moved to platform fulfillment",
			Body:     fmt.Sprintf("order %s will be shipped by the platform warehouse", orderNo),
			Category: enums.NotificationCategoryOrder,
			RefID:    &orderID,
		})
	}
	return nil
}

func appendMarker(existing *string) string {
	if existing == nil || *existing == "" {
		return models.RemarkStockReserved
	}
	return *existing + " " + models.RemarkStockReserved
}

func pickupCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
