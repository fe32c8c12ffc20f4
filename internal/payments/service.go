package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/quanhe-tech/tiershop-backend/internal/fulfillment"
	"github.com/quanhe-tech/tiershop-backend/internal/loyalty"
	"github.com/quanhe-tech/tiershop-backend/internal/notifications"
	"github.com/quanhe-tech/tiershop-backend/internal/orders"
	"github.com/quanhe-tech/tiershop-backend/internal/users"
	"github.com/quanhe-tech/tiershop-backend/pkg/config"
	"github.com/quanhe-tech/tiershop-backend/pkg/db/models"
	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
	pkgerrors "github.com/quanhe-tech/tiershop-backend/pkg/errors"
	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
	"github.com/quanhe-tech/tiershop-backend/pkg/redis"
)

const idempotencyScope = "payment-callback"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Callback is a gateway payment notification.
type Callback struct {
	OrderNo       string `json:"order_no" validate:"required"`
	TransactionID string `json:"transaction_id" validate:"required"`
	AmountFen     int64  `json:"amount_fen" validate:"required,gt=0"`
	PaidAt        int64  `json:"paid_at" validate:"required"`
	Signature     string `json:"signature" validate:"required"`
}

// SignaturePayload is the canonical string the gateway signs: the non
// signature fields as key=value pairs, key-sorted and joined with '&'.
func (c Callback) SignaturePayload() string {
	pairs := map[string]string{
		"order_no":       c.OrderNo,
		"transaction_id": c.TransactionID,
		"amount_fen":     fmt.Sprintf("%d", c.AmountFen),
		"paid_at":        fmt.Sprintf("%d", c.PaidAt),
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+pairs[k])
	}
	return strings.Join(parts, "&")
}

// Sign computes the callback signature with the shared secret.
func Sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Service handles gateway payment callbacks: signature check, duplicate
// suppression, amount tolerance and the pending→paid transition, then the
// post-commit side effects that must never roll the payment back.
type Service struct {
	tx         txRunner
	orders     orders.Repository
	orderSvc   *orders.Service
	users      users.Repository
	fulfill    *fulfillment.Service
	loyalty    *loyalty.Service
	notifier   *notifications.Service
	idempotent redis.IdempotencyStore
	cfg        config.PaymentConfig

	now  func() time.Time
	logg *logger.Logger
}

// NewService wires the payment service.
func NewService(
	tx txRunner,
	ordersRepo orders.Repository,
	orderSvc *orders.Service,
	usersRepo users.Repository,
	fulfill *fulfillment.Service,
	loyaltySvc *loyalty.Service,
	notifier *notifications.Service,
	idempotent redis.IdempotencyStore,
	cfg config.PaymentConfig,
	logg *logger.Logger,
) (*Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if ordersRepo == nil || orderSvc == nil {
		return nil, fmt.Errorf("orders repository and service required")
	}
	if usersRepo == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if fulfill == nil {
		return nil, fmt.Errorf("fulfillment service required")
	}
	if loyaltySvc == nil {
		return nil, fmt.Errorf("loyalty service required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if idempotent == nil {
		return nil, fmt.Errorf("idempotency store required")
	}
	if cfg.CallbackSecret == "" {
		return nil, fmt.Errorf("callback secret required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		tx:         tx,
		orders:     ordersRepo,
		orderSvc:   orderSvc,
		users:      usersRepo,
		fulfill:    fulfill,
		loyalty:    loyaltySvc,
		notifier:   notifier,
		idempotent: idempotent,
		cfg:        cfg,
		now:        time.Now,
		logg:       logg,
	}, nil
}

// HandleCallback processes one gateway notification. Duplicate deliveries
// are a no-op success: the redis guard absorbs fast retries and the in-tx
// status re-check absorbs anything that slips past it.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) error {
	if !hmac.Equal([]byte(Sign(cb.SignaturePayload(), s.cfg.CallbackSecret)), []byte(cb.Signature)) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "callback signature mismatch")
	}

	key := s.idempotent.IdempotencyKey(idempotencyScope, cb.TransactionID)
	fresh, err := s.idempotent.SetNX(ctx, key, cb.OrderNo, s.cfg.IdempotencyTTL)
	if err != nil {
		// Redis being down must not drop payments; the status re-check
		// still dedupes.
		s.logg.Error(ctx, "payment idempotency guard unavailable", err)
	} else if !fresh {
		s.logg.Info(s.logg.WithOrderNo(ctx, cb.OrderNo), "duplicate payment callback suppressed")
		return nil
	}

	order, err := s.orders.FindByOrderNo(ctx, cb.OrderNo)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	expected := order.CombinedTotalFen()
	if diff := cb.AmountFen - expected; diff > s.cfg.AmountToleranceFen || diff < -s.cfg.AmountToleranceFen {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("paid amount %d differs from order total %d beyond tolerance", cb.AmountFen, expected)).
			WithDetails(map[string]int64{"expected_fen": expected, "paid_fen": cb.AmountFen})
	}

	paidAt := time.Unix(cb.PaidAt, 0).UTC()
	var transitioned bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		transitioned, err = s.orderSvc.MarkPaid(ctx, tx, order.ID, cb.AmountFen, paidAt)
		return err
	})
	if err != nil {
		return err
	}
	if !transitioned {
		s.logg.Info(s.logg.WithOrderNo(ctx, cb.OrderNo), "payment callback on already paid order")
		return nil
	}

	s.afterPaid(ctx, order, cb.AmountFen)
	return nil
}

// afterPaid runs the deliberately non-transactional side effects: guest
// promotion, purchase counters, loyalty credit, company shipping queue and
// buyer notification.
func (s *Service) afterPaid(ctx context.Context, order *models.Order, paidFen int64) {
	buyer, err := s.users.FindByID(ctx, order.BuyerID)
	if err != nil {
		s.logg.Error(ctx, "post-payment buyer load failed", err)
		return
	}

	if buyer.Tier == enums.UserTierGuest {
		if err := s.users.PromoteTier(ctx, buyer.ID, enums.UserTierGuest, enums.UserTierMember); err != nil {
			s.logg.Error(ctx, "guest promotion failed", err)
		}
	}
	if err := s.users.IncrementOrderCount(ctx, buyer.ID); err != nil {
		s.logg.Error(ctx, "order counter increment failed", err)
	}
	if err := s.users.AddTotalSales(ctx, buyer.ID, paidFen); err != nil {
		s.logg.Error(ctx, "total sales increment failed", err)
	}

	points := int(paidFen / 100)
	s.loyalty.AddPoints(ctx, buyer.ID, points, "order_paid", &order.ID, order.OrderNo)
	s.loyalty.AddGrowthValue(ctx, buyer.ID, points)

	if order.FulfillmentType == enums.FulfillmentTypeCompany {
		if err := s.fulfill.RequestShipping(ctx, order.ID); err != nil {
			s.logg.Error(ctx, "auto shipping request failed", err)
		}
	}
	for i := range order.Children {
		child := &order.Children[i]
		if child.FulfillmentType == enums.FulfillmentTypeCompany {
			if err := s.fulfill.RequestShipping(ctx, child.ID); err != nil {
				s.logg.Error(ctx, "auto shipping request failed", err)
			}
		}
	}

	s.notifier.Send(ctx, notifications.SendInput{
		UserID:   buyer.ID,
		Title:    "payment received",
		Body:     fmt.Sprintf("order %s is paid and moving to fulfillment", order.OrderNo),
		Category: enums.NotificationCategoryOrder,
		RefID:    &order.ID,
	})
}
