package app

import (
	"fmt"

	"github.com/quanhe-tech/tiershop-backend/internal/commission"
	"github.com/quanhe-tech/tiershop-backend/internal/fulfillment"
	"github.com/quanhe-tech/tiershop-backend/internal/loyalty"
	"github.com/quanhe-tech/tiershop-backend/internal/notifications"
	"github.com/quanhe-tech/tiershop-backend/internal/orders"
	"github.com/quanhe-tech/tiershop-backend/internal/payments"
	"github.com/quanhe-tech/tiershop-backend/internal/referral"
	"github.com/quanhe-tech/tiershop-backend/internal/refunds"
	"github.com/quanhe-tech/tiershop-backend/internal/regional"
	"github.com/quanhe-tech/tiershop-backend/internal/stock"
	"github.com/quanhe-tech/tiershop-backend/internal/users"
	"github.com/quanhe-tech/tiershop-backend/pkg/config"
	"github.com/quanhe-tech/tiershop-backend/pkg/db"
	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
	"github.com/quanhe-tech/tiershop-backend/pkg/ordernum"
	"github.com/quanhe-tech/tiershop-backend/pkg/redis"
)

// Services is the wired domain layer shared by the API and cron workers.
type Services struct {
	UsersRepo     users.Repository
	OrdersRepo    orders.Repository
	CommRepo      commission.Repository
	Ledger        *stock.Ledger
	Commissions   *commission.Service
	Orders        *orders.Service
	Fulfillment   *fulfillment.Service
	Refunds       *refunds.Engine
	Payments      *payments.Service
	Notifications *notifications.Service
	Loyalty       *loyalty.Service
	Regional      *regional.Service
}

// Build wires every domain service onto the shared clients.
func Build(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*Services, error) {
	conn := dbClient.DB()

	usersRepo := users.NewRepository(conn)
	ordersRepo := orders.NewRepository(conn)
	commRepo := commission.NewRepository(conn)

	ledger, err := stock.NewLedger(usersRepo, cfg.Settlement.ReservationTTL)
	if err != nil {
		return nil, fmt.Errorf("stock ledger: %w", err)
	}
	commissions, err := commission.NewService(commRepo, usersRepo)
	if err != nil {
		return nil, fmt.Errorf("commission service: %w", err)
	}
	walker, err := referral.NewWalker(usersRepo)
	if err != nil {
		return nil, fmt.Errorf("referral walker: %w", err)
	}
	notifier, err := notifications.NewService(conn, logg)
	if err != nil {
		return nil, fmt.Errorf("notification service: %w", err)
	}
	loyaltySvc, err := loyalty.NewService(conn, logg)
	if err != nil {
		return nil, fmt.Errorf("loyalty service: %w", err)
	}
	regionalSvc, err := regional.NewService(dbClient, conn, commissions, 0, logg)
	if err != nil {
		return nil, fmt.Errorf("regional service: %w", err)
	}

	ordersSvc, err := orders.NewService(dbClient, ordersRepo, usersRepo, ledger,
		ordernum.New(), commissions, cfg.Settlement.RefundWindow, logg)
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}
	fulfillSvc, err := fulfillment.NewService(dbClient, ordersRepo, usersRepo, ledger,
		commissions, walker, notifier, regionalSvc, logg)
	if err != nil {
		return nil, fmt.Errorf("fulfillment service: %w", err)
	}
	refundsEngine, err := refunds.NewEngine(dbClient, ordersRepo, usersRepo, ledger,
		commissions, commRepo, notifier, cfg.Settlement.FullRefundTolerance, logg)
	if err != nil {
		return nil, fmt.Errorf("refund engine: %w", err)
	}
	paymentsSvc, err := payments.NewService(dbClient, ordersRepo, ordersSvc, usersRepo,
		fulfillSvc, loyaltySvc, notifier, redisClient, cfg.Payment, logg)
	if err != nil {
		return nil, fmt.Errorf("payment service: %w", err)
	}

	return &Services{
		UsersRepo:     usersRepo,
		OrdersRepo:    ordersRepo,
		CommRepo:      commRepo,
		Ledger:        ledger,
		Commissions:   commissions,
		Orders:        ordersSvc,
		Fulfillment:   fulfillSvc,
		Refunds:       refundsEngine,
		Payments:      paymentsSvc,
		Notifications: notifier,
		Loyalty:       loyaltySvc,
		Regional:      regionalSvc,
	}, nil
}
