package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quanhe-tech/tiershop-backend/api/controllers"
	"github.com/quanhe-tech/tiershop-backend/api/middleware"
	"github.com/quanhe-tech/tiershop-backend/internal/commission"
	"github.com/quanhe-tech/tiershop-backend/internal/fulfillment"
	"github.com/quanhe-tech/tiershop-backend/internal/notifications"
	"github.com/quanhe-tech/tiershop-backend/internal/orders"
	"github.com/quanhe-tech/tiershop-backend/internal/payments"
	"github.com/quanhe-tech/tiershop-backend/internal/refunds"
	"github.com/quanhe-tech/tiershop-backend/pkg/config"
	"github.com/quanhe-tech/tiershop-backend/pkg/db"
	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
	"github.com/quanhe-tech/tiershop-backend/pkg/redis"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Config        *config.Config
	Logger        *logger.Logger
	DBClient      *db.Client
	RedisClient   *redis.Client
	OrdersRepo    orders.Repository
	OrdersSvc     *orders.Service
	Fulfillment   *fulfillment.Service
	Payments      *payments.Service
	Refunds       *refunds.Engine
	Commissions   *commission.Service
	Notifications *notifications.Service
	ApprovalDelay time.Duration
}

// NewRouter builds the HTTP surface.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(d.Logger))
	r.Use(middleware.Recoverer(d.Logger))

	r.Get("/healthz", controllers.HealthLive(d.Config))
	r.Get("/readyz", controllers.HealthReady(d.Config, d.Logger, d.DBClient, d.RedisClient))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.CreateOrder(d.OrdersSvc, d.Logger))
			r.Post("/redeem", controllers.RedeemPickup(d.OrdersSvc, d.Logger))
			r.Route("/{orderID}", func(r chi.Router) {
				r.Get("/", controllers.GetOrder(d.OrdersRepo, d.Logger))
				r.Post("/cancel", controllers.CancelOrder(d.OrdersSvc, d.Logger))
				r.Post("/confirm", controllers.ConfirmOrder(d.OrdersSvc, d.Logger))
				r.Post("/agent-confirm", controllers.AgentConfirm(d.Fulfillment, d.Logger))
				r.Post("/request-shipping", controllers.RequestShipping(d.Fulfillment, d.Logger))
				r.Post("/ship", controllers.ShipOrder(d.Fulfillment, d.Logger))
				r.Post("/refund", controllers.RequestRefund(d.Refunds, d.Logger))
			})
		})

		r.Post("/payments/callback", controllers.PaymentCallback(d.Payments, d.Logger))

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(d.Notifications, d.Logger))
			r.Post("/{notificationID}/read", controllers.MarkNotificationRead(d.Notifications, d.Logger))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/commissions/{commissionID}/approve",
				controllers.ApproveCommission(d.DBClient, d.Commissions, d.ApprovalDelay, d.Logger))
			r.Post("/orders/{orderID}/force-transition",
				controllers.ForceTransitionOrder(d.OrdersSvc, d.Logger))
			r.Post("/refunds/{requestID}/approve", controllers.ApproveRefund(d.Refunds, d.Logger))
			r.Post("/refunds/{requestID}/reject", controllers.RejectRefund(d.Refunds, d.Logger))
		})
	})

	return r
}
