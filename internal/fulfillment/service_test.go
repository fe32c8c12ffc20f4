package fulfillment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/quanhe-tech/tiershop-backend/internal/commission"
	"github.com/quanhe-tech/tiershop-backend/internal/notifications"
	"github.com/quanhe-tech/tiershop-backend/internal/orders"
	"github.com/quanhe-tech/tiershop-backend/internal/referral"
	"github.com/quanhe-tech/tiershop-backend/internal/stock"
	"github.com/quanhe-tech/tiershop-backend/internal/testutil"
	"github.com/quanhe-tech/tiershop-backend/internal/users"
	"github.com/quanhe-tech/tiershop-backend/pkg/db/models"
	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
	pkgerrors "github.com/quanhe-tech/tiershop-backend/pkg/errors"
)

type fulfillmentFixture struct {
	db    *gorm.DB
	svc   *Service
	repo  orders.Repository
	users users.Repository
}

func newFulfillmentFixture(t *testing.T) *fulfillmentFixture {
	t.Helper()
	db := testutil.OpenDB(t)
	usersRepo := users.NewRepository(db)
	ordersRepo := orders.NewRepository(db)

	ledger, err := stock.NewLedger(usersRepo, 5*time.Minute)
	require.NoError(t, err)
	commSvc, err := commission.NewService(commission.NewRepository(db), usersRepo)
	require.NoError(t, err)
	walker, err := referral.NewWalker(usersRepo)
	require.NoError(t, err)
	notifier, err := notifications.NewService(db, testutil.NewLogger())
	require.NoError(t, err)

	svc, err := NewService(
		testutil.TxRunner{DB: db}, ordersRepo, usersRepo, ledger,
		commSvc, walker, notifier, nil, testutil.NewLogger(),
	)
	require.NoError(t, err)

	return &fulfillmentFixture{db: db, svc: svc, repo: ordersRepo, users: usersRepo}
}

func (f *fulfillmentFixture) seedUser(t *testing.T, tier enums.UserTier, mutate func(*models.User)) *models.User {
	t.Helper()
	user := &models.User{
		ID:       uuid.New(),
		Phone:    uuid.NewString(),
		Nickname: "user",
		Tier:     tier,
	}
	if mutate != nil {
		mutate(user)
	}
	require.NoError(t, f.db.Create(user).Error)
	return user
}

// seedChain builds buyer -> leader -> agent and returns all three. The
// agent carries cloud stock and is the buyer's routed agent.
func (f *fulfillmentFixture) seedChain(t *testing.T) (buyer, leader, agent *models.User) {
	t.Helper()
	agent = f.seedUser(t, enums.UserTierAgent, func(u *models.User) { u.CloudStock = 10 })
	leader = f.seedUser(t, enums.UserTierTeamLeader, func(u *models.User) { u.ParentID = &agent.ID })
	buyer = f.seedUser(t, enums.UserTierMember, func(u *models.User) {
		u.ParentID = &leader.ID
		u.AgentID = &agent.ID
	})
	return buyer, leader, agent
}

func (f *fulfillmentFixture) seedOrder(t *testing.T, mutate func(*models.Order)) *models.Order {
	t.Helper()
	paidAt := time.Now().UTC()
	order := &models.Order{
		ID:                 uuid.New(),
		OrderNo:            uuid.NewString(),
		Status:             enums.OrderStatusPaid,
		Quantity:           2,
		TotalFen:           1700,
		LockedAgentCostFen: 500,
		FulfillmentType:    enums.FulfillmentTypeCompany,
		AddressSnapshot:    "12 North St",
		PaidAt:             &paidAt,
	}
	if mutate != nil {
		mutate(order)
	}
	require.NoError(t, f.db.Create(order).Error)
	return order
}

func (f *fulfillmentFixture) seedProduct(t *testing.T, mutate func(*models.Product)) *models.Product {
	t.Helper()
	product := &models.Product{
		ID:             uuid.New(),
		Title:          "tea",
		OnSale:         true,
		Stock:          10,
		RetailPriceFen: 1000,
		MemberPriceFen: 850,
		LeaderPriceFen: 750,
		AgentPriceFen:  600,
		AgentCostFen:   500,
	}
	if mutate != nil {
		mutate(product)
	}
	require.NoError(t, f.db.Create(product).Error)
	return product
}

func (f *fulfillmentFixture) commissionRows(t *testing.T, orderID uuid.UUID) []models.CommissionLog {
	t.Helper()
	var rows []models.CommissionLog
	require.NoError(t, f.db.Where("order_id = ?", orderID).Order("created_at ASC").Find(&rows).Error)
	return rows
}

func TestAgentConfirmClaimsAndReserves(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	buyer, _, agent := f.seedChain(t)
	product := f.seedProduct(t, nil)
	order := f.seedOrder(t, func(o *models.Order) {
		o.BuyerID = buyer.ID
		o.ProductID = product.ID
		o.FulfillmentType = enums.FulfillmentTypeAgentPending
		o.FulfillmentPartnerID = &agent.ID
	})

	confirmed, err := f.svc.AgentConfirm(ctx, order.ID, agent.ID)
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusAgentConfirmed, confirmed.Status)
	assert.Equal(t, enums.FulfillmentTypeAgent, confirmed.FulfillmentType)
	require.NotNil(t, confirmed.PickupCode)
	assert.Len(t, *confirmed.PickupCode, 6)
	assert.NotNil(t, confirmed.PickupQRToken)

	var reservation models.StockReservation
	require.NoError(t, f.db.Where("order_id = ?", order.ID).First(&reservation).Error)
	assert.Equal(t, 2, reservation.Quantity)
	assert.Nil(t, reservation.ConsumedAt)

	// The pool itself is untouched until shipment.
	var refreshed models.User
	require.NoError(t, f.db.Where("id = ?", agent.ID).First(&refreshed).Error)
	assert.Equal(t, 10, refreshed.CloudStock)

	var note models.Notification
	require.NoError(t, f.db.Where("user_id = ?", buyer.ID).First(&note).Error)
	assert.Equal(t, enums.NotificationCategoryOrder, note.Category)
}

func TestAgentConfirmRejectsWrongAgent(t *testing.T) {
	f := newFulfillmentFixture(t)
	buyer, _, agent := f.seedChain(t)
	other := f.seedUser(t, enums.UserTierAgent, nil)
	product := f.seedProduct(t, nil)
	order := f.seedOrder(t, func(o *models.Order) {
		o.BuyerID = buyer.ID
		o.ProductID = product.ID
		o.FulfillmentType = enums.FulfillmentTypeAgentPending
		o.FulfillmentPartnerID = &agent.ID
	})

	_, err := f.svc.AgentConfirm(context.Background(), order.ID, other.ID)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}

func TestAgentConfirmFailsWithoutCloudStock(t *testing.T) {
	f := newFulfillmentFixture(t)
	buyer, _, agent := f.seedChain(t)
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", agent.ID).
		Update("cloud_stock", 1).Error)
	product := f.seedProduct(t, nil)
	order := f.seedOrder(t, func(o *models.Order) {
		o.BuyerID = buyer.ID
		o.ProductID = product.ID
		o.FulfillmentType = enums.FulfillmentTypeAgentPending
		o.FulfillmentPartnerID = &agent.ID
	})

	_, err := f.svc.AgentConfirm(context.Background(), order.ID, agent.ID)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStock, typed.Code())

	// The failed claim leaves the order claimable.
	got, err := f.repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, got.Status)
	assert.Equal(t, enums.FulfillmentTypeAgentPending, got.FulfillmentType)
}

func TestShipAgentWritesCommissionRows(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	buyer, leader, agent := f.seedChain(t)
	product := f.seedProduct(t, nil)
	order := f.seedOrder(t, func(o *models.Order) {
		o.BuyerID = buyer.ID
		o.ProductID = product.ID
		o.FulfillmentType = enums.FulfillmentTypeAgentPending
		o.FulfillmentPartnerID = &agent.ID
	})

	_, err := f.svc.AgentConfirm(ctx, order.ID, agent.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.Ship(ctx, order.ID))

	got, err := f.repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, got.Status)
	assert.NotNil(t, got.ShippedAt)
	assert.Equal(t, int64(200), got.MiddleCommissionTotalFen)
	assert.True(t, got.HasCloudStockMarker())

	rows := f.commissionRows(t, order.ID)
	require.Len(t, rows, 2)

	byUser := map[uuid.UUID]models.CommissionLog{}
	for _, row := range rows {
		byUser[row.UserID] = row
	}
	// Leader earns the member-to-leader gap on two units.
	gap := byUser[leader.ID]
	assert.Equal(t, int64(200), gap.AmountFen)
	assert.Equal(t, enums.CommissionTypeGap, gap.Type)
	assert.Equal(t, enums.CommissionStatusFrozen, gap.Status)
	assert.Nil(t, gap.RefundDeadline)
	// The agent keeps revenue minus snapshotted cost minus gaps.
	margin := byUser[agent.ID]
	assert.Equal(t, int64(1700-2*500-200), margin.AmountFen)
	assert.Equal(t, enums.CommissionTypeAgentFulfillment, margin.Type)

	// Shipment consumed the hold and the pool.
	var refreshed models.User
	require.NoError(t, f.db.Where("id = ?", agent.ID).First(&refreshed).Error)
	assert.Equal(t, 8, refreshed.CloudStock)
}

func TestShipAgentNonPositiveMarginAlerts(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	buyer, leader, agent := f.seedChain(t)
	product := f.seedProduct(t, func(p *models.Product) { p.AgentCostFen = 900 })
	order := f.seedOrder(t, func(o *models.Order) {
		o.BuyerID = buyer.ID
		o.ProductID = product.ID
		o.LockedAgentCostFen = 900
		o.FulfillmentType = enums.FulfillmentTypeAgentPending
		o.FulfillmentPartnerID = &agent.ID
	})

	_, err := f.svc.AgentConfirm(ctx, order.ID, agent.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.Ship(ctx, order.ID))

	// Gap rows still land; the agent margin row does not.
	rows := f.commissionRows(t, order.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, leader.ID, rows[0].UserID)

	var alert models.Notification
	require.NoError(t, f.db.
		Where("user_id = ? AND category = ?", agent.ID, enums.NotificationCategoryOpsAlert).
		First(&alert).Error)
}

func TestShipCompany(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	buyer := f.seedUser(t, enums.UserTierMember, nil)
	product := f.seedProduct(t, nil)
	order := f.seedOrder(t, func(o *models.Order) {
		o.BuyerID = buyer.ID
		o.ProductID = product.ID
	})

	require.NoError(t, f.svc.RequestShipping(ctx, order.ID))
	// Repeat requests land on the no-op branch.
	require.NoError(t, f.svc.RequestShipping(ctx, order.ID))

	require.NoError(t, f.svc.Ship(ctx, order.ID))
	got, err := f.repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, got.Status)

	// Company shipment never mints commissions.
	assert.Empty(t, f.commissionRows(t, order.ID))
}

func TestRequestShippingRejectsAgentOrders(t *testing.T) {
	f := newFulfillmentFixture(t)
	buyer, _, agent := f.seedChain(t)
	product := f.seedProduct(t, nil)
	order := f.seedOrder(t, func(o *models.Order) {
		o.BuyerID = buyer.ID
		o.ProductID = product.ID
		o.FulfillmentType = enums.FulfillmentTypeAgentPending
		o.FulfillmentPartnerID = &agent.ID
	})

	err := f.svc.RequestShipping(context.Background(), order.ID)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestReassignToCompany(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	buyer, _, agent := f.seedChain(t)
	product := f.seedProduct(t, nil)
	order := f.seedOrder(t, func(o *models.Order) {
		o.BuyerID = buyer.ID
		o.ProductID = product.ID
		o.FulfillmentType = enums.FulfillmentTypeAgentPending
		o.FulfillmentPartnerID = &agent.ID
	})

	require.NoError(t, f.svc.ReassignToCompany(ctx, order.ID))

	got, err := f.repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShippingRequested, got.Status)
	assert.Equal(t, enums.FulfillmentTypeCompany, got.FulfillmentType)
	assert.Nil(t, got.FulfillmentPartnerID)

	var note models.Notification
	require.NoError(t, f.db.Where("user_id = ?", buyer.ID).First(&note).Error)
}

func TestReassignToCompanySkipsClaimedOrders(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	buyer, _, agent := f.seedChain(t)
	product := f.seedProduct(t, nil)
	order := f.seedOrder(t, func(o *models.Order) {
		o.BuyerID = buyer.ID
		o.ProductID = product.ID
		o.FulfillmentType = enums.FulfillmentTypeAgentPending
		o.FulfillmentPartnerID = &agent.ID
	})

	_, err := f.svc.AgentConfirm(ctx, order.ID, agent.ID)
	require.NoError(t, err)

	// The sweep racing a just-completed claim backs off silently.
	require.NoError(t, f.svc.ReassignToCompany(ctx, order.ID))
	got, err := f.repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusAgentConfirmed, got.Status)
	assert.Equal(t, enums.FulfillmentTypeAgent, got.FulfillmentType)
}
