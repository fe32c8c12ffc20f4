package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/quanhe-tech/tiershop-backend/internal/commission"
	"github.com/quanhe-tech/tiershop-backend/internal/fulfillment"
	"github.com/quanhe-tech/tiershop-backend/internal/loyalty"
	"github.com/quanhe-tech/tiershop-backend/internal/notifications"
	"github.com/quanhe-tech/tiershop-backend/internal/orders"
	"github.com/quanhe-tech/tiershop-backend/internal/referral"
	"github.com/quanhe-tech/tiershop-backend/internal/stock"
	"github.com/quanhe-tech/tiershop-backend/internal/testutil"
	"github.com/quanhe-tech/tiershop-backend/internal/users"
	"github.com/quanhe-tech/tiershop-backend/pkg/config"
	"github.com/quanhe-tech/tiershop-backend/pkg/db/models"
	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
	pkgerrors "github.com/quanhe-tech/tiershop-backend/pkg/errors"
	"github.com/quanhe-tech/tiershop-backend/pkg/ordernum"
)

const testSecret = "callback-secret"

// stubIdempotency replaces redis with an in-process map.
type stubIdempotency struct {
	seen map[string]bool
	err  error
}

func newStubIdempotency() *stubIdempotency {
	return &stubIdempotency{seen: map[string]bool{}}
}

func (s *stubIdempotency) Get(context.Context, string) (string, error) { return "", nil }

func (s *stubIdempotency) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

func (s *stubIdempotency) IdempotencyKey(scope, id string) string { return scope + ":" + id }

func (s *stubIdempotency) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.seen, key)
	}
	return nil
}

type paymentFixture struct {
	db       *gorm.DB
	svc      *Service
	orderSvc *orders.Service
	repo     orders.Repository
	idem     *stubIdempotency
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	db := testutil.OpenDB(t)
	logg := testutil.NewLogger()
	usersRepo := users.NewRepository(db)
	ordersRepo := orders.NewRepository(db)
	runner := testutil.TxRunner{DB: db}

	ledger, err := stock.NewLedger(usersRepo, 5*time.Minute)
	require.NoError(t, err)
	commSvc, err := commission.NewService(commission.NewRepository(db), usersRepo)
	require.NoError(t, err)
	walker, err := referral.NewWalker(usersRepo)
	require.NoError(t, err)
	notifier, err := notifications.NewService(db, logg)
	require.NoError(t, err)
	loyaltySvc, err := loyalty.NewService(db, logg)
	require.NoError(t, err)

	orderSvc, err := orders.NewService(
		runner, ordersRepo, usersRepo, ledger,
		ordernum.New(), commSvc, 7*24*time.Hour, logg,
	)
	require.NoError(t, err)
	fulfillSvc, err := fulfillment.NewService(
		runner, ordersRepo, usersRepo, ledger, commSvc, walker, notifier, nil, logg,
	)
	require.NoError(t, err)

	idem := newStubIdempotency()
	svc, err := NewService(
		runner, ordersRepo, orderSvc, usersRepo, fulfillSvc, loyaltySvc,
		notifier, idem, config.PaymentConfig{
			CallbackSecret:     testSecret,
			AmountToleranceFen: 1,
			IdempotencyTTL:     time.Minute,
		}, logg,
	)
	require.NoError(t, err)

	return &paymentFixture{db: db, svc: svc, orderSvc: orderSvc, repo: ordersRepo, idem: idem}
}

func (f *paymentFixture) seedBuyer(t *testing.T, tier enums.UserTier) *models.User {
	t.Helper()
	buyer := &models.User{
		ID:       uuid.New(),
		Phone:    uuid.NewString(),
		Nickname: "buyer",
		Tier:     tier,
	}
	require.NoError(t, f.db.Create(buyer).Error)
	return buyer
}

func (f *paymentFixture) seedPendingOrder(t *testing.T, buyer *models.User) *models.Order {
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
	require.NoError(t, f.db.Create(product).Error)

	order, err := f.orderSvc.Create(context.Background(), orders.CreateInput{
		BuyerID:         buyer.ID,
		ProductID:       product.ID,
		Quantity:        2,
		AddressSnapshot: "12 North St",
	})
	require.NoError(t, err)
	return order
}

func signedCallback(order *models.Order, amountFen int64, txnID string) Callback {
	cb := Callback{
		OrderNo:       order.OrderNo,
		TransactionID: txnID,
		AmountFen:     amountFen,
		PaidAt:        time.Now().Unix(),
	}
	cb.Signature = Sign(cb.SignaturePayload(), testSecret)
	return cb
}

func TestSignaturePayloadIsKeySorted(t *testing.T) {
	t.Parallel()

	cb := Callback{OrderNo: "T1", TransactionID: "txn-9", AmountFen: 1700, PaidAt: 1700000000}
	assert.Equal(t, "amount_fen=1700&order_no=T1&paid_at=1700000000&transaction_id=txn-9",
		cb.SignaturePayload())
}

func TestHandleCallbackRejectsBadSignature(t *testing.T) {
	f := newPaymentFixture(t)
	buyer := f.seedBuyer(t, enums.UserTierMember)
	order := f.seedPendingOrder(t, buyer)

	cb := signedCallback(order, 1700, "txn-1")
	cb.Signature = "forged"

	err := f.svc.HandleCallback(context.Background(), cb)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeUnauthorized, typed.Code())
}

func TestHandleCallbackMarksPaidAndRunsSideEffects(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	buyer := f.seedBuyer(t, enums.UserTierGuest)
	order := f.seedPendingOrder(t, buyer)

	// A guest pays the retail tier: 2 units at 1000 fen.
	require.NoError(t, f.svc.HandleCallback(ctx, signedCallback(order, 2000, "txn-1")))

	got, err := f.repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	// Paid, then immediately queued for warehouse shipping.
	assert.Equal(t, enums.OrderStatusShippingRequested, got.Status)
	assert.Equal(t, int64(2000), got.ActualFen)
	assert.NotNil(t, got.PaidAt)

	var refreshed models.User
	require.NoError(t, f.db.Where("id = ?", buyer.ID).First(&refreshed).Error)
	assert.Equal(t, enums.UserTierMember, refreshed.Tier)
	assert.Equal(t, 1, refreshed.OrderCount)
	assert.Equal(t, int64(2000), refreshed.TotalSalesFen)
	assert.Equal(t, 20, refreshed.Points)
	assert.Equal(t, 20, refreshed.GrowthValue)

	var note models.Notification
	require.NoError(t, f.db.Where("user_id = ?", buyer.ID).First(&note).Error)
}

func TestHandleCallbackSuppressesDuplicates(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	buyer := f.seedBuyer(t, enums.UserTierMember)
	order := f.seedPendingOrder(t, buyer)

	require.NoError(t, f.svc.HandleCallback(ctx, signedCallback(order, 1700, "txn-1")))
	require.NoError(t, f.svc.HandleCallback(ctx, signedCallback(order, 1700, "txn-1")))

	// A replay with a fresh transaction id slips past redis but lands on
	// the in-transaction already-paid re-check.
	require.NoError(t, f.svc.HandleCallback(ctx, signedCallback(order, 1700, "txn-2")))

	var refreshed models.User
	require.NoError(t, f.db.Where("id = ?", buyer.ID).First(&refreshed).Error)
	assert.Equal(t, 1, refreshed.OrderCount)
	assert.Equal(t, int64(1700), refreshed.TotalSalesFen)
}

func TestHandleCallbackSurvivesIdempotencyOutage(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	buyer := f.seedBuyer(t, enums.UserTierMember)
	order := f.seedPendingOrder(t, buyer)

	f.idem.err = errors.New("connection refused")
	require.NoError(t, f.svc.HandleCallback(ctx, signedCallback(order, 1700, "txn-1")))

	got, err := f.repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShippingRequested, got.Status)
}

func TestHandleCallbackRejectsAmountBeyondTolerance(t *testing.T) {
	f := newPaymentFixture(t)
	buyer := f.seedBuyer(t, enums.UserTierMember)
	order := f.seedPendingOrder(t, buyer)

	// Order total is 1700 with a 1 fen tolerance.
	require.NoError(t, f.svc.HandleCallback(context.Background(), signedCallback(order, 1701, "txn-1")))

	err := f.svc.HandleCallback(context.Background(), signedCallback(order, 1698, "txn-2"))
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestHandleCallbackUnknownOrder(t *testing.T) {
	f := newPaymentFixture(t)

	cb := Callback{
		OrderNo:       "missing",
		TransactionID: "txn-1",
		AmountFen:     100,
		PaidAt:        time.Now().Unix(),
	}
	cb.Signature = Sign(cb.SignaturePayload(), testSecret)

	err := f.svc.HandleCallback(context.Background(), cb)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}
