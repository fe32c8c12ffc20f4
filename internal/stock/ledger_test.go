package stock

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/quanhe-tech/tiershop-backend/internal/testutil"
	"github.com/quanhe-tech/tiershop-backend/internal/users"
	"github.com/quanhe-tech/tiershop-backend/pkg/db/models"
	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
	pkgerrors "github.com/quanhe-tech/tiershop-backend/pkg/errors"
)

func newTestLedger(t *testing.T, db *gorm.DB) *Ledger {
	t.Helper()
	ledger, err := NewLedger(users.NewRepository(db), 5*time.Minute)
	require.NoError(t, err)
	return ledger
}

func seedAgent(t *testing.T, db *gorm.DB, cloudStock int) *models.User {
	t.Helper()
	agent := &models.User{
		ID:         uuid.New(),
		Phone:      uuid.NewString(),
		Nickname:   "agent",
		Tier:       enums.UserTierAgent,
		CloudStock: cloudStock,
	}
	require.NoError(t, db.Create(agent).Error)
	return agent
}

func seedProduct(t *testing.T, db *gorm.DB, stock int) *models.Product {
	t.Helper()
	product := &models.Product{
		ID:             uuid.New(),
		Title:          "tea",
		OnSale:         true,
		Stock:          stock,
		RetailPriceFen: 1000,
		MemberPriceFen: 850,
		LeaderPriceFen: 750,
		AgentPriceFen:  600,
		AgentCostFen:   500,
	}
	require.NoError(t, db.Create(product).Error)
	return product
}

func productStock(t *testing.T, db *gorm.DB, id uuid.UUID) int {
	t.Helper()
	var product models.Product
	require.NoError(t, db.Where("id = ?", id).First(&product).Error)
	return product.Stock
}

func cloudStock(t *testing.T, db *gorm.DB, id uuid.UUID) int {
	t.Helper()
	var user models.User
	require.NoError(t, db.Where("id = ?", id).First(&user).Error)
	return user.CloudStock
}

func TestDeductPlatformGuard(t *testing.T) {
	db := testutil.OpenDB(t)
	ledger := newTestLedger(t, db)
	ctx := context.Background()

	product := seedProduct(t, db, 5)

	require.NoError(t, ledger.DeductPlatform(ctx, db, product.ID, nil, 3))
	assert.Equal(t, 2, productStock(t, db, product.ID))

	err := ledger.DeductPlatform(ctx, db, product.ID, nil, 3)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStock, typed.Code())
	assert.Equal(t, 2, productStock(t, db, product.ID))
}

func TestDeductPlatformSKUGuard(t *testing.T) {
	db := testutil.OpenDB(t)
	ledger := newTestLedger(t, db)
	ctx := context.Background()

	product := seedProduct(t, db, 10)
	sku := &models.ProductSKU{
		ID:        uuid.New(),
		ProductID: product.ID,
		Spec:      "250g",
		Stock:     1,
	}
	require.NoError(t, db.Create(sku).Error)

	err := ledger.DeductPlatform(ctx, db, product.ID, &sku.ID, 2)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStock, typed.Code())
}

func TestRestorePlatform(t *testing.T) {
	db := testutil.OpenDB(t)
	ledger := newTestLedger(t, db)
	ctx := context.Background()

	product := seedProduct(t, db, 1)
	require.NoError(t, ledger.RestorePlatform(ctx, db, product.ID, nil, 4))
	assert.Equal(t, 5, productStock(t, db, product.ID))

	// Zero and negative quantities are a no-op, not an error.
	require.NoError(t, ledger.RestorePlatform(ctx, db, product.ID, nil, 0))
	assert.Equal(t, 5, productStock(t, db, product.ID))
}

func TestReserveCloudCountsActiveHolds(t *testing.T) {
	db := testutil.OpenDB(t)
	ledger := newTestLedger(t, db)
	ctx := context.Background()

	agent := seedAgent(t, db, 10)

	_, err := ledger.ReserveCloud(ctx, db, agent.ID, uuid.New(), 6)
	require.NoError(t, err)

	// A second hold can only take what the first one left.
	_, err = ledger.ReserveCloud(ctx, db, agent.ID, uuid.New(), 6)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStock, typed.Code())

	_, err = ledger.ReserveCloud(ctx, db, agent.ID, uuid.New(), 4)
	require.NoError(t, err)

	// Holds never touch the pool itself until consumption.
	assert.Equal(t, 10, cloudStock(t, db, agent.ID))
}

func TestReserveCloudIgnoresExpiredHolds(t *testing.T) {
	db := testutil.OpenDB(t)
	ledger := newTestLedger(t, db)
	ctx := context.Background()

	agent := seedAgent(t, db, 5)

	_, err := ledger.ReserveCloud(ctx, db, agent.ID, uuid.New(), 5)
	require.NoError(t, err)

	ledger.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	_, err = ledger.ReserveCloud(ctx, db, agent.ID, uuid.New(), 5)
	require.NoError(t, err)
}

func TestConsumeReservationDeducts(t *testing.T) {
	db := testutil.OpenDB(t)
	ledger := newTestLedger(t, db)
	ctx := context.Background()

	agent := seedAgent(t, db, 5)
	orderID := uuid.New()

	_, err := ledger.ReserveCloud(ctx, db, agent.ID, orderID, 3)
	require.NoError(t, err)
	require.NoError(t, ledger.ConsumeReservation(ctx, db, agent.ID, orderID, 3))

	assert.Equal(t, 2, cloudStock(t, db, agent.ID))

	var reservation models.StockReservation
	require.NoError(t, db.Where("order_id = ?", orderID).First(&reservation).Error)
	assert.NotNil(t, reservation.ConsumedAt)
}

func TestConsumeReservationFallsBackWhenExpired(t *testing.T) {
	db := testutil.OpenDB(t)
	ledger := newTestLedger(t, db)
	ctx := context.Background()

	agent := seedAgent(t, db, 2)
	orderID := uuid.New()

	_, err := ledger.ReserveCloud(ctx, db, agent.ID, orderID, 2)
	require.NoError(t, err)

	// Past the TTL the hold is dead, but shipment still deducts through
	// the same guarded decrement.
	ledger.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	require.NoError(t, ledger.ConsumeReservation(ctx, db, agent.ID, orderID, 2))
	assert.Equal(t, 0, cloudStock(t, db, agent.ID))

	err = ledger.ConsumeReservation(ctx, db, agent.ID, uuid.New(), 1)
	require.Error(t, err)
}

func TestReleaseReservation(t *testing.T) {
	db := testutil.OpenDB(t)
	ledger := newTestLedger(t, db)
	ctx := context.Background()

	agent := seedAgent(t, db, 4)
	orderID := uuid.New()

	_, err := ledger.ReserveCloud(ctx, db, agent.ID, orderID, 4)
	require.NoError(t, err)
	require.NoError(t, ledger.ReleaseReservation(ctx, db, orderID))

	// The released hold no longer blocks a new one.
	_, err = ledger.ReserveCloud(ctx, db, agent.ID, uuid.New(), 4)
	require.NoError(t, err)
}

func TestRestoreCloud(t *testing.T) {
	db := testutil.OpenDB(t)
	ledger := newTestLedger(t, db)
	ctx := context.Background()

	agent := seedAgent(t, db, 1)
	require.NoError(t, ledger.RestoreCloud(ctx, db, agent.ID, 3))
	assert.Equal(t, 4, cloudStock(t, db, agent.ID))
}
