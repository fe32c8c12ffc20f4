package commission

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

func newTestService(t *testing.T, db *gorm.DB) (*Service, Repository) {
	t.Helper()
	repo := NewRepository(db)
	svc, err := NewService(repo, users.NewRepository(db))
	require.NoError(t, err)
	return svc, repo
}

func seedBeneficiary(t *testing.T, db *gorm.DB, balanceFen, debtFen int64) *models.User {
	t.Helper()
	user := &models.User{
		ID:         uuid.New(),
		Phone:      uuid.NewString(),
		Nickname:   "beneficiary",
		Tier:       enums.UserTierTeamLeader,
		BalanceFen: balanceFen,
		DebtFen:    debtFen,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func mustCreateFrozen(t *testing.T, svc *Service, db *gorm.DB, userID uuid.UUID, amountFen int64) *models.CommissionLog {
	t.Helper()
	log, err := svc.CreateFrozen(context.Background(), db, CreateFrozenInput{
		OrderID:   uuid.New(),
		UserID:    userID,
		AmountFen: amountFen,
		Type:      enums.CommissionTypeGap,
	})
	require.NoError(t, err)
	return log
}

func TestCreateFrozenRejectsNonPositiveAmount(t *testing.T) {
	db := testutil.OpenDB(t)
	svc, _ := newTestService(t, db)

	_, err := svc.CreateFrozen(context.Background(), db, CreateFrozenInput{
		OrderID:   uuid.New(),
		UserID:    uuid.New(),
		AmountFen: 0,
		Type:      enums.CommissionTypeGap,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestReleaseAdvancesExactlyOnce(t *testing.T) {
	db := testutil.OpenDB(t)
	svc, repo := newTestService(t, db)
	ctx := context.Background()

	user := seedBeneficiary(t, db, 0, 0)
	log := mustCreateFrozen(t, svc, db, user.ID, 500)

	advanced, err := svc.Release(ctx, db, log.ID)
	require.NoError(t, err)
	assert.True(t, advanced)

	// A concurrent sweep landing second skips instead of re-advancing.
	advanced, err = svc.Release(ctx, db, log.ID)
	require.NoError(t, err)
	assert.False(t, advanced)

	got, err := repo.FindByID(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CommissionStatusPendingApproval, got.Status)
}

func TestApproveStampsAvailability(t *testing.T) {
	db := testutil.OpenDB(t)
	svc, repo := newTestService(t, db)
	ctx := context.Background()

	user := seedBeneficiary(t, db, 0, 0)
	log := mustCreateFrozen(t, svc, db, user.ID, 500)

	_, err := svc.Release(ctx, db, log.ID)
	require.NoError(t, err)

	availableAt := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	advanced, err := svc.Approve(ctx, db, log.ID, availableAt)
	require.NoError(t, err)
	assert.True(t, advanced)

	got, err := repo.FindByID(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CommissionStatusApproved, got.Status)
	require.NotNil(t, got.AvailableAt)
	assert.WithinDuration(t, availableAt, *got.AvailableAt, time.Second)
}

func TestSettleOffsetsDebtBeforeCredit(t *testing.T) {
	db := testutil.OpenDB(t)
	svc, repo := newTestService(t, db)
	ctx := context.Background()

	user := seedBeneficiary(t, db, 0, 300)
	log := mustCreateFrozen(t, svc, db, user.ID, 500)
	_, err := svc.Release(ctx, db, log.ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, db, log.ID, time.Now().UTC())
	require.NoError(t, err)

	settled, err := svc.Settle(ctx, db, log.ID)
	require.NoError(t, err)
	assert.True(t, settled)

	var got models.User
	require.NoError(t, db.Where("id = ?", user.ID).First(&got).Error)
	assert.Equal(t, int64(0), got.DebtFen)
	assert.Equal(t, int64(200), got.BalanceFen)

	row, err := repo.FindByID(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CommissionStatusSettled, row.Status)
	assert.NotNil(t, row.SettledAt)
	require.NotNil(t, row.Remark)
	assert.Contains(t, *row.Remark, "debt_offset=300")

	// The second worker arriving sees a settled row and skips.
	settled, err = svc.Settle(ctx, db, log.ID)
	require.NoError(t, err)
	assert.False(t, settled)
	require.NoError(t, db.Where("id = ?", user.ID).First(&got).Error)
	assert.Equal(t, int64(200), got.BalanceFen)
}

func TestSettleDebtExceedingAmount(t *testing.T) {
	db := testutil.OpenDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()

	user := seedBeneficiary(t, db, 0, 800)
	log := mustCreateFrozen(t, svc, db, user.ID, 500)
	_, err := svc.Release(ctx, db, log.ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, db, log.ID, time.Now().UTC())
	require.NoError(t, err)

	settled, err := svc.Settle(ctx, db, log.ID)
	require.NoError(t, err)
	assert.True(t, settled)

	var got models.User
	require.NoError(t, db.Where("id = ?", user.ID).First(&got).Error)
	assert.Equal(t, int64(300), got.DebtFen)
	assert.Equal(t, int64(0), got.BalanceFen)
}

func TestReduceShrinksOrCancels(t *testing.T) {
	db := testutil.OpenDB(t)
	svc, repo := newTestService(t, db)
	ctx := context.Background()

	user := seedBeneficiary(t, db, 0, 0)
	log := mustCreateFrozen(t, svc, db, user.ID, 400)

	reduced, err := svc.Reduce(ctx, db, log.ID, 200)
	require.NoError(t, err)
	assert.True(t, reduced)

	got, err := repo.FindByID(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.AmountFen)
	assert.Equal(t, int64(400), got.OriginalAmountFen)

	// Growth is refused by the guard.
	reduced, err = svc.Reduce(ctx, db, log.ID, 300)
	require.NoError(t, err)
	assert.False(t, reduced)

	// Zero or below cancels instead of persisting a worthless row.
	cancelled, err := svc.Reduce(ctx, db, log.ID, 0)
	require.NoError(t, err)
	assert.True(t, cancelled)

	got, err = repo.FindByID(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CommissionStatusCancelled, got.Status)
}

func TestCancelLeavesSettledRowsAlone(t *testing.T) {
	db := testutil.OpenDB(t)
	svc, repo := newTestService(t, db)
	ctx := context.Background()

	user := seedBeneficiary(t, db, 0, 0)
	log := mustCreateFrozen(t, svc, db, user.ID, 500)
	_, err := svc.Release(ctx, db, log.ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, db, log.ID, time.Now().UTC())
	require.NoError(t, err)
	_, err = svc.Settle(ctx, db, log.ID)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, db, log.ID, "refund")
	require.NoError(t, err)
	assert.False(t, cancelled)

	got, err := repo.FindByID(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CommissionStatusSettled, got.Status)
}

func TestClawbackSettledCarriesShortfallAsDebt(t *testing.T) {
	db := testutil.OpenDB(t)
	svc, repo := newTestService(t, db)
	ctx := context.Background()

	user := seedBeneficiary(t, db, 0, 0)
	log := mustCreateFrozen(t, svc, db, user.ID, 500)
	_, err := svc.Release(ctx, db, log.ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, db, log.ID, time.Now().UTC())
	require.NoError(t, err)
	_, err = svc.Settle(ctx, db, log.ID)
	require.NoError(t, err)

	// The beneficiary spent most of the payout already.
	require.NoError(t, users.NewRepository(db).AddBalance(ctx, user.ID, -300))

	row, err := repo.FindByID(ctx, log.ID)
	require.NoError(t, err)
	require.NoError(t, svc.ClawbackSettled(ctx, db, row))

	var got models.User
	require.NoError(t, db.Where("id = ?", user.ID).First(&got).Error)
	assert.Equal(t, int64(0), got.BalanceFen)
	assert.Equal(t, int64(300), got.DebtFen)
}

func TestClawbackRequiresSettledRow(t *testing.T) {
	db := testutil.OpenDB(t)
	svc, _ := newTestService(t, db)

	user := seedBeneficiary(t, db, 0, 0)
	log := mustCreateFrozen(t, svc, db, user.ID, 500)

	err := svc.ClawbackSettled(context.Background(), db, log)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestStampRefundDeadlineBackfillsOnlyUnstampedFrozenRows(t *testing.T) {
	db := testutil.OpenDB(t)
	svc, repo := newTestService(t, db)
	ctx := context.Background()

	user := seedBeneficiary(t, db, 0, 0)
	orderID := uuid.New()

	early := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	stamped, err := svc.CreateFrozen(ctx, db, CreateFrozenInput{
		OrderID:        orderID,
		UserID:         user.ID,
		AmountFen:      100,
		Type:           enums.CommissionTypeGap,
		RefundDeadline: &early,
	})
	require.NoError(t, err)
	blank, err := svc.CreateFrozen(ctx, db, CreateFrozenInput{
		OrderID:   orderID,
		UserID:    user.ID,
		AmountFen: 200,
		Type:      enums.CommissionTypeAgentFulfillment,
	})
	require.NoError(t, err)

	deadline := time.Now().Add(7 * 24 * time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, svc.StampRefundDeadline(ctx, db, orderID, deadline))

	got, err := repo.FindByID(ctx, blank.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RefundDeadline)
	assert.WithinDuration(t, deadline, *got.RefundDeadline, time.Second)

	got, err = repo.FindByID(ctx, stamped.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RefundDeadline)
	assert.WithinDuration(t, early, *got.RefundDeadline, time.Second)
}

func TestRemarksAccumulateAcrossLifecycle(t *testing.T) {
	db := testutil.OpenDB(t)
	svc, repo := newTestService(t, db)
	ctx := context.Background()
	user := seedBeneficiary(t, db, 0, 100)

	stampRemark := func(id uuid.UUID) {
		require.NoError(t, db.Model(&models.CommissionLog{}).
			Where("id = ?", id).
			Update("remark", "prorated by refund").Error)
	}

	// Cancelling keeps the earlier proration note.
	cancelled := mustCreateFrozen(t, svc, db, user.ID, 300)
	stampRemark(cancelled.ID)
	advanced, err := svc.Cancel(ctx, db, cancelled.ID, "cancelled by full refund")
	require.NoError(t, err)
	require.True(t, advanced)

	got, err := repo.FindByID(ctx, cancelled.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Remark)
	assert.Contains(t, *got.Remark, "prorated by refund")
	assert.Contains(t, *got.Remark, "cancelled by full refund")

	// Settling appends the payout split after the proration note.
	settled := mustCreateFrozen(t, svc, db, user.ID, 500)
	_, err = svc.Release(ctx, db, settled.ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, db, settled.ID, time.Now().UTC())
	require.NoError(t, err)
	stampRemark(settled.ID)
	advanced, err = svc.Settle(ctx, db, settled.ID)
	require.NoError(t, err)
	require.True(t, advanced)

	got, err = repo.FindByID(ctx, settled.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Remark)
	assert.Contains(t, *got.Remark, "prorated by refund")
	assert.Contains(t, *got.Remark, "settled: debt_offset=100 credited=400")
}
