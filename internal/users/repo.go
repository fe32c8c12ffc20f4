package users

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quanhe-tech/tiershop-backend/pkg/db/models"
	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
	pkgerrors "github.com/quanhe-tech/tiershop-backend/pkg/errors"
)

// Repository mutates user rows. Balance, debt, cloud stock and counters are
// only ever changed through guarded additive updates so concurrent mutations
// stay order-independent.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.User, error)

	AddBalance(ctx context.Context, id uuid.UUID, deltaFen int64) error
	AddDebt(ctx context.Context, id uuid.UUID, deltaFen int64) error
	AddCloudStock(ctx context.Context, id uuid.UUID, delta int) error
	AddTotalSales(ctx context.Context, id uuid.UUID, deltaFen int64) error

	IncrementOrderCount(ctx context.Context, id uuid.UUID) error
	IncrementValidOrderCount(ctx context.Context, id uuid.UUID) error
	IncrementRefereeCount(ctx context.Context, id uuid.UUID) error

	PromoteTier(ctx context.Context, id uuid.UUID, from, to enums.UserTier) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a users repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// AddBalance applies a guarded balance delta. Decrements that would drive
// the balance negative are rejected; callers route the shortfall to debt.
func (r *repository) AddBalance(ctx context.Context, id uuid.UUID, deltaFen int64) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE users
		SET balance_fen = balance_fen + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND balance_fen + ? >= 0
	`, deltaFen, id, deltaFen)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update balance")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "balance update rejected")
	}
	return nil
}

func (r *repository) AddDebt(ctx context.Context, id uuid.UUID, deltaFen int64) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE users
		SET debt_fen = debt_fen + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND debt_fen + ? >= 0
	`, deltaFen, id, deltaFen)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update debt")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "debt update rejected")
	}
	return nil
}

func (r *repository) AddCloudStock(ctx context.Context, id uuid.UUID, delta int) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE users
		SET cloud_stock = cloud_stock + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND cloud_stock + ? >= 0
	`, delta, id, delta)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update cloud stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStock, "insufficient cloud stock")
	}
	return nil
}

func (r *repository) AddTotalSales(ctx context.Context, id uuid.UUID, deltaFen int64) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE users
		SET total_sales_fen = total_sales_fen + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, deltaFen, id)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update total sales")
	}
	return nil
}

func (r *repository) IncrementOrderCount(ctx context.Context, id uuid.UUID) error {
	return r.addCounter(ctx, id, "order_count")
}

func (r *repository) IncrementValidOrderCount(ctx context.Context, id uuid.UUID) error {
	return r.addCounter(ctx, id, "valid_order_count")
}

func (r *repository) IncrementRefereeCount(ctx context.Context, id uuid.UUID) error {
	return r.addCounter(ctx, id, "referee_count")
}

func (r *repository) addCounter(ctx context.Context, id uuid.UUID, column string) error {
	res := r.db.WithContext(ctx).Exec(
		"UPDATE users SET "+column+" = "+column+" + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "increment "+column)
	}
	return nil
}

// PromoteTier advances a user's tier only when the current tier still
// matches; a concurrent promotion simply wins and this call is a no-op.
func (r *repository) PromoteTier(ctx context.Context, id uuid.UUID, from, to enums.UserTier) error {
	if !to.Above(from) {
		return pkgerrors.New(pkgerrors.CodeValidation, "tier promotion must move upward")
	}
	res := r.db.WithContext(ctx).Exec(`
		UPDATE users
		SET tier = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND tier = ?
	`, int(to), id, int(from))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "promote tier")
	}
	return nil
}
