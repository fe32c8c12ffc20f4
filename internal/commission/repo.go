package commission

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quanhe-tech/tiershop-backend/pkg/db/models"
	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
)

// Repository persists commission rows. Status moves are guarded updates
// keyed on the expected pre-state so concurrent sweeps skip instead of
// double-processing.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, log *models.CommissionLog) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CommissionLog, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.CommissionLog, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.CommissionLog, error)
	FindByOrderIDForUpdate(ctx context.Context, orderID uuid.UUID) ([]models.CommissionLog, error)

	FindFrozenPastDeadline(ctx context.Context, cutoff time.Time, limit int) ([]models.CommissionLog, error)
	FindApprovedAvailable(ctx context.Context, now time.Time, limit int) ([]models.CommissionLog, error)

	// AdvanceStatus moves id from exactly `from` to `to`, returning false
	// when another worker advanced the row first.
	AdvanceStatus(ctx context.Context, id uuid.UUID, from, to enums.CommissionStatus, updates map[string]any) (bool, error)
	// ReduceAmount shrinks the amount; the guard rejects growth.
	ReduceAmount(ctx context.Context, id uuid.UUID, newAmountFen int64) (bool, error)
	// StampRefundDeadline backfills refund_deadline on the order's frozen
	// rows that do not carry one yet.
	StampRefundDeadline(ctx context.Context, orderID uuid.UUID, deadline time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a commission repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, log *models.CommissionLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CommissionLog, error) {
	var log models.CommissionLog
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&log).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.CommissionLog, error) {
	var log models.CommissionLog
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&log).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.CommissionLog, error) {
	var logs []models.CommissionLog
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *repository) FindByOrderIDForUpdate(ctx context.Context, orderID uuid.UUID) ([]models.CommissionLog, error) {
	var logs []models.CommissionLog
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *repository) FindFrozenPastDeadline(ctx context.Context, cutoff time.Time, limit int) ([]models.CommissionLog, error) {
	var logs []models.CommissionLog
	err := r.db.WithContext(ctx).
		Where("status = ? AND refund_deadline IS NOT NULL AND refund_deadline <= ?", enums.CommissionStatusFrozen, cutoff).
		Order("refund_deadline ASC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *repository) FindApprovedAvailable(ctx context.Context, now time.Time, limit int) ([]models.CommissionLog, error) {
	var logs []models.CommissionLog
	err := r.db.WithContext(ctx).
		Where("status = ? AND available_at IS NOT NULL AND available_at <= ?", enums.CommissionStatusApproved, now).
		Order("available_at ASC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *repository) AdvanceStatus(ctx context.Context, id uuid.UUID, from, to enums.CommissionStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.CommissionLog{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) StampRefundDeadline(ctx context.Context, orderID uuid.UUID, deadline time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.CommissionLog{}).
		Where("order_id = ? AND status = ? AND refund_deadline IS NULL", orderID, enums.CommissionStatusFrozen).
		Update("refund_deadline", deadline).Error
}

func (r *repository) ReduceAmount(ctx context.Context, id uuid.UUID, newAmountFen int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CommissionLog{}).
		Where("id = ? AND amount_fen > ? AND status IN ?", id, newAmountFen, []enums.CommissionStatus{
			enums.CommissionStatusFrozen,
			enums.CommissionStatusPendingApproval,
			enums.CommissionStatusApproved,
		}).
		Update("amount_fen", newAmountFen)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
