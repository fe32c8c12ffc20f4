package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quanhe-tech/tiershop-backend/pkg/db/models"
	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
)

// Repository persists order rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByOrderNo(ctx context.Context, orderNo string) (*models.Order, error)
	FindByOrderNoForUpdate(ctx context.Context, orderNo string) (*models.Order, error)
	FindChildren(ctx context.Context, parentID uuid.UUID) ([]models.Order, error)

	FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	FindShippedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	FindAgentPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)

	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	HasOpenRefund(ctx context.Context, orderID uuid.UUID) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Children").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByIDForUpdate locks the order row. Children are loaded after the
// lock so the combined quantity read cannot race a concurrent split write.
func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	children, err := r.FindChildren(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Children = children
	return &order, nil
}

func (r *repository) FindByOrderNo(ctx context.Context, orderNo string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Children").
		Where("order_no = ?", orderNo).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByOrderNoForUpdate(ctx context.Context, orderNo string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_no = ?", orderNo).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	children, err := r.FindChildren(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Children = children
	return &order, nil
}

func (r *repository) FindChildren(ctx context.Context, parentID uuid.UUID) ([]models.Order, error) {
	var children []models.Order
	err := r.db.WithContext(ctx).
		Where("parent_order_id = ?", parentID).
		Order("created_at ASC").
		Find(&children).Error
	if err != nil {
		return nil, err
	}
	return children, nil
}

func (r *repository) FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	return r.findByStatusBefore(ctx, enums.OrderStatusPending, "created_at", cutoff, limit)
}

func (r *repository) FindShippedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	return r.findByStatusBefore(ctx, enums.OrderStatusShipped, "shipped_at", cutoff, limit)
}

func (r *repository) FindAgentPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("fulfillment_type = ? AND status = ? AND paid_at <= ? AND parent_order_id IS NULL",
			enums.FulfillmentTypeAgentPending, enums.OrderStatusPaid, cutoff).
		Order("paid_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) findByStatusBefore(ctx context.Context, status enums.OrderStatus, column string, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND "+column+" <= ? AND parent_order_id IS NULL", status, cutoff).
		Order(column + " ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) HasOpenRefund(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("order_id = ? AND status = ?", orderID, enums.RefundStatusPending).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
