package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quanhe-tech/tiershop-backend/internal/users"
	"github.com/quanhe-tech/tiershop-backend/pkg/db/models"
	pkgerrors "github.com/quanhe-tech/tiershop-backend/pkg/errors"
)

// Ledger mutates the two inventory pools: platform product/SKU stock and
// per-agent cloud stock. Every mutation runs inside a caller-provided
// transaction and re-validates preconditions after the row lock is held.
type Ledger struct {
	users          users.Repository
	reservationTTL time.Duration
	now            func() time.Time
}

// NewLedger builds a stock ledger.
func NewLedger(usersRepo users.Repository, reservationTTL time.Duration) (*Ledger, error) {
	if usersRepo == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if reservationTTL <= 0 {
		reservationTTL = 5 * time.Minute
	}
	return &Ledger{
		users:          usersRepo,
		reservationTTL: reservationTTL,
		now:            time.Now,
	}, nil
}

// LockProduct takes the product row lock. Products are always locked before
// SKUs, buyers, agents and orders to keep lock order fixed.
func (l *Ledger) LockProduct(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", productID).
		First(&product).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock product")
	}
	return &product, nil
}

// LockSKU takes the SKU row lock after the product lock.
func (l *Ledger) LockSKU(ctx context.Context, tx *gorm.DB, skuID uuid.UUID) (*models.ProductSKU, error) {
	var sku models.ProductSKU
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", skuID).
		First(&sku).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sku not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock sku")
	}
	return &sku, nil
}

// DeductPlatform removes qty from the product (and SKU, when present)
// counters. The guard re-checks stock under the update itself so a stale
// pre-lock read can never overdraw.
func (l *Ledger) DeductPlatform(ctx context.Context, tx *gorm.DB, productID uuid.UUID, skuID *uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	res := tx.WithContext(ctx).Exec(`
		UPDATE products
		SET stock = stock - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND stock >= ?
	`, qty, productID, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "deduct product stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStock, "insufficient product stock")
	}
	if skuID == nil {
		return nil
	}
	res = tx.WithContext(ctx).Exec(`
		UPDATE product_skus
		SET stock = stock - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND stock >= ?
	`, qty, *skuID, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "deduct sku stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStock, "insufficient sku stock")
	}
	return nil
}

// RestorePlatform returns qty to the product (and SKU) counters.
func (l *Ledger) RestorePlatform(ctx context.Context, tx *gorm.DB, productID uuid.UUID, skuID *uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}
	res := tx.WithContext(ctx).Exec(`
		UPDATE products
		SET stock = stock + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, qty, productID)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "restore product stock")
	}
	if skuID != nil {
		res = tx.WithContext(ctx).Exec(`
			UPDATE product_skus
			SET stock = stock + ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, qty, *skuID)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "restore sku stock")
		}
	}
	return nil
}

// ReserveCloud places a short-lived hold on the agent's cloud stock. The
// agent row is locked first, then the available amount is computed net of
// every other still-active hold.
func (l *Ledger) ReserveCloud(ctx context.Context, tx *gorm.DB, agentID, orderID uuid.UUID, qty int) (*models.StockReservation, error) {
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	agent, err := l.users.WithTx(tx).FindByIDForUpdate(ctx, agentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock agent")
	}

	now := l.now().UTC()
	var held int64
	err = tx.WithContext(ctx).
		Model(&models.StockReservation{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("agent_id = ? AND consumed_at IS NULL AND released_at IS NULL AND expires_at > ?", agentID, now).
		Scan(&held).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum active reservations")
	}

	if int64(agent.CloudStock)-held < int64(qty) {
		return nil, pkgerrors.New(pkgerrors.CodeStock, "insufficient cloud stock")
	}

	reservation := &models.StockReservation{
		AgentID:   agentID,
		OrderID:   orderID,
		Quantity:  qty,
		ExpiresAt: now.Add(l.reservationTTL),
	}
	if err := tx.WithContext(ctx).Create(reservation).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reservation")
	}
	return reservation, nil
}

// ConsumeReservation turns the order's active hold into an actual cloud
// stock deduction. When the hold already expired the deduction falls back
// to the guarded direct decrement.
func (l *Ledger) ConsumeReservation(ctx context.Context, tx *gorm.DB, agentID, orderID uuid.UUID, qty int) error {
	now := l.now().UTC()
	res := tx.WithContext(ctx).Exec(`
		UPDATE stock_reservations
		SET consumed_at = ?
		WHERE order_id = ? AND consumed_at IS NULL AND released_at IS NULL AND expires_at > ?
	`, now, orderID, now)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "consume reservation")
	}
	// Either path ends in the same guarded decrement; the hold only
	// protected the window between confirm and ship.
	return l.users.WithTx(tx).AddCloudStock(ctx, agentID, -qty)
}

// ReleaseReservation drops the order's active hold without deducting.
func (l *Ledger) ReleaseReservation(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	now := l.now().UTC()
	res := tx.WithContext(ctx).Exec(`
		UPDATE stock_reservations
		SET released_at = ?
		WHERE order_id = ? AND consumed_at IS NULL AND released_at IS NULL
	`, now, orderID)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release reservation")
	}
	return nil
}

// RestoreCloud returns qty to the agent's cloud pool.
func (l *Ledger) RestoreCloud(ctx context.Context, tx *gorm.DB, agentID uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}
	return l.users.WithTx(tx).AddCloudStock(ctx, agentID, qty)
}
