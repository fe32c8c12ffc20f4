package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/quanhe-tech/tiershop-backend/internal/commission"
	"github.com/quanhe-tech/tiershop-backend/internal/orders"
	"github.com/quanhe-tech/tiershop-backend/internal/users"
	"github.com/quanhe-tech/tiershop-backend/pkg/db/models"
	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
	"github.com/quanhe-tech/tiershop-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CommissionReleaseJobParams configure the frozen commission sweep.
type CommissionReleaseJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Commissions *commission.Service
	CommRepo    commission.Repository
	Orders      orders.Repository
	Users       users.Repository
	Metrics     *metrics.CronJobMetrics
	BatchSize   int
}

// NewCommissionReleaseJob builds the sweep that moves frozen rows past
// their refund deadline into pending approval. Orders with an open refund
// are skipped and retried next cycle. The buyer's valid-order counter
// increments here, the first time any of an order's rows release.
func NewCommissionReleaseJob(params CommissionReleaseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Commissions == nil || params.CommRepo == nil {
		return nil, fmt.Errorf("commission service and repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = 200
	}
	return &commissionReleaseJob{
		logg:        params.Logger,
		db:          params.DB,
		commissions: params.Commissions,
		commRepo:    params.CommRepo,
		orders:      params.Orders,
		users:       params.Users,
		metrics:     params.Metrics,
		batch:       batch,
		now:         time.Now,
	}, nil
}

type commissionReleaseJob struct {
	logg        *logger.Logger
	db          txRunner
	commissions *commission.Service
	commRepo    commission.Repository
	orders      orders.Repository
	users       users.Repository
	metrics     *metrics.CronJobMetrics
	batch       int
	now         func() time.Time
}

func (j *commissionReleaseJob) Name() string { return "commission-release" }

func (j *commissionReleaseJob) Run(ctx context.Context) error {
	due, err := j.commRepo.FindFrozenPastDeadline(ctx, j.now().UTC(), j.batch)
	if err != nil {
		return fmt.Errorf("query frozen commissions: %w", err)
	}

	var errs error
	processed, skipped := 0, 0
	for i := range due {
		row := &due[i]
		released, err := j.releaseOne(ctx, row)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("commission %s: %w", row.ID, err))
			continue
		}
		if released {
			processed++
		} else {
			skipped++
		}
	}
	if j.metrics != nil {
		j.metrics.AddProcessed(j.Name(), processed)
		j.metrics.AddSkipped(j.Name(), skipped)
	}
	if processed > 0 || skipped > 0 {
		fields := j.logg.WithField(ctx, "released", processed)
		fields = j.logg.WithField(fields, "skipped", skipped)
		j.logg.Info(fields, "frozen commissions swept")
	}
	return errs
}

// releaseOne moves a single row inside its own transaction so one poisoned
// row cannot wedge the rest of the batch.
func (j *commissionReleaseJob) releaseOne(ctx context.Context, row *models.CommissionLog) (bool, error) {
	released := false
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		ordersRepo := j.orders.WithTx(tx)
		order, err := ordersRepo.FindByIDForUpdate(ctx, row.OrderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		open, err := ordersRepo.HasOpenRefund(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("check open refunds: %w", err)
		}
		if open {
			return nil
		}

		released, err = j.commissions.Release(ctx, tx, row.ID)
		if err != nil {
			return err
		}
		if !released {
			return nil
		}
		return j.countValidOrder(ctx, tx, ordersRepo, order)
	})
	return released, err
}

// countValidOrder increments the buyer's valid-order counter exactly once
// per order, keyed on a remark marker written under the order lock.
func (j *commissionReleaseJob) countValidOrder(ctx context.Context, tx *gorm.DB, repo orders.Repository, order *models.Order) error {
	if order.HasValidCountedMarker() {
		return nil
	}
	remark := models.RemarkValidCounted
	if order.Remark != nil && *order.Remark != "" {
		remark = *order.Remark + " " + remark
	}
	if err := repo.Update(ctx, order.ID, map[string]any{"remark": remark}); err != nil {
		return fmt.Errorf("stamp valid-counted marker: %w", err)
	}
	if err := j.users.WithTx(tx).IncrementValidOrderCount(ctx, order.BuyerID); err != nil {
		return fmt.Errorf("increment valid order count: %w", err)
	}
	return nil
}
