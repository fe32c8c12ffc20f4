package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/quanhe-tech/tiershop-backend/internal/commission"
	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
	"github.com/quanhe-tech/tiershop-backend/pkg/metrics"
)

// CommissionSettleJobParams configure the approved commission sweep.
type CommissionSettleJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Commissions *commission.Service
	CommRepo    commission.Repository
	Metrics     *metrics.CronJobMetrics
	BatchSize   int
}

// NewCommissionSettleJob builds the sweep that settles approved rows whose
// availability time has passed, offsetting debt before crediting balance.
func NewCommissionSettleJob(params CommissionSettleJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Commissions == nil || params.CommRepo == nil {
		return nil, fmt.Errorf("commission service and repository required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = 200
	}
	return &commissionSettleJob{
		logg:        params.Logger,
		db:          params.DB,
		commissions: params.Commissions,
		commRepo:    params.CommRepo,
		metrics:     params.Metrics,
		batch:       batch,
		now:         time.Now,
	}, nil
}

type commissionSettleJob struct {
	logg        *logger.Logger
	db          txRunner
	commissions *commission.Service
	commRepo    commission.Repository
	metrics     *metrics.CronJobMetrics
	batch       int
	now         func() time.Time
}

func (j *commissionSettleJob) Name() string { return "commission-settle" }

func (j *commissionSettleJob) Run(ctx context.Context) error {
	due, err := j.commRepo.FindApprovedAvailable(ctx, j.now().UTC(), j.batch)
	if err != nil {
		return fmt.Errorf("query approved commissions: %w", err)
	}

	var errs error
	processed, skipped := 0, 0
	for i := range due {
		row := &due[i]
		var settled bool
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			settled, err = j.commissions.Settle(ctx, tx, row.ID)
			return err
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("commission %s: %w", row.ID, err))
			continue
		}
		if settled {
			processed++
		} else {
			skipped++
		}
	}
	if j.metrics != nil {
		j.metrics.AddProcessed(j.Name(), processed)
		j.metrics.AddSkipped(j.Name(), skipped)
	}
	if processed > 0 {
		j.logg.Info(j.logg.WithField(ctx, "settled", processed), "approved commissions settled")
	}
	return errs
}
