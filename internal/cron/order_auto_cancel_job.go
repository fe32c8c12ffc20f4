package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/quanhe-tech/tiershop-backend/internal/orders"
	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
	"github.com/quanhe-tech/tiershop-backend/pkg/metrics"
)

type orderCanceller interface {
	Cancel(ctx context.Context, orderID uuid.UUID, reason string) error
}

// OrderAutoCancelJobParams configure the stale pending order sweep.
type OrderAutoCancelJobParams struct {
	Logger    *logger.Logger
	Orders    orders.Repository
	Canceller orderCanceller
	Metrics   *metrics.CronJobMetrics
	MaxAge    time.Duration
	BatchSize int
}

// NewOrderAutoCancelJob builds the sweep that cancels orders left unpaid
// past the cancel deadline. The cancel path restores the combined stock of
// the whole split family.
func NewOrderAutoCancelJob(params OrderAutoCancelJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Canceller == nil {
		return nil, fmt.Errorf("order canceller required")
	}
	if params.MaxAge <= 0 {
		return nil, fmt.Errorf("max age must be positive")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = 200
	}
	return &orderAutoCancelJob{
		logg:      params.Logger,
		orders:    params.Orders,
		canceller: params.Canceller,
		metrics:   params.Metrics,
		maxAge:    params.MaxAge,
		batch:     batch,
		now:       time.Now,
	}, nil
}

type orderAutoCancelJob struct {
	logg      *logger.Logger
	orders    orders.Repository
	canceller orderCanceller
	metrics   *metrics.CronJobMetrics
	maxAge    time.Duration
	batch     int
	now       func() time.Time
}

func (j *orderAutoCancelJob) Name() string { return "order-auto-cancel" }

func (j *orderAutoCancelJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.maxAge)
	stale, err := j.orders.FindPendingBefore(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query stale pending orders: %w", err)
	}

	var errs error
	processed := 0
	for i := range stale {
		order := &stale[i]
		if err := j.canceller.Cancel(ctx, order.ID, "unpaid past cancel deadline"); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.OrderNo, err))
			continue
		}
		processed++
	}
	if j.metrics != nil {
		j.metrics.AddProcessed(j.Name(), processed)
	}
	if processed > 0 {
		j.logg.Info(j.logg.WithField(ctx, "cancelled", processed), "stale pending orders cancelled")
	}
	return errs
}
