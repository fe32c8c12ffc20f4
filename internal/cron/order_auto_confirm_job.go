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

type orderConfirmer interface {
	Confirm(ctx context.Context, orderID uuid.UUID) error
}

// OrderAutoConfirmJobParams configure the shipped-order grace sweep.
type OrderAutoConfirmJobParams struct {
	Logger    *logger.Logger
	Orders    orders.Repository
	Confirmer orderConfirmer
	Metrics   *metrics.CronJobMetrics
	Grace     time.Duration
	BatchSize int
}

// NewOrderAutoConfirmJob builds the sweep that completes shipped orders
// the buyer never confirmed, which also starts their refund deadline.
func NewOrderAutoConfirmJob(params OrderAutoConfirmJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Confirmer == nil {
		return nil, fmt.Errorf("order confirmer required")
	}
	if params.Grace <= 0 {
		return nil, fmt.Errorf("grace period must be positive")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = 200
	}
	return &orderAutoConfirmJob{
		logg:      params.Logger,
		orders:    params.Orders,
		confirmer: params.Confirmer,
		metrics:   params.Metrics,
		grace:     params.Grace,
		batch:     batch,
		now:       time.Now,
	}, nil
}

type orderAutoConfirmJob struct {
	logg      *logger.Logger
	orders    orders.Repository
	confirmer orderConfirmer
	metrics   *metrics.CronJobMetrics
	grace     time.Duration
	batch     int
	now       func() time.Time
}

func (j *orderAutoConfirmJob) Name() string { return "order-auto-confirm" }

func (j *orderAutoConfirmJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.grace)
	shipped, err := j.orders.FindShippedBefore(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query shipped orders past grace: %w", err)
	}

	var errs error
	processed := 0
	for i := range shipped {
		order := &shipped[i]
		if err := j.confirmer.Confirm(ctx, order.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.OrderNo, err))
			continue
		}
		processed++
	}
	if j.metrics != nil {
		j.metrics.AddProcessed(j.Name(), processed)
	}
	if processed > 0 {
		j.logg.Info(j.logg.WithField(ctx, "confirmed", processed), "shipped orders auto-confirmed")
	}
	return errs
}
