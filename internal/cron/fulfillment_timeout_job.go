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

type orderReassigner interface {
	ReassignToCompany(ctx context.Context, orderID uuid.UUID) error
}

// FulfillmentTimeoutJobParams configure the unclaimed agent order sweep.
type FulfillmentTimeoutJobParams struct {
	Logger     *logger.Logger
	Orders     orders.Repository
	Reassigner orderReassigner
	Metrics    *metrics.CronJobMetrics
	ClaimTTL   time.Duration
	BatchSize  int
}

// NewFulfillmentTimeoutJob builds the sweep that hands paid orders no agent
// claimed within the window over to company fulfillment.
func NewFulfillmentTimeoutJob(params FulfillmentTimeoutJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Reassigner == nil {
		return nil, fmt.Errorf("order reassigner required")
	}
	if params.ClaimTTL <= 0 {
		return nil, fmt.Errorf("claim ttl must be positive")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = 200
	}
	return &fulfillmentTimeoutJob{
		logg:       params.Logger,
		orders:     params.Orders,
		reassigner: params.Reassigner,
		metrics:    params.Metrics,
		claimTTL:   params.ClaimTTL,
		batch:      batch,
		now:        time.Now,
	}, nil
}

type fulfillmentTimeoutJob struct {
	logg       *logger.Logger
	orders     orders.Repository
	reassigner orderReassigner
	metrics    *metrics.CronJobMetrics
	claimTTL   time.Duration
	batch      int
	now        func() time.Time
}

func (j *fulfillmentTimeoutJob) Name() string { return "fulfillment-timeout" }

func (j *fulfillmentTimeoutJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.claimTTL)
	unclaimed, err := j.orders.FindAgentPendingBefore(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query unclaimed agent orders: %w", err)
	}

	var errs error
	processed := 0
	for i := range unclaimed {
		order := &unclaimed[i]
		if err := j.reassigner.ReassignToCompany(ctx, order.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.OrderNo, err))
			continue
		}
		processed++
	}
	if j.metrics != nil {
		j.metrics.AddProcessed(j.Name(), processed)
	}
	if processed > 0 {
		j.logg.Info(j.logg.WithField(ctx, "reassigned", processed), "unclaimed agent orders reassigned")
	}
	return errs
}
