package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quanhe-tech/tiershop-backend/internal/orders"
	"github.com/quanhe-tech/tiershop-backend/internal/testutil"
	"github.com/quanhe-tech/tiershop-backend/pkg/db/models"
)

// stubOrdersRepo serves canned sweep batches; unimplemented methods panic
// through the embedded nil interface.
type stubOrdersRepo struct {
	orders.Repository
	pending      []models.Order
	shipped      []models.Order
	agentPending []models.Order
}

func (s *stubOrdersRepo) FindPendingBefore(context.Context, time.Time, int) ([]models.Order, error) {
	return s.pending, nil
}

func (s *stubOrdersRepo) FindShippedBefore(context.Context, time.Time, int) ([]models.Order, error) {
	return s.shipped, nil
}

func (s *stubOrdersRepo) FindAgentPendingBefore(context.Context, time.Time, int) ([]models.Order, error) {
	return s.agentPending, nil
}

type recordingCanceller struct {
	cancelled []uuid.UUID
	failOn    uuid.UUID
}

func (r *recordingCanceller) Cancel(_ context.Context, orderID uuid.UUID, _ string) error {
	if orderID == r.failOn {
		return errors.New("transition conflict")
	}
	r.cancelled = append(r.cancelled, orderID)
	return nil
}

type recordingConfirmer struct {
	confirmed []uuid.UUID
}

func (r *recordingConfirmer) Confirm(_ context.Context, orderID uuid.UUID) error {
	r.confirmed = append(r.confirmed, orderID)
	return nil
}

type recordingReassigner struct {
	reassigned []uuid.UUID
}

func (r *recordingReassigner) ReassignToCompany(_ context.Context, orderID uuid.UUID) error {
	r.reassigned = append(r.reassigned, orderID)
	return nil
}

func sweepOrders(n int) []models.Order {
	batch := make([]models.Order, n)
	for i := range batch {
		batch[i] = models.Order{ID: uuid.New(), OrderNo: uuid.NewString()}
	}
	return batch
}

func TestOrderAutoCancelJobKeepsGoingPastFailures(t *testing.T) {
	t.Parallel()

	stale := sweepOrders(3)
	canceller := &recordingCanceller{failOn: stale[1].ID}
	job, err := NewOrderAutoCancelJob(OrderAutoCancelJobParams{
		Logger:    testutil.NewLogger(),
		Orders:    &stubOrdersRepo{pending: stale},
		Canceller: canceller,
		MaxAge:    10 * 24 * time.Hour,
	})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), stale[1].OrderNo)
	assert.Equal(t, []uuid.UUID{stale[0].ID, stale[2].ID}, canceller.cancelled)
}

func TestOrderAutoConfirmJob(t *testing.T) {
	t.Parallel()

	shipped := sweepOrders(2)
	confirmer := &recordingConfirmer{}
	job, err := NewOrderAutoConfirmJob(OrderAutoConfirmJobParams{
		Logger:    testutil.NewLogger(),
		Orders:    &stubOrdersRepo{shipped: shipped},
		Confirmer: confirmer,
		Grace:     7 * 24 * time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, confirmer.confirmed, 2)
}

func TestFulfillmentTimeoutJob(t *testing.T) {
	t.Parallel()

	unclaimed := sweepOrders(2)
	reassigner := &recordingReassigner{}
	job, err := NewFulfillmentTimeoutJob(FulfillmentTimeoutJobParams{
		Logger:     testutil.NewLogger(),
		Orders:     &stubOrdersRepo{agentPending: unclaimed},
		Reassigner: reassigner,
		ClaimTTL:   24 * time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, reassigner.reassigned, 2)
}

type countingJob struct {
	name string
	runs int
	err  error
}

func (j *countingJob) Name() string            { return j.name }
func (j *countingJob) Run(context.Context) error { j.runs++; return j.err }

func TestServiceCycleRunsEveryJobUnderTheLock(t *testing.T) {
	t.Parallel()

	first := &countingJob{name: "first"}
	failing := &countingJob{name: "failing", err: errors.New("boom")}
	last := &countingJob{name: "last"}

	svc, err := NewService(ServiceParams{
		Logger:   testutil.NewLogger(),
		Registry: NewRegistry(first, failing, last),
		Lock:     NewMemoryLock(time.Minute),
	})
	require.NoError(t, err)

	require.NoError(t, svc.runCycle(context.Background()))

	// A failing job never blocks the ones behind it.
	assert.Equal(t, 1, first.runs)
	assert.Equal(t, 1, failing.runs)
	assert.Equal(t, 1, last.runs)
}

type heldLock struct{}

func (heldLock) Acquire(context.Context) (bool, error) { return false, nil }
func (heldLock) Release(context.Context) error         { return nil }

func TestServiceCycleSkipsWhenLockHeld(t *testing.T) {
	t.Parallel()

	job := &countingJob{name: "only"}
	svc, err := NewService(ServiceParams{
		Logger:   testutil.NewLogger(),
		Registry: NewRegistry(job),
		Lock:     heldLock{},
	})
	require.NoError(t, err)

	require.NoError(t, svc.runCycle(context.Background()))
	assert.Equal(t, 0, job.runs)
}
