package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowmesh/jobbroker/internal/breaker"
	"github.com/flowmesh/jobbroker/internal/jobmodel"
	"github.com/flowmesh/jobbroker/internal/store"
)

func newTestBroker(t *testing.T) (*Broker, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewForTest(rdb)
	return New(st, zap.NewNop(), 0), func() {
		rdb.Close()
		mr.Close()
	}
}

func TestSubmitJobAssignsIDAndPendingStatus(t *testing.T) {
	b, cleanup := newTestBroker(t)
	defer cleanup()
	ctx := context.Background()

	job, err := b.SubmitJob(ctx, jobmodel.Job{ServiceRequired: "render", Priority: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, jobmodel.StatusPending, job.Status)
	assert.Equal(t, 3, job.MaxRetries, "default max retries applies when unset")
}

func TestSubmitJobRequiresServiceRequired(t *testing.T) {
	b, cleanup := newTestBroker(t)
	defer cleanup()

	_, err := b.SubmitJob(context.Background(), jobmodel.Job{})
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestCompleteJobRejectsNonOwner(t *testing.T) {
	b, cleanup := newTestBroker(t)
	defer cleanup()
	ctx := context.Background()

	job, err := b.SubmitJob(ctx, jobmodel.Job{ServiceRequired: "render"})
	require.NoError(t, err)
	job.WorkerID = "w-owner"
	require.NoError(t, b.store.PutJob(ctx, job))

	_, err = b.CompleteJob(ctx, "someone-else", job.ID, nil)
	require.Error(t, err)
	assert.Equal(t, KindNotOwner, KindOf(err))
}

func TestFailJobRequeuesUntilMaxRetriesThenFails(t *testing.T) {
	b, cleanup := newTestBroker(t)
	defer cleanup()
	ctx := context.Background()

	job, err := b.SubmitJob(ctx, jobmodel.Job{ServiceRequired: "render", MaxRetries: 1})
	require.NoError(t, err)
	job.WorkerID = "w-1"
	require.NoError(t, b.store.PutJob(ctx, job))

	requeued, err := b.FailJob(ctx, "w-1", job.ID, "boom")
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusPending, requeued.Status)
	assert.Equal(t, 1, requeued.RetryCount)

	requeued.WorkerID = "w-2"
	require.NoError(t, b.store.PutJob(ctx, requeued))

	failed, err := b.FailJob(ctx, "w-2", job.ID, "boom again")
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusFailed, failed.Status)
	assert.NotNil(t, failed.CompletedAt)
}

func TestCancelPendingJobRemovesFromIndex(t *testing.T) {
	b, cleanup := newTestBroker(t)
	defer cleanup()
	ctx := context.Background()

	job, err := b.SubmitJob(ctx, jobmodel.Job{ServiceRequired: "render"})
	require.NoError(t, err)

	cancelled, err := b.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusCancelled, cancelled.Status)

	n, err := b.store.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCancelInFlightJobFlagsRequested(t *testing.T) {
	b, cleanup := newTestBroker(t)
	defer cleanup()
	ctx := context.Background()

	job, err := b.SubmitJob(ctx, jobmodel.Job{ServiceRequired: "render"})
	require.NoError(t, err)
	job.Status = jobmodel.StatusProcessing
	job.WorkerID = "w-1"
	require.NoError(t, b.store.PutJob(ctx, job))

	cancelled, err := b.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, cancelled.CancelRequested)
	assert.Equal(t, jobmodel.StatusProcessing, cancelled.Status)
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	b, cleanup := newTestBroker(t)
	defer cleanup()
	ctx := context.Background()

	job, err := b.SubmitJob(ctx, jobmodel.Job{ServiceRequired: "render"})
	require.NoError(t, err)
	job.Status = jobmodel.StatusCompleted
	require.NoError(t, b.store.PutJob(ctx, job))

	_, err = b.CancelJob(ctx, job.ID)
	require.Error(t, err)
	assert.Equal(t, KindStateConflict, KindOf(err))
}

func TestClaimJobFailsFastWhenBreakerOpen(t *testing.T) {
	b, cleanup := newTestBroker(t)
	defer cleanup()

	cb := breaker.New(time.Minute, time.Hour, 0.5, 1)
	b.WithCircuitBreaker(cb)
	// One recorded failure at minSamples=1 and threshold 0.5 trips the breaker open.
	cb.Record(false)

	_, err := b.ClaimJob(context.Background(), jobmodel.Worker{WorkerID: "w-1", Services: []string{"render"}})
	require.Error(t, err)
	assert.Equal(t, KindOverload, KindOf(err))
}

func TestReportProgressTransitionsAssignedToProcessing(t *testing.T) {
	b, cleanup := newTestBroker(t)
	defer cleanup()
	ctx := context.Background()

	job, err := b.SubmitJob(ctx, jobmodel.Job{ServiceRequired: "render"})
	require.NoError(t, err)
	job.Status = jobmodel.StatusAssigned
	job.WorkerID = "w-1"
	require.NoError(t, b.store.PutJob(ctx, job))

	require.NoError(t, b.ReportProgress(ctx, "w-1", job.ID, 10, "started"))

	updated, err := b.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusProcessing, updated.Status)

	// A second progress report must not revert a later status.
	require.NoError(t, b.ReportProgress(ctx, "w-1", job.ID, 20, "still going"))
	updated, err = b.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusProcessing, updated.Status)
}

func TestCompleteJobResetsWorkerToIdle(t *testing.T) {
	b, cleanup := newTestBroker(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, b.store.PutWorker(ctx, jobmodel.Worker{
		WorkerID: "w-1", Status: jobmodel.WorkerBusy, CurrentJobID: "job-x",
	}))
	job, err := b.SubmitJob(ctx, jobmodel.Job{ServiceRequired: "render"})
	require.NoError(t, err)
	job.WorkerID = "w-1"
	job.Status = jobmodel.StatusProcessing
	require.NoError(t, b.store.PutJob(ctx, job))

	_, err = b.CompleteJob(ctx, "w-1", job.ID, nil)
	require.NoError(t, err)

	worker, err := b.store.GetWorker(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, jobmodel.WorkerIdle, worker.Status)
	assert.Empty(t, worker.CurrentJobID)
}

func TestFailJobResetsWorkerToIdleOnFinalFailure(t *testing.T) {
	b, cleanup := newTestBroker(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, b.store.PutWorker(ctx, jobmodel.Worker{
		WorkerID: "w-1", Status: jobmodel.WorkerBusy, CurrentJobID: "job-x",
	}))
	job, err := b.SubmitJob(ctx, jobmodel.Job{ServiceRequired: "render", MaxRetries: 1})
	require.NoError(t, err)
	job.WorkerID = "w-1"
	job.Status = jobmodel.StatusProcessing
	job.RetryCount = 1
	require.NoError(t, b.store.PutJob(ctx, job))

	failed, err := b.FailJob(ctx, "w-1", job.ID, "boom")
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusFailed, failed.Status)

	worker, err := b.store.GetWorker(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, jobmodel.WorkerIdle, worker.Status)
	assert.Empty(t, worker.CurrentJobID)
}

func TestReportProgressAnnotatesNonMonotonic(t *testing.T) {
	b, cleanup := newTestBroker(t)
	defer cleanup()
	ctx := context.Background()

	job, err := b.SubmitJob(ctx, jobmodel.Job{ServiceRequired: "render"})
	require.NoError(t, err)
	job.WorkerID = "w-1"
	require.NoError(t, b.store.PutJob(ctx, job))

	require.NoError(t, b.ReportProgress(ctx, "w-1", job.ID, 50, "half"))
	require.NoError(t, b.ReportProgress(ctx, "w-1", job.ID, 10, "regressed"))

	history, err := b.store.Progress(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].NonMonotonic)
}
