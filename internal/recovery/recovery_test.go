package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowmesh/jobbroker/internal/config"
	"github.com/flowmesh/jobbroker/internal/jobmodel"
	"github.com/flowmesh/jobbroker/internal/store"
)

type fakeLiveChecker struct {
	connected map[string]bool
}

func (f fakeLiveChecker) IsConnected(workerID string) bool { return f.connected[workerID] }

func newTestStoreForRecovery(t *testing.T) (*store.Store, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return store.NewForTest(rdb), func() {
		rdb.Close()
		mr.Close()
	}
}

func TestSweepSkipsConnectedWorkers(t *testing.T) {
	st, cleanup := newTestStoreForRecovery(t)
	defer cleanup()
	ctx := context.Background()

	worker := jobmodel.Worker{WorkerID: "w-1", LastActivity: time.Now().Add(-time.Hour)}
	require.NoError(t, st.PutWorker(ctx, worker))

	r := New(config.Recovery{Interval: time.Minute, GracePeriod: time.Second}, st, fakeLiveChecker{connected: map[string]bool{"w-1": true}}, zap.NewNop())
	r.sweepOnce(ctx)

	ids, err := st.ListWorkerIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, "w-1", "a still-connected worker must not be reaped")
}

func TestSweepSkipsWorkersWithinGracePeriod(t *testing.T) {
	st, cleanup := newTestStoreForRecovery(t)
	defer cleanup()
	ctx := context.Background()

	worker := jobmodel.Worker{WorkerID: "w-2", LastActivity: time.Now()}
	require.NoError(t, st.PutWorker(ctx, worker))

	r := New(config.Recovery{Interval: time.Minute, GracePeriod: time.Hour}, st, fakeLiveChecker{}, zap.NewNop())
	r.sweepOnce(ctx)

	ids, err := st.ListWorkerIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, "w-2")
}

func TestSweepReclaimsAbandonedJobAndRemovesWorker(t *testing.T) {
	st, cleanup := newTestStoreForRecovery(t)
	defer cleanup()
	ctx := context.Background()

	job := jobmodel.Job{ID: "job-1", ServiceRequired: "render", Status: jobmodel.StatusProcessing, WorkerID: "w-3", MaxRetries: 3, CreatedAt: time.Now()}
	require.NoError(t, st.PutJob(ctx, job))
	require.NoError(t, st.SetActiveJob(ctx, "w-3", job.ID))

	worker := jobmodel.Worker{WorkerID: "w-3", LastActivity: time.Now().Add(-time.Hour)}
	require.NoError(t, st.PutWorker(ctx, worker))

	r := New(config.Recovery{Interval: time.Minute, GracePeriod: time.Second}, st, fakeLiveChecker{}, zap.NewNop())
	r.sweepOnce(ctx)

	reclaimed, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusPending, reclaimed.Status)
	assert.Equal(t, 1, reclaimed.RetryCount)
	assert.Equal(t, "w-3", reclaimed.LastFailedWorker)
	assert.Empty(t, reclaimed.WorkerID)

	ids, err := st.ListWorkerIDs(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, "w-3")
}

func TestSweepSkipsTerminalJobs(t *testing.T) {
	st, cleanup := newTestStoreForRecovery(t)
	defer cleanup()
	ctx := context.Background()

	job := jobmodel.Job{ID: "job-done", ServiceRequired: "render", Status: jobmodel.StatusCompleted, WorkerID: "w-4"}
	require.NoError(t, st.PutJob(ctx, job))
	require.NoError(t, st.SetActiveJob(ctx, "w-4", job.ID))

	worker := jobmodel.Worker{WorkerID: "w-4", LastActivity: time.Now().Add(-time.Hour)}
	require.NoError(t, st.PutWorker(ctx, worker))

	r := New(config.Recovery{Interval: time.Minute, GracePeriod: time.Second}, st, fakeLiveChecker{}, zap.NewNop())
	r.sweepOnce(ctx)

	unchanged, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusCompleted, unchanged.Status)
}

func TestSweepFailsJobWithNoRetriesRemaining(t *testing.T) {
	st, cleanup := newTestStoreForRecovery(t)
	defer cleanup()
	ctx := context.Background()

	job := jobmodel.Job{ID: "job-5", ServiceRequired: "render", Status: jobmodel.StatusProcessing, WorkerID: "w-5", RetryCount: 3, MaxRetries: 3, CreatedAt: time.Now()}
	require.NoError(t, st.PutJob(ctx, job))
	require.NoError(t, st.SetActiveJob(ctx, "w-5", job.ID))
	require.NoError(t, st.AddActive(ctx, job.ID))

	worker := jobmodel.Worker{WorkerID: "w-5", LastActivity: time.Now().Add(-time.Hour)}
	require.NoError(t, st.PutWorker(ctx, worker))

	r := New(config.Recovery{Interval: time.Minute, GracePeriod: time.Second}, st, fakeLiveChecker{}, zap.NewNop())
	r.sweepOnce(ctx)

	failed, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusFailed, failed.Status)
	assert.NotNil(t, failed.CompletedAt)

	terminal, err := st.TerminalSnapshot(ctx, jobmodel.StatusFailed)
	require.NoError(t, err)
	assert.Contains(t, terminal, job.ID)

	active, err := st.ActiveSnapshot(ctx)
	require.NoError(t, err)
	assert.NotContains(t, active, job.ID)
}

func TestSweepReclaimsOrphanedActiveJobWithNoWorkerRecord(t *testing.T) {
	st, cleanup := newTestStoreForRecovery(t)
	defer cleanup()
	ctx := context.Background()

	job := jobmodel.Job{ID: "job-6", ServiceRequired: "render", Status: jobmodel.StatusProcessing, WorkerID: "w-ghost", MaxRetries: 3, CreatedAt: time.Now()}
	require.NoError(t, st.PutJob(ctx, job))
	require.NoError(t, st.AddActive(ctx, job.ID))
	// Deliberately no PutWorker call: the worker registry entry is gone,
	// but the job still claims w-ghost as its owner.

	r := New(config.Recovery{Interval: time.Minute, GracePeriod: time.Second}, st, fakeLiveChecker{}, zap.NewNop())
	r.sweepOnce(ctx)

	reclaimed, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusPending, reclaimed.Status)
	assert.Equal(t, 1, reclaimed.RetryCount)
}

func TestSweepRepairsStalePendingIndexEntry(t *testing.T) {
	st, cleanup := newTestStoreForRecovery(t)
	defer cleanup()
	ctx := context.Background()

	job := jobmodel.Job{ID: "job-7", ServiceRequired: "render", Status: jobmodel.StatusCompleted, CreatedAt: time.Now()}
	require.NoError(t, st.PutJob(ctx, job))
	// Simulate a lost ZREM: the job is terminal but its ID is still a
	// pending-index member.
	require.NoError(t, st.RescoreForRetry(ctx, job))

	r := New(config.Recovery{Interval: time.Minute, GracePeriod: time.Second}, st, fakeLiveChecker{}, zap.NewNop())
	r.sweepOnce(ctx)

	pending, err := st.PendingSnapshot(ctx, 0)
	require.NoError(t, err)
	assert.NotContains(t, pending, job.ID)
}
