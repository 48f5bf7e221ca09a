package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/jobbroker/internal/jobmodel"
)

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &Store{rdb: rdb}, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestPutGetJobRoundTrip(t *testing.T) {
	st, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	job := jobmodel.Job{
		ID:              "job-1",
		ServiceRequired: "render",
		Priority:        5,
		Status:          jobmodel.StatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, st.PutJob(ctx, job))

	got, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.ServiceRequired, got.ServiceRequired)

	n, err := st.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPutJobNonPendingSkipsIndex(t *testing.T) {
	st, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	job := jobmodel.Job{ID: "job-done", ServiceRequired: "render", Status: jobmodel.StatusCompleted}
	require.NoError(t, st.PutJob(ctx, job))

	n, err := st.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestRemoveFromPendingIndex(t *testing.T) {
	st, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	job := jobmodel.Job{ID: "job-2", ServiceRequired: "render", Status: jobmodel.StatusPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.PutJob(ctx, job))
	require.NoError(t, st.RemoveFromPendingIndex(ctx, job))

	n, err := st.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestPendingSnapshotOrdersByCompositeScore(t *testing.T) {
	st, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	low := jobmodel.Job{ID: "low", ServiceRequired: "render", Priority: 1, Status: jobmodel.StatusPending, CreatedAt: now}
	high := jobmodel.Job{ID: "high", ServiceRequired: "render", Priority: 9, Status: jobmodel.StatusPending, CreatedAt: now}
	require.NoError(t, st.PutJob(ctx, low))
	require.NoError(t, st.PutJob(ctx, high))

	ids, err := st.PendingSnapshot(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, "high", ids[0])
	assert.Equal(t, "low", ids[1])
}

func TestRescoreForRetryPreservesOrdering(t *testing.T) {
	st, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	job := jobmodel.Job{ID: "job-3", ServiceRequired: "render", Priority: 3, Status: jobmodel.StatusPending, CreatedAt: time.Now().UTC(), RetryCount: 1}
	require.NoError(t, st.PutJob(ctx, job))
	require.NoError(t, st.RescoreForRetry(ctx, job))

	ids, err := st.PendingSnapshot(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-3"}, ids)
}

func TestDeleteArchivedRemovesHotStorage(t *testing.T) {
	st, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	job := jobmodel.Job{ID: "job-archived", ServiceRequired: "render", Status: jobmodel.StatusCompleted}
	require.NoError(t, st.PutJob(ctx, job))
	require.NoError(t, st.AppendProgress(ctx, job.ID, jobmodel.ProgressRecord{Progress: 100}))

	require.NoError(t, st.DeleteArchived(ctx, job.ID))

	_, err := st.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, redis.Nil)

	progress, err := st.Progress(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, progress)
}

func TestWorkerCRUDAndActiveJob(t *testing.T) {
	st, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	worker := jobmodel.Worker{WorkerID: "w-1", Services: []string{"render"}, Status: jobmodel.WorkerIdle}
	require.NoError(t, st.PutWorker(ctx, worker))

	got, err := st.GetWorker(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, worker.WorkerID, got.WorkerID)

	ids, err := st.ListWorkerIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, "w-1")

	require.NoError(t, st.SetActiveJob(ctx, "w-1", "job-9"))
	active, err := st.ActiveJob(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, "job-9", active)

	require.NoError(t, st.SetActiveJob(ctx, "w-1", ""))
	_, err = st.ActiveJob(ctx, "w-1")
	assert.ErrorIs(t, err, redis.Nil)

	require.NoError(t, st.RemoveWorker(ctx, "w-1"))
	ids, err = st.ListWorkerIDs(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, "w-1")
}

func TestAppendProgressCapsHistory(t *testing.T) {
	st, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < progressLogCap+10; i++ {
		require.NoError(t, st.AppendProgress(ctx, "job-p", jobmodel.ProgressRecord{Progress: i % 100}))
	}
	records, err := st.Progress(ctx, "job-p")
	require.NoError(t, err)
	assert.Len(t, records, progressLogCap)
}

func TestEventsAppendReadAck(t *testing.T) {
	st, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, st.EnsureConsumerGroup(ctx, "test-group"))
	// Re-creating the same group must not error (BUSYGROUP is swallowed).
	require.NoError(t, st.EnsureConsumerGroup(ctx, "test-group"))

	id, err := st.AppendEvent(ctx, jobmodel.Event{
		ID:        "ev-1",
		EventType: jobmodel.EventJobSubmitted,
		SubjectID: "job-1",
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	streams, err := st.ReadGroup(ctx, "test-group", "consumer-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Len(t, streams[0].Messages, 1)
	assert.Equal(t, "ev-1", streams[0].Messages[0].Values["id"])

	require.NoError(t, st.AckEvent(ctx, "test-group", streams[0].Messages[0].ID))
}

func TestTerminalIndexAndArchiveCandidates(t *testing.T) {
	st, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	completed := jobmodel.Job{ID: "job-done", ServiceRequired: "render", Status: jobmodel.StatusCompleted, CreatedAt: time.Now().UTC()}
	failed := jobmodel.Job{ID: "job-failed", ServiceRequired: "render", Status: jobmodel.StatusFailed, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.PutJob(ctx, completed))
	require.NoError(t, st.PutJob(ctx, failed))
	require.NoError(t, st.AddActive(ctx, completed.ID))

	require.NoError(t, st.AddTerminal(ctx, jobmodel.StatusCompleted, completed.ID))
	require.NoError(t, st.AddTerminal(ctx, jobmodel.StatusFailed, failed.ID))

	active, err := st.ActiveSnapshot(ctx)
	require.NoError(t, err)
	assert.NotContains(t, active, completed.ID, "AddTerminal must drop the job from the active set")

	candidates, err := st.ArchiveCandidates(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{completed.ID, failed.ID}, candidates)

	require.NoError(t, st.DeleteArchived(ctx, completed.ID))
	candidates, err = st.ArchiveCandidates(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{failed.ID}, candidates)
}
