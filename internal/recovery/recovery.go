// Package recovery implements the recovery loop: a periodic sweep that
// requeues jobs abandoned by disconnected workers and reconciles the
// pending index against job state, grounded on the teacher's
// internal/reaper generalized from a heartbeat-key SCAN over processing
// lists to the worker registry SET plus per-worker active-job key this broker
// uses instead.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flowmesh/jobbroker/internal/config"
	"github.com/flowmesh/jobbroker/internal/jobmodel"
	"github.com/flowmesh/jobbroker/internal/obs"
	"github.com/flowmesh/jobbroker/internal/store"
)

// LiveChecker reports whether a worker is still connected to the hub. The
// recovery loop treats "not live" plus "idle past the grace period" as
// abandonment.
type LiveChecker interface {
	IsConnected(workerID string) bool
}

// Recovery periodically reclaims jobs from workers that disconnected
// without completing or failing their active job, and repairs pending
// index entries that point at jobs no longer pending.
type Recovery struct {
	cfg   config.Recovery
	store *store.Store
	live  LiveChecker
	log   *zap.Logger
}

// New constructs a Recovery loop.
func New(cfg config.Recovery, st *store.Store, live LiveChecker, log *zap.Logger) *Recovery {
	return &Recovery{cfg: cfg, store: st, live: live, log: log}
}

// Run ticks at cfg.Interval until ctx is cancelled.
func (r *Recovery) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

// sweepOnce runs the three reconciliation passes the broker's consistency
// contract requires: (1) jobs held by workers the hub has marked
// disconnected past the grace period, (2) jobs whose worker_id no longer
// has a registry entry at all, and (3) pending-index members whose job
// record disagrees with pending-index membership.
func (r *Recovery) sweepOnce(ctx context.Context) {
	r.sweepDisconnectedWorkers(ctx)
	r.sweepOrphanedActiveJobs(ctx)
	r.sweepStalePendingIndex(ctx)
}

func (r *Recovery) sweepDisconnectedWorkers(ctx context.Context) {
	workerIDs, err := r.store.ListWorkerIDs(ctx)
	if err != nil {
		r.log.Warn("recovery list workers", zap.Error(err))
		return
	}
	for _, workerID := range workerIDs {
		if r.live.IsConnected(workerID) {
			continue
		}
		worker, err := r.store.GetWorker(ctx, workerID)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			r.log.Warn("recovery get worker", zap.Error(err), zap.String("worker_id", workerID))
			continue
		}
		if time.Since(worker.LastActivity) < r.cfg.GracePeriod {
			continue
		}
		r.reclaimFromWorker(ctx, workerID)
		if err := r.store.RemoveWorker(ctx, workerID); err != nil {
			r.log.Warn("recovery remove worker", zap.Error(err), zap.String("worker_id", workerID))
		}
		r.emit(ctx, jobmodel.EventWorkerDisconnected, workerID, nil)
	}
}

// sweepOrphanedActiveJobs catches the case a disconnected-worker reclaim
// above cannot: the job's active-worker key survived even though the
// worker's registry entry is already gone (e.g. the registry entry was
// removed without the matching reclaim, or a worker crashed between
// claiming a job and ever appearing in a sweep).
func (r *Recovery) sweepOrphanedActiveJobs(ctx context.Context) {
	jobIDs, err := r.store.ActiveSnapshot(ctx)
	if err != nil {
		r.log.Warn("recovery list active jobs", zap.Error(err))
		return
	}
	for _, jobID := range jobIDs {
		job, err := r.store.GetJob(ctx, jobID)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				_ = r.store.RemoveActive(ctx, jobID)
			}
			continue
		}
		if job.WorkerID == "" {
			continue
		}
		if _, err := r.store.GetWorker(ctx, job.WorkerID); err == nil {
			continue
		} else if !errors.Is(err, redis.Nil) {
			r.log.Warn("recovery get worker for active job", zap.Error(err), zap.String("job_id", jobID))
			continue
		}
		r.requeueOrFail(ctx, job, job.WorkerID)
	}
}

// sweepStalePendingIndex removes pending-index entries whose job record no
// longer reports pending status — left behind when a claim or cancel
// mutated the job hash but the matching ZREM was lost to a partial
// failure.
func (r *Recovery) sweepStalePendingIndex(ctx context.Context) {
	jobIDs, err := r.store.PendingSnapshot(ctx, 0)
	if err != nil {
		r.log.Warn("recovery list pending index", zap.Error(err))
		return
	}
	for _, jobID := range jobIDs {
		job, err := r.store.GetJob(ctx, jobID)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				_ = r.store.RemoveFromPendingIndex(ctx, jobmodel.Job{ID: jobID})
			}
			continue
		}
		if job.Status != jobmodel.StatusPending {
			if err := r.store.RemoveFromPendingIndex(ctx, job); err != nil {
				r.log.Warn("recovery repair pending index", zap.Error(err), zap.String("job_id", jobID))
			}
		}
	}
}

func (r *Recovery) reclaimFromWorker(ctx context.Context, workerID string) {
	jobID, err := r.store.ActiveJob(ctx, workerID)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("recovery active job lookup", zap.Error(err), zap.String("worker_id", workerID))
		}
		return
	}
	if jobID == "" {
		return
	}
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return
		}
		r.log.Warn("recovery get job", zap.Error(err), zap.String("job_id", jobID))
		return
	}
	r.requeueOrFail(ctx, job, workerID)
}

// requeueOrFail reclaims job from workerID: requeued with its retry count
// bumped and its original composite score preserved if retries remain,
// otherwise marked failed, per spec §4.7. Either way the job's active-job
// bookkeeping for workerID is cleared.
func (r *Recovery) requeueOrFail(ctx context.Context, job jobmodel.Job, workerID string) {
	switch job.Status {
	case jobmodel.StatusCompleted, jobmodel.StatusFailed, jobmodel.StatusCancelled:
		return
	}

	if err := r.store.SetActiveJob(ctx, workerID, ""); err != nil {
		r.log.Warn("recovery clear active job key", zap.Error(err), zap.String("worker_id", workerID))
	}
	if err := r.store.RemoveActive(ctx, job.ID); err != nil {
		r.log.Warn("recovery clear active index", zap.Error(err), zap.String("job_id", job.ID))
	}

	job.LastFailedWorker = workerID

	if job.RetryCount < job.MaxRetries {
		job.WorkerID = ""
		job.Status = jobmodel.StatusPending
		job.RetryCount++

		if err := r.store.PutJob(ctx, job); err != nil {
			r.log.Error("recovery requeue job", zap.Error(err), zap.String("job_id", job.ID))
			return
		}
		if err := r.store.RescoreForRetry(ctx, job); err != nil {
			r.log.Warn("recovery rescore job", zap.Error(err), zap.String("job_id", job.ID))
		}
		obs.RecoveryReclaimed.Inc()
		r.log.Warn("reclaimed job from disconnected worker",
			zap.String("job_id", job.ID), zap.String("worker_id", workerID))
		r.emit(ctx, jobmodel.EventJobRequeued, job.ID, job)
		return
	}

	now := time.Now().UTC()
	job.Status = jobmodel.StatusFailed
	job.CompletedAt = &now
	job.Error = "retries exhausted after worker disconnect"
	if err := r.store.PutJob(ctx, job); err != nil {
		r.log.Error("recovery fail exhausted job", zap.Error(err), zap.String("job_id", job.ID))
		return
	}
	if err := r.store.AddTerminal(ctx, jobmodel.StatusFailed, job.ID); err != nil {
		r.log.Warn("recovery index failed job", zap.Error(err), zap.String("job_id", job.ID))
	}
	obs.RecoveryReclaimed.Inc()
	r.log.Warn("job failed permanently after retries exhausted",
		zap.String("job_id", job.ID), zap.String("worker_id", workerID))
	r.emit(ctx, jobmodel.EventJobFailed, job.ID, job)
}

func (r *Recovery) emit(ctx context.Context, evType jobmodel.EventType, subjectID string, payload interface{}) {
	ev := jobmodel.Event{
		ID:        uuid.NewString(),
		EventType: evType,
		SubjectID: subjectID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			ev.Payload = b
		}
	}
	if _, err := r.store.AppendEvent(ctx, ev); err != nil {
		r.log.Warn("recovery append event", zap.Error(err), zap.String("event_type", string(evType)))
	}
}
