// Package broker implements the job broker operations described by the
// core's external contract: submit, claim, progress, complete, fail,
// cancel, and sync (archival lives in internal/archive). It is the seam between the wire protocol
// (internal/protocol, internal/hub) and durable state (internal/store),
// grounded on the teacher's internal/queue.Job lifecycle operations
// generalized to the richer matching and workflow semantics this broker
// adds.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flowmesh/jobbroker/internal/breaker"
	"github.com/flowmesh/jobbroker/internal/jobmodel"
	"github.com/flowmesh/jobbroker/internal/obs"
	"github.com/flowmesh/jobbroker/internal/store"
)

// Broker coordinates job lifecycle transitions against the store, emitting
// a lifecycle event for every transition.
type Broker struct {
	store   *store.Store
	log     *zap.Logger
	maxScan int
	cb      *breaker.CircuitBreaker
}

// New constructs a Broker over the given store. The claim path runs
// unguarded until a breaker is attached with WithCircuitBreaker (tests that
// don't care about breaker behavior never attach one).
func New(st *store.Store, log *zap.Logger, maxScan int) *Broker {
	return &Broker{store: st, log: log, maxScan: maxScan}
}

// WithCircuitBreaker attaches a circuit breaker guarding the claim path
// against a degraded store, grounded on the teacher's internal/breaker
// sliding-window implementation, reused unmodified since it is already
// domain-agnostic.
func (b *Broker) WithCircuitBreaker(cb *breaker.CircuitBreaker) *Broker {
	b.cb = cb
	return b
}

// SubmitJob validates and persists a new job in the pending state.
func (b *Broker) SubmitJob(ctx context.Context, job jobmodel.Job) (jobmodel.Job, error) {
	if job.ServiceRequired == "" {
		return jobmodel.Job{}, Validation("service_required is required")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = jobmodel.StatusPending
	job.CreatedAt = time.Now().UTC()
	if job.MaxRetries == 0 {
		job.MaxRetries = 3
	}

	if err := b.store.PutJob(ctx, job); err != nil {
		return jobmodel.Job{}, Storage("submit job", err)
	}
	b.emit(ctx, jobmodel.EventJobSubmitted, job.ID, job)
	return job, nil
}

// ClaimJob runs the atomic matcher for worker and, on a match, marks the
// worker busy and emits the zero-progress assigned event. If a circuit
// breaker is attached (WithCircuitBreaker) and it is open, the call fails
// fast with Overload instead of reaching the store.
func (b *Broker) ClaimJob(ctx context.Context, worker jobmodel.Worker) (jobmodel.Job, error) {
	if b.cb != nil {
		obs.CircuitBreakerState.Set(float64(b.cb.State()))
		if !b.cb.Allow() {
			return jobmodel.Job{}, Overload("claim path circuit breaker open")
		}
	}

	job, err := b.store.Claim(ctx, worker, b.maxScan)
	if b.cb != nil {
		wasOpen := b.cb.State() == breaker.Open
		b.cb.Record(err == nil || errors.Is(err, store.ErrNoMatch))
		if !wasOpen && b.cb.State() == breaker.Open {
			obs.CircuitBreakerTrips.Inc()
		}
		obs.CircuitBreakerState.Set(float64(b.cb.State()))
	}
	if err != nil {
		if errors.Is(err, store.ErrNoMatch) {
			return jobmodel.Job{}, NotFound("no matching job")
		}
		return jobmodel.Job{}, Storage("claim job", err)
	}
	worker.Status = jobmodel.WorkerBusy
	worker.CurrentJobID = job.ID
	if err := b.store.PutWorker(ctx, worker); err != nil {
		b.log.Warn("put worker after claim", zap.Error(err), zap.String("worker_id", worker.WorkerID))
	}
	if err := b.store.AddActive(ctx, job.ID); err != nil {
		b.log.Warn("index active job", zap.Error(err), zap.String("job_id", job.ID))
	}
	_ = b.store.AppendProgress(ctx, job.ID, jobmodel.ProgressRecord{
		Timestamp: time.Now().UTC(),
		Progress:  0,
		Kind:      "assigned",
	})
	b.emit(ctx, jobmodel.EventJobAssigned, job.ID, job)
	return job, nil
}

// ReportProgress appends a progress record for a job the calling worker
// owns. Regression (a progress value lower than the last reported one) is
// annotated, not rejected, per the boundary rule in the matching contract.
func (b *Broker) ReportProgress(ctx context.Context, workerID, jobID string, progress int, message string) error {
	job, err := b.requireOwnedJob(ctx, workerID, jobID)
	if err != nil {
		return err
	}
	clamped := jobmodel.ClampProgress(progress)
	nonMonotonic := job.LastProgress != nil && clamped < *job.LastProgress

	if job.Status == jobmodel.StatusAssigned {
		job.Status = jobmodel.StatusProcessing
	}
	job.LastProgress = &clamped
	if err := b.store.PutJob(ctx, job); err != nil {
		return Storage("update job progress", err)
	}
	if err := b.store.AppendProgress(ctx, jobID, jobmodel.ProgressRecord{
		Timestamp:    time.Now().UTC(),
		Progress:     clamped,
		Message:      message,
		NonMonotonic: nonMonotonic,
		Kind:         "progress",
	}); err != nil {
		return Storage("append progress", err)
	}
	b.emit(ctx, jobmodel.EventJobProgress, jobID, job)
	return nil
}

// CompleteJob marks a job completed and clears the worker's active slot.
func (b *Broker) CompleteJob(ctx context.Context, workerID, jobID string, result []byte) (jobmodel.Job, error) {
	job, err := b.requireOwnedJob(ctx, workerID, jobID)
	if err != nil {
		return jobmodel.Job{}, err
	}
	now := time.Now().UTC()
	job.Status = jobmodel.StatusCompleted
	job.CompletedAt = &now
	job.Result = result

	if err := b.store.PutJob(ctx, job); err != nil {
		return jobmodel.Job{}, Storage("complete job", err)
	}
	if err := b.store.AddTerminal(ctx, jobmodel.StatusCompleted, job.ID); err != nil {
		b.log.Warn("index completed job", zap.Error(err), zap.String("job_id", job.ID))
	}
	if err := b.store.SetActiveJob(ctx, workerID, ""); err != nil {
		b.log.Warn("clear active job", zap.Error(err), zap.String("worker_id", workerID))
	}
	_ = b.store.AppendProgress(ctx, job.ID, jobmodel.ProgressRecord{
		Timestamp: now,
		Progress:  100,
		Kind:      "terminal",
	})
	b.releaseWorker(ctx, workerID)
	b.emit(ctx, jobmodel.EventJobCompleted, jobID, job)
	return job, nil
}

// releaseWorker resets a worker to idle with no current job, once the job
// it held leaves its hands: completed, or failed (whether the job is then
// requeued or marked failed).
func (b *Broker) releaseWorker(ctx context.Context, workerID string) {
	worker, err := b.store.GetWorker(ctx, workerID)
	if err != nil {
		b.log.Warn("load worker to release", zap.Error(err), zap.String("worker_id", workerID))
		return
	}
	worker.Status = jobmodel.WorkerIdle
	worker.CurrentJobID = ""
	if err := b.store.PutWorker(ctx, worker); err != nil {
		b.log.Warn("release worker to idle", zap.Error(err), zap.String("worker_id", workerID))
	}
}

// FailJob marks a job failed, requeuing it (preserving its original
// composite score, per the retry-ordering decision) if retries remain.
func (b *Broker) FailJob(ctx context.Context, workerID, jobID, errMsg string) (jobmodel.Job, error) {
	job, err := b.requireOwnedJob(ctx, workerID, jobID)
	if err != nil {
		return jobmodel.Job{}, err
	}
	job.LastFailedWorker = workerID
	job.Error = errMsg

	if err := b.store.SetActiveJob(ctx, workerID, ""); err != nil {
		b.log.Warn("clear active job", zap.Error(err), zap.String("worker_id", workerID))
	}
	b.releaseWorker(ctx, workerID)

	if job.RetryCount < job.MaxRetries {
		job.RetryCount++
		job.Status = jobmodel.StatusPending
		job.WorkerID = ""
		if err := b.store.PutJob(ctx, job); err != nil {
			return jobmodel.Job{}, Storage("requeue job", err)
		}
		if err := b.store.RemoveActive(ctx, job.ID); err != nil {
			b.log.Warn("unindex active job", zap.Error(err), zap.String("job_id", job.ID))
		}
		if err := b.store.RescoreForRetry(ctx, job); err != nil {
			return jobmodel.Job{}, Storage("rescore job", err)
		}
		b.emit(ctx, jobmodel.EventJobRequeued, jobID, job)
		return job, nil
	}

	now := time.Now().UTC()
	job.Status = jobmodel.StatusFailed
	job.CompletedAt = &now
	if err := b.store.PutJob(ctx, job); err != nil {
		return jobmodel.Job{}, Storage("fail job", err)
	}
	if err := b.store.AddTerminal(ctx, jobmodel.StatusFailed, job.ID); err != nil {
		b.log.Warn("index failed job", zap.Error(err), zap.String("job_id", job.ID))
	}
	b.emit(ctx, jobmodel.EventJobFailed, jobID, job)
	return job, nil
}

// CancelJob marks a job cancelled. A pending job is removed from the
// matcher's index immediately; an in-flight job is flagged
// cancel_requested so the owning worker can observe and stop.
func (b *Broker) CancelJob(ctx context.Context, jobID string) (jobmodel.Job, error) {
	job, err := b.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return jobmodel.Job{}, NotFound(fmt.Sprintf("job %s not found", jobID))
		}
		return jobmodel.Job{}, Storage("get job", err)
	}
	switch job.Status {
	case jobmodel.StatusCompleted, jobmodel.StatusFailed, jobmodel.StatusCancelled:
		return jobmodel.Job{}, StateConflict(fmt.Sprintf("job %s already terminal", jobID))
	case jobmodel.StatusPending:
		if err := b.store.RemoveFromPendingIndex(ctx, job); err != nil {
			return jobmodel.Job{}, Storage("remove from pending index", err)
		}
		now := time.Now().UTC()
		job.Status = jobmodel.StatusCancelled
		job.CompletedAt = &now
	default:
		job.CancelRequested = true
	}
	if err := b.store.PutJob(ctx, job); err != nil {
		return jobmodel.Job{}, Storage("persist cancel", err)
	}
	if job.Status == jobmodel.StatusCancelled {
		if err := b.store.AddTerminal(ctx, jobmodel.StatusCancelled, job.ID); err != nil {
			b.log.Warn("index cancelled job", zap.Error(err), zap.String("job_id", job.ID))
		}
	}
	b.emit(ctx, jobmodel.EventJobCancelled, jobID, job)
	return job, nil
}

// SyncJob returns the authoritative current state of a job.
func (b *Broker) SyncJob(ctx context.Context, jobID string) (jobmodel.Job, error) {
	job, err := b.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return jobmodel.Job{}, NotFound(fmt.Sprintf("job %s not found", jobID))
		}
		return jobmodel.Job{}, Storage("get job", err)
	}
	return job, nil
}

func (b *Broker) requireOwnedJob(ctx context.Context, workerID, jobID string) (jobmodel.Job, error) {
	job, err := b.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return jobmodel.Job{}, NotFound(fmt.Sprintf("job %s not found", jobID))
		}
		return jobmodel.Job{}, Storage("get job", err)
	}
	if job.WorkerID != workerID {
		return jobmodel.Job{}, NotOwner(fmt.Sprintf("job %s is not owned by worker %s", jobID, workerID))
	}
	return job, nil
}

func (b *Broker) emit(ctx context.Context, evType jobmodel.EventType, subjectID string, payload interface{}) {
	ev := jobmodel.Event{
		ID:        uuid.NewString(),
		EventType: evType,
		SubjectID: subjectID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		if b, err := marshalPayload(payload); err == nil {
			ev.Payload = b
		}
	}
	if _, err := b.store.AppendEvent(ctx, ev); err != nil {
		b.log.Warn("append event", zap.Error(err), zap.String("event_type", string(evType)))
	}
}

