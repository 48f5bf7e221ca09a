package store

import (
	"context"
	"fmt"

	"github.com/flowmesh/jobbroker/internal/jobmodel"
)

// PutWorker writes the worker record and registers it in the worker
// registry set, so the recovery loop and monitor snapshots can list known
// workers with SMEMBERS rather than SCAN'ing key prefixes.
func (s *Store) PutWorker(ctx context.Context, worker jobmodel.Worker) error {
	b, err := worker.Marshal()
	if err != nil {
		return fmt.Errorf("marshal worker: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, workerKey(worker.WorkerID), b, 0)
	pipe.SAdd(ctx, keyWorkerRegistry, worker.WorkerID)
	_, err = pipe.Exec(ctx)
	return err
}

// GetWorker fetches a worker by ID.
func (s *Store) GetWorker(ctx context.Context, id string) (jobmodel.Worker, error) {
	b, err := s.rdb.Get(ctx, workerKey(id)).Bytes()
	if err != nil {
		return jobmodel.Worker{}, err
	}
	return jobmodel.UnmarshalWorker(b)
}

// RemoveWorker deletes the worker record and its active-job key and
// unregisters it. The recovery loop calls it once a disconnected worker's
// grace period has passed, after reclaiming the worker's in-flight job; it
// does not requeue anything itself.
func (s *Store) RemoveWorker(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, workerKey(id))
	pipe.Del(ctx, workerActiveKey(id))
	pipe.SRem(ctx, keyWorkerRegistry, id)
	_, err := pipe.Exec(ctx)
	return err
}

// ListWorkerIDs returns every registered worker ID.
func (s *Store) ListWorkerIDs(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, keyWorkerRegistry).Result()
}

// SetActiveJob records which job a worker currently holds, or clears it when
// jobID is empty.
func (s *Store) SetActiveJob(ctx context.Context, workerID, jobID string) error {
	if jobID == "" {
		return s.rdb.Del(ctx, workerActiveKey(workerID)).Err()
	}
	return s.rdb.Set(ctx, workerActiveKey(workerID), jobID, 0).Err()
}

// ActiveJob returns the job ID a worker currently holds, or "" if idle.
func (s *Store) ActiveJob(ctx context.Context, workerID string) (string, error) {
	v, err := s.rdb.Get(ctx, workerActiveKey(workerID)).Result()
	if err != nil {
		return "", err
	}
	return v, nil
}
