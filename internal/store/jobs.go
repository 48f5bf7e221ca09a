package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/flowmesh/jobbroker/internal/jobmodel"
)

// PutJob writes the job record and, if it is pending, indexes it by
// composite score. It is used both for initial submission and for
// re-insertion on retry (spec's Open Question: retry keeps the job's
// original composite score rather than rolling a new one).
func (s *Store) PutJob(ctx context.Context, job jobmodel.Job) error {
	b, err := job.Marshal()
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), b, 0)
	if job.Status == jobmodel.StatusPending {
		score := job.CompositeScore()
		pipe.ZAdd(ctx, keyPendingIndex, redis.Z{Score: score, Member: job.ID})
		if job.WorkflowID != "" {
			pipe.ZAdd(ctx, workflowIndexKey(job.WorkflowID), redis.Z{Score: score, Member: job.ID})
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

// GetJob fetches a job by ID. It returns redis.Nil (via errors.Is) when the
// job does not exist.
func (s *Store) GetJob(ctx context.Context, id string) (jobmodel.Job, error) {
	b, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		return jobmodel.Job{}, err
	}
	return jobmodel.UnmarshalJob(b)
}

// RemoveFromPendingIndex removes a job from the pending ZSET (and its
// workflow sub-index, if any) without touching the job hash itself. Used
// when a job is cancelled while still pending.
func (s *Store) RemoveFromPendingIndex(ctx context.Context, job jobmodel.Job) error {
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, keyPendingIndex, job.ID)
	if job.WorkflowID != "" {
		pipe.ZRem(ctx, workflowIndexKey(job.WorkflowID), job.ID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// PendingCount returns the number of jobs awaiting a match.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, keyPendingIndex).Result()
}

// PendingSnapshot returns up to limit pending job IDs in match order
// (highest composite score first), for monitor full-state snapshots.
func (s *Store) PendingSnapshot(ctx context.Context, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.rdb.ZRevRange(ctx, keyPendingIndex, 0, limit-1).Result()
}

// DeleteArchived removes a job's hash and progress log from hot storage
// after it has been durably exported by internal/archive. The job is
// assumed already absent from the pending index (it is terminal).
func (s *Store) DeleteArchived(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, jobKey(id))
	pipe.Del(ctx, jobProgressKey(id))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return err
	}
	return s.removeFromTerminalSets(ctx, id)
}

// RescoreForRetry recomputes and overwrites a job's pending-index score
// after its fields (e.g. retry_count) changed but its original priority
// ordering should be preserved; exposed separately from PutJob so callers
// that mutate a job in place can re-index without re-marshalling twice.
func (s *Store) RescoreForRetry(ctx context.Context, job jobmodel.Job) error {
	return s.rdb.ZAdd(ctx, keyPendingIndex, redis.Z{Score: job.CompositeScore(), Member: job.ID}).Err()
}
