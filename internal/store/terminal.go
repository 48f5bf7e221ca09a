package store

import (
	"context"
	"fmt"

	"github.com/flowmesh/jobbroker/internal/jobmodel"
)

// terminalKey returns the Redis set a job's ID is indexed under once it
// reaches the given terminal status, mirroring the job:completed/failed
// maps the matching and monitor snapshot contracts depend on.
func terminalKey(status jobmodel.Status) (string, error) {
	switch status {
	case jobmodel.StatusCompleted:
		return keyCompletedIndex, nil
	case jobmodel.StatusFailed:
		return keyFailedIndex, nil
	case jobmodel.StatusCancelled:
		return keyCancelledIndex, nil
	default:
		return "", fmt.Errorf("status %q is not terminal", status)
	}
}

// AddActive records a job as currently assigned/processing, for the
// monitor snapshot's active partition.
func (s *Store) AddActive(ctx context.Context, jobID string) error {
	return s.rdb.SAdd(ctx, keyActiveIndex, jobID).Err()
}

// RemoveActive drops a job from the active set, called when a job leaves a
// worker's hands without going through AddTerminal (a requeue, or a
// recovery reclaim).
func (s *Store) RemoveActive(ctx context.Context, jobID string) error {
	return s.rdb.SRem(ctx, keyActiveIndex, jobID).Err()
}

// ActiveSnapshot returns every job ID currently assigned to a worker.
func (s *Store) ActiveSnapshot(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, keyActiveIndex).Result()
}

// AddTerminal indexes a job under its terminal status's set and removes it
// from the active set, so archival and monitor snapshots can enumerate
// completed/failed/cancelled jobs without a full SCAN over job hashes.
func (s *Store) AddTerminal(ctx context.Context, status jobmodel.Status, jobID string) error {
	key, err := terminalKey(status)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, key, jobID)
	pipe.SRem(ctx, keyActiveIndex, jobID)
	_, err = pipe.Exec(ctx)
	return err
}

// TerminalSnapshot returns every job ID indexed under the given terminal
// status.
func (s *Store) TerminalSnapshot(ctx context.Context, status jobmodel.Status) ([]string, error) {
	key, err := terminalKey(status)
	if err != nil {
		return nil, err
	}
	return s.rdb.SMembers(ctx, key).Result()
}

// ArchiveCandidates returns every job ID indexed as completed, failed, or
// cancelled, for the archive operation to filter by age.
func (s *Store) ArchiveCandidates(ctx context.Context) ([]string, error) {
	var ids []string
	for _, status := range []jobmodel.Status{jobmodel.StatusCompleted, jobmodel.StatusFailed, jobmodel.StatusCancelled} {
		part, err := s.TerminalSnapshot(ctx, status)
		if err != nil {
			return nil, err
		}
		ids = append(ids, part...)
	}
	return ids, nil
}

// removeFromTerminalSets removes a job's terminal-set membership; DeleteArchived
// calls it alongside deleting the job's hot storage record, after
// internal/archive has durably exported the job.
func (s *Store) removeFromTerminalSets(ctx context.Context, jobID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.SRem(ctx, keyCompletedIndex, jobID)
	pipe.SRem(ctx, keyFailedIndex, jobID)
	pipe.SRem(ctx, keyCancelledIndex, jobID)
	_, err := pipe.Exec(ctx)
	return err
}
