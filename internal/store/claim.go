package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowmesh/jobbroker/internal/jobmodel"
)

//go:embed script.lua
var claimScriptSource string

var claimScript = redis.NewScript(claimScriptSource)

// ErrNoMatch is returned by Claim when no pending job matched the worker.
var ErrNoMatch = errors.New("store: no matching job")

// Claim runs the atomic matcher script for the given worker, returning the
// job it was assigned or ErrNoMatch. maxScan caps how many of the highest-
// priority pending jobs the script will inspect before giving up; a
// non-positive maxScan always yields ErrNoMatch, per matcher.max_scan in
// configuration.
func (s *Store) Claim(ctx context.Context, worker jobmodel.Worker, maxScan int) (jobmodel.Job, error) {
	workerJSON, err := worker.Marshal()
	if err != nil {
		return jobmodel.Job{}, fmt.Errorf("marshal worker: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := claimScript.Run(ctx, s.rdb, []string{keyPendingIndex, keyWorkerRegistry},
		worker.WorkerID, string(workerJSON), maxScan, now).Result()
	if errors.Is(err, redis.Nil) {
		// The script's `false` reply arrives as a nil reply.
		return jobmodel.Job{}, ErrNoMatch
	}
	if err != nil {
		return jobmodel.Job{}, fmt.Errorf("run claim script: %w", err)
	}

	jobJSON, ok := res.(string)
	if !ok || jobJSON == "" {
		return jobmodel.Job{}, ErrNoMatch
	}
	return jobmodel.UnmarshalJob([]byte(jobJSON))
}
