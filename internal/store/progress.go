package store

import (
	"context"
	"encoding/json"

	"github.com/flowmesh/jobbroker/internal/jobmodel"
)

// AppendProgress pushes a progress record onto the job's append-only log.
// The log is a capped list (LPUSH + LTRIM) so a misbehaving worker spamming
// progress updates cannot grow a job's footprint without bound.
func (s *Store) AppendProgress(ctx context.Context, jobID string, rec jobmodel.ProgressRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := jobProgressKey(jobID)
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, key, b)
	pipe.LTrim(ctx, key, 0, progressLogCap-1)
	_, err = pipe.Exec(ctx)
	return err
}

// progressLogCap bounds the per-job progress history kept in Redis.
const progressLogCap = 500

// Progress returns a job's progress history, most recent first.
func (s *Store) Progress(ctx context.Context, jobID string) ([]jobmodel.ProgressRecord, error) {
	raw, err := s.rdb.LRange(ctx, jobProgressKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]jobmodel.ProgressRecord, 0, len(raw))
	for _, r := range raw {
		var rec jobmodel.ProgressRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
