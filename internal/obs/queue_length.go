// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/flowmesh/jobbroker/internal/config"
)

// pendingCounter is the minimal interface obs needs from internal/store,
// kept narrow so obs does not import store's full surface.
type pendingCounter interface {
	PendingCount(ctx context.Context) (int64, error)
}

// StartPendingIndexUpdater samples the pending index depth and updates a
// gauge, generalized from the teacher's per-queue LLEN poller to the
// broker's single composite-priority ZSET.
func StartPendingIndexUpdater(ctx context.Context, cfg *config.Config, st pendingCounter, log *zap.Logger) {
	interval := 2 * time.Second
	if cfg.Observability.QueueSampleInterval > 0 {
		interval = cfg.Observability.QueueSampleInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := st.PendingCount(ctx)
				if err != nil {
					log.Debug("pending index poll error", Err(err))
					continue
				}
				PendingIndexDepth.Set(float64(n))
			}
		}
	}()
}
