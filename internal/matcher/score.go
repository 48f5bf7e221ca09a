// Package matcher holds the Go side of the claim routine (given a worker's
// declared capabilities, find the highest-priority pending job it may take
// and atomically assign it). The Lua script internal/store/script.lua, run
// by store.Claim, is what executes against Redis; Eligible in predicate.go mirrors its
// matching semantics in Go so the rules can be unit tested without a Redis
// dependency, grounded on the teacher's internal/queue priority model
// generalized to the spec's composite score.
package matcher

import (
	"time"

	"github.com/flowmesh/jobbroker/internal/jobmodel"
)

// PackScore combines a primary priority and a tiebreak timestamp into the
// same composite ZSET score jobmodel.Job.CompositeScore produces. It is
// re-exported here to keep the packing scheme documented alongside the
// matcher it serves; internal/store scores jobs through
// Job.CompositeScore instead.
func PackScore(priority int64, ts time.Time) float64 {
	return jobmodel.PackScore(priority, ts)
}
