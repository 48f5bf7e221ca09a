// Package store is the broker's sole gateway to Redis. It owns the key
// layout, the job/worker JSON record CRUD, the priority-ordered pending index, the
// progress log, the durable events stream, and the Lua script that performs
// an atomic worker-to-job claim. No other package talks to Redis directly,
// grounded on the teacher's internal/storage-backends family generalized
// from a pluggable-backend abstraction down to the one backend this broker
// actually needs.
package store

import "fmt"

const (
	keyPendingIndex   = "core:pending"
	keyActiveIndex    = "core:active"
	keyCompletedIndex = "core:jobs:completed"
	keyFailedIndex    = "core:jobs:failed"
	keyCancelledIndex = "core:jobs:cancelled"
	keyWorkerRegistry = "core:workers"
	keyEventsStream   = "core:events"
)

func jobKey(id string) string        { return fmt.Sprintf("core:job:%s", id) }
func jobProgressKey(id string) string { return fmt.Sprintf("core:job:%s:progress", id) }
func workerKey(id string) string      { return fmt.Sprintf("core:worker:%s", id) }
func workerActiveKey(id string) string { return fmt.Sprintf("core:worker:%s:active", id) }
func workflowIndexKey(id string) string { return fmt.Sprintf("core:workflow:%s:pending", id) }
