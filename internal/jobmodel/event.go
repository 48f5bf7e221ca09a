package jobmodel

import (
	"encoding/json"
	"time"
)

// EventType enumerates the lifecycle events the core emits, per spec §4.6.
type EventType string

const (
	EventJobSubmitted      EventType = "job.submitted"
	EventJobAssigned       EventType = "job.assigned"
	EventJobProgress       EventType = "job.progress"
	EventJobCompleted      EventType = "job.completed"
	EventJobFailed         EventType = "job.failed"
	EventJobCancelled      EventType = "job.cancelled"
	EventJobRequeued       EventType = "job.requeued"
	EventWorkerRegistered  EventType = "worker.registered"
	EventWorkerDisconnected EventType = "worker.disconnected"
	EventWorkerStatusChanged EventType = "worker.status_changed"
)

// Event is one entry on the durable events stream and on the in-process
// monitor ring buffer.
type Event struct {
	ID        string          `json:"id"`
	EventType EventType       `json:"event_type"`
	SubjectID string          `json:"subject_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Marshal serializes the event to JSON.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
