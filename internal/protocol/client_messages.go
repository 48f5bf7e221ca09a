package protocol

import "encoding/json"

// ClientMessageType enumerates the envelope types a client connection may
// send. No other role may send these.
type ClientMessageType string

const (
	ClientMsgSubmitJob  ClientMessageType = "submit_job"
	ClientMsgCancelJob  ClientMessageType = "cancel_job"
	ClientMsgSyncJob    ClientMessageType = "sync_job"
	ClientMsgSubscribe  ClientMessageType = "subscribe"
)

// SubmitJobPayload is a client's request to enqueue a new job.
type SubmitJobPayload struct {
	ServiceRequired  string          `json:"service_required"`
	JobType          string          `json:"job_type,omitempty"`
	Priority         int64           `json:"priority"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Requirements     json.RawMessage `json:"requirements,omitempty"`
	CustomerID       string          `json:"customer_id,omitempty"`
	WorkflowID       string          `json:"workflow_id,omitempty"`
	WorkflowPriority *int64          `json:"workflow_priority,omitempty"`
	MaxRetries       int             `json:"max_retries,omitempty"`
}

// CancelJobPayload requests cancellation of a previously submitted job.
type CancelJobPayload struct {
	JobID string `json:"job_id"`
}

// SyncJobPayload requests the current authoritative state of a job.
type SyncJobPayload struct {
	JobID string `json:"job_id"`
}

// SubscribePayload names the job IDs a client wants events for. The hub
// accepts the message but keeps no subscription state and pushes no events
// to client connections.
type SubscribePayload struct {
	JobIDs []string `json:"job_ids"`
}
