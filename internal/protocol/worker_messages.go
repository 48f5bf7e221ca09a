package protocol

import (
	"encoding/json"
	"time"
)

// WorkerMessageType enumerates the envelope types a worker connection may
// send. No other role may send these.
type WorkerMessageType string

const (
	WorkerMsgRegister     WorkerMessageType = "register"
	WorkerMsgRequestJob   WorkerMessageType = "request_job"
	WorkerMsgProgress     WorkerMessageType = "progress"
	WorkerMsgComplete     WorkerMessageType = "complete"
	WorkerMsgFail         WorkerMessageType = "fail"
	WorkerMsgHeartbeat    WorkerMessageType = "heartbeat"
	WorkerMsgStatusUpdate WorkerMessageType = "status_update"
)

// RegisterPayload declares a worker's identity and capabilities on connect.
type RegisterPayload struct {
	WorkerID       string                     `json:"worker_id"`
	MachineID      string                     `json:"machine_id,omitempty"`
	Services       []string                   `json:"services"`
	Hardware       map[string]float64         `json:"hardware,omitempty"`
	Models         map[string][]string        `json:"models,omitempty"`
	CustomerAccess json.RawMessage            `json:"customer_access,omitempty"`
	WorkflowID     string                     `json:"workflow_id,omitempty"`
	Custom         map[string]json.RawMessage `json:"custom,omitempty"`
}

// RequestJobPayload asks the hub to run the matcher on the worker's
// current capabilities. Its body is empty; the worker's registered record
// on the hub side is the source of truth for capabilities.
type RequestJobPayload struct{}

// ProgressPayload reports incremental progress on the worker's active job.
type ProgressPayload struct {
	JobID               string     `json:"job_id"`
	Progress            int        `json:"progress"`
	Message             string     `json:"message,omitempty"`
	Step                *int       `json:"step,omitempty"`
	TotalSteps          *int       `json:"total_steps,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// CompletePayload reports terminal success for the worker's active job.
type CompletePayload struct {
	JobID  string          `json:"job_id"`
	Result json.RawMessage `json:"result,omitempty"`
}

// FailPayload reports terminal failure for the worker's active job.
type FailPayload struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

// HeartbeatPayload is an empty liveness ping from the worker.
type HeartbeatPayload struct{}

// StatusUpdatePayload lets a worker announce it is idle or busy outside the
// normal claim/complete cycle (e.g. after a manual pause).
type StatusUpdatePayload struct {
	Status string `json:"status"`
}
