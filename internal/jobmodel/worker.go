package jobmodel

import (
	"encoding/json"
	"time"
)

// WorkerStatus is a worker's current availability.
type WorkerStatus string

const (
	WorkerIdle         WorkerStatus = "idle"
	WorkerBusy         WorkerStatus = "busy"
	WorkerDisconnected WorkerStatus = "disconnected"
)

// IsolationLevel is the strictness a worker (or job) declares for customer
// data separation.
type IsolationLevel string

const (
	IsolationNone   IsolationLevel = "none"
	IsolationLoose  IsolationLevel = "loose"
	IsolationStrict IsolationLevel = "strict"
)

// CustomerAccess describes a worker's customer isolation posture, adapted
// from the teacher's per-tenant access model (internal/multi-tenant-isolation)
// down to a per-worker allow/deny list plus isolation level.
type CustomerAccess struct {
	Isolation        IsolationLevel `json:"isolation,omitempty"`
	AllowedCustomers []string       `json:"allowed_customers,omitempty"`
	DeniedCustomers  []string       `json:"denied_customers,omitempty"`
}

// Worker is the capability and status record the matcher consults.
type Worker struct {
	WorkerID       string                      `json:"worker_id"`
	MachineID      string                      `json:"machine_id,omitempty"`
	Services       []string                    `json:"services"`
	Hardware       map[string]float64          `json:"hardware,omitempty"`
	Models         map[string][]string         `json:"models,omitempty"`
	CustomerAccess CustomerAccess              `json:"customer_access"`
	WorkflowID     string                      `json:"workflow_id,omitempty"`
	Custom         map[string]json.RawMessage  `json:"custom,omitempty"`
	Status         WorkerStatus                `json:"status"`
	CurrentJobID   string                      `json:"current_job_id,omitempty"`
	ConnectedAt    time.Time                   `json:"connected_at"`
	LastActivity   time.Time                   `json:"last_activity"`
}

// Marshal serializes the worker record to JSON.
func (w Worker) Marshal() ([]byte, error) {
	return json.Marshal(w)
}

// UnmarshalWorker decodes a worker record from JSON.
func UnmarshalWorker(b []byte) (Worker, error) {
	var w Worker
	err := json.Unmarshal(b, &w)
	return w, err
}

// HasService reports whether the worker declares the given service.
func (w Worker) HasService(service string) bool {
	if service == "" {
		return true
	}
	for _, s := range w.Services {
		if s == service {
			return true
		}
	}
	return false
}

// ProgressRecord is one entry in a job's append-only progress stream.
type ProgressRecord struct {
	Timestamp           time.Time `json:"timestamp"`
	Progress            int       `json:"progress"`
	Message             string    `json:"message,omitempty"`
	Step                *int      `json:"step,omitempty"`
	TotalSteps          *int      `json:"total_steps,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	NonMonotonic        bool      `json:"non_monotonic,omitempty"`
	Kind                string    `json:"kind,omitempty"` // "assigned", "progress", "terminal"
}

// ClampProgress clamps a reported progress value into [0, 100] per spec
// boundary rules.
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
