// Package jobmodel defines the durable record types the broker owns: jobs,
// workers, requirements, progress records, and lifecycle events. It is the
// generalization of the teacher repo's internal/queue.Job into the richer
// data model this broker requires.
package jobmodel

import (
	"encoding/json"
	"time"
)

// Status is a job's position in its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Job is a unit of work submitted by a client and dispatched to a worker.
type Job struct {
	ID                 string          `json:"id"`
	ServiceRequired    string          `json:"service_required"`
	JobType            string          `json:"job_type,omitempty"`
	Priority           int64           `json:"priority"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	Requirements       Requirements    `json:"requirements"`
	CustomerID         string          `json:"customer_id,omitempty"`
	WorkflowID         string          `json:"workflow_id,omitempty"`
	WorkflowPriority   *int64          `json:"workflow_priority,omitempty"`
	WorkflowDatetime   *time.Time      `json:"workflow_datetime,omitempty"`
	StepNumber         int             `json:"step_number,omitempty"`
	Status             Status          `json:"status"`
	WorkerID           string          `json:"worker_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	AssignedAt         *time.Time      `json:"assigned_at,omitempty"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	RetryCount         int             `json:"retry_count"`
	MaxRetries         int             `json:"max_retries"`
	LastFailedWorker   string          `json:"last_failed_worker,omitempty"`
	Result             json.RawMessage `json:"result,omitempty"`
	Error              string          `json:"error,omitempty"`
	CancelRequested    bool            `json:"cancel_requested,omitempty"`

	// LastProgress is the most recent progress percentage reported, used to
	// detect non-monotonic updates (annotated, not rejected, per spec).
	LastProgress *int `json:"last_progress,omitempty"`
}

// CompositeScore returns the ZSET score the pending index orders on:
// primary = workflow_priority if set else priority (descending), secondary
// = an ascending tick derived from workflow_datetime if set else
// created_at (older first). See score.go for the packing scheme.
func (j Job) CompositeScore() float64 {
	return packScore(j.effectivePriority(), j.effectiveTimestamp())
}

func (j Job) effectivePriority() int64 {
	if j.WorkflowPriority != nil {
		return *j.WorkflowPriority
	}
	return j.Priority
}

func (j Job) effectiveTimestamp() time.Time {
	if j.WorkflowDatetime != nil {
		return *j.WorkflowDatetime
	}
	return j.CreatedAt
}

// Marshal serializes the job to JSON.
func (j Job) Marshal() ([]byte, error) {
	return json.Marshal(j)
}

// UnmarshalJob decodes a job record from JSON.
func UnmarshalJob(b []byte) (Job, error) {
	var j Job
	err := json.Unmarshal(b, &j)
	return j, err
}

// Requirements is the structured predicate a job declares: what a worker
// must (positive) and must not (negative) satisfy.
type Requirements struct {
	Positive RequirementSet `json:"positive_requirements,omitempty"`
	Negative RequirementSet `json:"negative_requirements,omitempty"`
}

// RequirementSet holds the recognized requirement keys plus arbitrary
// custom capability keys. Hardware and Models have dedicated typed fields
// because their semantics (numeric minimum, per-service model list) are
// fixed by the spec; everything else flows through Custom using the
// capability.Value tagged variant so new capability classes need no code
// change.
type RequirementSet struct {
	Hardware          map[string]CapabilityNumber `json:"hardware,omitempty"`
	Models            map[string][]string         `json:"models,omitempty"`
	CustomerIsolation string                      `json:"customer_isolation,omitempty"`
	Custom            map[string]json.RawMessage  `json:"-"`
}

// CapabilityNumber is either a numeric minimum or the literal "all"
// sentinel waiving the check.
type CapabilityNumber struct {
	All   bool
	Value float64
}

// MarshalJSON renders the "all" sentinel or the numeric value.
func (c CapabilityNumber) MarshalJSON() ([]byte, error) {
	if c.All {
		return json.Marshal("all")
	}
	return json.Marshal(c.Value)
}

// UnmarshalJSON accepts either a JSON number or the string "all".
func (c *CapabilityNumber) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		c.All = s == "all"
		return nil
	}
	return json.Unmarshal(b, &c.Value)
}
