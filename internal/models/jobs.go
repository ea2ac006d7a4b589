// Package models defines data structures for Strata
package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of a backtest job.
type JobStatus string

// Job lifecycle states. Serialized uppercase on the wire.
const (
	JobStatusSubmitted JobStatus = "SUBMITTED"
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether the state is absorbing under normal flow.
// FAILED may be re-entered by retry logic before the attempt budget runs out.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// maxFailureReasonLen bounds the persisted failure reason.
const maxFailureReasonLen = 1000

// TruncateFailureReason clips a failure reason to the bounded column width,
// marking the cut with a trailing ellipsis.
func TruncateFailureReason(msg string) string {
	if len(msg) <= maxFailureReasonLen {
		return msg
	}
	return msg[:maxFailureReasonLen-3] + "..."
}

// Job is the primary unit of work: one strategy run over one symbol and date
// interval. Rows are mutated only under the store's row lock, with Version as
// the optimistic token, incremented on every save and compared on every save.
type Job struct {
	ID             uint64          `json:"job_id" badgerhold:"key"`
	DedupKey       string          `json:"-" badgerhold:"index"`
	Strategy       string          `json:"strategy"`
	Symbol         string          `json:"symbol"`
	StartDate      string          `json:"start_date"` // YYYY-MM-DD, closed interval
	EndDate        string          `json:"end_date"`
	Parameters     json.RawMessage `json:"parameters,omitempty"`
	InitialCapital float64         `json:"initial_capital"`
	Status         JobStatus       `json:"status"`
	Attempts       int             `json:"attempts"` // completed failed attempts
	SweepID        uint64          `json:"sweep_id,omitempty" badgerhold:"index"`
	Version        int             `json:"version"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    time.Time       `json:"completed_at"`
	DurationMS     int64           `json:"duration_ms"`
}

// JobEvent is broadcast via WebSocket when job state changes.
type JobEvent struct {
	Type      string    `json:"type"`
	Job       *Job      `json:"job,omitempty"`
	SweepID   uint64    `json:"sweep_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	QueueSize int       `json:"queue_size"` // Current queued count
}

// Job event types
const (
	EventJobQueued      = "job_queued"
	EventJobStarted     = "job_started"
	EventJobCompleted   = "job_completed"
	EventJobFailed      = "job_failed"
	EventJobRetrying    = "job_retrying"
	EventSweepCompleted = "sweep_completed"
)
