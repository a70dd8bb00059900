package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobKind identifies the operation wrapped by a job.
type JobKind string

// Job kinds.
const (
	JobMatch  JobKind = "match"
	JobEnrich JobKind = "enrich"
	JobSync   JobKind = "sync"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	return k == JobMatch || k == JobEnrich || k == JobSync
}

// JobStatus is a state of the job state machine.
type JobStatus string

// Job states. Completed and failed are terminal.
const (
	JobPending   JobStatus = "pending"
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Active reports whether the job still holds its resource.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobQueued || s == JobRunning
}

// CanTransition reports whether next is a legal successor of s. Only a
// running job can fail; recovery of orphaned jobs happens out of band in
// storage and does not go through this check.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobQueued
	case JobQueued:
		return next == JobRunning
	case JobRunning:
		return next == JobCompleted || next == JobFailed
	case JobCompleted, JobFailed:
		return false
	}
	return false
}

// Job is the persisted record of an asynchronous operation. Owner names the
// manager running it; HeartbeatAt is refreshed while that manager is alive.
type Job struct {
	CreatedAt    time.Time
	HeartbeatAt  time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ID           string
	Owner        string
	Kind         JobKind
	Resource     string
	Status       JobStatus
	ErrorMessage string
	TotalCost    decimal.Decimal
	Processed    int
	Total        int
	Successful   int
	Failed       int
	TotalTokens  int
}

// JobView is the read model served to polling clients.
type JobView struct {
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	JobID              string          `json:"job_id"`
	Kind               JobKind         `json:"kind"`
	Resource           string          `json:"resource"`
	Status             JobStatus       `json:"status"`
	Error              string          `json:"error,omitempty"`
	TotalCost          decimal.Decimal `json:"total_cost"`
	Processed          int             `json:"processed"`
	Total              int             `json:"total"`
	Successful         int             `json:"successful"`
	Failed             int             `json:"failed"`
	TotalTokens        int             `json:"total_tokens"`
	ProgressPercentage float64         `json:"progress_percentage"`
}

// View builds the polling read model for j.
func (j Job) View() JobView {
	pct := 0.0
	switch {
	case j.Total > 0:
		pct = float64(j.Processed) * 100 / float64(j.Total)
	case j.Status == JobCompleted:
		pct = 100
	}
	return JobView{
		JobID:              j.ID,
		Kind:               j.Kind,
		Resource:           j.Resource,
		Status:             j.Status,
		Processed:          j.Processed,
		Total:              j.Total,
		ProgressPercentage: pct,
		Successful:         j.Successful,
		Failed:             j.Failed,
		TotalCost:          j.TotalCost,
		TotalTokens:        j.TotalTokens,
		Error:              j.ErrorMessage,
		StartedAt:          j.StartedAt,
		CompletedAt:        j.CompletedAt,
	}
}
