package models

import "time"

type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusError   JobStatus = "ERROR"
)

// Terminal reports whether no further transition may leave the status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusError
}

type RefreshJob struct {
	ID            string     `json:"id" db:"id"`
	Status        JobStatus  `json:"status" db:"status"`
	Progress      int        `json:"progress" db:"progress"`
	TotalRows     int        `json:"total_rows" db:"total_rows"`
	ProcessedRows int        `json:"processed_rows" db:"processed_rows"`
	ETASeconds    *int       `json:"eta_seconds" db:"eta_seconds"`
	ErrorMessage  *string    `json:"error_message" db:"error_message"`
	Source        string     `json:"source" db:"source"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time `json:"completed_at" db:"completed_at"`
}

// JobUpdate is a partial update: only non-nil fields are written.
type JobUpdate struct {
	Status        *JobStatus
	Progress      *int
	TotalRows     *int
	ProcessedRows *int
	ETASeconds    *int
	ErrorMessage  *string
	CompletedAt   *time.Time
}

func (u JobUpdate) Empty() bool {
	return u.Status == nil && u.Progress == nil && u.TotalRows == nil &&
		u.ProcessedRows == nil && u.ETASeconds == nil && u.ErrorMessage == nil &&
		u.CompletedAt == nil
}

// Apply merges the update into job in place.
func (u JobUpdate) Apply(job *RefreshJob) {
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.Progress != nil {
		job.Progress = *u.Progress
	}
	if u.TotalRows != nil {
		job.TotalRows = *u.TotalRows
	}
	if u.ProcessedRows != nil {
		job.ProcessedRows = *u.ProcessedRows
	}
	if u.ETASeconds != nil {
		v := *u.ETASeconds
		job.ETASeconds = &v
	}
	if u.ErrorMessage != nil {
		v := *u.ErrorMessage
		job.ErrorMessage = &v
	}
	if u.CompletedAt != nil {
		v := *u.CompletedAt
		job.CompletedAt = &v
	}
}
