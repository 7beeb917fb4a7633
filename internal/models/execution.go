package models

import "time"

type ExecutionStatus string

const (
	StatusRunning ExecutionStatus = "running"
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
)

type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

type Execution struct {
	ID               int64           `json:"execution_id" db:"execution_id"`
	JobID            int64           `json:"job_id" db:"job_id"`
	JobName          string          `json:"job_name" db:"job_name"`
	Trigger          Trigger         `json:"trigger" db:"trigger"`
	Status           ExecutionStatus `json:"status" db:"status"`
	StartedAt        time.Time       `json:"started_at" db:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at" db:"completed_at"`
	RecordsProcessed *int64          `json:"records_processed" db:"records_processed"`
	ErrorMessage     *string         `json:"error_message" db:"error_message"`
}

// Outcome is the terminal state written by CompleteExecution.
type Outcome struct {
	Status           ExecutionStatus
	RecordsProcessed int64
	ErrorMessage     string
}

type LogLevel string

const (
	LevelInfo  LogLevel = "INFO"
	LevelError LogLevel = "ERROR"
)

type LogEntry struct {
	ID          int64     `json:"log_id" db:"log_id"`
	ExecutionID int64     `json:"execution_id" db:"execution_id"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
	Level       LogLevel  `json:"level" db:"level"`
	Message     string    `json:"message" db:"message"`
}

// HistoryFilter scopes GetHistory. A zero Limit returns every row.
type HistoryFilter struct {
	JobID *int64
	Limit int
}

type ExecutionResult struct {
	ExecutionID      int64           `json:"execution_id"`
	JobID            int64           `json:"job_id"`
	Status           ExecutionStatus `json:"status"`
	RecordsProcessed *int64          `json:"records_processed"`
	StartedAt        time.Time       `json:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at"`
	Error            string          `json:"error,omitempty"`
}

type ScheduledJob struct {
	JobID        int64      `json:"job_id"`
	JobName      string     `json:"job_name"`
	Schedule     string     `json:"schedule"`
	NextFireTime *time.Time `json:"next_fire_time"`
}

type SchedulerStatus struct {
	Enabled       bool    `json:"enabled"`
	Paused        bool    `json:"paused"`
	ScheduledJobs int     `json:"scheduled_jobs"`
	RunningJobs   []int64 `json:"running_jobs"`
}
