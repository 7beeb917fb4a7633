package handlers

import (
	"context"

	"github.com/stanstork/datafactory/internal/connector"
	"github.com/stanstork/datafactory/internal/models"
)

// Service is the job API the handlers call. *manager.Manager implements it.
type Service interface {
	CreateJob(ctx context.Context, in models.JobInput) (models.Job, error)
	GetJob(ctx context.Context, jobID int64) (models.JobWithLastRun, error)
	UpdateJob(ctx context.Context, jobID int64, patch models.JobPatch) (models.Job, error)
	DeleteJob(ctx context.Context, jobID int64) error
	ListJobsWithLastRun(ctx context.Context) ([]models.JobWithLastRun, error)
	ExecuteJob(ctx context.Context, jobID int64) (*models.ExecutionResult, error)

	GetHistory(ctx context.Context, filter models.HistoryFilter) ([]models.Execution, error)
	GetExecution(ctx context.Context, executionID int64) (models.Execution, error)
	GetLogs(ctx context.Context, executionID int64) ([]models.LogEntry, error)

	ListScheduled() []models.ScheduledJob
	PauseScheduler() error
	ResumeScheduler() error
	SchedulerStatus() models.SchedulerStatus

	SinkObjects(ctx context.Context, jobID int64) ([]string, error)
	SinkPreview(ctx context.Context, jobID int64, object string, limit int) (*connector.Dataset, error)
	Connectors() []connector.Descriptor
}
