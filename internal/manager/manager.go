// Package manager is the single entry point the HTTP layer and the CLI use
// to work with jobs, executions and the scheduler.
package manager

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/apperrors"
	"github.com/stanstork/datafactory/internal/connector"
	"github.com/stanstork/datafactory/internal/models"
	"github.com/stanstork/datafactory/internal/repository"
	"github.com/stanstork/datafactory/internal/scheduler"
)

// InterruptedReason is the error message given to runs found still running
// at startup.
const InterruptedReason = "interrupted: process stopped before the execution completed"

const (
	defaultPreviewLimit = 10
	maxPreviewLimit     = 1000
)

type Executor interface {
	Execute(ctx context.Context, jobID int64, trigger models.Trigger) (*models.ExecutionResult, error)
	Running() []int64
}

type Scheduler interface {
	Start(ctx context.Context, lister scheduler.JobLister) error
	Register(job models.Job) error
	Unregister(jobID int64)
	Pause()
	Resume()
	Paused() bool
	ListScheduled() []models.ScheduledJob
	Stop(ctx context.Context) error
}

type Connectors interface {
	Sink(tag string, cfg models.ConnectorConfig) (connector.Sink, error)
	Catalog() []connector.Descriptor
}

type Manager struct {
	jobs       repository.JobRepository
	history    repository.HistoryRepository
	engine     Executor
	scheduler  Scheduler
	connectors Connectors
	logger     zerolog.Logger
}

// New wires the manager. A nil scheduler means scheduling is disabled:
// jobs keep their schedules but nothing fires.
func New(jobs repository.JobRepository, history repository.HistoryRepository, engine Executor, sched Scheduler, connectors Connectors, logger zerolog.Logger) *Manager {
	return &Manager{
		jobs:       jobs,
		history:    history,
		engine:     engine,
		scheduler:  sched,
		connectors: connectors,
		logger:     logger.With().Str("component", "manager").Logger(),
	}
}

// Start fails runs a previous process left running, then loads the
// scheduler.
func (m *Manager) Start(ctx context.Context) error {
	n, err := m.history.FailInterrupted(ctx, InterruptedReason)
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.Warn().Int64("executions", n).Msg("Marked interrupted executions as failed")
	}
	if m.scheduler == nil {
		m.logger.Info().Msg("Scheduler disabled")
		return nil
	}
	return m.scheduler.Start(ctx, m.jobs)
}

func (m *Manager) Shutdown(ctx context.Context) error {
	if m.scheduler == nil {
		return nil
	}
	return m.scheduler.Stop(ctx)
}

func (m *Manager) CreateJob(ctx context.Context, in models.JobInput) (models.Job, error) {
	job, err := m.jobs.Create(ctx, in)
	if err != nil {
		return models.Job{}, err
	}
	m.logger.Info().Int64("job_id", job.ID).Str("job_name", job.Name).Msg("Job created")
	m.sync(job)
	return job, nil
}

// GetJob returns the job with its most recent execution, if any.
func (m *Manager) GetJob(ctx context.Context, jobID int64) (models.JobWithLastRun, error) {
	return m.jobs.GetWithLastRun(ctx, jobID)
}

// UpdateJob applies patch and re-registers the job with the scheduler so the
// next trigger already follows the new schedule. A run in progress is left
// alone.
func (m *Manager) UpdateJob(ctx context.Context, jobID int64, patch models.JobPatch) (models.Job, error) {
	job, err := m.jobs.Update(ctx, jobID, patch)
	if err != nil {
		return models.Job{}, err
	}
	m.logger.Info().Int64("job_id", job.ID).Str("job_name", job.Name).Msg("Job updated")
	if patch.SchedulingChanged() || patch.Name != nil {
		m.sync(job)
	}
	return job, nil
}

func (m *Manager) DeleteJob(ctx context.Context, jobID int64) error {
	if err := m.jobs.Delete(ctx, jobID); err != nil {
		return err
	}
	if m.scheduler != nil {
		m.scheduler.Unregister(jobID)
	}
	m.logger.Info().Int64("job_id", jobID).Msg("Job deleted")
	return nil
}

func (m *Manager) ListJobs(ctx context.Context) ([]models.Job, error) {
	return m.jobs.List(ctx)
}

func (m *Manager) ListJobsWithLastRun(ctx context.Context) ([]models.JobWithLastRun, error) {
	return m.jobs.ListWithLastRun(ctx)
}

// ExecuteJob runs the job now and blocks until it finishes.
func (m *Manager) ExecuteJob(ctx context.Context, jobID int64) (*models.ExecutionResult, error) {
	return m.engine.Execute(ctx, jobID, models.TriggerManual)
}

func (m *Manager) GetHistory(ctx context.Context, filter models.HistoryFilter) ([]models.Execution, error) {
	return m.history.GetHistory(ctx, filter)
}

func (m *Manager) GetExecution(ctx context.Context, executionID int64) (models.Execution, error) {
	return m.history.GetExecution(ctx, executionID)
}

// GetLogs returns NotFound for an unknown execution rather than an empty list.
func (m *Manager) GetLogs(ctx context.Context, executionID int64) ([]models.LogEntry, error) {
	if _, err := m.history.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}
	return m.history.GetLogs(ctx, executionID)
}

func (m *Manager) ListScheduled() []models.ScheduledJob {
	if m.scheduler == nil {
		return []models.ScheduledJob{}
	}
	return m.scheduler.ListScheduled()
}

func (m *Manager) PauseScheduler() error {
	if m.scheduler == nil {
		return apperrors.Statef("scheduler is disabled")
	}
	m.scheduler.Pause()
	return nil
}

func (m *Manager) ResumeScheduler() error {
	if m.scheduler == nil {
		return apperrors.Statef("scheduler is disabled")
	}
	m.scheduler.Resume()
	return nil
}

func (m *Manager) SchedulerStatus() models.SchedulerStatus {
	status := models.SchedulerStatus{RunningJobs: m.engine.Running()}
	if status.RunningJobs == nil {
		status.RunningJobs = []int64{}
	}
	if m.scheduler != nil {
		status.Enabled = true
		status.Paused = m.scheduler.Paused()
		status.ScheduledJobs = len(m.scheduler.ListScheduled())
	}
	return status
}

func (m *Manager) Connectors() []connector.Descriptor {
	return m.connectors.Catalog()
}

// SinkObjects lists what the job's sink holds: tables for SQL sinks, files
// for file and FTP sinks.
func (m *Manager) SinkObjects(ctx context.Context, jobID int64) ([]string, error) {
	var objects []string
	err := m.withBrowser(ctx, jobID, func(b connector.Browser) error {
		var err error
		objects, err = b.Objects(ctx)
		return err
	})
	return objects, err
}

// SinkPreview returns up to limit rows of one sink object. limit defaults to
// 10 and is capped at 1000.
func (m *Manager) SinkPreview(ctx context.Context, jobID int64, object string, limit int) (*connector.Dataset, error) {
	if object == "" {
		return nil, apperrors.Validationf("object is required")
	}
	if limit <= 0 {
		limit = defaultPreviewLimit
	}
	if limit > maxPreviewLimit {
		limit = maxPreviewLimit
	}
	var ds *connector.Dataset
	err := m.withBrowser(ctx, jobID, func(b connector.Browser) error {
		var err error
		ds, err = b.Preview(ctx, object, limit)
		return err
	})
	return ds, err
}

func (m *Manager) withBrowser(ctx context.Context, jobID int64, fn func(connector.Browser) error) error {
	job, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	sink, err := m.connectors.Sink(job.SinkType, job.SinkConfig)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			m.logger.Warn().Err(err).Int64("job_id", jobID).Msg("Failed to close sink")
		}
	}()

	b, ok := sink.(connector.Browser)
	if !ok {
		return apperrors.Validationf("sink type %q cannot be browsed", job.SinkType)
	}
	if err := fn(b); err != nil {
		if apperrors.KindOf(err) != "" {
			return err
		}
		return apperrors.Connector(err, "failed to browse "+job.SinkType+" sink")
	}
	return nil
}

// sync brings the scheduler's entry for job in line with the stored job.
func (m *Manager) sync(job models.Job) {
	if m.scheduler == nil {
		return
	}
	if err := m.scheduler.Register(job); err != nil {
		m.logger.Error().Err(err).Int64("job_id", job.ID).Msg("Failed to schedule job")
	}
}
