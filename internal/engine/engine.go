// Package engine runs a single job end to end and records its outcome.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/apperrors"
	"github.com/stanstork/datafactory/internal/connector"
	"github.com/stanstork/datafactory/internal/models"
	"github.com/stanstork/datafactory/internal/notification"
	"github.com/stanstork/datafactory/internal/repository"
)

// Resolver builds connectors from a type tag and its config.
type Resolver interface {
	Source(tag string, cfg models.ConnectorConfig) (connector.Source, error)
	Sink(tag string, cfg models.ConnectorConfig) (connector.Sink, error)
}

// Recorder receives execution metrics.
type Recorder interface {
	RecordStart(trigger string)
	RecordFinish(status string, records int64, d time.Duration)
}

type Engine struct {
	jobs       repository.JobRepository
	history    repository.HistoryRepository
	connectors Resolver
	notifier   notification.Service
	metrics    Recorder
	logger     zerolog.Logger

	// job id -> struct{} for every job with a run in progress
	inFlight sync.Map
}

type Option func(*Engine)

func WithNotifications(svc notification.Service) Option {
	return func(e *Engine) { e.notifier = svc }
}

func WithMetrics(r Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

func New(jobs repository.JobRepository, history repository.HistoryRepository, connectors Resolver, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		jobs:       jobs,
		history:    history,
		connectors: connectors,
		logger:     logger.With().Str("component", "engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Running returns the ids of jobs with an execution in progress.
func (e *Engine) Running() []int64 {
	var ids []int64
	e.inFlight.Range(func(k, _ interface{}) bool {
		ids = append(ids, k.(int64))
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsRunning reports whether jobID has an execution in progress.
func (e *Engine) IsRunning(jobID int64) bool {
	_, ok := e.inFlight.Load(jobID)
	return ok
}

// Execute runs the job synchronously. At most one execution per job is in
// progress at any time; a concurrent call fails with a conflict error.
//
// Once an execution row exists it always reaches a terminal status. On a
// failed run both the result and the error are returned.
func (e *Engine) Execute(ctx context.Context, jobID int64, trigger models.Trigger) (*models.ExecutionResult, error) {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Enabled {
		return nil, apperrors.Validationf("job %q is disabled", job.Name)
	}

	if _, busy := e.inFlight.LoadOrStore(job.ID, struct{}{}); busy {
		return nil, apperrors.Conflictf("job %d already running", job.ID)
	}
	defer e.inFlight.Delete(job.ID)

	exec, err := e.history.BeginExecution(ctx, job, trigger)
	if err != nil {
		return nil, err
	}

	log := e.logger.With().
		Int64("job_id", job.ID).
		Str("job_name", job.Name).
		Int64("execution_id", exec.ID).
		Str("trigger", string(trigger)).
		Logger()
	log.Info().Msg("Execution started")

	// Outcome writes must land even if the caller goes away.
	store := context.WithoutCancel(ctx)
	started := time.Now()
	if e.metrics != nil {
		e.metrics.RecordStart(string(trigger))
	}
	if e.notifier != nil {
		notified(log, e.notifier.NotifyExecutionStarted(store, exec))
	}

	r := &run{engine: e, store: store, execID: exec.ID, log: log}
	r.append(models.LevelInfo, fmt.Sprintf("Starting job: %s (source: %s, sink: %s)", job.Name, job.SourceType, job.SinkType))

	records, runErr := r.transfer(ctx, job)

	outcome := models.Outcome{Status: models.StatusSuccess, RecordsProcessed: records}
	if runErr != nil {
		outcome = models.Outcome{Status: models.StatusFailed, ErrorMessage: runErr.Error()}
		r.append(models.LevelError, "Job failed: "+runErr.Error())
	} else {
		r.append(models.LevelInfo, fmt.Sprintf("Job completed successfully: %d records processed", records))
	}

	final, completeErr := e.history.CompleteExecution(store, exec.ID, outcome)
	if completeErr != nil {
		log.Error().Err(completeErr).Msg("Failed to record execution outcome")
		final = exec
		final.Status = outcome.Status
		if runErr != nil {
			msg := outcome.ErrorMessage
			final.ErrorMessage = &msg
		} else {
			final.RecordsProcessed = &records
		}
	}

	if e.metrics != nil {
		e.metrics.RecordFinish(string(outcome.Status), records, time.Since(started))
	}
	if e.notifier != nil {
		if runErr != nil {
			notified(log, e.notifier.NotifyExecutionFailed(store, final, outcome.ErrorMessage))
		} else {
			notified(log, e.notifier.NotifyExecutionSucceeded(store, final))
		}
	}

	result := &models.ExecutionResult{
		ExecutionID:      final.ID,
		JobID:            job.ID,
		Status:           final.Status,
		RecordsProcessed: final.RecordsProcessed,
		StartedAt:        final.StartedAt,
		CompletedAt:      final.CompletedAt,
	}
	if runErr != nil {
		result.Error = outcome.ErrorMessage
		log.Error().Err(runErr).Msg("Execution failed")
		return result, runErr
	}
	if completeErr != nil {
		return result, completeErr
	}
	log.Info().Int64("records", records).Dur("duration", time.Since(started)).Msg("Execution succeeded")
	return result, nil
}

// run carries the per-execution state used while moving data.
type run struct {
	engine *Engine
	store  context.Context
	execID int64
	log    zerolog.Logger
}

// append writes an execution log line. A failed write is reported to the
// process log only; it never changes the run's outcome.
func (r *run) append(level models.LogLevel, message string) {
	if err := r.engine.history.AppendLog(r.store, r.execID, level, message); err != nil {
		r.log.Warn().Err(err).Str("message", message).Msg("Failed to append execution log")
	}
}

func (r *run) transfer(ctx context.Context, job models.Job) (records int64, err error) {
	defer func() {
		if p := recover(); p != nil {
			records = 0
			err = apperrors.Connector(fmt.Errorf("%v", p), "connector panicked")
		}
	}()

	src, err := r.engine.connectors.Source(job.SourceType, job.SourceConfig)
	if err != nil {
		return 0, asKind(apperrors.KindConfiguration, err, "failed to create source connector")
	}
	defer r.close("source", src)
	r.append(models.LevelInfo, "Created source connector: "+job.SourceType)

	sink, err := r.engine.connectors.Sink(job.SinkType, job.SinkConfig)
	if err != nil {
		return 0, asKind(apperrors.KindConfiguration, err, "failed to create sink connector")
	}
	defer r.close("sink", sink)
	r.append(models.LevelInfo, "Created sink connector: "+job.SinkType)

	if job.Query != "" {
		r.append(models.LevelInfo, "Executing query: "+job.Query)
	}
	ds, err := src.Read(ctx, job.Query)
	if err != nil {
		return 0, asKind(apperrors.KindConnector, err, "read from "+job.SourceType+" source failed")
	}
	r.append(models.LevelInfo, fmt.Sprintf("Retrieved %d records", ds.Len()))

	destination := job.Destination()
	written, err := sink.Write(ctx, ds, destination)
	if err != nil {
		return 0, asKind(apperrors.KindConnector, err, "write to "+job.SinkType+" sink failed")
	}
	r.append(models.LevelInfo, fmt.Sprintf("Data written to sink: %s (%d records)", destination, written))
	return written, nil
}

func (r *run) close(role string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		r.log.Warn().Err(err).Str("connector", role).Msg("Failed to close connector")
	}
}

// asKind keeps an error that already carries a kind and wraps any other.
func asKind(kind apperrors.Kind, err error, message string) error {
	if apperrors.KindOf(err) != "" {
		return err
	}
	return apperrors.Wrap(kind, err, message)
}

// notified records a delivery failure. Notifications never change the
// outcome of a run.
func notified(log zerolog.Logger, err error) {
	if err != nil {
		log.Debug().Err(err).Msg("Notification not delivered")
	}
}
