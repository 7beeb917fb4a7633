package scheduler

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/apperrors"
	"github.com/stanstork/datafactory/internal/models"
	"github.com/stanstork/datafactory/internal/worker"
)

// Executor runs one execution of a job to completion.
type Executor interface {
	Execute(ctx context.Context, jobID int64, trigger models.Trigger) (*models.ExecutionResult, error)
}

// Submitter accepts background tasks. Submit may block until a worker is
// free.
type Submitter interface {
	Submit(task worker.Task) error
}

// SkipRecorder counts scheduled triggers that did not start a run.
type SkipRecorder interface {
	RecordSkip(reason string)
}

// PoolDispatcher runs scheduled executions on a worker pool. Triggers wait
// for a free worker instead of being dropped, and a job holds at most one
// waiting trigger.
type PoolDispatcher struct {
	pool   Submitter
	exec   Executor
	skips  SkipRecorder
	logger zerolog.Logger

	// job ids with a trigger submitted but not yet started
	queued sync.Map
}

func NewPoolDispatcher(pool Submitter, exec Executor, skips SkipRecorder, logger zerolog.Logger) *PoolDispatcher {
	return &PoolDispatcher{
		pool:   pool,
		exec:   exec,
		skips:  skips,
		logger: logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch returns at once; the submission happens on its own goroutine so
// a busy pool never holds up the scheduler's timers.
func (d *PoolDispatcher) Dispatch(_ context.Context, job models.Job) error {
	if _, waiting := d.queued.LoadOrStore(job.ID, struct{}{}); waiting {
		d.skip("conflict")
		return apperrors.Conflictf("job %d already has a trigger waiting for a worker", job.ID)
	}
	go d.submit(job)
	return nil
}

func (d *PoolDispatcher) submit(job models.Job) {
	err := d.pool.Submit(func(ctx context.Context) {
		d.queued.Delete(job.ID)
		d.run(ctx, job)
	})
	if err == nil {
		return
	}
	d.queued.Delete(job.ID)

	log := d.logger.With().Int64("job_id", job.ID).Str("job_name", job.Name).Logger()
	switch {
	case errors.Is(err, worker.ErrOverloaded):
		d.skip("overloaded")
		log.Error().Err(err).Msg("Worker queue is full, scheduled trigger dropped")
	case errors.Is(err, worker.ErrStopped):
		log.Info().Msg("Worker pool stopped, scheduled trigger dropped")
	default:
		log.Error().Err(err).Msg("Failed to submit scheduled execution")
	}
}

// run executes a scheduled trigger. Errors have no caller to go to, so they
// end here.
func (d *PoolDispatcher) run(ctx context.Context, job models.Job) {
	log := d.logger.With().Int64("job_id", job.ID).Str("job_name", job.Name).Logger()
	res, err := d.exec.Execute(ctx, job.ID, models.TriggerScheduled)
	switch {
	case err == nil:
		log.Info().Int64("execution_id", res.ExecutionID).Msg("Scheduled execution finished")
	case errors.Is(err, apperrors.ErrConflict):
		d.skip("conflict")
		log.Warn().Msg("Job already running, skipping scheduled trigger")
	case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrNotFound):
		d.skip("invalid")
		log.Warn().Err(err).Msg("Scheduled trigger rejected")
	default:
		log.Error().Err(err).Msg("Scheduled execution failed")
	}
}

func (d *PoolDispatcher) skip(reason string) {
	if d.skips != nil {
		d.skips.RecordSkip(reason)
	}
}
