package temporal

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/apperrors"
	"github.com/stanstork/datafactory/internal/models"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// SkipRecorder counts scheduled triggers that did not start a run.
type SkipRecorder interface {
	RecordSkip(reason string)
}

// Dispatcher starts scheduled runs as Temporal workflows. Each job maps to
// a fixed workflow id, so a trigger arriving while the previous workflow is
// open is rejected by the server.
type Dispatcher struct {
	client    client.Client
	taskQueue string
	skips     SkipRecorder
	logger    zerolog.Logger
}

func NewDispatcher(c client.Client, taskQueue string, skips SkipRecorder, logger zerolog.Logger) *Dispatcher {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Dispatcher{
		client:    c,
		taskQueue: taskQueue,
		skips:     skips,
		logger:    logger.With().Str("component", "temporal_dispatcher").Logger(),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, job models.Job) error {
	opts := client.StartWorkflowOptions{
		ID:                                       WorkflowID(job.ID),
		TaskQueue:                                d.taskQueue,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	params := RunJobParams{JobID: job.ID, Trigger: models.TriggerScheduled}

	run, err := d.client.ExecuteWorkflow(ctx, opts, JobWorkflowName, params)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			d.skip("conflict")
			return apperrors.Conflictf("job %d already has an open workflow", job.ID)
		}
		return errors.Wrap(err, "failed to start job workflow")
	}

	d.logger.Info().
		Int64("job_id", job.ID).
		Str("workflow_id", run.GetID()).
		Str("run_id", run.GetRunID()).
		Msg("Job workflow started")
	return nil
}

func (d *Dispatcher) skip(reason string) {
	if d.skips != nil {
		d.skips.RecordSkip(reason)
	}
}
