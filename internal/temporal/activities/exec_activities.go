package activities

import (
	"context"

	"github.com/stanstork/datafactory/internal/apperrors"
	"github.com/stanstork/datafactory/internal/models"
	"github.com/stanstork/datafactory/internal/temporal"
	"go.temporal.io/sdk/activity"
	sdktemporal "go.temporal.io/sdk/temporal"
)

// Executor runs one execution of a job to completion.
type Executor interface {
	Execute(ctx context.Context, jobID int64, trigger models.Trigger) (*models.ExecutionResult, error)
}

type Activities struct {
	Executor Executor
}

// RunJobActivity executes the job in this worker process. A run that got as
// far as a history row returns its result even when it failed, since the
// failure is already recorded. Errors raised before that are not retried.
func (a *Activities) RunJobActivity(ctx context.Context, params temporal.RunJobParams) (*models.ExecutionResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Running job", "JobID", params.JobID, "Trigger", params.Trigger)

	res, err := a.Executor.Execute(ctx, params.JobID, params.Trigger)
	if err == nil {
		logger.Info("Job finished", "JobID", params.JobID, "ExecutionID", res.ExecutionID, "Status", res.Status)
		return res, nil
	}
	if res != nil {
		logger.Error("Job failed", "JobID", params.JobID, "ExecutionID", res.ExecutionID, "error", err)
		return res, nil
	}

	kind := string(apperrors.KindOf(err))
	if kind == "" {
		kind = "internal"
	}
	logger.Warn("Job not started", "JobID", params.JobID, "reason", kind, "error", err)
	return nil, sdktemporal.NewNonRetryableApplicationError(err.Error(), kind, err)
}
