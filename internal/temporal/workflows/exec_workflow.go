package workflows

import (
	"github.com/stanstork/datafactory/internal/models"
	"github.com/stanstork/datafactory/internal/temporal"
	"github.com/stanstork/datafactory/internal/temporal/activities"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// JobWorkflow runs a single job execution as one activity attempt.
func JobWorkflow(ctx workflow.Context, params temporal.RunJobParams) (*models.ExecutionResult, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: temporal.DefaultActivityTimeout,
		RetryPolicy:         &sdktemporal.RetryPolicy{MaximumAttempts: 1},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	logger := workflow.GetLogger(ctx)
	logger.Info("Starting job workflow", "JobID", params.JobID, "Trigger", params.Trigger)

	// The implementation lives on the worker; this is just a proxy.
	var a *activities.Activities

	var result models.ExecutionResult
	if err := workflow.ExecuteActivity(ctx, a.RunJobActivity, params).Get(ctx, &result); err != nil {
		logger.Error("Job activity failed.", "JobID", params.JobID, "error", err)
		return nil, err
	}

	logger.Info("Job workflow completed.", "ExecutionID", result.ExecutionID, "Status", result.Status)
	return &result, nil
}

// Register adds the job workflow and its activities to a worker under the
// names the dispatcher starts them by.
func Register(r interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivity(a interface{})
}, acts *activities.Activities) {
	r.RegisterWorkflowWithOptions(JobWorkflow, workflow.RegisterOptions{Name: temporal.JobWorkflowName})
	r.RegisterActivity(acts)
}
