package temporal

import (
	"strconv"
	"time"

	"github.com/stanstork/datafactory/internal/models"
)

// DefaultTaskQueue is the task queue job workflows are started on unless
// execution.temporal.task_queue overrides it.
const DefaultTaskQueue = "DATAFACTORY_JOBS"

// WorkflowIDPrefix prefixes the per-job workflow id. One id per job keeps a
// second scheduled start from running while the first is still open.
const WorkflowIDPrefix = "datafactory-job-"

// JobWorkflowName is the registered name of the job workflow.
const JobWorkflowName = "JobWorkflow"

// DefaultActivityTimeout bounds a single job run inside a workflow.
const DefaultActivityTimeout = 24 * time.Hour

// RunJobParams is the input of the job workflow and its activity.
type RunJobParams struct {
	JobID   int64
	Trigger models.Trigger
}

func WorkflowID(jobID int64) string {
	return WorkflowIDPrefix + strconv.FormatInt(jobID, 10)
}
