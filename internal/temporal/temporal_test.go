package temporal

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/apperrors"
	"github.com/stanstork/datafactory/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
)

func TestAdapterFields(t *testing.T) {
	var buf bytes.Buffer
	a := NewAdapter(zerolog.New(&buf))

	a.Info("activity started", "JobID", 7, 42, "x", "dangling")
	out := buf.String()
	assert.Contains(t, out, `"component":"temporal"`)
	assert.Contains(t, out, `"JobID":7`)
	assert.Contains(t, out, `"INVALID_KEY":"x"`)
	assert.Contains(t, out, `"dangling":"MISSING_VALUE"`)

	buf.Reset()
	a.With("WorkflowID", "datafactory-job-7").Warn("slow")
	assert.Contains(t, buf.String(), `"WorkflowID":"datafactory-job-7"`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestWorkflowID(t *testing.T) {
	assert.Equal(t, "datafactory-job-12", WorkflowID(12))
}

type skips struct{ reasons []string }

func (s *skips) RecordSkip(reason string) { s.reasons = append(s.reasons, reason) }

func TestDispatcherStartsWorkflow(t *testing.T) {
	c := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("datafactory-job-3")
	run.On("GetRunID").Return("run-1")

	c.On("ExecuteWorkflow", mock.Anything, mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
		return o.ID == "datafactory-job-3" && o.TaskQueue == DefaultTaskQueue && o.WorkflowExecutionErrorWhenAlreadyStarted
	}), JobWorkflowName, RunJobParams{JobID: 3, Trigger: models.TriggerScheduled}).Return(run, nil)

	d := NewDispatcher(c, "", nil, zerolog.Nop())
	require.NoError(t, d.Dispatch(context.Background(), models.Job{ID: 3, Name: "nightly"}))
	c.AssertExpectations(t)
}

func TestDispatcherAlreadyStarted(t *testing.T) {
	c := &mocks.Client{}
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, JobWorkflowName, mock.Anything).
		Return(nil, serviceerror.NewWorkflowExecutionAlreadyStarted("running", "", "run-0"))

	s := &skips{}
	d := NewDispatcher(c, "JOBS", s, zerolog.Nop())
	err := d.Dispatch(context.Background(), models.Job{ID: 3})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, []string{"conflict"}, s.reasons)
}
