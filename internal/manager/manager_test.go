package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/apperrors"
	"github.com/stanstork/datafactory/internal/connector"
	"github.com/stanstork/datafactory/internal/database"
	"github.com/stanstork/datafactory/internal/engine"
	"github.com/stanstork/datafactory/internal/migration"
	"github.com/stanstork/datafactory/internal/models"
	"github.com/stanstork/datafactory/internal/repository"
	"github.com/stanstork/datafactory/internal/scheduler"
	"github.com/stanstork/datafactory/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	mgr     *Manager
	clock   *clock.Mock
	history repository.HistoryRepository
	input   string
	output  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.SQLite, filepath.Join(t.TempDir(), "factory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migration.Up(ctx, db, database.SQLite, zerolog.Nop()))

	jobs := repository.NewJobRepository(db, database.SQLite)
	history := repository.NewHistoryRepository(db, database.SQLite)
	reg := connector.Builtin()
	eng := engine.New(jobs, history, reg, zerolog.Nop())

	pool, err := worker.NewPool(2, zerolog.Nop(), worker.WithQueue(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	mock := clock.NewMock()
	sched := scheduler.New(scheduler.NewPoolDispatcher(pool, eng, nil, zerolog.Nop()), zerolog.Nop(), scheduler.WithClock(mock))

	input := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(input, []byte("id,amount\n1,10\n2,20\n3,30\n"), 0o644))

	h := &harness{
		mgr:     New(jobs, history, eng, sched, reg, zerolog.Nop()),
		clock:   mock,
		history: history,
		input:   input,
		output:  filepath.Join(t.TempDir(), "out"),
	}
	require.NoError(t, h.mgr.Start(ctx))
	t.Cleanup(func() { _ = h.mgr.Shutdown(context.Background()) })
	return h
}

func (h *harness) job(name, schedule string) models.JobInput {
	return models.JobInput{
		Name:         name,
		SourceType:   "csv",
		SourceConfig: models.ConnectorConfig{"file_path": h.input},
		SinkType:     "csv",
		SinkConfig:   models.ConnectorConfig{"directory": h.output},
		Schedule:     schedule,
	}
}

func (h *harness) executions(t *testing.T, jobID int64) []models.Execution {
	t.Helper()
	history, err := h.mgr.GetHistory(context.Background(), models.HistoryFilter{JobID: &jobID})
	require.NoError(t, err)
	return history
}

func TestScheduledJobPauseAndResume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	job, err := h.mgr.CreateJob(ctx, h.job("nightly", "0 2 * * *"))
	require.NoError(t, err)

	scheduled := h.mgr.ListScheduled()
	require.Len(t, scheduled, 1)
	assert.Equal(t, job.ID, scheduled[0].JobID)
	require.NotNil(t, scheduled[0].NextFireTime)
	assert.Equal(t, 2, scheduled[0].NextFireTime.Hour())
	assert.Equal(t, 0, scheduled[0].NextFireTime.Minute())

	require.NoError(t, h.mgr.PauseScheduler())
	assert.True(t, h.mgr.SchedulerStatus().Paused)
	h.clock.Add(3 * time.Hour)
	assert.Never(t, func() bool { return len(h.executions(t, job.ID)) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, h.mgr.ResumeScheduler())
	h.clock.Add(24 * time.Hour)
	assert.Eventually(t, func() bool {
		runs := h.executions(t, job.ID)
		return len(runs) == 1 && runs[0].Status == models.StatusSuccess
	}, 5*time.Second, 10*time.Millisecond)

	run := h.executions(t, job.ID)[0]
	assert.Equal(t, models.TriggerScheduled, run.Trigger)
	assert.EqualValues(t, 3, *run.RecordsProcessed)
}

func TestUpdateAndDeleteKeepSchedulerInSync(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	job, err := h.mgr.CreateJob(ctx, h.job("hourly", "15 * * * *"))
	require.NoError(t, err)
	require.Len(t, h.mgr.ListScheduled(), 1)

	off := false
	_, err = h.mgr.UpdateJob(ctx, job.ID, models.JobPatch{Enabled: &off})
	require.NoError(t, err)
	assert.Empty(t, h.mgr.ListScheduled())

	on := true
	every := "*/5 * * * *"
	_, err = h.mgr.UpdateJob(ctx, job.ID, models.JobPatch{Enabled: &on, Schedule: &every})
	require.NoError(t, err)
	scheduled := h.mgr.ListScheduled()
	require.Len(t, scheduled, 1)
	assert.Equal(t, every, scheduled[0].Schedule)

	bad := "99 * * * *"
	_, err = h.mgr.UpdateJob(ctx, job.ID, models.JobPatch{Schedule: &bad})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, every, h.mgr.ListScheduled()[0].Schedule)

	require.NoError(t, h.mgr.DeleteJob(ctx, job.ID))
	assert.Empty(t, h.mgr.ListScheduled())
	assert.ErrorIs(t, h.mgr.DeleteJob(ctx, job.ID), apperrors.ErrNotFound)
}

func TestExecuteJobAndQueries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	job, err := h.mgr.CreateJob(ctx, h.job("Monthly Report", ""))
	require.NoError(t, err)
	assert.Empty(t, h.mgr.ListScheduled())

	fresh, err := h.mgr.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Name, fresh.Name)
	assert.Nil(t, fresh.LastRun)

	res, err := h.mgr.ExecuteJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, res.Status)

	exec, err := h.mgr.GetExecution(ctx, res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerManual, exec.Trigger)

	logs, err := h.mgr.GetLogs(ctx, res.ExecutionID)
	require.NoError(t, err)
	assert.NotEmpty(t, logs)

	_, err = h.mgr.GetLogs(ctx, 9999)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	withRuns, err := h.mgr.ListJobsWithLastRun(ctx)
	require.NoError(t, err)
	require.Len(t, withRuns, 1)
	require.NotNil(t, withRuns[0].LastRun)
	assert.Equal(t, res.ExecutionID, withRuns[0].LastRun.ID)

	got, err := h.mgr.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	assert.Equal(t, res.ExecutionID, got.LastRun.ID)
	assert.Equal(t, models.StatusSuccess, got.LastRun.Status)

	_, err = h.mgr.GetJob(ctx, 9999)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	objects, err := h.mgr.SinkObjects(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"monthly_report"}, objects)

	preview, err := h.mgr.SinkPreview(ctx, job.ID, "monthly_report", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "amount"}, preview.Columns)
	assert.Equal(t, 2, preview.Len())

	_, err = h.mgr.SinkPreview(ctx, job.ID, "", 2)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	require.NoError(t, h.mgr.DeleteJob(ctx, job.ID))
	assert.Len(t, h.executions(t, job.ID), 1, "history survives job deletion")
}

func TestStartFailsInterruptedRuns(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	job, err := h.mgr.CreateJob(ctx, h.job("stuck", ""))
	require.NoError(t, err)
	exec, err := h.history.BeginExecution(ctx, job, models.TriggerManual)
	require.NoError(t, err)

	require.NoError(t, h.mgr.Start(ctx))

	got, err := h.mgr.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, InterruptedReason, *got.ErrorMessage)

	res, err := h.mgr.ExecuteJob(ctx, job.ID)
	require.NoError(t, err, "job is runnable again")
	assert.Equal(t, models.StatusSuccess, res.Status)
}

func TestSchedulerDisabled(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.SQLite, filepath.Join(t.TempDir(), "factory.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, migration.Up(ctx, db, database.SQLite, zerolog.Nop()))

	jobs := repository.NewJobRepository(db, database.SQLite)
	history := repository.NewHistoryRepository(db, database.SQLite)
	reg := connector.Builtin()
	mgr := New(jobs, history, engine.New(jobs, history, reg, zerolog.Nop()), nil, reg, zerolog.Nop())
	require.NoError(t, mgr.Start(ctx))

	_, err = mgr.CreateJob(ctx, models.JobInput{Name: "n", SourceType: "csv", SinkType: "csv", Schedule: "0 2 * * *"})
	require.NoError(t, err)
	assert.Empty(t, mgr.ListScheduled())
	assert.ErrorIs(t, mgr.PauseScheduler(), apperrors.ErrState)

	status := mgr.SchedulerStatus()
	assert.False(t, status.Enabled)
	assert.Equal(t, []int64{}, status.RunningJobs)
	assert.NotEmpty(t, mgr.Connectors())
}
