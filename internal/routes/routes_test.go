package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/authz"
	"github.com/stanstork/datafactory/internal/connector"
	"github.com/stanstork/datafactory/internal/database"
	"github.com/stanstork/datafactory/internal/engine"
	"github.com/stanstork/datafactory/internal/manager"
	"github.com/stanstork/datafactory/internal/migration"
	"github.com/stanstork/datafactory/internal/models"
	"github.com/stanstork/datafactory/internal/repository"
	"github.com/stanstork/datafactory/internal/scheduler"
	"github.com/stanstork/datafactory/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type api struct {
	t      *testing.T
	server *httptest.Server
	token  string
}

func newAPI(t *testing.T, opts Options) *api {
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
	pool, err := worker.NewPool(2, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })
	sched := scheduler.New(scheduler.NewPoolDispatcher(pool, eng, nil, zerolog.Nop()), zerolog.Nop(), scheduler.WithClock(clock.NewMock()))

	mgr := manager.New(jobs, history, eng, sched, reg, zerolog.Nop())
	require.NoError(t, mgr.Start(ctx))
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	srv := httptest.NewServer(NewRouter(mgr, zerolog.Nop(), opts))
	t.Cleanup(srv.Close)
	return &api{t: t, server: srv}
}

func (a *api) do(method, path, body string, out interface{}) int {
	a.t.Helper()
	req, err := http.NewRequest(method, a.server.URL+path, strings.NewReader(body))
	require.NoError(a.t, err)
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.server.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func csvJob(t *testing.T, name, schedule string) string {
	t.Helper()
	input := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(input, []byte("id,city\n1,Oslo\n2,Lima\n"), 0o644))
	payload := map[string]interface{}{
		"job_name":      name,
		"source_type":   "csv",
		"source_config": map[string]string{"file_path": input},
		"sink_type":     "json",
		"sink_config":   map[string]string{"directory": filepath.Join(t.TempDir(), "out")},
		"schedule":      schedule,
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return string(raw)
}

func TestJobLifecycle(t *testing.T) {
	a := newAPI(t, Options{})

	var job models.Job
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/jobs", csvJob(t, "City Export", ""), &job))
	assert.NotZero(t, job.ID)
	assert.True(t, job.Enabled)

	var errBody map[string]interface{}
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/jobs", csvJob(t, "City Export", ""), &errBody))
	assert.Equal(t, "validation", errBody["kind"])
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/jobs", csvJob(t, "bad cron", "99 * * * *"), &errBody))
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/jobs", `{"job_name":`, &errBody))

	jobPath := "/api/jobs/" + itoa(job.ID)

	var result models.ExecutionResult
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, jobPath+"/execute", "", &result))
	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.EqualValues(t, 2, *result.RecordsProcessed)

	var history []models.Execution
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, jobPath+"/history", "", &history))
	require.Len(t, history, 1)

	var detail models.JobWithLastRun
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, jobPath, "", &detail))
	assert.Equal(t, "City Export", detail.Name)
	require.NotNil(t, detail.LastRun)
	assert.Equal(t, result.ExecutionID, detail.LastRun.ID)
	assert.Equal(t, models.StatusSuccess, detail.LastRun.Status)

	var logs []models.LogEntry
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/executions/"+itoa(result.ExecutionID)+"/logs", "", &logs))
	assert.NotEmpty(t, logs)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/executions/999/logs", "", &errBody))

	var objects struct{ Objects []string }
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, jobPath+"/sink/objects", "", &objects))
	assert.Equal(t, []string{"city_export"}, objects.Objects)

	var preview struct {
		Columns []string
		Rows    [][]interface{}
	}
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, jobPath+"/sink/preview?object=city_export&limit=1", "", &preview))
	assert.Equal(t, []string{"city", "id"}, preview.Columns)
	assert.Len(t, preview.Rows, 1)

	var updated models.Job
	require.Equal(t, http.StatusOK, a.do(http.MethodPut, jobPath, `{"schedule":"0 6 * * *"}`, &updated))
	assert.Equal(t, "0 6 * * *", updated.Schedule)

	var scheduled []models.ScheduledJob
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/scheduler/jobs", "", &scheduled))
	require.Len(t, scheduled, 1)
	assert.Equal(t, job.ID, scheduled[0].JobID)

	var withRuns []models.JobWithLastRun
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/jobs", "", &withRuns))
	require.Len(t, withRuns, 1)
	require.NotNil(t, withRuns[0].LastRun)

	assert.Equal(t, http.StatusNoContent, a.do(http.MethodDelete, jobPath, "", nil))
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, jobPath, "", &errBody))

	var all []models.Execution
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/history", "", &all))
	assert.Len(t, all, 1)
}

func TestExecuteFailureReturnsResult(t *testing.T) {
	a := newAPI(t, Options{})
	var job models.Job
	body := `{"job_name":"ghost","source_type":"nosuch","sink_type":"json","sink_config":{"directory":"` + filepath.ToSlash(t.TempDir()) + `"}}`
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/jobs", body, &job))

	var resp struct {
		Error  string
		Kind   string
		Result models.ExecutionResult
	}
	assert.Equal(t, http.StatusUnprocessableEntity, a.do(http.MethodPost, "/api/jobs/"+itoa(job.ID)+"/execute", "", &resp))
	assert.Equal(t, "configuration", resp.Kind)
	assert.Equal(t, models.StatusFailed, resp.Result.Status)
	assert.NotZero(t, resp.Result.ExecutionID)
}

func TestSchedulerEndpoints(t *testing.T) {
	a := newAPI(t, Options{})

	var status models.SchedulerStatus
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/scheduler/pause", "", &status))
	assert.True(t, status.Paused)
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/scheduler/resume", "", &status))
	assert.False(t, status.Paused)

	var health struct {
		Status    string
		Scheduler models.SchedulerStatus
	}
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/health", "", &health))
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.Scheduler.Enabled)

	var catalog struct{ Connectors []connector.Descriptor }
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/connectors", "", &catalog))
	assert.NotEmpty(t, catalog.Connectors)
}

func TestAuthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("{}")) })
	a := newAPI(t, Options{Auth: authz.Middleware("s3cret"), Metrics: metrics})

	var out interface{}
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/health", "", &out), "health stays public")
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/metrics", "", &out))

	req, err := http.NewRequest(http.MethodGet, a.server.URL+"/api/jobs", nil)
	require.NoError(t, err)
	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	a.token, err = authz.IssueToken("s3cret", "tester", time.Hour)
	require.NoError(t, err)
	var jobs []models.JobWithLastRun
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/jobs", "", &jobs))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (a *api) upload(field, filename, content string, out interface{}) int {
	a.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(a.t, err)
	_, err = part.Write([]byte(content))
	require.NoError(a.t, err)
	require.NoError(a.t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, a.server.URL+"/api/upload/file", &body)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := a.server.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestUploadFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	a := newAPI(t, Options{UploadDir: dir, UploadMaxBytes: 1 << 10})

	var saved map[string]string
	require.Equal(t, http.StatusCreated, a.upload("file", `C:\exports\sales.csv`, "id,total\n1,9.5\n", &saved))
	assert.Equal(t, "sales.csv", saved["original_filename"])
	assert.True(t, strings.HasSuffix(saved["filename"], "_sales.csv"))
	assert.Equal(t, filepath.Join(dir, saved["filename"]), saved["file_path"])

	raw, err := os.ReadFile(saved["file_path"])
	require.NoError(t, err)
	assert.Equal(t, "id,total\n1,9.5\n", string(raw))

	// the stored path is usable as a csv source
	payload, err := json.Marshal(map[string]interface{}{
		"job_name":      "uploaded",
		"source_type":   "csv",
		"source_config": map[string]string{"file_path": saved["file_path"]},
		"sink_type":     "json",
		"sink_config":   map[string]string{"directory": filepath.Join(t.TempDir(), "out")},
	})
	require.NoError(t, err)
	var job models.Job
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/jobs", string(payload), &job))
	var result models.ExecutionResult
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/jobs/"+itoa(job.ID)+"/execute", "", &result))
	assert.EqualValues(t, 1, *result.RecordsProcessed)

	var again map[string]string
	require.Equal(t, http.StatusCreated, a.upload("file", "sales.csv", "x", &again))
	assert.NotEqual(t, saved["filename"], again["filename"])

	var errBody map[string]interface{}
	assert.Equal(t, http.StatusBadRequest, a.upload("attachment", "sales.csv", "x", &errBody))
	assert.Equal(t, http.StatusBadRequest, a.upload("file", "..", "x", &errBody))
	assert.Equal(t, http.StatusRequestEntityTooLarge, a.upload("file", "big.csv", strings.Repeat("x", 4<<10), &errBody))
}

func TestUploadDisabled(t *testing.T) {
	a := newAPI(t, Options{})
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/api/upload/file", "", nil))
}
