package handlers

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/authz"
	"github.com/stanstork/datafactory/internal/models"
)

const defaultJobHistoryLimit = 50

type JobHandler struct {
	svc    Service
	logger zerolog.Logger
}

func NewJobHandler(svc Service, logger zerolog.Logger) *JobHandler {
	return &JobHandler{
		svc:    svc,
		logger: logger.With().Str("handler", "job").Logger(),
	}
}

func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var in models.JobInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	job, err := h.svc.CreateJob(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.svc.ListJobsWithLastRun(r.Context())
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	job, err := h.svc.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	var patch models.JobPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	job, err := h.svc.UpdateJob(r.Context(), jobID, patch)
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	if err := h.svc.DeleteJob(r.Context(), jobID); err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	h.audit(r, "delete", jobID)
	w.WriteHeader(http.StatusNoContent)
}

// RunJob executes the job synchronously. A run that started but failed is
// reported with its execution record alongside the error.
func (h *JobHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	h.audit(r, "execute", jobID)
	result, err := h.svc.ExecuteJob(r.Context(), jobID)
	if err != nil {
		if result != nil {
			writeError(w, h.logger, err, result)
			return
		}
		writeError(w, h.logger, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *JobHandler) JobHistory(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	history, err := h.svc.GetHistory(r.Context(), models.HistoryFilter{
		JobID: &jobID,
		Limit: queryLimit(r, defaultJobHistoryLimit),
	})
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *JobHandler) SinkObjects(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	objects, err := h.svc.SinkObjects(r.Context(), jobID)
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	if objects == nil {
		objects = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"objects": objects})
}

func (h *JobHandler) SinkPreview(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	object := strings.TrimSpace(r.URL.Query().Get("object"))
	ds, err := h.svc.SinkPreview(r.Context(), jobID, object, queryLimit(r, 0))
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"object":  object,
		"columns": ds.Columns,
		"rows":    ds.Rows,
	})
}

// audit records who triggered a destructive or long-running action, when
// the request is authenticated.
func (h *JobHandler) audit(r *http.Request, action string, jobID int64) {
	ev := h.logger.Info().Str("action", action).Int64("job_id", jobID)
	if subject, ok := authz.SubjectFromRequest(r); ok {
		ev = ev.Str("subject", subject)
	}
	ev.Msg("Job action requested")
}
