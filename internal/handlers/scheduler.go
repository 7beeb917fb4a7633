package handlers

import (
	"net/http"

	"github.com/rs/zerolog"
)

type SchedulerHandler struct {
	svc    Service
	logger zerolog.Logger
}

func NewSchedulerHandler(svc Service, logger zerolog.Logger) *SchedulerHandler {
	return &SchedulerHandler{
		svc:    svc,
		logger: logger.With().Str("handler", "scheduler").Logger(),
	}
}

func (h *SchedulerHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ListScheduled())
}

func (h *SchedulerHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.PauseScheduler(); err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	h.logger.Info().Msg("scheduler paused via API")
	writeJSON(w, http.StatusOK, h.svc.SchedulerStatus())
}

func (h *SchedulerHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResumeScheduler(); err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	h.logger.Info().Msg("scheduler resumed via API")
	writeJSON(w, http.StatusOK, h.svc.SchedulerStatus())
}
