package handlers

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/models"
)

const defaultHistoryLimit = 100

type ExecutionHandler struct {
	svc    Service
	logger zerolog.Logger
}

func NewExecutionHandler(svc Service, logger zerolog.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		svc:    svc,
		logger: logger.With().Str("handler", "execution").Logger(),
	}
}

func (h *ExecutionHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.svc.GetHistory(r.Context(), models.HistoryFilter{Limit: queryLimit(r, defaultHistoryLimit)})
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	executionID, err := pathID(r, "executionID")
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	exec, err := h.svc.GetExecution(r.Context(), executionID)
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *ExecutionHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	executionID, err := pathID(r, "executionID")
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	logs, err := h.svc.GetLogs(r.Context(), executionID)
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
