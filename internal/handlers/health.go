package handlers

import (
	"net/http"

	"github.com/stanstork/datafactory/internal/models"
)

type HealthHandler struct {
	status func() models.SchedulerStatus
}

func NewHealthHandler(svc Service) *HealthHandler {
	return &HealthHandler{status: svc.SchedulerStatus}
}

// HealthCheck reports liveness plus the scheduler state.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"scheduler": h.status(),
	})
}
