package handlers

import "net/http"

type ConnectorHandler struct {
	svc Service
}

func NewConnectorHandler(svc Service) *ConnectorHandler {
	return &ConnectorHandler{svc: svc}
}

// List returns the connector catalog with example configurations.
func (h *ConnectorHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"connectors": h.svc.Connectors()})
}
