package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/apperrors"
)

type errorResponse struct {
	Error  string      `json:"error"`
	Kind   string      `json:"kind,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindConflict, apperrors.KindState:
		return http.StatusConflict
	case apperrors.KindConfiguration:
		return http.StatusUnprocessableEntity
	case apperrors.KindConnector:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as JSON. Errors without a kind are logged and
// reported without detail. result, when non-nil, is included in the body.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error, result interface{}) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
		writeJSON(w, status, errorResponse{Error: "Internal server error", Result: result})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(apperrors.KindOf(err)), Result: result})
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(mux.Vars(r)[name])
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Validationf("invalid %s %q", name, raw)
	}
	return id, nil
}

// queryLimit reads ?limit=, falling back to def when absent or not positive.
func queryLimit(r *http.Request, def int) int {
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Validationf("invalid request payload: %v", err)
	}
	return nil
}
