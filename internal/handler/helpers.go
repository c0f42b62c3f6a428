package handler

import (
	"encoding/json"
	"net/http"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

// successResponse is the envelope every endpoint answers with.
type successResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeAppError maps a service error to its HTTP status and client-safe
// message. Internal details stay in the server log.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeError(w, status, apperr.Message(err))
}
