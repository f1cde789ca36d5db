package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bnema/altq/internal/domain"
	"github.com/bnema/altq/internal/infrastructure/logger"
)

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

// writeServiceErr maps queue errors to status codes. Unknown errors are
// logged and hidden from the client.
func writeServiceErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeErr(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidEntity):
		writeErr(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error.Printf("api: %v", err)
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}
