package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sells-group/jobstore/internal/resilience"
	"github.com/sells-group/jobstore/internal/store"
)

// apiError is the body of every non-2xx response.
type apiError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	var e apiError
	e.Error.Code = code
	e.Error.Message = message
	e.Error.RequestID = middleware.GetReqID(r.Context())
	writeJSON(w, status, e)
}

// writeStoreError maps store and taxonomy errors onto statuses. Raw error
// text is logged, never returned.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, store.ErrUnknownField):
		writeError(w, r, http.StatusBadRequest, "unknown_field", store.ErrUnknownField.Error())
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, "invalid_transition", "status change not allowed")
	case errors.Is(err, store.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict", store.ErrConflict.Error())
	case resilience.IsValidation(err):
		writeError(w, r, http.StatusBadRequest, "validation", err.Error())
	case resilience.IsTransient(err):
		zap.L().Warn("transient store failure", zap.String("path", r.URL.Path), zap.Error(err))
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, "transient", resilience.KindTransient.Label())
	default:
		zap.L().Error("store failure", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal", resilience.KindFatal.Label())
	}
}
