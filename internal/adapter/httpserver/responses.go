// Package httpserver contains the REST handlers, authentication and
// middleware of the front-end. It keeps HTTP concerns out of the workflow
// layer; handlers translate between JSON and usecase calls.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/vidforge/vidforge/internal/adapter/observability"
	"github.com/vidforge/vidforge/internal/domain"
)

// apiError is the uniform error payload. Details are only populated outside
// production.
type apiError struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId"`
	Details   any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the domain error taxonomy onto HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, domain.ErrExternal):
		return http.StatusBadGateway, "external_service"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, details any) {
	status, code := statusFor(err)
	body := apiError{
		Error:     code,
		Message:   err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: observability.RequestIDFromContext(r.Context()),
	}
	if !s.cfg.IsProd() {
		body.Details = details
	}
	lg := LoggerFrom(r)
	if status >= 500 {
		lg.Error("request failed",
			"status", status,
			"code", code,
			"error", err,
			"path", r.URL.Path)
	} else {
		lg.Warn("request rejected",
			"status", status,
			"code", code,
			"error", err,
			"path", r.URL.Path)
	}
	writeJSON(w, status, body)
}
