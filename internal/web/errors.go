package web

// errors.go maps failures to JSON error bodies. The technical error is
// logged with the request ID; clients get a stable code and a short message.

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/pricesync/internal/core"
	"github.com/JonMunkholm/pricesync/internal/logging"
)

var (
	errRateLimited = errors.New("rate limit exceeded")
	errRunNotFound = errors.New("run not found")
	errBadRequest  = errors.New("malformed request body")
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func errorCode(err error) (code, message string) {
	switch {
	case errors.Is(err, core.ErrTooManyRuns):
		return "RUN_IN_PROGRESS", "A reconciliation run is already in progress. Try again when it finishes."
	case errors.Is(err, errRunNotFound):
		return "RUN_NOT_FOUND", "No run with that id is in the recent history."
	case errors.Is(err, errRateLimited):
		return "RATE_LIMITED", "Too many requests. Slow down and retry."
	case errors.Is(err, errBadRequest):
		return "BAD_REQUEST", "The request body is not valid JSON."
	default:
		return "INTERNAL", "The server could not complete the request."
	}
}

// respondError logs err and writes its mapped ErrorResponse.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	code, message := errorCode(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	requestLogger(r).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", code,
		"error", err.Error(),
	)

	writeJSON(w, r, status, ErrorResponse{
		Error:   err.Error(),
		Message: message,
		Code:    code,
	})
}

// requestLogger is the context logger with the client address attached.
func requestLogger(r *http.Request) *slog.Logger {
	return logging.WithFields(r.Context(), "ip", clientIP(r))
}
