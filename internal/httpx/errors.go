package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"bookpipeline/internal/apperr"
)

// StatusFor maps an error from the pipeline core to an HTTP status and an
// error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, apperr.ErrInvalidArgument):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, apperr.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, apperr.ErrOperationInProgress):
		return http.StatusConflict, "OPERATION_IN_PROGRESS"
	case errors.Is(err, apperr.ErrResumeNotSupported):
		return http.StatusUnprocessableEntity, "RESUME_NOT_SUPPORTED"
	case errors.Is(err, apperr.ErrExecutorUnreachable):
		return http.StatusBadGateway, "EXECUTOR_UNREACHABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// WriteError writes err as an error envelope. Unexpected errors are logged
// and hidden behind a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "request_id", RequestIDFrom(r), "path", r.URL.Path, "error", err)
		message = "Internal server error"
	}
	JSONError(w, r, status, code, message, nil)
}
