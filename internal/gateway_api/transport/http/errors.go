package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	instancedomain "github.com/f22labs/whatsapp-api/internal/instance_service/domain"
	"github.com/f22labs/whatsapp-api/internal/scheduler_service/domain"
)

func writeJSON(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.ErrorContext(ctx, "Failed to encode response", "error", err)
	}
}

func jsonError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, message string, statusCode int) {
	logger.WarnContext(ctx, "API Error Response", "status_code", statusCode, "message", message)
	writeJSON(ctx, w, logger, statusCode, GenericErrorResponse{Error: message})
}

// writeDomainError maps service sentinels to HTTP status codes.
func writeDomainError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error, operation string) {
	var (
		status  int
		message string
	)
	switch {
	case errors.Is(err, instancedomain.ErrNotFound), errors.Is(err, domain.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrQuotaExceeded):
		status, message = http.StatusForbidden, "Limit exceeded"
	case errors.Is(err, domain.ErrQuotaNotProvisioned):
		status, message = http.StatusForbidden, err.Error()
	case errors.Is(err, instancedomain.ErrInvalidName),
		errors.Is(err, domain.ErrHorizonExceeded),
		errors.Is(err, domain.ErrScheduleInPast):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, instancedomain.ErrAlreadyExists), errors.Is(err, domain.ErrPreconditionFailed):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, instancedomain.ErrNotConnected), errors.Is(err, instancedomain.ErrBackendUnavailable):
		status, message = http.StatusServiceUnavailable, err.Error()
	default:
		logger.ErrorContext(ctx, "Unhandled service error", "operation", operation, "error", err)
		status, message = http.StatusInternalServerError, "Internal server error"
	}
	jsonError(ctx, w, logger.With("operation", operation), message, status)
}
