package application

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/example/session-booking/internal/logging"
	"github.com/example/session-booking/internal/slot"
)

var tracer = otel.Tracer("github.com/example/session-booking/internal/application")

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// logOutcome writes the closing log line of a service operation. Denials and
// lock conflicts are expected user-facing outcomes and log at warn.
func logOutcome(ctx context.Context, logger *slog.Logger, err error, msg string, attrs ...any) {
	if err == nil {
		logger.InfoContext(ctx, msg, attrs...)
		return
	}
	attrs = append(attrs, "error", err, "error_kind", ErrorKind(err))
	if isExpected(err) {
		logger.WarnContext(ctx, msg+" denied", attrs...)
		return
	}
	logger.ErrorContext(ctx, msg+" failed", attrs...)
}

func isExpected(err error) bool {
	var denied *DeniedError
	var vErr *ValidationError
	return errors.As(err, &denied) ||
		errors.As(err, &vErr) ||
		errors.Is(err, ErrLockConflict) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrStaleWrite)
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrConfigUnavailable):
		return "config_unavailable"
	case errors.Is(err, ErrWindowClosed):
		return "window_closed"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrFrequencyLimited):
		return "frequency_limited"
	case errors.Is(err, ErrDateOutOfRange):
		return "date_out_of_range"
	case errors.Is(err, ErrLockConflict):
		return "lock_conflict"
	case errors.Is(err, ErrStaleWrite):
		return "stale_write"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrDisconnected):
		return "disconnected"
	case errors.Is(err, ErrTransportFailure):
		return "transport_failure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}
	if errors.Is(err, slot.ErrInvalidTransition) {
		return "invalid_transition"
	}

	return "unexpected"
}
