package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/session-booking/internal/application"
)

var (
	errBadRequestBody       = errors.New("request body is not valid JSON")
	errInvalidSlotID        = errors.New("slot id is required")
	errMissingPrincipal     = errors.New("X-User-ID header is required")
	errStreamingUnsupported = errors.New("streaming is not supported by this connection")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	var (
		denied *application.DeniedError
		vErr   *application.ValidationError
	)
	switch {
	case errors.Is(err, application.ErrConfigUnavailable), errors.Is(err, application.ErrTransportFailure):
		message := "booking is temporarily unavailable"
		if errors.As(err, &denied) && denied.Message != "" {
			message = denied.Message
		}
		r.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{ErrorCode: errorCode(err), Message: message})
	case errors.As(err, &denied):
		resp := errorResponse{ErrorCode: errorCode(err), Message: denied.Error()}
		if denied.CooldownUntil != nil {
			resp.CooldownUntil = denied.CooldownUntil.UTC().Format(time.RFC3339)
		}
		status := http.StatusForbidden
		if errors.Is(err, application.ErrFrequencyLimited) {
			status = http.StatusTooManyRequests
		}
		r.writeJSON(ctx, w, status, resp)
	case errors.As(err, &vErr):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "VALIDATION",
			Message:   "request contains invalid fields",
			Errors:    vErr.FieldErrors,
		})
	case errors.Is(err, application.ErrLockConflict), errors.Is(err, application.ErrStaleWrite):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: errorCode(err), Message: conflictMessage(err)})
	case errors.Is(err, application.ErrUnauthorized):
		r.writeJSON(ctx, w, http.StatusForbidden, errorResponse{
			ErrorCode: "AUTH_FORBIDDEN",
			Message:   "you are not allowed to perform this operation",
		})
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Message: "the requested slot does not exist"})
	default:
		r.loggerFor(ctx).ErrorContext(ctx, "unhandled service error", "error", err, "error_kind", application.ErrorKind(err))
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: "internal server error"})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func errorCode(err error) string {
	return strings.ToUpper(application.ErrorKind(err))
}

// conflictMessage drops the sentinel prefixes so clients see the slot's own explanation.
func conflictMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{application.ErrLockConflict, application.ErrStaleWrite} {
		msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
	}
	return msg
}

type errorResponse struct {
	ErrorCode     string            `json:"error_code,omitempty"`
	Message       string            `json:"message"`
	Errors        map[string]string `json:"errors,omitempty"`
	CooldownUntil string            `json:"cooldown_until,omitempty"`
}
