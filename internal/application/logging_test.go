package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/example/session-booking/internal/logging"
	"github.com/example/session-booking/internal/slot"
)

func TestDefaultLogger(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := defaultLogger(custom); got != custom {
		t.Fatalf("expected custom logger to be returned")
	}

	if got := defaultLogger(nil); got != slog.Default() {
		t.Fatalf("expected default logger when none provided")
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{deny(ErrQuotaExceeded, "full"), "quota_exceeded"},
		{deny(ErrWindowClosed, "closed"), "window_closed"},
		{&DeniedError{Reason: ErrFrequencyLimited}, "frequency_limited"},
		{fmt.Errorf("%w: slot was claimed by another user", ErrLockConflict), "lock_conflict"},
		{fmt.Errorf("%w: gone", ErrStaleWrite), "stale_write"},
		{&ValidationError{FieldErrors: map[string]string{"date": "bad"}}, "validation"},
		{context.Canceled, "canceled"},
		{fmt.Errorf("wrapped: %w", slot.ErrInvalidTransition), "invalid_transition"},
		{errors.New("boom"), "unexpected"},
	}
	for _, tc := range cases {
		if got := ErrorKind(tc.err); got != tc.want {
			t.Fatalf("expected %q for %v, got %q", tc.want, tc.err, got)
		}
	}
}

func TestLogOutcomeLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()

	logOutcome(ctx, logger, nil, "begin edit")
	logOutcome(ctx, logger, deny(ErrQuotaExceeded, "full"), "begin edit")
	logOutcome(ctx, logger, errors.New("disk on fire"), "begin edit")

	out := buf.String()
	for _, want := range []string{"level=INFO msg=\"begin edit\"", "level=WARN msg=\"begin edit denied\"", "level=ERROR msg=\"begin edit failed\"", "error_kind=quota_exceeded"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected log output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestServiceLoggerPrefersContextLogger(t *testing.T) {
	t.Parallel()

	var fromCtx, base bytes.Buffer
	ctxLogger := slog.New(slog.NewTextHandler(&fromCtx, nil))
	baseLogger := slog.New(slog.NewTextHandler(&base, nil))
	ctx := logging.ContextWithLogger(context.Background(), ctxLogger)

	serviceLogger(ctx, baseLogger, "SlotService", "Confirm", "slot_id", "s1").Info("hello")
	if base.Len() != 0 {
		t.Fatalf("expected base logger unused when context carries one")
	}
	if !strings.Contains(fromCtx.String(), "service=SlotService operation=Confirm slot_id=s1") {
		t.Fatalf("unexpected attributes: %s", fromCtx.String())
	}
}
