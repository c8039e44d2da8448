package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestContextWithLogger(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := ContextWithLogger(context.Background(), logger)
	if got := FromContext(ctx); got != logger {
		t.Fatalf("expected logger from context")
	}
	if got := FromContext(context.Background()); got != nil {
		t.Fatalf("expected nil without logger, got %v", got)
	}
	if got := ContextWithLogger(ctx, nil); got != ctx {
		t.Fatalf("expected nil logger to leave context unchanged")
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json handler honours level", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		logger, err := New("warn", "json", &buf)
		if err != nil {
			t.Fatalf("New returned error: %v", err)
		}
		logger.Info("dropped")
		logger.Warn("kept", "slot_id", "s1")

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 1 {
			t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
			t.Fatalf("expected JSON output, got %q", lines[0])
		}
		if entry["msg"] != "kept" || entry["slot_id"] != "s1" {
			t.Fatalf("unexpected entry: %v", entry)
		}
	})

	t.Run("text handler", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		logger, err := New("debug", "text", &buf)
		if err != nil {
			t.Fatalf("New returned error: %v", err)
		}
		logger.Debug("hello")
		if !strings.Contains(buf.String(), "level=DEBUG msg=hello") {
			t.Fatalf("unexpected output %q", buf.String())
		}
	})

	t.Run("rejects unknown values", func(t *testing.T) {
		t.Parallel()
		if _, err := New("loud", "json", &bytes.Buffer{}); err == nil {
			t.Fatalf("expected error for level")
		}
		if _, err := New("info", "xml", &bytes.Buffer{}); err == nil {
			t.Fatalf("expected error for format")
		}
	})
}
