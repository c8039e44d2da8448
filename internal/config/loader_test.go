package config

import (
	"strings"
	"testing"
	"time"

	"github.com/example/session-booking/internal/window"
)

func TestLoader_ParseEnvironment(t *testing.T) {

	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		cfg, err := LoadFrom(map[string]string{})
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPAddr != ":8080" {
			t.Fatalf("expected default HTTP addr :8080, got %q", cfg.HTTPAddr)
		}
		if cfg.SQLitePath != "booking.db" {
			t.Fatalf("unexpected default SQLite path: %q", cfg.SQLitePath)
		}
		if cfg.EditLockDuration != 5*time.Minute || cfg.SweepInterval != 5*time.Minute {
			t.Fatalf("unexpected lock/sweep defaults: %s/%s", cfg.EditLockDuration, cfg.SweepInterval)
		}
		if cfg.FrequencyCacheTTL != 10*time.Second || cfg.FrequencyWait != 3*time.Second || cfg.RecordDedupeWindow != 5*time.Second {
			t.Fatalf("unexpected throttle defaults: %+v", cfg)
		}
		if cfg.FeedRetryDelay != 3*time.Second || cfg.FeedMaxRetries != 5 || cfg.RefetchDelay != 500*time.Millisecond {
			t.Fatalf("unexpected feed defaults: %+v", cfg)
		}
		if cfg.BookableWeeks != 2 {
			t.Fatalf("expected 2 bookable weeks, got %d", cfg.BookableWeeks)
		}
		if cfg.AdmissionMode() != window.ModeDaily || cfg.CancelMode() != window.ModeContinuous {
			t.Fatalf("unexpected modes: %s/%s", cfg.AdmissionMode(), cfg.CancelMode())
		}
		if _, offset := time.Date(2024, 3, 4, 0, 0, 0, 0, cfg.Location()).Zone(); offset != 8*60*60 {
			t.Fatalf("expected UTC+8 reference zone, got offset %d", offset)
		}
		if cfg.OTelEndpoint != "" || cfg.RegistrationSeed != "" {
			t.Fatalf("expected optional values empty")
		}
	})

	t.Run("parses duration and numeric fields", func(t *testing.T) {
		cfg, err := LoadFrom(map[string]string{
			"BOOKING_HTTP_ADDR":          "127.0.0.1:9090",
			"BOOKING_EDIT_LOCK_DURATION": "90s",
			"BOOKING_BOOKABLE_WEEKS":     "3",
			"BOOKING_WINDOW_MODE":        "Continuous",
			"BOOKING_TIMEZONE":           "UTC",
			"BOOKING_LOG_FORMAT":         "text",
		})
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPAddr != "127.0.0.1:9090" {
			t.Fatalf("unexpected addr: %q", cfg.HTTPAddr)
		}
		if cfg.EditLockDuration != 90*time.Second {
			t.Fatalf("expected 90s lock, got %s", cfg.EditLockDuration)
		}
		if cfg.BookableWeeks != 3 {
			t.Fatalf("expected 3 weeks, got %d", cfg.BookableWeeks)
		}
		if cfg.AdmissionMode() != window.ModeContinuous {
			t.Fatalf("expected continuous mode, got %s", cfg.AdmissionMode())
		}
		if cfg.Location() != time.UTC {
			t.Fatalf("expected UTC location, got %v", cfg.Location())
		}
	})

	t.Run("reads the process environment", func(t *testing.T) {
		t.Setenv("BOOKING_SQLITE_PATH", "/tmp/booking-test.db")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.SQLitePath != "/tmp/booking-test.db" {
			t.Fatalf("unexpected path: %q", cfg.SQLitePath)
		}
	})

	t.Run("collects invalid values", func(t *testing.T) {
		_, err := LoadFrom(map[string]string{
			"BOOKING_WINDOW_MODE":      "weekly",
			"BOOKING_SWEEP_INTERVAL":   "0s",
			"BOOKING_FEED_MAX_RETRIES": "0",
			"BOOKING_LOG_LEVEL":        "chatty",
		})
		if err == nil {
			t.Fatalf("expected error for invalid values")
		}
		for _, key := range []string{"BOOKING_WINDOW_MODE", "BOOKING_SWEEP_INTERVAL", "BOOKING_FEED_MAX_RETRIES", "BOOKING_LOG_LEVEL"} {
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("expected %s in error, got %q", key, err.Error())
			}
		}
	})

	t.Run("reports unparsable values", func(t *testing.T) {
		if _, err := LoadFrom(map[string]string{"BOOKING_EDIT_LOCK_DURATION": "soon"}); err == nil {
			t.Fatalf("expected parse error")
		}
	})
}
