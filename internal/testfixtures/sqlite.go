package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/session-booking/internal/persistence"
	"github.com/example/session-booking/internal/persistence/sqlite"
	"github.com/example/session-booking/internal/persistence/sqlite/migration"
)

// SQLiteHarness provides repository access backed by a temporary SQLite storage
// instance for integration-style persistence tests.
type SQLiteHarness struct {
	Storage   *sqlite.Storage
	Slots     persistence.SlotRepository
	Configs   persistence.RegistrationConfigRepository
	Frequency persistence.FrequencyRepository
	Feed      persistence.SlotChangeFeed
	Clock     *Clock

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness constructs a SQLiteHarness using a temporary file that is
// migrated automatically. Rows are stamped with clock, or a fresh reference
// clock when nil. Callers may optionally invoke Close, but the helper will also
// register a cleanup callback with the provided testing.TB.
func NewSQLiteHarness(tb testing.TB, clock *Clock) *SQLiteHarness {
	tb.Helper()

	if clock == nil {
		clock = NewClock(ReferenceTime())
	}
	path := filepath.Join(tb.TempDir(), "booking.db")

	storage, err := sqlite.Open(migration.DefaultSQLiteConfig(path), sqlite.Options{
		Now:   clock.NowFunc(),
		NewID: NewIDGenerator("slot").NextFunc(),
	})
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	if err := storage.Migrate(context.Background()); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Storage:   storage,
		Slots:     storage.Slots(),
		Configs:   storage.RegistrationConfigs(),
		Frequency: storage.Frequency(),
		Feed:      storage,
		Clock:     clock,
		cleanup: func() {
			_ = storage.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}
