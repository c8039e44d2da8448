package sqlite

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/session-booking/internal/persistence"
	"github.com/example/session-booking/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Options tunes Storage. Zero values select the defaults.
type Options struct {
	// Now stamps rows whose timestamps are unset. Defaults to time.Now.
	Now func() time.Time
	// NewID generates primary keys. Defaults to random UUIDs.
	NewID func() string
	// FeedBuffer bounds undelivered changes per change feed subscriber.
	FeedBuffer int
	Retry      RetryConfig
	Logger     *slog.Logger
}

// Storage is the SQLite persistence layer. It owns the connection pool and the
// in-process change feed shared by its repositories.
type Storage struct {
	pool   *ConnectionPool
	logger *slog.Logger
	feed   *changeFeed

	slots     *SlotRepository
	configs   *RegistrationConfigRepository
	frequency *FrequencyRepository
}

// Open connects to the database described by config. Call Migrate before use.
func Open(config migration.SQLiteConfig, opts Options) (*Storage, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialDelay == 0 {
		opts.Retry = DefaultRetryConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}
	s := &Storage{
		pool:   pool,
		logger: opts.Logger.With("component", "sqlite"),
		feed:   newChangeFeed(opts.FeedBuffer),
	}
	base := repository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(opts.Retry),
		now:    opts.Now,
		newID:  opts.NewID,
	}
	s.slots = &SlotRepository{repository: base, feed: s.feed}
	s.configs = &RegistrationConfigRepository{repository: base}
	s.frequency = &FrequencyRepository{repository: base}
	return s, nil
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	manager := migration.NewManager(
		migration.NewScanner(migrationFiles, "migrations"),
		migration.NewExecutor(s.pool.DB()),
		s.logger,
	)
	if _, err := manager.Run(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Close terminates change feed subscriptions and closes the database.
func (s *Storage) Close() error {
	s.feed.close()
	return s.pool.Close()
}

// Ping checks the database connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Slots returns the slot repository.
func (s *Storage) Slots() *SlotRepository { return s.slots }

// RegistrationConfigs returns the registration config repository.
func (s *Storage) RegistrationConfigs() *RegistrationConfigRepository { return s.configs }

// Frequency returns the frequency repository.
func (s *Storage) Frequency() *FrequencyRepository { return s.frequency }

// SubscribeSlotChanges opens a change feed subscription. Only changes committed
// after the call are delivered.
func (s *Storage) SubscribeSlotChanges(ctx context.Context) (persistence.SlotChangeSubscription, error) {
	return s.feed.subscribe(ctx)
}

var _ persistence.SlotChangeFeed = (*Storage)(nil)

// repository holds what every repository shares.
type repository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
	retry  *RetryHelper
	now    func() time.Time
	newID  func() string
}
