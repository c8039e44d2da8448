package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/example/session-booking/internal/logging"
	"github.com/example/session-booking/internal/window"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "BOOKING_"

// Config captures environment driven configuration values for the booking service.
type Config struct {
	HTTPAddr          string        `env:"HTTP_ADDR" envDefault:":8080"`
	SQLitePath        string        `env:"SQLITE_PATH" envDefault:"booking.db"`
	SQLiteBusyTimeout time.Duration `env:"SQLITE_BUSY_TIMEOUT" envDefault:"5s"`

	Timezone         string `env:"TIMEZONE" envDefault:"Asia/Shanghai"`
	WindowMode       string `env:"WINDOW_MODE" envDefault:"daily"`
	CancelWindowMode string `env:"CANCEL_WINDOW_MODE" envDefault:"continuous"`

	EditLockDuration time.Duration `env:"EDIT_LOCK_DURATION" envDefault:"5m"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	ConfigCacheTTL   time.Duration `env:"CONFIG_CACHE_TTL" envDefault:"5m"`
	BookableWeeks    int           `env:"BOOKABLE_WEEKS" envDefault:"2"`

	FrequencyCacheTTL  time.Duration `env:"FREQUENCY_CACHE_TTL" envDefault:"10s"`
	FrequencyWait      time.Duration `env:"FREQUENCY_WAIT" envDefault:"3s"`
	RecordDedupeWindow time.Duration `env:"RECORD_DEDUPE_WINDOW" envDefault:"5s"`
	RemoteTimeout      time.Duration `env:"REMOTE_TIMEOUT" envDefault:"5s"`

	FeedRetryDelay time.Duration `env:"FEED_RETRY_DELAY" envDefault:"3s"`
	FeedMaxRetries int           `env:"FEED_MAX_RETRIES" envDefault:"5"`
	RefetchDelay   time.Duration `env:"REFETCH_DELAY" envDefault:"500ms"`

	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"json"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`

	// RegistrationSeed is an optional path to a registration document
	// installed as the active configuration at startup.
	RegistrationSeed string `env:"REGISTRATION_SEED"`

	location   *time.Location
	windowMode window.Mode
	cancelMode window.Mode
}

// Location returns the reference time zone.
func (c Config) Location() *time.Location {
	if c.location == nil {
		return window.ReferenceLocation()
	}
	return c.location
}

// AdmissionMode returns how registration windows are interpreted.
func (c Config) AdmissionMode() window.Mode {
	if c.windowMode == "" {
		return window.ModeDaily
	}
	return c.windowMode
}

// CancelMode returns how the cancellation window is interpreted.
func (c Config) CancelMode() window.Mode {
	if c.cancelMode == "" {
		return window.ModeContinuous
	}
	return c.cancelMode
}

// Load parses configuration values from the current process environment.
//
// Defaults apply to unset variables. Values that fail to parse or validate are
// collected and reported together.
func Load() (Config, error) {
	return load(env.Options{Prefix: EnvPrefix})
}

// LoadFrom parses configuration from environ instead of the process
// environment. Keys carry the BOOKING_ prefix.
func LoadFrom(environ map[string]string) (Config, error) {
	return load(env.Options{Prefix: EnvPrefix, Environment: environ})
}

func load(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}

	invalid := make([]string, 0, 4)
	fail := func(key string) { invalid = append(invalid, EnvPrefix+key) }

	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		fail("HTTP_ADDR")
	}
	if strings.TrimSpace(cfg.SQLitePath) == "" {
		fail("SQLITE_PATH")
	}
	if cfg.SQLiteBusyTimeout < 0 {
		fail("SQLITE_BUSY_TIMEOUT")
	}

	if loc, err := resolveLocation(cfg.Timezone); err != nil {
		fail("TIMEZONE")
	} else {
		cfg.location = loc
	}
	if mode, err := window.ParseMode(cfg.WindowMode); err != nil {
		fail("WINDOW_MODE")
	} else {
		cfg.windowMode = mode
	}
	if mode, err := window.ParseMode(cfg.CancelWindowMode); err != nil {
		fail("CANCEL_WINDOW_MODE")
	} else {
		cfg.cancelMode = mode
	}

	positive := []struct {
		key   string
		value time.Duration
	}{
		{"EDIT_LOCK_DURATION", cfg.EditLockDuration},
		{"SWEEP_INTERVAL", cfg.SweepInterval},
		{"CONFIG_CACHE_TTL", cfg.ConfigCacheTTL},
		{"FREQUENCY_CACHE_TTL", cfg.FrequencyCacheTTL},
		{"FREQUENCY_WAIT", cfg.FrequencyWait},
		{"RECORD_DEDUPE_WINDOW", cfg.RecordDedupeWindow},
		{"REMOTE_TIMEOUT", cfg.RemoteTimeout},
		{"FEED_RETRY_DELAY", cfg.FeedRetryDelay},
		{"REFETCH_DELAY", cfg.RefetchDelay},
	}
	for _, p := range positive {
		if p.value <= 0 {
			fail(p.key)
		}
	}
	if cfg.BookableWeeks < 1 {
		fail("BOOKABLE_WEEKS")
	}
	if cfg.FeedMaxRetries < 1 {
		fail("FEED_MAX_RETRIES")
	}

	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		fail("LOG_LEVEL")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "json", "text":
	default:
		fail("LOG_FORMAT")
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("config: invalid environment values: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}

func resolveLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "Asia/Shanghai" {
		return window.ReferenceLocation(), nil
	}
	return time.LoadLocation(name)
}
