package application

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultConfigTTL is how long a fetched registration config is reused.
const DefaultConfigTTL = 5 * time.Minute

// ConfigCache memoizes the active registration config for a fixed lifetime.
// Fetch failures are not cached; callers see no config and deny.
type ConfigCache struct {
	source ConfigSource
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	cached    *RegistrationConfig
	fetchedAt time.Time
}

// NewConfigCache constructs a cache over source.
func NewConfigCache(source ConfigSource, ttl time.Duration, now func() time.Time, logger *slog.Logger) *ConfigCache {
	if ttl <= 0 {
		ttl = DefaultConfigTTL
	}
	if now == nil {
		now = time.Now
	}
	return &ConfigCache{source: source, ttl: ttl, now: now, logger: defaultLogger(logger)}
}

// Get returns the cached config, refetching when it is older than the TTL.
// It returns nil when no usable config exists or the source failed.
func (c *ConfigCache) Get(ctx context.Context) *RegistrationConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.cached != nil && now.Sub(c.fetchedAt) < c.ttl {
		return c.cached
	}
	if c.source == nil {
		return nil
	}

	cfg, err := c.source.ActiveRegistrationConfig(ctx)
	if err != nil {
		serviceLogger(ctx, c.logger, "ConfigCache", "Get").WarnContext(ctx, "registration config fetch failed", "error", err, "error_kind", ErrorKind(err))
		return nil
	}
	if !cfg.Usable() {
		c.cached = nil
		return nil
	}
	c.cached = cfg
	c.fetchedAt = now
	return cfg
}

// Clear drops the cached config so the next Get refetches.
func (c *ConfigCache) Clear() {
	c.mu.Lock()
	c.cached = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}
