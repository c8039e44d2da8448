// Package scheduler runs periodic maintenance over the slot store.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/session-booking/internal/application"
)

// DefaultInterval is how often Sweeper reclaims expired locks when none is configured.
const DefaultInterval = 5 * time.Minute

type expirySweeper interface {
	SweepExpired(ctx context.Context) (application.SweepResult, error)
}

// Sweeper periodically reverts abandoned editing locks and lapsed operator locks.
type Sweeper struct {
	slots    expirySweeper
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper constructs a Sweeper over slots.
func NewSweeper(slots expirySweeper, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{slots: slots, interval: interval, logger: logger.With("component", "sweeper")}
}

// Run sweeps once immediately and then on every tick until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "sweeper started", "interval", s.interval)
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	result, err := s.slots.SweepExpired(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.ErrorContext(ctx, "sweep failed", "error", err, "error_kind", application.ErrorKind(err))
		return
	}
	if result.Total() > 0 {
		s.logger.DebugContext(ctx, "sweep finished", "reclaimed", result.Total())
	}
}
