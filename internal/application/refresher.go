package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/session-booking/internal/slot"
)

// DefaultRefetchDelay is how long after a local mutation the authoritative refetch runs.
const DefaultRefetchDelay = 500 * time.Millisecond

// WeekLoader reads the authoritative slots of a date range.
type WeekLoader interface {
	ListSlots(ctx context.Context, from, to slot.Date) ([]slot.Slot, error)
}

// Refresher reconciles a WeekView with the store. Scheduled refetches are
// coalesced and stop when the context passed to NewRefresher ends.
type Refresher struct {
	ctx    context.Context
	view   *WeekView
	loader WeekLoader
	delay  time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewRefresher constructs a Refresher bound to ctx.
func NewRefresher(ctx context.Context, view *WeekView, loader WeekLoader, delay time.Duration, logger *slog.Logger) *Refresher {
	if delay <= 0 {
		delay = DefaultRefetchDelay
	}
	r := &Refresher{ctx: ctx, view: view, loader: loader, delay: delay, logger: defaultLogger(logger)}
	context.AfterFunc(ctx, r.Stop)
	return r
}

// Refresh reads the view's range now and replaces its confirmed state.
func (r *Refresher) Refresh(ctx context.Context) error {
	mark := r.view.Mark()
	from, to := r.view.Range()
	slots, err := r.loader.ListSlots(ctx, from, to)
	if err != nil {
		return err
	}
	r.view.ReplaceConfirmed(slots, mark)
	return nil
}

// Schedule arranges a refetch after the configured delay, replacing any
// refetch already scheduled.
func (r *Refresher) Schedule() {
	if r.ctx.Err() != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.delay, func() {
		if r.ctx.Err() != nil {
			return
		}
		if err := r.Refresh(r.ctx); err != nil {
			serviceLogger(r.ctx, r.logger, "Refresher", "Refresh").WarnContext(r.ctx, "authoritative refetch failed", "error", err, "error_kind", ErrorKind(err))
		}
	})
}

// Stop cancels a pending scheduled refetch.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
