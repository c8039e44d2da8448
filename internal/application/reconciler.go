package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// SubscriptionState is the change feed connection state.
type SubscriptionState string

const (
	StateConnecting   SubscriptionState = "connecting"
	StateSubscribed   SubscriptionState = "subscribed"
	StateErrored      SubscriptionState = "errored"
	StateRetrying     SubscriptionState = "retrying"
	StateDisconnected SubscriptionState = "disconnected"
)

// ReconcilerOptions tunes Reconciler. Zero values select a 3 s delay and 5 retries.
type ReconcilerOptions struct {
	RetryDelay time.Duration
	MaxRetries int
	// Refresh, when set, runs after every successful (re)subscription so
	// events missed while disconnected are recovered.
	Refresh func(ctx context.Context) error
}

// Reconciler applies change feed events to a WeekView and keeps the
// subscription alive with a bounded fixed-delay retry policy.
type Reconciler struct {
	feed   ChangeFeed
	view   *WeekView
	opts   ReconcilerOptions
	logger *slog.Logger

	mu        sync.Mutex
	state     SubscriptionState
	observers map[int]func(SubscriptionState)
	nextObs   int
}

// NewReconciler constructs a Reconciler over feed and view.
func NewReconciler(feed ChangeFeed, view *WeekView, opts ReconcilerOptions, logger *slog.Logger) *Reconciler {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 3 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	return &Reconciler{
		feed:      feed,
		view:      view,
		opts:      opts,
		logger:    defaultLogger(logger),
		state:     StateConnecting,
		observers: make(map[int]func(SubscriptionState)),
	}
}

// State returns the current subscription state.
func (r *Reconciler) State() SubscriptionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OnStateChange registers fn for state transitions and returns its cancel function.
func (r *Reconciler) OnStateChange(fn func(SubscriptionState)) func() {
	r.mu.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

func (r *Reconciler) setState(state SubscriptionState) {
	r.mu.Lock()
	if r.state == state {
		r.mu.Unlock()
		return
	}
	r.state = state
	observers := make([]func(SubscriptionState), 0, len(r.observers))
	for _, fn := range r.observers {
		observers = append(observers, fn)
	}
	r.mu.Unlock()
	for _, fn := range observers {
		fn(state)
	}
}

// Run consumes the feed until ctx ends or reconnection fails. It returns nil
// on cancellation and an error wrapping ErrDisconnected when retries run out.
func (r *Reconciler) Run(ctx context.Context) error {
	logger := serviceLogger(ctx, r.logger, "Reconciler", "Run")
	for {
		stream, err := r.connect(ctx, logger)
		if err != nil {
			r.setState(StateDisconnected)
			if ctx.Err() != nil {
				return nil
			}
			logger.ErrorContext(ctx, "change feed disconnected", "error", err, "max_retries", r.opts.MaxRetries)
			return fmt.Errorf("%w: %w", ErrDisconnected, err)
		}

		r.setState(StateSubscribed)
		logger.InfoContext(ctx, "change feed subscribed")
		if r.opts.Refresh != nil {
			if err := r.opts.Refresh(ctx); err != nil {
				logger.WarnContext(ctx, "refetch after subscribe failed", "error", err)
			}
		}

		err = r.consume(ctx, stream)
		_ = stream.Close()
		if ctx.Err() != nil {
			r.setState(StateDisconnected)
			return nil
		}
		r.setState(StateErrored)
		logger.WarnContext(ctx, "change feed stream failed", "error", err)

		select {
		case <-ctx.Done():
			r.setState(StateDisconnected)
			return nil
		case <-time.After(r.opts.RetryDelay):
		}
	}
}

func (r *Reconciler) connect(ctx context.Context, logger *slog.Logger) (ChangeStream, error) {
	attempt := 0
	operation := func() (ChangeStream, error) {
		if attempt == 0 {
			r.setState(StateConnecting)
		} else {
			r.setState(StateRetrying)
		}
		attempt++
		return r.feed.Subscribe(ctx)
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.opts.RetryDelay)),
		backoff.WithMaxTries(uint(r.opts.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.setState(StateErrored)
			logger.WarnContext(ctx, "change feed subscribe failed", "error", err, "attempt", attempt, "retry_in", next)
		}),
	)
}

func (r *Reconciler) consume(ctx context.Context, stream ChangeStream) error {
	for {
		change, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		r.view.ApplyRemote(change)
	}
}

// IsDisconnected reports whether err ends a Run because retries ran out.
func IsDisconnected(err error) bool {
	return errors.Is(err, ErrDisconnected)
}
