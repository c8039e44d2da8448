package application

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"
)

// ThrottleOptions tunes FrequencyThrottle. Zero values select the defaults.
type ThrottleOptions struct {
	ResultTTL     time.Duration
	InFlightWait  time.Duration
	DedupeWindow  time.Duration
	RemoteTimeout time.Duration
	MaxEntries    int
}

func (o ThrottleOptions) withDefaults() ThrottleOptions {
	if o.ResultTTL <= 0 {
		o.ResultTTL = 10 * time.Second
	}
	if o.InFlightWait <= 0 {
		o.InFlightWait = 3 * time.Second
	}
	if o.DedupeWindow <= 0 {
		o.DedupeWindow = 5 * time.Second
	}
	if o.RemoteTimeout <= 0 {
		o.RemoteTimeout = 5 * time.Second
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = 4096
	}
	return o
}

type cachedResult struct {
	result    FrequencyResult
	checkedAt time.Time
}

// FrequencyThrottle fronts the authoritative frequency remote with a short
// result cache, in-flight coalescing and duplicate-write suppression.
// Freshness is judged on the injected clock; the LRU TTLs only bound memory.
type FrequencyThrottle struct {
	remote FrequencyRemote
	opts   ThrottleOptions
	now    func() time.Time
	logger *slog.Logger

	results  *expirable.LRU[string, cachedResult]
	recorded *expirable.LRU[string, time.Time]
	group    singleflight.Group
	recordMu sync.Mutex
	pending  sync.WaitGroup
	calls    atomic.Int64
}

// NewFrequencyThrottle constructs a throttle over remote.
func NewFrequencyThrottle(remote FrequencyRemote, opts ThrottleOptions, now func() time.Time) *FrequencyThrottle {
	return NewFrequencyThrottleWithLogger(remote, opts, now, nil)
}

// NewFrequencyThrottleWithLogger constructs a throttle with a logger.
func NewFrequencyThrottleWithLogger(remote FrequencyRemote, opts ThrottleOptions, now func() time.Time, logger *slog.Logger) *FrequencyThrottle {
	opts = opts.withDefaults()
	if now == nil {
		now = time.Now
	}
	return &FrequencyThrottle{
		remote:   remote,
		opts:     opts,
		now:      now,
		logger:   defaultLogger(logger),
		results:  expirable.NewLRU[string, cachedResult](opts.MaxEntries, nil, 6*opts.ResultTTL),
		recorded: expirable.NewLRU[string, time.Time](opts.MaxEntries, nil, 12*opts.DedupeWindow),
	}
}

func checkKey(userID, operationType string) string {
	return userID + "\x00" + operationType
}

func (t *FrequencyThrottle) fresh(key string) (FrequencyResult, bool) {
	entry, ok := t.results.Get(key)
	if !ok || t.now().Sub(entry.checkedAt) >= t.opts.ResultTTL {
		return FrequencyResult{}, false
	}
	return entry.result, true
}

// Check reports whether userID may perform operationType now. Remote failures
// allow the action.
func (t *FrequencyThrottle) Check(ctx context.Context, userID, operationType string) FrequencyResult {
	if userID == "" {
		return FrequencyResult{Allowed: true}
	}
	key := checkKey(userID, operationType)
	if result, ok := t.fresh(key); ok {
		return result
	}

	var leader atomic.Bool
	ch := t.group.DoChan(key, func() (any, error) {
		leader.Store(true)
		if result, ok := t.fresh(key); ok {
			return result, nil
		}
		return t.fetch(ctx, userID, operationType), nil
	})

	timer := time.NewTimer(t.opts.InFlightWait)
	defer timer.Stop()
	for {
		select {
		case res := <-ch:
			return res.Val.(FrequencyResult)
		case <-timer.C:
			if leader.Load() {
				continue
			}
			serviceLogger(ctx, t.logger, "FrequencyThrottle", "Check", "user_id", userID).
				WarnContext(ctx, "in-flight frequency check did not resolve; issuing own request", "operation_type", operationType)
			return t.fetch(ctx, userID, operationType)
		case <-ctx.Done():
			return FrequencyResult{Allowed: true}
		}
	}
}

func (t *FrequencyThrottle) fetch(ctx context.Context, userID, operationType string) FrequencyResult {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.opts.RemoteTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "FrequencyThrottle.check")
	defer span.End()
	span.SetAttributes(attribute.String("booking.user_id", userID), attribute.String("booking.operation", operationType))

	t.calls.Add(1)
	var (
		result FrequencyResult
		err    error
	)
	if t.remote == nil {
		result = FrequencyResult{Allowed: true}
	} else {
		result, err = t.remote.CheckFrequency(ctx, userID, operationType)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "frequency remote failed")
		serviceLogger(ctx, t.logger, "FrequencyThrottle", "Check", "user_id", userID).
			WarnContext(ctx, "frequency check failed; allowing", "operation_type", operationType, "error", err)
		result = FrequencyResult{Allowed: true}
	}
	t.results.Add(checkKey(userID, operationType), cachedResult{result: result, checkedAt: t.now()})
	return result
}

// RemoteCalls returns the number of remote checks issued.
func (t *FrequencyThrottle) RemoteCalls() int64 {
	return t.calls.Load()
}

func recordKey(rec OperationRecord) string {
	sum := blake2b.Sum256([]byte(rec.UserID + "\x00" + rec.OperationType + "\x00" + rec.RecordID + "\x00" + rec.OldValue + "\x00" + rec.NewValue))
	return hex.EncodeToString(sum[:])
}

// Record sends rec to the remote without blocking the caller. An identical
// record dispatched within the dedupe window is dropped. It reports whether
// the record was dispatched.
func (t *FrequencyThrottle) Record(ctx context.Context, rec OperationRecord) bool {
	if t.remote == nil || rec.UserID == "" {
		return false
	}
	key := recordKey(rec)
	now := t.now()

	t.recordMu.Lock()
	if last, ok := t.recorded.Get(key); ok && now.Sub(last) < t.opts.DedupeWindow {
		t.recordMu.Unlock()
		return false
	}
	t.recorded.Add(key, now)
	t.recordMu.Unlock()

	logger := serviceLogger(ctx, t.logger, "FrequencyThrottle", "Record", "user_id", rec.UserID, "operation_type", rec.OperationType)
	detached := context.WithoutCancel(ctx)
	t.pending.Add(1)
	go func() {
		defer t.pending.Done()
		ctx, cancel := context.WithTimeout(detached, t.opts.RemoteTimeout)
		defer cancel()
		if err := t.remote.RecordOperation(ctx, rec); err != nil {
			t.recordMu.Lock()
			if last, ok := t.recorded.Peek(key); ok && last.Equal(now) {
				t.recorded.Remove(key)
			}
			t.recordMu.Unlock()
			logger.WarnContext(ctx, "operation record failed", "error", err)
		}
	}()
	return true
}

// Wait blocks until every dispatched record has completed.
func (t *FrequencyThrottle) Wait() {
	t.pending.Wait()
}

// Purge clears cached results and dedupe marks.
func (t *FrequencyThrottle) Purge() {
	t.results.Purge()
	t.recordMu.Lock()
	t.recorded.Purge()
	t.recordMu.Unlock()
}
