package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/session-booking/internal/application"
)

type sweeperStub struct {
	mu    sync.Mutex
	calls int
	err   error
	swept chan struct{}
}

func newSweeperStub(err error) *sweeperStub {
	return &sweeperStub{err: err, swept: make(chan struct{}, 16)}
}

func (s *sweeperStub) SweepExpired(context.Context) (application.SweepResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	select {
	case s.swept <- struct{}{}:
	default:
	}
	return application.SweepResult{ExpiredEdits: 1}, s.err
}

func (s *sweeperStub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweeperSweepsOnStartAndOnTick(t *testing.T) {
	t.Parallel()

	stub := newSweeperStub(nil)
	sweeper := NewSweeper(stub, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-stub.swept:
		case <-time.After(time.Second):
			t.Fatalf("expected sweep %d", i+1)
		}
	}
	cancel()
	<-done

	if calls := stub.Calls(); calls < 2 {
		t.Fatalf("expected at least 2 sweeps, got %d", calls)
	}
}

func TestSweeperKeepsRunningAfterErrors(t *testing.T) {
	t.Parallel()

	stub := newSweeperStub(errors.New("db error"))
	sweeper := NewSweeper(stub, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-stub.swept:
		case <-time.After(time.Second):
			t.Fatalf("expected sweep %d despite errors", i+1)
		}
	}
	cancel()
	<-done
}

func TestSweeperStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	stub := newSweeperStub(nil)
	sweeper := NewSweeper(stub, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()
	<-stub.swept
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancel")
	}
	if calls := stub.Calls(); calls != 1 {
		t.Fatalf("expected only the start sweep, got %d", calls)
	}
}
