package testfixtures

import (
	"context"
	"sync"

	"github.com/example/session-booking/internal/application"
)

// FrequencyRemote is a scriptable application.FrequencyRemote.
type FrequencyRemote struct {
	mu        sync.Mutex
	result    application.FrequencyResult
	checkErr  error
	recordErr error
	gate      chan struct{}
	checks    int
	records   []application.OperationRecord
}

// NewFrequencyRemote returns a remote that allows every operation.
func NewFrequencyRemote() *FrequencyRemote {
	return &FrequencyRemote{result: application.FrequencyResult{Allowed: true}}
}

// SetResult sets the decision returned by CheckFrequency.
func (f *FrequencyRemote) SetResult(result application.FrequencyResult) {
	f.mu.Lock()
	f.result = result
	f.mu.Unlock()
}

// SetErrors sets the errors returned by CheckFrequency and RecordOperation.
func (f *FrequencyRemote) SetErrors(checkErr, recordErr error) {
	f.mu.Lock()
	f.checkErr = checkErr
	f.recordErr = recordErr
	f.mu.Unlock()
}

// Block makes CheckFrequency wait until the returned release function runs or
// the call's context ends.
func (f *FrequencyRemote) Block() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gate == gate {
				f.gate = nil
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// CheckFrequency returns the scripted decision.
func (f *FrequencyRemote) CheckFrequency(ctx context.Context, _, _ string) (application.FrequencyResult, error) {
	f.mu.Lock()
	f.checks++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return application.FrequencyResult{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.checkErr
}

// RecordOperation stores record.
func (f *FrequencyRemote) RecordOperation(_ context.Context, record application.OperationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.records = append(f.records, record)
	return nil
}

// Checks returns the number of CheckFrequency calls.
func (f *FrequencyRemote) Checks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks
}

// Records returns the stored operation records.
func (f *FrequencyRemote) Records() []application.OperationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]application.OperationRecord(nil), f.records...)
}
