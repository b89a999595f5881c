package core

// limiter.go bounds how many batches deliver at the same time.
//
// Each batch holds one SMTP session open for its whole run, so the limiter
// caps open sessions across all requests. When every slot is taken a new
// batch waits up to maxWait, then fails with ErrTooManyBatches. WaitForDrain
// lets shutdown wait for running batches.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTooManyBatches is returned when all batch slots are occupied and the
// wait timeout expires. Clients should retry after a short delay.
var ErrTooManyBatches = errors.New("too many concurrent batches, please try again later")

// DefaultMaxConcurrentBatches is the default limit for parallel batches.
const DefaultMaxConcurrentBatches = 4

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// BatchLimiter controls concurrent batch delivery.
type BatchLimiter struct {
	sem     *semaphore.Weighted
	max     int64
	maxWait time.Duration
	active  atomic.Int64
}

// NewBatchLimiter creates a limiter that allows at most maxConcurrent
// simultaneous batches. Requests that cannot acquire a slot within maxWait
// receive ErrTooManyBatches.
func NewBatchLimiter(maxConcurrent int, maxWait time.Duration) *BatchLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentBatches
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &BatchLimiter{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		max:     int64(maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire waits for a batch slot.
// The caller MUST call Release when the batch completes (use defer).
func (l *BatchLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyBatches
	}
	l.active.Add(1)
	return nil
}

// TryAcquire takes a slot without blocking and reports whether it did.
func (l *BatchLimiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.active.Add(1)
	return true
}

// Release returns a slot taken by Acquire or TryAcquire.
func (l *BatchLimiter) Release() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// ActiveCount returns the number of running batches.
func (l *BatchLimiter) ActiveCount() int {
	return int(l.active.Load())
}

// MaxConcurrent returns the maximum allowed concurrent batches.
func (l *BatchLimiter) MaxConcurrent() int {
	return int(l.max)
}

// Available returns the number of free slots.
func (l *BatchLimiter) Available() int {
	return int(l.max - l.active.Load())
}

// WaitForDrain blocks until no batch is running or ctx is done.
// New batches are held off while it waits.
func (l *BatchLimiter) WaitForDrain(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, l.max); err != nil {
		return err
	}
	l.sem.Release(l.max)
	return nil
}

// BatchLimiterStatus is a snapshot of the limiter state.
type BatchLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state for monitoring.
func (l *BatchLimiter) Status() BatchLimiterStatus {
	active := l.ActiveCount()
	return BatchLimiterStatus{
		Active:        active,
		Available:     l.MaxConcurrent() - active,
		MaxConcurrent: l.MaxConcurrent(),
	}
}
