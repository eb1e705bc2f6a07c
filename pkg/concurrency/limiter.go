// Package concurrency provides the admission primitives used by the extractor
// scheduler and the outbound clients: a semaphore limiter with metrics and a
// circuit breaker.
package concurrency

import (
	"context"
	"sync/atomic"
	"time"
)

// Metrics tracks limiter performance
type Metrics struct {
	Capacity        int
	TotalAcquired   int64
	TotalReleased   int64
	PeakConcurrent  int64
	TotalWaitTimeNs int64
}

// AverageWait returns the mean time spent waiting for a slot.
func (m Metrics) AverageWait() time.Duration {
	if m.TotalAcquired == 0 {
		return 0
	}
	return time.Duration(m.TotalWaitTimeNs / m.TotalAcquired)
}

// Limiter is a counting semaphore. A slot is held from Acquire until Release,
// so a fast holder frees its slot for the next waiter regardless of how long
// other holders take.
type Limiter struct {
	sem      chan struct{}
	capacity int
	active   atomic.Int64

	acquired atomic.Int64
	released atomic.Int64
	peak     atomic.Int64
	waitNs   atomic.Int64
}

// NewLimiter creates a limiter allowing maxConcurrent simultaneous holders.
// Non-positive values are treated as 1.
func NewLimiter(maxConcurrent int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	return &Limiter{
		sem:      make(chan struct{}, maxConcurrent),
		capacity: maxConcurrent,
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()

	select {
	case l.sem <- struct{}{}:
		l.waitNs.Add(time.Since(start).Nanoseconds())
		l.acquired.Add(1)
		l.updatePeak(l.active.Add(1))
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot to the limiter.
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		l.active.Add(-1)
		l.released.Add(1)
	default:
		// Release without a matching Acquire
	}
}

// Capacity returns the maximum number of simultaneous holders.
func (l *Limiter) Capacity() int {
	return l.capacity
}

// GetMetrics returns a snapshot of the current metrics.
func (l *Limiter) GetMetrics() Metrics {
	return Metrics{
		Capacity:        l.capacity,
		TotalAcquired:   l.acquired.Load(),
		TotalReleased:   l.released.Load(),
		PeakConcurrent:  l.peak.Load(),
		TotalWaitTimeNs: l.waitNs.Load(),
	}
}

// updatePeak updates the peak concurrent count if current is higher
func (l *Limiter) updatePeak(current int64) {
	for {
		peak := l.peak.Load()
		if current <= peak {
			return
		}
		if l.peak.CompareAndSwap(peak, current) {
			return
		}
	}
}
