package concurrency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/Digest/pkg/errors"
)

func TestLimiterAcquireReleaseTracksMetrics(t *testing.T) {
	limiter := NewLimiter(2)
	ctx := context.Background()

	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if m := limiter.GetMetrics(); m.TotalAcquired-m.TotalReleased != 1 {
		t.Fatalf("expected 1 active holder, got %+v", m)
	}
	limiter.Release()

	metrics := limiter.GetMetrics()
	if metrics.TotalAcquired != 1 {
		t.Fatalf("expected TotalAcquired 1, got %d", metrics.TotalAcquired)
	}
	if metrics.TotalReleased != 1 {
		t.Fatalf("expected TotalReleased 1, got %d", metrics.TotalReleased)
	}
	if metrics.Capacity != 2 {
		t.Fatalf("expected capacity 2, got %d", metrics.Capacity)
	}
}

func TestLimiterAcquireHonorsContextCancellation(t *testing.T) {
	limiter := NewLimiter(1)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := limiter.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if m := limiter.GetMetrics(); m.TotalAcquired != 1 {
		t.Fatalf("expected the timed-out Acquire not to count, got %+v", m)
	}
}

func TestLimiterNonPositiveCapacity(t *testing.T) {
	limiter := NewLimiter(0)
	if limiter.Capacity() != 1 {
		t.Fatalf("expected capacity 1, got %d", limiter.Capacity())
	}
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("expected first Acquire to succeed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := limiter.Acquire(ctx); err == nil {
		t.Fatal("expected second Acquire to block until its deadline")
	}
	limiter.Release()
	// Unmatched release is ignored
	limiter.Release()
	if m := limiter.GetMetrics(); m.TotalReleased != 1 {
		t.Fatalf("expected 1 release, got %+v", m)
	}
}

func TestLimiterAverageWait(t *testing.T) {
	if (Metrics{}).AverageWait() != 0 {
		t.Fatal("expected zero average wait with no acquisitions")
	}
	m := Metrics{TotalAcquired: 4, TotalWaitTimeNs: int64(8 * time.Millisecond)}
	if m.AverageWait() != 2*time.Millisecond {
		t.Fatalf("expected 2ms, got %s", m.AverageWait())
	}

	limiter := NewLimiter(1)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		limiter.Release()
	}()
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if got := limiter.GetMetrics().AverageWait(); got < 5*time.Millisecond {
		t.Fatalf("expected the blocked Acquire to raise the average wait, got %s", got)
	}
}

func TestLimiterPeakNeverExceedsCapacity(t *testing.T) {
	limiter := NewLimiter(3)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			time.Sleep(2 * time.Millisecond)
			limiter.Release()
		}()
	}
	wg.Wait()

	metrics := limiter.GetMetrics()
	if metrics.PeakConcurrent > 3 {
		t.Fatalf("peak %d exceeds capacity", metrics.PeakConcurrent)
	}
	if metrics.TotalAcquired != 20 || metrics.TotalReleased != 20 {
		t.Fatalf("unexpected totals: %+v", metrics)
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("lifelog", 2, 20*time.Millisecond)

	cb.RecordFailure()
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected closed circuit, got %v", err)
	}
	cb.Record(errors.New("502"))

	err := cb.Allow()
	if !errors.Is(err, sdkerrors.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	time.Sleep(30 * time.Millisecond)
	if cb.IsOpen() {
		t.Fatal("expected circuit to move to half-open after reset timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.GetState())
	}

	for i := 0; i < 3; i++ {
		cb.Record(nil)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed after probes, got %s", cb.GetState())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("llm", 1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if cb.IsOpen() {
		t.Fatal("expected half-open")
	}
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	if cb.GetConsecutiveFailures() != 2 {
		t.Fatalf("expected 2 consecutive failures, got %d", cb.GetConsecutiveFailures())
	}
}

func TestCircuitBreakerStateChanges(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker("lifelog", 1, 10*time.Millisecond).
		OnStateChange(func(name string, from, to CircuitBreakerState) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.IsOpen()
	cb.IsOpen()
	for i := 0; i < 3; i++ {
		cb.RecordSuccess()
	}

	want := []string{"lifelog:closed->open", "lifelog:open->half-open", "lifelog:half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}

	cb.OnStateChange(LogStateChanges(zap.NewNop()))
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}
}
