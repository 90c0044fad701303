package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestComputeWithRandBounds(t *testing.T) {
	policy := Policy{
		Base:      100 * time.Millisecond,
		Max:       30 * time.Second,
		JitterCap: 50 * time.Millisecond,
	}

	tests := []struct {
		attempt int
		random  float64
		want    time.Duration
	}{
		{1, 0.0, 100 * time.Millisecond},
		{1, 1.0, 150 * time.Millisecond},
		{2, 0.0, 200 * time.Millisecond},
		{2, 0.5, 225 * time.Millisecond},
		{3, 0.0, 400 * time.Millisecond},
		{4, 1.0, 850 * time.Millisecond},
		{0, 0.0, 100 * time.Millisecond}, // clamped to attempt 1
	}
	for _, tt := range tests {
		got := ComputeWithRand(policy, tt.attempt, tt.random)
		if got != tt.want {
			t.Errorf("ComputeWithRand(attempt=%d, rand=%v) = %v, want %v",
				tt.attempt, tt.random, got, tt.want)
		}
	}
}

func TestComputeCapsAtMax(t *testing.T) {
	policy := Policy{
		Base:      1 * time.Second,
		Max:       5 * time.Second,
		JitterCap: 1 * time.Second,
	}
	if got := ComputeWithRand(policy, 10, 1.0); got != 5*time.Second {
		t.Errorf("expected cap at 5s, got %v", got)
	}
}

func TestComputeWithinJitterWindow(t *testing.T) {
	policy := DefaultPolicy()
	for attempt := 1; attempt <= 5; attempt++ {
		lo := ComputeWithRand(policy, attempt, 0)
		hi := lo + policy.JitterCap
		if hi > policy.Max {
			hi = policy.Max
		}
		for i := 0; i < 50; i++ {
			d := Compute(policy, attempt)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}

func TestSleepWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := SleepWithContext(ctx, 10*time.Second)
	if err == nil {
		t.Fatal("expected context error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancelled sleep took %v, want immediate return", elapsed)
	}
}

func TestSleepWithContextZeroDuration(t *testing.T) {
	if err := SleepWithContext(context.Background(), 0); err != nil {
		t.Errorf("zero duration sleep returned %v", err)
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), Policy{Base: time.Millisecond}, 3, nil, func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("Retry = (%d, %v), want (42, nil)", v, err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetryRespectsAttemptCap(t *testing.T) {
	calls := 0
	sentinel := errors.New("always")
	_, err := Retry(context.Background(), Policy{Base: time.Millisecond}, 3, nil, func() (int, error) {
		calls++
		return 0, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryNonRetryableStopsEarly(t *testing.T) {
	calls := 0
	fatal := errors.New("fatal")
	_, err := Retry(context.Background(), Policy{Base: time.Millisecond}, 5, func(error) bool { return false }, func() (int, error) {
		calls++
		return 0, fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("err = %v, want fatal", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
