// Package backoff provides exponential backoff utilities with bounded jitter
// for retry logic.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Max caps the computed delay. Zero means no cap.
	Max time.Duration
	// JitterCap bounds the random jitter added on top of the exponential term.
	JitterCap time.Duration
}

// Compute calculates the backoff duration for a given attempt number.
// The delay lies in [base*2^(attempt-1), base*2^(attempt-1)+jitterCap],
// clamped to Max. Attempt numbers start at 1.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand calculates the backoff duration using a provided random
// value in [0.0, 1.0). Useful for deterministic tests.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(policy.Base) * math.Pow(2, exp)
	jitter := float64(policy.JitterCap) * randomValue
	total := base + jitter
	if policy.Max > 0 && total > float64(policy.Max) {
		total = float64(policy.Max)
	}
	return time.Duration(total)
}

// DefaultPolicy returns the backoff used for model transport retries.
// Base: 500ms, Max: 30s, JitterCap: 250ms.
func DefaultPolicy() Policy {
	return Policy{
		Base:      500 * time.Millisecond,
		Max:       30 * time.Second,
		JitterCap: 250 * time.Millisecond,
	}
}
