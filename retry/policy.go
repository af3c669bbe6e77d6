// Package retry runs remote operations under an exponential backoff policy
// and schedules deferred re-runs once that policy is exhausted.
package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds the in-call retry loop. Attempt 1 runs immediately; after
// attempt n fails the executor waits Delay(n) before attempt n+1.
type Policy struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`

	// Retryable decides whether a failed attempt may be repeated. A nil
	// func retries every error.
	Retryable func(error) bool `json:"-"`
}

// DefaultPolicy is three attempts waiting 1s then 2s, capped at 5s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
	}
}

// NoRetryPolicy runs the operation exactly once.
func NoRetryPolicy() Policy {
	return Policy{MaxAttempts: 1}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	return p
}

// Delay returns the wait after the n-th failed attempt (n starts at 1).
func (p Policy) Delay(n int) time.Duration {
	p = p.normalized()
	return exponentialDelay(p.InitialDelay, p.MaxDelay, p.Multiplier, n)
}

func (p Policy) backOff() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialDelay),
		backoff.WithRandomizationFactor(0),
		backoff.WithMultiplier(p.Multiplier),
		backoff.WithMaxInterval(p.MaxDelay),
		backoff.WithMaxElapsedTime(0),
	)
}

// exponentialDelay computes min(initial * multiplier^(n-1), max).
func exponentialDelay(initial, maxDelay time.Duration, multiplier float64, n int) time.Duration {
	if n < 1 {
		return 0
	}
	d := float64(initial) * math.Pow(multiplier, float64(n-1))
	if d >= float64(maxDelay) || math.IsInf(d, 1) {
		return maxDelay
	}
	return time.Duration(d)
}
