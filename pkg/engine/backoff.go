package engine

import (
	"math"
	"math/rand"
	"time"
)

// Backoff defaults for environmental retries.
const (
	// DefaultBackoffBase is the delay after the first failed attempt.
	DefaultBackoffBase = 2 * time.Second

	// DefaultBackoffMax caps the exponential growth.
	DefaultBackoffMax = 60 * time.Second

	// backoffJitter is the maximum fraction of random jitter added to a
	// computed delay.
	backoffJitter = 0.2
)

// BackoffPolicy computes the sleep before the next apply attempt after
// an environmental failure. Delays grow exponentially with the attempt
// number, are capped, and carry up to 20% random jitter so parallel
// runs do not retry in lockstep.
type BackoffPolicy struct {
	// Base is the delay after the first failed attempt.
	Base time.Duration

	// Max caps the computed delay before jitter is added.
	Max time.Duration

	// rng drives the jitter. Nil uses the shared package source.
	rng *rand.Rand
}

// NewBackoffPolicy returns a policy with the given bounds. Zero or
// negative values fall back to the defaults.
func NewBackoffPolicy(base, max time.Duration) *BackoffPolicy {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	return &BackoffPolicy{Base: base, Max: max}
}

// WithRand fixes the jitter source, for deterministic tests. The
// source must not be shared across goroutines.
func (p *BackoffPolicy) WithRand(rng *rand.Rand) *BackoffPolicy {
	p.rng = rng
	return p
}

// Delay returns the backoff after failed attempt i, 1-based: the base
// delay doubled for every prior attempt, capped at Max, plus jitter.
func (p *BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(float64(p.Base) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || delay > p.Max {
		delay = p.Max
	}

	frac := rand.Float64()
	if p.rng != nil {
		frac = p.rng.Float64()
	}
	return delay + time.Duration(float64(delay)*backoffJitter*frac)
}
