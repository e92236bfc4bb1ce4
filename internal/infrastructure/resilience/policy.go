package resilience

import (
	"math"
	"time"

	"github.com/sony/gobreaker/v2"
)

// RetryPolicy bounds how often and how patiently one call is retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// OnRetry runs before each backoff wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Wait is the pause after failed attempt n (1-based): exponential from
// InitialBackoff, capped at MaxBackoff.
func (p RetryPolicy) Wait(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	wait := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(n-1))
	if wait >= float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(wait)
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	p.InitialBackoff = max(p.InitialBackoff, 0)
	p.MaxBackoff = max(p.MaxBackoff, p.InitialBackoff)
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}

// BreakerPolicy configures the per-operation circuit breaker. The zero value
// disables it.
type BreakerPolicy struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

func (b BreakerPolicy) trips(counts gobreaker.Counts) bool {
	if counts.Requests < b.MinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= b.FailureRatio
}

type Config struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy
}

// DefaultConfig suits remote OCR and LLM calls: three tries within a few
// seconds, and a breaker that opens when half of ten calls fail.
func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2,
		},
		Breaker: BreakerPolicy{
			Enabled:          true,
			MinRequests:      10,
			FailureRatio:     0.5,
			OpenTimeout:      30 * time.Second,
			HalfOpenMaxCalls: 2,
		},
	}
}

// withDefaults fills unset fields from DefaultConfig. Breaker.Enabled is kept
// as given.
func (c Config) withDefaults() Config {
	def := DefaultConfig()

	r := c.Retry
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = def.Retry.MaxAttempts
	}
	if r.InitialBackoff <= 0 {
		r.InitialBackoff = def.Retry.InitialBackoff
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = def.Retry.MaxBackoff
	}
	if r.Multiplier < 1 {
		r.Multiplier = def.Retry.Multiplier
	}
	c.Retry = r.normalized()

	b := c.Breaker
	if b.MinRequests == 0 {
		b.MinRequests = def.Breaker.MinRequests
	}
	if b.FailureRatio <= 0 || b.FailureRatio > 1 {
		b.FailureRatio = def.Breaker.FailureRatio
	}
	if b.OpenTimeout <= 0 {
		b.OpenTimeout = def.Breaker.OpenTimeout
	}
	if b.HalfOpenMaxCalls == 0 {
		b.HalfOpenMaxCalls = def.Breaker.HalfOpenMaxCalls
	}
	c.Breaker = b
	return c
}
