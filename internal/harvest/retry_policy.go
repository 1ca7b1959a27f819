package harvest

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Retry strategy names accepted by Options.RetryStrategy.
const (
	RetryFixed       = "fixed"
	RetryExponential = "exponential"
)

// RetryPolicy decides how long to wait after a transient failure and whether
// another attempt is allowed. attempt counts consecutive failures from 1.
type RetryPolicy interface {
	ShouldRetry(attempt int) bool
	Backoff(attempt int) time.Duration
}

// NewRetryPolicy builds the policy named by opts.RetryStrategy.
func NewRetryPolicy(opts Options) RetryPolicy {
	if opts.RetryStrategy == RetryExponential {
		return NewExponentialRetryPolicy(opts.RetryBackoff, opts.MaxRetries)
	}
	return NewFixedRetryPolicy(opts.RetryBackoff, opts.MaxRetries)
}

// FixedRetryPolicy waits the same delay after every failure.
// maxAttempts of zero retries forever.
type FixedRetryPolicy struct {
	delay       time.Duration
	maxAttempts int
}

// NewFixedRetryPolicy builds a constant-delay policy.
func NewFixedRetryPolicy(delay time.Duration, maxAttempts int) *FixedRetryPolicy {
	return &FixedRetryPolicy{delay: delay, maxAttempts: maxAttempts}
}

// ShouldRetry reports whether another attempt is allowed.
func (p *FixedRetryPolicy) ShouldRetry(attempt int) bool {
	return p.maxAttempts <= 0 || attempt <= p.maxAttempts
}

// Backoff returns the fixed delay.
func (p *FixedRetryPolicy) Backoff(int) time.Duration {
	return p.delay
}

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy doubles base on every attempt, capped at five
// minutes.
func NewExponentialRetryPolicy(base time.Duration, maxAttempts int) *ExponentialRetryPolicy {
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   base,
		maxDelay:    5 * time.Minute,
	}
}

// ShouldRetry reports whether another attempt is allowed.
func (p *ExponentialRetryPolicy) ShouldRetry(attempt int) bool {
	return p.maxAttempts <= 0 || attempt <= p.maxAttempts
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
