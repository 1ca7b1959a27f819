package harvest

import (
	"fmt"
	"time"
)

// MaxPageSize is the largest page the GitHub search API accepts.
const MaxPageSize = 100

// Options captures every pacing knob of a crawl run.
type Options struct {
	Query           string
	PageSize        int
	Target          int
	Pause           time.Duration
	RetryBackoff    time.Duration
	RetryStrategy   string
	MaxRetries      int
	RateLimitMargin time.Duration
	LowWater        int
}

// DefaultOptions mirrors the crawler's historical constants.
func DefaultOptions() Options {
	return Options{
		Query:           "stars:>1",
		PageSize:        MaxPageSize,
		Target:          100000,
		Pause:           time.Second,
		RetryBackoff:    5 * time.Second,
		RetryStrategy:   RetryFixed,
		MaxRetries:      0,
		RateLimitMargin: 60 * time.Second,
		LowWater:        10,
	}
}

// Validate checks for obviously bad option combinations.
func (o Options) Validate() error {
	if o.PageSize <= 0 || o.PageSize > MaxPageSize {
		return fmt.Errorf("crawler.page_size must be between 1 and %d", MaxPageSize)
	}
	if o.Target <= 0 {
		return fmt.Errorf("crawler.target_count must be > 0")
	}
	if o.Pause < 0 {
		return fmt.Errorf("crawler.pause must be >= 0")
	}
	if o.RetryBackoff < 0 {
		return fmt.Errorf("crawler.retry_backoff must be >= 0")
	}
	if o.RetryStrategy != RetryFixed && o.RetryStrategy != RetryExponential {
		return fmt.Errorf("crawler.retry_strategy must be %q or %q", RetryFixed, RetryExponential)
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if o.RateLimitMargin < 0 {
		return fmt.Errorf("crawler.rate_limit_margin must be >= 0")
	}
	if o.LowWater < 0 {
		return fmt.Errorf("crawler.rate_limit_low_water must be >= 0")
	}
	return nil
}
