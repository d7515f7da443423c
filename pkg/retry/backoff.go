package retry

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines how to calculate the next retry time.
type BackoffStrategy int

const (
	// BackoffExponential uses exponential backoff: base * 2^(attempt-1)
	BackoffExponential BackoffStrategy = iota

	// BackoffLinear uses linear backoff: base * attempt
	BackoffLinear

	// BackoffConstant uses constant backoff: base (no increase)
	BackoffConstant
)

// BackoffConfig configures the backoff behavior.
type BackoffConfig struct {
	// Strategy is the backoff strategy to use.
	// Default is BackoffExponential.
	Strategy BackoffStrategy `yaml:"strategy" json:"strategy"`

	// BaseInterval is the first retry delay.
	// Default is DefaultRetryInterval (30 seconds).
	BaseInterval time.Duration `yaml:"base_interval" json:"base_interval"`

	// MaxInterval caps the delay between retries.
	// Default is 1 hour.
	MaxInterval time.Duration `yaml:"max_interval" json:"max_interval"`

	// Jitter in [0, 1] spreads retries of a burst of failures.
	// Default is 0.1 (10% jitter).
	Jitter float64 `yaml:"jitter" json:"jitter"`
}

// DefaultBackoffConfig returns a BackoffConfig with default values.
//
// Schedule with the default 30-second base:
//
//	attempt 1: 30s
//	attempt 2: 1m
//	attempt 3: 2m
//	attempt 4: 4m
//	attempt 5: 8m
//	attempt 6: 16m
func DefaultBackoffConfig() *BackoffConfig {
	return &BackoffConfig{
		Strategy:     BackoffExponential,
		BaseInterval: DefaultRetryInterval,
		MaxInterval:  time.Hour,
		Jitter:       0.1,
	}
}

// NextRetryFrom returns the time of the next attempt after from, given the
// number of attempts already made.
func (c *BackoffConfig) NextRetryFrom(from time.Time, attempts int) time.Time {
	return from.Add(c.Interval(attempts))
}

// Interval returns the jittered delay for the given attempt.
func (c *BackoffConfig) Interval(attempts int) time.Duration {
	return c.applyJitter(c.baseInterval(attempts))
}

func (c *BackoffConfig) baseInterval(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	var interval time.Duration
	switch c.Strategy {
	case BackoffLinear:
		interval = c.BaseInterval * time.Duration(attempts)
	case BackoffConstant:
		interval = c.BaseInterval
	default:
		multiplier := math.Pow(2, float64(attempts-1))
		interval = time.Duration(float64(c.BaseInterval) * multiplier)
	}

	if c.MaxInterval > 0 && interval > c.MaxInterval {
		interval = c.MaxInterval
	}
	return interval
}

// applyJitter scales interval by a random factor in [1-jitter, 1+jitter].
func (c *BackoffConfig) applyJitter(interval time.Duration) time.Duration {
	if c.Jitter <= 0 {
		return interval
	}
	jitter := math.Min(c.Jitter, 1)
	spread := float64(interval) * jitter
	return time.Duration(float64(interval) + (rand.Float64()*2-1)*spread)
}

// RetrySchedule returns the unjittered delays for maxAttempts attempts.
func (c *BackoffConfig) RetrySchedule(maxAttempts int) []time.Duration {
	if maxAttempts <= 0 {
		return nil
	}
	schedule := make([]time.Duration, maxAttempts)
	for i := range maxAttempts {
		schedule[i] = c.baseInterval(i + 1)
	}
	return schedule
}

// TotalBackoffTime is the sum of RetrySchedule(maxAttempts): roughly how long
// an undeliverable notification stays queued before it is marked failed.
func (c *BackoffConfig) TotalBackoffTime(maxAttempts int) time.Duration {
	var total time.Duration
	for _, d := range c.RetrySchedule(maxAttempts) {
		total += d
	}
	return total
}
