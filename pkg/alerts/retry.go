package alerts

import (
	"errors"
	"time"
)

// RetryConfig bounds redelivery of one alert to one endpoint. Zero fields
// take the defaults: 5 attempts, 1s first delay doubling up to 1m.
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = time.Minute
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = 2
	}
	return c
}

// retryable reports whether a delivery that failed with err on the given
// attempt (1-based) gets another try.
func (c RetryConfig) retryable(attempt int, err error) bool {
	if err == nil || attempt >= c.MaxAttempts {
		return false
	}
	var perm *permanentError
	return !errors.As(err, &perm)
}

// backoff is the wait after the given failed attempt
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= c.BackoffMultiplier
		if d >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	return time.Duration(d)
}

// permanentError marks a failure that retrying cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
