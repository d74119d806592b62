package resilience

import (
	"time"
)

// Config configures the protection around an upstream dependency.
type Config struct {
	// Timeout bounds every guarded call. Zero disables the deadline.
	Timeout time.Duration

	// Breaker configures the circuit breaker behavior.
	Breaker BreakerConfig

	// IsFailure decides whether an error counts against the breaker.
	// Client errors such as a rejected form or an expired token say
	// nothing about upstream health. If nil, every error counts.
	IsFailure func(err error) bool
}

// BreakerConfig configures circuit breaker behavior.
type BreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the breaker is half-open. Default: 1
	MaxRequests uint32

	// Interval is the cyclic period of the closed state after which the
	// counts are cleared. If Interval is 0, it never clears.
	Interval time.Duration

	// Timeout is the period of the open state after which the state
	// becomes half-open.
	Timeout time.Duration

	// ReadyToTrip is called with a copy of Counts whenever a request fails.
	// If nil, the breaker trips after 5 consecutive failures.
	ReadyToTrip func(counts Counts) bool
}

// Counts holds the numbers of requests and their successes/failures.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// DefaultConfig returns defaults suited to a browser facing API: a
// customer waits at most 10s and five failures in a row open the
// circuit for 30s.
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Breaker: BreakerConfig{
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: ConsecutiveFailures(5),
		},
	}
}

// ConsecutiveFailures returns a ReadyToTrip that opens after n failures
// in a row.
func ConsecutiveFailures(n uint32) func(Counts) bool {
	return func(counts Counts) bool {
		return counts.ConsecutiveFailures >= n
	}
}

// WithTimeout returns a copy of the config with the specified timeout.
func (c Config) WithTimeout(timeout time.Duration) Config {
	c.Timeout = timeout
	return c
}

// WithBreakerTimeout returns a copy of the config with the specified
// open state duration.
func (c Config) WithBreakerTimeout(timeout time.Duration) Config {
	c.Breaker.Timeout = timeout
	return c
}

// WithFailurePredicate returns a copy of the config using isFailure.
func (c Config) WithFailurePredicate(isFailure func(error) bool) Config {
	c.IsFailure = isFailure
	return c
}
