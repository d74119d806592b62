// Package resilience bounds upstream calls with a timeout and a circuit
// breaker so a hung or failing API degrades quickly instead of leaving a
// customer waiting on a spinner.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bankflow/pkg/logging"
	"bankflow/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	// ErrTimeout is returned when a guarded call exceeds its deadline.
	ErrTimeout = errors.New("resilience: operation timeout")

	// ErrCircuitOpen is returned when the breaker rejects a call.
	ErrCircuitOpen = errors.New("resilience: circuit breaker open")
)

// IsTimeout reports whether err is a guarded timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCircuitOpen reports whether err is a breaker rejection.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// Guard runs calls through a timeout and a circuit breaker. It never
// retries; each Do is exactly one attempt.
type Guard struct {
	name      string
	cb        *gobreaker.CircuitBreaker
	timeout   time.Duration
	isFailure func(error) bool
	metrics   metrics.Collector
	logger    *logging.Logger
}

// NewGuard creates a guard named after the dependency it protects.
func NewGuard(name string, config Config) *Guard {
	return NewGuardWithMetrics(name, config, metrics.NoOpCollector{})
}

// NewGuardWithMetrics creates a guard reporting breaker state changes
// to collector.
func NewGuardWithMetrics(name string, config Config, collector metrics.Collector) *Guard {
	logger := logging.L().Named("resilience").Named(name)

	g := &Guard{
		name:      name,
		timeout:   config.Timeout,
		isFailure: config.IsFailure,
		metrics:   metrics.OrNoOp(collector),
		logger:    logger,
	}
	if g.isFailure == nil {
		g.isFailure = func(error) bool { return true }
	}

	logger.Info("guard initialized",
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.Breaker.MaxRequests),
		zap.Duration("circuit_interval", config.Breaker.Interval),
		zap.Duration("circuit_timeout", config.Breaker.Timeout),
	)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.Breaker.MaxRequests,
		Interval:    config.Breaker.Interval,
		Timeout:     config.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if config.Breaker.ReadyToTrip != nil {
				return config.Breaker.ReadyToTrip(Counts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				})
			}
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			g.metrics.RecordCircuitState(name, toCircuitState(to))
		},
	}
	g.cb = gobreaker.NewCircuitBreaker(settings)

	return g
}

func toCircuitState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// Name returns the guard's name.
func (g *Guard) Name() string {
	return g.name
}

// State returns the current breaker state.
func (g *Guard) State() metrics.CircuitState {
	return toCircuitState(g.cb.State())
}

// passthrough carries an error the breaker must not count.
type passthrough struct{ err error }

// Do runs fn once with the guard's deadline applied to ctx.
//
// A breaker rejection returns ErrCircuitOpen and a deadline hit returns
// ErrTimeout wrapping the underlying error. Errors for which IsFailure
// is false are returned unchanged and leave the breaker untouched.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := g.cb.Execute(func() (interface{}, error) {
		err := fn(ctx)
		if err != nil && !g.isFailure(err) {
			return passthrough{err}, nil
		}
		return nil, err
	})
	if p, ok := result.(passthrough); ok {
		return p.err
	}
	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		g.logger.Warn("circuit breaker open - request rejected")
		return ErrCircuitOpen
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		g.logger.Warn("operation timeout",
			zap.Duration("timeout", g.timeout),
			zap.Duration("elapsed", time.Since(start)),
		)
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
