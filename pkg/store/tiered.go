package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bankflow/pkg/logging"
	"bankflow/pkg/metrics"
	"bankflow/pkg/resilience"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TTLStrategy decides the lifetime of a value in each tier.
type TTLStrategy interface {
	TTL(tier int, base time.Duration) time.Duration
}

// UniformTTL uses the same lifetime in every tier.
type UniformTTL struct{}

// TTL implements TTLStrategy.
func (UniformTTL) TTL(tier int, base time.Duration) time.Duration {
	return base
}

// PerTierTTL sets an explicit lifetime per tier; tiers beyond the list
// use the base lifetime.
type PerTierTTL []time.Duration

// TTL implements TTLStrategy.
func (p PerTierTTL) TTL(tier int, base time.Duration) time.Duration {
	if tier < len(p) && p[tier] > 0 {
		return p[tier]
	}
	return base
}

// TieredConfig configures a Tiered store.
type TieredConfig struct {
	// TTL is the base lifetime of a write.
	TTL time.Duration

	// Strategy adjusts TTL per tier. Defaults to UniformTTL.
	Strategy TTLStrategy

	// Guard wraps every tier with a timeout and circuit breaker. The
	// first tier gets FastTimeout, the others SlowTimeout.
	Guard       bool
	FastTimeout time.Duration
	SlowTimeout time.Duration

	Metrics metrics.Collector
	Logger  *logging.Logger
}

// Tiered reads through its tiers fastest first and writes to all of
// them. A hit in a lower tier is copied into the tiers above it before
// returning.
type Tiered struct {
	tiers    []Layer
	guards   []*resilience.Guard
	ttl      time.Duration
	strategy TTLStrategy
	sf       singleflight.Group
	metrics  metrics.Collector
	logger   *logging.Logger
}

// NewTiered creates a store over tiers ordered fastest first.
func NewTiered(config TieredConfig, tiers ...Layer) (*Tiered, error) {
	if len(tiers) == 0 {
		return nil, errors.New("store: at least one tier required")
	}
	if config.TTL <= 0 {
		config.TTL = 30 * time.Minute
	}
	if config.Strategy == nil {
		config.Strategy = UniformTTL{}
	}
	if config.FastTimeout <= 0 {
		config.FastTimeout = 100 * time.Millisecond
	}
	if config.SlowTimeout <= 0 {
		config.SlowTimeout = time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.L()
	}

	t := &Tiered{
		tiers:    tiers,
		ttl:      config.TTL,
		strategy: config.Strategy,
		metrics:  metrics.OrNoOp(config.Metrics),
		logger:   logger.Named("store"),
	}

	if config.Guard {
		t.guards = make([]*resilience.Guard, len(tiers))
		for i, tier := range tiers {
			timeout := config.SlowTimeout
			if i == 0 {
				timeout = config.FastTimeout
			}
			rc := resilience.DefaultConfig().
				WithTimeout(timeout).
				WithFailurePredicate(func(err error) bool { return !IsNotFound(err) && !errors.Is(err, ErrInvalidKey) })
			t.guards[i] = resilience.NewGuardWithMetrics("store-"+tier.Name(), rc, t.metrics)
		}
	}

	return t, nil
}

func (t *Tiered) run(ctx context.Context, i int, fn func(ctx context.Context) error) error {
	if t.guards == nil {
		return fn(ctx)
	}
	return t.guards[i].Do(ctx, fn)
}

// Get returns the first live value. Concurrent Gets of one key share a
// single traversal.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err, _ := t.sf.Do(key, func() (interface{}, error) {
		return t.readThrough(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	// shared callers must not alias the same slice
	src := v.([]byte)
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (t *Tiered) readThrough(ctx context.Context, key string) ([]byte, error) {
	var lastErr error

	for i, tier := range t.tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		var value []byte
		err := t.run(ctx, i, func(ctx context.Context) error {
			var err error
			value, err = tier.Get(ctx, key)
			return err
		})
		t.metrics.RecordStoreGet(tier.Name(), err == nil, time.Since(start))

		if err != nil {
			if !IsNotFound(err) {
				t.logger.Warn("tier read failed",
					zap.String("tier", tier.Name()),
					zap.String("key", key),
					zap.Error(err),
				)
			}
			lastErr = err
			continue
		}

		if i > 0 {
			t.warm(ctx, key, value, i)
		}
		return value, nil
	}

	if lastErr != nil && !IsNotFound(lastErr) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, lastErr)
	}
	return nil, ErrNotFound
}

// warm copies a value found in tier hit into every faster tier.
func (t *Tiered) warm(ctx context.Context, key string, value []byte, hit int) {
	for i := hit - 1; i >= 0; i-- {
		tier := t.tiers[i]
		ttl := t.strategy.TTL(i, t.ttl)
		err := t.run(ctx, i, func(ctx context.Context) error {
			return tier.Set(ctx, key, value, ttl)
		})
		if err != nil {
			t.logger.Debug("warm-up failed", zap.String("tier", tier.Name()), zap.Error(err))
		}
	}
}

// Set writes value to every tier. Every tier is attempted; the first
// error is returned.
func (t *Tiered) Set(ctx context.Context, key string, value []byte) error {
	return t.SetTTL(ctx, key, value, t.ttl)
}

// SetTTL writes value with an explicit base lifetime.
func (t *Tiered) SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var firstErr error
	for i, tier := range t.tiers {
		tierTTL := t.strategy.TTL(i, ttl)
		start := time.Now()
		err := t.run(ctx, i, func(ctx context.Context) error {
			return tier.Set(ctx, key, value, tierTTL)
		})
		t.metrics.RecordStoreSet(tier.Name(), err == nil, time.Since(start))
		if err != nil {
			t.logger.Warn("tier write failed", zap.String("tier", tier.Name()), zap.String("key", key), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Delete removes key from every tier.
func (t *Tiered) Delete(ctx context.Context, key string) error {
	var firstErr error
	for i, tier := range t.tiers {
		err := t.run(ctx, i, func(ctx context.Context) error {
			return tier.Delete(ctx, key)
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every tier.
func (t *Tiered) Close() error {
	var firstErr error
	for _, tier := range t.tiers {
		if err := tier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Len returns the number of tiers.
func (t *Tiered) Len() int {
	return len(t.tiers)
}

// String describes the tier order, e.g. "store(2 tiers): memory -> redis".
func (t *Tiered) String() string {
	names := make([]string, len(t.tiers))
	for i, tier := range t.tiers {
		names[i] = tier.Name()
	}
	return fmt.Sprintf("store(%d tiers): %s", len(t.tiers), strings.Join(names, " -> "))
}
