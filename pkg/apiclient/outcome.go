package apiclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// FallbackPolicy is the single rule for what a failed call returns.
type FallbackPolicy string

const (
	// FallbackSample substitutes sample data and flags the result.
	FallbackSample FallbackPolicy = "sample"
	// FallbackFail surfaces every failure to the caller.
	FallbackFail FallbackPolicy = "fail"
)

// Source says where an Outcome's value came from.
type Source string

const (
	SourceServer Source = "server"
	SourceSample Source = "sample"
)

// Outcome is the result of a call that may have been answered with
// sample data. Degraded is true whenever Source is not the server, and
// Cause holds the failure that triggered the substitution.
type Outcome[T any] struct {
	Value    T
	Source   Source
	Degraded bool
	Cause    error
}

// CauseMessage returns Cause as text, or "".
func (o Outcome[T]) CauseMessage() string {
	if o.Cause == nil {
		return ""
	}
	return o.Cause.Error()
}

// Served wraps a server value.
func Served[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v, Source: SourceServer}
}

// Resolve runs call once. On success the server value is returned. On
// failure the policy decides: authentication failures, rejections by
// the API and a canceled caller are always returned as errors; with
// FallbackSample an unreachable API is answered by fallback and the
// outcome is flagged Degraded with the cause attached.
func Resolve[T any](
	ctx context.Context,
	c *Client,
	endpoint string,
	call func(ctx context.Context) (T, error),
	fallback func(ctx context.Context) (T, error),
) (Outcome[T], error) {
	v, err := call(ctx)
	if err == nil {
		return Served(v), nil
	}

	var zero Outcome[T]
	if fallback == nil || c.policy != FallbackSample || !Unreachable(err) || ctx.Err() == context.Canceled {
		return zero, err
	}

	sample, ferr := fallback(ctx)
	if ferr != nil {
		return zero, fmt.Errorf("%w (fallback: %w)", err, ferr)
	}

	reason := Classify(err)
	c.metrics.RecordFallback(endpoint, reason)
	c.logger.Warn("serving sample data",
		zap.String("endpoint", endpoint),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return Outcome[T]{Value: sample, Source: SourceSample, Degraded: true, Cause: err}, nil
}

// GetJSON fetches path into a fresh T.
func GetJSON[T any](ctx context.Context, c *Client, path string) (T, error) {
	var out T
	err := c.Get(ctx, path, &out)
	return out, err
}

// PostJSON posts body to path and decodes the response into a fresh T.
func PostJSON[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	var out T
	err := c.Post(ctx, path, body, &out)
	return out, err
}

// PutJSON puts body to path and decodes the response into a fresh T.
func PutJSON[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	var out T
	err := c.Put(ctx, path, body, &out)
	return out, err
}
