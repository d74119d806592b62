// Package apiclient talks to the banking API. Every call is one attempt
// through a resilience guard, and every result says whether it came
// from the server or from sample data.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"bankflow/pkg/logging"
	"bankflow/pkg/metrics"
	"bankflow/pkg/resilience"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const maxResponseSize = 10 << 20

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. http://localhost:5000/api.
	BaseURL string

	// Tokens supplies bearer tokens. Defaults to ContextToken.
	Tokens TokenSource

	// HTTPClient defaults to a client without its own timeout; the guard
	// owns the deadline.
	HTTPClient *http.Client

	// Resilience configures the guard. Its failure predicate is replaced
	// so client errors never open the circuit.
	Resilience resilience.Config

	// Fallback decides what happens when a call with a sample fallback
	// fails. Defaults to FallbackSample.
	Fallback FallbackPolicy

	Metrics metrics.Collector
	Logger  *logging.Logger

	// Now defaults to time.Now; used for token expiry.
	Now func() time.Time
}

// Client is a JSON client for the banking API.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	guard   *resilience.Guard
	policy  FallbackPolicy
	group   singleflight.Group
	metrics metrics.Collector
	logger  *logging.Logger
	now     func() time.Time
}

// New creates a client.
func New(config Config) *Client {
	c := &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		tokens:  config.Tokens,
		http:    config.HTTPClient,
		policy:  config.Fallback,
		metrics: metrics.OrNoOp(config.Metrics),
		logger:  config.Logger,
		now:     config.Now,
	}
	if c.tokens == nil {
		c.tokens = ContextToken{}
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.policy == "" {
		c.policy = FallbackSample
	}
	if c.logger == nil {
		c.logger = logging.L()
	}
	c.logger = c.logger.Named("apiclient")
	if c.now == nil {
		c.now = time.Now
	}

	rc := config.Resilience
	if rc.Timeout == 0 && rc.Breaker.Timeout == 0 {
		rc = resilience.DefaultConfig()
	}
	c.guard = resilience.NewGuardWithMetrics("api", rc.WithFailurePredicate(isFailure), c.metrics)

	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Policy returns the configured fallback policy.
func (c *Client) Policy() FallbackPolicy {
	return c.policy
}

// envelope is the API's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// Get fetches path and decodes the envelope data into out. Identical
// concurrent GETs for the same token share one upstream request. The
// shared request is bounded by the guard timeout only; a caller that
// gives up returns its own context error and leaves it running for the
// others.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		c.metrics.RecordAPICall(endpointLabel(http.MethodGet, path), Classify(err), 0)
		return err
	}

	key := token + " " + path
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.do(shared, http.MethodGet, path, token, nil)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		if res.Shared {
			c.logger.Debug("shared in-flight request", zap.String("path", path))
		}
		return decodeData(res.Val.(json.RawMessage), path, out)
	}
}

// Post sends body as JSON and decodes the envelope data into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.send(ctx, http.MethodPost, path, body, out)
}

// Put sends body as JSON and decodes the envelope data into out.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.send(ctx, http.MethodPut, path, body, out)
}

func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		c.metrics.RecordAPICall(endpointLabel(method, path), Classify(err), 0)
		return err
	}
	data, err := c.do(ctx, method, path, token, body)
	if err != nil {
		return err
	}
	return decodeData(data, path, out)
}

// token returns the bearer token or ErrUnauthorized without touching
// the network when it is missing or expired.
func (c *Client) token(ctx context.Context) (string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if token == "" {
		return "", fmt.Errorf("%w: no token", ErrUnauthorized)
	}
	if Expired(token, c.now()) {
		return "", fmt.Errorf("%w: token expired", ErrUnauthorized)
	}
	return token, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body any) (json.RawMessage, error) {
	endpoint := endpointLabel(method, path)
	start := time.Now()

	var data json.RawMessage
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		data, err = c.roundTrip(ctx, method, path, token, body)
		return err
	})

	duration := time.Since(start)
	outcome := Classify(err)
	c.metrics.RecordAPICall(endpoint, outcome, duration)

	if err != nil {
		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.String("outcome", outcome),
			zap.Duration("duration", duration),
			zap.Error(err),
		}
		if IsUnauthorized(err) {
			c.logger.Info("api call unauthorized", fields...)
		} else {
			c.logger.Warn("api call failed", fields...)
		}
		return nil, err
	}

	c.logger.Debug("api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Duration("duration", duration),
	)
	return data, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path, token string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("apiclient: encode %s: %w", path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("apiclient: read %s: %w", path, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Endpoint: method + " " + path}
		if decodeErr == nil {
			apiErr.Message = firstNonEmpty(env.Error, env.Message)
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, decodeErr)
	}
	if !env.Success {
		return nil, &APIError{
			Status:   resp.StatusCode,
			Message:  firstNonEmpty(env.Error, env.Message, "request was not successful"),
			Endpoint: method + " " + path,
		}
	}
	return env.Data, nil
}

func decodeData(data json.RawMessage, path string, out any) error {
	if out == nil || len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// endpointLabel collapses identifiers in path so metric labels stay
// bounded: "/accounts/42/deposit" becomes "POST /accounts/{id}/deposit".
func endpointLabel(method, path string) string {
	path, _, _ = strings.Cut(path, "?")
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if strings.IndexFunc(s, unicode.IsDigit) >= 0 {
			segments[i] = "{id}"
		}
	}
	return method + " " + strings.Join(segments, "/")
}

// Unreachable reports whether err means the API could not serve the
// request at all, as opposed to rejecting it. A missing endpoint counts
// as unreachable.
func Unreachable(err error) bool {
	if err == nil || IsUnauthorized(err) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary() || apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusNotImplemented
	}
	return !errors.Is(err, context.Canceled)
}
